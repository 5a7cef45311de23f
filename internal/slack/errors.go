package slack

import "fmt"

// TransportError is a network or HTTP-layer failure: the request never
// produced a well-formed 2xx platform response.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("slack %s http %d", e.Op, e.Status)
	}
	return fmt.Sprintf("slack %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a well-formed platform response with ok:false. Code preserves
// the platform's own error string for diagnostics.
type APIError struct {
	Op   string
	Code string
}

func (e *APIError) Error() string {
	code := e.Code
	if code == "" {
		code = "unknown_error"
	}
	return fmt.Sprintf("slack %s failed: %s", e.Op, code)
}

// DecodeError is a response body that did not match the expected schema.
// It indicates schema drift between client and platform and is logged loud.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("slack %s: decode response: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
