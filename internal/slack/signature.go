package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// replayWindow bounds how far a request timestamp may drift from the local
// clock before the request is treated as a replay.
const replayWindow = 5 * time.Minute

// Verifier checks the authenticity of inbound webhook requests using the
// workspace signing secret. The zero Now uses wall-clock time.
type Verifier struct {
	secret string
	logger *slog.Logger
	nowFn  func() time.Time
}

// VerifierOptions configures a Verifier.
type VerifierOptions struct {
	SigningSecret string
	Logger        *slog.Logger
	Now           func() time.Time
}

// NewVerifier builds a Verifier. The signing secret is required.
func NewVerifier(opts VerifierOptions) (*Verifier, error) {
	if opts.SigningSecret == "" {
		return nil, fmt.Errorf("signing secret is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Verifier{
		secret: opts.SigningSecret,
		logger: logger,
		nowFn:  nowFn,
	}, nil
}

// Verify reports whether signature matches the HMAC-SHA256 of
// "v0:<timestamp>:<body>" keyed by the signing secret. A missing or
// non-numeric timestamp, or one more than five minutes from the local
// clock, is rejected before any HMAC work. All failure paths return false.
func (v *Verifier) Verify(timestamp, body, signature string) bool {
	if v == nil || v.secret == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		v.logger.Warn("slack_signature_bad_timestamp", "timestamp", timestamp)
		return false
	}
	drift := v.nowFn().UTC().Sub(time.Unix(ts, 0).UTC())
	if drift < 0 {
		drift = -drift
	}
	if drift > replayWindow {
		v.logger.Warn("slack_signature_replay_window_exceeded", "timestamp", timestamp)
		return false
	}
	return hmac.Equal([]byte(ComputeSignature(v.secret, timestamp, body)), []byte(signature))
}

// ComputeSignature returns the "v0="-prefixed hex HMAC-SHA256 over
// "v0:<timestamp>:<body>" keyed by secret.
func ComputeSignature(secret, timestamp, body string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":" + body))
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}
