package slack

import (
	"strings"
	"testing"
	"time"
)

func newTestVerifier(t *testing.T, secret string, now time.Time) *Verifier {
	t.Helper()
	v, err := NewVerifier(VerifierOptions{
		SigningSecret: secret,
		Now:           func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewVerifier error: %v", err)
	}
	return v
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	t.Parallel()

	const (
		secret    = "test_secret"
		timestamp = "1234567890"
		body      = `{"type":"url_verification","challenge":"abc"}`
	)
	v := newTestVerifier(t, secret, time.Unix(1234567890, 0))

	sig := ComputeSignature(secret, timestamp, body)
	if !strings.HasPrefix(sig, "v0=") {
		t.Fatalf("signature prefix mismatch: got %q want v0=...", sig)
	}
	if !v.Verify(timestamp, body, sig) {
		t.Fatalf("Verify rejected a valid signature")
	}
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	t.Parallel()

	const (
		secret    = "test_secret"
		timestamp = "1234567890"
	)
	v := newTestVerifier(t, secret, time.Unix(1234567890, 0))

	sig := ComputeSignature(secret, timestamp, "original body")
	if v.Verify(timestamp, "tampered body", sig) {
		t.Fatalf("Verify accepted a signature for a different body")
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	const timestamp = "1234567890"
	v := newTestVerifier(t, "test_secret", time.Unix(1234567890, 0))

	sig := ComputeSignature("other_secret", timestamp, "body")
	if v.Verify(timestamp, "body", sig) {
		t.Fatalf("Verify accepted a signature minted with another secret")
	}
}

func TestVerifyRejectsOutsideReplayWindow(t *testing.T) {
	t.Parallel()

	const (
		secret    = "test_secret"
		timestamp = "1234567890"
		body      = "body"
	)
	sig := ComputeSignature(secret, timestamp, body)

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "exactly at window edge", now: time.Unix(1234567890+300, 0), want: true},
		{name: "one second past window", now: time.Unix(1234567890+301, 0), want: false},
		{name: "timestamp from the future past window", now: time.Unix(1234567890-301, 0), want: false},
		{name: "slightly stale", now: time.Unix(1234567890+120, 0), want: true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			v := newTestVerifier(t, secret, tc.now)
			if got := v.Verify(timestamp, body, sig); got != tc.want {
				t.Fatalf("Verify mismatch: got %v want %v", got, tc.want)
			}
		})
	}
}

func TestVerifyRejectsNonNumericTimestamp(t *testing.T) {
	t.Parallel()

	const secret = "test_secret"
	v := newTestVerifier(t, secret, time.Unix(1234567890, 0))

	sig := ComputeSignature(secret, "not-a-number", "body")
	if v.Verify("not-a-number", "body", sig) {
		t.Fatalf("Verify accepted a non-numeric timestamp")
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewVerifier(VerifierOptions{}); err == nil {
		t.Fatalf("NewVerifier accepted an empty signing secret")
	}
}
