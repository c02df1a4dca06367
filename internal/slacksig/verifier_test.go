package slacksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func newTestVerifier(now int64) *Verifier {
	return NewVerifier(VerifierConfig{
		SigningSecret: []byte(testSecret),
		Clock:         func() time.Time { return time.Unix(now, 0) },
	})
}

func TestVerifyAcceptsCorrectSignature(t *testing.T) {
	verifier := newTestVerifier(1700000000)
	body := []byte(`{"type":"event_callback"}`)
	timestamp := "1700000000"

	signature := verifier.Sign(timestamp, body)
	if !strings.HasPrefix(signature, "v0=") {
		t.Fatalf("expected v0= prefix, got %q", signature)
	}

	if err := verifier.Verify(timestamp, signature, body); err != nil {
		t.Fatalf("expected valid signature to verify: %v", err)
	}
}

func TestVerifyRejectsMissingHeaders(t *testing.T) {
	verifier := newTestVerifier(1700000000)
	body := []byte("body")

	if err := verifier.Verify("", verifier.Sign("1700000000", body), body); !errors.Is(err, ErrMissingHeader) {
		t.Fatalf("expected missing header error, got %v", err)
	}
	if err := verifier.Verify("1700000000", "", body); !errors.Is(err, ErrMissingHeader) {
		t.Fatalf("expected missing header error, got %v", err)
	}
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	verifier := newTestVerifier(1700000000)
	body := []byte(`{"type":"event_callback"}`)

	// Signature is correct for its timestamp, but the timestamp is older
	// than the 300 second replay window.
	stale := "1699999699"
	signature := verifier.Sign(stale, body)
	if err := verifier.Verify(stale, signature, body); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected stale timestamp rejection, got %v", err)
	}

	// A future timestamp beyond the window is equally rejected.
	future := "1700000301"
	if err := verifier.Verify(future, verifier.Sign(future, body), body); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected future timestamp rejection, got %v", err)
	}

	// Exactly at the edge of the window is still acceptable.
	edge := "1699999700"
	if err := verifier.Verify(edge, verifier.Sign(edge, body), body); err != nil {
		t.Fatalf("expected edge-of-window timestamp to verify: %v", err)
	}
}

func TestVerifyRejectsUnparseableTimestamp(t *testing.T) {
	verifier := newTestVerifier(1700000000)
	body := []byte("body")
	if err := verifier.Verify("not-a-number", verifier.Sign("not-a-number", body), body); !errors.Is(err, ErrStaleTimestamp) {
		t.Fatalf("expected unparseable timestamp rejection, got %v", err)
	}
}

func TestVerifyRejectsMutations(t *testing.T) {
	verifier := newTestVerifier(1700000000)
	body := []byte(`{"type":"event_callback","event_id":"Ev123"}`)
	timestamp := "1700000000"
	signature := verifier.Sign(timestamp, body)

	mutatedBody := append([]byte(nil), body...)
	mutatedBody[0] ^= 0x01
	if err := verifier.Verify(timestamp, signature, mutatedBody); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected body mutation rejection, got %v", err)
	}

	if err := verifier.Verify("1700000001", signature, body); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected timestamp mutation rejection, got %v", err)
	}

	mutatedSig := []byte(signature)
	mutatedSig[len(mutatedSig)-1] ^= 0x01
	if err := verifier.Verify(timestamp, string(mutatedSig), body); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected signature mutation rejection, got %v", err)
	}

	if err := verifier.Verify(timestamp, signature[:len(signature)-2], body); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected truncated signature rejection, got %v", err)
	}
}

func TestVerifyRejectsSignatureFromWrongSecret(t *testing.T) {
	verifier := newTestVerifier(1700000000)
	other := NewVerifier(VerifierConfig{
		SigningSecret: []byte("some-other-secret"),
		Clock:         func() time.Time { return time.Unix(1700000000, 0) },
	})
	body := []byte("payload")
	timestamp := "1700000000"

	if err := verifier.Verify(timestamp, other.Sign(timestamp, body), body); !errors.Is(err, ErrSignatureMismatch) {
		t.Fatalf("expected wrong-secret rejection, got %v", err)
	}
}

func TestSignMatchesKnownBaseString(t *testing.T) {
	// The signed base string is "v0:" + timestamp + ":" + body; signing the
	// concatenated pieces must equal signing the assembled string.
	verifier := newTestVerifier(1700000000)
	timestamp := "1700000000"
	body := []byte("token=abc&channel_id=C1")

	assembled := fmt.Sprintf("v0:%s:%s", timestamp, body)
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write([]byte(assembled))
	want := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if got := verifier.Sign(timestamp, body); got != want {
		t.Fatalf("Sign mismatch: got %q want %q", got, want)
	}
}
