// Package slacksig validates Slack request signatures.
package slacksig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// replayWindow bounds how far a request timestamp may drift from the
// verifier's clock before the request is treated as a replay.
const replayWindow = 5 * time.Minute

const signatureVersion = "v0"

var (
	// ErrMissingHeader indicates the timestamp or signature header was absent.
	ErrMissingHeader = errors.New("slacksig: missing signature header")
	// ErrStaleTimestamp indicates the request timestamp fell outside the replay window.
	ErrStaleTimestamp = errors.New("slacksig: timestamp outside replay window")
	// ErrSignatureMismatch indicates the supplied signature did not match the computed one.
	ErrSignatureMismatch = errors.New("slacksig: signature mismatch")
)

// VerifierConfig carries the shared signing secret and an optional clock.
type VerifierConfig struct {
	SigningSecret []byte
	Clock         func() time.Time
}

// Verifier checks that inbound requests were signed by the platform.
type Verifier struct {
	secret []byte
	clock  func() time.Time
}

// NewVerifier constructs a Verifier. A nil clock defaults to time.Now.
func NewVerifier(cfg VerifierConfig) *Verifier {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Verifier{secret: cfg.SigningSecret, clock: clock}
}

// Verify checks the signature headers against the raw request body. The body
// must be the exact byte sequence the platform signed; callers buffer it once
// and reuse the same bytes for parsing. A nil error means the request is
// authentic and within the replay window.
func (v *Verifier) Verify(timestamp, signature string, body []byte) error {
	if timestamp == "" || signature == "" {
		return ErrMissingHeader
	}

	requestSeconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: unparseable timestamp", ErrStaleTimestamp)
	}
	drift := v.clock().Unix() - requestSeconds
	if math.Abs(float64(drift)) > replayWindow.Seconds() {
		return ErrStaleTimestamp
	}

	if !hmac.Equal([]byte(v.compute(timestamp, body)), []byte(signature)) {
		return ErrSignatureMismatch
	}
	return nil
}

// Sign computes the signature header value for the given timestamp and body.
// Exposed so tests and outbound tooling can produce valid requests.
func (v *Verifier) Sign(timestamp string, body []byte) string {
	return v.compute(timestamp, body)
}

func (v *Verifier) compute(timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(signatureVersion))
	mac.Write([]byte(":"))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(":"))
	mac.Write(body)
	return signatureVersion + "=" + hex.EncodeToString(mac.Sum(nil))
}
