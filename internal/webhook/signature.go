// Package webhook implements authentication and decoding for inbound
// telephony-provider event deliveries. This file provides the signature
// verifier for the provider's signed webhook header.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Signature verification errors. These are definitionally non-retryable:
// a failing signature means the endpoint is misconfigured or the delivery
// is not authentic, and replaying it would fail identically.
var (
	// ErrSigningKeyMissing is returned when no signing key is configured
	// for the receiving endpoint.
	ErrSigningKeyMissing = errors.New("webhook signing key missing")

	// ErrMalformedHeader is returned when the signature header does not
	// parse into its four semicolon-separated fields.
	ErrMalformedHeader = errors.New("malformed signature header")

	// ErrSignatureInvalid is returned when the computed signature does not
	// match the one presented in the header.
	ErrSignatureInvalid = errors.New("signature invalid")
)

// signatureFieldCount is the exact number of semicolon-separated fields in
// the provider's signature header: scheme;version;timestamp_ms;base64_sig.
const signatureFieldCount = 4

// Verifier authenticates raw webhook bodies against the provider's
// signature header using a shared signing key.
//
// The header layout is `<scheme>;<version>;<timestamp_ms>;<base64_signature>`
// and the signed bytes are `timestamp_ms || "." || body`, keyed with the
// base64-decoded signing key via HMAC-SHA256. Signing over timestamp.body
// (rather than the body alone) defeats naive replay within verification.
//
// The verifier does not enforce a timestamp tolerance window; callers that
// want replay hardening should additionally reject deliveries whose
// Timestamp falls outside an acceptable window. The correct window size is
// a product/security decision, so it is left to the caller.
type Verifier struct {
	// Key is the base64-encoded shared signing key.
	Key string
}

// Verify checks the signature header against the raw request body.
// It returns nil when the delivery is authentic, or one of
// ErrSigningKeyMissing, ErrMalformedHeader, ErrSignatureInvalid.
func (v Verifier) Verify(header string, body []byte) error {
	if strings.TrimSpace(v.Key) == "" {
		return ErrSigningKeyMissing
	}

	fields := strings.Split(header, ";")
	if len(fields) != signatureFieldCount {
		return ErrMalformedHeader
	}
	timestamp := fields[2]
	presented := fields[3]
	if timestamp == "" || presented == "" {
		return ErrMalformedHeader
	}
	if _, err := strconv.ParseInt(timestamp, 10, 64); err != nil {
		return ErrMalformedHeader
	}

	key, err := base64.StdEncoding.DecodeString(v.Key)
	if err != nil {
		return ErrSigningKeyMissing
	}
	presentedMAC, err := base64.StdEncoding.DecodeString(presented)
	if err != nil {
		return ErrSignatureInvalid
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)

	// Constant-time comparison.
	if !hmac.Equal(mac.Sum(nil), presentedMAC) {
		return ErrSignatureInvalid
	}
	return nil
}

// Sign produces a signature header for the given body, signed at ts with
// the verifier's key. It is the inverse of Verify and exists for tests and
// local tooling that need to forge authentic deliveries.
func (v Verifier) Sign(ts time.Time, body []byte) (string, error) {
	if strings.TrimSpace(v.Key) == "" {
		return "", ErrSigningKeyMissing
	}
	key, err := base64.StdEncoding.DecodeString(v.Key)
	if err != nil {
		return "", ErrSigningKeyMissing
	}
	millis := strconv.FormatInt(ts.UnixMilli(), 10)
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(millis))
	mac.Write([]byte("."))
	mac.Write(body)
	sig := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return strings.Join([]string{"hmac", "1", millis, sig}, ";"), nil
}

// Timestamp extracts the delivery timestamp (milliseconds since epoch) from
// a signature header. It returns ErrMalformedHeader when the header does not
// parse. The value is informational: Verify does not bound it.
func Timestamp(header string) (time.Time, error) {
	fields := strings.Split(header, ";")
	if len(fields) != signatureFieldCount {
		return time.Time{}, ErrMalformedHeader
	}
	millis, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return time.Time{}, ErrMalformedHeader
	}
	return time.UnixMilli(millis).UTC(), nil
}
