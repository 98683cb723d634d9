package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"github.com/go-faster/errors"
)

// DefaultSignatureHeader is the header the gateway puts its signature in.
const DefaultSignatureHeader = "X-Square-Hmacsha256-Signature"

var (
	// ErrMissingSignature is returned when the request carries no signature.
	ErrMissingSignature = errors.New("missing webhook signature")
	// ErrMissingSecret is returned when no signing secret is configured.
	ErrMissingSecret = errors.New("webhook signing secret not configured")
)

// Verifier authenticates webhook deliveries with HMAC-SHA256 over the raw
// request body, optionally prefixed with the subscription's notification URL.
type Verifier struct {
	secret          []byte
	notificationURL string

	compare func(x, y []byte) int
}

// NewVerifier creates a Verifier for the given signing secret. When
// notificationURL is non-empty it is prepended to the body before hashing.
func NewVerifier(secret, notificationURL string) *Verifier {
	return &Verifier{
		secret:          []byte(secret),
		notificationURL: notificationURL,
		compare:         subtle.ConstantTimeCompare,
	}
}

// Verify reports whether signature matches body. A mismatch is not an error;
// errors are returned only for a missing signature or secret.
//
// body must be the bytes exactly as received. Hashing a re-encoded payload
// breaks verification.
func (v *Verifier) Verify(body []byte, signature string) (bool, error) {
	if len(v.secret) == 0 {
		return false, ErrMissingSecret
	}
	if signature == "" {
		return false, ErrMissingSignature
	}

	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false, nil
	}
	want := v.sum(body)
	return v.compare(want, got) == 1, nil
}

func (v *Verifier) sum(body []byte) []byte {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(v.notificationURL))
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign returns the base64 signature the gateway would send for body.
func Sign(secret, notificationURL string, body []byte) string {
	v := NewVerifier(secret, notificationURL)
	return base64.StdEncoding.EncodeToString(v.sum(body))
}
