package webhook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sigTestSecret = "whsec_test_4f9a"

var testBody = []byte(`{"type":"payment.updated","data":{"object":{"payment":{"id":"pay_1","status":"COMPLETED"}}}}`)

func TestVerifier_Valid(t *testing.T) {
	v := NewVerifier(sigTestSecret, "")

	ok, err := v.Verify(testBody, Sign(sigTestSecret, "", testBody))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifier_NotificationURLIsSigned(t *testing.T) {
	const url = "https://shop.example.com/webhooks/payments"
	v := NewVerifier(sigTestSecret, url)

	ok, err := v.Verify(testBody, Sign(sigTestSecret, url, testBody))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = v.Verify(testBody, Sign(sigTestSecret, "", testBody))
	require.NoError(t, err)
	assert.False(t, ok, "signature without the URL prefix must not verify")
}

func TestVerifier_SingleByteFlip(t *testing.T) {
	v := NewVerifier(sigTestSecret, "")
	sig := Sign(sigTestSecret, "", testBody)

	for i := range testBody {
		tampered := append([]byte(nil), testBody...)
		tampered[i] ^= 0x01

		ok, err := v.Verify(tampered, sig)
		require.NoError(t, err)
		assert.False(t, ok, "flipping byte %d must fail verification", i)
	}
}

func TestVerifier_WrongSecret(t *testing.T) {
	v := NewVerifier(sigTestSecret, "")

	ok, err := v.Verify(testBody, Sign("another-secret", "", testBody))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifier_GarbageSignature(t *testing.T) {
	v := NewVerifier(sigTestSecret, "")

	ok, err := v.Verify(testBody, "not base64 at all!")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifier_MissingSignatureSkipsCompare(t *testing.T) {
	v := NewVerifier(sigTestSecret, "")
	compared := false
	v.compare = func(x, y []byte) int {
		compared = true
		return 0
	}

	ok, err := v.Verify(testBody, "")
	require.ErrorIs(t, err, ErrMissingSignature)
	assert.False(t, ok)
	assert.False(t, compared, "no comparison should run without a signature")
}

func TestVerifier_MissingSecret(t *testing.T) {
	v := NewVerifier("", "")

	ok, err := v.Verify(testBody, Sign(sigTestSecret, "", testBody))
	require.ErrorIs(t, err, ErrMissingSecret)
	assert.False(t, ok)
}
