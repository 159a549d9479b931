package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPayload struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

func TestSealOpen_RoundTrip(t *testing.T) {
	in := testPayload{Token: "bearer-abc123", ExpiresAt: "2026-09-01T00:00:00Z"}

	blob, err := Seal("reseller-42", in)
	require.NoError(t, err)
	require.NotEmpty(t, blob.Ciphertext)
	require.NotEmpty(t, blob.Nonce)
	require.NotEmpty(t, blob.Salt)

	var out testPayload
	require.NoError(t, Open("reseller-42", blob, &out))
	assert.Equal(t, in, out)
}

func TestSealOpen_FreshSaltAndNoncePerCall(t *testing.T) {
	in := testPayload{Token: "same"}

	a, err := Seal("p", in)
	require.NoError(t, err)
	b, err := Seal("p", in)
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Ciphertext, b.Ciphertext)
}

func TestOpen_WrongPassphrase(t *testing.T) {
	blob, err := Seal("right", testPayload{Token: "x"})
	require.NoError(t, err)

	var out testPayload
	err = Open("wrong", blob, &out)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpen_TamperedCiphertext(t *testing.T) {
	blob, err := Seal("p", testPayload{Token: "x"})
	require.NoError(t, err)

	// Flip the first character of the ciphertext.
	c := []byte(blob.Ciphertext)
	if c[0] == 'A' {
		c[0] = 'B'
	} else {
		c[0] = 'A'
	}
	blob.Ciphertext = string(c)

	var out testPayload
	assert.ErrorIs(t, Open("p", blob, &out), ErrDecryptFailed)
}

func TestOpen_MissingFields(t *testing.T) {
	var out testPayload
	assert.ErrorIs(t, Open("p", nil, &out), ErrDecryptFailed)
	assert.ErrorIs(t, Open("p", &SealedBlob{Ciphertext: "x"}, &out), ErrDecryptFailed)
}
