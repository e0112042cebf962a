package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerifySecret(t *testing.T) {
	hash, err := HashSecret("super-secret")
	require.NoError(t, err)
	assert.NotContains(t, hash, "super-secret")

	ok, err := VerifySecret("super-secret", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifySecret("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashSecretProducesUniqueSalts(t *testing.T) {
	h1, err := HashSecret("s")
	require.NoError(t, err)
	h2, err := HashSecret("s")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestVerifySecretRejectsMalformedHash(t *testing.T) {
	_, err := VerifySecret("s", "not-a-hash")
	assert.Error(t, err)
}
