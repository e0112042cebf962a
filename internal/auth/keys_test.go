package auth

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadOrCreateGeneratesKeypair(t *testing.T) {
	dir := t.TempDir()
	keys, err := LoadOrCreate(dir, testLogger())
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(keys.PublicKeyPEM(), "-----BEGIN PUBLIC KEY-----"))

	privInfo, err := os.Stat(filepath.Join(dir, "jwt_private.pem"))
	require.NoError(t, err)
	pubInfo, err := os.Stat(filepath.Join(dir, "jwt_public.pem"))
	require.NoError(t, err)
	if runtime.GOOS != "windows" {
		assert.Equal(t, os.FileMode(0o600), privInfo.Mode().Perm())
		assert.Equal(t, os.FileMode(0o644), pubInfo.Mode().Perm())
	}
}

func TestLoadOrCreateReloadsExistingKeypair(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrCreate(dir, testLogger())
	require.NoError(t, err)

	second, err := LoadOrCreate(dir, testLogger())
	require.NoError(t, err)
	assert.Equal(t, first.PublicKeyPEM(), second.PublicKeyPEM())
}

func TestLoadOrCreateRegeneratesOnCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	first, err := LoadOrCreate(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "jwt_private.pem"), []byte("garbage"), 0o600))

	second, err := LoadOrCreate(dir, testLogger())
	require.NoError(t, err)
	assert.NotEqual(t, first.PublicKeyPEM(), second.PublicKeyPEM())
}

func TestLoadOrCreateRegeneratesOnMissingPublicKey(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadOrCreate(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(dir, "jwt_public.pem")))

	keys, err := LoadOrCreate(dir, testLogger())
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "jwt_public.pem"))
	assert.NoError(t, err)
	assert.NotEmpty(t, keys.PublicKeyPEM())
}

func TestSessionJWTRoundTrip(t *testing.T) {
	keys, err := LoadOrCreate(t.TempDir(), testLogger())
	require.NoError(t, err)

	expires := time.Now().Add(time.Hour).UTC()
	token, err := keys.SignSessionJWT("user-1", "a@example.com", expires)
	require.NoError(t, err)

	claims, err := keys.VerifySessionJWT(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "a@example.com", claims.Email)
	assert.WithinDuration(t, expires, claims.ExpiresAt.Time, time.Second)
}

func TestVerifySessionJWTRejectsExpired(t *testing.T) {
	keys, err := LoadOrCreate(t.TempDir(), testLogger())
	require.NoError(t, err)

	token, err := keys.SignSessionJWT("user-1", "a@example.com", time.Now().Add(-time.Minute))
	require.NoError(t, err)

	_, err = keys.VerifySessionJWT(token)
	assert.Error(t, err)
}

func TestVerifySessionJWTRejectsForeignKey(t *testing.T) {
	keys, err := LoadOrCreate(t.TempDir(), testLogger())
	require.NoError(t, err)
	other, err := LoadOrCreate(t.TempDir(), testLogger())
	require.NoError(t, err)

	token, err := other.SignSessionJWT("user-1", "a@example.com", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = keys.VerifySessionJWT(token)
	assert.Error(t, err)
}
