package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/warren/internal/model"
	"github.com/ashita-ai/warren/internal/storage"
)

type fakeSessionStore struct {
	sessions map[string]model.Session
	users    map[string]model.User
	err      error
}

func (f *fakeSessionStore) GetSessionByToken(_ context.Context, token string) (model.Session, error) {
	if f.err != nil {
		return model.Session{}, f.err
	}
	s, ok := f.sessions[token]
	if !ok {
		return model.Session{}, storage.ErrNotFound
	}
	return s, nil
}

func (f *fakeSessionStore) GetUser(_ context.Context, userID string) (model.User, error) {
	if f.err != nil {
		return model.User{}, f.err
	}
	u, ok := f.users[userID]
	if !ok {
		return model.User{}, storage.ErrNotFound
	}
	return u, nil
}

func sessionStore(expiresAt time.Time) *fakeSessionStore {
	return &fakeSessionStore{
		sessions: map[string]model.Session{
			"tok-1": {SessionID: "s1", SessionToken: "tok-1", UserID: "user-1", ExpiresAt: expiresAt},
		},
		users: map[string]model.User{"user-1": {UserID: "user-1", Email: "a@example.com"}},
	}
}

func newValidator(t *testing.T, store SessionStore) *Validator {
	t.Helper()
	keys, err := LoadOrCreate(t.TempDir(), testLogger())
	require.NoError(t, err)
	return NewValidator(store, keys, testLogger())
}

func TestValidateOpaqueToken(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC()
	v := newValidator(t, sessionStore(expires))

	result, err := v.Validate(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "user-1", result.UserID)
	assert.Equal(t, "a@example.com", result.Email)
	assert.Equal(t, expires, result.ExpiresAt)
}

func TestValidateUnknownAndEmptyTokens(t *testing.T) {
	v := newValidator(t, sessionStore(time.Now().Add(time.Hour)))

	result, err := v.Validate(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, result.Valid)

	result, err = v.Validate(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestValidateOrphanedSession(t *testing.T) {
	store := sessionStore(time.Now().Add(time.Hour))
	store.users = map[string]model.User{}
	v := newValidator(t, store)

	result, err := v.Validate(context.Background(), "tok-1")
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestValidateStoreErrorSurfaces(t *testing.T) {
	store := &fakeSessionStore{err: errors.New("db down")}
	v := newValidator(t, store)

	_, err := v.Validate(context.Background(), "tok-1")
	assert.Error(t, err)
}

func TestValidateJWTBearer(t *testing.T) {
	keys, err := LoadOrCreate(t.TempDir(), testLogger())
	require.NoError(t, err)
	v := NewValidator(&fakeSessionStore{}, keys, testLogger())

	token, err := keys.SignSessionJWT("user-9", "b@example.com", time.Now().Add(time.Hour))
	require.NoError(t, err)

	result, err := v.Validate(context.Background(), token)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, "user-9", result.UserID)
	assert.Equal(t, "b@example.com", result.Email)
}

func TestValidateRejectedJWTIsUnauthenticatedNotError(t *testing.T) {
	v := newValidator(t, &fakeSessionStore{})

	result, err := v.Validate(context.Background(), "aaa.bbb.ccc")
	require.NoError(t, err)
	assert.False(t, result.Valid)
}
