package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/warren/internal/auth"
	"github.com/ashita-ai/warren/internal/bus"
	"github.com/ashita-ai/warren/internal/model"
	"github.com/ashita-ai/warren/internal/ratelimit"
	"github.com/ashita-ai/warren/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeAgentStore struct {
	newts   map[string]model.Newt
	olms    map[string]model.Olm
	pingErr error
}

func (f *fakeAgentStore) GetNewt(_ context.Context, id string) (model.Newt, error) {
	n, ok := f.newts[id]
	if !ok {
		return model.Newt{}, storage.ErrNotFound
	}
	return n, nil
}

func (f *fakeAgentStore) GetOlm(_ context.Context, id string) (model.Olm, error) {
	o, ok := f.olms[id]
	if !ok {
		return model.Olm{}, storage.ErrNotFound
	}
	return o, nil
}

func (f *fakeAgentStore) Ping(context.Context) error { return f.pingErr }

type fakeValidator struct {
	results map[string]auth.ValidationResult
	err     error
}

func (f *fakeValidator) Validate(_ context.Context, token string) (auth.ValidationResult, error) {
	if f.err != nil {
		return auth.ValidationResult{}, f.err
	}
	return f.results[token], nil
}

func newTestServer(store *fakeAgentStore, validator *fakeValidator) *Server {
	return New(Config{
		Store:     store,
		Validator: validator,
		Bus:       bus.New(4, testLogger()),
		Limiter:   ratelimit.NoopLimiter{},
		Logger:    testLogger(),
		Port:      0,
		Version:   "test",
	})
}

func doValidate(t *testing.T, srv *Server, mutate func(*http.Request)) (*httptest.ResponseRecorder, auth.ValidationResult) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/session/validate", nil)
	if mutate != nil {
		mutate(req)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var result auth.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return rec, result
}

func TestValidateSessionNoToken(t *testing.T) {
	srv := newTestServer(&fakeAgentStore{}, &fakeValidator{})

	rec, result := doValidate(t, srv, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, result.Valid)
}

func TestValidateSessionCookieToken(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	validator := &fakeValidator{results: map[string]auth.ValidationResult{
		"tok-1": {Valid: true, UserID: "user-1", Email: "a@example.com", ExpiresAt: expires},
	}}
	srv := newTestServer(&fakeAgentStore{}, validator)

	rec, result := doValidate(t, srv, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "p_session", Value: "tok-1"})
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, result.Valid)
	assert.Equal(t, "user-1", result.UserID)
	assert.Equal(t, expires, result.ExpiresAt.UTC())
}

func TestValidateSessionBearerFallback(t *testing.T) {
	validator := &fakeValidator{results: map[string]auth.ValidationResult{
		"tok-2": {Valid: true, UserID: "user-2"},
	}}
	srv := newTestServer(&fakeAgentStore{}, validator)

	rec, result := doValidate(t, srv, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer tok-2")
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, result.Valid)
	assert.Equal(t, "user-2", result.UserID)
}

func TestValidateSessionCookieWinsOverBearer(t *testing.T) {
	validator := &fakeValidator{results: map[string]auth.ValidationResult{
		"cookie-tok": {Valid: true, UserID: "cookie-user"},
		"bearer-tok": {Valid: true, UserID: "bearer-user"},
	}}
	srv := newTestServer(&fakeAgentStore{}, validator)

	_, result := doValidate(t, srv, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "p_session", Value: "cookie-tok"})
		r.Header.Set("Authorization", "Bearer bearer-tok")
	})
	assert.Equal(t, "cookie-user", result.UserID)
}

func TestValidateSessionInternalError(t *testing.T) {
	srv := newTestServer(&fakeAgentStore{}, &fakeValidator{err: errors.New("db down")})

	rec, result := doValidate(t, srv, func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: "p_session", Value: "tok-1"})
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, result.Valid)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeAgentStore{}, &fakeValidator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestHealthzDegraded(t *testing.T) {
	srv := newTestServer(&fakeAgentStore{pingErr: errors.New("down")}, &fakeValidator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWSEndpointRejectsMissingCredentials(t *testing.T) {
	srv := newTestServer(&fakeAgentStore{}, &fakeValidator{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws/newt", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWSEndpointRejectsUnknownAgent(t *testing.T) {
	srv := newTestServer(&fakeAgentStore{}, &fakeValidator{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ws/olm", nil)
	req.Header.Set("X-Agent-ID", "ghost")
	req.Header.Set("X-Agent-Secret", "whatever")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestIDHeaderSet(t *testing.T) {
	srv := newTestServer(&fakeAgentStore{}, &fakeValidator{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
