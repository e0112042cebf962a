package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashita-ai/warren/internal/model"
	"github.com/ashita-ai/warren/internal/storage"
)

// SessionStore is the slice of the storage layer the validator needs.
type SessionStore interface {
	GetSessionByToken(ctx context.Context, token string) (model.Session, error)
	GetUser(ctx context.Context, userID string) (model.User, error)
}

// ValidationResult is the outcome of a session lookup.
// Valid=false with a nil error means "validated as unauthenticated";
// transport and store failures surface as errors instead so callers can
// distinguish the two.
type ValidationResult struct {
	Valid     bool      `json:"valid"`
	UserID    string    `json:"userId,omitempty"`
	Email     string    `json:"email,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
}

// Validator resolves session tokens to users. Opaque tokens are looked up
// in the store; tokens that parse as JWTs are verified locally against the
// controller's RSA public key, with no store round-trip.
type Validator struct {
	store  SessionStore
	keys   *Keys
	logger *slog.Logger

	// group collapses concurrent store lookups of the same opaque token.
	// The auth proxy validates on every request, so a page load fans out
	// many identical lookups at once; sharing one result is safe because
	// a session row never changes between its creation and expiry.
	group singleflight.Group
}

// NewValidator creates a session validator.
func NewValidator(store SessionStore, keys *Keys, logger *slog.Logger) *Validator {
	return &Validator{store: store, keys: keys, logger: logger}
}

// Validate resolves a session token. An empty, unknown, or expired token
// yields {Valid: false} with a nil error.
func (v *Validator) Validate(ctx context.Context, token string) (ValidationResult, error) {
	if token == "" {
		return ValidationResult{}, nil
	}

	// A token with two dots is a compact JWT; everything else is an opaque
	// session token.
	if strings.Count(token, ".") == 2 {
		claims, err := v.keys.VerifySessionJWT(token)
		if err != nil {
			v.logger.Debug("auth: session JWT rejected", "error", err)
			return ValidationResult{}, nil
		}
		return ValidationResult{
			Valid:     true,
			UserID:    claims.Subject,
			Email:     claims.Email,
			ExpiresAt: claims.ExpiresAt.Time,
		}, nil
	}

	res, err, _ := v.group.Do(token, func() (any, error) {
		return v.lookupSession(ctx, token)
	})
	if err != nil {
		return ValidationResult{}, err
	}
	return res.(ValidationResult), nil
}

func (v *Validator) lookupSession(ctx context.Context, token string) (ValidationResult, error) {
	sess, err := v.store.GetSessionByToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		return ValidationResult{}, nil
	}
	if err != nil {
		return ValidationResult{}, fmt.Errorf("auth: look up session: %w", err)
	}

	user, err := v.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		// Session row outlived its user; treat as unauthenticated.
		return ValidationResult{}, nil
	}
	if err != nil {
		return ValidationResult{}, fmt.Errorf("auth: look up session user: %w", err)
	}

	return ValidationResult{
		Valid:     true,
		UserID:    user.UserID,
		Email:     user.Email,
		ExpiresAt: sess.ExpiresAt,
	}, nil
}
