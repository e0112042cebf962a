package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/warren/internal/model"
)

// GetSessionByToken returns the unexpired session with the given token.
// Expired or unknown tokens return ErrNotFound.
func (s *Store) GetSessionByToken(ctx context.Context, token string) (model.Session, error) {
	var sess model.Session
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, session_token, user_id, expires_at
		 FROM sessions
		 WHERE session_token = $1 AND expires_at > now()`,
		token,
	).Scan(&sess.SessionID, &sess.SessionToken, &sess.UserID, &sess.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Session{}, ErrNotFound
	}
	if err != nil {
		return model.Session{}, fmt.Errorf("storage: get session by token: %w", err)
	}
	return sess, nil
}

// GetUser returns one user by ID.
func (s *Store) GetUser(ctx context.Context, userID string) (model.User, error) {
	var u model.User
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, email FROM users WHERE user_id = $1`, userID,
	).Scan(&u.UserID, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	if err != nil {
		return model.User{}, fmt.Errorf("storage: get user %s: %w", userID, err)
	}
	return u, nil
}

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, email) VALUES ($1, $2)`, u.UserID, u.Email)
	if err != nil {
		return fmt.Errorf("storage: create user: %w", err)
	}
	return nil
}

// CreateSession inserts a session. The auth flow that mints sessions is
// external; this exists for provisioning and tests.
func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, session_token, user_id, expires_at)
		 VALUES ($1, $2, $3, $4)`,
		sess.SessionID, sess.SessionToken, sess.UserID, sess.ExpiresAt)
	if err != nil {
		return fmt.Errorf("storage: create session: %w", err)
	}
	return nil
}
