package model

import "time"

// User is a dashboard user. Created by the external auth flow; read-only
// here.
type User struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// Session is an opaque-token dashboard session. Expired rows remain until
// garbage-collected externally; lookups filter on ExpiresAt.
type Session struct {
	SessionID    string    `json:"sessionId"`
	SessionToken string    `json:"-"`
	UserID       string    `json:"userId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}
