package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Get* calls when no record exists for the key.
var ErrNotFound = errors.New("record not found")

// ErrAttemptExists is returned by CreateAttempt when a login attempt is
// already active for the user.
var ErrAttemptExists = errors.New("login attempt already exists")

// SessionStore owns UserSession records. Each update is an atomic replace
// keyed by user id; the store is the single writer of session records.
type SessionStore interface {
	GetSession(ctx context.Context, userID int64) (*UserSession, error)
	PutSession(ctx context.Context, session *UserSession) error
	DeleteSession(ctx context.Context, userID int64) error
}

// AttemptStore owns transient LoginAttempt records. Records expire on their
// own after the TTL given at creation; CreateAttempt enforces at most one
// active attempt per user.
type AttemptStore interface {
	CreateAttempt(ctx context.Context, attempt *LoginAttempt, ttl time.Duration) error
	GetAttempt(ctx context.Context, userID int64) (*LoginAttempt, error)
	UpdateAttempt(ctx context.Context, attempt *LoginAttempt) error
	DeleteAttempt(ctx context.Context, userID int64) error
}

// UserStore is the requester registry.
type UserStore interface {
	UpsertUser(ctx context.Context, user *User) error
}

// ForwardLogStore is the append-only feed behind the dashboard.
type ForwardLogStore interface {
	AppendForwardLog(ctx context.Context, entry *ForwardLog) error
	ListForwardLogs(ctx context.Context, limit int) ([]*ForwardLog, error)
}
