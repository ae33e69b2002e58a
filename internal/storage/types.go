package storage

import "time"

// SessionStatus tracks where a user's relay-identity session is in its
// lifecycle. The serialized credential is populated iff the status is
// SessionStatusAuthenticated.
type SessionStatus string

const (
	SessionStatusUnauthenticated SessionStatus = "unauthenticated"
	SessionStatusAwaitingCreds   SessionStatus = "awaiting_credentials"
	SessionStatusAwaitingPhone   SessionStatus = "awaiting_phone"
	SessionStatusAwaitingCode    SessionStatus = "awaiting_code"
	SessionStatusAwaiting2FA     SessionStatus = "awaiting_2fa"
	SessionStatusAuthenticated   SessionStatus = "authenticated"
	SessionStatusFailed          SessionStatus = "failed"
)

// UserSession is one operator's relay-identity credentials. At most one per
// user id.
type UserSession struct {
	UserID     int64         `bson:"_id" json:"user_id"`
	Session    []byte        `bson:"session,omitempty" json:"-"`
	APIID      int           `bson:"api_id,omitempty" json:"-"`
	APIHash    string        `bson:"api_hash,omitempty" json:"-"`
	Status     SessionStatus `bson:"status" json:"status"`
	CreatedAt  time.Time     `bson:"created_at" json:"created_at"`
	LastUsedAt time.Time     `bson:"last_used_at" json:"last_used_at"`
}

// Authenticated reports whether the session carries a usable credential.
func (s *UserSession) Authenticated() bool {
	return s != nil && s.Status == SessionStatusAuthenticated && len(s.Session) > 0
}

// LoginStep is the current step of an in-progress login dialogue.
type LoginStep string

const (
	StepAskAPIID    LoginStep = "ask_api_id"
	StepAskAPIHash  LoginStep = "ask_api_hash"
	StepAskPhone    LoginStep = "ask_phone"
	StepAskCode     LoginStep = "ask_code"
	StepAskPassword LoginStep = "ask_password"
)

// LoginAttempt is the transient scratch state for one login dialogue. It
// exists only while the flow is in an awaiting_* status and is destroyed on
// success, cancellation or expiry.
type LoginAttempt struct {
	UserID        int64     `json:"user_id"`
	Step          LoginStep `json:"step"`
	APIID         int       `json:"api_id,omitempty"`
	APIHash       string    `json:"api_hash,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	PhoneCodeHash string    `json:"phone_code_hash,omitempty"`
	Retries       int       `json:"retries"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// User is the requester registry record, upserted on /start.
type User struct {
	UserID     int64     `bson:"_id" json:"user_id"`
	Username   string    `bson:"username" json:"username"`
	LastActive time.Time `bson:"last_active" json:"last_active"`
}

// ForwardLog records one successfully staged relay, feeding the dashboard.
type ForwardLog struct {
	JobID          string    `bson:"job_id" json:"job_id"`
	Username       string    `bson:"username" json:"username"`
	IntermediaryID int       `bson:"backup_message_id" json:"backup_message_id"`
	FileName       string    `bson:"file_name" json:"file_name"`
	FileSize       int64     `bson:"file_size" json:"file_size"`
	SourceName     string    `bson:"source_name" json:"source_name"`
	MessageLink    string    `bson:"backup_message_link" json:"backup_message_link"`
	Timestamp      time.Time `bson:"timestamp" json:"timestamp"`
}
