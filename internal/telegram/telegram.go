// Package telegram is the boundary to the messaging transport. The rest of
// the system consumes the capability interfaces declared here; the gotd-backed
// implementations live alongside them.
package telegram

import (
	"context"
	"io"

	"github.com/gotd/td/tg"
	"github.com/pkg/errors"
)

// Sentinel errors the adapters map MTProto RPC failures onto. Components
// match these with errors.Is and never inspect raw RPC codes.
var (
	ErrCodeInvalid     = errors.New("login code invalid")
	ErrCodeExpired     = errors.New("login code expired")
	ErrPasswordNeeded  = errors.New("two-step verification password needed")
	ErrPasswordInvalid = errors.New("two-step verification password invalid")
	ErrRateLimited     = errors.New("rate limited by telegram")
	ErrAccessDenied    = errors.New("no access to source message")
	ErrNoMedia         = errors.New("message carries no media")
	ErrNotAuthorized   = errors.New("stored session no longer authorized")
)

// Connector opens a fresh, unauthenticated MTProto connection for one login
// flow. Exactly one LoginClient exists per in-progress attempt.
type Connector interface {
	Connect(ctx context.Context, apiID int, apiHash string) (LoginClient, error)
}

// LoginClient drives the credential steps of a single login attempt against
// the transport. Close must always be called, whether the flow succeeds or
// not.
type LoginClient interface {
	SendCode(ctx context.Context, phone string) (codeHash string, err error)
	SignIn(ctx context.Context, phone, code, codeHash string) error
	CheckPassword(ctx context.Context, password string) error
	ExportSession(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer materializes an authenticated relay client from a stored session
// credential.
type Dialer interface {
	Dial(ctx context.Context, apiID int, apiHash string, session []byte) (RelayClient, error)
}

// Media describes one fetched piece of content. The location fields are
// populated by the transport implementation and opaque to callers.
type Media struct {
	Name       string
	Size       int64
	MIME       string
	SourceName string
	IsPhoto    bool

	loc tg.InputFileLocationClass
}

// RelayClient is a live relay-identity connection with read access to the
// restricted source.
type RelayClient interface {
	FetchMessage(ctx context.Context, ref Reference) (*Media, error)
	StreamMedia(ctx context.Context, media *Media, w io.Writer) error
	Close() error
}
