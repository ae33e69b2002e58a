package telegram

import (
	tgauth "github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"
	"github.com/pkg/errors"
)

// classifyRPC maps raw MTProto RPC failures onto the package sentinels so
// callers can branch with errors.Is. Unrecognized errors pass through
// untouched and are treated as transient by the caller's retry policy.
func classifyRPC(err error) error {
	if err == nil {
		return nil
	}

	if wait, ok := tgerr.AsFloodWait(err); ok {
		return errors.Wrapf(ErrRateLimited, "flood wait %s", wait)
	}

	switch {
	case errors.Is(err, tgauth.ErrPasswordAuthNeeded):
		return ErrPasswordNeeded
	case tgerr.Is(err, "SESSION_PASSWORD_NEEDED"):
		return ErrPasswordNeeded
	case tgerr.Is(err, "PHONE_CODE_INVALID"):
		return ErrCodeInvalid
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return ErrCodeExpired
	case tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return ErrPasswordInvalid
	case tgerr.Is(err, "CHANNEL_PRIVATE"),
		tgerr.Is(err, "CHANNEL_INVALID"),
		tgerr.Is(err, "CHAT_ID_INVALID"),
		tgerr.Is(err, "MSG_ID_INVALID"),
		tgerr.Is(err, "USERNAME_NOT_OCCUPIED"),
		tgerr.Is(err, "USERNAME_INVALID"):
		return errors.Wrap(ErrAccessDenied, err.Error())
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED"),
		tgerr.Is(err, "SESSION_REVOKED"),
		tgerr.Is(err, "USER_DEACTIVATED"):
		return errors.Wrap(ErrNotAuthorized, err.Error())
	}

	return err
}
