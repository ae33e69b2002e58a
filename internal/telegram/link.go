package telegram

import (
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// ErrInvalidReference is returned when a link does not match any recognized
// message-permalink form.
var ErrInvalidReference = errors.New("invalid content reference")

// Reference is a parsed pointer to exactly one source message. For private
// channels ChannelID is the internal id (the digits after /c/, without the
// -100 prefix); for public chats Username is set instead.
type Reference struct {
	ChannelID int64
	Username  string
	MsgID     int
}

// Private reports whether the reference points into a private channel.
func (r Reference) Private() bool {
	return r.Username == ""
}

var (
	// https://t.me/c/1234567890/123
	privateLinkPattern = regexp.MustCompile(`^(?:https?://)?t\.me/c/(\d+)/(\d+)(?:\?\S*)?$`)
	// https://t.me/somechannel/123
	publicLinkPattern = regexp.MustCompile(`^(?:https?://)?t\.me/([A-Za-z][A-Za-z0-9_]{3,31})/(\d+)(?:\?\S*)?$`)
)

// ParseReference parses a message permalink. It is a pure function: it either
// returns a fully populated Reference or ErrInvalidReference, never a partial
// result.
func ParseReference(link string) (Reference, error) {
	if m := privateLinkPattern.FindStringSubmatch(link); m != nil {
		channelID, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil || channelID <= 0 {
			return Reference{}, ErrInvalidReference
		}
		msgID, err := strconv.Atoi(m[2])
		if err != nil || msgID <= 0 {
			return Reference{}, ErrInvalidReference
		}
		return Reference{ChannelID: channelID, MsgID: msgID}, nil
	}

	if m := publicLinkPattern.FindStringSubmatch(link); m != nil {
		msgID, err := strconv.Atoi(m[2])
		if err != nil || msgID <= 0 {
			return Reference{}, ErrInvalidReference
		}
		return Reference{Username: m[1], MsgID: msgID}, nil
	}

	return Reference{}, ErrInvalidReference
}

// MatchesLink reports whether text looks like a message permalink at all,
// used by the front-end classifier before attempting a full parse.
func MatchesLink(text string) bool {
	return privateLinkPattern.MatchString(text) || publicLinkPattern.MatchString(text)
}
