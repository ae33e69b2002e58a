package telegram

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReference_PrivateLink(t *testing.T) {
	ref, err := ParseReference("https://t.me/c/1234567890/123")
	require.NoError(t, err)
	assert.Equal(t, int64(1234567890), ref.ChannelID)
	assert.Equal(t, 123, ref.MsgID)
	assert.True(t, ref.Private())
}

func TestParseReference_PublicLink(t *testing.T) {
	ref, err := ParseReference("https://t.me/somechannel/42")
	require.NoError(t, err)
	assert.Equal(t, "somechannel", ref.Username)
	assert.Equal(t, 42, ref.MsgID)
	assert.False(t, ref.Private())
}

func TestParseReference_SchemeOptional(t *testing.T) {
	ref, err := ParseReference("t.me/c/100200300/7")
	require.NoError(t, err)
	assert.Equal(t, int64(100200300), ref.ChannelID)
	assert.Equal(t, 7, ref.MsgID)
}

func TestParseReference_QuerySuffix(t *testing.T) {
	ref, err := ParseReference("https://t.me/c/1234567890/123?single")
	require.NoError(t, err)
	assert.Equal(t, 123, ref.MsgID)
}

func TestParseReference_Malformed(t *testing.T) {
	cases := []string{
		"",
		"hello",
		"https://t.me/c/",
		"https://t.me/c/abc/123",
		"https://t.me/c/123/abc",
		"https://t.me/c/123",
		"https://t.me/c/1234567890/0",
		"https://example.com/c/1234567890/123",
		"https://t.me/c/1234567890/123/extra",
		"https://t.me/ab/12", // username too short
	}

	for _, link := range cases {
		ref, err := ParseReference(link)
		assert.ErrorIs(t, err, ErrInvalidReference, "link %q", link)
		assert.Equal(t, Reference{}, ref, "no partial reference for %q", link)
	}
}

func TestMatchesLink(t *testing.T) {
	assert.True(t, MatchesLink("https://t.me/c/1234567890/123"))
	assert.True(t, MatchesLink("https://t.me/somechannel/42"))
	assert.False(t, MatchesLink("/login"))
	assert.False(t, MatchesLink("54321"))
}
