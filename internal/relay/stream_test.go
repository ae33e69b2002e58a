package relay

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMediaStream_PreservesContent(t *testing.T) {
	payload := testPayload()
	client := &fakeRelayClient{payload: payload}

	stream := openMediaStream(context.Background(), client, testMedia(int64(len(payload))), 16)
	defer stream.Close()

	got, err := io.ReadAll(stream)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpenMediaStream_CapsReadSize(t *testing.T) {
	payload := testPayload()
	client := &fakeRelayClient{payload: payload}

	stream := openMediaStream(context.Background(), client, testMedia(int64(len(payload))), 16)
	defer stream.Close()

	buf := make([]byte, 1024)
	n, err := stream.Read(buf)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 16)
	assert.Greater(t, n, 0)
}

func TestOpenMediaStream_EarlyCloseStopsProducer(t *testing.T) {
	payload := testPayload()
	client := &fakeRelayClient{payload: payload}

	stream := openMediaStream(context.Background(), client, testMedia(int64(len(payload))), 16)

	buf := make([]byte, 16)
	_, err := stream.Read(buf)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, err = stream.Read(buf)
	assert.Error(t, err)
}
