package relay

import (
	"context"
	"io"

	"github.com/korosenseiac/Teloks/internal/telegram"
)

// openMediaStream bridges the relay-identity download and the delivery-side
// upload. The pipe is synchronous, so at no point is more than one chunk of
// payload in flight; the returned reader additionally caps single reads at
// chunkBytes.
func openMediaStream(ctx context.Context, client telegram.RelayClient, media *telegram.Media, chunkBytes int) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(client.StreamMedia(ctx, media, pw))
	}()

	if chunkBytes <= 0 {
		return pr
	}
	return &boundedStream{pr: pr, chunk: chunkBytes}
}

type boundedStream struct {
	pr    *io.PipeReader
	chunk int
}

func (b *boundedStream) Read(p []byte) (int, error) {
	if len(p) > b.chunk {
		p = p[:b.chunk]
	}
	return b.pr.Read(p)
}

func (b *boundedStream) Close() error {
	return b.pr.Close()
}
