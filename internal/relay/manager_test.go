package relay

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/korosenseiac/Teloks/internal/storage"
	"github.com/korosenseiac/Teloks/internal/telegram"
)

type fakeRelayClient struct {
	media         *telegram.Media
	fetchErr      error
	fetchFailures int32
	payload       []byte

	fetchCalls  int32
	streamCalls int32
	closed      int32
}

func (f *fakeRelayClient) FetchMessage(_ context.Context, _ telegram.Reference) (*telegram.Media, error) {
	call := atomic.AddInt32(&f.fetchCalls, 1)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if call <= f.fetchFailures {
		return nil, errors.New("transient transport error")
	}
	return f.media, nil
}

func (f *fakeRelayClient) StreamMedia(_ context.Context, _ *telegram.Media, w io.Writer) error {
	atomic.AddInt32(&f.streamCalls, 1)
	// Write in small slices so the chunked pipe is actually exercised.
	payload := f.payload
	for len(payload) > 0 {
		n := 7
		if n > len(payload) {
			n = len(payload)
		}
		if _, err := w.Write(payload[:n]); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

func (f *fakeRelayClient) Close() error {
	atomic.AddInt32(&f.closed, 1)
	return nil
}

type fakeDialer struct {
	client  *fakeRelayClient
	dialErr error
	delay   time.Duration

	dials int32
}

func (f *fakeDialer) Dial(_ context.Context, _ int, _ string, _ []byte) (telegram.RelayClient, error) {
	atomic.AddInt32(&f.dials, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	return f.client, nil
}

func authenticatedSession(t *testing.T, store storage.SessionStore, userID int64) {
	t.Helper()
	err := store.PutSession(context.Background(), &storage.UserSession{
		UserID:  userID,
		Session: []byte("blob"),
		APIID:   123456,
		APIHash: "hash",
		Status:  storage.SessionStatusAuthenticated,
	})
	require.NoError(t, err)
}

func TestManager_AcquireNotAuthenticated(t *testing.T) {
	store := storage.NewMemoryStore()
	m := NewManager(store, &fakeDialer{client: &fakeRelayClient{}}, time2.DefaultClock, time.Minute)

	_, err := m.Acquire(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestManager_AcquireReusesConnection(t *testing.T) {
	store := storage.NewMemoryStore()
	dialer := &fakeDialer{client: &fakeRelayClient{}}
	m := NewManager(store, dialer, time2.DefaultClock, time.Minute)
	authenticatedSession(t, store, 42)

	first, err := m.Acquire(context.Background(), 42)
	require.NoError(t, err)
	second, err := m.Acquire(context.Background(), 42)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dialer.dials))
	assert.Equal(t, 1, m.ConnCount())
}

func TestManager_AcquireSerializedPerUser(t *testing.T) {
	store := storage.NewMemoryStore()
	dialer := &fakeDialer{client: &fakeRelayClient{}, delay: 20 * time.Millisecond}
	m := NewManager(store, dialer, time2.DefaultClock, time.Minute)
	authenticatedSession(t, store, 42)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Acquire(context.Background(), 42)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// At most one live connection per user, no duplicate establishment.
	assert.Equal(t, int32(1), atomic.LoadInt32(&dialer.dials))
	assert.Equal(t, 1, m.ConnCount())
}

func TestManager_SharedEstablishmentCountsEveryLease(t *testing.T) {
	store := storage.NewMemoryStore()
	client := &fakeRelayClient{}
	dialer := &fakeDialer{client: client, delay: 20 * time.Millisecond}
	clock := time2.NewMockClock(time.Now())
	m := NewManager(store, dialer, clock, time.Minute)
	authenticatedSession(t, store, 42)

	const acquirers = 6
	var wg sync.WaitGroup
	for i := 0; i < acquirers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Acquire(context.Background(), 42)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), atomic.LoadInt32(&dialer.dials))

	// With one lease still outstanding the reaper must not touch the
	// connection, however many acquirers shared the establishment.
	for i := 0; i < acquirers-1; i++ {
		m.Release(42)
	}
	clock.Advance(2 * time.Minute)
	m.ReapIdle()
	assert.Equal(t, 1, m.ConnCount())
	assert.Equal(t, int32(0), atomic.LoadInt32(&client.closed))

	m.Release(42)
	clock.Advance(2 * time.Minute)
	m.ReapIdle()
	assert.Equal(t, 0, m.ConnCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.closed))
}

func TestManager_SessionInvalidatedResetsRecord(t *testing.T) {
	store := storage.NewMemoryStore()
	dialer := &fakeDialer{dialErr: telegram.ErrNotAuthorized}
	m := NewManager(store, dialer, time2.DefaultClock, time.Minute)
	authenticatedSession(t, store, 42)

	_, err := m.Acquire(context.Background(), 42)
	assert.ErrorIs(t, err, ErrSessionInvalidated)

	session, err := store.GetSession(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, storage.SessionStatusUnauthenticated, session.Status)
	assert.Empty(t, session.Session)
}

func TestManager_DialFailurePassesThrough(t *testing.T) {
	store := storage.NewMemoryStore()
	dialer := &fakeDialer{dialErr: errors.New("connection refused")}
	m := NewManager(store, dialer, time2.DefaultClock, time.Minute)
	authenticatedSession(t, store, 42)

	_, err := m.Acquire(context.Background(), 42)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSessionInvalidated)

	// The credential survives a transient dial failure.
	session, getErr := store.GetSession(context.Background(), 42)
	require.NoError(t, getErr)
	assert.True(t, session.Authenticated())
}

func TestManager_IdleTeardown(t *testing.T) {
	store := storage.NewMemoryStore()
	client := &fakeRelayClient{}
	clock := time2.NewMockClock(time.Now())
	m := NewManager(store, &fakeDialer{client: client}, clock, time.Minute)
	authenticatedSession(t, store, 42)

	_, err := m.Acquire(context.Background(), 42)
	require.NoError(t, err)

	// Still leased: the reaper must not touch it.
	clock.Advance(2 * time.Minute)
	m.ReapIdle()
	assert.Equal(t, 1, m.ConnCount())

	m.Release(42)
	clock.Advance(2 * time.Minute)
	m.ReapIdle()
	assert.Equal(t, 0, m.ConnCount())
	assert.Equal(t, int32(1), atomic.LoadInt32(&client.closed))
}

func TestManager_ReleaseUnknownUserIsNoop(t *testing.T) {
	store := storage.NewMemoryStore()
	m := NewManager(store, &fakeDialer{client: &fakeRelayClient{}}, time2.DefaultClock, time.Minute)
	m.Release(999)
}
