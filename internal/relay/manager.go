package relay

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/korosenseiac/Teloks/internal/storage"
	"github.com/korosenseiac/Teloks/internal/telegram"
)

// Manager owns the live relay-identity connections, one per authenticated
// user, created on demand from stored credentials and torn down after an idle
// window.
type Manager struct {
	sessions   storage.SessionStore
	dialer     telegram.Dialer
	clock      time2.Clock
	idleWindow time.Duration

	mu    sync.Mutex
	conns map[int64]*managedConn
	group singleflight.Group
}

type managedConn struct {
	client   telegram.RelayClient
	lastUsed time.Time
	inUse    int
}

// NewManager creates the connection manager.
func NewManager(sessions storage.SessionStore, dialer telegram.Dialer, clock time2.Clock, idleWindow time.Duration) *Manager {
	return &Manager{
		sessions:   sessions,
		dialer:     dialer,
		clock:      clock,
		idleWindow: idleWindow,
		conns:      make(map[int64]*managedConn),
	}
}

// Acquire returns the user's live relay connection, establishing one from the
// stored credential if needed. Establishment for a given user is serialized;
// concurrent acquirers share the single result. Every successful Acquire must
// be paired with a Release.
func (m *Manager) Acquire(ctx context.Context, userID int64) (telegram.RelayClient, error) {
	if client := m.leaseExisting(userID); client != nil {
		return client, nil
	}

	// The callback only ensures a registered connection. Every caller takes
	// its own lease afterwards, so acquirers sharing a singleflight result
	// are counted too and their Releases balance out.
	_, err, _ := m.group.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		m.mu.Lock()
		_, ok := m.conns[userID]
		m.mu.Unlock()
		if ok {
			return nil, nil
		}
		return nil, m.establish(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	if client := m.leaseExisting(userID); client != nil {
		return client, nil
	}
	return nil, errors.Errorf("relay connection for user %d was torn down during acquisition", userID)
}

// leaseExisting hands out the cached connection if there is one.
func (m *Manager) leaseExisting(userID int64) telegram.RelayClient {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[userID]
	if !ok {
		return nil
	}
	conn.inUse++
	conn.lastUsed = m.clock.Now()
	return conn.client
}

// establish dials and registers a connection for the user. The new entry
// carries no lease; callers lease it through leaseExisting.
func (m *Manager) establish(ctx context.Context, userID int64) error {
	session, err := m.sessions.GetSession(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrNotAuthenticated
		}
		return errors.Wrap(err, "failed to load session")
	}
	if !session.Authenticated() {
		return ErrNotAuthenticated
	}

	client, err := m.dialer.Dial(ctx, session.APIID, session.APIHash, session.Session)
	if err != nil {
		if errors.Is(err, telegram.ErrNotAuthorized) {
			// Credential revoked externally: reset the record so the user is
			// prompted to log in again.
			session.Status = storage.SessionStatusUnauthenticated
			session.Session = nil
			if putErr := m.sessions.PutSession(ctx, session); putErr != nil {
				log.Warn().Int64("user_id", userID).Err(putErr).Msg("failed to reset invalidated session")
			}
			return ErrSessionInvalidated
		}
		return errors.Wrap(err, "failed to establish relay connection")
	}

	session.LastUsedAt = m.clock.Now()
	if err := m.sessions.PutSession(ctx, session); err != nil {
		log.Warn().Int64("user_id", userID).Err(err).Msg("failed to touch session")
	}

	m.mu.Lock()
	m.conns[userID] = &managedConn{
		client:   client,
		lastUsed: m.clock.Now(),
	}
	m.mu.Unlock()

	log.Info().Int64("user_id", userID).Msg("relay connection established")
	return nil
}

// Release marks the user's connection eligible for idle teardown.
func (m *Manager) Release(userID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[userID]
	if !ok {
		return
	}
	if conn.inUse > 0 {
		conn.inUse--
	}
	conn.lastUsed = m.clock.Now()
}

// ReapIdle closes connections unused for longer than the idle window.
func (m *Manager) ReapIdle() {
	m.mu.Lock()
	var victims []telegram.RelayClient
	for userID, conn := range m.conns {
		if conn.inUse == 0 && m.clock.Since(conn.lastUsed) > m.idleWindow {
			victims = append(victims, conn.client)
			delete(m.conns, userID)
			log.Info().Int64("user_id", userID).Msg("relay connection torn down after idle window")
		}
	}
	m.mu.Unlock()

	for _, client := range victims {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close idle relay connection")
		}
	}
}

// Run reaps idle connections until ctx is done, then closes everything.
func (m *Manager) Run(ctx context.Context) {
	interval := m.idleWindow / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			m.ReapIdle()
		}
	}
}

// CloseAll tears down every live connection.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[int64]*managedConn)
	m.mu.Unlock()

	for userID, conn := range conns {
		if err := conn.client.Close(); err != nil {
			log.Warn().Int64("user_id", userID).Err(err).Msg("failed to close relay connection")
		}
	}
}

// ConnCount reports the number of live connections.
func (m *Manager) ConnCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
