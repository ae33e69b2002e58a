package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of every store interface. It
// backs tests and the dev mode; production deployments use Mongo and Redis.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[int64]*UserSession
	attempts map[int64]*memoryAttempt
	users    map[int64]*User
	logs     []*ForwardLog
}

type memoryAttempt struct {
	attempt   LoginAttempt
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[int64]*UserSession),
		attempts: make(map[int64]*memoryAttempt),
		users:    make(map[int64]*User),
	}
}

func (s *MemoryStore) GetSession(_ context.Context, userID int64) (*UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[userID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemoryStore) PutSession(_ context.Context, session *UserSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.sessions[session.UserID] = &copied
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, userID)
	return nil
}

func (s *MemoryStore) CreateAttempt(_ context.Context, attempt *LoginAttempt, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.attempts[attempt.UserID]; ok && time.Now().Before(existing.expiresAt) {
		return ErrAttemptExists
	}
	s.attempts[attempt.UserID] = &memoryAttempt{
		attempt:   *attempt,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) GetAttempt(_ context.Context, userID int64) (*LoginAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.attempts[userID]
	if !ok || time.Now().After(stored.expiresAt) {
		delete(s.attempts, userID)
		return nil, ErrNotFound
	}
	copied := stored.attempt
	return &copied, nil
}

func (s *MemoryStore) UpdateAttempt(_ context.Context, attempt *LoginAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.attempts[attempt.UserID]
	if !ok {
		return ErrNotFound
	}
	stored.attempt = *attempt
	return nil
}

func (s *MemoryStore) DeleteAttempt(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, userID)
	return nil
}

func (s *MemoryStore) UpsertUser(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *user
	s.users[user.UserID] = &copied
	return nil
}

func (s *MemoryStore) AppendForwardLog(_ context.Context, entry *ForwardLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *entry
	s.logs = append(s.logs, &copied)
	return nil
}

func (s *MemoryStore) ListForwardLogs(_ context.Context, limit int) ([]*ForwardLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs := make([]*ForwardLog, len(s.logs))
	for i, entry := range s.logs {
		copied := *entry
		logs[i] = &copied
	}
	sort.Slice(logs, func(i, j int) bool {
		return logs[i].Timestamp.After(logs[j].Timestamp)
	})
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}
	return logs, nil
}
