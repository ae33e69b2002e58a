package storage

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RedisAttemptStore keeps in-progress login attempts in Redis. The key TTL is
// the attempt's expiry deadline, so abandoned flows clean themselves up.
type RedisAttemptStore struct {
	client *redis.Client
}

// NewRedisAttemptStore creates the attempt store over an existing client.
func NewRedisAttemptStore(client *redis.Client) *RedisAttemptStore {
	return &RedisAttemptStore{client: client}
}

func attemptKey(userID int64) string {
	return "relay:login:" + strconv.FormatInt(userID, 10)
}

func (s *RedisAttemptStore) CreateAttempt(ctx context.Context, attempt *LoginAttempt, ttl time.Duration) error {
	if attempt == nil {
		return errors.New("attempt is nil")
	}

	data, err := json.Marshal(attempt)
	if err != nil {
		return errors.Wrap(err, "failed to marshal attempt")
	}

	// SetNX enforces at most one active attempt per user.
	ok, err := s.client.SetNX(ctx, attemptKey(attempt.UserID), data, ttl).Result()
	if err != nil {
		return errors.Wrap(err, "failed to create attempt")
	}
	if !ok {
		return ErrAttemptExists
	}
	return nil
}

func (s *RedisAttemptStore) GetAttempt(ctx context.Context, userID int64) (*LoginAttempt, error) {
	data, err := s.client.Get(ctx, attemptKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "failed to get attempt")
	}

	var attempt LoginAttempt
	if err := json.Unmarshal(data, &attempt); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal attempt")
	}
	return &attempt, nil
}

func (s *RedisAttemptStore) UpdateAttempt(ctx context.Context, attempt *LoginAttempt) error {
	if attempt == nil {
		return errors.New("attempt is nil")
	}

	data, err := json.Marshal(attempt)
	if err != nil {
		return errors.Wrap(err, "failed to marshal attempt")
	}

	// KeepTTL preserves the original expiry deadline across step updates.
	if err := s.client.Set(ctx, attemptKey(attempt.UserID), data, redis.KeepTTL).Err(); err != nil {
		return errors.Wrap(err, "failed to update attempt")
	}
	return nil
}

func (s *RedisAttemptStore) DeleteAttempt(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, attemptKey(userID)).Err(); err != nil {
		return errors.Wrap(err, "failed to delete attempt")
	}
	return nil
}
