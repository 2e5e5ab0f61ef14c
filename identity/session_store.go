package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionStore records issued sessions so they can be revoked before expiry.
type SessionStore interface {
	Save(ctx context.Context, sessionID, subjectID string, ttl time.Duration) error
	Exists(ctx context.Context, sessionID string) (bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// StatelessSessionStore keeps nothing: every well-signed unexpired session is valid.
type StatelessSessionStore struct{}

func (StatelessSessionStore) Save(context.Context, string, string, time.Duration) error { return nil }
func (StatelessSessionStore) Exists(context.Context, string) (bool, error)              { return true, nil }
func (StatelessSessionStore) Delete(context.Context, string) error                      { return nil }

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type RedisSessionStore struct {
	client *redis.Client
}

// NewRedisSessionStore connects and pings before returning.
func NewRedisSessionStore(cfg RedisConfig) (*RedisSessionStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisSessionStore{client: rdb}, nil
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

func (s *RedisSessionStore) Save(ctx context.Context, sessionID, subjectID string, ttl time.Duration) error {
	return s.client.Set(ctx, sessionKey(sessionID), subjectID, ttl).Err()
}

func (s *RedisSessionStore) Exists(ctx context.Context, sessionID string) (bool, error) {
	_, err := s.client.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionKey(sessionID)).Err()
}

func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
