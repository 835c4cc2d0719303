package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisSessionPrefix = "portfolio:session:"
	redisUserPrefix    = "portfolio:session-user:"
)

// RedisSessionStore keeps each session under its own key with a TTL that
// ends at ExpiresAt, plus a per-user key naming the current session.
type RedisSessionStore struct {
	client  redis.UniversalClient
	nowFunc func() time.Time
}

func NewRedisSessionStore(client redis.UniversalClient) *RedisSessionStore {
	return &RedisSessionStore{client: client, nowFunc: time.Now}
}

func (s *RedisSessionStore) Put(ctx context.Context, session Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ttl := session.ExpiresAt.Sub(s.nowFunc())
	if ttl <= 0 {
		ttl = time.Second
	}
	userKey := redisUserPrefix + strconv.FormatInt(session.UserID, 10)

	prev, err := s.client.Get(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("load current session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != session.ID {
			pipe.Del(ctx, redisSessionPrefix+prev)
		}
		pipe.Set(ctx, redisSessionPrefix+session.ID, payload, ttl)
		pipe.Set(ctx, userKey, session.ID, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (Session, error) {
	b, err := s.client.Get(ctx, redisSessionPrefix+sessionID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Session{}, ErrSessionNotFound
		}
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	return sess, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	}
	userKey := redisUserPrefix + strconv.FormatInt(sess.UserID, 10)
	current, err := s.client.Get(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("load current session: %w", err)
	}

	keys := []string{redisSessionPrefix + sessionID}
	if current == sessionID {
		keys = append(keys, userKey)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
