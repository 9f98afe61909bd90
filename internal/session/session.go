// Package session keeps track of logged-in users: opaque cookie sessions in
// memory or Redis, and signed bearer tokens for clients without cookies.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSessionNotFound is returned for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// Store maps opaque session ids to user ids.
type Store interface {
	Create(ctx context.Context, userID uint) (string, error)
	Lookup(ctx context.Context, id string) (uint, error)
	Delete(ctx context.Context, id string) error
}

type memoryEntry struct {
	userID  uint
	expires time.Time
}

// MemoryStore keeps sessions in process memory. Sessions are lost on restart.
type MemoryStore struct {
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, sessions: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Create(_ context.Context, userID uint) (string, error) {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = memoryEntry{userID: userID, expires: s.now().Add(s.ttl)}
	return id, nil
}

func (s *MemoryStore) Lookup(_ context.Context, id string) (uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return 0, ErrSessionNotFound
	}
	if !s.now().Before(entry.expires) {
		delete(s.sessions, id)
		return 0, ErrSessionNotFound
	}
	return entry.userID, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

const redisKeyPrefix = "session:"

// RedisStore keeps sessions in Redis with a TTL, so they survive restarts
// and are shared between server processes.
type RedisStore struct {
	Redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{Redis: client, ttl: ttl}
}

func (s *RedisStore) Create(ctx context.Context, userID uint) (string, error) {
	id := uuid.NewString()
	if err := s.Redis.Set(ctx, redisKeyPrefix+id, userID, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to store session: %w", err)
	}
	return id, nil
}

func (s *RedisStore) Lookup(ctx context.Context, id string) (uint, error) {
	val, err := s.Redis.Get(ctx, redisKeyPrefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrSessionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read session: %w", err)
	}
	userID, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt session %s: %w", id, err)
	}
	return uint(userID), nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	return s.Redis.Del(ctx, redisKeyPrefix+id).Err()
}
