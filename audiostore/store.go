package audiostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"

	"github.com/room4-2/tarotobot/cache"
)

// ErrNotFound is returned for unknown or expired clips
var ErrNotFound = errors.New("audio not found")

const memoryCapacity = 128

// Store keeps synthesized clips for a limited time. Clips live in Redis when
// a client is given and in a bounded in-process LRU otherwise.
type Store struct {
	rdb *redis.Client
	mem *expirable.LRU[string, []byte]
	ttl time.Duration
}

// New creates a store. rdb may be nil.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	s := &Store{rdb: rdb, ttl: ttl}
	if rdb == nil {
		s.mem = expirable.NewLRU[string, []byte](memoryCapacity, nil, ttl)
	}
	return s
}

// Put saves a clip and returns its id
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	id := uuid.New().String()

	if s.rdb == nil {
		s.mem.Add(id, data)
		return id, nil
	}

	if err := s.rdb.Set(ctx, cache.AudioKeyPrefix+id, data, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store audio: %w", err)
	}
	return id, nil
}

// Get returns a saved clip
func (s *Store) Get(ctx context.Context, id string) ([]byte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}

	if s.rdb == nil {
		data, ok := s.mem.Get(id)
		if !ok {
			return nil, ErrNotFound
		}
		return data, nil
	}

	data, err := s.rdb.Get(ctx, cache.AudioKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load audio: %w", err)
	}
	return data, nil
}
