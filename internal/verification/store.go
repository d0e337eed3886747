package verification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, channel Channel, userID string, record Record, ttl time.Duration) error {
	if s.client == nil {
		return errors.New("redis_not_configured")
	}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key(channel, userID), data, ttl)
		pipe.Del(ctx, attemptsKey(channel, userID))
		return nil
	})
	return err
}

func (s *RedisStore) Load(ctx context.Context, channel Channel, userID string) (Record, bool, error) {
	if s.client == nil {
		return Record{}, false, errors.New("redis_not_configured")
	}
	value, err := s.client.Get(ctx, key(channel, userID)).Result()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var record Record
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return Record{}, false, err
	}
	return record, true, nil
}

func (s *RedisStore) Clear(ctx context.Context, channel Channel, userID string) error {
	if s.client == nil {
		return errors.New("redis_not_configured")
	}
	return s.client.Del(ctx, key(channel, userID), attemptsKey(channel, userID)).Err()
}

func (s *RedisStore) AddFailure(ctx context.Context, channel Channel, userID string, ttl time.Duration) (int, error) {
	if s.client == nil {
		return 0, errors.New("redis_not_configured")
	}
	var incr *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, attemptsKey(channel, userID))
		pipe.Expire(ctx, attemptsKey(channel, userID), ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

// MemoryStore keeps codes in process. It serves single-instance deployments
// without Redis.
type MemoryStore struct {
	mu      sync.Mutex
	clock   func() time.Time
	records map[string]memoryRecord
}

type memoryRecord struct {
	Record
	attempts  int
	expiresAt time.Time
}

func NewMemoryStore(clock func() time.Time) *MemoryStore {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{clock: clock, records: map[string]memoryRecord{}}
}

func (s *MemoryStore) Save(_ context.Context, channel Channel, userID string, record Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key(channel, userID)] = memoryRecord{Record: record, expiresAt: s.clock().Add(ttl)}
	return nil
}

func (s *MemoryStore) Load(_ context.Context, channel Channel, userID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(channel, userID)
	rec, ok := s.records[k]
	if !ok {
		return Record{}, false, nil
	}
	if !s.clock().Before(rec.expiresAt) {
		delete(s.records, k)
		return Record{}, false, nil
	}
	return rec.Record, true, nil
}

func (s *MemoryStore) AddFailure(_ context.Context, channel Channel, userID string, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(channel, userID)
	rec, ok := s.records[k]
	if !ok {
		return 0, nil
	}
	rec.attempts++
	s.records[k] = rec
	return rec.attempts, nil
}

func (s *MemoryStore) Clear(_ context.Context, channel Channel, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key(channel, userID))
	return nil
}
