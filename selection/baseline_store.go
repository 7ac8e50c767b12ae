package selection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"outreach/models"
)

var ErrNoSession = errors.New("session handle is required")

// BaselineStore keeps at most one baseline per session, last write wins
type BaselineStore interface {
	Get(ctx context.Context, session string) (*models.SelectionBaseline, error)
	Set(ctx context.Context, session string, baseline models.SelectionBaseline) error
	// Take returns the baseline and deletes it. A missing baseline is nil, nil.
	Take(ctx context.Context, session string) (*models.SelectionBaseline, error)
	Clear(ctx context.Context, session string) error
}

// RedisBaselineStore implements BaselineStore on Redis keys with a TTL
type RedisBaselineStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisBaselineStore(client *redis.Client, ttl time.Duration) *RedisBaselineStore {
	return &RedisBaselineStore{client: client, ttl: ttl, prefix: "selection:baseline:"}
}

func (r *RedisBaselineStore) key(session string) (string, error) {
	if session == "" {
		return "", ErrNoSession
	}
	return r.prefix + session, nil
}

func (r *RedisBaselineStore) Get(ctx context.Context, session string) (*models.SelectionBaseline, error) {
	key, err := r.key(session)
	if err != nil {
		return nil, err
	}
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeBaseline(raw)
}

func (r *RedisBaselineStore) Set(ctx context.Context, session string, baseline models.SelectionBaseline) error {
	key, err := r.key(session)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(baseline)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, raw, r.ttl).Err()
}

func (r *RedisBaselineStore) Take(ctx context.Context, session string) (*models.SelectionBaseline, error) {
	key, err := r.key(session)
	if err != nil {
		return nil, err
	}
	var get *redis.StringCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	raw, err := get.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeBaseline(raw)
}

func (r *RedisBaselineStore) Clear(ctx context.Context, session string) error {
	key, err := r.key(session)
	if err != nil {
		return err
	}
	return r.client.Del(ctx, key).Err()
}

func decodeBaseline(raw []byte) (*models.SelectionBaseline, error) {
	var b models.SelectionBaseline
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("corrupt selection baseline: %w", err)
	}
	return &b, nil
}

// MemoryBaselineStore is the in-process fallback when Redis is disabled
type MemoryBaselineStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryBaseline
}

type memoryBaseline struct {
	baseline  models.SelectionBaseline
	expiresAt time.Time
}

func NewMemoryBaselineStore(ttl time.Duration) *MemoryBaselineStore {
	return &MemoryBaselineStore{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryBaseline),
	}
}

func (m *MemoryBaselineStore) Get(ctx context.Context, session string) (*models.SelectionBaseline, error) {
	if session == "" {
		return nil, ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.liveLocked(session), nil
}

func (m *MemoryBaselineStore) Set(ctx context.Context, session string, baseline models.SelectionBaseline) error {
	if session == "" {
		return ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var expiresAt time.Time
	if m.ttl > 0 {
		expiresAt = m.now().Add(m.ttl)
	}
	baseline.ContactsOnPage = append([]string(nil), baseline.ContactsOnPage...)
	m.entries[session] = memoryBaseline{baseline: baseline, expiresAt: expiresAt}
	return nil
}

func (m *MemoryBaselineStore) Take(ctx context.Context, session string) (*models.SelectionBaseline, error) {
	if session == "" {
		return nil, ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.liveLocked(session)
	delete(m.entries, session)
	return b, nil
}

func (m *MemoryBaselineStore) Clear(ctx context.Context, session string) error {
	if session == "" {
		return ErrNoSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, session)
	return nil
}

func (m *MemoryBaselineStore) liveLocked(session string) *models.SelectionBaseline {
	e, ok := m.entries[session]
	if !ok {
		return nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, session)
		return nil
	}
	b := e.baseline
	b.ContactsOnPage = append([]string(nil), e.baseline.ContactsOnPage...)
	return &b
}
