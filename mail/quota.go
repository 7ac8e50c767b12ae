package mail

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// QuotaCounter counts messages sent on the current day
type QuotaCounter interface {
	Used(ctx context.Context) (int, error)
	Add(ctx context.Context, n int) error
}

// Quota caps daily sends at Limit
type Quota struct {
	Limit   int
	Counter QuotaCounter
}

func (q *Quota) Remaining(ctx context.Context) (int, error) {
	used, err := q.Counter.Used(ctx)
	if err != nil {
		return 0, err
	}
	if left := q.Limit - used; left > 0 {
		return left, nil
	}
	return 0, nil
}

func dayKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// RedisQuota keeps one counter key per sender and day
type RedisQuota struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisQuota(client *redis.Client, sender string) *RedisQuota {
	return &RedisQuota{client: client, prefix: "quota:sent:" + sender + ":", now: time.Now}
}

func (r *RedisQuota) key() string {
	return r.prefix + dayKey(r.now())
}

func (r *RedisQuota) Used(ctx context.Context) (int, error) {
	n, err := r.client.Get(ctx, r.key()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *RedisQuota) Add(ctx context.Context, n int) error {
	key := r.key()
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, key, int64(n))
		pipe.Expire(ctx, key, 48*time.Hour)
		return nil
	})
	return err
}

// MemoryQuota resets when the day changes
type MemoryQuota struct {
	mu   sync.Mutex
	day  string
	used int
	now  func() time.Time
}

func NewMemoryQuota() *MemoryQuota {
	return &MemoryQuota{now: time.Now}
}

func (m *MemoryQuota) rollLocked() {
	if today := dayKey(m.now()); today != m.day {
		m.day = today
		m.used = 0
	}
}

func (m *MemoryQuota) Used(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()
	return m.used, nil
}

func (m *MemoryQuota) Add(ctx context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollLocked()
	m.used += n
	return nil
}
