package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained is returned when another holder owns the key.
var ErrNotObtained = errors.New("lock not obtained")

// Locker hands out exclusive, expiring locks by key.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error)
}

type Lock interface {
	Release(ctx context.Context) error
}

// Redis is a Locker backed by redislock so that several service
// instances share one lock space.
type Redis struct {
	client *redislock.Client
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{client: redislock.New(rdb)}
}

// Dial connects to addr and verifies the connection with a ping.
func Dial(ctx context.Context, addr string) (*Redis, *redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return NewRedis(rdb), rdb, nil
}

func (r *Redis) Obtain(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	l, err := r.client.Obtain(ctx, key, ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, ErrNotObtained
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Local is an in-process Locker used when no Redis address is configured.
type Local struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocal() *Local {
	return &Local{held: map[string]time.Time{}, now: time.Now}
}

func (l *Local) Obtain(_ context.Context, key string, ttl time.Duration) (Lock, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return nil, ErrNotObtained
	}
	expires := now.Add(ttl)
	l.held[key] = expires
	return &localLock{parent: l, key: key, expires: expires}, nil
}

type localLock struct {
	parent  *Local
	key     string
	expires time.Time
}

func (ll *localLock) Release(context.Context) error {
	ll.parent.mu.Lock()
	defer ll.parent.mu.Unlock()
	// a later holder may own the key once ours expired
	if exp, ok := ll.parent.held[ll.key]; ok && exp.Equal(ll.expires) {
		delete(ll.parent.held, ll.key)
	}
	return nil
}
