package worker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker grants short leases so only one replica sweeps a tenant per cycle.
type Locker interface {
	// TryLock acquires key for ttl. ok is false when another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context), ok bool, err error)
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client *redis.Client
}

// NewRedisLocker builds a lease locker on the given client.
func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}
	release := func(ctx context.Context) {
		_ = releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// LocalLocker is the single-process Locker used without Redis.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

type lease struct {
	token   string
	expires time.Time
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{leases: map[string]lease{}, now: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if held, ok := l.leases[key]; ok && now.Before(held.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.leases[key] = lease{token: token, expires: now.Add(ttl)}
	release := func(context.Context) {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, ok := l.leases[key]; ok && held.token == token {
			delete(l.leases, key)
		}
	}
	return release, true, nil
}

func sweepLockKey(tenantID string) string {
	return "routing:sweep:" + tenantID
}
