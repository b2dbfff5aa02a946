// Package runlock keeps two replicas from sending the same day's report.
package runlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// ErrNotAcquired is returned when another holder owns the key.
var ErrNotAcquired = errors.New("run lock is held by another process")

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type Locker struct {
	client *redis.Client
	prefix string
}

// Connect dials redis, instruments the client for tracing and checks the connection.
func Connect(ctx context.Context, addr, prefix string) (*Locker, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument redis with tracing: %w", err)
	}

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return New(client, prefix), nil
}

func New(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

func (l *Locker) Close() error {
	return l.client.Close()
}

// Lock is a held key. It expires on its own after the TTL given to Acquire.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

func (l *Lock) Key() string {
	return l.key
}

// Acquire sets the key for ttl if it is absent. The key is namespaced by the locker prefix.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("run lock ttl must be positive, got %v", ttl)
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	full := key
	if l.prefix != "" {
		full = l.prefix + ":" + key
	}

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to set run lock %s: %w", full, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}
	return &Lock{client: l.client, key: full, token: token}, nil
}

// Release deletes the key only if this lock still owns it.
func (l *Lock) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int()
	if err != nil {
		return fmt.Errorf("failed to release run lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("run lock %s expired before release", l.key)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
