package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when it still holds our token, so an
// expired lock re-acquired by another instance is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the TTL only while the key still holds our token.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var errLockLost = errors.New("lock no longer held")

// Locker is a single-key distributed lock used to keep scan cycles from
// running concurrently across replicas.
type Locker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

type LockerOption func(*Locker)

func WithLockLogger(logger *slog.Logger) LockerOption {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func NewLocker(url, key string, ttl time.Duration, opts ...LockerOption) (*Locker, error) {
	if err := validateLock(key, ttl); err != nil {
		return nil, err
	}

	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(redisOpts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	l := &Locker{client: client, key: key, ttl: ttl, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "scan_lock", "key", key)
	return l, nil
}

func validateLock(key string, ttl time.Duration) error {
	if key == "" {
		return errors.New("lock key is required")
	}
	if ttl <= 0 {
		return fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}
	return nil
}

// TryLock attempts to take the lock without waiting. When acquired it
// returns a release func; when held elsewhere it returns ok=false. The TTL
// is extended every ttl/3 until release is called.
func (l *Locker) TryLock(ctx context.Context) (release func(), ok bool, err error) {
	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !acquired {
		return nil, false, nil
	}

	renewCtx, stopRenew := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(renewCtx, l.ttl/3, func(ctx context.Context) error {
			return l.extend(ctx, token)
		}, func(err error) {
			l.logger.Warn("scan lock renewal failed", "error", err)
		})
	}()

	release = func() {
		stopRenew()
		<-done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("scan lock release failed", "error", err)
		}
	}
	return release, true, nil
}

func (l *Locker) extend(ctx context.Context, token string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("renew lock %s: %w", l.key, err)
	}
	if n == 0 {
		return errLockLost
	}
	return nil
}

// keepAlive calls extend every interval until ctx is done or the lock is
// reported lost. Other errors are reported and retried on the next tick.
func keepAlive(ctx context.Context, interval time.Duration, extend func(context.Context) error, onError func(error)) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := extend(ctx)
			if err == nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			onError(err)
			if errors.Is(err, errLockLost) {
				return
			}
		}
	}
}

func (l *Locker) Close() error {
	return l.client.Close()
}
