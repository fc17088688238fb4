// Package lock provides the per-(tenant_id, natural_key) logical lock
// spec.md §4.8 requires for the duration of one SCD-2 merge. Backed by
// Redis (SET NX PX acquire, Lua-scripted compare-and-delete release), this
// generalizes the teacher's in-process sync.Map-guarded reinit lock
// (pkg/mcp/client.go's reinitMu) from a single-process primitive to a
// cross-process one — multiple orchestrator processes must still
// serialize merges for the same key.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avesa-io/avesa/internal/avesaerr"
)

// releaseScript only deletes the key if it still holds this holder's
// token, so a lock whose TTL expired and was re-acquired by someone else
// is never released out from under them.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// Locker acquires the per-key merge lock.
type Locker struct {
	client *redis.Client
	ttl    time.Duration
}

// New builds a Locker against a Redis instance reachable at addr (a
// redis:// URL).
func New(addr string, ttl time.Duration) (*Locker, error) {
	opts, err := redis.ParseURL(addr)
	if err != nil {
		return nil, fmt.Errorf("lock: parsing redis url: %w", err)
	}
	return &Locker{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Handle represents one held lock; Release must be called exactly once.
type Handle struct {
	key   string
	token string
}

// key is the canonical lock key for (tenantID, naturalKey), shared across
// all orchestrator processes (spec.md §4.8).
func key(tenantID, naturalKey string) string {
	return fmt.Sprintf("avesa:lock:%s:%s", tenantID, naturalKey)
}

// Acquire blocks (polling every 25ms) until the lock for (tenantID,
// naturalKey) is held or ctx is cancelled.
func (l *Locker) Acquire(ctx context.Context, tenantID, naturalKey string) (*Handle, error) {
	k := key(tenantID, naturalKey)
	token, err := randomToken()
	if err != nil {
		return nil, avesaerr.New("lock.Acquire", avesaerr.KindFatal, err)
	}

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil {
			return nil, avesaerr.New("lock.Acquire", avesaerr.KindTransient, err)
		}
		if ok {
			return &Handle{key: k, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, avesaerr.New("lock.Acquire", avesaerr.KindCancelled, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Release drops the lock if this Locker still owns it.
func (l *Locker) Release(ctx context.Context, h *Handle) error {
	if err := l.client.Eval(ctx, releaseScript, []string{h.key}, h.token).Err(); err != nil {
		return avesaerr.New("lock.Release", avesaerr.KindTransient, err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (l *Locker) Close() error {
	return l.client.Close()
}

func randomToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
