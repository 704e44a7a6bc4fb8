package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dronehire/realtime-service/internal/config"
	"github.com/dronehire/realtime-service/pkg/log"
)

// deregisterScript deletes a key only while this instance still owns it.
var deregisterScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisDirectory struct {
	client            *redis.Client
	instanceID        string
	prefix            string
	keyTTL            time.Duration
	heartbeatInterval time.Duration
	managedKeys       map[string]struct{} // keys managed by this instance
	mu                sync.RWMutex
	cancel            context.CancelFunc
}

// NewRedisDirectory creates a directory on a shared client. Closing the
// client stays with the caller.
func NewRedisDirectory(client *redis.Client, cfg config.PresenceConfig, instanceID string) *RedisDirectory {
	return &RedisDirectory{
		client:            client,
		instanceID:        instanceID,
		prefix:            cfg.Prefix,
		keyTTL:            cfg.KeyTTL,
		heartbeatInterval: cfg.HeartbeatInterval,
		managedKeys:       make(map[string]struct{}),
	}
}

func (r *RedisDirectory) keyFor(userID int64) string {
	return fmt.Sprintf("%s:user:%d", r.prefix, userID)
}

func (r *RedisDirectory) Register(ctx context.Context, userID int64) error {
	key := r.keyFor(userID)

	if err := r.client.Set(ctx, key, r.instanceID, r.keyTTL).Err(); err != nil {
		return fmt.Errorf("failed to register presence: %w", err)
	}

	r.mu.Lock()
	r.managedKeys[key] = struct{}{}
	r.mu.Unlock()

	l := log.Ctx(ctx)
	l.Debug().Int64(log.FieldUserID, userID).Msg("registered presence")
	return nil
}

// Deregister removes the participant's key if this instance still holds it.
// A key taken over by another instance after a reconnect is left alone.
func (r *RedisDirectory) Deregister(ctx context.Context, userID int64) error {
	key := r.keyFor(userID)

	r.mu.Lock()
	delete(r.managedKeys, key)
	r.mu.Unlock()

	if err := deregisterScript.Run(ctx, r.client, []string{key}, r.instanceID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to deregister presence: %w", err)
	}

	l := log.Ctx(ctx)
	l.Debug().Int64(log.FieldUserID, userID).Msg("deregistered presence")
	return nil
}

func (r *RedisDirectory) IsOnline(ctx context.Context, userID int64) (bool, error) {
	n, err := r.client.Exists(ctx, r.keyFor(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to lookup presence: %w", err)
	}
	return n > 0, nil
}

func (r *RedisDirectory) StartHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel

	go r.heartbeatLoop(ctx)
	l := log.L()
	l.Info().Dur("interval", r.heartbeatInterval).Dur("ttl", r.keyTTL).Msg("presence heartbeat started")
	return nil
}

func (r *RedisDirectory) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(r.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshKeys(ctx)
		}
	}
}

func (r *RedisDirectory) refreshKeys(ctx context.Context) {
	r.mu.RLock()
	keys := make([]string, 0, len(r.managedKeys))
	for k := range r.managedKeys {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	if len(keys) == 0 {
		return
	}

	pipe := r.client.Pipeline()
	for _, key := range keys {
		pipe.Set(ctx, key, r.instanceID, r.keyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		l := log.L()
		l.Error().Err(err).Int("keys", len(keys)).Msg("failed to refresh presence keys")
	}
}

func (r *RedisDirectory) StopHeartbeat() {
	if r.cancel != nil {
		r.cancel()
	}
}
