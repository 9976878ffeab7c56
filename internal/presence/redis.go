// Package presence mirrors the in-process presence set into Redis so other
// services can ask whether a user is online and on which instance.
package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chirp-social/realtime/internal/realtime"
	"github.com/chirp-social/realtime/pkg/logger"
)

var _ realtime.PresenceObserver = (*RedisMirror)(nil)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Instance string
}

// only the owning instance may clear the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisMirror writes im:presence:<user> = instance id with a TTL.
type RedisMirror struct {
	rdb      *redis.Client
	ttl      time.Duration
	instance string
	logger   *logger.Logger
}

// NewRedisMirror connects and pings Redis.
func NewRedisMirror(ctx context.Context, cfg Config, log *logger.Logger) (*RedisMirror, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return newMirror(rdb, cfg, log), nil
}

func newMirror(rdb *redis.Client, cfg Config, log *logger.Logger) *RedisMirror {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	return &RedisMirror{
		rdb:      rdb,
		ttl:      cfg.TTL,
		instance: cfg.Instance,
		logger:   log.Named("presence"),
	}
}

// Key returns the Redis key holding a user's presence.
func Key(userID string) string { return "im:presence:" + userID }

// UserOnline implements realtime.PresenceObserver.
func (m *RedisMirror) UserOnline(ctx context.Context, userID string) {
	if err := m.rdb.Set(ctx, Key(userID), m.instance, m.ttl).Err(); err != nil {
		m.logger.Warn("failed to mirror presence",
			zap.String("user_id", userID),
			zap.Bool("online", true),
			zap.Error(err),
		)
	}
}

// UserOffline implements realtime.PresenceObserver.
func (m *RedisMirror) UserOffline(ctx context.Context, userID string) {
	if err := releaseScript.Run(ctx, m.rdb, []string{Key(userID)}, m.instance).Err(); err != nil {
		m.logger.Warn("failed to mirror presence",
			zap.String("user_id", userID),
			zap.Bool("online", false),
			zap.Error(err),
		)
	}
}

// KeepAlive renews the TTL of every user returned by online until ctx ends.
func (m *RedisMirror) KeepAlive(ctx context.Context, online func() []string) {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			users := online()
			if len(users) == 0 {
				continue
			}
			pipe := m.rdb.Pipeline()
			for _, id := range users {
				pipe.Set(ctx, Key(id), m.instance, m.ttl)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				m.logger.Warn("failed to renew presence", zap.Int("users", len(users)), zap.Error(err))
			}
		}
	}
}

// Close releases the Redis client.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
