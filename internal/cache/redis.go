package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL applies when Config.TTL is not positive.
const DefaultTTL = 10 * time.Minute

// Config defines connection parameters for Redis.
type Config struct {
	Addr      string
	Password  string
	DB        int
	UseTLS    bool
	KeyPrefix string
	TTL       time.Duration
}

// Redis is a JSON document cache. Every key is namespaced with KeyPrefix and
// expires after TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// New returns a Redis cache based on provided configuration.
func New(cfg Config, logger *slog.Logger) *Redis {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.UseTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Redis{
		client: redis.NewClient(opts),
		prefix: cfg.KeyPrefix,
		ttl:    ttl,
		logger: logger.With("component", "redis"),
	}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

// Ping verifies Redis connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Get decodes the document stored under key into dest. It reports false on a miss.
func (r *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		// A document we cannot decode is as good as missing.
		r.logger.Warn("dropping undecodable cache entry", "key", key, "error", err)
		_ = r.client.Del(ctx, r.key(key)).Err()
		return false, nil
	}
	return true, nil
}

// PutMany stores every entry in one MULTI/EXEC round trip.
func (r *Redis) PutMany(ctx context.Context, entries map[string]any) error {
	if len(entries) == 0 {
		return nil
	}
	payloads := make(map[string][]byte, len(entries))
	for k, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode cache entry %s: %w", k, err)
		}
		payloads[k] = data
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, data := range payloads {
			pipe.Set(ctx, r.key(k), data, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis put %d entries: %w", len(entries), err)
	}
	return nil
}

// Delete removes keys, ignoring ones that do not exist.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases Redis resources.
func (r *Redis) Close() error {
	return r.client.Close()
}
