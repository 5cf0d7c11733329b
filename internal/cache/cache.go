/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache provides a Redis-based cache for catalog reads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultTTL bounds how stale a cached catalog read can be if an
// invalidation is missed.
const DefaultTTL = 10 * time.Minute

// Key prefixes for Redis cache
const (
	KeyPlaylists = "grimnir:autodj:cache:playlists:" // + channel_id
	KeyTracks    = "grimnir:autodj:cache:tracks:"    // + playlist_id
)

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration

	// DisableOnError turns the cache off after the first Redis failure.
	DisableOnError bool
}

// Cache provides Redis-backed caching with graceful fallback.
type Cache struct {
	client *redis.Client
	logger zerolog.Logger
	config Config

	mu       sync.RWMutex
	disabled bool
}

// New creates a cache. An unreachable Redis yields a disabled cache, not an error.
func New(cfg Config, logger zerolog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	logger = logger.With().Str("component", "cache").Logger()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     4,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis cache unavailable, running without caching")
		_ = client.Close()
		return Disabled(logger)
	}

	logger.Info().Str("addr", cfg.RedisAddr).Dur("ttl", cfg.TTL).Msg("Redis cache initialized")
	return &Cache{client: client, logger: logger, config: cfg}
}

// Disabled returns a cache that never stores anything.
func Disabled(logger zerolog.Logger) *Cache {
	return &Cache{logger: logger, disabled: true}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable returns true if the cache is operational.
func (c *Cache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *Cache) handleError(err error, operation string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	c.logger.Debug().Err(err).Str("operation", operation).Msg("cache operation failed")

	if c.config.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling cache due to Redis error")
	}
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.IsAvailable() {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		c.handleError(err, "get")
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("failed to unmarshal cached value")
		return false
	}
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any) error {
	if !c.IsAvailable() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

// Playlists returns the cached playlists of a channel.
func (c *Cache) Playlists(ctx context.Context, channelID string) ([]models.Playlist, bool) {
	var out []models.Playlist
	if !c.get(ctx, KeyPlaylists+channelID, &out) {
		return nil, false
	}
	c.logger.Debug().Str("channel_id", channelID).Int("count", len(out)).Msg("playlists cache hit")
	return out, true
}

// SetPlaylists caches the playlists of a channel.
func (c *Cache) SetPlaylists(ctx context.Context, channelID string, playlists []models.Playlist) error {
	return c.set(ctx, KeyPlaylists+channelID, playlists)
}

// Tracks returns the cached ordered tracks of a playlist.
func (c *Cache) Tracks(ctx context.Context, playlistID string) ([]models.Track, bool) {
	var out []models.Track
	if !c.get(ctx, KeyTracks+playlistID, &out) {
		return nil, false
	}
	return out, true
}

// SetTracks caches the ordered tracks of a playlist.
func (c *Cache) SetTracks(ctx context.Context, playlistID string, tracks []models.Track) error {
	return c.set(ctx, KeyTracks+playlistID, tracks)
}

// Invalidate drops a channel's playlist list and the track lists of the given playlists.
func (c *Cache) Invalidate(ctx context.Context, channelID string, playlistIDs ...string) error {
	if !c.IsAvailable() {
		return nil
	}
	keys := make([]string, 0, len(playlistIDs)+1)
	keys = append(keys, KeyPlaylists+channelID)
	for _, id := range playlistIDs {
		keys = append(keys, KeyTracks+id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}

// Flush removes every catalog key.
func (c *Cache) Flush(ctx context.Context) error {
	for _, pattern := range []string{KeyPlaylists + "*", KeyTracks + "*"} {
		if err := c.deletePattern(ctx, pattern); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) deletePattern(ctx context.Context, pattern string) error {
	if !c.IsAvailable() {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.handleError(err, "scan")
			return err
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				c.handleError(err, "delete_batch")
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
