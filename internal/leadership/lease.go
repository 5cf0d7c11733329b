/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership guarantees that at most one instance plays a channel.
// Ownership is a Redis key per channel holding the owner's token, set with
// NX and a TTL and renewed by the owner while it plays.
package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_autodj/internal/telemetry"
)

const (
	// KeyPrefix namespaces channel lease keys.
	KeyPrefix = "autodj:channel:"

	defaultTTL = 15 * time.Second
)

// ErrHeld is returned when another instance owns the channel.
var ErrHeld = errors.New("leadership: channel is owned by another instance")

// Only the owner may renew or delete a lease.
var (
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
)

// Config configures channel leases.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TTL is how long a lease survives without renewal.
	TTL time.Duration
	// RenewInterval defaults to a third of TTL.
	RenewInterval time.Duration
	// InstanceID identifies this process in lease tokens.
	InstanceID string
}

// DefaultConfig returns the default lease configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:  "localhost:6379",
		TTL:        defaultTTL,
		InstanceID: uuid.NewString(),
	}
}

// Manager hands out channel leases. A disabled manager grants every request.
type Manager struct {
	client *redis.Client
	cfg    Config
	logger zerolog.Logger
}

// NewManager connects to Redis.
func NewManager(cfg Config, logger zerolog.Logger) (*Manager, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = cfg.TTL / 3
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis for channel leases: %w", err)
	}

	logger.Info().
		Str("redis_addr", cfg.RedisAddr).
		Str("instance_id", cfg.InstanceID).
		Dur("ttl", cfg.TTL).
		Msg("channel leases enabled")

	return &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "leadership").Logger(),
	}, nil
}

// Disabled returns a manager that grants every lease without coordination.
func Disabled(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger.With().Str("component", "leadership").Logger()}
}

// Enabled reports whether leases are coordinated through Redis.
func (m *Manager) Enabled() bool { return m.client != nil }

// Acquire takes ownership of channelID. ErrHeld means another instance has it.
// The lease renews itself until Release.
func (m *Manager) Acquire(ctx context.Context, channelID string) (*Lease, error) {
	l := &Lease{
		manager:   m,
		channelID: channelID,
		key:       KeyPrefix + channelID,
		token:     m.cfg.InstanceID + ":" + uuid.NewString(),
		lost:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if !m.Enabled() {
		close(l.done)
		return l, nil
	}

	ok, err := m.client.SetNX(ctx, l.key, l.token, m.cfg.TTL).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease for channel %s: %w", channelID, err)
	}
	if !ok {
		telemetry.LeaseChanges.WithLabelValues(channelID, "contended").Inc()
		return nil, ErrHeld
	}

	telemetry.LeaseHeld.WithLabelValues(channelID).Set(1)
	telemetry.LeaseChanges.WithLabelValues(channelID, "acquired").Inc()
	m.logger.Info().Str("channel_id", channelID).Msg("acquired channel lease")

	renewCtx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	go l.renewLoop(renewCtx)
	return l, nil
}

// Holder returns the token of the current owner of channelID, empty if none.
func (m *Manager) Holder(ctx context.Context, channelID string) (string, error) {
	if !m.Enabled() {
		return "", nil
	}
	token, err := m.client.Get(ctx, KeyPrefix+channelID).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lease holder: %w", err)
	}
	return token, nil
}

// Close releases the Redis connection.
func (m *Manager) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// Lease is ownership of one channel.
type Lease struct {
	manager   *Manager
	channelID string
	key       string
	token     string

	cancel   context.CancelFunc
	lost     chan struct{}
	lostOnce sync.Once
	done     chan struct{}
}

// ChannelID returns the leased channel.
func (l *Lease) ChannelID() string { return l.channelID }

// Token identifies this lease holder.
func (l *Lease) Token() string { return l.token }

// Lost is closed when the lease could not be renewed.
func (l *Lease) Lost() <-chan struct{} { return l.lost }

func (l *Lease) renewLoop(ctx context.Context) {
	defer close(l.done)
	m := l.manager
	ticker := time.NewTicker(m.cfg.RenewInterval)
	defer ticker.Stop()

	lastRenewed := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		renewed, err := renewScript.Run(ctx, m.client, []string{l.key}, l.token, m.cfg.TTL.Milliseconds()).Int()
		switch {
		case err == nil && renewed == 1:
			lastRenewed = time.Now()
			continue
		case err == nil:
			m.logger.Warn().Str("channel_id", l.channelID).Msg("channel lease taken over")
		case ctx.Err() != nil:
			return
		case time.Since(lastRenewed) < m.cfg.TTL:
			m.logger.Warn().Err(err).Str("channel_id", l.channelID).Msg("channel lease renewal failed, retrying")
			continue
		default:
			m.logger.Error().Err(err).Str("channel_id", l.channelID).Msg("channel lease expired without renewal")
		}
		l.markLost()
		return
	}
}

func (l *Lease) markLost() {
	l.lostOnce.Do(func() {
		close(l.lost)
		telemetry.LeaseHeld.WithLabelValues(l.channelID).Set(0)
		telemetry.LeaseChanges.WithLabelValues(l.channelID, "lost").Inc()
	})
}

// Release gives the channel up. It is safe to call more than once.
func (l *Lease) Release(ctx context.Context) error {
	m := l.manager
	if !m.Enabled() {
		return nil
	}
	if l.cancel != nil {
		l.cancel()
	}
	<-l.done

	select {
	case <-l.lost:
		return nil
	default:
	}

	if err := releaseScript.Run(ctx, m.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lease for channel %s: %w", l.channelID, err)
	}
	l.lostOnce.Do(func() {
		telemetry.LeaseHeld.WithLabelValues(l.channelID).Set(0)
		telemetry.LeaseChanges.WithLabelValues(l.channelID, "released").Inc()
	})
	m.logger.Info().Str("channel_id", l.channelID).Msg("released channel lease")
	return nil
}
