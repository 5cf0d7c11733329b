/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisChannelPrefix is prepended to the channel id to form the pub/sub channel.
const RedisChannelPrefix = "grimnir:autodj:catalog:"

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// RedisFeed fans change signals out over Redis pub/sub. Local subscribers
// are served by an in-process feed; messages from other nodes are bridged
// into it and our own echoes are skipped.
type RedisFeed struct {
	client *redis.Client
	local  *MemoryFeed
	nodeID string
	logger zerolog.Logger

	mu     sync.Mutex
	remote map[string]*redisSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type redisSub struct {
	pubsub *redis.PubSub
	refs   int
}

// NewRedisFeed connects to Redis. It fails when the server does not answer a ping.
func NewRedisFeed(cfg RedisConfig, local *MemoryFeed, nodeID string, logger zerolog.Logger) (*RedisFeed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer pingCancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if local == nil {
		local = NewMemoryFeed(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	f := &RedisFeed{
		client: client,
		local:  local,
		nodeID: nodeID,
		logger: logger.With().Str("component", "eventbus").Str("transport", "redis").Logger(),
		remote: make(map[string]*redisSub),
		ctx:    ctx,
		cancel: cancel,
	}
	f.logger.Info().Str("addr", cfg.Addr).Msg("redis change feed initialized")
	return f, nil
}

// Publish delivers the change locally and to every other node.
func (f *RedisFeed) Publish(ctx context.Context, change Change) error {
	if err := f.local.Publish(ctx, change); err != nil {
		return err
	}
	data, err := encode(change, f.nodeID)
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := f.client.Publish(pubCtx, RedisChannelPrefix+change.ChannelID, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe implements Feed.
func (f *RedisFeed) Subscribe(ctx context.Context, channelID string) (<-chan Change, func(), error) {
	if err := f.acquire(ctx, channelID); err != nil {
		return nil, nil, err
	}
	out, localCancel, err := f.local.Subscribe(ctx, channelID)
	if err != nil {
		f.release(channelID)
		return nil, nil, err
	}
	var once sync.Once
	return out, func() {
		once.Do(func() {
			localCancel()
			f.release(channelID)
		})
	}, nil
}

func (f *RedisFeed) acquire(ctx context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if sub, ok := f.remote[channelID]; ok {
		sub.refs++
		return nil
	}

	pubsub := f.client.Subscribe(f.ctx, RedisChannelPrefix+channelID)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	f.remote[channelID] = &redisSub{pubsub: pubsub, refs: 1}

	f.wg.Add(1)
	go f.receive(channelID, pubsub)
	return nil
}

func (f *RedisFeed) release(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.remote[channelID]
	if !ok {
		return
	}
	sub.refs--
	if sub.refs > 0 {
		return
	}
	delete(f.remote, channelID)
	_ = sub.pubsub.Close()
}

func (f *RedisFeed) receive(channelID string, pubsub *redis.PubSub) {
	defer f.wg.Done()
	ch := pubsub.Channel()
	for {
		select {
		case <-f.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				f.logger.Debug().Str("channel_id", channelID).Msg("redis subscription closed")
				return
			}
			env, err := decode([]byte(msg.Payload))
			if err != nil {
				f.logger.Warn().Err(err).Msg("dropping malformed change message")
				continue
			}
			if env.NodeID == f.nodeID {
				continue
			}
			_ = f.local.Publish(f.ctx, env.Change)
		}
	}
}

// Close stops every receiver and closes the client.
func (f *RedisFeed) Close() error {
	f.cancel()
	f.mu.Lock()
	for id, sub := range f.remote {
		_ = sub.pubsub.Close()
		delete(f.remote, id)
	}
	f.mu.Unlock()
	f.wg.Wait()
	return f.client.Close()
}
