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

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSSubjectPrefix is prepended to the channel id to form the subject.
const NATSSubjectPrefix = "autodj.catalog."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSFeed fans change signals out over core NATS subjects, bridging remote
// messages into an in-process feed.
type NATSFeed struct {
	conn   *nats.Conn
	local  *MemoryFeed
	nodeID string
	logger zerolog.Logger

	mu     sync.Mutex
	remote map[string]*natsSub
}

type natsSub struct {
	sub  *nats.Subscription
	refs int
}

// NewNATSFeed connects to NATS.
func NewNATSFeed(cfg NATSConfig, local *MemoryFeed, nodeID string, logger zerolog.Logger) (*NATSFeed, error) {
	logger = logger.With().Str("component", "eventbus").Str("transport", "nats").Logger()
	opts := []nats.Option{
		nats.Name("grimnir-autodj-" + nodeID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	if local == nil {
		local = NewMemoryFeed(nil)
	}
	logger.Info().Str("url", cfg.URL).Msg("nats change feed initialized")
	return &NATSFeed{
		conn:   conn,
		local:  local,
		nodeID: nodeID,
		logger: logger,
		remote: make(map[string]*natsSub),
	}, nil
}

// Publish delivers the change locally and to every other node.
func (f *NATSFeed) Publish(ctx context.Context, change Change) error {
	if err := f.local.Publish(ctx, change); err != nil {
		return err
	}
	data, err := encode(change, f.nodeID)
	if err != nil {
		return err
	}
	if err := f.conn.Publish(NATSSubjectPrefix+change.ChannelID, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe implements Feed.
func (f *NATSFeed) Subscribe(ctx context.Context, channelID string) (<-chan Change, func(), error) {
	if err := f.acquire(channelID); err != nil {
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

func (f *NATSFeed) acquire(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.remote[channelID]; ok {
		s.refs++
		return nil
	}
	sub, err := f.conn.Subscribe(NATSSubjectPrefix+channelID, func(msg *nats.Msg) {
		env, err := decode(msg.Data)
		if err != nil {
			f.logger.Warn().Err(err).Msg("dropping malformed change message")
			return
		}
		if env.NodeID == f.nodeID {
			return
		}
		_ = f.local.Publish(context.Background(), env.Change)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	// The server must know the interest before a peer publishes.
	if err := f.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("nats subscribe: %w", err)
	}
	f.remote[channelID] = &natsSub{sub: sub, refs: 1}
	return nil
}

func (f *NATSFeed) release(channelID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.remote[channelID]
	if !ok {
		return
	}
	s.refs--
	if s.refs > 0 {
		return
	}
	delete(f.remote, channelID)
	if err := s.sub.Unsubscribe(); err != nil {
		f.logger.Debug().Err(err).Str("channel_id", channelID).Msg("nats unsubscribe failed")
	}
}

// Close drains the connection.
func (f *NATSFeed) Close() error {
	f.mu.Lock()
	f.remote = make(map[string]*natsSub)
	f.mu.Unlock()
	return f.conn.Drain()
}
