/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_autodj/internal/db"
)

// PostgresFeed listens for catalog NOTIFY messages raised by the database
// triggers installed at migration time, so edits made by any tool reach the
// orchestrator without an explicit publish.
type PostgresFeed struct {
	listener *pq.Listener
	sqlDB    *sql.DB
	local    *MemoryFeed
	nodeID   string
	logger   zerolog.Logger

	mu       sync.Mutex
	channels map[string]int

	done chan struct{}
	wg   sync.WaitGroup
}

// NewPostgresFeed starts listening on the catalog notification channel.
// sqlDB is used to publish; dsn opens the dedicated listener connection.
func NewPostgresFeed(dsn string, sqlDB *sql.DB, local *MemoryFeed, nodeID string, logger zerolog.Logger) (*PostgresFeed, error) {
	logger = logger.With().Str("component", "eventbus").Str("transport", "postgres").Logger()
	listener := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnectionAttemptFailed, pq.ListenerEventDisconnected:
			logger.Warn().Err(err).Msg("catalog listener connection problem")
		case pq.ListenerEventReconnected:
			logger.Info().Msg("catalog listener reconnected")
		}
	})
	if err := listener.Listen(db.CatalogNotifyChannel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("listen %s: %w", db.CatalogNotifyChannel, err)
	}
	if local == nil {
		local = NewMemoryFeed(nil)
	}

	f := &PostgresFeed{
		listener: listener,
		sqlDB:    sqlDB,
		local:    local,
		nodeID:   nodeID,
		logger:   logger,
		channels: make(map[string]int),
		done:     make(chan struct{}),
	}
	f.wg.Add(1)
	go f.receive()
	logger.Info().Str("channel", db.CatalogNotifyChannel).Msg("postgres change feed initialized")
	return f, nil
}

func (f *PostgresFeed) receive() {
	defer f.wg.Done()
	for {
		select {
		case <-f.done:
			return
		case n, ok := <-f.listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Notifications may have been lost while reconnecting.
				f.resyncAll()
				continue
			}
			env, err := decode([]byte(n.Extra))
			if err != nil {
				f.logger.Warn().Err(err).Msg("dropping malformed catalog notification")
				continue
			}
			if env.NodeID != "" && env.NodeID == f.nodeID {
				continue
			}
			_ = f.local.Publish(context.Background(), env.Change)
		case <-time.After(90 * time.Second):
			go func() {
				if err := f.listener.Ping(); err != nil {
					f.logger.Debug().Err(err).Msg("catalog listener ping failed")
				}
			}()
		}
	}
}

func (f *PostgresFeed) resyncAll() {
	f.mu.Lock()
	ids := make([]string, 0, len(f.channels))
	for id := range f.channels {
		ids = append(ids, id)
	}
	f.mu.Unlock()
	for _, id := range ids {
		_ = f.local.Publish(context.Background(), Change{ChannelID: id, Kind: KindPlaylists, Source: "reconnect"})
	}
}

// Publish delivers the change locally and raises a NOTIFY for other nodes.
func (f *PostgresFeed) Publish(ctx context.Context, change Change) error {
	if err := f.local.Publish(ctx, change); err != nil {
		return err
	}
	data, err := encode(change, f.nodeID)
	if err != nil {
		return err
	}
	if _, err := f.sqlDB.ExecContext(ctx, "SELECT pg_notify($1, $2)", db.CatalogNotifyChannel, string(data)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	return nil
}

// Subscribe implements Feed.
func (f *PostgresFeed) Subscribe(ctx context.Context, channelID string) (<-chan Change, func(), error) {
	out, localCancel, err := f.local.Subscribe(ctx, channelID)
	if err != nil {
		return nil, nil, err
	}
	f.mu.Lock()
	f.channels[channelID]++
	f.mu.Unlock()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			localCancel()
			f.mu.Lock()
			if f.channels[channelID]--; f.channels[channelID] <= 0 {
				delete(f.channels, channelID)
			}
			f.mu.Unlock()
		})
	}, nil
}

// Close stops listening.
func (f *PostgresFeed) Close() error {
	close(f.done)
	err := f.listener.Close()
	f.wg.Wait()
	return err
}
