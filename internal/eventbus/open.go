/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_autodj/internal/config"
	"github.com/friendsincode/grimnir_autodj/internal/events"
)

// Open builds the feed selected by configuration. When the remote transport
// cannot be reached the in-process feed is returned instead, so a single
// node keeps working without the broker.
func Open(cfg *config.Config, database *gorm.DB, bus *events.Bus, logger zerolog.Logger) Feed {
	local := NewMemoryFeed(bus)
	nodeID := cfg.InstanceID

	switch cfg.ChangeFeed {
	case config.FeedRedis:
		rc := DefaultRedisConfig()
		rc.Addr = cfg.RedisAddr
		rc.Password = cfg.RedisPassword
		rc.DB = cfg.RedisDB
		feed, err := NewRedisFeed(rc, local, nodeID, logger)
		if err == nil {
			return feed
		}
		logger.Warn().Err(err).Msg("redis change feed unavailable, using in-memory feed")

	case config.FeedNATS:
		nc := DefaultNATSConfig()
		if cfg.NATSURL != "" {
			nc.URL = cfg.NATSURL
		}
		feed, err := NewNATSFeed(nc, local, nodeID, logger)
		if err == nil {
			return feed
		}
		logger.Warn().Err(err).Msg("nats change feed unavailable, using in-memory feed")

	case config.FeedPostgres:
		if database == nil {
			logger.Warn().Msg("postgres change feed needs a database, using in-memory feed")
			break
		}
		sqlDB, err := database.DB()
		if err == nil {
			var feed *PostgresFeed
			feed, err = NewPostgresFeed(cfg.DBDSN, sqlDB, local, nodeID, logger)
			if err == nil {
				return feed
			}
		}
		logger.Warn().Err(err).Msg("postgres change feed unavailable, using in-memory feed")
	}
	return local
}
