/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/grimnir_autodj/internal/models"
	"gorm.io/gorm"
)

// Migrate applies the catalog schema using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.Channel{},
		&models.Track{},
		&models.Playlist{},
		&models.PlaylistTrack{},
		&models.PlayHistory{},
	); err != nil {
		return err
	}

	if err := applyPostgresCatalogNotify(database); err != nil {
		return err
	}

	return nil
}

// CatalogNotifyChannel is the LISTEN/NOTIFY channel catalog writes are announced on.
const CatalogNotifyChannel = "autodj_catalog"

// applyPostgresCatalogNotify installs triggers that NOTIFY on playlist and
// membership writes so listeners learn about edits made outside this process.
func applyPostgresCatalogNotify(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
CREATE OR REPLACE FUNCTION autodj_notify_playlists()
RETURNS trigger
LANGUAGE plpgsql
AS $$
DECLARE
  rec RECORD;
BEGIN
  IF TG_OP = 'DELETE' THEN rec := OLD; ELSE rec := NEW; END IF;
  PERFORM pg_notify('` + CatalogNotifyChannel + `',
    json_build_object('channel_id', rec.channel_id, 'kind', 'playlists', 'source', 'postgres')::text);
  RETURN NULL;
END;
$$;

CREATE OR REPLACE FUNCTION autodj_notify_playlist_tracks()
RETURNS trigger
LANGUAGE plpgsql
AS $$
DECLARE
  rec RECORD;
  chan TEXT;
BEGIN
  IF TG_OP = 'DELETE' THEN rec := OLD; ELSE rec := NEW; END IF;
  SELECT channel_id INTO chan FROM playlists WHERE id = rec.playlist_id;
  IF chan IS NOT NULL THEN
    PERFORM pg_notify('` + CatalogNotifyChannel + `',
      json_build_object('channel_id', chan, 'kind', 'tracks', 'playlist_id', rec.playlist_id, 'source', 'postgres')::text);
  END IF;
  RETURN NULL;
END;
$$;

DROP TRIGGER IF EXISTS trg_autodj_notify_playlists ON playlists;
CREATE TRIGGER trg_autodj_notify_playlists
AFTER INSERT OR UPDATE OR DELETE ON playlists
FOR EACH ROW EXECUTE FUNCTION autodj_notify_playlists();

DROP TRIGGER IF EXISTS trg_autodj_notify_playlist_tracks ON playlist_tracks;
CREATE TRIGGER trg_autodj_notify_playlist_tracks
AFTER INSERT OR UPDATE OR DELETE ON playlist_tracks
FOR EACH ROW EXECUTE FUNCTION autodj_notify_playlist_tracks();
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres catalog notify triggers: %w", err)
	}

	return nil
}
