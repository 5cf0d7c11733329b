package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_autodj/internal/cache"
	"github.com/friendsincode/grimnir_autodj/internal/db"
	"github.com/friendsincode/grimnir_autodj/internal/eventbus"
	"github.com/friendsincode/grimnir_autodj/internal/models"
)

const seedYAML = `
channels:
  - name: Lobby
    location_id: store-042
    timezone: UTC
    playlists:
      - name: Daytime
        category: rotation
        weight: 3
        order: shuffled
        tracks:
          - {title: One, artist: A, locator: one.mp3, duration: 3m}
          - {title: Two, artist: A, locator: two.mp3, duration: 2m30s}
          - {title: "", artist: A, locator: broken.mp3}
      - name: Evening
        category: rotation
        active: false
        tracks:
          - {title: Three, locator: three.mp3}
      - name: Station ID
        category: interval
        order: sequential
        trigger: {unit: tracks, threshold: 4}
        daily: {start: "22:00", end: "06:00"}
        dates: {from: 2025-01-01, to: 2025-01-31}
        tracks:
          - {title: ID B, locator: id-b.mp3}
          - {title: ID A, locator: id-a.mp3}
`

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := database.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return database
}

func importSeed(t *testing.T, database *gorm.DB, publisher eventbus.Publisher) Summary {
	t.Helper()
	doc, err := ParseDocument(strings.NewReader(seedYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sum, err := NewImporter(database, publisher, zerolog.Nop()).Import(context.Background(), doc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	return sum
}

func TestImportAnnouncesChannels(t *testing.T) {
	database := openTestDB(t)
	feed := eventbus.NewMemoryFeed(nil)

	lobby := channelID(ChannelSpec{Name: "Lobby"})
	changes, cancel, err := feed.Subscribe(context.Background(), lobby)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	sum := importSeed(t, database, feed)
	if sum.Channels != 1 || sum.Playlists != 3 || sum.Tracks != 6 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	select {
	case c := <-changes:
		if c.ChannelID != lobby || c.Source != "import" {
			t.Fatalf("unexpected change %+v", c)
		}
	case <-time.After(time.Second):
		t.Fatal("import did not publish a change")
	}
}

func TestImportIsIdempotent(t *testing.T) {
	database := openTestDB(t)
	importSeed(t, database, nil)
	importSeed(t, database, nil)

	var playlists, members int64
	database.Model(&models.Playlist{}).Count(&playlists)
	database.Model(&models.PlaylistTrack{}).Count(&members)
	if playlists != 3 || members != 6 {
		t.Fatalf("playlists=%d members=%d after re-import, want 3 and 6", playlists, members)
	}
}

func TestLoaderPartitionsCatalog(t *testing.T) {
	database := openTestDB(t)
	importSeed(t, database, nil)
	lobby := channelID(ChannelSpec{Name: "Lobby"})

	loader := NewLoader(NewGormStore(database), zerolog.Nop())
	cat, err := loader.Load(context.Background(), lobby)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cat.Rotation) != 1 || cat.Rotation[0].Name != "Daytime" {
		t.Fatalf("rotation = %+v, want only Daytime", cat.Rotation)
	}
	if len(cat.Interval) != 1 {
		t.Fatalf("interval = %+v, want one playlist", cat.Interval)
	}

	iv := cat.Interval[0]
	if iv.TriggerThreshold != 4 || iv.Order != models.OrderSequential || iv.DailyStart != "22:00" {
		t.Fatalf("interval playlist not stored as imported: %+v", iv)
	}
	if iv.ActiveFrom == nil || iv.ActiveFrom.UTC().Day() != 1 {
		t.Fatalf("ActiveFrom = %v", iv.ActiveFrom)
	}

	tracks, err := loader.Tracks(context.Background(), cat.Rotation[0].ID)
	if err != nil {
		t.Fatalf("tracks: %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("got %d playable tracks, want 2", len(tracks))
	}
	if tracks[0].Title != "One" || tracks[1].DurationMS != 150000 {
		t.Fatalf("unexpected tracks %+v", tracks)
	}

	ordered, err := loader.Tracks(context.Background(), iv.ID)
	if err != nil {
		t.Fatalf("tracks: %v", err)
	}
	if len(ordered) != 2 || ordered[0].Title != "ID B" || ordered[1].Title != "ID A" {
		t.Fatalf("tracks not in position order: %+v", ordered)
	}
}

type fakeStore struct {
	playlists   []models.Playlist
	invalidated []string
	err         error
}

func (f *fakeStore) Playlists(context.Context, string) ([]models.Playlist, error) {
	return f.playlists, f.err
}

func (f *fakeStore) Tracks(context.Context, string) ([]models.Track, error) { return nil, f.err }

func (f *fakeStore) Invalidate(_ context.Context, channelID string) error {
	f.invalidated = append(f.invalidated, channelID)
	return nil
}

func TestLoaderErrors(t *testing.T) {
	tests := []struct {
		name      string
		playlists []models.Playlist
		want      error
	}{
		{
			name: "foreign playlist",
			playlists: []models.Playlist{
				{ID: "p1", ChannelID: "c1", Category: models.CategoryRotation, Active: true},
				{ID: "p2", ChannelID: "other", Category: models.CategoryRotation, Active: true},
			},
			want: ErrOwnershipMismatch,
		},
		{
			name: "only interval",
			playlists: []models.Playlist{
				{ID: "p1", ChannelID: "c1", Category: models.CategoryInterval, Active: true},
			},
			want: ErrNoPlaylists,
		},
		{
			name: "rotation inactive",
			playlists: []models.Playlist{
				{ID: "p1", ChannelID: "c1", Category: models.CategoryRotation, Active: false},
			},
			want: ErrNoPlaylists,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(&fakeStore{playlists: tt.playlists}, zerolog.Nop())
			_, err := loader.Load(context.Background(), "c1")
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if !IsConfigurationError(err) {
				t.Fatalf("expected a configuration error, got %T", err)
			}
		})
	}
}

func TestLoaderPassesStoreErrorsThrough(t *testing.T) {
	boom := errors.New("db down")
	_, err := NewLoader(&fakeStore{err: boom}, zerolog.Nop()).Load(context.Background(), "c1")
	if !errors.Is(err, boom) || IsConfigurationError(err) {
		t.Fatalf("err = %v, want plain store error", err)
	}
}

func TestRefreshInvalidatesCachingStores(t *testing.T) {
	store := &fakeStore{playlists: []models.Playlist{
		{ID: "p1", ChannelID: "c1", Category: models.CategoryRotation, Active: true},
	}}
	if _, err := NewLoader(store, zerolog.Nop()).Refresh(context.Background(), "c1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(store.invalidated) != 1 || store.invalidated[0] != "c1" {
		t.Fatalf("invalidated = %v", store.invalidated)
	}
}

func TestCachedStoreWithDisabledCache(t *testing.T) {
	database := openTestDB(t)
	importSeed(t, database, nil)
	lobby := channelID(ChannelSpec{Name: "Lobby"})

	store := NewCachedStore(NewGormStore(database), cache.Disabled(zerolog.Nop()), zerolog.Nop())
	playlists, err := store.Playlists(context.Background(), lobby)
	if err != nil || len(playlists) != 3 {
		t.Fatalf("playlists = %d, err = %v", len(playlists), err)
	}
	if err := store.Invalidate(context.Background(), lobby); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
}

type countingStore struct {
	Store
	playlistReads int
	trackReads    int
}

func (c *countingStore) Playlists(ctx context.Context, channelID string) ([]models.Playlist, error) {
	c.playlistReads++
	return c.Store.Playlists(ctx, channelID)
}

func (c *countingStore) Tracks(ctx context.Context, playlistID string) ([]models.Track, error) {
	c.trackReads++
	return c.Store.Tracks(ctx, playlistID)
}

func TestCachedStoreReadsThroughRedis(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	importSeed(t, database, nil)
	lobby := channelID(ChannelSpec{Name: "Lobby"})

	mr := miniredis.RunT(t)
	c := cache.New(cache.Config{RedisAddr: mr.Addr(), TTL: time.Minute}, zerolog.Nop())
	defer c.Close()
	if !c.IsAvailable() {
		t.Fatal("cache unavailable against miniredis")
	}

	backing := &countingStore{Store: NewGormStore(database)}
	store := NewCachedStore(backing, c, zerolog.Nop())

	first, err := store.Playlists(ctx, lobby)
	if err != nil || len(first) != 3 {
		t.Fatalf("playlists = %d, err = %v", len(first), err)
	}
	second, err := store.Playlists(ctx, lobby)
	if err != nil || len(second) != 3 {
		t.Fatalf("cached playlists = %d, err = %v", len(second), err)
	}
	if backing.playlistReads != 1 {
		t.Fatalf("backing playlist reads = %d, want 1", backing.playlistReads)
	}

	var daytime string
	for _, p := range first {
		if p.Name == "Daytime" {
			daytime = p.ID
		}
	}
	for range 2 {
		tracks, err := store.Tracks(ctx, daytime)
		if err != nil || len(tracks) != 3 {
			t.Fatalf("tracks = %d, err = %v", len(tracks), err)
		}
	}
	if backing.trackReads != 1 {
		t.Fatalf("backing track reads = %d, want 1", backing.trackReads)
	}
	if !mr.Exists(cache.KeyTracks + daytime) {
		t.Fatal("track list not cached")
	}

	// Invalidate itself lists the channel's playlists from the backing store.
	if err := store.Invalidate(ctx, lobby); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if mr.Exists(cache.KeyPlaylists+lobby) || mr.Exists(cache.KeyTracks+daytime) {
		t.Fatal("invalidate left cached entries")
	}
	reads := backing.playlistReads
	if _, err := store.Playlists(ctx, lobby); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, err := store.Tracks(ctx, daytime); err != nil {
		t.Fatalf("reload tracks: %v", err)
	}
	if backing.playlistReads != reads+1 || backing.trackReads != 2 {
		t.Fatalf("reads after invalidate = %d playlists, %d tracks", backing.playlistReads-reads, backing.trackReads)
	}
}

func TestValidateRejectsBadDocuments(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown category", `channels: [{name: x, playlists: [{name: p, category: jingle}]}]`},
		{"interval without trigger", `channels: [{name: x, playlists: [{name: p, category: interval}]}]`},
		{"bad clock", `channels: [{name: x, playlists: [{name: p, category: rotation, daily: {start: "25:00"}}]}]`},
		{"reversed dates", `channels: [{name: x, playlists: [{name: p, category: rotation, dates: {from: 2025-02-01, to: 2025-01-01}}]}]`},
		{"bad order", `channels: [{name: x, playlists: [{name: p, category: rotation, order: random}]}]`},
		{"duplicate track", `channels: [{name: x, playlists: [{name: p, category: rotation, tracks: [{title: a, locator: a.mp3}, {title: b, locator: a.mp3}]}]}]`},
		{"bad timezone", `channels: [{name: x, timezone: Mars/Olympus}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument(strings.NewReader(tt.yaml))
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if err := doc.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if _, err := ParseDocument(strings.NewReader(`channels: [{name: x, colour: red}]`)); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestImportStoresChannelActiveFlag(t *testing.T) {
	database := openTestDB(t)
	store := NewGormStore(database)
	im := NewImporter(database, nil, zerolog.Nop())

	for _, tt := range []struct {
		yaml string
		want bool
	}{
		{`channels: [{name: Back Office, active: false}]`, false},
		{`channels: [{name: Back Office}]`, true},
		{`channels: [{name: Back Office, active: false}]`, false},
	} {
		doc, err := ParseDocument(strings.NewReader(tt.yaml))
		if err != nil {
			t.Fatalf("parse: %v", err)
		}
		sum, err := im.Import(context.Background(), doc)
		if err != nil {
			t.Fatalf("import: %v", err)
		}
		ch, err := store.Channel(context.Background(), sum.ChannelIDs[0])
		if err != nil {
			t.Fatalf("channel: %v", err)
		}
		if ch.Active != tt.want {
			t.Fatalf("after %s: active = %v, want %v", tt.yaml, ch.Active, tt.want)
		}
	}
}
