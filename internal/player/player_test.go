package player

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_autodj/internal/catalog"
	"github.com/friendsincode/grimnir_autodj/internal/config"
	"github.com/friendsincode/grimnir_autodj/internal/db"
	"github.com/friendsincode/grimnir_autodj/internal/device"
	"github.com/friendsincode/grimnir_autodj/internal/eventbus"
	"github.com/friendsincode/grimnir_autodj/internal/events"
	"github.com/friendsincode/grimnir_autodj/internal/leadership"
	"github.com/friendsincode/grimnir_autodj/internal/orchestrator"
)

const (
	lobbyID  = "00000000-0000-0000-0000-00000000000a"
	patioID  = "00000000-0000-0000-0000-00000000000b"
	closedID = "00000000-0000-0000-0000-00000000000c"
	emptyID  = "00000000-0000-0000-0000-00000000000d"
)

const catalogYAML = `
channels:
  - id: 00000000-0000-0000-0000-00000000000a
    name: Lobby
    timezone: America/New_York
    playlists:
      - name: Lobby Mix
        category: rotation
        order: sequential
        tracks:
          - {title: Lobby One, locator: lobby-1.mp3}
          - {title: Lobby Two, locator: lobby-2.mp3}
  - id: 00000000-0000-0000-0000-00000000000b
    name: Patio
    playlists:
      - name: Patio Mix
        category: rotation
        tracks:
          - {title: Patio One, locator: patio-1.mp3}
  - id: 00000000-0000-0000-0000-00000000000c
    name: Closed
    active: false
    playlists:
      - name: Closed Mix
        category: rotation
        tracks:
          - {title: Closed One, locator: closed-1.mp3}
  - id: 00000000-0000-0000-0000-00000000000d
    name: Empty
`

type harness struct {
	player *Player
	feed   *eventbus.MemoryFeed

	mu      sync.Mutex
	devices map[string][]*device.Simulated
}

func (h *harness) lastDevice(channelID string) *device.Simulated {
	h.mu.Lock()
	defer h.mu.Unlock()
	devs := h.devices[channelID]
	if len(devs) == 0 {
		return nil
	}
	return devs[len(devs)-1]
}

func (h *harness) deviceCount(channelID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.devices[channelID])
}

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
	return database
}

func newHarness(t *testing.T, leases *leadership.Manager) *harness {
	t.Helper()
	database := openTestDB(t)
	bus := events.NewBus()
	feed := eventbus.NewMemoryFeed(bus)

	doc, err := catalog.ParseDocument(strings.NewReader(catalogYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := catalog.NewImporter(database, nil, zerolog.Nop()).Import(context.Background(), doc); err != nil {
		t.Fatalf("import: %v", err)
	}

	store := catalog.NewGormStore(database)
	h := &harness{feed: feed, devices: make(map[string][]*device.Simulated)}
	h.player = New(Deps{
		Config: &config.Config{
			Autoplay: true,
			Timing:   config.Timing{ResyncDebounce: 10 * time.Millisecond},
		},
		Loader:   catalog.NewLoader(store, zerolog.Nop()),
		Channels: store,
		Feed:     feed,
		Leases:   leases,
		Bus:      bus,
		NewDevice: func(channelID string) (device.Device, error) {
			dev := device.NewSimulated(device.SimulatedOptions{})
			h.mu.Lock()
			h.devices[channelID] = append(h.devices[channelID], dev)
			h.mu.Unlock()
			return dev, nil
		},
		Logger: zerolog.Nop(),
		Options: func(o *orchestrator.Options) {
			o.MinChangeInterval = 0
		},
	})
	t.Cleanup(func() { _ = h.player.Stop(context.Background()) })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInitializeAndSwitchChannels(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.player.InitializeChannel(ctx, lobbyID); err != nil {
		t.Fatalf("initialize lobby: %v", err)
	}
	waitFor(t, "lobby track", func() bool {
		st := h.player.State()
		return st.CurrentTrack != nil && st.CurrentTrack.Title == "Lobby One" && st.Playing
	})
	lobbyDev := h.lastDevice(lobbyID)

	if err := h.player.InitializeChannel(ctx, lobbyID); err != nil {
		t.Fatalf("re-initialize lobby: %v", err)
	}
	if n := h.deviceCount(lobbyID); n != 1 {
		t.Fatalf("re-initializing the active channel rebuilt it (%d devices)", n)
	}

	if err := h.player.InitializeChannel(ctx, patioID); err != nil {
		t.Fatalf("initialize patio: %v", err)
	}
	if got := h.player.ChannelID(); got != patioID {
		t.Fatalf("active channel = %q, want patio", got)
	}
	if _, playing := lobbyDev.Current(); playing {
		t.Fatal("lobby device still playing after switch")
	}
	waitFor(t, "patio track", func() bool {
		st := h.player.State()
		return st.ChannelID == patioID && st.CurrentTrack != nil && st.CurrentTrack.Title == "Patio One"
	})
}

func TestInitializeRejectsUnplayableChannels(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		channel string
		check   func(error) bool
	}{
		{"blank id", "", func(err error) bool { return errors.Is(err, ErrEmptyChannelID) }},
		{"disabled channel", closedID, func(err error) bool { return errors.Is(err, ErrChannelNotActive) }},
		{"unknown channel", "00000000-0000-0000-0000-0000000000ff", func(err error) bool { return errors.Is(err, catalog.ErrChannelNotFound) }},
		{"no playlists", emptyID, func(err error) bool { return errors.Is(err, catalog.ErrNoPlaylists) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.player.InitializeChannel(ctx, tt.channel)
			if !tt.check(err) {
				t.Fatalf("initialize = %v", err)
			}
			if h.player.ChannelID() != "" {
				t.Fatal("a failed initialization left a channel active")
			}
		})
	}
}

func TestOperationsWithoutChannel(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for name, op := range map[string]func(context.Context) error{
		"toggle":      h.player.TogglePlayPause,
		"advance":     h.player.AdvanceManually,
		"acknowledge": h.player.Acknowledge,
	} {
		if err := op(ctx); !errors.Is(err, ErrChannelNotActive) {
			t.Errorf("%s = %v, want ErrChannelNotActive", name, err)
		}
	}
	if _, err := h.player.PeekNext(ctx); !errors.Is(err, ErrChannelNotActive) {
		t.Errorf("peek = %v, want ErrChannelNotActive", err)
	}
	if st := h.player.State(); st.Active {
		t.Errorf("state reports an active channel: %+v", st)
	}
	if err := h.player.Stop(ctx); err != nil {
		t.Errorf("stop = %v", err)
	}
}

func TestChangeSignalReconcilesActiveChannel(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.player.InitializeChannel(ctx, lobbyID); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	waitFor(t, "first track", func() bool { return h.player.State().CurrentTrack != nil })

	if err := h.feed.Publish(ctx, eventbus.Change{ChannelID: lobbyID, Kind: eventbus.KindTracks}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, "push sync", func() bool {
		st := h.player.State()
		return st.LastSync != nil && st.LastSync.Trigger == "push"
	})
}

func TestLeaseHeldElsewhereBlocksChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := leadership.Config{RedisAddr: mr.Addr(), TTL: time.Second, RenewInterval: 20 * time.Millisecond}

	cfg.InstanceID = "other"
	other, err := leadership.NewManager(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer other.Close()
	held, err := other.Acquire(context.Background(), lobbyID)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	cfg.InstanceID = "self"
	mine, err := leadership.NewManager(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer mine.Close()

	h := newHarness(t, mine)
	if err := h.player.InitializeChannel(context.Background(), lobbyID); !errors.Is(err, leadership.ErrHeld) {
		t.Fatalf("initialize = %v, want ErrHeld", err)
	}

	_ = held.Release(context.Background())
	if err := h.player.InitializeChannel(context.Background(), lobbyID); err != nil {
		t.Fatalf("initialize after release: %v", err)
	}
}

func TestLostLeaseStopsChannel(t *testing.T) {
	mr := miniredis.RunT(t)
	leases, err := leadership.NewManager(leadership.Config{
		RedisAddr:     mr.Addr(),
		TTL:           time.Second,
		RenewInterval: 20 * time.Millisecond,
		InstanceID:    "self",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer leases.Close()

	h := newHarness(t, leases)
	if err := h.player.InitializeChannel(context.Background(), lobbyID); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := mr.Set(leadership.KeyPrefix+lobbyID, "intruder"); err != nil {
		t.Fatalf("set: %v", err)
	}
	waitFor(t, "channel stop", func() bool { return h.player.ChannelID() == "" })
}

func TestRejectedChannelReleasesLease(t *testing.T) {
	mr := miniredis.RunT(t)
	leases, err := leadership.NewManager(leadership.Config{
		RedisAddr:     mr.Addr(),
		TTL:           time.Second,
		RenewInterval: 20 * time.Millisecond,
		InstanceID:    "self",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer leases.Close()

	h := newHarness(t, leases)
	if err := h.player.InitializeChannel(context.Background(), closedID); !errors.Is(err, ErrChannelNotActive) {
		t.Fatalf("initialize = %v, want ErrChannelNotActive", err)
	}
	if mr.Exists(leadership.KeyPrefix + closedID) {
		t.Fatal("lease for a rejected channel was not released")
	}
}

func TestPeriodicResyncWithoutChangeFeed(t *testing.T) {
	h := newHarness(t, nil)
	h.player.deps.Feed = downFeed{}
	h.player.deps.Config.Timing.ResyncInterval = 20 * time.Millisecond

	if err := h.player.InitializeChannel(context.Background(), lobbyID); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	defer h.player.Stop(context.Background())

	waitFor(t, "timer sync", func() bool {
		st := h.player.State()
		return st.LastSync != nil && st.LastSync.Trigger == "timer"
	})
}

type downFeed struct{}

func (downFeed) Publish(context.Context, eventbus.Change) error { return errors.New("feed down") }

func (downFeed) Subscribe(context.Context, string) (<-chan eventbus.Change, func(), error) {
	return nil, nil, errors.New("feed down")
}

func (downFeed) Close() error { return nil }
