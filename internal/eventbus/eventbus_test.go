package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_autodj/internal/config"
	"github.com/friendsincode/grimnir_autodj/internal/events"
)

func receive(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("feed closed")
		}
		return c
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for change")
	}
	return Change{}
}

func expectQuiet(t *testing.T, ch <-chan Change, wait time.Duration) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change %+v", c)
	case <-time.After(wait):
	}
}

// checkFanOut publishes on a and expects exactly one delivery on each node.
func checkFanOut(t *testing.T, a, b Feed) {
	t.Helper()
	ctx := context.Background()

	onA, cancelA, err := a.Subscribe(ctx, "lobby")
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	defer cancelA()
	onB, cancelB, err := b.Subscribe(ctx, "lobby")
	if err != nil {
		t.Fatalf("subscribe b: %v", err)
	}
	defer cancelB()
	otherB, cancelOther, err := b.Subscribe(ctx, "patio")
	if err != nil {
		t.Fatalf("subscribe b patio: %v", err)
	}
	defer cancelOther()

	if err := a.Publish(ctx, Change{ChannelID: "lobby", Kind: KindTracks, PlaylistID: "p1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := receive(t, onB)
	if got.ChannelID != "lobby" || got.Kind != KindTracks || got.PlaylistID != "p1" {
		t.Fatalf("remote node got %+v", got)
	}
	if got := receive(t, onA); got.PlaylistID != "p1" {
		t.Fatalf("publishing node got %+v", got)
	}

	// The publisher's own message comes back over the wire and is skipped.
	expectQuiet(t, onA, 200*time.Millisecond)
	expectQuiet(t, onB, 0)
	expectQuiet(t, otherB, 0)

	// Release the remote subscription and subscribe again.
	cancelB()
	again, cancelAgain, err := b.Subscribe(ctx, "lobby")
	if err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	defer cancelAgain()
	if err := a.Publish(ctx, Change{ChannelID: "lobby", Kind: KindPlaylists}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := receive(t, again); got.Kind != KindPlaylists {
		t.Fatalf("after resubscribe got %+v", got)
	}
}

func TestMemoryFeedFiltersByChannel(t *testing.T) {
	feed := NewMemoryFeed(events.NewBus())
	ctx := context.Background()

	ch, cancel, err := feed.Subscribe(ctx, "lobby")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	_ = feed.Publish(ctx, Change{ChannelID: "patio", Kind: KindPlaylists})
	_ = feed.Publish(ctx, Change{ChannelID: "lobby", Kind: KindTracks, PlaylistID: "p1"})

	got := receive(t, ch)
	if got.ChannelID != "lobby" || got.Kind != KindTracks || got.PlaylistID != "p1" {
		t.Fatalf("unexpected change %+v", got)
	}
	if got.At.IsZero() {
		t.Fatal("expected publish time to be stamped")
	}
}

func TestMemoryFeedCancelClosesChannel(t *testing.T) {
	feed := NewMemoryFeed(nil)
	ch, cancel, err := feed.Subscribe(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemoryFeedEndsWithContext(t *testing.T) {
	feed := NewMemoryFeed(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, err := feed.Subscribe(ctx, "lobby")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after context cancel")
	}
}

func TestDecodeTriggerNotification(t *testing.T) {
	env, err := decode([]byte(`{"channel_id":"c1","kind":"tracks","playlist_id":"p9","source":"postgres"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.ChannelID != "c1" || env.Kind != KindTracks || env.PlaylistID != "p9" || env.NodeID != "" {
		t.Fatalf("unexpected envelope %+v", env)
	}

	if _, err := decode([]byte(`{"kind":"tracks"}`)); err == nil {
		t.Fatal("expected missing channel_id to fail")
	}

	env, err = decode([]byte(`{"channel_id":"c1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Kind != KindPlaylists {
		t.Fatalf("default kind = %q, want playlists", env.Kind)
	}
}

func TestOpenFallsBackToMemory(t *testing.T) {
	cfg := &config.Config{
		ChangeFeed: config.FeedRedis,
		RedisAddr:  "127.0.0.1:1",
		InstanceID: "test",
	}
	feed := Open(cfg, nil, events.NewBus(), zerolog.Nop())
	if _, ok := feed.(*MemoryFeed); !ok {
		t.Fatalf("Open returned %T, want *MemoryFeed", feed)
	}

	cfg.ChangeFeed = config.FeedPostgres
	if _, ok := Open(cfg, nil, nil, zerolog.Nop()).(*MemoryFeed); !ok {
		t.Fatal("postgres feed without database should fall back")
	}
}

func TestRedisFeedFansOutAcrossNodes(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()

	a, err := NewRedisFeed(cfg, nil, "node-a", zerolog.Nop())
	if err != nil {
		t.Fatalf("feed a: %v", err)
	}
	defer a.Close()
	b, err := NewRedisFeed(cfg, nil, "node-b", zerolog.Nop())
	if err != nil {
		t.Fatalf("feed b: %v", err)
	}
	defer b.Close()

	checkFanOut(t, a, b)
}

func TestRedisFeedDropsMalformedMessages(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()

	f, err := NewRedisFeed(cfg, nil, "node-a", zerolog.Nop())
	if err != nil {
		t.Fatalf("feed: %v", err)
	}
	defer f.Close()

	ch, cancel, err := f.Subscribe(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	mr.Publish(RedisChannelPrefix+"lobby", "not json")
	mr.Publish(RedisChannelPrefix+"lobby", `{"channel_id":"lobby","kind":"tracks","node_id":"node-z"}`)

	if got := receive(t, ch); got.Kind != KindTracks {
		t.Fatalf("got %+v", got)
	}
}

func TestNewRedisFeedFailsWithoutServer(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	if _, err := NewRedisFeed(cfg, nil, "node-a", zerolog.Nop()); err == nil {
		t.Fatal("expected ping failure")
	}
}

func runNATSServer(t *testing.T) string {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{
		ServerName: "autodj-test",
		Host:       "127.0.0.1",
		Port:       -1,
		NoLog:      true,
		NoSigs:     true,
	})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns.ClientURL()
}

func TestNATSFeedFansOutAcrossNodes(t *testing.T) {
	cfg := DefaultNATSConfig()
	cfg.URL = runNATSServer(t)

	a, err := NewNATSFeed(cfg, nil, "node-a", zerolog.Nop())
	if err != nil {
		t.Fatalf("feed a: %v", err)
	}
	defer a.Close()
	b, err := NewNATSFeed(cfg, nil, "node-b", zerolog.Nop())
	if err != nil {
		t.Fatalf("feed b: %v", err)
	}
	defer b.Close()

	checkFanOut(t, a, b)
}
