package interval

import (
	"testing"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/models"
)

var noon = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func intervalPlaylist(id string, threshold int) models.Playlist {
	return models.Playlist{
		ID:               id,
		Name:             id,
		Active:           true,
		Category:         models.CategoryInterval,
		TriggerUnit:      models.TriggerTracks,
		TriggerThreshold: threshold,
	}
}

func popIDs(e *Engine, now time.Time) []string {
	var out []string
	for {
		p, ok := e.Pop(now)
		if !ok {
			return out
		}
		out = append(out, p.ID)
	}
}

func TestFiresAtThresholdAndResets(t *testing.T) {
	e := New()
	e.Reconcile([]models.Playlist{intervalPlaylist("spot", 2)})

	if fired := e.RecordRotationTrack(noon); len(fired) != 0 {
		t.Fatalf("fired after 1 track: %v", fired)
	}
	if fired := e.RecordRotationTrack(noon); len(fired) != 1 || fired[0] != "spot" {
		t.Fatalf("fired after 2 tracks = %v, want [spot]", fired)
	}
	if got := e.Counters()["spot"]; got != 0 {
		t.Fatalf("counter after firing = %d, want 0", got)
	}
	if !e.HasPending() {
		t.Fatal("expected pending entry")
	}
}

func TestSimultaneousFiringsQueueBySmallestThreshold(t *testing.T) {
	e := New()
	e.Reconcile([]models.Playlist{intervalPlaylist("five", 5), intervalPlaylist("three", 3)})
	e.counters["five"] = 4
	e.counters["three"] = 2

	fired := e.RecordRotationTrack(noon)
	if len(fired) != 2 {
		t.Fatalf("fired = %v, want both", fired)
	}

	got := popIDs(e, noon)
	if len(got) != 2 || got[0] != "three" || got[1] != "five" {
		t.Fatalf("pop order = %v, want [three five]", got)
	}
}

func TestEnqueueKeepsAscendingThresholdAcrossCycles(t *testing.T) {
	e := New()
	e.Reconcile([]models.Playlist{intervalPlaylist("a", 4), intervalPlaylist("b", 2), intervalPlaylist("c", 4)})
	e.counters["a"] = 4
	e.Sweep(noon)
	e.counters["c"] = 4
	e.counters["b"] = 2
	e.Sweep(noon)

	got := popIDs(e, noon)
	want := []string{"b", "a", "c"}
	if len(got) != len(want) {
		t.Fatalf("pop order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", got, want)
		}
	}
}

func TestCountsWhileOutsideWindowAndSweepFiresOnEntry(t *testing.T) {
	night := intervalPlaylist("night", 3)
	night.DailyStart = "22:00"
	night.DailyEnd = "06:00"

	e := New()
	e.Reconcile([]models.Playlist{night})

	for i := 0; i < 5; i++ {
		if fired := e.RecordRotationTrack(noon); len(fired) != 0 {
			t.Fatalf("fired outside window: %v", fired)
		}
	}
	if got := e.Counters()["night"]; got != 5 {
		t.Fatalf("counter = %d, want 5", got)
	}

	late := time.Date(2025, 3, 10, 22, 0, 30, 0, time.UTC)
	if fired := e.Sweep(late); len(fired) != 1 {
		t.Fatalf("sweep at 22:00 fired %v, want [night]", fired)
	}
}

func TestNoDuplicateWhilePendingOrActive(t *testing.T) {
	e := New()
	e.Reconcile([]models.Playlist{intervalPlaylist("spot", 1)})

	e.RecordRotationTrack(noon)
	e.RecordRotationTrack(noon)
	if n := len(e.Pending()); n != 1 {
		t.Fatalf("pending = %d, want 1", n)
	}

	p, _ := e.Pop(noon)
	e.SetActive(p.ID)
	e.RecordRotationTrack(noon)
	if e.HasPending() {
		t.Fatal("active playlist must not be queued again")
	}

	e.ClearActive()
	if fired := e.Sweep(noon); len(fired) != 1 {
		t.Fatalf("after clearing active, sweep fired %v", fired)
	}
}

func TestPopDiscardsClosedWindowAndRestoresCounter(t *testing.T) {
	p := intervalPlaylist("morning", 2)
	p.DailyStart = "06:00"
	p.DailyEnd = "12:00"

	e := New()
	e.Reconcile([]models.Playlist{p})
	e.counters["morning"] = 2
	e.Sweep(noon)

	later := noon.Add(30 * time.Minute)
	if _, ok := e.Pop(later); ok {
		t.Fatal("expected closed-window entry to be discarded")
	}
	if got := e.Counters()["morning"]; got != 2 {
		t.Fatalf("counter = %d, want restored to 2", got)
	}
}

func TestReconcilePreservesCountsAndDropsRemoved(t *testing.T) {
	e := New()
	e.Reconcile([]models.Playlist{intervalPlaylist("keep", 5), intervalPlaylist("drop", 1)})
	e.RecordRotationTrack(noon)
	e.RecordRotationTrack(noon)
	if !e.HasPending() {
		t.Fatal("expected drop to be pending")
	}

	e.Reconcile([]models.Playlist{intervalPlaylist("keep", 5), intervalPlaylist("new", 4)})
	counters := e.Counters()
	if counters["keep"] != 2 {
		t.Errorf("keep counter = %d, want 2", counters["keep"])
	}
	if counters["new"] != 0 {
		t.Errorf("new counter = %d, want 0", counters["new"])
	}
	if _, ok := counters["drop"]; ok {
		t.Error("drop counter should be discarded")
	}
	if e.HasPending() {
		t.Error("pending entry for removed playlist should be discarded")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	e := New()
	e.Reconcile([]models.Playlist{intervalPlaylist("spot", 1)})
	e.RecordRotationTrack(noon)

	c := e.Clone()
	c.Pop(noon)
	c.RecordRotationTrack(noon)

	if !e.HasPending() {
		t.Fatal("popping the clone emptied the original")
	}
	if e.Counters()["spot"] != 0 {
		t.Fatal("clone counted against the original")
	}
}

func TestRequeueRestoresHeadOfQueue(t *testing.T) {
	e := New()
	e.Reconcile([]models.Playlist{intervalPlaylist("ids", 1), intervalPlaylist("spot", 2)})
	e.counters["spot"] = 1
	e.RecordRotationTrack(noon)

	p, ok := e.Pop(noon)
	if !ok || p.ID != "ids" {
		t.Fatalf("pop = %q, %v", p.ID, ok)
	}
	e.Requeue(p, noon)
	e.Requeue(p, noon)

	if got := popIDs(e, noon); len(got) != 2 || got[0] != "ids" || got[1] != "spot" {
		t.Fatalf("queue after requeue = %v, want [ids spot]", got)
	}

	e.Requeue(models.Playlist{ID: "gone"}, noon)
	if e.HasPending() {
		t.Fatal("unknown playlist was queued")
	}
}
