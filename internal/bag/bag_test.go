package bag

import (
	"fmt"
	"testing"

	"github.com/friendsincode/grimnir_autodj/internal/models"
)

func tracks(n int) []models.Track {
	out := make([]models.Track, n)
	for i := range out {
		out[i] = models.Track{ID: fmt.Sprintf("t%d", i), Title: fmt.Sprintf("Track %d", i), Locator: "file:///x"}
	}
	return out
}

func TestDrawNoRepeatUntilExhausted(t *testing.T) {
	const k = 12
	s := NewSeeded(1, 2)
	list := tracks(k)

	for pass := 0; pass < 5; pass++ {
		seen := make(map[string]bool, k)
		for i := 0; i < k; i++ {
			tr, ok := s.Draw("p", list)
			if !ok {
				t.Fatalf("pass %d draw %d: no track", pass, i)
			}
			if seen[tr.ID] {
				t.Fatalf("pass %d: %s repeated before exhaustion", pass, tr.ID)
			}
			seen[tr.ID] = true
		}
		if len(seen) != k {
			t.Fatalf("pass %d saw %d tracks, want %d", pass, len(seen), k)
		}
	}
}

func TestDrawReshufflesBetweenPasses(t *testing.T) {
	s := NewSeeded(7, 7)
	list := tracks(20)

	order := func() string {
		var out string
		for i := 0; i < len(list); i++ {
			tr, _ := s.Draw("p", list)
			out += tr.ID + ","
		}
		return out
	}
	first := order()
	differs := false
	for i := 0; i < 5; i++ {
		if order() != first {
			differs = true
			break
		}
	}
	if !differs {
		t.Fatal("expected a different order on a later pass")
	}
}

func TestProgressIsMonotonicUntilRefill(t *testing.T) {
	s := NewSeeded(3, 4)
	list := tracks(4)

	if got := s.Progress("p"); got != (Progress{}) {
		t.Fatalf("Progress before draw = %+v, want zero", got)
	}

	want := []int{3, 2, 1, 0, 3}
	for i, remaining := range want {
		s.Draw("p", list)
		got := s.Progress("p")
		if got.Remaining != remaining || got.Total != 4 {
			t.Errorf("after draw %d Progress = %+v, want {%d 4}", i+1, got, remaining)
		}
	}
}

func TestDrawSkipsRemovedTracks(t *testing.T) {
	s := NewSeeded(5, 6)
	list := tracks(6)
	s.Draw("p", list)

	shrunk := list[:2]
	for i := 0; i < 10; i++ {
		tr, ok := s.Draw("p", shrunk)
		if !ok {
			t.Fatalf("draw %d: no track", i)
		}
		if tr.ID != "t0" && tr.ID != "t1" {
			t.Fatalf("draw %d returned removed track %s", i, tr.ID)
		}
	}
}

func TestDrawEmptyList(t *testing.T) {
	s := New()
	if _, ok := s.Draw("p", nil); ok {
		t.Fatal("expected no track from empty list")
	}
}

func TestCloneIsIndependentAndPredictive(t *testing.T) {
	s := NewSeeded(9, 10)
	list := tracks(8)
	s.Draw("p", list)

	c := s.Clone()
	predicted, _ := c.Draw("p", list)
	c.Draw("p", list)

	if got := s.Progress("p").Remaining; got != 7 {
		t.Fatalf("clone draws mutated original: remaining = %d, want 7", got)
	}
	actual, _ := s.Draw("p", list)
	if actual.ID != predicted.ID {
		t.Fatalf("clone predicted %s, original drew %s", predicted.ID, actual.ID)
	}

	// Refill shuffles must also agree.
	s2 := NewSeeded(11, 12)
	c2 := s2.Clone()
	a, _ := s2.Draw("q", list)
	b, _ := c2.Draw("q", list)
	if a.ID != b.ID {
		t.Fatalf("clone shuffle diverged: %s vs %s", a.ID, b.ID)
	}
}

func TestRetainDropsUnknownPools(t *testing.T) {
	s := NewSeeded(1, 1)
	s.Draw("keep", tracks(3))
	s.Draw("drop", tracks(3))

	s.Retain(map[string]struct{}{"keep": {}})
	if s.Progress("drop") != (Progress{}) {
		t.Error("expected dropped pool to be gone")
	}
	if s.Progress("keep").Total != 3 {
		t.Error("expected kept pool to survive")
	}
}
