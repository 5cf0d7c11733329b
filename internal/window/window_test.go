package window

import (
	"testing"
	"time"

	"github.com/friendsincode/grimnir_autodj/internal/models"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.ParseInLocation("2006-01-02 15:04", value, time.UTC)
	if err != nil {
		t.Fatalf("parse %q: %v", value, err)
	}
	return ts
}

func TestDailyActiveWrapsMidnight(t *testing.T) {
	tests := []struct {
		now  string
		want bool
	}{
		{"2025-03-10 23:30", true},
		{"2025-03-10 02:00", true},
		{"2025-03-10 22:00", true},
		{"2025-03-10 06:00", true},
		{"2025-03-10 06:01", false},
		{"2025-03-10 12:00", false},
		{"2025-03-10 21:59", false},
	}
	for _, tt := range tests {
		if got := DailyActive("22:00", "06:00", at(t, tt.now)); got != tt.want {
			t.Errorf("DailyActive(22:00-06:00, %s) = %v, want %v", tt.now, got, tt.want)
		}
	}
}

func TestDailyActiveSameDay(t *testing.T) {
	tests := []struct {
		start, end, now string
		want            bool
	}{
		{"09:00", "17:00", "2025-03-10 09:00", true},
		{"09:00", "17:00", "2025-03-10 17:00", true},
		{"09:00", "17:00", "2025-03-10 08:59", false},
		{"09:00", "", "2025-03-10 23:59", true},
		{"", "09:00", "2025-03-10 00:00", true},
		{"", "09:00", "2025-03-10 09:01", false},
		{"", "", "2025-03-10 03:00", true},
		{"bogus", "", "2025-03-10 03:00", true},
	}
	for _, tt := range tests {
		if got := DailyActive(tt.start, tt.end, at(t, tt.now)); got != tt.want {
			t.Errorf("DailyActive(%q, %q, %s) = %v, want %v", tt.start, tt.end, tt.now, got, tt.want)
		}
	}
}

func TestDateActiveInclusive(t *testing.T) {
	from := time.Date(2025, 1, 1, 15, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		now  string
		want bool
	}{
		{"2025-01-15 12:00", true},
		{"2025-01-01 00:00", true},
		{"2025-01-31 23:59", true},
		{"2024-12-31 23:59", false},
		{"2025-02-01 00:00", false},
	}
	for _, tt := range tests {
		if got := DateActive(&from, &to, at(t, tt.now)); got != tt.want {
			t.Errorf("DateActive(2025-01-01..2025-01-31, %s) = %v, want %v", tt.now, got, tt.want)
		}
	}

	if !DateActive(nil, &to, at(t, "2020-06-01 00:00")) {
		t.Error("open lower bound should admit earlier dates")
	}
	if DateActive(&from, nil, at(t, "2024-06-01 00:00")) {
		t.Error("lower bound should reject earlier dates")
	}
}

func TestIsOperationalRequiresActiveAndBothWindows(t *testing.T) {
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	p := models.Playlist{Active: true, ActiveFrom: &from, ActiveTo: &to, DailyStart: "22:00", DailyEnd: "06:00"}

	if !IsOperational(p, at(t, "2025-01-15 23:30")) {
		t.Error("expected operational inside both windows")
	}
	if IsOperational(p, at(t, "2025-01-15 12:00")) {
		t.Error("expected not operational outside daily window")
	}
	if IsOperational(p, at(t, "2025-02-01 23:30")) {
		t.Error("expected not operational outside date range")
	}

	p.Active = false
	if IsOperational(p, at(t, "2025-01-15 23:30")) {
		t.Error("inactive playlist must never be operational")
	}
}

func TestFilterKeepsOrder(t *testing.T) {
	in := []models.Playlist{
		{ID: "a", Active: true},
		{ID: "b", Active: true, DailyStart: "09:00", DailyEnd: "10:00"},
		{ID: "c", Active: true},
	}
	got := Filter(in, at(t, "2025-03-10 12:00"))
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "c" {
		t.Fatalf("Filter = %v, want [a c]", got)
	}
}

func TestValidateClock(t *testing.T) {
	for _, ok := range []string{"", "00:00", "23:59", "07:30:00"} {
		if err := ValidateClock(ok); err != nil {
			t.Errorf("ValidateClock(%q) = %v, want nil", ok, err)
		}
	}
	for _, bad := range []string{"24:00", "7", "12:60", "ab:cd"} {
		if err := ValidateClock(bad); err == nil {
			t.Errorf("ValidateClock(%q) = nil, want error", bad)
		}
	}
}

func TestDateActiveUsesCalendarDateInChannelZone(t *testing.T) {
	loc := time.FixedZone("EST", -5*3600)
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)

	if !DateActive(&from, &to, time.Date(2025, 1, 1, 8, 0, 0, 0, loc)) {
		t.Error("first day should be active in a zone west of UTC")
	}
	if !DateActive(&from, &to, time.Date(2025, 1, 31, 22, 0, 0, 0, loc)) {
		t.Error("last day should be active until local midnight")
	}
	if DateActive(&from, &to, time.Date(2024, 12, 31, 22, 0, 0, 0, loc)) {
		t.Error("day before the range should be inactive")
	}
}
