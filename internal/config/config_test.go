package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabaseSQLite {
		t.Fatalf("unexpected default backend: %q", cfg.DBBackend)
	}
	if !cfg.Autoplay {
		t.Fatal("autoplay should default to on")
	}

	want := Timing{
		MinChangeInterval: 3 * time.Second,
		ErrorWindow:       10 * time.Second,
		ErrorCeiling:      5,
		HaltCooldown:      30 * time.Second,
		IntervalSweep:     30 * time.Second,
		ResyncInterval:    5 * time.Minute,
		ResyncDebounce:    500 * time.Millisecond,
		PreloadThrottle:   3 * time.Second,
		PreloadFailures:   3,
		PreloadSuspension: 60 * time.Second,
		EagerPreloadDelay: 2 * time.Second,
		RetryDelay:        time.Second,
		MaxInvalidSkips:   8,
	}
	if cfg.Timing != want {
		t.Fatalf("Timing = %+v, want %+v", cfg.Timing, want)
	}
}

func TestLoadReadsTimingOverrides(t *testing.T) {
	t.Setenv("AUTODJ_MIN_CHANGE_INTERVAL", "1500ms")
	t.Setenv("AUTODJ_RESYNC_DEBOUNCE", "250")
	t.Setenv("AUTODJ_ERROR_CEILING", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Timing.MinChangeInterval != 1500*time.Millisecond {
		t.Errorf("MinChangeInterval = %v, want 1.5s", cfg.Timing.MinChangeInterval)
	}
	if cfg.Timing.ResyncDebounce != 250*time.Millisecond {
		t.Errorf("ResyncDebounce = %v, want 250ms", cfg.Timing.ResyncDebounce)
	}
	if cfg.Timing.ErrorCeiling != 7 {
		t.Errorf("ErrorCeiling = %d, want 7", cfg.Timing.ErrorCeiling)
	}
}

func TestLoadFallsBackToGrimnirKeys(t *testing.T) {
	t.Setenv("GRIMNIR_DB_BACKEND", "postgres")
	t.Setenv("GRIMNIR_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBBackend != DatabasePostgres {
		t.Fatalf("unexpected backend: %q", cfg.DBBackend)
	}
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"AUTODJ_DB_BACKEND": "oracle"}},
		{"unknown feed", map[string]string{"AUTODJ_CHANGE_FEED": "kafka"}},
		{"postgres feed on sqlite", map[string]string{"AUTODJ_CHANGE_FEED": "postgres"}},
		{"unknown device", map[string]string{"AUTODJ_DEVICE": "cassette"}},
		{"zero ceiling", map[string]string{"AUTODJ_ERROR_CEILING": "0"}},
		{"production without key", map[string]string{"AUTODJ_ENV": "production"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected load to fail")
			}
		})
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}
