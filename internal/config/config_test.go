package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvStringSlice(t *testing.T) {
	tests := []struct {
		name         string
		envValue     string
		defaultValue []string
		want         []string
	}{
		{
			name:         "empty environment variable uses default",
			envValue:     "",
			defaultValue: []string{"default1", "default2"},
			want:         []string{"default1", "default2"},
		},
		{
			name:         "single value",
			envValue:     "value1",
			defaultValue: []string{"default"},
			want:         []string{"value1"},
		},
		{
			name:         "values with whitespace",
			envValue:     "value1, value2 , value3",
			defaultValue: []string{"default"},
			want:         []string{"value1", "value2", "value3"},
		},
		{
			name:         "empty values filtered out",
			envValue:     "value1,,value2",
			defaultValue: []string{"default"},
			want:         []string{"value1", "value2"},
		},
		{
			name:         "only commas uses default",
			envValue:     ",,,",
			defaultValue: []string{"default"},
			want:         []string{"default"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_STRING_SLICE"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			}

			got := getEnvStringSlice(key, tt.defaultValue)

			if len(got) != len(tt.want) {
				t.Errorf("getEnvStringSlice() length = %v, want %v", len(got), len(tt.want))
				return
			}

			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("getEnvStringSlice()[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		want     time.Duration
	}{
		{"unset uses default", "", time.Second},
		{"go duration", "800ms", 800 * time.Millisecond},
		{"bare milliseconds", "1500", 1500 * time.Millisecond},
		{"seconds", "15s", 15 * time.Second},
		{"garbage uses default", "soon", time.Second},
		{"negative uses default", "-5s", time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_DURATION"
			if tt.envValue != "" {
				os.Setenv(key, tt.envValue)
				defer os.Unsetenv(key)
			}

			if got := getEnvDuration(key, time.Second); got != tt.want {
				t.Errorf("getEnvDuration() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.DebounceWindow != DefaultDebounceWindow {
		t.Errorf("DebounceWindow = %v, want %v", cfg.DebounceWindow, DefaultDebounceWindow)
	}
	if cfg.UnknownGrace != DefaultUnknownGrace {
		t.Errorf("UnknownGrace = %v, want %v", cfg.UnknownGrace, DefaultUnknownGrace)
	}
	if cfg.AutoDismiss != DefaultAutoDismiss {
		t.Errorf("AutoDismiss = %v, want %v", cfg.AutoDismiss, DefaultAutoDismiss)
	}
	if cfg.CountryCode != DefaultCountryCode {
		t.Errorf("CountryCode = %q, want %q", cfg.CountryCode, DefaultCountryCode)
	}
	if cfg.TLS == nil || cfg.TLS.Enabled {
		t.Error("TLS should be configured but disabled by default")
	}
}

func TestLoadOverlayCeilingNeverBelowBudget(t *testing.T) {
	os.Setenv("PRONTO_AUTO_DISMISS", "30s")
	os.Setenv("PRONTO_OVERLAY_MAX_LIFETIME", "10s")
	defer os.Unsetenv("PRONTO_AUTO_DISMISS")
	defer os.Unsetenv("PRONTO_OVERLAY_MAX_LIFETIME")

	cfg := Load()

	if cfg.OverlayMaxLifetime < cfg.AutoDismiss+cfg.UnknownGrace {
		t.Errorf("OverlayMaxLifetime = %v, must be at least %v", cfg.OverlayMaxLifetime, cfg.AutoDismiss+cfg.UnknownGrace)
	}
}

func TestDBPath(t *testing.T) {
	cfg := &Config{DataDir: "/var/lib/pronto"}
	if got := cfg.DBPath(); got != "/var/lib/pronto/pronto.db" {
		t.Errorf("DBPath() = %q", got)
	}
	if got := cfg.CertsPath(); got != "/var/lib/pronto/certs" {
		t.Errorf("CertsPath() = %q", got)
	}
}
