package config

import (
	"testing"
	"time"

	"github.com/overlaykit/access-core/internal/ratelimit"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SERVICE_SECRET", "a-long-enough-shared-secret")
	t.Setenv("TOKEN_SIGNING_KEY", "a-long-enough-signing-key")
}

// TestLoadDefaults verifies a minimal environment loads with the
// documented defaults.
func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr: %q", cfg.ListenAddr)
	}
	if cfg.ServicePrefix != "access" {
		t.Fatalf("ServicePrefix: %q", cfg.ServicePrefix)
	}
	if cfg.QuotaDefaults["uploads"] != 50 || cfg.QuotaDefaults["mod-installs"] != 20 {
		t.Fatalf("QuotaDefaults: %v", cfg.QuotaDefaults)
	}
	if cfg.QuotaWindow != 24*time.Hour {
		t.Fatalf("QuotaWindow: %v", cfg.QuotaWindow)
	}
}

// TestLoadRequiresSecrets verifies startup fails fast on missing or weak
// secrets instead of surfacing at first use.
func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("SERVICE_SECRET", "")
	t.Setenv("TOKEN_SIGNING_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load without secrets: want error")
	}

	t.Setenv("SERVICE_SECRET", "short")
	t.Setenv("TOKEN_SIGNING_KEY", "a-long-enough-signing-key")
	if _, err := Load(); err == nil {
		t.Fatal("Load with weak secret: want error")
	}
}

// TestRateLimits verifies the tier map carries the env-driven allowances.
func TestRateLimits(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_ADMIN_LIMIT", "3")
	t.Setenv("RATE_ADMIN_WINDOW", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	limits := cfg.RateLimits()
	if got := limits[ratelimit.TierAdmin]; got.Requests != 3 || got.Window != 30*time.Second {
		t.Fatalf("admin limit: %+v", got)
	}
	if got := limits[ratelimit.TierRead]; got.Requests != 120 || got.Window != time.Minute {
		t.Fatalf("read limit: %+v", got)
	}
}
