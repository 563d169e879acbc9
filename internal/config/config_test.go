package config

import "testing"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/fleetmonitor")
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("INTEGRATION_MOCK_MODE", "true")
	t.Setenv("MASTER_KEY_CURRENT", "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollIntervalSeconds != 600 {
		t.Fatalf("want default poll interval 600, got %d", cfg.PollIntervalSeconds)
	}
	if cfg.JobTimeoutSeconds != 60 {
		t.Fatalf("want default job timeout 60, got %d", cfg.JobTimeoutSeconds)
	}
	if cfg.AdapterRequestTimeoutSeconds != 8 {
		t.Fatalf("want default adapter timeout 8, got %d", cfg.AdapterRequestTimeoutSeconds)
	}
	if cfg.LockTTL().Seconds() != 1200 {
		t.Fatalf("want lock ttl 1200s (2xP), got %v", cfg.LockTTL())
	}
}

func TestLoad_RejectsNonMockMode(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("INTEGRATION_MOCK_MODE", "false")

	if _, err := Load(); err == nil {
		t.Fatalf("want error when INTEGRATION_MOCK_MODE=false")
	}
}

func TestLoad_RejectsShortMasterKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MASTER_KEY_CURRENT", "too-short")

	if _, err := Load(); err == nil {
		t.Fatalf("want error for a master key that is not 64 hex characters")
	}
}
