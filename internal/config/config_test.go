package config

import (
	"testing"
	"time"
)

func TestLoad_AllVarsSet(t *testing.T) {
	t.Setenv("GSTRGATE_API_KEYS", "key1, key2")
	t.Setenv("GSTRGATE_LISTEN_ADDR", ":9090")
	t.Setenv("GSTRGATE_CONCURRENCY", "4")
	t.Setenv("GSTRGATE_QUEUE_SIZE", "500")
	t.Setenv("GSTRGATE_DB_PATH", "/tmp/accounts.db")
	t.Setenv("GSTRGATE_HEADLESS", "false")
	t.Setenv("GSTRGATE_CAPTCHA_TIMEOUT", "60")
	t.Setenv("GSTRGATE_DOWNLOAD_TIMEOUT", "30")
	t.Setenv("GSTRGATE_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("GSTRGATE_NATS_URL", "nats://localhost:4222")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":9090")
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "key1" || cfg.APIKeys[1] != "key2" {
		t.Errorf("APIKeys = %v, want [key1 key2]", cfg.APIKeys)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("Concurrency = %d, want 4", cfg.Concurrency)
	}
	if cfg.QueueSize != 500 {
		t.Errorf("QueueSize = %d, want 500", cfg.QueueSize)
	}
	if cfg.DBPath != "/tmp/accounts.db" {
		t.Errorf("DBPath = %q, want %q", cfg.DBPath, "/tmp/accounts.db")
	}
	if cfg.Headless {
		t.Error("Headless = true, want false")
	}
	if cfg.CaptchaTimeout != time.Minute {
		t.Errorf("CaptchaTimeout = %v, want 1m", cfg.CaptchaTimeout)
	}
	if cfg.DownloadTimeout != 30*time.Second {
		t.Errorf("DownloadTimeout = %v, want 30s", cfg.DownloadTimeout)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("CORSOrigins = %v, want 2 entries", cfg.CORSOrigins)
	}
	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("NATSURL = %q", cfg.NATSURL)
	}
}

func TestLoad_MissingAPIKeys(t *testing.T) {
	t.Setenv("GSTRGATE_API_KEYS", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when GSTRGATE_API_KEYS is empty, got nil")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"zero concurrency", "GSTRGATE_CONCURRENCY", "0"},
		{"non-numeric queue size", "GSTRGATE_QUEUE_SIZE", "lots"},
		{"bad headless flag", "GSTRGATE_HEADLESS", "maybe"},
		{"zero captcha timeout", "GSTRGATE_CAPTCHA_TIMEOUT", "0"},
		{"negative download timeout", "GSTRGATE_DOWNLOAD_TIMEOUT", "-5"},
		{"zero cleanup interval", "GSTRGATE_CLEANUP_INTERVAL_MINUTES", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GSTRGATE_API_KEYS", "somekey")
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q, got nil", tt.key, tt.value)
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GSTRGATE_API_KEYS", "defaultkey")
	for _, key := range []string{
		"GSTRGATE_LISTEN_ADDR", "GSTRGATE_CONCURRENCY", "GSTRGATE_QUEUE_SIZE",
		"GSTRGATE_PORTAL_URL", "GSTRGATE_HEADLESS", "GSTRGATE_CAPTCHA_TIMEOUT",
		"GSTRGATE_LOGIN_TIMEOUT", "GSTRGATE_DOWNLOAD_TIMEOUT", "GSTRGATE_RATE_LIMIT",
		"GSTRGATE_NATS_SUBJECT", "GSTRGATE_JOB_TTL_HOURS",
	} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error with defaults, got: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("default ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
	if cfg.Concurrency != 2 {
		t.Errorf("default Concurrency = %d, want 2", cfg.Concurrency)
	}
	if cfg.PortalURL != "https://www.gst.gov.in" {
		t.Errorf("default PortalURL = %q", cfg.PortalURL)
	}
	if !cfg.Headless {
		t.Error("default Headless = false, want true")
	}
	if cfg.CaptchaTimeout != 180*time.Second {
		t.Errorf("default CaptchaTimeout = %v, want 3m0s", cfg.CaptchaTimeout)
	}
	if cfg.LoginTimeout != 180*time.Second {
		t.Errorf("default LoginTimeout = %v, want 3m0s", cfg.LoginTimeout)
	}
	if cfg.DownloadTimeout != 240*time.Second {
		t.Errorf("default DownloadTimeout = %v, want 4m0s", cfg.DownloadTimeout)
	}
	if cfg.RateLimitRPS != 5 {
		t.Errorf("default RateLimitRPS = %d, want 5", cfg.RateLimitRPS)
	}
	if cfg.NATSSubject != "gstrgate.jobs" {
		t.Errorf("default NATSSubject = %q", cfg.NATSSubject)
	}
	if cfg.JobTTLHours != 24 {
		t.Errorf("default JobTTLHours = %d, want 24", cfg.JobTTLHours)
	}
}
