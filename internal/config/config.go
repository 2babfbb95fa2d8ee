package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddr   string
	APIKeys      []string
	Concurrency  int
	QueueSize    int
	DBPath       string
	PortalURL    string
	Headless     bool
	BrowserPath  string
	DownloadRoot string

	CaptchaTimeout  time.Duration
	LoginTimeout    time.Duration
	DownloadTimeout time.Duration

	JobTTLHours            int
	CleanupIntervalMinutes int
	CORSOrigins            []string
	RateLimitRPS           int

	NATSURL     string
	NATSSubject string
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:   getEnv("GSTRGATE_LISTEN_ADDR", ":8080"),
		DBPath:       getEnv("GSTRGATE_DB_PATH", "gstrgate.db"),
		PortalURL:    getEnv("GSTRGATE_PORTAL_URL", "https://www.gst.gov.in"),
		BrowserPath:  getEnv("GSTRGATE_BROWSER_PATH", ""),
		DownloadRoot: getEnv("GSTRGATE_DOWNLOAD_ROOT", ""),
		NATSURL:      getEnv("GSTRGATE_NATS_URL", ""),
		NATSSubject:  getEnv("GSTRGATE_NATS_SUBJECT", "gstrgate.jobs"),
	}

	rawKeys := getEnv("GSTRGATE_API_KEYS", "")
	if rawKeys == "" {
		return nil, errors.New("GSTRGATE_API_KEYS must not be empty")
	}
	cfg.APIKeys = splitList(rawKeys)
	if len(cfg.APIKeys) == 0 {
		return nil, errors.New("GSTRGATE_API_KEYS contains no valid keys")
	}
	cfg.CORSOrigins = splitList(getEnv("GSTRGATE_CORS_ORIGINS", ""))

	var err error
	cfg.Concurrency, err = getEnvInt("GSTRGATE_CONCURRENCY", 2)
	if err != nil {
		return nil, fmt.Errorf("GSTRGATE_CONCURRENCY: %w", err)
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("GSTRGATE_CONCURRENCY must be > 0")
	}

	cfg.QueueSize, err = getEnvInt("GSTRGATE_QUEUE_SIZE", 100)
	if err != nil {
		return nil, fmt.Errorf("GSTRGATE_QUEUE_SIZE: %w", err)
	}

	cfg.Headless, err = getEnvBool("GSTRGATE_HEADLESS", true)
	if err != nil {
		return nil, fmt.Errorf("GSTRGATE_HEADLESS: %w", err)
	}

	if cfg.CaptchaTimeout, err = getEnvSeconds("GSTRGATE_CAPTCHA_TIMEOUT", 180); err != nil {
		return nil, fmt.Errorf("GSTRGATE_CAPTCHA_TIMEOUT: %w", err)
	}
	if cfg.LoginTimeout, err = getEnvSeconds("GSTRGATE_LOGIN_TIMEOUT", 180); err != nil {
		return nil, fmt.Errorf("GSTRGATE_LOGIN_TIMEOUT: %w", err)
	}
	if cfg.DownloadTimeout, err = getEnvSeconds("GSTRGATE_DOWNLOAD_TIMEOUT", 240); err != nil {
		return nil, fmt.Errorf("GSTRGATE_DOWNLOAD_TIMEOUT: %w", err)
	}

	cfg.JobTTLHours, err = getEnvInt("GSTRGATE_JOB_TTL_HOURS", 24)
	if err != nil {
		return nil, fmt.Errorf("GSTRGATE_JOB_TTL_HOURS: %w", err)
	}
	cfg.CleanupIntervalMinutes, err = getEnvInt("GSTRGATE_CLEANUP_INTERVAL_MINUTES", 15)
	if err != nil {
		return nil, fmt.Errorf("GSTRGATE_CLEANUP_INTERVAL_MINUTES: %w", err)
	}
	if cfg.CleanupIntervalMinutes < 1 {
		return nil, errors.New("GSTRGATE_CLEANUP_INTERVAL_MINUTES must be > 0")
	}

	cfg.RateLimitRPS, err = getEnvInt("GSTRGATE_RATE_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("GSTRGATE_RATE_LIMIT: %w", err)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid boolean %q", v)
	}
	return b, nil
}

// getEnvSeconds reads a positive number of seconds.
func getEnvSeconds(key string, fallback int) (time.Duration, error) {
	n, err := getEnvInt(key, fallback)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be > 0, got %d", n)
	}
	return time.Duration(n) * time.Second, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
