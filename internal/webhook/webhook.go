// Package webhook posts a job's final snapshot to its callback URL.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gstrgate/gstrgate/internal/job"
)

const (
	retryAttempts = 8
	retryBase     = time.Second
	retryCap      = 5 * time.Minute
)

// Sender delivers completion callbacks. The zero value is not usable; use New.
type Sender struct {
	client   *http.Client
	attempts int
	base     time.Duration
	cap      time.Duration
	// validate guards against callbacks into private networks.
	validate func(rawURL string) error
}

func New() *Sender {
	return &Sender{
		client:   &http.Client{Timeout: 30 * time.Second},
		attempts: retryAttempts,
		base:     retryBase,
		cap:      retryCap,
		validate: validateURL,
	}
}

// Notify posts j to its callback URL in the background, if it has one.
// ctx should outlive the job (context.WithoutCancel) but end on shutdown.
func (s *Sender) Notify(ctx context.Context, j job.Job) {
	if j.CallbackURL == "" {
		return
	}
	payload, err := json.Marshal(j)
	if err != nil {
		slog.Error("webhook: encode job", "job_id", j.ID, "error", err)
		return
	}
	if err := s.validate(j.CallbackURL); err != nil {
		slog.Warn("webhook: rejected callback URL", "job_id", j.ID, "url", j.CallbackURL, "error", err)
		return
	}
	go s.send(ctx, j.CallbackURL, payload)
}

// validateURL blocks non-HTTP schemes and private/internal IP ranges.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	ips, err := net.LookupHost(u.Hostname())
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP blocked: %s", ipStr)
		}
	}
	return nil
}

// send reports whether a delivery succeeded within the attempt budget.
func (s *Sender) send(ctx context.Context, callbackURL string, payload []byte) bool {
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if ctx.Err() != nil {
			return false
		}
		err := s.post(ctx, callbackURL, payload)
		if err == nil {
			return true
		}
		slog.Warn("webhook attempt failed", "attempt", attempt, "url", callbackURL, "error", err)
		if attempt < s.attempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.jitter(attempt)):
			}
		}
	}
	slog.Error("webhook: all retries exhausted", "url", callbackURL)
	return false
}

// jitter returns a random duration in [0, min(cap, base*2^attempt)).
func (s *Sender) jitter(attempt int) time.Duration {
	exp := min(s.base*(1<<attempt), s.cap)
	if exp <= 0 {
		return 0
	}
	return rand.N(exp)
}

func (s *Sender) post(ctx context.Context, callbackURL string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "gstrgate-webhook")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
