// Package portal drives the returns portal through a driver.Session: login
// and CAPTCHA page actions, the Financial Year, Quarter and Period selection
// chain, and statement download.
package portal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gstrgate/gstrgate/internal/driver"
)

// Options holds the waits used by page actions.
type Options struct {
	URL string

	ControlTimeout  time.Duration // resolving one select control
	ClickBudget     time.Duration // shared by a locator list of buttons
	FieldBudget     time.Duration // shared by a locator list of inputs
	AnchorTimeout   time.Duration // quick landmark presence check
	LandmarkTimeout time.Duration // landmark after a navigation
	NavTimeout      time.Duration // menu controls
	ProbeTimeout    time.Duration // single presence probes inside polling loops
	SettleDelay     time.Duration // after a reload

	ScrollStep  int
	ScrollLimit int
	ScrollPause time.Duration

	ArtifactPageWait time.Duration
	DownloadTimeout  time.Duration
	DownloadPoll     time.Duration
	LoginPoll        time.Duration
}

func DefaultOptions() Options {
	return Options{
		URL:              "https://www.gst.gov.in",
		ControlTimeout:   10 * time.Second,
		ClickBudget:      6 * time.Second,
		FieldBudget:      30 * time.Second,
		AnchorTimeout:    3 * time.Second,
		LandmarkTimeout:  12 * time.Second,
		NavTimeout:       20 * time.Second,
		ProbeTimeout:     2 * time.Second,
		SettleDelay:      2 * time.Second,
		ScrollStep:       350,
		ScrollLimit:      4000,
		ScrollPause:      120 * time.Millisecond,
		ArtifactPageWait: 10 * time.Second,
		DownloadTimeout:  240 * time.Second,
		DownloadPoll:     500 * time.Millisecond,
		LoginPoll:        time.Second,
	}
}

// Client runs portal actions against one session. Like the session, it is
// not safe for concurrent use.
type Client struct {
	s      driver.Session
	opts   Options
	ladder *Ladder
}

func New(s driver.Session, opts Options) *Client {
	if opts.ScrollStep <= 0 {
		opts.ScrollStep = DefaultOptions().ScrollStep
	}
	c := &Client{s: s, opts: opts}
	c.ladder = &Ladder{Refresh: c.refresh}
	return c
}

// FetchPeriod selects the period, triggers the details download and waits for
// a new completed file in dir.
func (c *Client) FetchPeriod(ctx context.Context, fy, month, dir string) error {
	before, err := Snapshot(dir)
	if err != nil {
		return err
	}
	if err := c.SelectPeriod(ctx, fy, month); err != nil {
		return err
	}
	if err := c.DownloadDetails(ctx); err != nil {
		return err
	}
	name, err := WaitForDownloads(ctx, dir, before, c.opts.DownloadTimeout, c.opts.DownloadPoll)
	if err != nil {
		return fmt.Errorf("%s: %w", month, err)
	}
	slog.Info("statement downloaded", "fy", fy, "period", month, "file", name)
	return nil
}

// refresh reloads the page, lets it settle and re-establishes the form landmark.
func (c *Client) refresh(ctx context.Context) error {
	if err := c.s.Reload(ctx); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := sleep(ctx, c.opts.SettleDelay); err != nil {
		return err
	}
	return c.Reanchor(ctx)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
