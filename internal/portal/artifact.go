package portal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"
)

// partialSuffixes mark downloads that are still being written.
var partialSuffixes = []string{".crdownload", ".part", ".tmp"}

// DownloadDetails opens the statement page from the search results and
// activates the details download. A failed attempt reloads and tries once more.
func (c *Client) DownloadDetails(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			slog.Debug("retrying download activation", "attempt", attempt, "error", lastErr)
			if err := c.s.Reload(ctx); err != nil {
				return fmt.Errorf("reload: %w", err)
			}
			if err := sleep(ctx, c.opts.SettleDelay); err != nil {
				return err
			}
		}
		if lastErr = c.activateDownload(ctx); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &RecoveryError{Action: "download details", Err: lastErr}
}

func (c *Client) activateDownload(ctx context.Context) error {
	if err := c.ensureArtifactPage(ctx); err != nil {
		return err
	}
	el, err := Resolve(ctx, c.s, DownloadButtons, c.opts.ClickBudget)
	if err != nil {
		return fmt.Errorf("download button: %w", err)
	}
	_ = el.ScrollIntoView(ctx)
	return el.Click(ctx)
}

// ensureArtifactPage gets from the search results onto the statement page:
// positional tile buttons first, then a content scan swept across scroll
// offsets, then the same sweep after a reload.
func (c *Client) ensureArtifactPage(ctx context.Context) error {
	if c.onArtifactPage(ctx, c.opts.ProbeTimeout) {
		return nil
	}
	if el, err := Resolve(ctx, c.s, TilePositional, c.opts.ClickBudget); err == nil {
		if err := el.Click(ctx); err == nil && c.onArtifactPage(ctx, c.opts.ArtifactPageWait) {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.sweepTiles(ctx) {
		return nil
	}
	if err := c.s.Reload(ctx); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if err := sleep(ctx, c.opts.SettleDelay); err != nil {
		return err
	}
	if c.sweepTiles(ctx) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("statement tile: %w", ErrElementNotFound)
}

// sweepTiles scrolls down the page in steps so lazily rendered tiles attach,
// clicking the first target inside any tile that mentions the statement.
func (c *Client) sweepTiles(ctx context.Context) bool {
	for y := 0; y <= c.opts.ScrollLimit; y += c.opts.ScrollStep {
		if ctx.Err() != nil {
			return false
		}
		_ = c.s.ScrollTo(ctx, y)
		if sleep(ctx, c.opts.ScrollPause) != nil {
			return false
		}
		tiles, err := c.s.FindAll(ctx, TileContainers)
		if err != nil {
			continue
		}
		for _, tile := range tiles {
			for _, loc := range TileTargets {
				target, err := tile.Find(ctx, loc)
				if err != nil {
					continue
				}
				_ = target.ScrollIntoView(ctx)
				if target.Click(ctx) != nil {
					continue
				}
				if c.onArtifactPage(ctx, c.opts.ArtifactPageWait) {
					return true
				}
			}
		}
	}
	return false
}

func (c *Client) onArtifactPage(ctx context.Context, wait time.Duration) bool {
	_, err := c.s.Find(ctx, ArtifactPageLandmark, wait)
	return err == nil
}

// Snapshot records the file names present in dir, creating it if needed.
func Snapshot(dir string) (map[string]struct{}, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("download dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("download dir: %w", err)
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.Name()] = struct{}{}
	}
	return seen, nil
}

// WaitForDownloads polls dir until no new partial download remains and at
// least one completed file absent from before exists. Partial files left over
// from an earlier download are ignored. It returns that file's name.
func WaitForDownloads(ctx context.Context, dir string, before map[string]struct{}, timeout, poll time.Duration) (string, error) {
	if poll <= 0 {
		poll = DefaultOptions().DownloadPoll
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if name, ok := completedDownload(dir, before); ok {
			return name, nil
		}
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w after %s in %s", ErrDownloadTimeout, timeout, dir)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func completedDownload(dir string, before map[string]struct{}) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var fresh []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if _, old := before[name]; old {
			continue
		}
		if isPartial(name) {
			return "", false
		}
		fresh = append(fresh, name)
	}
	if len(fresh) == 0 {
		return "", false
	}
	slices.Sort(fresh)
	return fresh[0], true
}

func isPartial(name string) bool {
	return slices.ContainsFunc(partialSuffixes, func(s string) bool {
		return strings.HasSuffix(name, s)
	})
}
