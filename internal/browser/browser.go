// Package browser drives a real Chromium through playwright-go. Each Session
// owns its own Playwright instance, browser and context.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/gstrgate/gstrgate/internal/driver"
)

const (
	defaultActionTimeout = 10 * time.Second
	defaultNavTimeout    = 60 * time.Second
	partialSuffix        = ".part"
)

var (
	_ driver.Launcher = (*Launcher)(nil)
	_ driver.Session  = (*Session)(nil)
	_ driver.Element  = (*Element)(nil)
)

// Launcher starts Chromium sessions. The Playwright driver is installed once per process.
type Launcher struct {
	Headless       bool
	ExecutablePath string
	ActionTimeout  time.Duration
	NavTimeout     time.Duration

	installOnce sync.Once
	installErr  error
}

func (l *Launcher) install() error {
	l.installOnce.Do(func() {
		slog.Info("installing playwright driver", "skip_browsers", l.ExecutablePath != "")
		l.installErr = playwright.Install(&playwright.RunOptions{
			SkipInstallBrowsers: l.ExecutablePath != "",
			Verbose:             false,
		})
	})
	return l.installErr
}

func (l *Launcher) Launch(ctx context.Context, downloadDir string) (driver.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := l.install(); err != nil {
		return nil, fmt.Errorf("install playwright: %w", err)
	}
	if err := os.MkdirAll(downloadDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	opts := playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(l.Headless)}
	if l.ExecutablePath != "" {
		opts.ExecutablePath = playwright.String(l.ExecutablePath)
	}
	b, err := pw.Chromium.Launch(opts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	bc, err := b.NewContext(playwright.BrowserNewContextOptions{
		AcceptDownloads:   playwright.Bool(true),
		IgnoreHttpsErrors: playwright.Bool(true),
	})
	if err != nil {
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	page, err := bc.NewPage()
	if err != nil {
		bc.Close()
		b.Close()
		pw.Stop()
		return nil, fmt.Errorf("new page: %w", err)
	}

	s := &Session{
		pw:      pw,
		browser: b,
		bctx:    bc,
		page:    page,
		dir:     downloadDir,
		action:  orDefault(l.ActionTimeout, defaultActionTimeout),
		nav:     orDefault(l.NavTimeout, defaultNavTimeout),
	}
	page.OnDownload(func(d playwright.Download) {
		s.saves.Add(1)
		go s.saveDownload(d)
	})
	slog.Info("browser session started", "download_dir", downloadDir, "headless", l.Headless)
	return s, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

// Session is one Chromium page. Completed downloads appear in the download
// directory under their suggested name; in-flight ones carry a ".part" suffix.
type Session struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	dir     string
	action  time.Duration
	nav     time.Duration
	saves   sync.WaitGroup
}

func (s *Session) saveDownload(d playwright.Download) {
	defer s.saves.Done()
	target := filepath.Join(s.dir, filepath.Base(d.SuggestedFilename()))
	part := target + partialSuffix
	if err := d.SaveAs(part); err != nil {
		slog.Warn("save download", "file", target, "error", err)
		os.Remove(part)
		return
	}
	if err := os.Rename(part, target); err != nil {
		slog.Warn("finalize download", "file", target, "error", err)
		return
	}
	slog.Info("download saved", "file", target)
}

// budget caps d by the context deadline, in Playwright's milliseconds.
func budget(ctx context.Context, d time.Duration) *float64 {
	if dl, ok := ctx.Deadline(); ok {
		d = min(d, time.Until(dl))
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return playwright.Float(float64(d.Milliseconds()))
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   budget(ctx, s.nav),
	})
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *Session) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   budget(ctx, s.nav),
	})
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (s *Session) Back(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.page.GoBack(playwright.PageGoBackOptions{Timeout: budget(ctx, s.nav)}); err != nil {
		return fmt.Errorf("history back: %w", err)
	}
	return nil
}

func (s *Session) URL() string {
	return s.page.URL()
}

func (s *Session) Find(ctx context.Context, loc driver.Locator, timeout time.Duration) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := Selector(loc)
	if err != nil {
		return nil, err
	}
	l := s.page.Locator(sel).First()
	if timeout <= 0 {
		n, err := l.Count()
		if err != nil || n == 0 {
			return nil, fmt.Errorf("%w: %s", driver.ErrNoSuchElement, loc)
		}
		return &Element{l: l, s: s}, nil
	}
	err = l.WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateAttached,
		Timeout: budget(ctx, timeout),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s", driver.ErrNoSuchElement, loc)
	}
	return &Element{l: l, s: s}, nil
}

// FindAll returns the visible matches of loc in document order.
func (s *Session) FindAll(ctx context.Context, loc driver.Locator) ([]driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := Selector(loc)
	if err != nil {
		return nil, err
	}
	all, err := s.page.Locator(sel).All()
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", loc, err)
	}
	out := make([]driver.Element, 0, len(all))
	for _, l := range all {
		if ok, err := l.IsVisible(); err == nil && ok {
			out = append(out, &Element{l: l, s: s})
		}
	}
	return out, nil
}

func (s *Session) ScrollTo(ctx context.Context, y int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := s.page.Evaluate("y => window.scrollTo(0, y)", y); err != nil {
		return fmt.Errorf("scroll to %d: %w", y, err)
	}
	return nil
}

// Close waits for pending downloads, then tears down the page, browser and driver.
func (s *Session) Close() error {
	s.saves.Wait()
	var errs []error
	if err := s.bctx.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close context: %w", err))
	}
	if err := s.browser.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close browser: %w", err))
	}
	if err := s.pw.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playwright: %w", err))
	}
	return errors.Join(errs...)
}
