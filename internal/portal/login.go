package portal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotLoggedIn is returned by WaitLoggedIn when no post-login landmark appeared in time.
var ErrNotLoggedIn = errors.New("login not confirmed")

// OpenLogin loads the portal and opens its login form.
func (c *Client) OpenLogin(ctx context.Context) error {
	if err := c.s.Navigate(ctx, c.opts.URL); err != nil {
		return fmt.Errorf("open portal: %w", err)
	}
	el, err := Resolve(ctx, c.s, LoginLinks, c.opts.NavTimeout)
	if err != nil {
		return fmt.Errorf("login link: %w", err)
	}
	return el.Click(ctx)
}

// EnterCredentials fills the login form. It never submits; the CAPTCHA has
// to be solved first.
func (c *Client) EnterCredentials(ctx context.Context, username, password string) error {
	user, err := Resolve(ctx, c.s, UsernameFields, c.opts.FieldBudget)
	if err != nil {
		return fmt.Errorf("username field: %w", err)
	}
	if err := user.Fill(ctx, username); err != nil {
		return fmt.Errorf("fill username: %w", err)
	}
	pass, err := Resolve(ctx, c.s, PasswordFields, c.opts.FieldBudget)
	if err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := pass.Fill(ctx, password); err != nil {
		return fmt.Errorf("fill password: %w", err)
	}
	return nil
}

// CaptureChallenge screenshots the CAPTCHA image to path.
func (c *Client) CaptureChallenge(ctx context.Context, path string) error {
	img, err := Resolve(ctx, c.s, CaptchaImages, c.opts.FieldBudget)
	if err != nil {
		return fmt.Errorf("captcha image: %w", err)
	}
	_ = img.ScrollIntoView(ctx)
	if err := img.Screenshot(ctx, path); err != nil {
		return fmt.Errorf("captcha screenshot: %w", err)
	}
	return nil
}

// SolveChallenge types the solution and submits the login form.
func (c *Client) SolveChallenge(ctx context.Context, text string) error {
	input, err := Resolve(ctx, c.s, CaptchaInputs, c.opts.ControlTimeout)
	if err != nil {
		return fmt.Errorf("captcha input: %w", err)
	}
	if err := input.Fill(ctx, text); err != nil {
		return fmt.Errorf("fill captcha: %w", err)
	}
	btn, err := Resolve(ctx, c.s, VerifyButtons, c.opts.ClickBudget)
	if err != nil {
		return fmt.Errorf("verify button: %w", err)
	}
	if err := btn.Click(ctx); err != nil {
		return fmt.Errorf("verify click: %w", err)
	}
	return nil
}

// WaitLoggedIn polls for a post-login landmark or a dashboard URL.
func (c *Client) WaitLoggedIn(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if c.loggedIn(ctx) {
			return nil
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w within %s", ErrNotLoggedIn, timeout)
		}
		if err := sleep(ctx, min(c.opts.LoginPoll, time.Until(deadline))); err != nil {
			return err
		}
	}
}

func (c *Client) loggedIn(ctx context.Context) bool {
	u := strings.ToLower(c.s.URL())
	if strings.Contains(u, "/dashboard") || strings.Contains(u, "/returns") {
		return true
	}
	_, ok := firstPresent(ctx, c.s, LoggedInLandmarks)
	return ok
}

// OpenReturnsDashboard walks Services, Returns and Returns Dashboard and waits
// for the selection form.
func (c *Client) OpenReturnsDashboard(ctx context.Context) error {
	services, err := c.s.Find(ctx, ServicesMenu, c.opts.NavTimeout)
	if err != nil {
		return fmt.Errorf("services menu: %w", err)
	}
	if err := services.Click(ctx); err != nil {
		return fmt.Errorf("services menu: %w", err)
	}
	returns, err := c.s.Find(ctx, ReturnsMenu, c.opts.NavTimeout)
	if err != nil {
		return fmt.Errorf("returns menu: %w", err)
	}
	if err := returns.Hover(ctx); err != nil {
		return fmt.Errorf("returns menu: %w", err)
	}
	link, err := Resolve(ctx, c.s, DashboardLinks, c.opts.NavTimeout)
	if err != nil {
		return fmt.Errorf("returns dashboard link: %w", err)
	}
	if err := link.Click(ctx); err != nil {
		return fmt.Errorf("returns dashboard link: %w", err)
	}
	if _, err := c.s.Find(ctx, FormLandmark, c.opts.LandmarkTimeout); err != nil {
		return fmt.Errorf("returns dashboard form: %w", err)
	}
	return nil
}

// Reanchor confirms the selection form landmark, navigating back to the
// dashboard through the menus when it is missing.
func (c *Client) Reanchor(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if _, err := c.s.Find(ctx, FormLandmark, c.opts.AnchorTimeout); err == nil {
			return nil
		}
		if lastErr = c.OpenReturnsDashboard(ctx); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("reanchor: %w", lastErr)
}

// BackToDashboard returns to the selection form after a period, using the
// page's back button or else browser history.
func (c *Client) BackToDashboard(ctx context.Context) error {
	if btn, err := Resolve(ctx, c.s, BackButtons, c.opts.ClickBudget); err == nil {
		if err := btn.Click(ctx); err != nil {
			_ = c.s.Back(ctx)
		}
	} else if err := c.s.Back(ctx); err != nil {
		return fmt.Errorf("back: %w", err)
	}
	return c.Reanchor(ctx)
}
