package portal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gstrgate/gstrgate/internal/driver"
	"github.com/gstrgate/gstrgate/internal/driver/drivertest"
)

func TestOpenLoginAndCredentials(t *testing.T) {
	p := drivertest.NewPage()
	link := p.Add(&drivertest.Element{Name: "login", Locators: []driver.Locator{LoginLinks[3]}})
	user := p.Add(&drivertest.Element{Name: "user", Locators: []driver.Locator{UsernameFields[2]}})
	pass := p.Add(&drivertest.Element{Name: "pass", Locators: []driver.Locator{PasswordFields[2]}})
	c := New(p, testOptions())

	ctx := context.Background()
	if err := c.OpenLogin(ctx); err != nil {
		t.Fatalf("OpenLogin: %v", err)
	}
	if len(p.Visited) != 1 || p.Visited[0] != "https://portal.test" {
		t.Errorf("visited = %v", p.Visited)
	}
	if link.ClickCount() != 1 {
		t.Errorf("login link clicks = %d", link.ClickCount())
	}
	if err := c.EnterCredentials(ctx, "27AAAAA0000A1Z5", "secret"); err != nil {
		t.Fatalf("EnterCredentials: %v", err)
	}
	if user.Filled != "27AAAAA0000A1Z5" || pass.Filled != "secret" {
		t.Errorf("filled user %q pass %q", user.Filled, pass.Filled)
	}
}

func TestEnterCredentialsMissingPassword(t *testing.T) {
	p := drivertest.NewPage()
	p.Add(&drivertest.Element{Name: "user", Locators: []driver.Locator{UsernameFields[0]}})
	c := New(p, testOptions())
	if err := c.EnterCredentials(context.Background(), "u", "p"); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("err = %v, want ErrElementNotFound", err)
	}
}

func TestChallengeCaptureAndSolve(t *testing.T) {
	p := drivertest.NewPage()
	img := p.Add(&drivertest.Element{Name: "captcha", Locators: []driver.Locator{CaptchaImages[1]}})
	input := p.Add(&drivertest.Element{Name: "answer", Locators: []driver.Locator{CaptchaInputs[0]}})
	verify := p.Add(&drivertest.Element{
		Name:     "verify",
		Locators: []driver.Locator{VerifyButtons[0]},
		OnClick:  func() error { p.SetURL("https://portal.test/dashboard"); return nil },
	})
	c := New(p, testOptions())
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "captcha.png")
	if err := c.CaptureChallenge(ctx, path); err != nil {
		t.Fatalf("CaptureChallenge: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("challenge image not written: %v", err)
	}
	if len(img.Shots) != 1 {
		t.Errorf("shots = %v", img.Shots)
	}

	if err := c.SolveChallenge(ctx, "AB12CD"); err != nil {
		t.Fatalf("SolveChallenge: %v", err)
	}
	if input.Filled != "AB12CD" || verify.ClickCount() != 1 {
		t.Errorf("filled %q, verify clicks %d", input.Filled, verify.ClickCount())
	}
	if err := c.WaitLoggedIn(ctx, time.Second); err != nil {
		t.Errorf("WaitLoggedIn: %v", err)
	}
}

func TestSolveChallengeWithoutVerifyButton(t *testing.T) {
	p := drivertest.NewPage()
	p.Add(&drivertest.Element{Name: "answer", Locators: []driver.Locator{CaptchaInputs[0]}})
	c := New(p, testOptions())
	if err := c.SolveChallenge(context.Background(), "x"); !errors.Is(err, ErrElementNotFound) {
		t.Errorf("err = %v, want ErrElementNotFound", err)
	}
}

func TestWaitLoggedIn(t *testing.T) {
	t.Run("landmark", func(t *testing.T) {
		p := drivertest.NewPage()
		p.SetURL("https://portal.test/login")
		c := New(p, testOptions())
		go func() {
			time.Sleep(10 * time.Millisecond)
			p.Add(&drivertest.Element{Name: "services", Locators: []driver.Locator{LoggedInLandmarks[0]}})
		}()
		if err := c.WaitLoggedIn(context.Background(), 2*time.Second); err != nil {
			t.Errorf("WaitLoggedIn: %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		p := drivertest.NewPage()
		p.SetURL("https://portal.test/login")
		c := New(p, testOptions())
		start := time.Now()
		err := c.WaitLoggedIn(context.Background(), 20*time.Millisecond)
		if !errors.Is(err, ErrNotLoggedIn) {
			t.Fatalf("err = %v, want ErrNotLoggedIn", err)
		}
		if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
			t.Errorf("gave up after %s, before the timeout", elapsed)
		}
	})
}

func TestOpenReturnsDashboard(t *testing.T) {
	p := drivertest.NewPage()
	services := p.Add(&drivertest.Element{Name: "services", Locators: []driver.Locator{ServicesMenu}})
	returns := p.Add(&drivertest.Element{Name: "returns", Locators: []driver.Locator{ReturnsMenu}})
	p.Add(&drivertest.Element{
		Name:     "dashboard",
		Locators: []driver.Locator{DashboardLinks[1]},
		OnClick: func() error {
			p.Add(&drivertest.Element{Name: "landmark", Locators: []driver.Locator{FormLandmark}})
			return nil
		},
	})
	c := New(p, testOptions())
	if err := c.OpenReturnsDashboard(context.Background()); err != nil {
		t.Fatalf("OpenReturnsDashboard: %v", err)
	}
	if services.ClickCount() != 1 || returns.Hovers != 1 {
		t.Errorf("services clicks %d, returns hovers %d", services.ClickCount(), returns.Hovers)
	}
}

func TestBackToDashboard(t *testing.T) {
	t.Run("button", func(t *testing.T) {
		f := newForm()
		back := f.page.Add(&drivertest.Element{Name: "back", Locators: []driver.Locator{BackButtons[0]}})
		c := New(f.page, testOptions())
		if err := c.BackToDashboard(context.Background()); err != nil {
			t.Fatal(err)
		}
		if back.ClickCount() != 1 || f.page.Backs != 0 {
			t.Errorf("button clicks %d, history backs %d", back.ClickCount(), f.page.Backs)
		}
	})

	t.Run("history", func(t *testing.T) {
		f := newForm()
		c := New(f.page, testOptions())
		if err := c.BackToDashboard(context.Background()); err != nil {
			t.Fatal(err)
		}
		if f.page.Backs != 1 {
			t.Errorf("history backs = %d, want 1", f.page.Backs)
		}
	})

	t.Run("landmark lost", func(t *testing.T) {
		p := drivertest.NewPage()
		c := New(p, testOptions())
		if err := c.BackToDashboard(context.Background()); err == nil {
			t.Error("want error when the form cannot be re-established")
		}
	})
}
