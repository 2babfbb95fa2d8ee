package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/playwright-community/playwright-go"

	"github.com/gstrgate/gstrgate/internal/driver"
)

// Element is a resolved Playwright locator.
type Element struct {
	l playwright.Locator
	s *Session
}

// Click performs an actionability-checked click and falls back to a DOM
// click event when an overlay or animation blocks it.
func (e *Element) Click(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := e.l.Click(playwright.LocatorClickOptions{Timeout: budget(ctx, e.s.action)})
	if err == nil {
		return nil
	}
	if derr := e.l.DispatchEvent("click", nil); derr != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (e *Element) Hover(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.l.Hover(playwright.LocatorHoverOptions{Timeout: budget(ctx, e.s.action)}); err != nil {
		return fmt.Errorf("hover: %w", err)
	}
	return nil
}

func (e *Element) Fill(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.l.Fill(text, playwright.LocatorFillOptions{Timeout: budget(ctx, e.s.action)}); err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	return nil
}

func (e *Element) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.l.InnerText(playwright.LocatorInnerTextOptions{Timeout: budget(ctx, e.s.action)})
}

func (e *Element) Attribute(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return e.l.GetAttribute(name, playwright.LocatorGetAttributeOptions{Timeout: budget(ctx, e.s.action)})
}

func (e *Element) Options(ctx context.Context) ([]driver.Option, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	items, err := e.l.Locator("option").All()
	if err != nil {
		return nil, fmt.Errorf("list options: %w", err)
	}
	out := make([]driver.Option, 0, len(items))
	for _, it := range items {
		text, err := it.TextContent()
		if err != nil {
			return nil, fmt.Errorf("option text: %w", err)
		}
		value, _ := it.GetAttribute("value")
		out = append(out, driver.Option{Text: strings.TrimSpace(text), Value: value})
	}
	return out, nil
}

func (e *Element) Select(ctx context.Context, opt driver.Option) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	values := playwright.SelectOptionValues{Labels: &[]string{opt.Text}}
	if opt.Value != "" {
		values = playwright.SelectOptionValues{Values: &[]string{opt.Value}}
	}
	if _, err := e.l.SelectOption(values, playwright.LocatorSelectOptionOptions{Timeout: budget(ctx, e.s.action)}); err != nil {
		return fmt.Errorf("select %q: %w", opt.Text, err)
	}
	return nil
}

func (e *Element) ScrollIntoView(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.l.ScrollIntoViewIfNeeded(playwright.LocatorScrollIntoViewIfNeededOptions{Timeout: budget(ctx, e.s.action)})
}

func (e *Element) Screenshot(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := e.l.Screenshot(playwright.LocatorScreenshotOptions{
		Path:    playwright.String(path),
		Timeout: budget(ctx, e.s.action),
	})
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	return nil
}

func (e *Element) Find(ctx context.Context, loc driver.Locator) (driver.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel, err := Selector(loc)
	if err != nil {
		return nil, err
	}
	child := e.l.Locator(sel).First()
	if n, err := child.Count(); err != nil || n == 0 {
		return nil, fmt.Errorf("%w: %s", driver.ErrNoSuchElement, loc)
	}
	return &Element{l: child, s: e.s}, nil
}
