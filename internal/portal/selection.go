package portal

import (
	"context"
	"fmt"
	"strings"

	"github.com/gstrgate/gstrgate/internal/driver"
)

// MatchOption picks the option for want using, in order: exact visible text,
// visible text containing want, value containing want. Within a strategy the
// first option in document order wins.
func MatchOption(opts []driver.Option, want string) (driver.Option, bool) {
	w := normalizeText(want)
	if w == "" {
		return driver.Option{}, false
	}
	for _, o := range opts {
		if normalizeText(o.Text) == w {
			return o, true
		}
	}
	for _, o := range opts {
		if strings.Contains(normalizeText(o.Text), w) {
			return o, true
		}
	}
	for _, o := range opts {
		if strings.Contains(strings.TrimSpace(o.Value), w) {
			return o, true
		}
	}
	return driver.Option{}, false
}

// SelectUnderLabel selects want in the select following label, refreshing and
// re-anchoring once if the control or the option is missing.
func (c *Client) SelectUnderLabel(ctx context.Context, label, want string) error {
	return c.ladder.Run(ctx, fmt.Sprintf("select %q under %q", want, label), func(ctx context.Context) error {
		return c.selectOnce(ctx, label, want)
	})
}

func (c *Client) selectOnce(ctx context.Context, label, want string) error {
	el, err := Resolve(ctx, c.s, []driver.Locator{SelectUnder(label)}, c.opts.ControlTimeout)
	if err != nil {
		return fmt.Errorf("select under %q: %w", label, err)
	}
	_ = el.ScrollIntoView(ctx)

	opts, err := el.Options(ctx)
	if err != nil {
		return fmt.Errorf("read options under %q: %w", label, err)
	}
	opt, ok := MatchOption(opts, want)
	if !ok {
		return fmt.Errorf("%w: %q under %q", ErrOptionNotFound, want, label)
	}
	return el.Select(ctx, opt)
}

func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
