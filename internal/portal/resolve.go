package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/gstrgate/gstrgate/internal/driver"
)

// Resolve tries locs strictly in order, giving each an equal share of budget,
// and returns the first control that appears.
func Resolve(ctx context.Context, s driver.Session, locs []driver.Locator, budget time.Duration) (driver.Element, error) {
	if len(locs) == 0 {
		return nil, fmt.Errorf("%w: empty locator list", ErrElementNotFound)
	}
	share := budget / time.Duration(len(locs))
	for _, loc := range locs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if el, err := s.Find(ctx, loc, share); err == nil {
			return el, nil
		}
	}
	return nil, fmt.Errorf("%w: %d locators, first %s", ErrElementNotFound, len(locs), locs[0])
}

// firstPresent returns the first element currently matching one of locs, without waiting.
func firstPresent(ctx context.Context, s driver.Session, locs []driver.Locator) (driver.Element, bool) {
	for _, loc := range locs {
		els, err := s.FindAll(ctx, loc)
		if err == nil && len(els) > 0 {
			return els[0], true
		}
	}
	return nil, false
}
