package portal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gstrgate/gstrgate/internal/period"
)

// State is a step of the period selection chain.
type State int

const (
	SelectYear State = iota
	SelectQuarter
	SelectPeriod
	Submit
	Done
)

func (s State) String() string {
	switch s {
	case SelectYear:
		return "SELECT_YEAR"
	case SelectQuarter:
		return "SELECT_QUARTER"
	case SelectPeriod:
		return "SELECT_PERIOD"
	case Submit:
		return "SUBMIT"
	case Done:
		return "DONE"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// maxChainRestarts bounds how often a failed chain re-enters SelectYear.
const maxChainRestarts = 2

// SelectPeriod fills Financial Year, Quarter and Period in order and submits
// the search. The dependent selects reset on reload, so a failure after
// SelectYear restarts the chain from the beginning instead of resuming.
func (c *Client) SelectPeriod(ctx context.Context, fy, month string) error {
	month = period.Normalize(month)
	quarter := period.Quarter(month)

	var lastErr error
	at := SelectYear
	for restart := 0; restart <= maxChainRestarts; restart++ {
		if restart > 0 {
			slog.Info("restarting period selection", "period", month, "failed_at", at, "restart", restart, "error", lastErr)
			if err := c.refresh(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				lastErr = err
				continue
			}
		}
		at, lastErr = c.runChain(ctx, fy, quarter, month)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return &WorkflowError{Period: month, State: at, Err: lastErr}
}

// runChain executes one pass of the state machine and reports where it stopped.
func (c *Client) runChain(ctx context.Context, fy, quarter, month string) (State, error) {
	for state := SelectYear; state != Done; state++ {
		var err error
		switch state {
		case SelectYear:
			err = c.SelectUnderLabel(ctx, LabelYear, fy)
		case SelectQuarter:
			err = c.SelectUnderLabel(ctx, LabelQuarter, quarter)
		case SelectPeriod:
			err = c.SelectUnderLabel(ctx, LabelPeriod, month)
		case Submit:
			err = c.ladder.Run(ctx, "search", c.clickSearch)
		}
		if err != nil {
			return state, err
		}
	}
	return Done, nil
}

func (c *Client) clickSearch(ctx context.Context) error {
	el, err := Resolve(ctx, c.s, SearchButtons, c.opts.ClickBudget)
	if err != nil {
		return fmt.Errorf("search button: %w", err)
	}
	return el.Click(ctx)
}
