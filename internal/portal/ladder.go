package portal

import (
	"context"
	"errors"
	"log/slog"
)

// Step is one attempt at an interaction against the current page state.
type Step func(ctx context.Context) error

// Level is a rung of the recovery escalation.
type Level int

const (
	// LevelRetry attempts the step against the page as it is.
	LevelRetry Level = iota
	// LevelRefresh reloads, re-anchors on the form landmark, then attempts once more.
	LevelRefresh
	// LevelRestartChain discards a dependent chain and starts it over. Only
	// composed workflows climb this far; Ladder.Run stops at LevelRefresh.
	LevelRestartChain
)

func (l Level) String() string {
	switch l {
	case LevelRetry:
		return "retry"
	case LevelRefresh:
		return "refresh"
	case LevelRestartChain:
		return "restart-chain"
	}
	return "unknown"
}

// maxAttempts caps attempts per ladder run and per re-anchor.
const maxAttempts = 2

// Ladder runs a step with one same-state attempt and one attempt after Refresh.
type Ladder struct {
	Refresh func(ctx context.Context) error
}

// Run returns nil on the first successful attempt, or a *RecoveryError once
// both levels failed.
func (l *Ladder) Run(ctx context.Context, action string, step Step) error {
	err := step(ctx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Debug("step failed, refreshing", "action", action, "level", LevelRetry, "error", err)

	if rerr := l.Refresh(ctx); rerr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RecoveryError{Action: action, Err: errors.Join(err, rerr)}
	}
	if err = step(ctx); err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	slog.Debug("step failed after refresh", "action", action, "level", LevelRefresh, "error", err)
	return &RecoveryError{Action: action, Err: err}
}
