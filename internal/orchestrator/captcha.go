package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gstrgate/gstrgate/internal/driver"
	"github.com/gstrgate/gstrgate/internal/job"
)

const challengeFile = "captcha.png"

// awaitCaptcha publishes the login CAPTCHA and suspends the job until a
// solution clears it, the job is aborted or CaptchaTimeout elapses.
func (o *Orchestrator) awaitCaptcha(ctx context.Context, id string, p Portal, dir string) error {
	path := filepath.Join(dir, challengeFile)
	if err := p.CaptureChallenge(ctx, path); err != nil {
		return fmt.Errorf("capture captcha: %w", err)
	}
	defer os.Remove(path)

	deadline := time.Now().Add(o.opts.CaptchaTimeout)
	if _, err := o.jobs.OpenChallenge(id, path, deadline); err != nil {
		if o.jobs.Aborted(id) {
			return errAborted
		}
		return err
	}
	slog.Info("waiting for captcha", "job_id", id, "deadline", deadline)

	st, err := o.jobs.WaitStatus(ctx, id, deadline, job.StatusRunning, job.StatusFailed)
	if errors.Is(err, job.ErrWaitTimeout) {
		if _, xerr := o.jobs.ExpireChallenge(id); xerr == nil {
			return ErrCaptchaTimeout
		}
		// A solution was accepted at the deadline.
		cur, gerr := o.jobs.Get(id)
		if gerr != nil {
			return gerr
		}
		st, err = cur.Status, nil
	}
	if err != nil {
		return err
	}
	if st != job.StatusRunning {
		return errAborted
	}

	if err := p.WaitLoggedIn(ctx, o.opts.LoginTimeout); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrCaptchaInvalid, err)
	}
	slog.Info("logged in", "job_id", id)
	return nil
}

// ChallengeImage returns the pending CAPTCHA image of a job.
func (o *Orchestrator) ChallengeImage(id string) ([]byte, error) {
	c, err := o.jobs.Challenge(id)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(c.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", job.ErrNoChallenge, err)
	}
	return b, nil
}

// SubmitCaptcha applies a solution through the job's session and, once the
// portal accepted the input, releases the barrier. A driver failure leaves
// the job waiting.
func (o *Orchestrator) SubmitCaptcha(ctx context.Context, id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptySolution
	}
	if _, err := o.jobs.Challenge(id); err != nil {
		return err
	}
	err := o.jobs.WithSession(id, func(s driver.Session) error {
		return o.deps.Portal(s).SolveChallenge(ctx, text)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSolveFailed, err)
	}
	c, err := o.jobs.ClearChallenge(id)
	if err != nil {
		return err
	}
	if err := os.Remove(c.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("remove captcha image", "job_id", id, "error", err)
	}
	slog.Info("captcha accepted", "job_id", id)
	return nil
}
