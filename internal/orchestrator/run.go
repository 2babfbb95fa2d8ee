package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gstrgate/gstrgate/internal/job"
)

// process runs one job to its terminal status. The session is always
// released before the terminal status is written. A panic anywhere in the
// job fails that job only.
func (o *Orchestrator) process(ctx context.Context, id string) {
	j, err := o.jobs.Get(id)
	if err != nil {
		slog.Warn("worker: job vanished before start", "job_id", id, "error", err)
		return
	}
	log := slog.With("job_id", id)
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("unexpected failure: %v", r)
			log.Error("job panicked", "panic", r)
			o.jobs.AppendBug(id, msg)
			o.finish(id, job.Outcome{Status: job.StatusFailed, Stage: job.StageFailed, Error: msg})
		}
	}()

	if o.jobs.Aborted(id) {
		o.finish(id, job.Outcome{Status: job.StatusFailed, Stage: job.StageAborted})
		return
	}
	if len(j.Months) == 0 {
		log.Info("no eligible periods, nothing to retrieve", "fy", j.FY)
		o.finish(id, job.Outcome{Status: job.StatusCompleted, Stage: job.StageDone})
		return
	}

	runErr := o.drive(ctx, j)

	if o.jobs.Aborted(id) {
		log.Info("job stopped after abort")
		o.finish(id, job.Outcome{Status: job.StatusFailed, Stage: job.StageAborted})
		return
	}
	if runErr != nil {
		log.Error("job failed", "error", runErr)
		o.jobs.AppendBug(id, runErr.Error())
		stage := job.StageFailed
		if errors.Is(runErr, ErrCaptchaTimeout) {
			stage = job.StageCaptchaTimeout
		}
		o.finish(id, job.Outcome{Status: job.StatusFailed, Stage: stage, Error: runErr.Error()})
		return
	}

	out, err := o.pack(id, j)
	if err != nil {
		log.Error("packaging failed", "error", err)
		o.jobs.AppendBug(id, err.Error())
		o.finish(id, job.Outcome{Status: job.StatusFailed, Stage: job.StageFailed, Error: err.Error()})
		return
	}
	o.finish(id, out)
}

// finish writes out, or FAILED/ABORTED when the job was aborted after its
// last abort check.
func (o *Orchestrator) finish(id string, out job.Outcome) {
	if out.Status != job.StatusFailed && o.jobs.Aborted(id) {
		slog.Info("job aborted before it could finish", "job_id", id, "status", out.Status)
		out = job.Outcome{Status: job.StatusFailed, Stage: job.StageAborted}
	}
	j, err := o.jobs.Finish(id, out)
	if err != nil {
		slog.Error("finish job", "job_id", id, "error", err)
		return
	}
	slog.Info("job finished", "job_id", id, "status", j.Status, "stage", j.Stage, "failed", j.FailedMonths)
}

// pack consolidates and archives the fiscal-year folder. Partial results are
// packaged too; the outcome reports them as COMPLETED_WITH_ERRORS.
func (o *Orchestrator) pack(id string, j job.Job) (job.Outcome, error) {
	o.jobs.SetStage(id, job.StageConsolidating)
	if combined, err := o.deps.Packager.Consolidate(j.WorkDir, j.FY); err != nil {
		o.jobs.AppendBug(id, fmt.Sprintf("consolidate: %v", err))
	} else if combined != "" {
		slog.Info("statements consolidated", "job_id", id, "file", combined)
	}

	o.jobs.SetStage(id, job.StagePackaging)
	archive, err := o.deps.Packager.Package(j.WorkDir)
	if err != nil {
		return job.Outcome{}, fmt.Errorf("package: %w", err)
	}

	cur, err := o.jobs.Get(id)
	if err != nil {
		return job.Outcome{}, err
	}
	out := job.Outcome{
		Status:       job.StatusCompleted,
		Stage:        job.StageDone,
		DownloadURL:  "/api/v1/jobs/" + id + "/artifact",
		ArtifactPath: archive,
	}
	if !cur.Months.AllCompleted() {
		out.Status = job.StatusCompletedWithErrors
		out.Stage = job.StageWithErrors
	}
	return out, nil
}

// drive owns the browser session for the authenticated part of the job.
func (o *Orchestrator) drive(ctx context.Context, j job.Job) (err error) {
	id := j.ID
	o.jobs.SetStage(id, job.StageLaunching)
	if err := os.MkdirAll(j.WorkDir, 0o755); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	s, err := o.deps.Launcher.Launch(ctx, j.WorkDir)
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	if err := o.jobs.AttachSession(id, s); err != nil {
		s.Close()
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected failure: %v", r)
		}
		if rerr := o.jobs.ReleaseSession(id); rerr != nil {
			slog.Warn("close browser session", "job_id", id, "error", rerr)
		}
	}()

	p := o.deps.Portal(s)
	o.jobs.SetStage(id, job.StageLogin)
	if err := p.OpenLogin(ctx); err != nil {
		return fmt.Errorf("open login: %w", err)
	}
	if err := p.EnterCredentials(ctx, j.Credentials.Username, j.Credentials.Password); err != nil {
		return fmt.Errorf("enter credentials: %w", err)
	}
	if err := o.awaitCaptcha(ctx, id, p, j.WorkDir); err != nil {
		return err
	}

	o.jobs.SetStage(id, job.StageNavigating)
	if err := p.OpenReturnsDashboard(ctx); err != nil {
		return fmt.Errorf("open returns dashboard: %w", err)
	}

	o.jobs.SetStage(id, job.StageDownloading)
	if j.OnlyFY {
		return o.runMonths(ctx, j, p)
	}
	return o.runSingle(ctx, j, p)
}
