package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gstrgate/gstrgate/internal/job"
)

// runMonths makes one pass over every unit in calendar order, then exactly
// one retry pass over the units that failed it. Unit failures are recorded
// and never end the job; only cancellation and abort do.
func (o *Orchestrator) runMonths(ctx context.Context, j job.Job, p Portal) error {
	for _, u := range j.Months {
		if o.jobs.Aborted(j.ID) {
			return errAborted
		}
		if err := o.fetch(ctx, j, p, u.Name, job.UnitRunning, job.UnitCompleted, job.UnitFailed); err != nil {
			return err
		}
		o.back(ctx, j.ID, p, u.Name)
	}

	failed, err := o.jobs.RecordFailedUnits(j.ID)
	if err != nil || len(failed) == 0 {
		return err
	}
	slog.Info("retrying failed periods", "job_id", j.ID, "periods", failed)
	o.jobs.SetStage(j.ID, job.StageRetrying)
	for _, name := range failed {
		if o.jobs.Aborted(j.ID) {
			return errAborted
		}
		if err := o.fetch(ctx, j, p, name, job.UnitRetrying, job.UnitCompleted, job.UnitFailedAgain); err != nil {
			return err
		}
		o.back(ctx, j.ID, p, name)
	}
	_, err = o.jobs.RecordFailedUnits(j.ID)
	return err
}

// runSingle retrieves the one requested period, without a retry pass.
func (o *Orchestrator) runSingle(ctx context.Context, j job.Job, p Portal) error {
	if err := o.fetch(ctx, j, p, j.Month, job.UnitRunning, job.UnitCompleted, job.UnitFailed); err != nil {
		return err
	}
	_, err := o.jobs.RecordFailedUnits(j.ID)
	return err
}

// fetch runs one attempt at a unit. It returns an error only when the job
// context ended; a portal failure marks the unit and is logged to the bug log.
func (o *Orchestrator) fetch(ctx context.Context, j job.Job, p Portal, name string, start, ok, fail job.UnitStatus) error {
	o.setUnit(j.ID, name, start)
	err := p.FetchPeriod(ctx, j.FY, name, j.WorkDir)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		o.jobs.AppendBug(j.ID, fmt.Sprintf("%s: %v", name, err))
		o.setUnit(j.ID, name, fail)
		return nil
	}
	o.setUnit(j.ID, name, ok)
	return nil
}

// back returns to the selection form whatever the unit's outcome.
func (o *Orchestrator) back(ctx context.Context, id string, p Portal, name string) {
	if err := p.BackToDashboard(ctx); err != nil && ctx.Err() == nil {
		o.jobs.AppendBug(id, fmt.Sprintf("%s: back to dashboard: %v", name, err))
	}
}

func (o *Orchestrator) setUnit(id, name string, status job.UnitStatus) {
	if err := o.jobs.SetUnit(id, name, status); err != nil {
		slog.Warn("unit update rejected", "job_id", id, "period", name, "status", status, "error", err)
	}
}
