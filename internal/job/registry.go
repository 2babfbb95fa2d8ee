package job

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gstrgate/gstrgate/internal/driver"
)

var (
	ErrNotFound          = errors.New("job not found")
	ErrNoChallenge       = errors.New("no captcha pending")
	ErrInvalidTransition = errors.New("invalid unit transition")
	ErrSessionHeld       = errors.New("driver session still attached")
	ErrTerminal          = errors.New("job already finished")
	ErrNotTerminal       = errors.New("job still running")
	ErrWaitTimeout       = errors.New("wait deadline elapsed")
)

// entry is one job's slot. mu guards everything but the session, which has
// its own lock so a long driver call never blocks status reads.
type entry struct {
	mu        sync.Mutex
	job       Job
	challenge *Challenge
	aborted   bool
	changed   chan struct{}

	sessMu  sync.Mutex
	session driver.Session
}

// Outcome is the terminal state written by Finish.
type Outcome struct {
	Status       Status
	Stage        Stage
	DownloadURL  string
	ArtifactPath string
	Error        string
}

// Registry owns every live job. All mutation goes through its methods, which
// take the job's lock and wake WaitStatus callers.
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	onChange func(Job)
	now      func() time.Time
}

// NewRegistry returns an empty registry. onChange, if set, receives a snapshot
// after every mutation, outside any lock.
func NewRegistry(onChange func(Job)) *Registry {
	return &Registry{
		entries:  make(map[string]*entry),
		onChange: onChange,
		now:      time.Now,
	}
}

// Create inserts j with a fresh ID, status RUNNING and stage QUEUED.
func (r *Registry) Create(j Job) Job {
	now := r.now().UTC()
	j.ID = uuid.New().String()
	j.Status = StatusRunning
	j.Stage = StageQueued
	j.BugLog = []string{}
	if j.Months == nil {
		j.Months = Units{}
	}
	j.CreatedAt = now
	j.UpdatedAt = now

	e := &entry{job: j.clone(), changed: make(chan struct{})}
	r.mu.Lock()
	r.entries[j.ID] = e
	r.mu.Unlock()

	snap := j.clone()
	r.emit(snap)
	return snap
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// mutate applies fn under the job lock. A nil error from fn counts as a change.
func (r *Registry) mutate(id string, fn func(e *entry) error) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	if err := fn(e); err != nil {
		e.mu.Unlock()
		return Job{}, err
	}
	e.job.UpdatedAt = r.now().UTC()
	close(e.changed)
	e.changed = make(chan struct{})
	snap := e.job.clone()
	e.mu.Unlock()

	r.emit(snap)
	return snap, nil
}

func (r *Registry) emit(j Job) {
	if r.onChange != nil {
		r.onChange(j)
	}
}

// Get returns a deep copy of the job.
func (r *Registry) Get(id string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.clone(), nil
}

// List returns a page of jobs ordered by creation time, newest first, plus the total count.
func (r *Registry) List(limit, offset int) ([]Job, int) {
	r.mu.RLock()
	all := make([]Job, 0, len(r.entries))
	for _, e := range r.entries {
		e.mu.Lock()
		all = append(all, e.job.clone())
		e.mu.Unlock()
	}
	r.mu.RUnlock()

	slices.SortFunc(all, func(a, b Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	total := len(all)
	if offset >= total {
		return []Job{}, total
	}
	end := min(offset+limit, total)
	return all[offset:end], total
}

func (r *Registry) SetStage(id string, stage Stage) error {
	_, err := r.mutate(id, func(e *entry) error {
		if e.job.Status.IsTerminal() {
			return ErrTerminal
		}
		e.job.Stage = stage
		return nil
	})
	return err
}

// SetUnit moves a period unit along its allowed transitions.
func (r *Registry) SetUnit(id, name string, status UnitStatus) error {
	_, err := r.mutate(id, func(e *entry) error {
		i := slices.IndexFunc(e.job.Months, func(u Unit) bool { return u.Name == name })
		if i < 0 {
			return fmt.Errorf("%w: unit %s", ErrNotFound, name)
		}
		cur := e.job.Months[i].Status
		if !cur.CanTransition(status) {
			return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, name, cur, status)
		}
		e.job.Months[i].Status = status
		return nil
	})
	return err
}

// RecordFailedUnits publishes the currently failed units as failed_months and returns them.
func (r *Registry) RecordFailedUnits(id string) ([]string, error) {
	j, err := r.mutate(id, func(e *entry) error {
		e.job.FailedMonths = e.job.Months.Failed()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return j.FailedMonths, nil
}

// AppendBug adds a diagnostic line to the job's bug log.
func (r *Registry) AppendBug(id, msg string) error {
	slog.Info("bug log", "job_id", id, "entry", msg)
	_, err := r.mutate(id, func(e *entry) error {
		e.job.BugLog = append(e.job.BugLog, msg)
		return nil
	})
	return err
}

// OpenChallenge publishes a CAPTCHA and suspends the job in WAITING_FOR_CAPTCHA.
func (r *Registry) OpenChallenge(id, path string, deadline time.Time) (Challenge, error) {
	var c Challenge
	_, err := r.mutate(id, func(e *entry) error {
		if e.job.Status != StatusRunning {
			return fmt.Errorf("%w: status %s", ErrTerminal, e.job.Status)
		}
		c = Challenge{Path: path, CreatedAt: r.now().UTC(), Deadline: deadline}
		e.challenge = &c
		e.job.Status = StatusWaitingForCaptcha
		e.job.Stage = StageCaptcha
		e.job.Captcha = true
		return nil
	})
	return c, err
}

// Challenge returns the pending CAPTCHA.
func (r *Registry) Challenge(id string) (Challenge, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Challenge{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.challenge == nil || e.job.Status != StatusWaitingForCaptcha {
		return Challenge{}, ErrNoChallenge
	}
	return *e.challenge, nil
}

// ClearChallenge accepts a solution: it drops the challenge and is the only
// path from WAITING_FOR_CAPTCHA back to RUNNING.
func (r *Registry) ClearChallenge(id string) (Challenge, error) {
	var c Challenge
	_, err := r.mutate(id, func(e *entry) error {
		if e.challenge == nil || e.job.Status != StatusWaitingForCaptcha {
			return ErrNoChallenge
		}
		c = *e.challenge
		e.challenge = nil
		e.job.Status = StatusRunning
		e.job.Stage = StageLogin
		e.job.Captcha = false
		return nil
	})
	return c, err
}

// ExpireChallenge withdraws an unanswered challenge so no late solution is
// accepted. The job stays WAITING_FOR_CAPTCHA until its task has released the
// session and calls Finish. ErrNoChallenge means a solution won the race.
func (r *Registry) ExpireChallenge(id string) (Challenge, error) {
	var c Challenge
	_, err := r.mutate(id, func(e *entry) error {
		if e.challenge == nil || e.job.Status != StatusWaitingForCaptcha {
			return ErrNoChallenge
		}
		c = *e.challenge
		e.challenge = nil
		e.job.Captcha = false
		e.job.Stage = StageCaptchaTimeout
		return nil
	})
	return c, err
}

// Abort fails the job at once. The running task notices at its next check.
func (r *Registry) Abort(id, reason string) (Job, error) {
	return r.mutate(id, func(e *entry) error {
		if e.job.Status.IsTerminal() {
			return ErrTerminal
		}
		e.aborted = true
		e.challenge = nil
		e.job.Captcha = false
		e.job.Status = StatusFailed
		e.job.Stage = StageAborted
		e.job.Error = reason
		return nil
	})
}

// Aborted reports whether Abort was called.
func (r *Registry) Aborted(id string) bool {
	e, err := r.lookup(id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// WaitStatus blocks until the job's status is one of want, the deadline
// passes (ErrWaitTimeout) or ctx ends. It returns the status last seen.
func (r *Registry) WaitStatus(ctx context.Context, id string, deadline time.Time, want ...Status) (Status, error) {
	e, err := r.lookup(id)
	if err != nil {
		return "", err
	}
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	for {
		e.mu.Lock()
		cur, changed := e.job.Status, e.changed
		e.mu.Unlock()
		if slices.Contains(want, cur) {
			return cur, nil
		}
		select {
		case <-ctx.Done():
			return cur, ctx.Err()
		case <-timer.C:
			e.mu.Lock()
			cur = e.job.Status
			e.mu.Unlock()
			if slices.Contains(want, cur) {
				return cur, nil
			}
			return cur, ErrWaitTimeout
		case <-changed:
		}
	}
}

// AttachSession hands the job exclusive ownership of s.
func (r *Registry) AttachSession(id string, s driver.Session) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	if e.session != nil {
		return ErrSessionHeld
	}
	e.session = s
	return nil
}

// WithSession runs fn with the job's session, serialized with every other
// session user of that job.
func (r *Registry) WithSession(id string, fn func(driver.Session) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.sessMu.Lock()
	defer e.sessMu.Unlock()
	if e.session == nil {
		return fmt.Errorf("%w: no session", ErrTerminal)
	}
	return fn(e.session)
}

// ReleaseSession detaches and closes the session. It waits for any WithSession call in flight.
func (r *Registry) ReleaseSession(id string) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.sessMu.Lock()
	s := e.session
	e.session = nil
	e.sessMu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

// Finish writes the terminal state. It refuses while a session is attached,
// and an aborted job can only finish as FAILED.
func (r *Registry) Finish(id string, out Outcome) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.sessMu.Lock()
	held := e.session != nil
	e.sessMu.Unlock()
	if held {
		return Job{}, ErrSessionHeld
	}
	if !out.Status.IsTerminal() {
		return Job{}, fmt.Errorf("finish with non-terminal status %s", out.Status)
	}
	return r.mutate(id, func(e *entry) error {
		if e.job.Status.IsTerminal() && !(e.aborted && out.Status == StatusFailed) {
			return ErrTerminal
		}
		now := r.now().UTC()
		e.challenge = nil
		e.job.Captcha = false
		e.job.Status = out.Status
		if !e.aborted {
			e.job.Stage = out.Stage
		}
		e.job.DownloadURL = out.DownloadURL
		e.job.ArtifactPath = out.ArtifactPath
		if out.Error != "" && e.job.Error == "" {
			e.job.Error = out.Error
		}
		e.job.FailedMonths = e.job.Months.Failed()
		e.job.CompletedAt = &now
		return nil
	})
}

// Remove evicts a finished job and returns its last state. An aborted job
// stays until its task has released the session.
func (r *Registry) Remove(id string) (Job, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Job{}, err
	}
	e.sessMu.Lock()
	held := e.session != nil
	e.sessMu.Unlock()
	if held {
		return Job{}, ErrNotTerminal
	}
	e.mu.Lock()
	if !e.job.Status.IsTerminal() {
		e.mu.Unlock()
		return Job{}, ErrNotTerminal
	}
	j := e.job.clone()
	e.mu.Unlock()

	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
	return j, nil
}

// Discard drops a job that never started. Unlike Remove it emits nothing, so
// no observer learns of the job.
func (r *Registry) Discard(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// EvictTerminalBefore drops finished jobs completed before cutoff and returns them.
func (r *Registry) EvictTerminalBefore(cutoff time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Job
	for id, e := range r.entries {
		e.mu.Lock()
		done := e.job.Status.IsTerminal() && e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff)
		if done {
			out = append(out, e.job.clone())
		}
		e.mu.Unlock()
		if done {
			delete(r.entries, id)
		}
	}
	return out
}
