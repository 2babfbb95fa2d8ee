// Package orchestrator runs retrieval jobs: a bounded worker pool, the
// per-job sequence from login to packaging, the month loop with its single
// retry pass, and the CAPTCHA barrier.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gstrgate/gstrgate/internal/driver"
	"github.com/gstrgate/gstrgate/internal/events"
	"github.com/gstrgate/gstrgate/internal/job"
	"github.com/gstrgate/gstrgate/internal/period"
)

var (
	ErrCaptchaTimeout = errors.New("captcha timeout")
	ErrCaptchaInvalid = errors.New("invalid captcha or login failed")
	ErrEmptySolution  = errors.New("captcha solution must not be empty")
	ErrSolveFailed    = errors.New("captcha submission failed")
	ErrQueueFull      = errors.New("queue full")
	ErrNoArtifact     = errors.New("artifact not available")

	errAborted = errors.New("aborted")
)

// Portal is the page-level driver of one session.
type Portal interface {
	OpenLogin(ctx context.Context) error
	EnterCredentials(ctx context.Context, username, password string) error
	CaptureChallenge(ctx context.Context, path string) error
	SolveChallenge(ctx context.Context, text string) error
	WaitLoggedIn(ctx context.Context, timeout time.Duration) error
	OpenReturnsDashboard(ctx context.Context) error
	FetchPeriod(ctx context.Context, fy, month, dir string) error
	BackToDashboard(ctx context.Context) error
}

// PortalFactory binds a Portal to a session.
type PortalFactory func(driver.Session) Portal

// Packager turns a fiscal-year folder into the downloadable archive.
type Packager interface {
	Consolidate(dir, fy string) (string, error)
	Package(dir string) (string, error)
	Cleanup(dir string) error
}

// Notifier receives finished jobs.
type Notifier interface {
	Notify(ctx context.Context, j job.Job)
}

// SSEEvent represents a Server-Sent Events event.
type SSEEvent struct {
	Event string // "status" or "result"
	Data  string // JSON job snapshot
}

type Options struct {
	Concurrency     int
	QueueSize       int
	CaptchaTimeout  time.Duration
	LoginTimeout    time.Duration
	JobTTL          time.Duration
	CleanupInterval time.Duration
	// DownloadRoot, if set, must contain every requested path.
	DownloadRoot string
}

// Deps are the collaborators of an Orchestrator. Publisher and Notifier may be nil.
type Deps struct {
	Launcher  driver.Launcher
	Portal    PortalFactory
	Packager  Packager
	Publisher events.Publisher
	Notifier  Notifier
}

// Orchestrator owns the job registry and the workers that run jobs.
type Orchestrator struct {
	opts  Options
	deps  Deps
	jobs  *job.Registry
	queue chan string
	now   func() time.Time

	// submitMu makes the capacity check and the enqueue of Submit atomic.
	submitMu sync.Mutex

	ctxMu sync.RWMutex
	ctx   context.Context

	subs map[string][]chan SSEEvent
	mu   sync.RWMutex
	wg   sync.WaitGroup
}

func New(opts Options, deps Deps) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	o := &Orchestrator{
		opts:  opts,
		deps:  deps,
		queue: make(chan string, max(opts.QueueSize, 1)),
		now:   time.Now,
		ctx:   context.Background(),
		subs:  make(map[string][]chan SSEEvent),
	}
	o.jobs = job.NewRegistry(o.onChange)
	return o
}

// Submit validates req, creates its job and queues it. The job's units are
// the periods allowed for its scope today.
func (o *Orchestrator) Submit(req job.CreateRequest) (job.Job, error) {
	if err := req.Validate(); err != nil {
		return job.Job{}, err
	}
	root, err := o.resolveRoot(req.Path)
	if err != nil {
		return job.Job{}, err
	}

	var units []string
	month := ""
	if req.FullYear() {
		units, err = period.Allowed(req.FY, o.now())
		if err != nil {
			return job.Job{}, fmt.Errorf("%w: %v", job.ErrInvalidRequest, err)
		}
	} else {
		month = period.Normalize(req.Month)
		units = []string{month}
	}

	o.submitMu.Lock()
	defer o.submitMu.Unlock()
	if len(o.queue) >= cap(o.queue) {
		return job.Job{}, fmt.Errorf("%w: %d jobs waiting", ErrQueueFull, len(o.queue))
	}
	j := o.jobs.Create(job.Job{
		Client:      req.Client,
		FY:          strings.TrimSpace(req.FY),
		OnlyFY:      req.FullYear(),
		Month:       month,
		Months:      job.NewUnits(units),
		CallbackURL: req.CallbackURL,
		Credentials: job.Credentials{Username: req.GSTIN, Password: req.Password},
		Root:        root,
		WorkDir:     filepath.Join(root, req.Client, strings.TrimSpace(req.FY)),
	})
	if err := o.Enqueue(j.ID); err != nil {
		o.jobs.Discard(j.ID)
		return job.Job{}, err
	}
	slog.Info("job submitted", "job_id", j.ID, "client", j.Client, "fy", j.FY, "units", len(units))
	return j, nil
}

func (o *Orchestrator) resolveRoot(path string) (string, error) {
	root := filepath.Clean(path)
	if o.opts.DownloadRoot == "" {
		return root, nil
	}
	rel, err := filepath.Rel(filepath.Clean(o.opts.DownloadRoot), root)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path must be inside %s", job.ErrInvalidRequest, o.opts.DownloadRoot)
	}
	return root, nil
}

// Enqueue adds a job ID to the queue. Returns an error if the queue is full.
func (o *Orchestrator) Enqueue(jobID string) error {
	select {
	case o.queue <- jobID:
		return nil
	default:
		return fmt.Errorf("%w: cannot enqueue job %s", ErrQueueFull, jobID)
	}
}

// Start launches Concurrency workers. They stop when ctx is done.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctxMu.Lock()
	o.ctx = ctx
	o.ctxMu.Unlock()
	for range o.opts.Concurrency {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runWorker(ctx)
		}()
	}
}

// Wait blocks until every worker has returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-o.queue:
			o.process(ctx, jobID)
		}
	}
}

func (o *Orchestrator) baseContext() context.Context {
	o.ctxMu.RLock()
	defer o.ctxMu.RUnlock()
	return o.ctx
}

// Get returns a snapshot of the job.
func (o *Orchestrator) Get(id string) (job.Job, error) {
	return o.jobs.Get(id)
}

// List returns a page of job snapshots, newest first, plus the total count.
func (o *Orchestrator) List(limit, offset int) ([]job.Job, int) {
	return o.jobs.List(limit, offset)
}

// Abort fails a running job. A job waiting on its CAPTCHA stops at once;
// otherwise the current unit finishes first.
func (o *Orchestrator) Abort(id string) (job.Job, error) {
	j, err := o.jobs.Abort(id, "aborted by caller")
	if err == nil {
		slog.Info("job aborted", "job_id", id)
	}
	return j, err
}

// Remove evicts a finished job from the registry. Files on disk are kept.
func (o *Orchestrator) Remove(id string) error {
	_, err := o.jobs.Remove(id)
	return err
}

// Artifact returns the path of a finished job's archive.
func (o *Orchestrator) Artifact(id string) (string, error) {
	j, err := o.jobs.Get(id)
	if err != nil {
		return "", err
	}
	if !j.Status.IsSuccess() || j.ArtifactPath == "" {
		return "", ErrNoArtifact
	}
	return j.ArtifactPath, nil
}

// CleanupIntermediate removes the per-period files of a job after its archive was delivered.
func (o *Orchestrator) CleanupIntermediate(id string) error {
	j, err := o.jobs.Get(id)
	if err != nil {
		return err
	}
	if !j.Status.IsSuccess() || j.WorkDir == "" {
		return ErrNoArtifact
	}
	return o.deps.Packager.Cleanup(j.WorkDir)
}

// StartCleanup evicts terminal jobs older than JobTTL every CleanupInterval until ctx is done.
func (o *Orchestrator) StartCleanup(ctx context.Context) {
	if o.opts.CleanupInterval <= 0 || o.opts.JobTTL <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(o.opts.CleanupInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				o.evict()
			}
		}
	}()
}

func (o *Orchestrator) evict() int {
	evicted := o.jobs.EvictTerminalBefore(o.now().Add(-o.opts.JobTTL))
	for _, j := range evicted {
		slog.Info("job evicted", "job_id", j.ID, "status", j.Status)
	}
	return len(evicted)
}

// onChange fans every registry change out to SSE subscribers, the event
// publisher and, once finished, the job's callback.
func (o *Orchestrator) onChange(j job.Job) {
	evt := events.New(j)
	data, err := json.Marshal(j)
	if err != nil {
		slog.Error("encode job", "job_id", j.ID, "error", err)
		return
	}
	if evt.Type == "result" {
		o.notifyAndClose(j.ID, SSEEvent{Event: evt.Type, Data: string(data)})
	} else {
		o.notify(j.ID, SSEEvent{Event: evt.Type, Data: string(data)})
	}

	ctx := o.baseContext()
	if err := o.deps.Publisher.Publish(ctx, evt); err != nil {
		slog.Warn("publish job event", "job_id", j.ID, "error", err)
	}
	if j.CompletedAt != nil && o.deps.Notifier != nil {
		o.deps.Notifier.Notify(context.WithoutCancel(ctx), j)
	}
}

// Subscribe creates a buffered SSE channel for a job and returns it.
func (o *Orchestrator) Subscribe(jobID string) chan SSEEvent {
	ch := make(chan SSEEvent, 64)
	o.mu.Lock()
	o.subs[jobID] = append(o.subs[jobID], ch)
	o.mu.Unlock()
	return ch
}

// Unsubscribe removes an SSE channel from the map.
func (o *Orchestrator) Unsubscribe(jobID string, ch chan SSEEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	chans := o.subs[jobID]
	for i, c := range chans {
		if c == ch {
			o.subs[jobID] = append(chans[:i], chans[i+1:]...)
			break
		}
	}
	if len(o.subs[jobID]) == 0 {
		delete(o.subs, jobID)
	}
}

// notify sends an event to all subscribers of a job without blocking.
func (o *Orchestrator) notify(jobID string, event SSEEvent) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	for _, ch := range o.subs[jobID] {
		select {
		case ch <- event:
		default:
		}
	}
}

// notifyAndClose sends the final event and closes all channels for the job.
func (o *Orchestrator) notifyAndClose(jobID string, event SSEEvent) {
	o.mu.Lock()
	chans := o.subs[jobID]
	delete(o.subs, jobID)
	o.mu.Unlock()

	for _, ch := range chans {
		select {
		case ch <- event:
		default:
		}
		close(ch)
	}
}
