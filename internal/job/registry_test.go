package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gstrgate/gstrgate/internal/driver"
	"github.com/gstrgate/gstrgate/internal/driver/drivertest"
)

func newJob(r *Registry, months ...string) Job {
	return r.Create(Job{Client: "acme", FY: "2023-24", OnlyFY: true, Months: NewUnits(months)})
}

func TestCreateAndGet(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r, "April", "May")
	if j.ID == "" || j.Status != StatusRunning || j.Stage != StageQueued {
		t.Fatalf("created = %+v", j)
	}

	got, err := r.Get(j.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Months[0].Status = UnitCompleted
	got.BugLog = append(got.BugLog, "local")

	again, _ := r.Get(j.ID)
	if again.Months[0].Status != UnitPending || len(again.BugLog) != 0 {
		t.Errorf("Get returned shared state: %+v", again)
	}

	if _, err := r.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get unknown = %v, want ErrNotFound", err)
	}
}

func TestSetUnit(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r, "April")

	for _, s := range []UnitStatus{UnitRunning, UnitFailed, UnitRetrying, UnitCompleted} {
		if err := r.SetUnit(j.ID, "April", s); err != nil {
			t.Fatalf("SetUnit(%s): %v", s, err)
		}
	}
	if err := r.SetUnit(j.ID, "April", UnitRetrying); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("third attempt = %v, want ErrInvalidTransition", err)
	}
	if err := r.SetUnit(j.ID, "Smarch", UnitRunning); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown unit = %v, want ErrNotFound", err)
	}
}

func TestRecordFailedUnits(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r, "April", "May", "June")
	for _, m := range []string{"April", "May", "June"} {
		r.SetUnit(j.ID, m, UnitRunning)
	}
	r.SetUnit(j.ID, "April", UnitCompleted)
	r.SetUnit(j.ID, "May", UnitFailed)
	r.SetUnit(j.ID, "June", UnitFailed)

	failed, err := r.RecordFailedUnits(j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 2 || failed[0] != "May" || failed[1] != "June" {
		t.Errorf("failed = %v", failed)
	}
	got, _ := r.Get(j.ID)
	if len(got.FailedMonths) != 2 {
		t.Errorf("failed_months = %v", got.FailedMonths)
	}
}

func TestChallengeLifecycle(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r)

	if _, err := r.Challenge(j.ID); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("Challenge before open = %v", err)
	}
	deadline := time.Now().Add(time.Minute)
	if _, err := r.OpenChallenge(j.ID, "/tmp/c.png", deadline); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(j.ID)
	if got.Status != StatusWaitingForCaptcha || !got.Captcha {
		t.Errorf("after open: %s captcha=%v", got.Status, got.Captcha)
	}
	c, err := r.Challenge(j.ID)
	if err != nil || c.Path != "/tmp/c.png" || !c.Deadline.Equal(deadline) {
		t.Errorf("Challenge = %+v, %v", c, err)
	}

	if _, err := r.ClearChallenge(j.ID); err != nil {
		t.Fatal(err)
	}
	got, _ = r.Get(j.ID)
	if got.Status != StatusRunning || got.Captcha {
		t.Errorf("after clear: %s captcha=%v", got.Status, got.Captcha)
	}
	if _, err := r.ClearChallenge(j.ID); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("second clear = %v, want ErrNoChallenge", err)
	}
}

func TestExpireChallenge(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r)
	r.OpenChallenge(j.ID, "/tmp/c.png", time.Now())

	if _, err := r.ExpireChallenge(j.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := r.Get(j.ID)
	if got.Status != StatusWaitingForCaptcha || got.Stage != StageCaptchaTimeout {
		t.Errorf("after expire: %s/%s", got.Status, got.Stage)
	}
	if _, err := r.ClearChallenge(j.ID); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("late solution = %v, want ErrNoChallenge", err)
	}
	if _, err := r.ExpireChallenge(j.ID); !errors.Is(err, ErrNoChallenge) {
		t.Errorf("second expire = %v, want ErrNoChallenge", err)
	}
}

func TestWaitStatusWakesOnChange(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r)
	r.OpenChallenge(j.ID, "/tmp/c.png", time.Now().Add(time.Minute))

	go func() {
		time.Sleep(10 * time.Millisecond)
		r.ClearChallenge(j.ID)
	}()
	st, err := r.WaitStatus(context.Background(), j.ID, time.Now().Add(5*time.Second), StatusRunning, StatusFailed)
	if err != nil || st != StatusRunning {
		t.Errorf("WaitStatus = %s, %v", st, err)
	}
}

func TestWaitStatusDeadline(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r)
	r.OpenChallenge(j.ID, "/tmp/c.png", time.Now().Add(time.Minute))

	start := time.Now()
	deadline := start.Add(30 * time.Millisecond)
	// Unrelated changes must not end the wait early.
	go r.AppendBug(j.ID, "noise")
	st, err := r.WaitStatus(context.Background(), j.ID, deadline, StatusRunning, StatusFailed)
	if !errors.Is(err, ErrWaitTimeout) || st != StatusWaitingForCaptcha {
		t.Fatalf("WaitStatus = %s, %v", st, err)
	}
	if time.Now().Before(deadline) {
		t.Errorf("returned %s before the deadline", time.Since(start))
	}
}

func TestWaitStatusContext(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r)
	r.OpenChallenge(j.ID, "/tmp/c.png", time.Now().Add(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.WaitStatus(ctx, j.ID, time.Now().Add(time.Minute), StatusRunning); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestFinishRequiresReleasedSession(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r, "April")
	page := drivertest.NewPage()
	if err := r.AttachSession(j.ID, page); err != nil {
		t.Fatal(err)
	}
	if err := r.AttachSession(j.ID, page); !errors.Is(err, ErrSessionHeld) {
		t.Errorf("second attach = %v, want ErrSessionHeld", err)
	}

	out := Outcome{Status: StatusCompleted, Stage: StageDone, DownloadURL: "/a"}
	if _, err := r.Finish(j.ID, out); !errors.Is(err, ErrSessionHeld) {
		t.Fatalf("Finish with session = %v, want ErrSessionHeld", err)
	}
	if got, _ := r.Get(j.ID); got.Status.IsTerminal() {
		t.Fatal("status went terminal while the session was attached")
	}

	if err := r.ReleaseSession(j.ID); err != nil {
		t.Fatal(err)
	}
	if !page.Closed() {
		t.Error("release did not close the session")
	}
	done, err := r.Finish(j.ID, out)
	if err != nil {
		t.Fatal(err)
	}
	if done.Status != StatusCompleted || done.CompletedAt == nil || done.FailedMonths == nil {
		t.Errorf("finished = %+v", done)
	}
	if _, err := r.Finish(j.ID, out); !errors.Is(err, ErrTerminal) {
		t.Errorf("second finish = %v, want ErrTerminal", err)
	}
}

func TestWithSessionSerialized(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r)
	if err := r.WithSession(j.ID, func(driver.Session) error { return nil }); !errors.Is(err, ErrTerminal) {
		t.Errorf("WithSession without session = %v", err)
	}
	r.AttachSession(j.ID, drivertest.NewPage())

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.WithSession(j.ID, func(driver.Session) error {
				mu.Lock()
				inside++
				maxInside = max(maxInside, inside)
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Errorf("%d concurrent session users, want 1", maxInside)
	}
}

func TestAbort(t *testing.T) {
	r := NewRegistry(nil)
	j := newJob(r)
	r.AttachSession(j.ID, drivertest.NewPage())

	got, err := r.Abort(j.ID, "aborted by caller")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusFailed || got.Stage != StageAborted || !r.Aborted(j.ID) {
		t.Errorf("after abort: %+v", got)
	}
	if _, err := r.Remove(j.ID); !errors.Is(err, ErrNotTerminal) {
		t.Errorf("Remove while session held = %v, want ErrNotTerminal", err)
	}

	r.ReleaseSession(j.ID)
	if _, err := r.Finish(j.ID, Outcome{Status: StatusCompleted, Stage: StageDone}); !errors.Is(err, ErrTerminal) {
		t.Errorf("aborted job finished as success: %v", err)
	}
	done, err := r.Finish(j.ID, Outcome{Status: StatusFailed, Stage: StageFailed, Error: "later"})
	if err != nil {
		t.Fatal(err)
	}
	if done.Stage != StageAborted || done.Error != "aborted by caller" {
		t.Errorf("finished = %s %q", done.Stage, done.Error)
	}
	if _, err := r.Abort(j.ID, "again"); !errors.Is(err, ErrTerminal) {
		t.Errorf("abort terminal = %v, want ErrTerminal", err)
	}
}

func TestRemoveAndEvict(t *testing.T) {
	r := NewRegistry(nil)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	running := newJob(r)
	old := newJob(r)
	fresh := newJob(r)
	if _, err := r.Remove(running.ID); !errors.Is(err, ErrNotTerminal) {
		t.Errorf("Remove running = %v, want ErrNotTerminal", err)
	}

	r.Finish(old.ID, Outcome{Status: StatusFailed, Stage: StageFailed})
	r.now = func() time.Time { return base.Add(2 * time.Hour) }
	r.Finish(fresh.ID, Outcome{Status: StatusCompleted, Stage: StageDone})

	evicted := r.EvictTerminalBefore(base.Add(time.Hour))
	if len(evicted) != 1 || evicted[0].ID != old.ID {
		t.Errorf("evicted = %v", evicted)
	}
	if _, err := r.Get(old.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("evicted job still present")
	}
	if _, err := r.Remove(fresh.ID); err != nil {
		t.Errorf("Remove terminal: %v", err)
	}
	if _, total := r.List(10, 0); total != 1 {
		t.Errorf("remaining = %d, want 1", total)
	}
}

func TestListNewestFirst(t *testing.T) {
	r := NewRegistry(nil)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := range 5 {
		r.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		ids = append(ids, newJob(r).ID)
	}

	page, total := r.List(2, 1)
	if total != 5 || len(page) != 2 {
		t.Fatalf("List = %d jobs, total %d", len(page), total)
	}
	if page[0].ID != ids[3] || page[1].ID != ids[2] {
		t.Errorf("order = %s, %s", page[0].ID, page[1].ID)
	}
	if page, _ := r.List(10, 9); len(page) != 0 {
		t.Errorf("past-the-end page = %d jobs", len(page))
	}
}

func TestOnChange(t *testing.T) {
	var mu sync.Mutex
	var seen []Stage
	r := NewRegistry(func(j Job) {
		mu.Lock()
		seen = append(seen, j.Stage)
		mu.Unlock()
	})
	j := newJob(r)
	r.SetStage(j.ID, StageLogin)
	r.SetStage(j.ID, StageNavigating)

	mu.Lock()
	defer mu.Unlock()
	want := []Stage{StageQueued, StageLogin, StageNavigating}
	if len(seen) != len(want) {
		t.Fatalf("seen = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("seen[%d] = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestDiscardEmitsNothing(t *testing.T) {
	var mu sync.Mutex
	changes := 0
	r := NewRegistry(func(Job) {
		mu.Lock()
		changes++
		mu.Unlock()
	})
	j := newJob(r, "July")
	r.Discard(j.ID)
	if _, err := r.Get(j.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Discard = %v, want ErrNotFound", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if changes != 1 {
		t.Errorf("changes = %d, want only the create", changes)
	}
}
