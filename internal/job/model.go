package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gstrgate/gstrgate/internal/period"
)

type Status string

const (
	StatusRunning             Status = "RUNNING"
	StatusWaitingForCaptcha   Status = "WAITING_FOR_CAPTCHA"
	StatusCompleted           Status = "COMPLETED"
	StatusCompletedWithErrors Status = "COMPLETED_WITH_ERRORS"
	StatusFailed              Status = "FAILED"
)

// IsTerminal returns true for statuses that represent a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCompletedWithErrors || s == StatusFailed
}

// IsSuccess reports a terminal status that produced an artifact.
func (s Status) IsSuccess() bool {
	return s == StatusCompleted || s == StatusCompletedWithErrors
}

// Stage is a free-form progress label.
type Stage string

const (
	StageQueued         Stage = "QUEUED"
	StageLaunching      Stage = "LAUNCHING"
	StageLogin          Stage = "LOGIN"
	StageCaptcha        Stage = "WAITING_FOR_CAPTCHA"
	StageCaptchaTimeout Stage = "CAPTCHA_TIMEOUT"
	StageNavigating     Stage = "NAVIGATING"
	StageDownloading    Stage = "DOWNLOADING"
	StageRetrying       Stage = "RETRYING"
	StageConsolidating  Stage = "CONSOLIDATING"
	StagePackaging      Stage = "PACKAGING"
	StageDone           Stage = "DONE"
	StageWithErrors     Stage = "COMPLETED_WITH_ERRORS"
	StageAborted        Stage = "ABORTED"
	StageFailed         Stage = "FAILED"
)

type UnitStatus string

const (
	UnitPending     UnitStatus = "PENDING"
	UnitRunning     UnitStatus = "RUNNING"
	UnitCompleted   UnitStatus = "COMPLETED"
	UnitFailed      UnitStatus = "FAILED"
	UnitRetrying    UnitStatus = "RETRYING"
	UnitFailedAgain UnitStatus = "FAILED_AGAIN"
)

// unitTransitions is the whole life of a period unit: one pass, and one
// retry pass for units that failed it.
var unitTransitions = map[UnitStatus][]UnitStatus{
	UnitPending:  {UnitRunning},
	UnitRunning:  {UnitCompleted, UnitFailed},
	UnitFailed:   {UnitRetrying},
	UnitRetrying: {UnitCompleted, UnitFailedAgain},
}

// CanTransition reports whether a unit may move from s to next.
func (s UnitStatus) CanTransition(next UnitStatus) bool {
	for _, allowed := range unitTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Unit is one period inside a job's scope.
type Unit struct {
	Name   string
	Status UnitStatus
}

// Units keeps calendar order; it encodes as a JSON object in that order.
type Units []Unit

func NewUnits(names []string) Units {
	u := make(Units, len(names))
	for i, n := range names {
		u[i] = Unit{Name: n, Status: UnitPending}
	}
	return u
}

func (u Units) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, unit := range u {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(unit.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(unit.Status)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Failed lists units whose latest status is a failure, in order.
func (u Units) Failed() []string {
	out := []string{}
	for _, unit := range u {
		if unit.Status == UnitFailed || unit.Status == UnitFailedAgain {
			out = append(out, unit.Name)
		}
	}
	return out
}

// AllCompleted is true for an empty scope too.
func (u Units) AllCompleted() bool {
	for _, unit := range u {
		if unit.Status != UnitCompleted {
			return false
		}
	}
	return true
}

// Credentials are the portal login. They never leave the process.
type Credentials struct {
	Username string
	Password string
}

type Job struct {
	ID           string     `json:"job_id"`
	Status       Status     `json:"status"`
	Stage        Stage      `json:"stage"`
	Client       string     `json:"client"`
	FY           string     `json:"fy"`
	OnlyFY       bool       `json:"only_fy"`
	Month        string     `json:"month,omitempty"`
	Months       Units      `json:"months"`
	FailedMonths []string   `json:"failed_months,omitzero"`
	DownloadURL  string     `json:"download_url,omitempty"`
	Error        string     `json:"error,omitempty"`
	BugLog       []string   `json:"bug_log"`
	Captcha      bool       `json:"captcha_pending"`
	CallbackURL  string     `json:"callback_url,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`

	Credentials  Credentials `json:"-"`
	Root         string      `json:"-"`
	WorkDir      string      `json:"-"`
	ArtifactPath string      `json:"-"`
}

func (j Job) clone() Job {
	c := j
	c.Months = append(Units(nil), j.Months...)
	c.BugLog = append([]string{}, j.BugLog...)
	if j.FailedMonths != nil {
		c.FailedMonths = append([]string{}, j.FailedMonths...)
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// ErrInvalidRequest wraps every validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// CreateRequest is the payload used to submit a new job.
type CreateRequest struct {
	GSTIN       string `json:"gstin"`
	Password    string `json:"password"`
	FY          string `json:"fy"`
	OnlyFY      *bool  `json:"only_fy"`
	Month       string `json:"month,omitempty"`
	Path        string `json:"path"`
	Client      string `json:"client"`
	CallbackURL string `json:"callback_url,omitempty"`
}

// FullYear is the scope selector; Validate has ensured it is set.
func (r *CreateRequest) FullYear() bool {
	return r.OnlyFY != nil && *r.OnlyFY
}

func (r *CreateRequest) Validate() error {
	required := []struct{ name, value string }{
		{"gstin", r.GSTIN},
		{"password", r.Password},
		{"fy", r.FY},
		{"path", r.Path},
		{"client", r.Client},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s must not be empty", ErrInvalidRequest, f.name)
		}
	}
	if r.OnlyFY == nil {
		return fmt.Errorf("%w: only_fy must be set", ErrInvalidRequest)
	}
	if _, err := period.Parse(r.FY); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !r.FullYear() {
		if strings.TrimSpace(r.Month) == "" {
			return fmt.Errorf("%w: month is required when only_fy is false", ErrInvalidRequest)
		}
		if !period.Valid(r.Month) {
			return fmt.Errorf("%w: unknown month %q", ErrInvalidRequest, r.Month)
		}
	}
	if strings.ContainsAny(r.Client, `/\`) || r.Client == "." || r.Client == ".." {
		return fmt.Errorf("%w: client must be a plain folder name", ErrInvalidRequest)
	}
	if !filepath.IsAbs(r.Path) {
		return fmt.Errorf("%w: path must be absolute", ErrInvalidRequest)
	}
	if r.CallbackURL != "" {
		u, err := url.Parse(r.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w: callback_url must be an http(s) URL", ErrInvalidRequest)
		}
	}
	return nil
}

// Challenge is the pending CAPTCHA of a job.
type Challenge struct {
	Path      string
	CreatedAt time.Time
	Deadline  time.Time
}
