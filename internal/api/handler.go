package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gstrgate/gstrgate/internal/account"
	"github.com/gstrgate/gstrgate/internal/job"
	"github.com/gstrgate/gstrgate/internal/orchestrator"
	"github.com/gstrgate/gstrgate/internal/period"
)

// Accounts validates operator logins.
type Accounts interface {
	Validate(ctx context.Context, loginID, password string) error
}

// Handler holds the dependencies for all HTTP handlers.
type Handler struct {
	jobs     *orchestrator.Orchestrator
	accounts Accounts
	now      func() time.Time
}

// NewHandler constructs a Handler with the given dependencies. accounts may be nil,
// which disables the login route.
func NewHandler(jobs *orchestrator.Orchestrator, accounts Accounts) *Handler {
	return &Handler{jobs: jobs, accounts: accounts, now: time.Now}
}

// RegisterRoutes registers all API routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/jobs", h.CreateJob)
	mux.HandleFunc("GET /api/v1/jobs", h.ListJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.GetJob)
	mux.HandleFunc("DELETE /api/v1/jobs/{id}", h.DeleteJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/sse", h.StreamSSE)
	mux.HandleFunc("POST /api/v1/jobs/{id}/cancel", h.CancelJob)
	mux.HandleFunc("GET /api/v1/jobs/{id}/captcha", h.GetCaptcha)
	mux.HandleFunc("POST /api/v1/jobs/{id}/captcha", h.SubmitCaptcha)
	mux.HandleFunc("GET /api/v1/jobs/{id}/artifact", h.DownloadArtifact)
	mux.HandleFunc("GET /api/v1/fiscal-years", h.FiscalYears)
	mux.HandleFunc("POST /api/v1/login", h.Login)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// CreateJob handles POST /api/v1/jobs and responds 202 with the job ID.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB max
	var req job.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	j, err := h.jobs.Submit(req)
	if err != nil {
		writeJobError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
		"months": j.Months,
	})
}

// ListJobs handles GET /api/v1/jobs and responds 200 with a paginated list of jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r.URL.Query().Get("limit"), 20)
	offset := parseIntParam(r.URL.Query().Get("offset"), 0)

	jobs, total := h.jobs.List(limit, offset)
	// Return an empty array instead of null when there are no jobs.
	if jobs == nil {
		jobs = []job.Job{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// parseIntParam parses a query string integer, returning the fallback on empty or invalid input.
func parseIntParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

// GetJob handles GET /api/v1/jobs/{id} and responds 200 with the job.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Get(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

// DeleteJob handles DELETE /api/v1/jobs/{id} and responds 204. Only finished
// jobs can be deleted; their files stay on disk.
func (h *Handler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Remove(r.PathValue("id")); err != nil {
		writeJobError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelJob handles POST /api/v1/jobs/{id}/cancel.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobs.Abort(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": j.ID, "status": j.Status})
}

// GetCaptcha handles GET /api/v1/jobs/{id}/captcha and serves the pending challenge image.
func (h *Handler) GetCaptcha(w http.ResponseWriter, r *http.Request) {
	img, err := h.jobs.ChallengeImage(r.PathValue("id"))
	if err != nil {
		writeJobError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(img) //nolint:errcheck
}

type captchaRequest struct {
	Captcha string `json:"captcha"`
}

// SubmitCaptcha handles POST /api/v1/jobs/{id}/captcha.
func (h *Handler) SubmitCaptcha(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req captchaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id := r.PathValue("id")
	if err := h.jobs.SubmitCaptcha(r.Context(), id, req.Captcha); err != nil {
		writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "captcha submitted"})
}

// DownloadArtifact handles GET /api/v1/jobs/{id}/artifact. The per-period
// files are removed once the archive was sent in full.
func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	path, err := h.jobs.Artifact(id)
	if err != nil {
		writeJobError(w, err)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusGone, "artifact no longer on disk")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	if fi, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(fi.Size(), 10))
	}
	if _, err := io.Copy(w, f); err != nil {
		slog.Warn("artifact transfer interrupted", "job_id", id, "error", err)
		return
	}
	if err := h.jobs.CleanupIntermediate(id); err != nil {
		slog.Warn("cleanup after download", "job_id", id, "error", err)
	}
}

// FiscalYears handles GET /api/v1/fiscal-years.
func (h *Handler) FiscalYears(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	writeJSON(w, http.StatusOK, map[string]any{
		"fiscal_years": period.YearsSince(now),
		"current":      period.Current(now),
		"months":       period.Months,
	})
}

type loginRequest struct {
	LoginID  string `json:"login_id"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/login against the account record store.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	if h.accounts == nil {
		writeError(w, http.StatusNotImplemented, "account store not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.LoginID) == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"status": "error", "message": "missing credentials"})
		return
	}
	err := h.accounts.Validate(r.Context(), req.LoginID, req.Password)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case errors.Is(err, account.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"status": "invalid"})
	default:
		slog.Error("login validation", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": "login validation failed"})
	}
}

// Health handles GET /api/v1/health and responds 200.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	_, total := h.jobs.List(0, 0)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "jobs": total})
}

// writeJobError maps domain errors to HTTP status codes.
func writeJobError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, job.ErrInvalidRequest), errors.Is(err, orchestrator.ErrEmptySolution):
		status = http.StatusBadRequest
	case errors.Is(err, job.ErrNotFound), errors.Is(err, job.ErrNoChallenge), errors.Is(err, orchestrator.ErrNoArtifact):
		status = http.StatusNotFound
	case errors.Is(err, job.ErrTerminal), errors.Is(err, job.ErrNotTerminal):
		status = http.StatusConflict
	case errors.Is(err, orchestrator.ErrSolveFailed):
		status = http.StatusBadGateway
	case errors.Is(err, orchestrator.ErrQueueFull):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
