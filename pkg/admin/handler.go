// Package admin provides HTTP handlers for inspecting and driving the
// master election.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/Shavakan/masterlock/pkg/config"
	"github.com/Shavakan/masterlock/pkg/election"
	"github.com/Shavakan/masterlock/pkg/logging"
	"github.com/Shavakan/masterlock/pkg/scheduler"
)

var adminLog = logging.WithComponent(logging.LogTypeAdmin, "handler")
var auditLog = logging.WithComponent(logging.LogTypeAdmin, "audit")

// Supervisor defines the election operations exposed by the admin API.
type Supervisor interface {
	Start()
	Stop(ctx context.Context)
	Restart(ctx context.Context)
	Standby(ctx context.Context)
	Status(ctx context.Context) election.Status
}

// JobLister lists the guarded scheduler's jobs.
type JobLister interface {
	Jobs() []scheduler.JobStatus
}

// LockBreaker clears the master lock whoever holds it.
type LockBreaker interface {
	ForceRelease(ctx context.Context) error
}

// Handler provides HTTP endpoints for the election lifecycle.
type Handler struct {
	supervisor Supervisor
	jobs       JobLister
	breaker    LockBreaker
	auth       *AuthMiddleware
}

// NewHandler creates a new admin handler with authentication.
// If adminSecret is empty, authentication is disabled.
func NewHandler(sup Supervisor, adminSecret string) *Handler {
	return &Handler{
		supervisor: sup,
		auth:       NewAuthMiddleware(adminSecret),
	}
}

// SetJobs sets the job lister included in status responses.
func (h *Handler) SetJobs(jobs JobLister) {
	h.jobs = jobs
}

// SetLockBreaker enables POST /api/lock/force-release.
func (h *Handler) SetLockBreaker(b LockBreaker) {
	h.breaker = b
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	election.Status
	Jobs []scheduler.JobStatus `json:"jobs,omitempty"`
}

// ActionResponse acknowledges a lifecycle request.
type ActionResponse struct {
	Action string `json:"action"`
	State  string `json:"state"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RegisterRoutes registers admin API routes on the given mux. When
// MASTERLOCK_ADMIN_SECRET is set, status routes need a read token and
// lifecycle routes a control token.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("GET /api/status", h.auth.RequireFunc(ScopeRead, h.GetStatus))
	mux.Handle("GET /admin", h.auth.Require(ScopeRead, StatusPage(h.status)))

	mux.Handle("POST /api/election/start", h.auth.RequireFunc(ScopeControl, h.StartElection))
	mux.Handle("POST /api/election/stop", h.auth.RequireFunc(ScopeControl, h.StopElection))
	mux.Handle("POST /api/election/restart", h.auth.RequireFunc(ScopeControl, h.RestartElection))
	mux.Handle("POST /api/election/standby", h.auth.RequireFunc(ScopeControl, h.StandbyScheduler))
	mux.Handle("POST /api/lock/force-release", h.auth.RequireFunc(ScopeControl, h.ForceRelease))
}

// GetStatus handles GET /api/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.status(r.Context()))
}

// StartElection handles POST /api/election/start.
func (h *Handler) StartElection(w http.ResponseWriter, r *http.Request) {
	h.supervisor.Start()
	h.acknowledge(w, r, "start", http.StatusAccepted)
}

// StopElection handles POST /api/election/stop.
func (h *Handler) StopElection(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lifecycleContext(r)
	defer cancel()
	h.supervisor.Stop(ctx)
	h.acknowledge(w, r, "stop", http.StatusOK)
}

// RestartElection handles POST /api/election/restart.
func (h *Handler) RestartElection(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lifecycleContext(r)
	defer cancel()
	h.supervisor.Restart(ctx)
	h.acknowledge(w, r, "restart", http.StatusAccepted)
}

// StandbyScheduler handles POST /api/election/standby.
func (h *Handler) StandbyScheduler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := lifecycleContext(r)
	defer cancel()
	h.supervisor.Standby(ctx)
	h.acknowledge(w, r, "standby", http.StatusOK)
}

// ForceRelease handles POST /api/lock/force-release. The current master
// notices the loss on its next verification and re-enters the election.
func (h *Handler) ForceRelease(w http.ResponseWriter, r *http.Request) {
	if h.breaker == nil {
		h.writeError(w, http.StatusNotImplemented, "Force release is not enabled", "")
		return
	}

	ctx, cancel := lifecycleContext(r)
	defer cancel()
	if err := h.breaker.ForceRelease(ctx); err != nil {
		h.audit(r, "force_release", "error", slog.String(logging.KeyError, err.Error()))
		h.writeError(w, http.StatusBadGateway, "Failed to release lock", err.Error())
		return
	}
	h.acknowledge(w, r, "force_release", http.StatusOK)
}

func (h *Handler) status(ctx context.Context) StatusResponse {
	resp := StatusResponse{Status: h.supervisor.Status(ctx)}
	if h.jobs != nil {
		resp.Jobs = h.jobs.Jobs()
	}
	return resp
}

func (h *Handler) acknowledge(w http.ResponseWriter, r *http.Request, action string, status int) {
	state := h.supervisor.Status(r.Context()).State
	h.audit(r, action, "success", slog.String(logging.KeyState, state))
	h.writeJSON(w, status, ActionResponse{Action: action, State: state})
}

// lifecycleContext detaches lifecycle work from the client connection so a
// disconnect cannot abort a half-done stop.
func lifecycleContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(r.Context()), config.LifecycleTimeout)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		adminLog.Error("json encode failed", slog.String(logging.KeyError, err.Error()))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, details string) {
	resp := ErrorResponse{Error: message}
	if details != "" {
		resp.Details = details
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) audit(r *http.Request, action, result string, extra ...any) {
	remoteAddr := r.Header.Get("X-Forwarded-For")
	if remoteAddr == "" {
		remoteAddr = r.RemoteAddr
	}
	attrs := []any{
		slog.Bool(logging.KeyAudit, true),
		slog.String(logging.KeyAction, action),
		slog.String(logging.KeyResult, result),
		slog.String(logging.KeyRemoteAddr, remoteAddr),
	}
	attrs = append(attrs, extra...)

	if result == "error" {
		auditLog.Error("admin action failed", attrs...)
		return
	}
	auditLog.Info("admin action", attrs...)
}
