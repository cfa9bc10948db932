package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/tinoosan/ptguard/internal/audit"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/jobs"
	"github.com/tinoosan/ptguard/internal/scheduler"
	"github.com/tinoosan/ptguard/internal/service"
	"github.com/tinoosan/ptguard/internal/tracker"
)

const defaultAuditLimit = 100

type Scheduler interface {
	Snapshot() []scheduler.Entry
}

type AuditLog interface {
	List(limit int) []audit.Event
}

type Jobs interface {
	Names() []string
	Run(ctx context.Context, name string) error
}

type Pusher interface {
	Push(ctx context.Context, req service.PushRequest) (*data.Item, error)
}

type Logins interface {
	Begin(ctx context.Context, siteURL string) (*tracker.LoginSession, error)
	Submit(ctx context.Context, id string, cred tracker.Credentials, accountID int64) (*data.Account, error)
}

// Deps are the services the operator API fronts.
type Deps struct {
	Scheduler Scheduler
	Audit     AuditLog
	Jobs      Jobs
	Push      Pusher
	Logins    Logins
}

type Handler struct {
	l      *slog.Logger
	sched  Scheduler
	audit  AuditLog
	jobs   Jobs
	push   Pusher
	logins Logins
}

func NewHandler(l *slog.Logger, d Deps) *Handler {
	if l == nil {
		l = slog.Default()
	}
	return &Handler{l: l, sched: d.Scheduler, audit: d.Audit, jobs: d.Jobs, push: d.Push, logins: d.Logins}
}

// Routes mounts the v1 endpoints on r.
func (h *Handler) Routes(r *mux.Router) {
	r.HandleFunc("/scheduler", h.GetScheduler).Methods(http.MethodGet)
	r.HandleFunc("/audit", h.GetAudit).Methods(http.MethodGet)
	r.HandleFunc("/jobs", h.ListJobs).Methods(http.MethodGet)
	r.HandleFunc("/jobs/{name}/run", h.RunJob).Methods(http.MethodPost)
	r.HandleFunc("/items/push", h.PushItem).Methods(http.MethodPost)
	r.HandleFunc("/login/begin", h.LoginBegin).Methods(http.MethodPost)
	r.HandleFunc("/login/submit", h.LoginSubmit).Methods(http.MethodPost)
}

func (h *Handler) GetScheduler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.sched.Snapshot()})
}

func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			fail(w, http.StatusBadRequest, ErrLimit)
			return
		}
		limit = n
	}
	events := h.audit.List(limit)
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": h.jobs.Names()})
}

// RunJob runs a registered job now and waits for it.
func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := h.jobs.Run(r.Context(), name); err != nil {
		fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job": name, "status": "ok"})
}

func (h *Handler) PushItem(w http.ResponseWriter, r *http.Request) {
	var req service.PushRequest
	if err := decodeJSONStrict(w, r, &req); err != nil {
		badJSON(w, err)
		return
	}
	it, err := h.push.Push(r.Context(), req)
	if err != nil {
		fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, it)
}

type beginRequest struct {
	SiteURL string `json:"siteUrl"`
}

type beginResponse struct {
	SessionID string `json:"sessionId"`
	Captcha   string `json:"captcha"`
}

func (h *Handler) LoginBegin(w http.ResponseWriter, r *http.Request) {
	var req beginRequest
	if err := decodeJSONStrict(w, r, &req); err != nil {
		badJSON(w, err)
		return
	}
	if req.SiteURL == "" {
		fail(w, http.StatusBadRequest, ErrSiteURL)
		return
	}
	sess, err := h.logins.Begin(r.Context(), req.SiteURL)
	if err != nil {
		fail(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, beginResponse{SessionID: sess.ID, Captcha: sess.Captcha})
}

type submitRequest struct {
	SessionID string `json:"sessionId"`
	AccountID int64  `json:"accountId,omitempty"`
	tracker.Credentials
}

func (h *Handler) LoginSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSONStrict(w, r, &req); err != nil {
		badJSON(w, err)
		return
	}
	if req.SessionID == "" {
		fail(w, http.StatusBadRequest, ErrSessionID)
		return
	}
	acc, err := h.logins.Submit(r.Context(), req.SessionID, req.Credentials, req.AccountID)
	if err != nil {
		fail(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrUnknownJob), errors.Is(err, data.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrTorrentID):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrDuplicate), errors.Is(err, data.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, data.ErrNoAccount), errors.Is(err, service.ErrNoClient):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tracker.ErrLoginExpired):
		return http.StatusGone
	case errors.Is(err, tracker.ErrLoginFailed):
		return http.StatusUnauthorized
	case errors.Is(err, tracker.ErrSessionInvalid), errors.Is(err, tracker.ErrNotTorrent):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
