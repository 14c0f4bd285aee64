// Package api exposes the read-only ledger HTTP surface consumed by the
// dashboard collaborator. The engine has no mutation endpoints: rule
// configuration arrives through the admin surface and trigger events
// through the gateway, both outside this process boundary.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"roleledger/internal/domain"
	"roleledger/internal/middleware"
	"roleledger/internal/service"
)

// Handler serves the read-only ledger endpoints.
type Handler struct {
	ledger *service.LedgerService
	audit  *service.AuditService
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(ledger *service.LedgerService, audit *service.AuditService, logger *slog.Logger) *Handler {
	return &Handler{ledger: ledger, audit: audit, logger: logger}
}

// RouterConfig holds the middleware knobs for the read API.
type RouterConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
	AllowedOrigins []string
}

// Router builds the chi router with request-id, rate-limit, and CORS
// middleware around the ledger endpoints.
func (h *Handler) Router(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))

	r.Get("/healthz", h.health)
	r.Route("/v1/communities/{community}", func(r chi.Router) {
		r.Get("/assignments", h.listAssignments)
		r.Get("/tickets", h.listTickets)
		r.Get("/audit", h.listAudit)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// assignmentView is the wire shape of a ledger assignment.
type assignmentView struct {
	ID        string     `json:"id"`
	Community string     `json:"community"`
	Account   string     `json:"account"`
	RuleID    string     `json:"rule_id"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

func (h *Handler) listAssignments(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")
	page := pageFromQuery(r)

	assignments, total, err := h.ledger.ListAssignments(r.Context(), community, page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data := make([]assignmentView, len(assignments))
	for i, a := range assignments {
		data[i] = assignmentView{
			ID:        a.ID,
			Community: a.Community,
			Account:   a.Account,
			RuleID:    a.RuleID,
			ExpiresAt: a.ExpiresAt,
			CreatedAt: a.CreatedAt,
		}
	}
	writePage(w, data, page, total)
}

// ticketView is the wire shape of a delayed-grant ticket.
type ticketView struct {
	ID           string    `json:"id"`
	Community    string    `json:"community"`
	Account      string    `json:"account"`
	RuleID       string    `json:"rule_id"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	Status       string     `json:"status"`
	Detail       *string    `json:"detail,omitempty"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (h *Handler) listTickets(w http.ResponseWriter, r *http.Request) {
	community := chi.URLParam(r, "community")
	page := pageFromQuery(r)

	tickets, total, err := h.ledger.ListTickets(r.Context(), community, page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data := make([]ticketView, len(tickets))
	for i, t := range tickets {
		data[i] = ticketView{
			ID:           t.ID,
			Community:    t.Community,
			Account:      t.Account,
			RuleID:       t.RuleID,
			ScheduledFor: t.ScheduledFor,
			Status:       t.Status,
			Detail:       t.Detail,
			ResolvedAt:   t.ResolvedAt,
			CreatedAt:    t.CreatedAt,
		}
	}
	writePage(w, data, page, total)
}

// auditView is the wire shape of an audit entry.
type auditView struct {
	ID        string    `json:"id"`
	Community string    `json:"community"`
	Account   string    `json:"account"`
	RuleID    *string   `json:"rule_id,omitempty"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Detail    *string   `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	filter := domain.AuditFilter{
		Community: chi.URLParam(r, "community"),
		Account:   optQuery(r, "account"),
		Action:    optQuery(r, "action"),
		Status:    optQuery(r, "status"),
		Page:      pageFromQuery(r),
	}

	entries, total, err := h.audit.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	data := make([]auditView, len(entries))
	for i, e := range entries {
		data[i] = auditView{
			ID:        e.ID,
			Community: e.Community,
			Account:   e.Account,
			RuleID:    e.RuleID,
			Action:    e.Action,
			Status:    e.Status,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		}
	}
	writePage(w, data, filter.Page, total)
}

func pageFromQuery(r *http.Request) domain.PageRequest {
	page := domain.PageRequest{PageToken: r.URL.Query().Get("page_token")}
	if v := r.URL.Query().Get("max_results"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			page.MaxResults = n
		}
	}
	return page
}

func optQuery(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}

func writePage[T any](w http.ResponseWriter, data []T, page domain.PageRequest, total int64) {
	writeJSON(w, http.StatusOK, map[string]any{
		"data":            data,
		"next_page_token": domain.NextPageToken(page.Offset(), page.Limit(), total),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := httpStatusFromDomainError(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.RequestIDFromContext(r.Context()),
			"error", err)
	}
	writeJSON(w, status, map[string]any{"code": status, "message": err.Error()})
}
