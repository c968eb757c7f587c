// Package handler exposes the identity operations on the admin HTTP API.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rollcall/internal/identity/conflict"
	"rollcall/internal/identity/merge"
	"rollcall/internal/identity/models"
	"rollcall/internal/identity/personsync"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/httputil"
	"rollcall/pkg/platform/middleware/metadata"
	"rollcall/pkg/requestcontext"
)

// Merger folds one person into another.
type Merger interface {
	Merge(ctx context.Context, req merge.Request) *merge.Result
}

// Conflicts is the conflict review queue.
type Conflicts interface {
	List(ctx context.Context, filter models.ConflictFilter) ([]*models.Conflict, error)
	Stats(ctx context.Context) (models.ConflictStats, error)
	Review(ctx context.Context, conflictID id.ConflictID) (*conflict.Review, error)
	Resolve(ctx context.Context, conflictID id.ConflictID, action conflict.Action, actor, reason string) (*conflict.ResolveResult, error)
}

// Audits reads merge audit records.
type Audits interface {
	List(ctx context.Context, filter models.AuditFilter) ([]*models.MergeAuditRecord, error)
	Get(ctx context.Context, auditID id.AuditID) (*models.MergeAuditRecord, error)
	ForPerson(ctx context.Context, personID id.PersonID) ([]*models.MergeAuditRecord, error)
}

// Syncer runs the email-change policy and legacy sync.
type Syncer interface {
	ChangeEmail(ctx context.Context, personID id.PersonID, newEmail, actor string) (*personsync.EmailChange, error)
	SyncPerson(ctx context.Context, personID id.PersonID) (personsync.SyncResult, error)
}

// Handler wires admin endpoints to the identity services.
type Handler struct {
	merger    Merger
	conflicts Conflicts
	audits    Audits
	syncer    Syncer
	logger    *slog.Logger
}

func New(merger Merger, conflicts Conflicts, audits Audits, syncer Syncer, logger *slog.Logger) *Handler {
	return &Handler{
		merger:    merger,
		conflicts: conflicts,
		audits:    audits,
		syncer:    syncer,
		logger:    logger,
	}
}

// Register mounts the admin endpoints on r. Authentication is the caller's
// middleware.
func (h *Handler) Register(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/people/{id}/merge", h.HandleMerge)
		r.Put("/people/{id}/email", h.HandleChangeEmail)
		r.Post("/people/{id}/sync", h.HandleSync)

		r.Get("/conflicts", h.HandleListConflicts)
		r.Get("/conflicts/stats", h.HandleConflictStats)
		r.Get("/conflicts/{id}", h.HandleGetConflict)
		r.Post("/conflicts/{id}/resolve", h.HandleResolve)

		r.Get("/merge-audits", h.HandleListAudits)
		r.Get("/merge-audits/{id}", h.HandleGetAudit)
	})
}

// HandleMerge handles POST /admin/people/{id}/merge. The path person is the
// surviving target.
func (h *Handler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	start := time.Now()

	targetID, err := id.ParsePersonID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[MergeRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res := h.merger.Merge(ctx, merge.Request{
		TargetID: targetID,
		SourceID: req.sourceID,
		Actor:    requestcontext.Actor(ctx),
		Reason:   req.Reason,
	})
	if !res.Success() {
		h.logger.ErrorContext(ctx, "admin merge failed",
			"request_id", requestID,
			"target_person_id", targetID,
			"source_person_id", req.sourceID,
			"error", res.Err,
		)
		httputil.WriteError(w, res.Err)
		return
	}
	h.logger.InfoContext(ctx, "admin merge completed",
		"request_id", requestID,
		"actor", requestcontext.Actor(ctx),
		"client_ip", metadata.ClientIP(ctx),
		"audit_id", res.AuditID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, FromMergeResult(res))
}

// HandleChangeEmail handles PUT /admin/people/{id}/email.
func (h *Handler) HandleChangeEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	personID, err := id.ParsePersonID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ChangeEmailRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	change, err := h.syncer.ChangeEmail(ctx, personID, req.Email, requestcontext.Actor(ctx))
	if err != nil {
		h.logger.ErrorContext(ctx, "email change failed",
			"request_id", requestID,
			"person_id", personID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	status := http.StatusOK
	if !change.Applied && len(change.Conflicts) > 0 {
		status = http.StatusAccepted
	}
	httputil.WriteJSON(w, status, FromEmailChange(change))
}

// HandleSync handles POST /admin/people/{id}/sync.
func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	personID, err := id.ParsePersonID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.syncer.SyncPerson(ctx, personID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromSyncResult(res))
}

// HandleListConflicts handles GET /admin/conflicts?filter=.
func (h *Handler) HandleListConflicts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filter, err := models.ParseConflictFilter(r.URL.Query().Get("filter"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	conflicts, err := h.conflicts.List(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ConflictListResponse{
		Filter:    string(filter),
		Conflicts: FromConflicts(conflicts),
	})
}

// HandleConflictStats handles GET /admin/conflicts/stats.
func (h *Handler) HandleConflictStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.conflicts.Stats(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// HandleGetConflict handles GET /admin/conflicts/{id}.
func (h *Handler) HandleGetConflict(w http.ResponseWriter, r *http.Request) {
	conflictID, err := id.ParseConflictID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	review, err := h.conflicts.Review(r.Context(), conflictID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromReview(review))
}

// HandleResolve handles POST /admin/conflicts/{id}/resolve.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	conflictID, err := id.ParseConflictID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ResolveRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.conflicts.Resolve(ctx, conflictID, req.action, requestcontext.Actor(ctx), req.Reason)
	if err != nil {
		h.logger.ErrorContext(ctx, "conflict resolution failed",
			"request_id", requestID,
			"conflict_id", conflictID,
			"action", req.action,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromResolveResult(res))
}

// HandleListAudits handles GET /admin/merge-audits?filter=&person=. A person
// parameter lists every attempt involving that person and ignores filter.
func (h *Handler) HandleListAudits(w http.ResponseWriter, r *http.Request) {
	if raw := r.URL.Query().Get("person"); raw != "" {
		personID, err := id.ParsePersonID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		records, err := h.audits.ForPerson(r.Context(), personID)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, AuditListResponse{
			Filter: "person",
			Audits: FromAudits(records),
		})
		return
	}

	filter := models.AuditFilter(r.URL.Query().Get("filter"))
	records, err := h.audits.List(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if filter == "" {
		filter = models.AuditRecent
	}
	httputil.WriteJSON(w, http.StatusOK, AuditListResponse{
		Filter: string(filter),
		Audits: FromAudits(records),
	})
}

// HandleGetAudit handles GET /admin/merge-audits/{id}.
func (h *Handler) HandleGetAudit(w http.ResponseWriter, r *http.Request) {
	auditID, err := id.ParseAuditID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rec, err := h.audits.Get(r.Context(), auditID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromAudit(rec))
}
