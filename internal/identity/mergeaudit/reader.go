// Package mergeaudit exposes read access to merge audit records. Records are
// written only by the merge engine.
package mergeaudit

import (
	"context"
	"errors"
	"time"

	"rollcall/internal/identity/models"
	"rollcall/internal/identity/ports"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/requestcontext"
)

// DefaultRecentWindow bounds Recent when no window is configured.
const DefaultRecentWindow = 7 * 24 * time.Hour

type Reader struct {
	audits ports.AuditStore
	window time.Duration
}

type Option func(*Reader)

// WithRecentWindow overrides the window used by Recent when called with zero.
func WithRecentWindow(d time.Duration) Option {
	return func(r *Reader) {
		if d > 0 {
			r.window = d
		}
	}
}

func New(audits ports.AuditStore, opts ...Option) *Reader {
	r := &Reader{audits: audits, window: DefaultRecentWindow}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recent returns attempts created within window of now, newest first. A zero
// window uses the configured default.
func (r *Reader) Recent(ctx context.Context, window time.Duration) ([]*models.MergeAuditRecord, error) {
	if window <= 0 {
		window = r.window
	}
	since := requestcontext.Now(ctx).Add(-window)
	records, err := r.audits.ListSince(ctx, since)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list recent merge audits")
	}
	return records, nil
}

// Failed returns attempts that were rolled back with a recorded error.
func (r *Reader) Failed(ctx context.Context) ([]*models.MergeAuditRecord, error) {
	records, err := r.audits.ListFailed(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list failed merge audits")
	}
	return records, nil
}

func (r *Reader) Completed(ctx context.Context) ([]*models.MergeAuditRecord, error) {
	records, err := r.audits.ListCompleted(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list completed merge audits")
	}
	return records, nil
}

// ForPerson returns attempts where personID was either side.
func (r *Reader) ForPerson(ctx context.Context, personID id.PersonID) ([]*models.MergeAuditRecord, error) {
	if personID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "person id is required")
	}
	records, err := r.audits.ListForPerson(ctx, personID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list merge audits for person")
	}
	return records, nil
}

func (r *Reader) Get(ctx context.Context, auditID id.AuditID) (*models.MergeAuditRecord, error) {
	rec, err := r.audits.FindByID(ctx, auditID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "merge audit not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load merge audit")
	}
	return rec, nil
}

// List dispatches on filter for the admin surface.
func (r *Reader) List(ctx context.Context, filter models.AuditFilter) ([]*models.MergeAuditRecord, error) {
	switch filter {
	case "", models.AuditRecent:
		return r.Recent(ctx, 0)
	case models.AuditFailed:
		return r.Failed(ctx)
	case models.AuditCompleted:
		return r.Completed(ctx)
	default:
		return nil, dErrors.New(dErrors.CodeValidation, "unknown merge audit filter: "+string(filter))
	}
}
