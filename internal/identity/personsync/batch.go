package personsync

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"rollcall/internal/identity/models"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/requestcontext"
)

// Outcome classifies what SyncPerson did with one record.
type Outcome string

const (
	OutcomeSynced  Outcome = "synced"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// SyncResult reports one record. Person is the survivor when synced.
type SyncResult struct {
	PersonID id.PersonID    `json:"person_id"`
	Person   *models.Person `json:"-"`
	Outcome  Outcome        `json:"outcome"`
	Reason   string         `json:"reason,omitempty"`
}

// BatchResult summarizes SyncBatch.
type BatchResult struct {
	Results []SyncResult `json:"results"`
	Synced  int          `json:"synced"`
	Skipped int          `json:"skipped"`
	Failed  int          `json:"failed"`
}

func (b *BatchResult) add(r SyncResult) {
	b.Results = append(b.Results, r)
	switch r.Outcome {
	case OutcomeSynced:
		b.Synced++
	case OutcomeSkipped:
		b.Skipped++
	case OutcomeFailed:
		b.Failed++
	}
}

// SyncPerson refreshes one person from the legacy source. Problems are
// reported to staff and returned as a failed outcome.
func (e *Engine) SyncPerson(ctx context.Context, personID id.PersonID) (SyncResult, error) {
	report := e.newReport("SyncPerson")
	defer e.deliver(ctx, report)

	local, err := e.loadForSync(ctx, personID)
	if err != nil {
		return SyncResult{PersonID: personID, Outcome: OutcomeFailed, Reason: err.Error()}, err
	}
	if reason := skipReason(local); reason != "" {
		e.metrics.IncSyncRecord(string(OutcomeSkipped))
		return SyncResult{PersonID: personID, Person: local, Outcome: OutcomeSkipped, Reason: reason}, nil
	}
	remote, err := e.fetch(ctx, local.LegacyID)
	if err != nil {
		report.AddLegacySource(local.LegacyID, err)
		e.metrics.IncSyncRecord(string(OutcomeFailed))
		return SyncResult{PersonID: personID, Outcome: OutcomeFailed, Reason: err.Error()}, err
	}
	return e.syncOne(ctx, local, remote, report), nil
}

// SyncBatch refreshes many persons. Remote snapshots are fetched in parallel
// up to the configured concurrency; reconciliation runs in order so that
// collisions between records of the same batch are resolved deterministically.
// One error report covering the whole batch is sent at the end.
func (e *Engine) SyncBatch(ctx context.Context, personIDs []id.PersonID) (*BatchResult, error) {
	if e.legacy == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "legacy source is not configured")
	}
	report := e.newReport("SyncBatch")
	defer e.deliver(ctx, report)

	locals := make([]*models.Person, len(personIDs))
	remotes := make([]*models.RemotePerson, len(personIDs))
	fetchErrs := make([]error, len(personIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, personID := range personIDs {
		g.Go(func() error {
			local, err := e.loadForSync(gctx, personID)
			if err != nil {
				fetchErrs[i] = err
				return nil
			}
			locals[i] = local
			if skipReason(local) != "" {
				return nil
			}
			remote, err := e.fetch(gctx, local.LegacyID)
			if err != nil {
				report.AddLegacySource(local.LegacyID, err)
				fetchErrs[i] = err
				return nil
			}
			remotes[i] = remote
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTimeout, "sync batch cancelled")
	}

	out := &BatchResult{}
	for i, personID := range personIDs {
		if fetchErrs[i] != nil {
			e.metrics.IncSyncRecord(string(OutcomeFailed))
			out.add(SyncResult{PersonID: personID, Outcome: OutcomeFailed, Reason: fetchErrs[i].Error()})
			continue
		}
		// An earlier record may have merged this one away.
		local, err := e.loadForSync(ctx, personID)
		if err != nil {
			e.metrics.IncSyncRecord(string(OutcomeFailed))
			out.add(SyncResult{PersonID: personID, Outcome: OutcomeFailed, Reason: err.Error()})
			continue
		}
		if reason := skipReason(local); reason != "" {
			e.metrics.IncSyncRecord(string(OutcomeSkipped))
			out.add(SyncResult{PersonID: personID, Person: local, Outcome: OutcomeSkipped, Reason: reason})
			continue
		}
		out.add(e.syncOne(ctx, local, remotes[i], report))
	}

	e.logAudit(ctx, "person_sync_batch",
		"synced", out.Synced,
		"skipped", out.Skipped,
		"failed", out.Failed,
	)
	return out, nil
}

// SyncStale refreshes up to one batch of persons whose local copy is older
// than the stale threshold.
func (e *Engine) SyncStale(ctx context.Context) (*BatchResult, error) {
	staleBefore := requestcontext.Now(ctx).Add(-e.staleAfter)
	candidates, err := e.stores.Persons.ListSyncCandidates(ctx, staleBefore, e.batchSize)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sync candidates")
	}
	ids := make([]id.PersonID, len(candidates))
	for i, p := range candidates {
		ids[i] = p.ID
	}
	return e.SyncBatch(ctx, ids)
}

// Run calls SyncStale every interval until ctx is cancelled. A failed pass
// is logged and retried on the next tick.
func (e *Engine) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			passCtx := requestcontext.WithActor(ctx, "sync")
			if _, err := e.SyncStale(passCtx); err != nil && e.logger != nil {
				e.logger.ErrorContext(ctx, "stale person sync failed", "error", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) syncOne(ctx context.Context, local *models.Person, remote *models.RemotePerson, report *ErrorReport) SyncResult {
	if remote.Empty() {
		e.metrics.IncSyncRecord(string(OutcomeSkipped))
		return SyncResult{PersonID: local.ID, Person: local, Outcome: OutcomeSkipped, Reason: "legacy source has no data"}
	}
	p, err := e.reconcile(ctx, local, remote, report)
	if err != nil {
		e.metrics.IncSyncRecord(string(OutcomeFailed))
		return SyncResult{PersonID: local.ID, Outcome: OutcomeFailed, Reason: err.Error()}
	}
	e.metrics.IncSyncRecord(string(OutcomeSynced))
	return SyncResult{PersonID: local.ID, Person: p, Outcome: OutcomeSynced}
}

func (e *Engine) loadForSync(ctx context.Context, personID id.PersonID) (*models.Person, error) {
	p, err := e.stores.Persons.FindByID(ctx, personID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "person not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load person")
	}
	return p, nil
}

func (e *Engine) fetch(ctx context.Context, legacyID int64) (*models.RemotePerson, error) {
	if e.legacy == nil {
		return nil, dErrors.New(dErrors.CodeUnavailable, "legacy source is not configured")
	}
	ctx, span := e.tracer.Start(ctx, "personsync.Fetch")
	defer span.End()
	remote, err := e.legacy.GetPerson(ctx, legacyID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if remote == nil {
		return &models.RemotePerson{}, nil
	}
	return remote, nil
}

func skipReason(p *models.Person) string {
	switch {
	case p.IsDeleted():
		return "person was merged or deleted"
	case !p.HasLegacyID():
		return "person has no legacy id"
	}
	return ""
}
