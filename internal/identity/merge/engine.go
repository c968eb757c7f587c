// Package merge folds a duplicate person into a surviving one.
//
// A merge snapshots the source's memberships, writes a MergeAuditRecord that
// survives rollback, and then moves every dependent row in one transaction:
// memberships (deduplicated per event), lectures, inviter references and the
// login account. The source person is soft-deleted. External effects (legacy
// replace, domain events, failure notices) are dispatched only after the
// transaction has finished.
package merge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rollcall/internal/identity/metrics"
	"rollcall/internal/identity/models"
	"rollcall/internal/identity/notify"
	"rollcall/internal/identity/ports"
	"rollcall/pkg/attrs"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
	"rollcall/pkg/requestcontext"
)

// Outcome labels for merge metrics.
const (
	OutcomeCompleted     = "completed"
	OutcomeFailed        = "failed"
	OutcomeAlreadyMerged = "already_merged"
	OutcomeRejected      = "rejected"
)

// SnapshotInvalidator is implemented by legacy sources that cache remote
// snapshots.
type SnapshotInvalidator interface {
	Invalidate(ctx context.Context, legacyID int64) error
}

// Engine performs person merges.
type Engine struct {
	stores     ports.Stores
	txRunner   ports.TxRunner
	legacy     ports.LegacySource
	notifier   ports.Notifier
	events     ports.EventPublisher
	dispatcher ports.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Engine)

func WithLegacySource(src ports.LegacySource) Option {
	return func(e *Engine) {
		e.legacy = src
	}
}

func WithNotifier(n ports.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

func WithEventPublisher(p ports.EventPublisher) Option {
	return func(e *Engine) {
		e.events = p
	}
}

func WithDispatcher(d ports.Dispatcher) Option {
	return func(e *Engine) {
		e.dispatcher = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = t
	}
}

// New constructs an Engine. stores are used for reads and the audit writes
// that must outlive a rolled back merge; txRunner scopes the merge itself.
func New(stores ports.Stores, txRunner ports.TxRunner, opts ...Option) *Engine {
	e := &Engine{stores: stores, txRunner: txRunner}
	for _, opt := range opts {
		opt(e)
	}
	if e.dispatcher == nil {
		e.dispatcher = notify.Inline{Logger: e.logger}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("rollcall/merge")
	}
	return e
}

// Merge folds req.SourceID into req.TargetID. It never panics and reports
// failure through Result.Err. Merge opens its own transaction and must not
// be called from inside RunInTx.
func (e *Engine) Merge(ctx context.Context, req Request) *Result {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "merge.Merge", trace.WithAttributes(
		attribute.String("target_id", req.TargetID.String()),
		attribute.String("source_id", req.SourceID.String()),
	))
	defer span.End()

	res := e.merge(ctx, req)

	outcome := OutcomeCompleted
	switch {
	case res.Err == nil:
	case dErrors.HasCode(res.Err, dErrors.CodeAlreadyMerged):
		outcome = OutcomeAlreadyMerged
	case dErrors.HasCode(res.Err, dErrors.CodeValidation), dErrors.HasCode(res.Err, dErrors.CodeNotFound):
		outcome = OutcomeRejected
	default:
		outcome = OutcomeFailed
	}
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, outcome)
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	e.metrics.ObserveMerge(outcome, start)
	return res
}

func (e *Engine) merge(ctx context.Context, req Request) *Result {
	res := &Result{TargetID: req.TargetID, SourceID: req.SourceID}
	if req.TargetID.IsNil() || req.SourceID.IsNil() {
		res.Err = dErrors.New(dErrors.CodeValidation, "target and source person ids are required")
		return res
	}
	if req.TargetID == req.SourceID {
		res.Err = dErrors.New(dErrors.CodeValidation, "cannot merge a person into itself")
		return res
	}
	if req.Actor == "" {
		req.Actor = requestcontext.Actor(ctx)
	}
	now := requestcontext.Now(ctx)

	target, targetErr := e.loadLive(ctx, req.TargetID, "target")
	source, sourceErr := e.loadLive(ctx, req.SourceID, "source")
	if err := cmp.Or(targetErr, sourceErr); err != nil {
		res.Err = err
		// Both rows exist but one is gone: the attempt is recorded as failed.
		if target != nil && source != nil {
			res.AuditID = e.recordRejected(ctx, target, source, req, now, res.Err)
		}
		return res
	}

	audit, err := e.openAudit(ctx, target, source, req, now)
	if err != nil {
		res.Err = err
		return res
	}
	res.AuditID = audit.ID

	err = e.txRunner.RunInTx(ctx, func(ctx context.Context, s ports.Stores) error {
		return e.apply(ctx, s, req, audit.ID, now, res)
	})
	if err != nil {
		res.reset()
		res.Err = classify(err)
		e.failAudit(ctx, audit.ID, res.Err, now)
		e.dispatchFailure(ctx, target, source, audit.ID, res.Err)
		if e.logger != nil {
			e.logger.WarnContext(ctx, "person merge failed",
				"target_id", target.ID,
				"source_id", source.ID,
				"audit_id", audit.ID,
				"error", res.Err,
			)
		}
		return res
	}

	e.logAudit(ctx, "person_merged",
		"target_id", target.ID.String(),
		"source_id", source.ID.String(),
		"audit_id", audit.ID.String(),
		"actor", req.Actor,
		"memberships_moved", res.MembershipsMoved,
		"memberships_deduplicated", res.MembershipsDeduplicated,
		"lectures_moved", res.LecturesMoved,
		"invitations_moved", res.InvitationsMoved,
	)
	e.dispatchCommitted(ctx, target, source, audit, req, now)
	return res
}

func (e *Engine) loadLive(ctx context.Context, personID id.PersonID, role string) (*models.Person, error) {
	p, err := e.stores.Persons.FindByID(ctx, personID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("%s person %s not found", role, personID))
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load "+role+" person")
	}
	if p.IsDeleted() {
		return p, dErrors.New(dErrors.CodeAlreadyMerged, fmt.Sprintf("%s person %s was already merged or deleted", role, personID))
	}
	return p, nil
}

// recordRejected writes a failed audit record for a merge refused because
// one side was already merged. It returns the nil id when the record could
// not be written.
func (e *Engine) recordRejected(ctx context.Context, target, source *models.Person, req Request, now time.Time, cause error) id.AuditID {
	audit, err := e.openAudit(ctx, target, source, req, now)
	if err != nil {
		if e.logger != nil {
			e.logger.ErrorContext(ctx, "failed to record rejected merge",
				"target_id", target.ID,
				"source_id", source.ID,
				"error", err,
			)
		}
		return id.AuditID{}
	}
	e.failAudit(ctx, audit.ID, cause, now)
	return audit.ID
}

// snapshotSource lists the ids of the source's memberships and of the
// invitations attached to them.
func snapshotSource(ctx context.Context, s ports.Stores, sourceID id.PersonID) ([]id.MembershipID, []id.InvitationID, error) {
	memberships, err := s.Memberships.ListByPerson(ctx, sourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot source memberships: %w", err)
	}
	membershipIDs := make([]id.MembershipID, 0, len(memberships))
	for _, m := range memberships {
		membershipIDs = append(membershipIDs, m.ID)
	}
	invitations, err := s.Invitations.ListByMemberships(ctx, membershipIDs)
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot source invitations: %w", err)
	}
	invitationIDs := make([]id.InvitationID, 0, len(invitations))
	for _, inv := range invitations {
		invitationIDs = append(invitationIDs, inv.ID)
	}
	return membershipIDs, invitationIDs, nil
}

// openAudit snapshots the source's memberships and invitations and writes the
// audit record outside any transaction. The lists are taken again under the
// row locks before the record is completed.
func (e *Engine) openAudit(ctx context.Context, target, source *models.Person, req Request, now time.Time) (*models.MergeAuditRecord, error) {
	membershipIDs, invitationIDs, err := snapshotSource(ctx, e.stores, source.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to snapshot source")
	}

	audit := &models.MergeAuditRecord{
		ID:                  id.NewAuditID(),
		SourcePersonID:      source.ID,
		TargetPersonID:      target.ID,
		SourceEmail:         source.Email,
		TargetEmail:         target.Email,
		AffectedMemberships: membershipIDs,
		AffectedInvitations: invitationIDs,
		Reason:              req.Reason,
		InitiatedBy:         req.Actor,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := e.stores.Audits.Create(tx.Detach(ctx), audit); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeMergeFailure, "failed to record merge audit")
	}
	return audit, nil
}

func (e *Engine) apply(ctx context.Context, s ports.Stores, req Request, auditID id.AuditID, now time.Time, res *Result) error {
	target, source, err := lockPair(ctx, s, req.TargetID, req.SourceID)
	if err != nil {
		return err
	}
	membershipIDs, invitationIDs, err := snapshotSource(ctx, s, source.ID)
	if err != nil {
		return err
	}
	if err := s.Audits.SetAffected(ctx, auditID, membershipIDs, invitationIDs, now); err != nil {
		return fmt.Errorf("record affected rows: %w", err)
	}

	if err := moveMemberships(ctx, s, target, source, req.Actor, now, res); err != nil {
		return err
	}

	n, err := s.Lectures.Reassign(ctx, source.ID, target.ID, now)
	if err != nil {
		return fmt.Errorf("reassign lectures: %w", err)
	}
	res.LecturesMoved = n

	n, err = s.Invitations.ReassignInviter(ctx, source.ID, target.ID)
	if err != nil {
		return fmt.Errorf("reassign inviter references: %w", err)
	}
	res.InviterReferencesMoved = n

	action, err := reconcileAccounts(ctx, s, target, source, now)
	if err != nil {
		return err
	}
	res.AccountAction = action

	reason := fmt.Sprintf("Merged into person %s", target.ID)
	if err := s.Persons.SoftDelete(ctx, source.ID, req.Actor, reason, now); err != nil {
		return fmt.Errorf("soft delete source person: %w", err)
	}

	for _, hook := range req.Hooks {
		if err := hook(ctx, s, res); err != nil {
			return err
		}
	}

	if err := s.Audits.MarkCompleted(ctx, auditID, now); err != nil {
		return fmt.Errorf("complete merge audit: %w", err)
	}
	return nil
}

// lockPair row-locks both persons in id order and re-checks that neither was
// merged away while the caller was preparing.
func lockPair(ctx context.Context, s ports.Stores, targetID, sourceID id.PersonID) (*models.Person, *models.Person, error) {
	locked, err := s.Persons.LockForUpdate(ctx, targetID, sourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("lock persons: %w", err)
	}
	var target, source *models.Person
	for _, p := range locked {
		switch p.ID {
		case targetID:
			target = p
		case sourceID:
			source = p
		}
	}
	if target == nil || source == nil || target.IsDeleted() || source.IsDeleted() {
		return nil, nil, dErrors.New(dErrors.CodeAlreadyMerged, "a person in this merge was merged or deleted concurrently")
	}
	return target, source, nil
}

func moveMemberships(ctx context.Context, s ports.Stores, target, source *models.Person, actor string, now time.Time, res *Result) error {
	targetMemberships, err := s.Memberships.ListByPerson(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("list target memberships: %w", err)
	}
	byEvent := make(map[id.EventID]*models.Membership, len(targetMemberships))
	for _, m := range targetMemberships {
		byEvent[m.EventID] = m
	}

	sourceMemberships, err := s.Memberships.ListByPerson(ctx, source.ID)
	if err != nil {
		return fmt.Errorf("list source memberships: %w", err)
	}
	for _, m := range sourceMemberships {
		kept, duplicate := byEvent[m.EventID]
		if !duplicate {
			if err := s.Memberships.Reassign(ctx, m.ID, target.ID, now); err != nil {
				return fmt.Errorf("reassign membership %s: %w", m.ID, err)
			}
			byEvent[m.EventID] = m
			res.MembershipsMoved++
			continue
		}

		moved, err := s.Invitations.MoveToMembership(ctx, m.ID, kept.ID)
		if err != nil {
			return fmt.Errorf("move invitations of membership %s: %w", m.ID, err)
		}
		res.InvitationsMoved += moved
		if err := s.Memberships.SoftDelete(ctx, m.ID, actor, models.DuplicateMembershipReason, now); err != nil {
			return fmt.Errorf("remove duplicate membership %s: %w", m.ID, err)
		}
		res.MembershipsDeduplicated++
	}
	return nil
}

func reconcileAccounts(ctx context.Context, s ports.Stores, target, source *models.Person, now time.Time) (AccountAction, error) {
	sourceAccount, err := findActiveAccount(ctx, s, source.ID)
	if err != nil {
		return AccountNone, err
	}
	if sourceAccount == nil {
		return AccountNone, nil
	}
	targetAccount, err := findActiveAccount(ctx, s, target.ID)
	if err != nil {
		return AccountNone, err
	}
	if targetAccount == nil {
		if err := s.Accounts.Relink(ctx, sourceAccount.ID, target.ID, target.Email, now); err != nil {
			return AccountNone, fmt.Errorf("relink account: %w", err)
		}
		return AccountRelinked, nil
	}
	reason := fmt.Sprintf("Person merged into %s", target.ID)
	if err := s.Accounts.Deactivate(ctx, sourceAccount.ID, reason, now); err != nil {
		return AccountNone, fmt.Errorf("deactivate source account: %w", err)
	}
	return AccountDeactivated, nil
}

func findActiveAccount(ctx context.Context, s ports.Stores, personID id.PersonID) (*models.Account, error) {
	a, err := s.Accounts.FindActiveByPerson(ctx, personID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find account for %s: %w", personID, err)
	}
	return a, nil
}

// classify keeps domain codes raised inside the transaction and maps
// everything else to merge_failure.
func classify(err error) error {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case dErrors.CodeAlreadyMerged, dErrors.CodeValidation, dErrors.CodeNotFound, dErrors.CodeConflict, dErrors.CodeMergeFailure:
			return err
		}
	}
	if errors.Is(err, sentinel.ErrInvalidState) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "merge hook found stale state")
	}
	return dErrors.Wrap(err, dErrors.CodeMergeFailure, "merge transaction failed")
}

func (e *Engine) failAudit(ctx context.Context, auditID id.AuditID, cause error, now time.Time) {
	if err := e.stores.Audits.MarkFailed(tx.Detach(ctx), auditID, cause.Error(), now); err != nil && e.logger != nil {
		e.logger.ErrorContext(ctx, "failed to mark merge audit failed",
			"audit_id", auditID,
			"error", err,
		)
	}
}

func (e *Engine) dispatchFailure(ctx context.Context, target, source *models.Person, auditID id.AuditID, cause error) {
	if e.notifier == nil {
		return
	}
	notice := ports.AdminNotice{
		Problem: "Person merge failed",
		Source:  "merge",
		Details: map[string]string{
			"audit_id":     auditID.String(),
			"target_id":    target.ID.String(),
			"target_name":  target.Name(),
			"target_email": target.Email,
			"source_id":    source.ID.String(),
			"source_name":  source.Name(),
			"source_email": source.Email,
		},
		Error: cause.Error(),
	}
	e.dispatcher.Dispatch(ctx, "merge.notify_failure", func(ctx context.Context) error {
		return e.notifier.NotifyAdmin(ctx, notice)
	})
}

func (e *Engine) dispatchCommitted(ctx context.Context, target, source *models.Person, audit *models.MergeAuditRecord, req Request, now time.Time) {
	if e.legacy != nil && source.HasLegacyID() && target.HasLegacyID() && source.LegacyID != target.LegacyID {
		oldID, newID := source.LegacyID, target.LegacyID
		e.dispatcher.Dispatch(ctx, "legacy.replace_person", func(ctx context.Context) error {
			return e.legacy.ReplacePerson(ctx, oldID, newID)
		})
	}
	if inv, ok := e.legacy.(SnapshotInvalidator); ok && source.HasLegacyID() {
		legacyID := source.LegacyID
		e.dispatcher.Dispatch(ctx, "legacy.invalidate_snapshot", func(ctx context.Context) error {
			return inv.Invalidate(ctx, legacyID)
		})
	}
	if e.events != nil {
		evt := ports.PersonMerged{
			AuditID:        audit.ID,
			TargetPersonID: target.ID,
			SourcePersonID: source.ID,
			TargetEmail:    target.Email,
			SourceEmail:    source.Email,
			TargetLegacyID: target.LegacyID,
			SourceLegacyID: source.LegacyID,
			Actor:          req.Actor,
			Reason:         req.Reason,
			MergedAt:       now,
		}
		e.dispatcher.Dispatch(ctx, "events.person_merged", func(ctx context.Context) error {
			return e.events.PublishMerged(ctx, evt)
		})
	}
}

func (e *Engine) logAudit(ctx context.Context, event string, attributes ...any) {
	if e.logger == nil {
		return
	}
	if attrs.ExtractString(attributes, "actor") == "" {
		attributes = append(attributes, "actor", requestcontext.Actor(ctx))
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	e.logger.InfoContext(ctx, event, args...)
}
