// Package personsync reconciles local person records with the legacy source
// and applies the email-change policy shared by sync and administrative edits.
package personsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"rollcall/internal/identity/conflict"
	"rollcall/internal/identity/duplicates"
	"rollcall/internal/identity/metrics"
	"rollcall/internal/identity/models"
	"rollcall/internal/identity/notify"
	"rollcall/internal/identity/ports"
	"rollcall/pkg/attrs"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/email"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/requestcontext"
)

// DefaultUpdatedBy is recorded when the legacy source does not say who last
// changed a record.
const DefaultUpdatedBy = "Workshops importer"

const (
	DefaultConcurrency = 4
	DefaultBatchSize   = 100
	DefaultStaleAfter  = 24 * time.Hour
)

// ConflictCreator opens email conflicts.
type ConflictCreator interface {
	CreateOrGet(ctx context.Context, a, b *models.Person, reversed bool) (*models.Conflict, bool, error)
}

// Engine reconciles persons against the legacy source.
type Engine struct {
	stores     ports.Stores
	txRunner   ports.TxRunner
	detector   *duplicates.Detector
	merger     conflict.Merger
	conflicts  ConflictCreator
	scorer     ports.RecordScorer
	activity   conflict.RecentActivity
	legacy     ports.LegacySource
	notifier   ports.Notifier
	dispatcher ports.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	concurrency int
	batchSize   int
	staleAfter  time.Duration
	personURL   string
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

// WithConcurrency bounds parallel legacy fetches in SyncBatch.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithStalePolicy sets how old a record must be before SyncStale picks it up
// and how many records one pass handles.
func WithStalePolicy(staleAfter time.Duration, batchSize int) Option {
	return func(e *Engine) {
		if staleAfter > 0 {
			e.staleAfter = staleAfter
		}
		if batchSize > 0 {
			e.batchSize = batchSize
		}
	}
}

// WithPersonURL sets the legacy profile URL prefix used in error reports.
func WithPersonURL(prefix string) Option {
	return func(e *Engine) {
		e.personURL = prefix
	}
}

func New(
	stores ports.Stores,
	txRunner ports.TxRunner,
	merger conflict.Merger,
	conflicts ConflictCreator,
	scorer ports.RecordScorer,
	activity conflict.RecentActivity,
	opts ...Option,
) *Engine {
	e := &Engine{
		stores:      stores,
		txRunner:    txRunner,
		detector:    duplicates.New(stores.Persons),
		merger:      merger,
		conflicts:   conflicts,
		scorer:      scorer,
		activity:    activity,
		concurrency: DefaultConcurrency,
		batchSize:   DefaultBatchSize,
		staleAfter:  DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dispatcher == nil {
		e.dispatcher = notify.Inline{Logger: e.logger}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("rollcall/personsync")
	}
	return e
}

// Reconcile brings local in line with remote and persists the result. It
// returns the surviving person, which differs from local when local lost an
// automatic merge. Record-level problems are reported to staff.
func (e *Engine) Reconcile(ctx context.Context, local *models.Person, remote *models.RemotePerson) (*models.Person, error) {
	report := e.newReport("Reconcile")
	p, err := e.reconcile(ctx, local, remote, report)
	e.deliver(ctx, report)
	return p, err
}

func (e *Engine) reconcile(ctx context.Context, local *models.Person, remote *models.RemotePerson, report *ErrorReport) (*models.Person, error) {
	if local == nil || remote.Empty() {
		return nil, dErrors.New(dErrors.CodeValidation, "local person and remote snapshot are required")
	}
	if local.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeAlreadyMerged, "person was merged or deleted")
	}
	ctx, span := e.tracer.Start(ctx, "personsync.Reconcile", trace.WithAttributes(
		attribute.String("person_id", local.ID.String()),
		attribute.Int64("legacy_id", remote.LegacyID),
	))
	defer span.End()

	d, err := e.dedupe(ctx, local.Clone(), remote, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dedupe failed")
		return nil, err
	}
	p, emailChanged := d.person, d.emailChanged

	changed := emailChanged || d.legacyAdopted
	if localIsNewer(p, remote) {
		changed = fillMissing(p, remote) || changed
	} else {
		applyRemote(p, remote)
		changed = true
	}
	if !changed {
		return p, nil
	}
	if err := e.persist(ctx, p, emailChanged); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		report.AddPerson(p, err.Error())
		return nil, err
	}
	e.logAudit(ctx, "person_reconciled",
		"person_id", p.ID.String(),
		"legacy_id", p.LegacyID,
		"email_changed", emailChanged,
	)
	return p, nil
}

// deduped is the survivor of dedupe and the changes it still has to persist.
type deduped struct {
	person        *models.Person
	emailChanged  bool
	legacyAdopted bool
}

// adoptLegacyID gives the survivor the remote legacy id when it has none, so
// the external identity stays on a live record after a merge.
func (d *deduped) adoptLegacyID(legacyID int64) {
	if legacyID > 0 && !d.person.HasLegacyID() {
		d.person.LegacyID = legacyID
		d.legacyAdopted = true
	}
}

// dedupe resolves collisions on the remote legacy id and then on the remote
// email, returning the survivor and what changed on it.
func (e *Engine) dedupe(ctx context.Context, p *models.Person, remote *models.RemotePerson, report *ErrorReport) (*deduped, error) {
	actor := requestcontext.Actor(ctx)
	d := &deduped{person: p}

	if remote.LegacyID > 0 {
		others, err := e.detector.FindAllOthersByLegacyID(ctx, remote.LegacyID, p.ID)
		if err != nil {
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up legacy id collisions")
		}
		switch len(others) {
		case 0:
			if p.HasLegacyID() && p.LegacyID != remote.LegacyID {
				e.replaceRemote(ctx, remote.LegacyID, p.LegacyID)
			}
			d.adoptLegacyID(remote.LegacyID)
		case 1:
			out, err := e.resolveCollision(ctx, p, others[0], actor, "Duplicate legacy id during sync")
			if err != nil {
				report.AddPerson(p, err.Error())
				return nil, err
			}
			d.person = out.survivor
			if out.merged != nil {
				d.adoptLegacyID(remote.LegacyID)
			}
		default:
			report.AddPerson(p, fmt.Sprintf("legacy id %d is claimed by %d other local persons", remote.LegacyID, len(others)))
		}
	}

	p = d.person
	address := email.Normalize(remote.Email)
	if address == "" || address == p.Email {
		return d, nil
	}
	if !email.Valid(address) {
		report.AddPerson(p, fmt.Sprintf("legacy source has invalid email %q", remote.Email))
		return d, nil
	}
	change, err := e.applyPolicy(ctx, p, address, actor, "Duplicate email during sync")
	if err != nil {
		report.AddPerson(p, err.Error())
		return nil, err
	}
	if change.Person.ID != p.ID {
		// Local lost the merge; continue on the survivor.
		d = &deduped{person: change.Person}
	}
	if len(change.Merges) > 0 {
		d.adoptLegacyID(remote.LegacyID)
	}
	if change.Applied && d.person.Email != address {
		d.person.Email = address
		d.emailChanged = true
	}
	return d, nil
}

// persist writes p and, when the email changed, moves its login account to
// the new address. The row is re-locked so a concurrent merge is not undone.
func (e *Engine) persist(ctx context.Context, p *models.Person, emailChanged bool) error {
	return e.txRunner.RunInTx(ctx, func(ctx context.Context, s ports.Stores) error {
		locked, err := s.Persons.LockForUpdate(ctx, p.ID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to lock person")
		}
		if len(locked) == 0 || locked[0].IsDeleted() {
			return dErrors.New(dErrors.CodeAlreadyMerged, "person was merged while syncing")
		}
		if err := s.Persons.Update(ctx, p); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "email already in use")
			}
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to save person")
		}
		if emailChanged {
			return relinkAccountEmail(ctx, s, p, requestcontext.Now(ctx))
		}
		return nil
	})
}

func relinkAccountEmail(ctx context.Context, s ports.Stores, p *models.Person, now time.Time) error {
	account, err := s.Accounts.FindActiveByPerson(ctx, p.ID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load account")
	}
	if account.Email == p.Email {
		return nil
	}
	if err := s.Accounts.Relink(ctx, account.ID, p.ID, p.Email, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to update account email")
	}
	return nil
}

func (e *Engine) replaceRemote(ctx context.Context, oldLegacyID, newLegacyID int64) {
	if e.legacy == nil {
		return
	}
	e.dispatcher.Dispatch(ctx, "legacy.replace_person", func(ctx context.Context) error {
		return e.legacy.ReplacePerson(ctx, oldLegacyID, newLegacyID)
	})
}

// localIsNewer reports whether local is authoritative. A remote snapshot
// without a timestamp never wins.
func localIsNewer(local *models.Person, remote *models.RemotePerson) bool {
	if remote.UpdatedAt == nil {
		return true
	}
	return !local.UpdatedAt.Before(*remote.UpdatedAt)
}

// fillMissing copies remote values into blank local fields only.
func fillMissing(local *models.Person, remote *models.RemotePerson) bool {
	changed := false
	remoteFields := remote.Profile.Fields()
	for i, f := range local.Profile.Fields() {
		v := strings.TrimSpace(*remoteFields[i].Value)
		if v == "" || strings.TrimSpace(*f.Value) != "" {
			continue
		}
		*f.Value = v
		changed = true
	}
	if local.InvitedOn == nil && remote.InvitedOn != nil {
		t := *remote.InvitedOn
		local.InvitedOn = &t
		changed = true
	}
	if local.InvitedBy == "" && strings.TrimSpace(remote.InvitedBy) != "" {
		local.InvitedBy = strings.TrimSpace(remote.InvitedBy)
		changed = true
	}
	return changed
}

// localOnlyFields stay under local control when the remote record is newer.
var localOnlyFields = map[string]bool{"biography": true, "research_areas": true}

// applyRemote overwrites local with the newer remote snapshot.
func applyRemote(local *models.Person, remote *models.RemotePerson) {
	remoteFields := remote.Profile.Fields()
	for i, f := range local.Profile.Fields() {
		if localOnlyFields[f.Name] {
			continue
		}
		*f.Value = strings.TrimSpace(*remoteFields[i].Value)
	}
	if remote.InvitedOn != nil && (local.InvitedOn == nil || local.InvitedOn.Before(*remote.InvitedOn)) {
		t := *remote.InvitedOn
		local.InvitedOn = &t
		local.InvitedBy = defaultString(remote.InvitedBy, DefaultUpdatedBy)
	}
	local.UpdatedBy = defaultString(remote.UpdatedBy, DefaultUpdatedBy)
	local.UpdatedAt = *remote.UpdatedAt
}

func defaultString(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

func (e *Engine) newReport(source string) *ErrorReport {
	return NewErrorReport(source, e.personURL)
}

// deliver sends a non-empty report to staff.
func (e *Engine) deliver(ctx context.Context, report *ErrorReport) {
	if report.Empty() || e.notifier == nil {
		return
	}
	notice := report.Notice()
	e.dispatcher.Dispatch(ctx, "personsync.error_report", func(ctx context.Context) error {
		return e.notifier.NotifyAdmin(ctx, notice)
	})
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
