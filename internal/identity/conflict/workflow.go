// Package conflict manages email conflicts: pairs of persons suspected to be
// one individual that wait for confirmation or an operator decision.
package conflict

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"rollcall/internal/identity/merge"
	"rollcall/internal/identity/metrics"
	"rollcall/internal/identity/models"
	"rollcall/internal/identity/notify"
	"rollcall/internal/identity/ports"
	"rollcall/internal/identity/scorer"
	"rollcall/pkg/attrs"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/secrets"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/requestcontext"
)

const (
	// CodeLength is the length of each confirmation code.
	CodeLength = 8

	DefaultRejectReason = "Manually rejected by admin"
	DefaultMergeReason  = "Admin manual merge via conflict resolution"
)

// Action is an operator decision on a conflict.
type Action string

const (
	ActionReject        Action = "reject"
	ActionMerge         Action = "merge"
	ActionMergeOpposite Action = "merge_opposite"
)

// ParseAction maps an API value to an Action.
func ParseAction(s string) (Action, error) {
	a := Action(strings.TrimSpace(s))
	if !a.Valid() {
		return "", dErrors.New(dErrors.CodeValidation, "unknown resolve action: "+s)
	}
	return a, nil
}

func (a Action) Valid() bool {
	switch a {
	case ActionReject, ActionMerge, ActionMergeOpposite:
		return true
	}
	return false
}

// Merger folds one person into another.
type Merger interface {
	Merge(ctx context.Context, req merge.Request) *merge.Result
}

// Assessor scores persons and explains the score.
type Assessor interface {
	ports.RecordScorer
	Assess(ctx context.Context, p *models.Person) (*scorer.Assessment, error)
}

// RecentActivity reports whether either person is mid-invitation.
type RecentActivity interface {
	EitherRecent(ctx context.Context, a, b id.PersonID) (bool, error)
}

// Workflow creates and resolves conflicts.
type Workflow struct {
	stores     ports.Stores
	merger     Merger
	assessor   Assessor
	activity   RecentActivity
	notifier   ports.Notifier
	dispatcher ports.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	codes      func(n int) (string, error)
}

type Option func(*Workflow)

func WithNotifier(n ports.Notifier) Option {
	return func(w *Workflow) {
		w.notifier = n
	}
}

func WithDispatcher(d ports.Dispatcher) Option {
	return func(w *Workflow) {
		w.dispatcher = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

// WithCodeGenerator replaces the confirmation code source.
func WithCodeGenerator(gen func(n int) (string, error)) Option {
	return func(w *Workflow) {
		w.codes = gen
	}
}

func New(stores ports.Stores, merger Merger, assessor Assessor, activity RecentActivity, opts ...Option) *Workflow {
	w := &Workflow{
		stores:   stores,
		merger:   merger,
		assessor: assessor,
		activity: activity,
		codes:    secrets.Alphanumeric,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.dispatcher == nil {
		w.dispatcher = notify.Inline{Logger: w.logger}
	}
	return w
}

// CreateOrGet records that a wants the email b holds (or the reverse when
// reversed is set). It returns the existing unresolved conflict for the pair
// with created=false instead of creating a second one. Must be called outside
// a transaction since the confirmation request is dispatched on return.
func (w *Workflow) CreateOrGet(ctx context.Context, a, b *models.Person, reversed bool) (*models.Conflict, bool, error) {
	recent := false
	if a != nil && b != nil {
		var err error
		recent, err = w.activity.EitherRecent(ctx, a.ID, b.ID)
		if err != nil {
			w.reportCreateFailure(ctx, a, b, err)
			return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check recent invitations")
		}
	}
	codeA, codeB, err := w.confirmationCodes()
	if err != nil {
		w.reportCreateFailure(ctx, a, b, err)
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to generate confirmation codes")
	}

	c, err := models.NewConflict(models.ConflictParams{
		PersonA:          a,
		PersonB:          b,
		Reversed:         reversed,
		CodeA:            codeA,
		CodeB:            codeB,
		RecentInvitation: recent,
		Now:              requestcontext.Now(ctx),
	})
	if err != nil {
		return nil, false, err
	}

	stored, created, err := w.stores.Conflicts.CreateIfAbsent(ctx, c)
	if err != nil {
		w.reportCreateFailure(ctx, a, b, err)
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create email conflict")
	}
	if !created {
		w.metrics.IncConflictSuppressed()
		if w.logger != nil {
			w.logger.InfoContext(ctx, "email conflict already pending",
				"conflict_id", stored.ID,
				"person_a_id", a.ID,
				"person_b_id", b.ID,
			)
		}
		return stored, false, nil
	}

	w.metrics.IncConflictCreated()
	w.logAudit(ctx, "email_conflict_created",
		"conflict_id", stored.ID.String(),
		"person_a_id", stored.PersonAID.String(),
		"person_b_id", stored.PersonBID.String(),
		"priority", string(stored.Priority),
	)
	if w.notifier != nil {
		confirm := stored.Clone()
		w.dispatcher.Dispatch(ctx, "conflict.send_confirmation", func(ctx context.Context) error {
			return w.notifier.SendConfirmation(ctx, confirm)
		})
	}
	return stored, true, nil
}

func (w *Workflow) confirmationCodes() (string, string, error) {
	a, err := w.codes(CodeLength)
	if err != nil {
		return "", "", err
	}
	for range 3 {
		b, err := w.codes(CodeLength)
		if err != nil {
			return "", "", err
		}
		if b != a {
			return a, b, nil
		}
	}
	return "", "", errors.New("confirmation code generator keeps repeating itself")
}

func (w *Workflow) reportCreateFailure(ctx context.Context, a, b *models.Person, cause error) {
	details := map[string]string{}
	for prefix, p := range map[string]*models.Person{"person_a": a, "person_b": b} {
		if p == nil {
			continue
		}
		details[prefix+"_id"] = p.ID.String()
		details[prefix+"_name"] = p.Name()
		details[prefix+"_email"] = p.Email
	}
	w.notifyAdmin(ctx, ports.AdminNotice{
		Problem: "Email conflict could not be created",
		Source:  "conflict",
		Details: details,
		Error:   cause.Error(),
	})
}

// ResolveResult reports an operator decision.
type ResolveResult struct {
	Conflict *models.Conflict
	Action   Action
	// Kept and Replaced are set for merge actions.
	Kept     *models.Person
	Replaced *models.Person
	Merge    *merge.Result
}

// Resolve applies action to an unresolved conflict. Merge keeps the
// recommended record; MergeOpposite keeps the other one. For merges the
// conflict is closed inside the merge transaction, so a failed merge leaves it
// open.
func (w *Workflow) Resolve(ctx context.Context, conflictID id.ConflictID, action Action, actor, reason string) (*ResolveResult, error) {
	if !action.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown resolve action: "+string(action))
	}
	if actor == "" {
		actor = requestcontext.Actor(ctx)
	}
	c, err := w.Get(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if err := c.CanResolve(); err != nil {
		return nil, err
	}

	if action == ActionReject {
		return w.reject(ctx, c, actor, reason)
	}

	rec, err := w.Recommend(ctx, c)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			w.requestCleanup(ctx, c, err)
		}
		return nil, err
	}
	kept, replaced := rec.Keep.Person, rec.Replace.Person
	if action == ActionMergeOpposite {
		kept, replaced = replaced, kept
	}
	if reason == "" {
		reason = DefaultMergeReason
	}

	resolved := c.Clone()
	resolved.ApplyResolution(actor, "", requestcontext.Now(ctx))
	closeConflict := func(ctx context.Context, s ports.Stores, _ *merge.Result) error {
		if err := s.Conflicts.Resolve(ctx, resolved); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				return dErrors.New(dErrors.CodeConflict, "conflict already resolved")
			}
			return err
		}
		return nil
	}

	res := w.merger.Merge(ctx, merge.Request{
		TargetID: kept.ID,
		SourceID: replaced.ID,
		Actor:    actor,
		Reason:   reason,
		Hooks:    []merge.Hook{closeConflict},
	})
	out := &ResolveResult{Conflict: c, Action: action, Kept: kept, Replaced: replaced, Merge: res}
	if !res.Success() {
		return out, res.Err
	}
	out.Conflict = resolved

	w.metrics.IncConflictResolved(string(action))
	w.logAudit(ctx, "email_conflict_resolved",
		"conflict_id", c.ID.String(),
		"action", string(action),
		"actor", actor,
		"kept_id", kept.ID.String(),
		"replaced_id", replaced.ID.String(),
		"audit_id", res.AuditID.String(),
	)
	return out, nil
}

func (w *Workflow) reject(ctx context.Context, c *models.Conflict, actor, reason string) (*ResolveResult, error) {
	if strings.TrimSpace(reason) == "" {
		reason = DefaultRejectReason
	}
	c.ApplyResolution(actor, reason, requestcontext.Now(ctx))
	if err := w.stores.Conflicts.Resolve(ctx, c); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.New(dErrors.CodeConflict, "conflict already resolved")
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "conflict not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve conflict")
	}
	w.metrics.IncConflictResolved(string(ActionReject))
	w.logAudit(ctx, "email_conflict_rejected",
		"conflict_id", c.ID.String(),
		"actor", actor,
		"reason", reason,
	)
	return &ResolveResult{Conflict: c, Action: ActionReject}, nil
}

func (w *Workflow) requestCleanup(ctx context.Context, c *models.Conflict, cause error) {
	w.notifyAdmin(ctx, ports.AdminNotice{
		Problem: "Email conflict references a missing person",
		Source:  "conflict",
		Details: map[string]string{
			"conflict_id":    c.ID.String(),
			"person_a_id":    c.PersonAID.String(),
			"person_a_email": c.PersonAEmail,
			"person_b_id":    c.PersonBID.String(),
			"person_b_email": c.PersonBEmail,
		},
		Error: cause.Error(),
	})
}

func (w *Workflow) notifyAdmin(ctx context.Context, notice ports.AdminNotice) {
	if w.notifier == nil {
		return
	}
	w.dispatcher.Dispatch(ctx, "conflict.notify_admin", func(ctx context.Context) error {
		return w.notifier.NotifyAdmin(ctx, notice)
	})
}

func (w *Workflow) logAudit(ctx context.Context, event string, attributes ...any) {
	if w.logger == nil {
		return
	}
	if attrs.ExtractString(attributes, "actor") == "" {
		attributes = append(attributes, "actor", requestcontext.Actor(ctx))
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attributes = append(attributes, "request_id", requestID)
	}
	args := append(attributes, "event", event, "log_type", "audit")
	w.logger.InfoContext(ctx, event, args...)
}
