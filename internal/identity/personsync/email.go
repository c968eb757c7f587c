package personsync

import (
	"context"
	"errors"

	"rollcall/internal/identity/merge"
	"rollcall/internal/identity/models"
	"rollcall/internal/identity/names"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/email"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/requestcontext"
)

// Reasons recorded on automatic merges.
const (
	reasonEmailChange = "Duplicate email during email change"
	blockedRecent     = "recent_invitation"
	blockedNames      = "name_mismatch"
)

// EmailChange reports the outcome of the email-change policy. Person is the
// surviving record, which is not the requested person when it lost a merge.
type EmailChange struct {
	Person    *models.Person
	Applied   bool
	Merges    []*merge.Result
	Conflicts []*models.Conflict
}

// ChangeEmail moves a person to newEmail. Every other person already holding
// the address is either merged automatically or put into a conflict; the
// email is applied only when no conflict was opened.
func (e *Engine) ChangeEmail(ctx context.Context, personID id.PersonID, newEmail, actor string) (*EmailChange, error) {
	if personID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "person id is required")
	}
	address := email.Normalize(newEmail)
	if !email.Valid(address) {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid email address")
	}
	if actor == "" {
		actor = requestcontext.Actor(ctx)
	}
	p, err := e.stores.Persons.FindByID(ctx, personID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "person not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load person")
	}
	if p.IsDeleted() {
		return nil, dErrors.New(dErrors.CodeAlreadyMerged, "person was merged or deleted")
	}
	if p.Email == address {
		return &EmailChange{Person: p}, nil
	}

	change, err := e.applyPolicy(ctx, p, address, actor, reasonEmailChange)
	if err != nil {
		return nil, err
	}
	if !change.Applied || change.Person.Email == address {
		return change, nil
	}
	survivor := change.Person
	survivor.Email = address
	survivor.UpdatedBy = actor
	survivor.UpdatedAt = requestcontext.Now(ctx)
	if err := e.persist(ctx, survivor, true); err != nil {
		return nil, err
	}
	e.logAudit(ctx, "email_changed",
		"actor", actor,
		"person_id", survivor.ID.String(),
		"merges", len(change.Merges),
	)
	return change, nil
}

// applyPolicy resolves every collision on address without writing p itself.
// Applied reports whether the caller may now set the email on the survivor.
func (e *Engine) applyPolicy(ctx context.Context, p *models.Person, address, actor, reason string) (*EmailChange, error) {
	others, err := e.detector.FindAllOthers(ctx, address, p.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up email collisions")
	}
	change := &EmailChange{Person: p}
	for _, other := range others {
		out, err := e.resolveCollision(ctx, change.Person, other, actor, reason)
		if err != nil {
			return nil, err
		}
		change.Person = out.survivor
		if out.merged != nil {
			change.Merges = append(change.Merges, out.merged)
		}
		if out.conflict != nil {
			change.Conflicts = append(change.Conflicts, out.conflict)
		}
	}
	change.Applied = len(change.Conflicts) == 0
	return change, nil
}

type collision struct {
	survivor *models.Person
	merged   *merge.Result
	conflict *models.Conflict
}

// resolveCollision decides between p, which wants other's identity, and
// other. Matching names without recent activity merge into the better
// record; anything else opens a conflict with p as the changing side.
func (e *Engine) resolveCollision(ctx context.Context, p, other *models.Person, actor, reason string) (*collision, error) {
	if !names.Match(p.Name(), other.Name()) {
		e.metrics.IncAutoMergeBlocked(blockedNames)
		return e.openConflict(ctx, p, other)
	}
	recent, err := e.activity.EitherRecent(ctx, p.ID, other.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check recent invitations")
	}
	if recent {
		e.metrics.IncAutoMergeBlocked(blockedRecent)
		return e.openConflict(ctx, p, other)
	}

	keep, err := e.scorer.Better(ctx, p, other)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to score persons")
	}
	target, source := p, other
	if keep.ID == other.ID {
		target, source = other, p
	}
	res := e.merger.Merge(ctx, merge.Request{
		TargetID: target.ID,
		SourceID: source.ID,
		Actor:    actor,
		Reason:   reason,
	})
	if !res.Success() {
		return nil, res.Err
	}
	e.metrics.IncAutoMerge()
	e.logAudit(ctx, "auto_merged",
		"actor", actor,
		"target_person_id", target.ID.String(),
		"source_person_id", source.ID.String(),
	)
	return &collision{survivor: target, merged: res}, nil
}

func (e *Engine) openConflict(ctx context.Context, p, other *models.Person) (*collision, error) {
	c, _, err := e.conflicts.CreateOrGet(ctx, p, other, false)
	if err != nil {
		return nil, err
	}
	return &collision{survivor: p, conflict: c}, nil
}
