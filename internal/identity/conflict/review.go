package conflict

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rollcall/internal/identity/models"
	"rollcall/internal/identity/scorer"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/platform/sentinel"
)

// Confidence grades how clearly the scores separate the two records.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// mediumConfidenceSpread is the score gap below which confidence is medium.
const mediumConfidenceSpread = 50

// Candidate is one side of a recommendation.
type Candidate struct {
	Person     *models.Person     `json:"person"`
	Assessment *scorer.Assessment `json:"assessment"`
}

// Recommendation says which record a merge should keep.
type Recommendation struct {
	Keep       Candidate  `json:"keep"`
	Replace    Candidate  `json:"replace"`
	Reason     string     `json:"reason"`
	Confidence Confidence `json:"confidence"`
}

// Review is everything an operator needs to decide a conflict. Missing lists
// person ids that no longer exist; Recommendation is nil in that case.
type Review struct {
	Conflict       *models.Conflict   `json:"conflict"`
	Recommendation *Recommendation    `json:"recommendation,omitempty"`
	Missing        []id.PersonID      `json:"missing_person_ids,omitempty"`
	Related        []*models.Conflict `json:"related"`
	GroupSize      int                `json:"group_size"`
}

func (w *Workflow) Get(ctx context.Context, conflictID id.ConflictID) (*models.Conflict, error) {
	c, err := w.stores.Conflicts.FindByID(ctx, conflictID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "conflict not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load conflict")
	}
	return c, nil
}

func (w *Workflow) List(ctx context.Context, filter models.ConflictFilter) ([]*models.Conflict, error) {
	conflicts, err := w.stores.Conflicts.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list conflicts")
	}
	return conflicts, nil
}

func (w *Workflow) Stats(ctx context.Context) (models.ConflictStats, error) {
	st, err := w.stores.Conflicts.Stats(ctx)
	if err != nil {
		return models.ConflictStats{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to count conflicts")
	}
	return st, nil
}

// Related returns the other unresolved conflicts disputing either email.
func (w *Workflow) Related(ctx context.Context, c *models.Conflict) ([]*models.Conflict, error) {
	related, err := w.stores.Conflicts.ListOpenByEmails(ctx, []string{c.PersonAEmail, c.PersonBEmail}, c.ID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list related conflicts")
	}
	return related, nil
}

// GroupSize counts c together with its related conflicts.
func (w *Workflow) GroupSize(ctx context.Context, c *models.Conflict) (int, error) {
	related, err := w.Related(ctx, c)
	if err != nil {
		return 0, err
	}
	return len(related) + 1, nil
}

// Review gathers the conflict, its recommendation and its group.
func (w *Workflow) Review(ctx context.Context, conflictID id.ConflictID) (*Review, error) {
	c, err := w.Get(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	related, err := w.Related(ctx, c)
	if err != nil {
		return nil, err
	}
	r := &Review{Conflict: c, Related: related, GroupSize: len(related) + 1}

	a, b, missing, err := w.loadPair(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		r.Missing = missing
		return r, nil
	}
	if r.Recommendation, err = w.recommend(ctx, a, b); err != nil {
		return nil, err
	}
	return r, nil
}

// Recommend scores both persons of c. It fails with not_found when either
// person no longer exists.
func (w *Workflow) Recommend(ctx context.Context, c *models.Conflict) (*Recommendation, error) {
	a, b, missing, err := w.loadPair(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		ids := make([]string, 0, len(missing))
		for _, m := range missing {
			ids = append(ids, m.String())
		}
		return nil, dErrors.New(dErrors.CodeNotFound,
			fmt.Sprintf("person(s) %s no longer exist; consider removing this conflict", strings.Join(ids, ", ")))
	}
	return w.recommend(ctx, a, b)
}

func (w *Workflow) loadPair(ctx context.Context, c *models.Conflict) (*models.Person, *models.Person, []id.PersonID, error) {
	var missing []id.PersonID
	load := func(personID id.PersonID) (*models.Person, error) {
		p, err := w.stores.Persons.FindByID(ctx, personID)
		if errors.Is(err, sentinel.ErrNotFound) {
			missing = append(missing, personID)
			return nil, nil
		}
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load conflict person")
		}
		return p, nil
	}
	a, err := load(c.PersonAID)
	if err != nil {
		return nil, nil, nil, err
	}
	b, err := load(c.PersonBID)
	if err != nil {
		return nil, nil, nil, err
	}
	return a, b, missing, nil
}

func (w *Workflow) recommend(ctx context.Context, a, b *models.Person) (*Recommendation, error) {
	better, err := w.assessor.Better(ctx, a, b)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to compare persons")
	}
	keep, replace := a, b
	if better.ID == b.ID {
		keep, replace = b, a
	}
	keepScore, err := w.assessor.Assess(ctx, keep)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to score person")
	}
	replaceScore, err := w.assessor.Assess(ctx, replace)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to score person")
	}
	return &Recommendation{
		Keep:       Candidate{Person: keep, Assessment: keepScore},
		Replace:    Candidate{Person: replace, Assessment: replaceScore},
		Reason:     reasonFor(keep, replace, keepScore, replaceScore),
		Confidence: confidenceFor(keepScore.Score, replaceScore.Score),
	}, nil
}

func reasonFor(keep, replace *models.Person, k, r *scorer.Assessment) string {
	var reasons []string
	if k.Memberships > r.Memberships {
		reasons = append(reasons, fmt.Sprintf("more event memberships (%d vs %d)", k.Memberships, r.Memberships))
	}
	if k.HasAccount && !r.HasAccount {
		reasons = append(reasons, "has user account")
	}
	if k.Lectures > r.Lectures {
		reasons = append(reasons, fmt.Sprintf("more lectures (%d vs %d)", k.Lectures, r.Lectures))
	}
	if k.Completeness > r.Completeness {
		reasons = append(reasons, "more complete profile data")
	}
	if keep.UpdatedAt.After(replace.UpdatedAt) {
		reasons = append(reasons, "more recently updated")
	}
	if len(reasons) == 0 {
		return "similar data quality"
	}
	return strings.Join(reasons, ", ")
}

func confidenceFor(a, b int) Confidence {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	switch {
	case diff == 0:
		return ConfidenceLow
	case diff < mediumConfidenceSpread:
		return ConfidenceMedium
	default:
		return ConfidenceHigh
	}
}
