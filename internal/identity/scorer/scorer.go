// Package scorer ranks person records so merges keep the more valuable one.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"rollcall/internal/identity/models"
	"rollcall/internal/identity/ports"
	"rollcall/pkg/platform/sentinel"
)

// Points awarded per attribute. Completeness contributes at most
// CompletenessFields * PointsPerField.
const (
	PointsPerMembership = 10
	PointsPerLecture    = 20
	PointsForAccount    = 100
	PointsForLegacyID   = 25
	PointsPerField      = 5
)

// CompletenessFields are the profile attributes counted for completeness.
var CompletenessFields = []string{
	"firstname", "lastname", "email", "affiliation", "title", "address1", "city",
	"region", "country", "postal_code", "phone", "gender", "academic_status", "phd_year",
}

// Assessment is the breakdown behind a score. Completeness is the filled
// share of CompletenessFields in percent, rounded to one decimal.
type Assessment struct {
	Score        int     `json:"score"`
	Memberships  int     `json:"membership_count"`
	Lectures     int     `json:"lecture_count"`
	HasAccount   bool    `json:"has_account"`
	HasLegacyID  bool    `json:"has_legacy_id"`
	FilledFields int     `json:"filled_fields"`
	Completeness float64 `json:"completeness"`
}

// Completeness implements ports.RecordScorer from activity counts and
// profile completeness.
type Completeness struct {
	stores ports.Stores
}

func New(stores ports.Stores) *Completeness {
	return &Completeness{stores: stores}
}

// Assess computes the score breakdown for p.
func (c *Completeness) Assess(ctx context.Context, p *models.Person) (*Assessment, error) {
	if p == nil {
		return nil, errors.New("assess: person is required")
	}
	memberships, err := c.stores.Memberships.ListByPerson(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("assess %s: %w", p.ID, err)
	}
	lectures, err := c.stores.Lectures.ListByPerson(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("assess %s: %w", p.ID, err)
	}
	hasAccount := true
	if _, err := c.stores.Accounts.FindActiveByPerson(ctx, p.ID); err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			return nil, fmt.Errorf("assess %s: %w", p.ID, err)
		}
		hasAccount = false
	}

	filled := FilledFields(p)
	a := &Assessment{
		Memberships:  len(memberships),
		Lectures:     len(lectures),
		HasAccount:   hasAccount,
		HasLegacyID:  p.HasLegacyID(),
		FilledFields: filled,
		Completeness: math.Round(float64(filled)/float64(len(CompletenessFields))*1000) / 10,
	}
	a.Score = a.Memberships*PointsPerMembership + a.Lectures*PointsPerLecture + filled*PointsPerField
	if a.HasAccount {
		a.Score += PointsForAccount
	}
	if a.HasLegacyID {
		a.Score += PointsForLegacyID
	}
	return a, nil
}

func (c *Completeness) Score(ctx context.Context, p *models.Person) (int, error) {
	a, err := c.Assess(ctx, p)
	if err != nil {
		return 0, err
	}
	return a.Score, nil
}

// Better keeps the higher score. Ties go to the older record, then to the
// lower id so the answer does not depend on argument order.
func (c *Completeness) Better(ctx context.Context, a, b *models.Person) (*models.Person, error) {
	scoreA, err := c.Score(ctx, a)
	if err != nil {
		return nil, err
	}
	scoreB, err := c.Score(ctx, b)
	if err != nil {
		return nil, err
	}
	switch {
	case scoreA > scoreB:
		return a, nil
	case scoreB > scoreA:
		return b, nil
	case a.CreatedAt.Before(b.CreatedAt):
		return a, nil
	case b.CreatedAt.Before(a.CreatedAt):
		return b, nil
	case strings.Compare(a.ID.String(), b.ID.String()) <= 0:
		return a, nil
	default:
		return b, nil
	}
}

// FilledFields counts the non-blank CompletenessFields of p.
func FilledFields(p *models.Person) int {
	values := map[string]string{"email": p.Email}
	for _, f := range p.Fields() {
		values[f.Name] = *f.Value
	}
	n := 0
	for _, name := range CompletenessFields {
		if strings.TrimSpace(values[name]) != "" {
			n++
		}
	}
	return n
}
