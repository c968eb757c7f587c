// Package duplicates finds other live persons sharing an identifying key.
package duplicates

import (
	"context"
	"errors"
	"fmt"

	"rollcall/internal/identity/models"
	"rollcall/internal/identity/ports"
	id "rollcall/pkg/domain"
	"rollcall/pkg/email"
	"rollcall/pkg/platform/sentinel"
)

type Detector struct {
	persons ports.PersonStore
}

func New(persons ports.PersonStore) *Detector {
	return &Detector{persons: persons}
}

// FindOther returns the oldest live person other than excluding whose email
// matches address, or nil when there is none.
func (d *Detector) FindOther(ctx context.Context, address string, excluding id.PersonID) (*models.Person, error) {
	all, err := d.FindAllOthers(ctx, address, excluding)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// FindAllOthers returns every live person other than excluding holding
// address, ordered by creation time.
func (d *Detector) FindAllOthers(ctx context.Context, address string, excluding id.PersonID) ([]*models.Person, error) {
	normalized := email.Normalize(address)
	if normalized == "" {
		return nil, nil
	}
	persons, err := d.persons.ListByEmail(ctx, normalized, excluding)
	if err != nil {
		return nil, fmt.Errorf("find duplicates by email: %w", err)
	}
	return persons, nil
}

// FindOtherByLegacyID is FindOther keyed by legacy id.
func (d *Detector) FindOtherByLegacyID(ctx context.Context, legacyID int64, excluding id.PersonID) (*models.Person, error) {
	all, err := d.FindAllOthersByLegacyID(ctx, legacyID, excluding)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// FindAllOthersByLegacyID is FindAllOthers keyed by legacy id.
func (d *Detector) FindAllOthersByLegacyID(ctx context.Context, legacyID int64, excluding id.PersonID) ([]*models.Person, error) {
	if legacyID <= 0 {
		return nil, nil
	}
	persons, err := d.persons.ListByLegacyID(ctx, legacyID, excluding)
	if err != nil && !errors.Is(err, sentinel.ErrNotFound) {
		return nil, fmt.Errorf("find duplicates by legacy id: %w", err)
	}
	return persons, nil
}
