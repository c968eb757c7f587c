package models

import (
	"strings"
	"time"

	id "rollcall/pkg/domain"
)

// SoftDelete marks a row hidden while keeping it for audit and recovery.
type SoftDelete struct {
	DeletedAt      *time.Time
	DeletedBy      string
	DeletionReason string
}

// IsDeleted reports whether the row has been soft-deleted.
func (s SoftDelete) IsDeleted() bool {
	return s.DeletedAt != nil
}

// MarkDeleted records who removed the row and why.
func (s *SoftDelete) MarkDeleted(actor, reason string, at time.Time) {
	if actor == "" {
		actor = "system"
	}
	s.DeletedAt = &at
	s.DeletedBy = actor
	s.DeletionReason = reason
}

// Restore clears the soft-delete marker.
func (s *SoftDelete) Restore() {
	s.DeletedAt = nil
	s.DeletedBy = ""
	s.DeletionReason = ""
}

// Profile holds the descriptive attributes synchronized from the legacy source.
type Profile struct {
	Firstname      string
	Lastname       string
	Salutation     string
	Gender         string
	Affiliation    string
	Department     string
	Title          string
	URL            string
	Phone          string
	CCEmail        string
	Address1       string
	Address2       string
	Address3       string
	City           string
	Region         string
	Country        string
	PostalCode     string
	AcademicStatus string
	PhdYear        string
	Biography      string
	ResearchAreas  string
}

// ProfileField names one Profile attribute and points at its storage.
type ProfileField struct {
	Name  string
	Value *string
}

// Fields lists every profile attribute in a stable order.
func (p *Profile) Fields() []ProfileField {
	return []ProfileField{
		{"firstname", &p.Firstname},
		{"lastname", &p.Lastname},
		{"salutation", &p.Salutation},
		{"gender", &p.Gender},
		{"affiliation", &p.Affiliation},
		{"department", &p.Department},
		{"title", &p.Title},
		{"url", &p.URL},
		{"phone", &p.Phone},
		{"cc_email", &p.CCEmail},
		{"address1", &p.Address1},
		{"address2", &p.Address2},
		{"address3", &p.Address3},
		{"city", &p.City},
		{"region", &p.Region},
		{"country", &p.Country},
		{"postal_code", &p.PostalCode},
		{"academic_status", &p.AcademicStatus},
		{"phd_year", &p.PhdYear},
		{"biography", &p.Biography},
		{"research_areas", &p.ResearchAreas},
	}
}

// Person is the canonical identity record for an individual.
type Person struct {
	ID    id.PersonID
	Email string
	// LegacyID is the person's id in the legacy source; zero when unknown.
	LegacyID int64
	Profile
	InvitedOn *time.Time
	InvitedBy string
	UpdatedBy string
	SoftDelete
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Name returns "first last" with surrounding space trimmed.
func (p *Person) Name() string {
	return strings.TrimSpace(p.Firstname + " " + p.Lastname)
}

// HasLegacyID reports whether the person is linked to the legacy source.
func (p *Person) HasLegacyID() bool {
	return p.LegacyID > 0
}

// Clone returns a deep copy safe to mutate independently.
func (p *Person) Clone() *Person {
	if p == nil {
		return nil
	}
	c := *p
	c.InvitedOn = cloneTime(p.InvitedOn)
	c.DeletedAt = cloneTime(p.DeletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
