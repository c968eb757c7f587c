package models

import (
	"strings"
	"time"

	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

// ConflictPriority orders the admin review queue.
type ConflictPriority string

const (
	PriorityNormal ConflictPriority = "normal"
	PriorityHigh   ConflictPriority = "high"
)

// BlockedByRecentInvitation is recorded when an otherwise safe automatic merge
// was held back because one side is mid-invitation.
const BlockedByRecentInvitation = "recent invitation activity"

// Conflict is a pending or resolved pair of persons suspected to be one
// individual. PersonA is the record asked to give up its email; PersonB is
// the record that already holds it.
//
// Invariants:
//   - PersonAID and PersonBID are set and differ
//   - Both emails and both confirmation codes are non-empty, codes differ
//   - At most one unresolved Conflict exists per unordered (A, B) pair
//   - Confirmed flips false to true once; the row is never deleted
type Conflict struct {
	ID                   id.ConflictID
	PersonAID            id.PersonID
	PersonBID            id.PersonID
	PersonAEmail         string
	PersonBEmail         string
	PersonACode          string
	PersonBCode          string
	Confirmed            bool
	Priority             ConflictPriority
	HasRecentInvitations bool
	BlockedReason        string
	ReviewedBy           string
	ReviewedAt           *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ConflictParams carries the inputs for NewConflict.
type ConflictParams struct {
	PersonA          *Person
	PersonB          *Person
	Reversed         bool
	CodeA            string
	CodeB            string
	RecentInvitation bool
	Now              time.Time
}

// NewConflict validates params and builds an unresolved Conflict. When
// Reversed is set the captured emails are swapped.
func NewConflict(p ConflictParams) (*Conflict, error) {
	if p.PersonA == nil || p.PersonB == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "both persons are required")
	}
	if p.PersonA.ID.IsNil() || p.PersonB.ID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "person ids are required")
	}
	if p.PersonA.ID == p.PersonB.ID {
		return nil, dErrors.New(dErrors.CodeValidation, "a conflict needs two different persons")
	}
	emailA, emailB := p.PersonA.Email, p.PersonB.Email
	if p.Reversed {
		emailA, emailB = emailB, emailA
	}
	if strings.TrimSpace(emailA) == "" || strings.TrimSpace(emailB) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "both emails are required")
	}
	if p.CodeA == "" || p.CodeB == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "confirmation codes are required")
	}
	if p.CodeA == p.CodeB {
		return nil, dErrors.New(dErrors.CodeValidation, "confirmation codes must differ")
	}

	c := &Conflict{
		ID:           id.NewConflictID(),
		PersonAID:    p.PersonA.ID,
		PersonBID:    p.PersonB.ID,
		PersonAEmail: emailA,
		PersonBEmail: emailB,
		PersonACode:  p.CodeA,
		PersonBCode:  p.CodeB,
		Priority:     PriorityNormal,
		CreatedAt:    p.Now,
		UpdatedAt:    p.Now,
	}
	if p.RecentInvitation {
		c.Priority = PriorityHigh
		c.HasRecentInvitations = true
		c.BlockedReason = BlockedByRecentInvitation
	}
	return c, nil
}

// Involves reports whether personID is one side of the conflict.
func (c *Conflict) Involves(personID id.PersonID) bool {
	return c.PersonAID == personID || c.PersonBID == personID
}

// SamePair reports whether the conflict covers the unordered pair (a, b).
func (c *Conflict) SamePair(a, b id.PersonID) bool {
	return (c.PersonAID == a && c.PersonBID == b) || (c.PersonAID == b && c.PersonBID == a)
}

// SharesEmail reports whether either disputed address matches one of emails.
func (c *Conflict) SharesEmail(emails ...string) bool {
	for _, e := range emails {
		if e == "" {
			continue
		}
		if c.PersonAEmail == e || c.PersonBEmail == e {
			return true
		}
	}
	return false
}

// CanResolve checks the conflict is still open.
func (c *Conflict) CanResolve() error {
	if c.Confirmed {
		return dErrors.New(dErrors.CodeConflict, "conflict already resolved")
	}
	return nil
}

// ApplyResolution closes the conflict. A non-empty reason replaces the
// blocked reason recorded at creation.
func (c *Conflict) ApplyResolution(reviewer, reason string, at time.Time) {
	c.Confirmed = true
	if reason != "" {
		c.BlockedReason = reason
	}
	c.ReviewedBy = reviewer
	c.ReviewedAt = &at
	c.UpdatedAt = at
}

func (c *Conflict) Clone() *Conflict {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ReviewedAt = cloneTime(c.ReviewedAt)
	return &cp
}

// ConflictFilter selects a slice of the review queue.
type ConflictFilter string

const (
	FilterPending           ConflictFilter = "pending"
	FilterResolved          ConflictFilter = "resolved"
	FilterHighPriority      ConflictFilter = "high_priority"
	FilterRecentInvitations ConflictFilter = "recent_invitations"
	FilterAll               ConflictFilter = "all"
)

// ParseConflictFilter maps a query value to a filter; blank means pending.
func ParseConflictFilter(s string) (ConflictFilter, error) {
	switch f := ConflictFilter(strings.TrimSpace(s)); f {
	case "":
		return FilterPending, nil
	case FilterPending, FilterResolved, FilterHighPriority, FilterRecentInvitations, FilterAll:
		return f, nil
	default:
		return "", dErrors.New(dErrors.CodeValidation, "unknown conflict filter: "+s)
	}
}

// Matches reports whether c belongs to the filtered set. High priority and
// recent invitation views only show open conflicts.
func (f ConflictFilter) Matches(c *Conflict) bool {
	switch f {
	case FilterPending:
		return !c.Confirmed
	case FilterResolved:
		return c.Confirmed
	case FilterHighPriority:
		return !c.Confirmed && c.Priority == PriorityHigh
	case FilterRecentInvitations:
		return !c.Confirmed && c.HasRecentInvitations
	default:
		return true
	}
}

// ConflictStats summarizes the review queue.
type ConflictStats struct {
	Pending           int `json:"pending"`
	Resolved          int `json:"resolved"`
	HighPriority      int `json:"high_priority"`
	RecentInvitations int `json:"recent_invitations"`
	Total             int `json:"total"`
}
