package models

import (
	"time"

	id "rollcall/pkg/domain"
)

// DuplicateMembershipReason is recorded on memberships soft-deleted because
// the surviving person already attends the same event.
const DuplicateMembershipReason = "Duplicate membership during person merge"

// Membership joins a Person to an Event. At most one non-deleted membership
// exists per (person, event).
type Membership struct {
	ID         id.MembershipID
	PersonID   id.PersonID
	EventID    id.EventID
	Role       string
	Attendance string
	SoftDelete
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m *Membership) Clone() *Membership {
	if m == nil {
		return nil
	}
	c := *m
	c.DeletedAt = cloneTime(m.DeletedAt)
	return &c
}

// Invitation belongs to exactly one Membership.
type Invitation struct {
	ID           id.InvitationID
	MembershipID id.MembershipID
	// InvitedByID is the person who sent the invitation; nil when unknown.
	InvitedByID id.PersonID
	Code        string
	CreatedAt   time.Time
}

func (i *Invitation) Clone() *Invitation {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Lecture is authored by a Person.
type Lecture struct {
	ID        id.LectureID
	PersonID  id.PersonID
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (l *Lecture) Clone() *Lecture {
	if l == nil {
		return nil
	}
	c := *l
	return &c
}

// Account is the optional login credential record for a Person.
type Account struct {
	ID                 id.AccountID
	PersonID           id.PersonID
	Email              string
	Active             bool
	DeactivatedAt      *time.Time
	DeactivationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Deactivate flags the account instead of deleting it so login history stays.
func (a *Account) Deactivate(reason string, at time.Time) {
	a.Active = false
	a.DeactivatedAt = &at
	a.DeactivationReason = reason
	a.UpdatedAt = at
}

func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	c.DeactivatedAt = cloneTime(a.DeactivatedAt)
	return &c
}
