package models

import (
	"time"

	id "rollcall/pkg/domain"
)

// MergeAuditRecord logs one merge attempt. It is created before the merge
// transaction and finalized exactly once, as completed or failed.
type MergeAuditRecord struct {
	ID                  id.AuditID
	SourcePersonID      id.PersonID
	TargetPersonID      id.PersonID
	SourceEmail         string
	TargetEmail         string
	AffectedMemberships []id.MembershipID
	AffectedInvitations []id.InvitationID
	Reason              string
	InitiatedBy         string
	Completed           bool
	ErrorMessage        string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Failed reports an attempt that ended with a recorded error.
func (a *MergeAuditRecord) Failed() bool {
	return !a.Completed && a.ErrorMessage != ""
}

// Finalized reports whether the single completion transition happened.
func (a *MergeAuditRecord) Finalized() bool {
	return a.Completed || a.ErrorMessage != ""
}

func (a *MergeAuditRecord) Clone() *MergeAuditRecord {
	if a == nil {
		return nil
	}
	c := *a
	c.AffectedMemberships = append([]id.MembershipID(nil), a.AffectedMemberships...)
	c.AffectedInvitations = append([]id.InvitationID(nil), a.AffectedInvitations...)
	return &c
}

// AuditFilter selects merge audit records.
type AuditFilter string

const (
	AuditRecent    AuditFilter = "recent"
	AuditFailed    AuditFilter = "failed"
	AuditCompleted AuditFilter = "completed"
)
