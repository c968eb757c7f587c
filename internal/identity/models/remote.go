package models

import "time"

// RemotePerson is an attribute snapshot of a person in the legacy source.
type RemotePerson struct {
	LegacyID int64
	Email    string
	Profile
	InvitedOn *time.Time
	InvitedBy string
	UpdatedBy string
	// UpdatedAt is nil when the legacy source has no usable timestamp.
	UpdatedAt *time.Time
}

// Empty reports a snapshot with nothing to reconcile.
func (r *RemotePerson) Empty() bool {
	return r == nil || (r.LegacyID == 0 && r.Email == "" && r.Firstname == "" && r.Lastname == "")
}
