package handler

import (
	"strings"

	"rollcall/internal/identity/conflict"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
)

const maxReasonLength = 500

// MergeRequest is the body of POST /admin/people/{id}/merge.
type MergeRequest struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`

	sourceID id.PersonID
}

func (r *MergeRequest) Normalize() {
	r.SourceID = strings.TrimSpace(r.SourceID)
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *MergeRequest) Validate() error {
	if len(r.Reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 500 characters")
	}
	sourceID, err := id.ParsePersonID(r.SourceID)
	if err != nil {
		return err
	}
	r.sourceID = sourceID
	return nil
}

// ChangeEmailRequest is the body of PUT /admin/people/{id}/email. The
// address is normalized by the email-change policy itself.
type ChangeEmailRequest struct {
	Email string `json:"email"`
}

func (r *ChangeEmailRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
}

func (r *ChangeEmailRequest) Validate() error {
	if r.Email == "" {
		return dErrors.New(dErrors.CodeValidation, "email is required")
	}
	return nil
}

// ResolveRequest is the body of POST /admin/conflicts/{id}/resolve.
type ResolveRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`

	action conflict.Action
}

func (r *ResolveRequest) Normalize() {
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	r.Reason = strings.TrimSpace(r.Reason)
}

func (r *ResolveRequest) Validate() error {
	if r.Action == "" {
		return dErrors.New(dErrors.CodeValidation, "action is required")
	}
	if len(r.Reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 500 characters")
	}
	action, err := conflict.ParseAction(r.Action)
	if err != nil {
		return err
	}
	r.action = action
	return nil
}
