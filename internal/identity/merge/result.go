package merge

import (
	"context"
	"fmt"

	"rollcall/internal/identity/ports"
	id "rollcall/pkg/domain"
)

// Hook runs inside the merge transaction after every row has moved and before
// the audit record is completed. A hook error rolls the merge back.
type Hook func(ctx context.Context, s ports.Stores, res *Result) error

// Request names the surviving target and the source folded into it.
type Request struct {
	TargetID id.PersonID
	SourceID id.PersonID
	// Actor defaults to the request context actor.
	Actor  string
	Reason string
	Hooks  []Hook
}

// AccountAction records what happened to the source's login account.
type AccountAction string

const (
	AccountNone        AccountAction = "none"
	AccountRelinked    AccountAction = "relinked"
	AccountDeactivated AccountAction = "deactivated"
)

// Result reports a merge attempt. Err is nil on success and carries a
// domain code otherwise: validation_error, not_found, already_merged or
// merge_failure.
type Result struct {
	AuditID  id.AuditID
	TargetID id.PersonID
	SourceID id.PersonID

	MembershipsMoved        int
	MembershipsDeduplicated int
	LecturesMoved           int
	// InvitationsMoved counts invitations moved from a duplicate membership
	// onto the target's membership for the same event.
	InvitationsMoved       int
	InviterReferencesMoved int
	AccountAction          AccountAction

	Err error
}

func (r *Result) Success() bool {
	return r != nil && r.Err == nil
}

// Details is the one-line summary shown to operators.
func (r *Result) Details() string {
	return fmt.Sprintf("Moved %d memberships, %d lectures, %d invitations",
		r.MembershipsMoved+r.MembershipsDeduplicated, r.LecturesMoved, r.InvitationsMoved)
}

// reset clears counters after a rollback.
func (r *Result) reset() {
	r.MembershipsMoved = 0
	r.MembershipsDeduplicated = 0
	r.LecturesMoved = 0
	r.InvitationsMoved = 0
	r.InviterReferencesMoved = 0
	r.AccountAction = AccountNone
}
