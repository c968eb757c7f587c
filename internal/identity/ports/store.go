package ports

import (
	"context"
	"time"

	"rollcall/internal/identity/models"
	id "rollcall/pkg/domain"
)

// Store lookups return sentinel.ErrNotFound (wrapped) for missing rows and
// sentinel.ErrConflict when a uniqueness rule rejects a write. Unless noted,
// list methods skip soft-deleted rows.

// PersonStore persists Person records.
type PersonStore interface {
	Create(ctx context.Context, p *models.Person) error
	// FindByID returns the person even when soft-deleted.
	FindByID(ctx context.Context, personID id.PersonID) (*models.Person, error)
	// FindByLegacyID prefers a live row and falls back to a soft-deleted one.
	FindByLegacyID(ctx context.Context, legacyID int64) (*models.Person, error)
	FindByEmail(ctx context.Context, email string) (*models.Person, error)
	ListByEmail(ctx context.Context, email string, excluding id.PersonID) ([]*models.Person, error)
	ListByLegacyID(ctx context.Context, legacyID int64, excluding id.PersonID) ([]*models.Person, error)
	// LockForUpdate row-locks the persons in id order and returns them,
	// soft-deleted rows included. Missing ids are simply absent.
	LockForUpdate(ctx context.Context, ids ...id.PersonID) ([]*models.Person, error)
	Update(ctx context.Context, p *models.Person) error
	SoftDelete(ctx context.Context, personID id.PersonID, actor, reason string, at time.Time) error
	// ListSyncCandidates returns live persons with a legacy id last updated
	// before staleBefore, oldest first.
	ListSyncCandidates(ctx context.Context, staleBefore time.Time, limit int) ([]*models.Person, error)
}

// MembershipStore persists Membership records.
type MembershipStore interface {
	Create(ctx context.Context, m *models.Membership) error
	ListByPerson(ctx context.Context, personID id.PersonID) ([]*models.Membership, error)
	FindByPersonAndEvent(ctx context.Context, personID id.PersonID, eventID id.EventID) (*models.Membership, error)
	Reassign(ctx context.Context, membershipID id.MembershipID, personID id.PersonID, at time.Time) error
	SoftDelete(ctx context.Context, membershipID id.MembershipID, actor, reason string, at time.Time) error
}

// InvitationStore persists Invitation records.
type InvitationStore interface {
	Create(ctx context.Context, inv *models.Invitation) error
	ListByMemberships(ctx context.Context, membershipIDs []id.MembershipID) ([]*models.Invitation, error)
	MoveToMembership(ctx context.Context, from, to id.MembershipID) (int, error)
	ReassignInviter(ctx context.Context, from, to id.PersonID) (int, error)
	// ExistsForPersonSince reports an invitation on any live membership of the
	// person created strictly after since.
	ExistsForPersonSince(ctx context.Context, personID id.PersonID, since time.Time) (bool, error)
}

// LectureStore persists Lecture records.
type LectureStore interface {
	Create(ctx context.Context, l *models.Lecture) error
	ListByPerson(ctx context.Context, personID id.PersonID) ([]*models.Lecture, error)
	Reassign(ctx context.Context, from, to id.PersonID, at time.Time) (int, error)
}

// AccountStore persists login Account records.
type AccountStore interface {
	Create(ctx context.Context, a *models.Account) error
	FindActiveByPerson(ctx context.Context, personID id.PersonID) (*models.Account, error)
	FindActiveByEmail(ctx context.Context, email string) (*models.Account, error)
	Relink(ctx context.Context, accountID id.AccountID, personID id.PersonID, email string, at time.Time) error
	Deactivate(ctx context.Context, accountID id.AccountID, reason string, at time.Time) error
}

// ConflictStore persists email Conflict records.
type ConflictStore interface {
	// CreateIfAbsent inserts c unless an unresolved conflict exists for the
	// same unordered pair, in which case that row is returned with
	// created=false.
	CreateIfAbsent(ctx context.Context, c *models.Conflict) (stored *models.Conflict, created bool, err error)
	FindByID(ctx context.Context, conflictID id.ConflictID) (*models.Conflict, error)
	FindOpenByPair(ctx context.Context, a, b id.PersonID) (*models.Conflict, error)
	List(ctx context.Context, filter models.ConflictFilter) ([]*models.Conflict, error)
	ListOpenByEmails(ctx context.Context, emails []string, excluding id.ConflictID) ([]*models.Conflict, error)
	Stats(ctx context.Context) (models.ConflictStats, error)
	// Resolve persists the resolution fields of c. It returns
	// sentinel.ErrInvalidState when the stored row is already confirmed.
	Resolve(ctx context.Context, c *models.Conflict) error
}

// AuditStore persists MergeAuditRecords. Records are only ever finalized
// once; finalizing twice returns sentinel.ErrInvalidState.
type AuditStore interface {
	Create(ctx context.Context, rec *models.MergeAuditRecord) error
	// SetAffected replaces the affected id lists of an unfinalized record.
	SetAffected(ctx context.Context, auditID id.AuditID, memberships []id.MembershipID, invitations []id.InvitationID, at time.Time) error
	MarkCompleted(ctx context.Context, auditID id.AuditID, at time.Time) error
	MarkFailed(ctx context.Context, auditID id.AuditID, message string, at time.Time) error
	FindByID(ctx context.Context, auditID id.AuditID) (*models.MergeAuditRecord, error)
	ListSince(ctx context.Context, since time.Time) ([]*models.MergeAuditRecord, error)
	ListFailed(ctx context.Context) ([]*models.MergeAuditRecord, error)
	ListCompleted(ctx context.Context) ([]*models.MergeAuditRecord, error)
	ListForPerson(ctx context.Context, personID id.PersonID) ([]*models.MergeAuditRecord, error)
}

// Stores bundles every identity store. Inside RunInTx the bundle and the
// callback context are bound to one transaction.
type Stores struct {
	Persons     PersonStore
	Memberships MembershipStore
	Invitations InvitationStore
	Lectures    LectureStore
	Accounts    AccountStore
	Conflicts   ConflictStore
	Audits      AuditStore
}

// TxRunner executes fn atomically. Returning an error from fn rolls back
// every write made through the callback context.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}
