package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"rollcall/internal/identity/models"
	"rollcall/internal/identity/ports"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

// Memory is an in-process implementation of every identity store. One coarse
// mutex guards all tables. RunInTx holds it for the whole callback and
// restores a snapshot when the callback fails, which gives tests real
// rollback semantics.
type Memory struct {
	mu   sync.Mutex
	data *memData
}

type memData struct {
	persons     map[id.PersonID]*models.Person
	memberships map[id.MembershipID]*models.Membership
	invitations map[id.InvitationID]*models.Invitation
	lectures    map[id.LectureID]*models.Lecture
	accounts    map[id.AccountID]*models.Account
	conflicts   map[id.ConflictID]*models.Conflict
	audits      map[id.AuditID]*models.MergeAuditRecord
}

type memTxKey struct{}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: newMemData()}
}

func newMemData() *memData {
	return &memData{
		persons:     make(map[id.PersonID]*models.Person),
		memberships: make(map[id.MembershipID]*models.Membership),
		invitations: make(map[id.InvitationID]*models.Invitation),
		lectures:    make(map[id.LectureID]*models.Lecture),
		accounts:    make(map[id.AccountID]*models.Account),
		conflicts:   make(map[id.ConflictID]*models.Conflict),
		audits:      make(map[id.AuditID]*models.MergeAuditRecord),
	}
}

func (d *memData) clone() *memData {
	c := newMemData()
	for k, v := range d.persons {
		c.persons[k] = v.Clone()
	}
	for k, v := range d.memberships {
		c.memberships[k] = v.Clone()
	}
	for k, v := range d.invitations {
		c.invitations[k] = v.Clone()
	}
	for k, v := range d.lectures {
		c.lectures[k] = v.Clone()
	}
	for k, v := range d.accounts {
		c.accounts[k] = v.Clone()
	}
	for k, v := range d.conflicts {
		c.conflicts[k] = v.Clone()
	}
	for k, v := range d.audits {
		c.audits[k] = v.Clone()
	}
	return c
}

// Stores returns the store bundle backed by m.
func (m *Memory) Stores() ports.Stores {
	return ports.Stores{
		Persons:     &memPersons{m},
		Memberships: &memMemberships{m},
		Invitations: &memInvitations{m},
		Lectures:    &memLectures{m},
		Accounts:    &memAccounts{m},
		Conflicts:   &memConflicts{m},
		Audits:      &memAudits{m},
	}
}

// RunInTx runs fn while holding the store lock. Writes made by fn are
// discarded if it returns an error or panics.
func (m *Memory) RunInTx(ctx context.Context, fn func(ctx context.Context, s ports.Stores) error) (err error) {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if m.inTx(ctx) {
		return fn(ctx, m.Stores())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.data.clone()
	defer func() {
		if r := recover(); r != nil {
			m.data = snapshot
			panic(r)
		}
		if err != nil {
			m.data = snapshot
		}
	}()

	return fn(context.WithValue(ctx, memTxKey{}, m), m.Stores())
}

func (m *Memory) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(memTxKey{}).(*Memory)
	return ok && owner == m
}

// lock acquires the store mutex unless ctx already runs inside RunInTx.
func (m *Memory) lock(ctx context.Context) func() {
	if m.inTx(ctx) {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func notFound(kind string) error {
	return fmt.Errorf("%s: %w", kind, sentinel.ErrNotFound)
}

func byCreated[T any](items []T, created func(T) time.Time, key func(T) string) {
	slices.SortFunc(items, func(a, b T) int {
		if c := created(a).Compare(created(b)); c != 0 {
			return c
		}
		return strings.Compare(key(a), key(b))
	})
}

// --- persons ---

type memPersons struct{ m *Memory }

func (s *memPersons) emailTaken(email string, excluding id.PersonID) bool {
	for _, p := range s.m.data.persons {
		if p.ID != excluding && !p.IsDeleted() && p.Email == email {
			return true
		}
	}
	return false
}

func (s *memPersons) Create(ctx context.Context, p *models.Person) error {
	defer s.m.lock(ctx)()
	if _, ok := s.m.data.persons[p.ID]; ok {
		return fmt.Errorf("create person: %w", sentinel.ErrConflict)
	}
	if !p.IsDeleted() && s.emailTaken(p.Email, p.ID) {
		return fmt.Errorf("create person: email in use: %w", sentinel.ErrConflict)
	}
	s.m.data.persons[p.ID] = p.Clone()
	return nil
}

func (s *memPersons) FindByID(ctx context.Context, personID id.PersonID) (*models.Person, error) {
	defer s.m.lock(ctx)()
	if p, ok := s.m.data.persons[personID]; ok {
		return p.Clone(), nil
	}
	return nil, notFound("person")
}

func (s *memPersons) FindByLegacyID(ctx context.Context, legacyID int64) (*models.Person, error) {
	defer s.m.lock(ctx)()
	var deleted *models.Person
	for _, p := range s.sorted() {
		if p.LegacyID != legacyID || legacyID == 0 {
			continue
		}
		if !p.IsDeleted() {
			return p.Clone(), nil
		}
		if deleted == nil {
			deleted = p
		}
	}
	if deleted != nil {
		return deleted.Clone(), nil
	}
	return nil, notFound("person")
}

func (s *memPersons) FindByEmail(ctx context.Context, email string) (*models.Person, error) {
	defer s.m.lock(ctx)()
	for _, p := range s.sorted() {
		if !p.IsDeleted() && p.Email == email {
			return p.Clone(), nil
		}
	}
	return nil, notFound("person")
}

func (s *memPersons) ListByEmail(ctx context.Context, email string, excluding id.PersonID) ([]*models.Person, error) {
	defer s.m.lock(ctx)()
	var out []*models.Person
	for _, p := range s.sorted() {
		if p.ID != excluding && !p.IsDeleted() && p.Email == email {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *memPersons) ListByLegacyID(ctx context.Context, legacyID int64, excluding id.PersonID) ([]*models.Person, error) {
	defer s.m.lock(ctx)()
	var out []*models.Person
	if legacyID == 0 {
		return out, nil
	}
	for _, p := range s.sorted() {
		if p.ID != excluding && !p.IsDeleted() && p.LegacyID == legacyID {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *memPersons) LockForUpdate(ctx context.Context, ids ...id.PersonID) ([]*models.Person, error) {
	defer s.m.lock(ctx)()
	sortedIDs := slices.Clone(ids)
	slices.SortFunc(sortedIDs, func(a, b id.PersonID) int { return strings.Compare(a.String(), b.String()) })
	var out []*models.Person
	for _, pid := range slices.Compact(sortedIDs) {
		if p, ok := s.m.data.persons[pid]; ok {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (s *memPersons) Update(ctx context.Context, p *models.Person) error {
	defer s.m.lock(ctx)()
	if _, ok := s.m.data.persons[p.ID]; !ok {
		return notFound("person")
	}
	if !p.IsDeleted() && s.emailTaken(p.Email, p.ID) {
		return fmt.Errorf("update person: email in use: %w", sentinel.ErrConflict)
	}
	s.m.data.persons[p.ID] = p.Clone()
	return nil
}

func (s *memPersons) SoftDelete(ctx context.Context, personID id.PersonID, actor, reason string, at time.Time) error {
	defer s.m.lock(ctx)()
	p, ok := s.m.data.persons[personID]
	if !ok || p.IsDeleted() {
		return notFound("person")
	}
	p.MarkDeleted(actor, reason, at)
	p.UpdatedAt = at
	return nil
}

func (s *memPersons) ListSyncCandidates(ctx context.Context, staleBefore time.Time, limit int) ([]*models.Person, error) {
	defer s.m.lock(ctx)()
	var out []*models.Person
	for _, p := range s.m.data.persons {
		if !p.IsDeleted() && p.HasLegacyID() && p.UpdatedAt.Before(staleBefore) {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Person) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memPersons) sorted() []*models.Person {
	out := make([]*models.Person, 0, len(s.m.data.persons))
	for _, p := range s.m.data.persons {
		out = append(out, p)
	}
	byCreated(out, func(p *models.Person) time.Time { return p.CreatedAt }, func(p *models.Person) string { return p.ID.String() })
	return out
}

// --- memberships ---

type memMemberships struct{ m *Memory }

func (s *memMemberships) liveFor(personID id.PersonID, eventID id.EventID, excluding id.MembershipID) *models.Membership {
	for _, mb := range s.m.data.memberships {
		if mb.ID != excluding && !mb.IsDeleted() && mb.PersonID == personID && mb.EventID == eventID {
			return mb
		}
	}
	return nil
}

func (s *memMemberships) Create(ctx context.Context, mb *models.Membership) error {
	defer s.m.lock(ctx)()
	if _, ok := s.m.data.persons[mb.PersonID]; !ok {
		return fmt.Errorf("create membership: unknown person: %w", sentinel.ErrNotFound)
	}
	if !mb.IsDeleted() && s.liveFor(mb.PersonID, mb.EventID, mb.ID) != nil {
		return fmt.Errorf("create membership: %w", sentinel.ErrConflict)
	}
	s.m.data.memberships[mb.ID] = mb.Clone()
	return nil
}

func (s *memMemberships) ListByPerson(ctx context.Context, personID id.PersonID) ([]*models.Membership, error) {
	defer s.m.lock(ctx)()
	var out []*models.Membership
	for _, mb := range s.m.data.memberships {
		if mb.PersonID == personID && !mb.IsDeleted() {
			out = append(out, mb.Clone())
		}
	}
	byCreated(out, func(m *models.Membership) time.Time { return m.CreatedAt }, func(m *models.Membership) string { return m.ID.String() })
	return out, nil
}

func (s *memMemberships) FindByPersonAndEvent(ctx context.Context, personID id.PersonID, eventID id.EventID) (*models.Membership, error) {
	defer s.m.lock(ctx)()
	if mb := s.liveFor(personID, eventID, id.MembershipID{}); mb != nil {
		return mb.Clone(), nil
	}
	return nil, notFound("membership")
}

func (s *memMemberships) Reassign(ctx context.Context, membershipID id.MembershipID, personID id.PersonID, at time.Time) error {
	defer s.m.lock(ctx)()
	mb, ok := s.m.data.memberships[membershipID]
	if !ok || mb.IsDeleted() {
		return notFound("membership")
	}
	if s.liveFor(personID, mb.EventID, mb.ID) != nil {
		return fmt.Errorf("reassign membership: %w", sentinel.ErrConflict)
	}
	mb.PersonID = personID
	mb.UpdatedAt = at
	return nil
}

func (s *memMemberships) SoftDelete(ctx context.Context, membershipID id.MembershipID, actor, reason string, at time.Time) error {
	defer s.m.lock(ctx)()
	mb, ok := s.m.data.memberships[membershipID]
	if !ok || mb.IsDeleted() {
		return notFound("membership")
	}
	mb.MarkDeleted(actor, reason, at)
	mb.UpdatedAt = at
	return nil
}

// --- invitations ---

type memInvitations struct{ m *Memory }

func (s *memInvitations) Create(ctx context.Context, inv *models.Invitation) error {
	defer s.m.lock(ctx)()
	if _, ok := s.m.data.memberships[inv.MembershipID]; !ok {
		return fmt.Errorf("create invitation: unknown membership: %w", sentinel.ErrNotFound)
	}
	s.m.data.invitations[inv.ID] = inv.Clone()
	return nil
}

func (s *memInvitations) ListByMemberships(ctx context.Context, membershipIDs []id.MembershipID) ([]*models.Invitation, error) {
	defer s.m.lock(ctx)()
	var out []*models.Invitation
	for _, inv := range s.m.data.invitations {
		if slices.Contains(membershipIDs, inv.MembershipID) {
			out = append(out, inv.Clone())
		}
	}
	byCreated(out, func(i *models.Invitation) time.Time { return i.CreatedAt }, func(i *models.Invitation) string { return i.ID.String() })
	return out, nil
}

func (s *memInvitations) MoveToMembership(ctx context.Context, from, to id.MembershipID) (int, error) {
	defer s.m.lock(ctx)()
	if _, ok := s.m.data.memberships[to]; !ok {
		return 0, notFound("membership")
	}
	n := 0
	for _, inv := range s.m.data.invitations {
		if inv.MembershipID == from {
			inv.MembershipID = to
			n++
		}
	}
	return n, nil
}

func (s *memInvitations) ReassignInviter(ctx context.Context, from, to id.PersonID) (int, error) {
	defer s.m.lock(ctx)()
	n := 0
	for _, inv := range s.m.data.invitations {
		if inv.InvitedByID == from {
			inv.InvitedByID = to
			n++
		}
	}
	return n, nil
}

func (s *memInvitations) ExistsForPersonSince(ctx context.Context, personID id.PersonID, since time.Time) (bool, error) {
	defer s.m.lock(ctx)()
	for _, inv := range s.m.data.invitations {
		mb, ok := s.m.data.memberships[inv.MembershipID]
		if !ok || mb.IsDeleted() || mb.PersonID != personID {
			continue
		}
		if inv.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

// --- lectures ---

type memLectures struct{ m *Memory }

func (s *memLectures) Create(ctx context.Context, l *models.Lecture) error {
	defer s.m.lock(ctx)()
	s.m.data.lectures[l.ID] = l.Clone()
	return nil
}

func (s *memLectures) ListByPerson(ctx context.Context, personID id.PersonID) ([]*models.Lecture, error) {
	defer s.m.lock(ctx)()
	var out []*models.Lecture
	for _, l := range s.m.data.lectures {
		if l.PersonID == personID {
			out = append(out, l.Clone())
		}
	}
	byCreated(out, func(l *models.Lecture) time.Time { return l.CreatedAt }, func(l *models.Lecture) string { return l.ID.String() })
	return out, nil
}

func (s *memLectures) Reassign(ctx context.Context, from, to id.PersonID, at time.Time) (int, error) {
	defer s.m.lock(ctx)()
	n := 0
	for _, l := range s.m.data.lectures {
		if l.PersonID == from {
			l.PersonID = to
			l.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// --- accounts ---

type memAccounts struct{ m *Memory }

func (s *memAccounts) activeFor(personID id.PersonID, excluding id.AccountID) *models.Account {
	for _, a := range s.m.data.accounts {
		if a.ID != excluding && a.Active && a.PersonID == personID {
			return a
		}
	}
	return nil
}

func (s *memAccounts) Create(ctx context.Context, a *models.Account) error {
	defer s.m.lock(ctx)()
	if a.Active && s.activeFor(a.PersonID, a.ID) != nil {
		return fmt.Errorf("create account: %w", sentinel.ErrConflict)
	}
	s.m.data.accounts[a.ID] = a.Clone()
	return nil
}

func (s *memAccounts) FindActiveByPerson(ctx context.Context, personID id.PersonID) (*models.Account, error) {
	defer s.m.lock(ctx)()
	if a := s.activeFor(personID, id.AccountID{}); a != nil {
		return a.Clone(), nil
	}
	return nil, notFound("account")
}

func (s *memAccounts) FindActiveByEmail(ctx context.Context, email string) (*models.Account, error) {
	defer s.m.lock(ctx)()
	for _, a := range s.m.data.accounts {
		if a.Active && a.Email == email {
			return a.Clone(), nil
		}
	}
	return nil, notFound("account")
}

func (s *memAccounts) Relink(ctx context.Context, accountID id.AccountID, personID id.PersonID, email string, at time.Time) error {
	defer s.m.lock(ctx)()
	a, ok := s.m.data.accounts[accountID]
	if !ok {
		return notFound("account")
	}
	if a.Active && s.activeFor(personID, a.ID) != nil {
		return fmt.Errorf("relink account: %w", sentinel.ErrConflict)
	}
	a.PersonID = personID
	a.Email = email
	a.UpdatedAt = at
	return nil
}

func (s *memAccounts) Deactivate(ctx context.Context, accountID id.AccountID, reason string, at time.Time) error {
	defer s.m.lock(ctx)()
	a, ok := s.m.data.accounts[accountID]
	if !ok {
		return notFound("account")
	}
	a.Deactivate(reason, at)
	return nil
}

// --- conflicts ---

type memConflicts struct{ m *Memory }

func (s *memConflicts) openPair(a, b id.PersonID) *models.Conflict {
	for _, c := range s.m.data.conflicts {
		if !c.Confirmed && c.SamePair(a, b) {
			return c
		}
	}
	return nil
}

func (s *memConflicts) CreateIfAbsent(ctx context.Context, c *models.Conflict) (*models.Conflict, bool, error) {
	defer s.m.lock(ctx)()
	if existing := s.openPair(c.PersonAID, c.PersonBID); existing != nil {
		return existing.Clone(), false, nil
	}
	s.m.data.conflicts[c.ID] = c.Clone()
	return c.Clone(), true, nil
}

func (s *memConflicts) FindByID(ctx context.Context, conflictID id.ConflictID) (*models.Conflict, error) {
	defer s.m.lock(ctx)()
	if c, ok := s.m.data.conflicts[conflictID]; ok {
		return c.Clone(), nil
	}
	return nil, notFound("conflict")
}

func (s *memConflicts) FindOpenByPair(ctx context.Context, a, b id.PersonID) (*models.Conflict, error) {
	defer s.m.lock(ctx)()
	if c := s.openPair(a, b); c != nil {
		return c.Clone(), nil
	}
	return nil, notFound("conflict")
}

func (s *memConflicts) List(ctx context.Context, filter models.ConflictFilter) ([]*models.Conflict, error) {
	defer s.m.lock(ctx)()
	var out []*models.Conflict
	for _, c := range s.m.data.conflicts {
		if filter.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	// Newest first, as the review queue shows them.
	byCreated(out, func(c *models.Conflict) time.Time { return c.CreatedAt }, func(c *models.Conflict) string { return c.ID.String() })
	slices.Reverse(out)
	return out, nil
}

func (s *memConflicts) ListOpenByEmails(ctx context.Context, emails []string, excluding id.ConflictID) ([]*models.Conflict, error) {
	defer s.m.lock(ctx)()
	var out []*models.Conflict
	for _, c := range s.m.data.conflicts {
		if c.ID != excluding && !c.Confirmed && c.SharesEmail(emails...) {
			out = append(out, c.Clone())
		}
	}
	byCreated(out, func(c *models.Conflict) time.Time { return c.CreatedAt }, func(c *models.Conflict) string { return c.ID.String() })
	return out, nil
}

func (s *memConflicts) Stats(ctx context.Context) (models.ConflictStats, error) {
	defer s.m.lock(ctx)()
	var st models.ConflictStats
	for _, c := range s.m.data.conflicts {
		st.Total++
		if c.Confirmed {
			st.Resolved++
			continue
		}
		st.Pending++
		if c.Priority == models.PriorityHigh {
			st.HighPriority++
		}
		if c.HasRecentInvitations {
			st.RecentInvitations++
		}
	}
	return st, nil
}

func (s *memConflicts) Resolve(ctx context.Context, c *models.Conflict) error {
	defer s.m.lock(ctx)()
	stored, ok := s.m.data.conflicts[c.ID]
	if !ok {
		return notFound("conflict")
	}
	if stored.Confirmed {
		return fmt.Errorf("resolve conflict: %w", sentinel.ErrInvalidState)
	}
	stored.Confirmed = c.Confirmed
	stored.BlockedReason = c.BlockedReason
	stored.ReviewedBy = c.ReviewedBy
	stored.ReviewedAt = c.ReviewedAt
	stored.UpdatedAt = c.UpdatedAt
	return nil
}

// --- merge audits ---

type memAudits struct{ m *Memory }

func (s *memAudits) Create(ctx context.Context, rec *models.MergeAuditRecord) error {
	defer s.m.lock(ctx)()
	if _, ok := s.m.data.audits[rec.ID]; ok {
		return fmt.Errorf("create merge audit: %w", sentinel.ErrConflict)
	}
	s.m.data.audits[rec.ID] = rec.Clone()
	return nil
}

func (s *memAudits) finalize(ctx context.Context, auditID id.AuditID, apply func(*models.MergeAuditRecord)) error {
	defer s.m.lock(ctx)()
	rec, ok := s.m.data.audits[auditID]
	if !ok {
		return notFound("merge audit")
	}
	if rec.Finalized() {
		return fmt.Errorf("finalize merge audit: %w", sentinel.ErrInvalidState)
	}
	apply(rec)
	return nil
}

func (s *memAudits) SetAffected(ctx context.Context, auditID id.AuditID, memberships []id.MembershipID, invitations []id.InvitationID, at time.Time) error {
	return s.finalize(ctx, auditID, func(rec *models.MergeAuditRecord) {
		rec.AffectedMemberships = slices.Clone(memberships)
		rec.AffectedInvitations = slices.Clone(invitations)
		rec.UpdatedAt = at
	})
}

func (s *memAudits) MarkCompleted(ctx context.Context, auditID id.AuditID, at time.Time) error {
	return s.finalize(ctx, auditID, func(rec *models.MergeAuditRecord) {
		rec.Completed = true
		rec.UpdatedAt = at
	})
}

func (s *memAudits) MarkFailed(ctx context.Context, auditID id.AuditID, message string, at time.Time) error {
	return s.finalize(ctx, auditID, func(rec *models.MergeAuditRecord) {
		rec.Completed = false
		rec.ErrorMessage = message
		rec.UpdatedAt = at
	})
}

func (s *memAudits) FindByID(ctx context.Context, auditID id.AuditID) (*models.MergeAuditRecord, error) {
	defer s.m.lock(ctx)()
	if rec, ok := s.m.data.audits[auditID]; ok {
		return rec.Clone(), nil
	}
	return nil, notFound("merge audit")
}

func (s *memAudits) list(ctx context.Context, keep func(*models.MergeAuditRecord) bool) []*models.MergeAuditRecord {
	defer s.m.lock(ctx)()
	var out []*models.MergeAuditRecord
	for _, rec := range s.m.data.audits {
		if keep(rec) {
			out = append(out, rec.Clone())
		}
	}
	byCreated(out, func(r *models.MergeAuditRecord) time.Time { return r.CreatedAt }, func(r *models.MergeAuditRecord) string { return r.ID.String() })
	slices.Reverse(out)
	return out
}

func (s *memAudits) ListSince(ctx context.Context, since time.Time) ([]*models.MergeAuditRecord, error) {
	return s.list(ctx, func(r *models.MergeAuditRecord) bool { return r.CreatedAt.After(since) }), nil
}

func (s *memAudits) ListFailed(ctx context.Context) ([]*models.MergeAuditRecord, error) {
	return s.list(ctx, (*models.MergeAuditRecord).Failed), nil
}

func (s *memAudits) ListCompleted(ctx context.Context) ([]*models.MergeAuditRecord, error) {
	return s.list(ctx, func(r *models.MergeAuditRecord) bool { return r.Completed }), nil
}

func (s *memAudits) ListForPerson(ctx context.Context, personID id.PersonID) ([]*models.MergeAuditRecord, error) {
	return s.list(ctx, func(r *models.MergeAuditRecord) bool {
		return r.SourcePersonID == personID || r.TargetPersonID == personID
	}), nil
}
