package merge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"rollcall/internal/identity/metrics"
	"rollcall/internal/identity/models"
	"rollcall/internal/identity/notify"
	"rollcall/internal/identity/ports"
	"rollcall/internal/identity/ports/mocks"
	"rollcall/internal/identity/store"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/requestcontext"
)

type failingLectures struct {
	ports.LectureStore
}

func (failingLectures) Reassign(context.Context, id.PersonID, id.PersonID, time.Time) (int, error) {
	return 0, errors.New("lecture table locked")
}

// faultyTx injects a failing lecture store into every merge transaction.
type faultyTx struct {
	mem *store.Memory
}

func (f faultyTx) RunInTx(ctx context.Context, fn func(ctx context.Context, s ports.Stores) error) error {
	return f.mem.RunInTx(ctx, func(ctx context.Context, s ports.Stores) error {
		s.Lectures = failingLectures{s.Lectures}
		return fn(ctx, s)
	})
}

// lateWrites runs before on every transaction, standing in for a writer that
// commits between the audit snapshot and the row locks.
type lateWrites struct {
	mem    *store.Memory
	before func()
}

func (l lateWrites) RunInTx(ctx context.Context, fn func(ctx context.Context, s ports.Stores) error) error {
	l.before()
	return l.mem.RunInTx(ctx, fn)
}

type EngineSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	mem      *store.Memory
	stores   ports.Stores
	legacy   *mocks.MockLegacySource
	notifier *mocks.MockNotifier
	events   *mocks.MockEventPublisher
	engine   *Engine
	ctx      context.Context
	now      time.Time
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mem = store.NewMemory()
	s.stores = s.mem.Stores()
	s.legacy = mocks.NewMockLegacySource(s.ctrl)
	s.notifier = mocks.NewMockNotifier(s.ctrl)
	s.events = mocks.NewMockEventPublisher(s.ctrl)
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithActor(requestcontext.WithTime(context.Background(), s.now), "admin@example.org")
	s.engine = s.newEngine(s.mem)
}

func (s *EngineSuite) newEngine(txRunner ports.TxRunner) *Engine {
	return New(s.stores, txRunner,
		WithLegacySource(s.legacy),
		WithNotifier(s.notifier),
		WithEventPublisher(s.events),
		WithDispatcher(notify.Inline{}),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
}

func (s *EngineSuite) person(email string, legacyID int64) *models.Person {
	p := &models.Person{
		ID:        id.NewPersonID(),
		Email:     email,
		LegacyID:  legacyID,
		Profile:   models.Profile{Firstname: "Ann", Lastname: "Lee"},
		CreatedAt: s.now.Add(-time.Hour),
		UpdatedAt: s.now.Add(-time.Hour),
	}
	s.Require().NoError(s.stores.Persons.Create(s.ctx, p))
	return p
}

func (s *EngineSuite) membership(p *models.Person, event id.EventID) *models.Membership {
	m := &models.Membership{ID: id.NewMembershipID(), PersonID: p.ID, EventID: event, CreatedAt: s.now.Add(-time.Hour)}
	s.Require().NoError(s.stores.Memberships.Create(s.ctx, m))
	return m
}

func (s *EngineSuite) invitation(m *models.Membership, invitedBy id.PersonID) *models.Invitation {
	inv := &models.Invitation{ID: id.NewInvitationID(), MembershipID: m.ID, InvitedByID: invitedBy, CreatedAt: s.now.Add(-72 * time.Hour)}
	s.Require().NoError(s.stores.Invitations.Create(s.ctx, inv))
	return inv
}

func (s *EngineSuite) liveMemberships(p *models.Person) []*models.Membership {
	ms, err := s.stores.Memberships.ListByPerson(s.ctx, p.ID)
	s.Require().NoError(err)
	return ms
}

// fixture: target and source share one event, source has one more event,
// a lecture, an invitation it sent, and the only login account.
func (s *EngineSuite) fixture() (target, source *models.Person, sharedInvitation *models.Invitation) {
	target = s.person("target@example.org", 100)
	source = s.person("source@example.org", 200)
	shared := id.NewEventID()
	s.membership(target, shared)
	dup := s.membership(source, shared)
	own := s.membership(source, id.NewEventID())
	sharedInvitation = s.invitation(dup, id.PersonID{})

	other := s.person("other@example.org", 0)
	s.invitation(s.membership(other, id.NewEventID()), source.ID)
	s.invitation(own, id.PersonID{})

	s.Require().NoError(s.stores.Lectures.Create(s.ctx, &models.Lecture{ID: id.NewLectureID(), PersonID: source.ID, Title: "Sheaves"}))
	s.Require().NoError(s.stores.Accounts.Create(s.ctx, &models.Account{ID: id.NewAccountID(), PersonID: source.ID, Email: source.Email, Active: true}))
	return target, source, sharedInvitation
}

func (s *EngineSuite) TestMerge_MovesEverythingToTarget() {
	target, source, sharedInvitation := s.fixture()
	before := len(s.liveMemberships(target)) + len(s.liveMemberships(source))

	s.legacy.EXPECT().ReplacePerson(gomock.Any(), int64(200), int64(100)).Return(nil)
	s.events.EXPECT().PublishMerged(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, evt ports.PersonMerged) error {
			s.Equal(target.ID, evt.TargetPersonID)
			s.Equal(source.ID, evt.SourcePersonID)
			s.Equal("admin@example.org", evt.Actor)
			return nil
		})

	res := s.engine.Merge(s.ctx, Request{TargetID: target.ID, SourceID: source.ID, Reason: "duplicate signup"})
	s.Require().True(res.Success(), "merge error: %v", res.Err)

	s.Equal(1, res.MembershipsMoved)
	s.Equal(1, res.MembershipsDeduplicated)
	s.Equal(1, res.LecturesMoved)
	s.Equal(1, res.InvitationsMoved)
	s.Equal(1, res.InviterReferencesMoved)
	s.Equal(AccountRelinked, res.AccountAction)
	s.Equal("Moved 2 memberships, 1 lectures, 1 invitations", res.Details())

	after := s.liveMemberships(target)
	s.LessOrEqual(len(after), before)
	s.Len(after, 2)
	s.Empty(s.liveMemberships(source))

	ids := make([]id.MembershipID, 0, len(after))
	for _, m := range after {
		ids = append(ids, m.ID)
	}
	reachable, err := s.stores.Invitations.ListByMemberships(s.ctx, ids)
	s.Require().NoError(err)
	s.Len(reachable, 2)
	s.Contains(invitationIDs(reachable), sharedInvitation.ID)

	lectures, err := s.stores.Lectures.ListByPerson(s.ctx, target.ID)
	s.Require().NoError(err)
	s.Len(lectures, 1)

	account, err := s.stores.Accounts.FindActiveByPerson(s.ctx, target.ID)
	s.Require().NoError(err)
	s.Equal("target@example.org", account.Email)

	gone, err := s.stores.Persons.FindByID(s.ctx, source.ID)
	s.Require().NoError(err)
	s.True(gone.IsDeleted())
	s.Equal("admin@example.org", gone.DeletedBy)

	audit, err := s.stores.Audits.FindByID(s.ctx, res.AuditID)
	s.Require().NoError(err)
	s.True(audit.Completed)
	s.Len(audit.AffectedMemberships, 2)
	s.Len(audit.AffectedInvitations, 2)
	s.Equal("duplicate signup", audit.Reason)
	s.Equal("admin@example.org", audit.InitiatedBy)
}

func (s *EngineSuite) TestMerge_BothAccountsDeactivatesSource() {
	target := s.person("target@example.org", 0)
	source := s.person("source@example.org", 0)
	sourceAccount := &models.Account{ID: id.NewAccountID(), PersonID: source.ID, Email: source.Email, Active: true}
	s.Require().NoError(s.stores.Accounts.Create(s.ctx, &models.Account{ID: id.NewAccountID(), PersonID: target.ID, Email: target.Email, Active: true}))
	s.Require().NoError(s.stores.Accounts.Create(s.ctx, sourceAccount))
	s.events.EXPECT().PublishMerged(gomock.Any(), gomock.Any()).Return(nil)

	res := s.engine.Merge(s.ctx, Request{TargetID: target.ID, SourceID: source.ID})
	s.Require().True(res.Success(), "merge error: %v", res.Err)
	s.Equal(AccountDeactivated, res.AccountAction)

	_, err := s.stores.Accounts.FindActiveByPerson(s.ctx, source.ID)
	s.Error(err)
}

func (s *EngineSuite) TestMerge_FailureLeavesStateUnchanged() {
	target, source, _ := s.fixture()
	engine := s.newEngine(faultyTx{mem: s.mem})

	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, notice ports.AdminNotice) error {
			s.Equal("Person merge failed", notice.Problem)
			s.Equal(target.ID.String(), notice.Details["target_id"])
			s.Equal("source@example.org", notice.Details["source_email"])
			s.Equal("Ann Lee", notice.Details["source_name"])
			s.Contains(notice.Error, "lecture table locked")
			return nil
		})

	res := engine.Merge(s.ctx, Request{TargetID: target.ID, SourceID: source.ID})
	s.Require().False(res.Success())
	s.True(dErrors.HasCode(res.Err, dErrors.CodeMergeFailure))
	s.Zero(res.MembershipsMoved)
	s.Zero(res.MembershipsDeduplicated)

	s.Len(s.liveMemberships(source), 2)
	s.Len(s.liveMemberships(target), 1)
	stillThere, err := s.stores.Persons.FindByID(s.ctx, source.ID)
	s.Require().NoError(err)
	s.False(stillThere.IsDeleted())
	_, err = s.stores.Accounts.FindActiveByPerson(s.ctx, source.ID)
	s.NoError(err)

	audit, err := s.stores.Audits.FindByID(s.ctx, res.AuditID)
	s.Require().NoError(err)
	s.False(audit.Completed)
	s.Contains(audit.ErrorMessage, "lecture table locked")

	failed, err := s.stores.Audits.ListFailed(s.ctx)
	s.Require().NoError(err)
	s.Len(failed, 1)
}

func (s *EngineSuite) TestMerge_HookFailureRollsBack() {
	target := s.person("target@example.org", 0)
	source := s.person("source@example.org", 0)
	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Return(nil)

	var sawSourceDeleted bool
	res := s.engine.Merge(s.ctx, Request{
		TargetID: target.ID,
		SourceID: source.ID,
		Hooks: []Hook{func(ctx context.Context, st ports.Stores, _ *Result) error {
			p, err := st.Persons.FindByID(ctx, source.ID)
			if err != nil {
				return err
			}
			sawSourceDeleted = p.IsDeleted()
			return dErrors.New(dErrors.CodeConflict, "conflict already resolved")
		}},
	})
	s.True(sawSourceDeleted, "hooks run after the source is removed")
	s.True(dErrors.HasCode(res.Err, dErrors.CodeConflict))

	p, err := s.stores.Persons.FindByID(s.ctx, source.ID)
	s.Require().NoError(err)
	s.False(p.IsDeleted())
}

func (s *EngineSuite) TestMerge_RejectsInvalidRequests() {
	p := s.person("ann@example.org", 0)

	res := s.engine.Merge(s.ctx, Request{TargetID: p.ID, SourceID: p.ID})
	s.True(dErrors.HasCode(res.Err, dErrors.CodeValidation))

	res = s.engine.Merge(s.ctx, Request{TargetID: p.ID, SourceID: id.NewPersonID()})
	s.True(dErrors.HasCode(res.Err, dErrors.CodeNotFound))

	recent, err := s.stores.Audits.ListSince(s.ctx, s.now.Add(-time.Hour))
	s.Require().NoError(err)
	s.Empty(recent, "rejected requests are not merge attempts")
}

func (s *EngineSuite) TestMerge_AlreadyMerged() {
	target := s.person("target@example.org", 0)
	source := s.person("source@example.org", 0)
	s.events.EXPECT().PublishMerged(gomock.Any(), gomock.Any()).Return(nil)

	s.Require().True(s.engine.Merge(s.ctx, Request{TargetID: target.ID, SourceID: source.ID}).Success())

	res := s.engine.Merge(s.ctx, Request{TargetID: target.ID, SourceID: source.ID})
	s.True(dErrors.HasCode(res.Err, dErrors.CodeAlreadyMerged))

	res = s.engine.Merge(s.ctx, Request{TargetID: source.ID, SourceID: target.ID})
	s.True(dErrors.HasCode(res.Err, dErrors.CodeAlreadyMerged))
	s.False(res.AuditID.IsNil())

	failed, err := s.stores.Audits.ListFailed(s.ctx)
	s.Require().NoError(err)
	s.Len(failed, 2, "each refused attempt is audited")
	for _, rec := range failed {
		s.Contains(rec.ErrorMessage, "already merged")
		s.False(rec.Completed)
	}
}

func (s *EngineSuite) TestMerge_AuditListsTakenUnderLock() {
	target := s.person("target@example.org", 0)
	source := s.person("source@example.org", 0)
	early := s.membership(source, id.NewEventID())
	s.events.EXPECT().PublishMerged(gomock.Any(), gomock.Any()).Return(nil)

	var late *models.Membership
	var lateInvitation *models.Invitation
	engine := s.newEngine(lateWrites{mem: s.mem, before: func() {
		late = s.membership(source, id.NewEventID())
		lateInvitation = s.invitation(late, id.PersonID{})
	}})

	res := engine.Merge(s.ctx, Request{TargetID: target.ID, SourceID: source.ID})
	s.Require().True(res.Success(), "merge error: %v", res.Err)
	s.Equal(2, res.MembershipsMoved)

	audit, err := s.stores.Audits.FindByID(s.ctx, res.AuditID)
	s.Require().NoError(err)
	s.True(audit.Completed)
	s.ElementsMatch([]id.MembershipID{early.ID, late.ID}, audit.AffectedMemberships)
	s.Equal([]id.InvitationID{lateInvitation.ID}, audit.AffectedInvitations)
}

// TestMerge_ConcurrentOverlapping races two merges that consume the same
// source; exactly one may win.
func (s *EngineSuite) TestMerge_ConcurrentOverlapping() {
	source := s.person("source@example.org", 0)
	first := s.person("first@example.org", 0)
	second := s.person("second@example.org", 0)
	s.events.EXPECT().PublishMerged(gomock.Any(), gomock.Any()).Return(nil).Times(1)
	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	var wg sync.WaitGroup
	var wins, alreadyMerged atomic.Int32
	for _, target := range []*models.Person{first, second} {
		wg.Add(1)
		go func(target *models.Person) {
			defer wg.Done()
			res := s.engine.Merge(s.ctx, Request{TargetID: target.ID, SourceID: source.ID})
			switch {
			case res.Success():
				wins.Add(1)
			case dErrors.HasCode(res.Err, dErrors.CodeAlreadyMerged):
				alreadyMerged.Add(1)
			}
		}(target)
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(1), alreadyMerged.Load())
}

func invitationIDs(invs []*models.Invitation) []id.InvitationID {
	out := make([]id.InvitationID, 0, len(invs))
	for _, inv := range invs {
		out = append(out, inv.ID)
	}
	return out
}
