package personsync

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"rollcall/internal/identity/activity"
	"rollcall/internal/identity/conflict"
	"rollcall/internal/identity/merge"
	"rollcall/internal/identity/metrics"
	"rollcall/internal/identity/models"
	"rollcall/internal/identity/notify"
	"rollcall/internal/identity/ports"
	"rollcall/internal/identity/ports/mocks"
	"rollcall/internal/identity/scorer"
	"rollcall/internal/identity/store"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/requestcontext"
)

type EngineSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	mem      *store.Memory
	stores   ports.Stores
	legacy   *mocks.MockLegacySource
	notifier *mocks.MockNotifier
	metrics  *metrics.Metrics
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
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithActor(requestcontext.WithTime(context.Background(), s.now), "sync")

	inline := notify.Inline{}
	merger := merge.New(s.stores, s.mem, merge.WithDispatcher(inline))
	assessor := scorer.New(s.stores)
	guard := activity.New(s.stores.Invitations)
	workflow := conflict.New(s.stores, merger, assessor, guard,
		conflict.WithNotifier(s.notifier),
		conflict.WithDispatcher(inline),
	)
	s.engine = New(s.stores, s.mem, merger, workflow, assessor, guard,
		WithLegacySource(s.legacy),
		WithNotifier(s.notifier),
		WithDispatcher(inline),
		WithMetrics(s.metrics),
		WithPersonURL("https://legacy.example.org/people/"),
	)
}

func (s *EngineSuite) person(first, last, email string, legacyID int64) *models.Person {
	p := &models.Person{
		ID:        id.NewPersonID(),
		Email:     email,
		LegacyID:  legacyID,
		Profile:   models.Profile{Firstname: first, Lastname: last},
		CreatedAt: s.now.Add(-30 * 24 * time.Hour),
		UpdatedAt: s.now.Add(-48 * time.Hour),
	}
	s.Require().NoError(s.stores.Persons.Create(s.ctx, p))
	return p
}

func (s *EngineSuite) invite(p *models.Person, age time.Duration) {
	m := &models.Membership{ID: id.NewMembershipID(), PersonID: p.ID, EventID: id.NewEventID(), CreatedAt: s.now.Add(-age)}
	s.Require().NoError(s.stores.Memberships.Create(s.ctx, m))
	s.Require().NoError(s.stores.Invitations.Create(s.ctx, &models.Invitation{
		ID: id.NewInvitationID(), MembershipID: m.ID, CreatedAt: s.now.Add(-age),
	}))
}

func (s *EngineSuite) reload(p *models.Person) *models.Person {
	found, err := s.stores.Persons.FindByID(s.ctx, p.ID)
	s.Require().NoError(err)
	return found
}

func (s *EngineSuite) livePersons(people ...*models.Person) int {
	n := 0
	for _, p := range people {
		if !s.reload(p).IsDeleted() {
			n++
		}
	}
	return n
}

func (s *EngineSuite) openConflicts() []*models.Conflict {
	cs, err := s.stores.Conflicts.List(s.ctx, models.FilterPending)
	s.Require().NoError(err)
	return cs
}

func (s *EngineSuite) TestReconcile_MergesMatchingEmailHolder() {
	a := s.person("Jane", "Doe", "a@x.org", 1)
	b := s.person("Jane", "Doe", "b@x.org", 0)
	remote := &models.RemotePerson{LegacyID: 1, Email: "b@x.org", Profile: models.Profile{Firstname: "Jane", Lastname: "Doe"}}

	survivor, err := s.engine.Reconcile(s.ctx, a, remote)
	s.Require().NoError(err)

	s.Equal(a.ID, survivor.ID, "the record with a legacy id scores higher")
	s.Equal("b@x.org", survivor.Email)
	s.Equal(1, s.livePersons(a, b))
	s.True(s.reload(b).IsDeleted())
	s.Equal("b@x.org", s.reload(a).Email)
	s.Empty(s.openConflicts())
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.AutoMerges))
}

func (s *EngineSuite) TestReconcile_RecentInvitationOpensConflict() {
	a := s.person("Jane", "Doe", "a@x.org", 1)
	b := s.person("Jane", "Doe", "b@x.org", 0)
	s.invite(b, time.Hour)
	remote := &models.RemotePerson{LegacyID: 1, Email: "b@x.org", Profile: models.Profile{Firstname: "Jane", Lastname: "Doe"}}

	s.notifier.EXPECT().SendConfirmation(gomock.Any(), gomock.Any()).Return(nil)

	survivor, err := s.engine.Reconcile(s.ctx, a, remote)
	s.Require().NoError(err)

	s.Equal(a.ID, survivor.ID)
	s.Equal(2, s.livePersons(a, b))
	s.Equal("a@x.org", s.reload(a).Email)
	s.Equal("b@x.org", s.reload(b).Email)

	conflicts := s.openConflicts()
	s.Require().Len(conflicts, 1)
	s.Equal(a.ID, conflicts[0].PersonAID)
	s.Equal(b.ID, conflicts[0].PersonBID)
	s.Equal(models.BlockedByRecentInvitation, conflicts[0].BlockedReason)

	_, err = s.engine.Reconcile(s.ctx, s.reload(a), remote)
	s.Require().NoError(err)
	s.Len(s.openConflicts(), 1, "a second sync reuses the open conflict")
}

func (s *EngineSuite) TestReconcile_NameMismatchOpensConflict() {
	a := s.person("Jane", "Doe", "a@x.org", 1)
	b := s.person("Sam", "Roe", "b@x.org", 0)
	remote := &models.RemotePerson{LegacyID: 1, Email: "b@x.org"}

	s.notifier.EXPECT().SendConfirmation(gomock.Any(), gomock.Any()).Return(nil)

	_, err := s.engine.Reconcile(s.ctx, a, remote)
	s.Require().NoError(err)
	s.Equal(2, s.livePersons(a, b))
	s.Len(s.openConflicts(), 1)
}

func (s *EngineSuite) TestReconcile_LegacyIDCollisionMergesIntoHolder() {
	local := s.person("Jane", "Doe", "jane@x.org", 0)
	holder := s.person("Jane", "Doe", "doe@x.org", 7)
	remote := &models.RemotePerson{LegacyID: 7, Profile: models.Profile{Firstname: "Jane", Lastname: "Doe"}}

	survivor, err := s.engine.Reconcile(s.ctx, local, remote)
	s.Require().NoError(err)

	s.Equal(holder.ID, survivor.ID)
	s.True(s.reload(local).IsDeleted())
	s.Equal(int64(7), s.reload(holder).LegacyID)
}

func (s *EngineSuite) TestReconcile_EmailHolderWinsAndKeepsLegacyID() {
	a := s.person("Jane", "Doe", "a@x.org", 1)
	b := s.person("Jane", "Doe", "b@x.org", 0)
	for range 5 {
		s.Require().NoError(s.stores.Memberships.Create(s.ctx, &models.Membership{
			ID: id.NewMembershipID(), PersonID: b.ID, EventID: id.NewEventID(), CreatedAt: s.now.Add(-72 * time.Hour),
		}))
	}
	remote := &models.RemotePerson{LegacyID: 1, Email: "b@x.org", Profile: models.Profile{Firstname: "Jane", Lastname: "Doe"}}

	survivor, err := s.engine.Reconcile(s.ctx, a, remote)
	s.Require().NoError(err)

	s.Equal(b.ID, survivor.ID, "five memberships outscore the legacy id")
	s.True(s.reload(a).IsDeleted())
	s.Equal(int64(1), survivor.LegacyID)
	s.Equal(int64(1), s.reload(b).LegacyID)

	holders, err := s.stores.Persons.ListByLegacyID(s.ctx, 1, id.NewPersonID())
	s.Require().NoError(err)
	s.Require().Len(holders, 1, "the legacy id stays on a live record")
	s.Equal(b.ID, holders[0].ID)
}

func (s *EngineSuite) TestReconcile_LegacyIDHandling() {
	s.Run("blank local legacy id is adopted", func() {
		p := s.person("Ann", "Lee", "ann@x.org", 0)
		_, err := s.engine.Reconcile(s.ctx, p, &models.RemotePerson{LegacyID: 42, Email: "ann@x.org"})
		s.Require().NoError(err)
		s.Equal(int64(42), s.reload(p).LegacyID)
	})

	s.Run("different local legacy id tells the legacy source", func() {
		p := s.person("Bo", "Lin", "bo@x.org", 5)
		s.legacy.EXPECT().ReplacePerson(gomock.Any(), int64(9), int64(5)).Return(nil)

		_, err := s.engine.Reconcile(s.ctx, p, &models.RemotePerson{LegacyID: 9, Email: "bo@x.org"})
		s.Require().NoError(err)
		s.Equal(int64(5), s.reload(p).LegacyID)
	})
}

func (s *EngineSuite) TestReconcile_LocalNewerOnlyFillsBlanks() {
	p := s.person("Ann", "Lee", "ann@x.org", 3)
	p.Affiliation = "Local U"
	s.Require().NoError(s.stores.Persons.Update(s.ctx, p))
	older := s.now.Add(-7 * 24 * time.Hour)
	remote := &models.RemotePerson{
		LegacyID:  3,
		Email:     "ann@x.org",
		Profile:   models.Profile{Firstname: "Anne", Lastname: "Lee", Affiliation: "Remote U", City: "Banff"},
		UpdatedAt: &older,
		UpdatedBy: "someone",
	}

	_, err := s.engine.Reconcile(s.ctx, p, remote)
	s.Require().NoError(err)

	got := s.reload(p)
	s.Equal("Ann", got.Firstname)
	s.Equal("Local U", got.Affiliation)
	s.Equal("Banff", got.City)
	s.Equal(p.UpdatedAt, got.UpdatedAt)
	s.Empty(got.UpdatedBy)
}

func (s *EngineSuite) TestReconcile_RemoteNewerOverwrites() {
	p := s.person("Ann", "Lee", "ann@x.org", 3)
	invitedOld := s.now.Add(-100 * 24 * time.Hour)
	p.Biography = "Local bio"
	p.Affiliation = "Local U"
	p.InvitedOn = &invitedOld
	p.InvitedBy = "Staff"
	s.Require().NoError(s.stores.Persons.Update(s.ctx, p))

	newer := s.now.Add(-time.Hour)
	invitedNew := s.now.Add(-10 * 24 * time.Hour)
	remote := &models.RemotePerson{
		LegacyID:  3,
		Email:     "ann@x.org",
		Profile:   models.Profile{Firstname: "Anne", Lastname: "Lee", Affiliation: "Remote U", Biography: "Remote bio"},
		InvitedOn: &invitedNew,
		InvitedBy: "Organizer",
		UpdatedAt: &newer,
	}

	_, err := s.engine.Reconcile(s.ctx, p, remote)
	s.Require().NoError(err)

	got := s.reload(p)
	s.Equal("Anne", got.Firstname)
	s.Equal("Remote U", got.Affiliation)
	s.Equal("Local bio", got.Biography)
	s.Equal(DefaultUpdatedBy, got.UpdatedBy)
	s.Equal(newer, got.UpdatedAt)
	s.Require().NotNil(got.InvitedOn)
	s.Equal(invitedNew, *got.InvitedOn)
	s.Equal("Organizer", got.InvitedBy)
}

func (s *EngineSuite) TestReconcile_RejectsDeletedAndEmpty() {
	p := s.person("Ann", "Lee", "ann@x.org", 3)

	_, err := s.engine.Reconcile(s.ctx, p, &models.RemotePerson{})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	s.Require().NoError(s.stores.Persons.SoftDelete(s.ctx, p.ID, "admin", "merged", s.now))
	_, err = s.engine.Reconcile(s.ctx, s.reload(p), &models.RemotePerson{LegacyID: 3})
	s.True(dErrors.HasCode(err, dErrors.CodeAlreadyMerged))
}

func (s *EngineSuite) TestChangeEmail() {
	s.Run("free address is applied and the account follows", func() {
		p := s.person("Ann", "Lee", "ann@x.org", 0)
		account := &models.Account{ID: id.NewAccountID(), PersonID: p.ID, Email: p.Email, Active: true}
		s.Require().NoError(s.stores.Accounts.Create(s.ctx, account))

		change, err := s.engine.ChangeEmail(s.ctx, p.ID, "  Ann.Lee@X.org ", "admin@x.org")
		s.Require().NoError(err)
		s.True(change.Applied)
		s.Equal("ann.lee@x.org", s.reload(p).Email)
		s.Equal("admin@x.org", s.reload(p).UpdatedBy)

		got, err := s.stores.Accounts.FindActiveByPerson(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal("ann.lee@x.org", got.Email)
	})

	s.Run("unchanged address is a no-op", func() {
		p := s.person("Bo", "Lin", "bo@x.org", 0)
		change, err := s.engine.ChangeEmail(s.ctx, p.ID, "BO@x.org", "")
		s.Require().NoError(err)
		s.False(change.Applied)
		s.Empty(change.Merges)
	})

	s.Run("invalid address", func() {
		p := s.person("Cy", "Moe", "cy@x.org", 0)
		_, err := s.engine.ChangeEmail(s.ctx, p.ID, "not-an-email", "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown person", func() {
		_, err := s.engine.ChangeEmail(s.ctx, id.NewPersonID(), "x@x.org", "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("dissimilar holder blocks the change", func() {
		p := s.person("Dee", "Park", "dee@x.org", 0)
		other := s.person("Eli", "Stone", "eli@x.org", 0)
		s.notifier.EXPECT().SendConfirmation(gomock.Any(), gomock.Any()).Return(nil)

		change, err := s.engine.ChangeEmail(s.ctx, p.ID, other.Email, "")
		s.Require().NoError(err)
		s.False(change.Applied)
		s.Len(change.Conflicts, 1)
		s.Equal("dee@x.org", s.reload(p).Email)
	})

	s.Run("matching holder is merged", func() {
		p := s.person("Fay", "Wong", "fay@x.org", 0)
		other := s.person("Fay", "Wong", "fwong@x.org", 0)

		change, err := s.engine.ChangeEmail(s.ctx, p.ID, other.Email, "")
		s.Require().NoError(err)
		s.True(change.Applied)
		s.Require().Len(change.Merges, 1)
		s.Equal(1, s.livePersons(p, other))
		s.Equal(other.Email, s.reload(change.Person).Email)
	})
}

func (s *EngineSuite) TestSyncPerson() {
	s.Run("skips records without a legacy id", func() {
		p := s.person("Ann", "Lee", "ann@x.org", 0)
		res, err := s.engine.SyncPerson(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(OutcomeSkipped, res.Outcome)
	})

	s.Run("skips persons the legacy source does not know", func() {
		p := s.person("Bo", "Lin", "bo@x.org", 11)
		s.legacy.EXPECT().GetPerson(gomock.Any(), int64(11)).Return(nil, nil)

		res, err := s.engine.SyncPerson(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(OutcomeSkipped, res.Outcome)
	})

	s.Run("reports legacy failures", func() {
		p := s.person("Cy", "Moe", "cy@x.org", 12)
		s.legacy.EXPECT().GetPerson(gomock.Any(), int64(12)).Return(nil, errors.New("connection refused"))
		s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, notice ports.AdminNotice) error {
				s.Equal("SyncPerson", notice.Source)
				s.Contains(notice.Report, "legacy id 12: connection refused")
				return nil
			})

		res, err := s.engine.SyncPerson(s.ctx, p.ID)
		s.Error(err)
		s.Equal(OutcomeFailed, res.Outcome)
	})

	s.Run("reconciles", func() {
		p := s.person("Dee", "Park", "dee@x.org", 13)
		newer := s.now.Add(-time.Minute)
		s.legacy.EXPECT().GetPerson(gomock.Any(), int64(13)).Return(&models.RemotePerson{
			LegacyID: 13, Email: "dee@x.org", Profile: models.Profile{Firstname: "Dee", Lastname: "Park", City: "Calgary"}, UpdatedAt: &newer,
		}, nil)

		res, err := s.engine.SyncPerson(s.ctx, p.ID)
		s.Require().NoError(err)
		s.Equal(OutcomeSynced, res.Outcome)
		s.Equal("Calgary", s.reload(p).City)
	})
}

func (s *EngineSuite) TestSyncBatch_ContinuesPastFailures() {
	ok := s.person("Ann", "Lee", "ann@x.org", 21)
	broken := s.person("Bo", "Lin", "bo@x.org", 22)
	unlinked := s.person("Cy", "Moe", "cy@x.org", 0)
	missing := id.NewPersonID()
	newer := s.now.Add(-time.Minute)

	s.legacy.EXPECT().GetPerson(gomock.Any(), int64(21)).Return(&models.RemotePerson{
		LegacyID: 21, Email: "ann@x.org", Profile: models.Profile{Firstname: "Ann", Lastname: "Lee", Country: "Canada"}, UpdatedAt: &newer,
	}, nil)
	s.legacy.EXPECT().GetPerson(gomock.Any(), int64(22)).Return(nil, errors.New("HTTP 502"))

	var notice ports.AdminNotice
	s.notifier.EXPECT().NotifyAdmin(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, n ports.AdminNotice) error {
			notice = n
			return nil
		})

	res, err := s.engine.SyncBatch(s.ctx, []id.PersonID{ok.ID, broken.ID, unlinked.ID, missing})
	s.Require().NoError(err)

	s.Len(res.Results, 4)
	s.Equal(1, res.Synced)
	s.Equal(1, res.Skipped)
	s.Equal(2, res.Failed)
	s.Equal("Canada", s.reload(ok).Country)
	s.Equal("SyncBatch", notice.Source)
	s.Equal("1", notice.Details["legacy_source_errors"])
	s.True(strings.Contains(notice.Report, "legacy id 22: HTTP 502"))
	s.Equal(float64(1), testutil.ToFloat64(s.metrics.SyncRecords.WithLabelValues(string(OutcomeSynced))))
}

func (s *EngineSuite) TestSyncStale_PicksOldLinkedRecords() {
	stale := s.person("Ann", "Lee", "ann@x.org", 31)
	fresh := s.person("Bo", "Lin", "bo@x.org", 32)
	fresh.UpdatedAt = s.now.Add(-time.Hour)
	s.Require().NoError(s.stores.Persons.Update(s.ctx, fresh))

	s.legacy.EXPECT().GetPerson(gomock.Any(), int64(31)).Return(&models.RemotePerson{LegacyID: 31, Email: stale.Email}, nil)

	res, err := s.engine.SyncStale(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(res.Results, 1)
	s.Equal(stale.ID, res.Results[0].PersonID)
}
