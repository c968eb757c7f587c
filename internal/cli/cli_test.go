package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"rollcall/internal/app"
	"rollcall/internal/identity/handler"
	"rollcall/internal/identity/models"
	"rollcall/internal/platform/config"
	"rollcall/internal/platform/logger"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/middleware/admin"
)

type CLISuite struct {
	suite.Suite
	app *app.App
	ctx context.Context
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLISuite))
}

func (s *CLISuite) SetupTest() {
	s.ctx = context.Background()
	a, err := app.Build(s.ctx, config.Default(), logger.Discard(), app.Options{
		AllowMemoryStore: true,
		InlineDispatch:   true,
	})
	s.Require().NoError(err)
	s.app = a
}

func (s *CLISuite) run(args ...string) (string, error) {
	root := NewRootCmd(func(context.Context) (*app.App, error) { return s.app, nil })
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--as", "ops@example.org"}, args...))
	err := root.ExecuteContext(s.ctx)
	return out.String(), err
}

func (s *CLISuite) person(first, email string) *models.Person {
	now := time.Now().UTC().Add(-72 * time.Hour)
	p := &models.Person{
		ID:        id.NewPersonID(),
		Email:     email,
		Profile:   models.Profile{Firstname: first, Lastname: "Doe"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.Require().NoError(s.app.Stores.Persons.Create(s.ctx, p))
	return p
}

func (s *CLISuite) TestMergeAndAudits() {
	target := s.person("Jane", "jane@x.org")
	source := s.person("Jane", "jd@x.org")

	out, err := s.run("merge", target.ID.String(), source.ID.String(), "--reason", "same person")
	s.Require().NoError(err, out)
	var merged handler.MergeResponse
	s.Require().NoError(json.Unmarshal([]byte(out), &merged))
	s.Equal(source.ID.String(), merged.SourceID)

	out, err = s.run("audits", "--person", source.ID.String())
	s.Require().NoError(err, out)
	var audits handler.AuditListResponse
	s.Require().NoError(json.Unmarshal([]byte(out), &audits))
	s.Require().Len(audits.Audits, 1)
	s.Equal("ops@example.org", audits.Audits[0].InitiatedBy)
	s.True(audits.Audits[0].Completed)
}

func (s *CLISuite) TestMergeFailureIsReturned() {
	p := s.person("Jane", "jane@x.org")
	_, err := s.run("merge", p.ID.String(), p.ID.String())
	s.Require().Error(err)
	s.Contains(err.Error(), "merge failed")
}

func (s *CLISuite) TestEmailConflictThenResolve() {
	p := s.person("Jane", "jane@y.org")
	s.person("John", "taken@y.org")

	out, err := s.run("email", p.ID.String(), "taken@y.org")
	s.Require().NoError(err, out)
	var change handler.EmailChangeResponse
	s.Require().NoError(json.Unmarshal([]byte(out), &change))
	s.False(change.Applied)
	s.Require().Len(change.Conflicts, 1)
	conflictID := change.Conflicts[0].ID

	out, err = s.run("conflicts")
	s.Require().NoError(err, out)
	var list handler.ConflictListResponse
	s.Require().NoError(json.Unmarshal([]byte(out), &list))
	s.Len(list.Conflicts, 1)

	out, err = s.run("conflicts", "show", conflictID)
	s.Require().NoError(err, out)
	s.Contains(out, `"recommendation"`)

	out, err = s.run("resolve", conflictID, "--action", "reject", "--reason", "different people")
	s.Require().NoError(err, out)
	var resolved handler.ResolveResponse
	s.Require().NoError(json.Unmarshal([]byte(out), &resolved))
	s.True(resolved.Conflict.Confirmed)

	out, err = s.run("conflicts", "stats")
	s.Require().NoError(err, out)
	var stats models.ConflictStats
	s.Require().NoError(json.Unmarshal([]byte(out), &stats))
	s.Equal(0, stats.Pending)
	s.Equal(1, stats.Resolved)
}

func (s *CLISuite) TestArgumentErrors() {
	_, err := s.run("resolve", id.NewConflictID().String())
	s.Error(err, "--action is required")

	_, err = s.run("resolve", id.NewConflictID().String(), "--action", "shrug")
	s.Error(err)

	_, err = s.run("conflicts", "--filter", "everything")
	s.Error(err)

	_, err = s.run("sync")
	s.Error(err, "needs ids or --stale")

	_, err = s.run("merge", "nope", id.NewPersonID().String())
	s.Error(err)
}

func (s *CLISuite) TestSyncWithoutLegacySource() {
	p := s.person("Jane", "sync@x.org")
	p.LegacyID = 7
	s.Require().NoError(s.app.Stores.Persons.Update(s.ctx, p))

	_, err := s.run("sync", p.ID.String())
	s.Error(err, "legacy source is not configured")
}

func (s *CLISuite) TestTokenIssuesVerifiableToken() {
	_, err := s.run("token")
	s.Error(err, "secret not configured")

	const secret = "0123456789abcdef0123456789abcdef"
	s.app.Config.Server.AdminJWTSecret = secret
	out, err := s.run("token", "--ttl", "1h")
	s.Require().NoError(err)

	tokens, err := admin.NewOperatorTokens(secret)
	s.Require().NoError(err)
	actor, err := tokens.Verify(strings.TrimSpace(out))
	s.Require().NoError(err)
	s.Equal("ops@example.org", actor)
}
