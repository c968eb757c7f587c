package mergeaudit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/identity/models"
	"rollcall/internal/identity/store"
	id "rollcall/pkg/domain"
	dErrors "rollcall/pkg/domain-errors"
	"rollcall/pkg/requestcontext"
)

func TestReader(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	audits := store.NewMemory().Stores().Audits
	person := id.NewPersonID()

	record := func(age time.Duration, source id.PersonID) *models.MergeAuditRecord {
		rec := &models.MergeAuditRecord{
			ID:             id.NewAuditID(),
			SourcePersonID: source,
			TargetPersonID: id.NewPersonID(),
			SourceEmail:    "source@example.org",
			TargetEmail:    "target@example.org",
			InitiatedBy:    "admin",
			CreatedAt:      now.Add(-age),
			UpdatedAt:      now.Add(-age),
		}
		require.NoError(t, audits.Create(ctx, rec))
		return rec
	}

	completed := record(time.Hour, person)
	require.NoError(t, audits.MarkCompleted(ctx, completed.ID, now))
	failed := record(48*time.Hour, id.NewPersonID())
	require.NoError(t, audits.MarkFailed(ctx, failed.ID, "merge transaction failed", now))
	old := record(10*24*time.Hour, id.NewPersonID())
	require.NoError(t, audits.MarkCompleted(ctx, old.ID, now))

	r := New(audits)

	t.Run("recent uses the default window", func(t *testing.T) {
		recs, err := r.Recent(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []id.AuditID{completed.ID, failed.ID}, auditIDs(recs))
	})

	t.Run("recent honours an explicit window", func(t *testing.T) {
		recs, err := r.Recent(ctx, 2*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, []id.AuditID{completed.ID}, auditIDs(recs))
	})

	t.Run("configured window", func(t *testing.T) {
		recs, err := New(audits, WithRecentWindow(30*24*time.Hour)).List(ctx, models.AuditRecent)
		require.NoError(t, err)
		assert.Len(t, recs, 3)
	})

	t.Run("failed and completed", func(t *testing.T) {
		recs, err := r.List(ctx, models.AuditFailed)
		require.NoError(t, err)
		assert.Equal(t, []id.AuditID{failed.ID}, auditIDs(recs))

		recs, err = r.List(ctx, models.AuditCompleted)
		require.NoError(t, err)
		assert.ElementsMatch(t, []id.AuditID{completed.ID, old.ID}, auditIDs(recs))
	})

	t.Run("for person", func(t *testing.T) {
		recs, err := r.ForPerson(ctx, person)
		require.NoError(t, err)
		assert.Equal(t, []id.AuditID{completed.ID}, auditIDs(recs))

		_, err = r.ForPerson(ctx, id.PersonID{})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("get", func(t *testing.T) {
		rec, err := r.Get(ctx, failed.ID)
		require.NoError(t, err)
		assert.True(t, rec.Failed())

		_, err = r.Get(ctx, id.NewAuditID())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	t.Run("unknown filter", func(t *testing.T) {
		_, err := r.List(ctx, models.AuditFilter("stale"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func auditIDs(recs []*models.MergeAuditRecord) []id.AuditID {
	out := make([]id.AuditID, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
