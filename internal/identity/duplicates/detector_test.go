package duplicates

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/identity/models"
	"rollcall/internal/identity/store"
	id "rollcall/pkg/domain"
)

func TestDetector(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory().Stores()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	self := &models.Person{ID: id.NewPersonID(), Email: "self@example.org", LegacyID: 9, CreatedAt: base}
	older := &models.Person{ID: id.NewPersonID(), Email: "shared@example.org", LegacyID: 7, CreatedAt: base.Add(-time.Hour)}
	gone := &models.Person{ID: id.NewPersonID(), Email: "gone@example.org", LegacyID: 7, CreatedAt: base}
	for _, p := range []*models.Person{self, older, gone} {
		require.NoError(t, s.Persons.Create(ctx, p))
	}
	require.NoError(t, s.Persons.SoftDelete(ctx, gone.ID, "", "merged", base))

	d := New(s.Persons)

	t.Run("email is normalized", func(t *testing.T) {
		found, err := d.FindOther(ctx, "  Shared@Example.ORG ", self.ID)
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, older.ID, found.ID)
	})

	t.Run("excluding self", func(t *testing.T) {
		found, err := d.FindOther(ctx, "self@example.org", self.ID)
		require.NoError(t, err)
		assert.Nil(t, found)
	})

	t.Run("blank email finds nothing", func(t *testing.T) {
		all, err := d.FindAllOthers(ctx, " ", self.ID)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("legacy id skips deleted persons", func(t *testing.T) {
		all, err := d.FindAllOthersByLegacyID(ctx, 7, self.ID)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, older.ID, all[0].ID)

		none, err := d.FindOtherByLegacyID(ctx, 0, self.ID)
		require.NoError(t, err)
		assert.Nil(t, none)
	})
}
