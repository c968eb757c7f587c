package tx

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrom(t *testing.T) {
	t.Run("empty context has no transaction", func(t *testing.T) {
		_, ok := From(context.Background())
		assert.False(t, ok)
	})

	t.Run("nil transaction is ignored", func(t *testing.T) {
		ctx := WithTx(context.Background(), nil)
		_, ok := From(ctx)
		assert.False(t, ok)
	})

	t.Run("stored transaction is returned", func(t *testing.T) {
		sqlTx := &sql.Tx{}
		ctx := WithTx(context.Background(), sqlTx)
		got, ok := From(ctx)
		assert.True(t, ok)
		assert.Same(t, sqlTx, got)
	})

	t.Run("detach hides the transaction", func(t *testing.T) {
		ctx := Detach(WithTx(context.Background(), &sql.Tx{}))
		_, ok := From(ctx)
		assert.False(t, ok)
	})
}

func TestPick(t *testing.T) {
	db := &sql.DB{}
	assert.Same(t, db, Pick(context.Background(), db))

	sqlTx := &sql.Tx{}
	assert.Same(t, sqlTx, Pick(WithTx(context.Background(), sqlTx), db))
}
