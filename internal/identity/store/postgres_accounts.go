package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rollcall/internal/identity/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/tx"
)

const accountSelect = `SELECT id, person_id, email, active, deactivated_at, deactivation_reason,
	created_at, updated_at FROM accounts`

type pgAccounts struct {
	db *sql.DB
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var (
		a             models.Account
		deactivatedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.PersonID, &a.Email, &a.Active, &deactivatedAt, &a.DeactivationReason,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.DeactivatedAt = timePtr(deactivatedAt)
	return &a, nil
}

func (s *pgAccounts) Create(ctx context.Context, a *models.Account) error {
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO accounts (id, person_id, email, active, deactivated_at, deactivation_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.PersonID, a.Email, a.Active, nullTime(a.DeactivatedAt), a.DeactivationReason, a.CreatedAt, a.UpdatedAt)
	return mapWriteErr("create account", err)
}

func (s *pgAccounts) FindActiveByPerson(ctx context.Context, personID id.PersonID) (*models.Account, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, accountSelect+" WHERE person_id = $1 AND active", personID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, mapReadErr("find account by person", "account", err)
	}
	return a, nil
}

func (s *pgAccounts) FindActiveByEmail(ctx context.Context, email string) (*models.Account, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		accountSelect+" WHERE email = $1 AND active ORDER BY created_at, id LIMIT 1", email)
	a, err := scanAccount(row)
	if err != nil {
		return nil, mapReadErr("find account by email", "account", err)
	}
	return a, nil
}

func (s *pgAccounts) Relink(ctx context.Context, accountID id.AccountID, personID id.PersonID, email string, at time.Time) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE accounts SET person_id = $2, email = $3, updated_at = $4 WHERE id = $1`,
		accountID, personID, email, at)
	if err != nil {
		return mapWriteErr("relink account", err)
	}
	return requireAffected(res, "account")
}

func (s *pgAccounts) Deactivate(ctx context.Context, accountID id.AccountID, reason string, at time.Time) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE accounts SET active = FALSE, deactivated_at = $2, deactivation_reason = $3, updated_at = $2
		WHERE id = $1`, accountID, at, reason)
	if err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	return requireAffected(res, "account")
}
