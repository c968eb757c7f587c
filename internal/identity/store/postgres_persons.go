package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"rollcall/internal/identity/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/tx"
)

var (
	profileColumns = func() []string {
		var p models.Profile
		var cols []string
		for _, f := range p.Fields() {
			cols = append(cols, f.Name)
		}
		return cols
	}()

	personColumns = append(append([]string{"id", "email", "legacy_id"}, profileColumns...),
		"invited_on", "invited_by", "updated_by",
		"deleted_at", "deleted_by", "deletion_reason",
		"created_at", "updated_at")

	personSelect = "SELECT " + strings.Join(personColumns, ", ") + " FROM people"
)

type pgPersons struct {
	db *sql.DB
}

func personArgs(p *models.Person) []any {
	args := []any{p.ID, p.Email, nullLegacyID(p.LegacyID)}
	for _, f := range p.Fields() {
		args = append(args, *f.Value)
	}
	return append(args,
		nullTime(p.InvitedOn), p.InvitedBy, p.UpdatedBy,
		nullTime(p.DeletedAt), p.DeletedBy, p.DeletionReason,
		p.CreatedAt, p.UpdatedAt)
}

func scanPerson(row rowScanner) (*models.Person, error) {
	var (
		p         models.Person
		legacyID  sql.NullInt64
		invitedOn sql.NullTime
		deletedAt sql.NullTime
	)
	dest := []any{&p.ID, &p.Email, &legacyID}
	for _, f := range p.Fields() {
		dest = append(dest, f.Value)
	}
	dest = append(dest,
		&invitedOn, &p.InvitedBy, &p.UpdatedBy,
		&deletedAt, &p.DeletedBy, &p.DeletionReason,
		&p.CreatedAt, &p.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	p.LegacyID = legacyID.Int64
	p.InvitedOn = timePtr(invitedOn)
	p.DeletedAt = timePtr(deletedAt)
	return &p, nil
}

func (s *pgPersons) query(ctx context.Context, op, where string, args ...any) ([]*models.Person, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, personSelect+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.Person
	for rows.Next() {
		p, err := scanPerson(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *pgPersons) Create(ctx context.Context, p *models.Person) error {
	query := "INSERT INTO people (" + strings.Join(personColumns, ", ") + ") VALUES (" +
		placeholders(1, len(personColumns)) + ")"
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, query, personArgs(p)...)
	return mapWriteErr("create person", err)
}

func (s *pgPersons) FindByID(ctx context.Context, personID id.PersonID) (*models.Person, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, personSelect+" WHERE id = $1", personID)
	p, err := scanPerson(row)
	if err != nil {
		return nil, mapReadErr("find person by id", "person", err)
	}
	return p, nil
}

func (s *pgPersons) FindByLegacyID(ctx context.Context, legacyID int64) (*models.Person, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		personSelect+" WHERE legacy_id = $1 ORDER BY (deleted_at IS NULL) DESC, created_at, id LIMIT 1", legacyID)
	p, err := scanPerson(row)
	if err != nil {
		return nil, mapReadErr("find person by legacy id", "person", err)
	}
	return p, nil
}

func (s *pgPersons) FindByEmail(ctx context.Context, email string) (*models.Person, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		personSelect+" WHERE email = $1 AND deleted_at IS NULL", email)
	p, err := scanPerson(row)
	if err != nil {
		return nil, mapReadErr("find person by email", "person", err)
	}
	return p, nil
}

func (s *pgPersons) ListByEmail(ctx context.Context, email string, excluding id.PersonID) ([]*models.Person, error) {
	return s.query(ctx, "list persons by email",
		"WHERE email = $1 AND id <> $2 AND deleted_at IS NULL ORDER BY created_at, id", email, excluding.String())
}

func (s *pgPersons) ListByLegacyID(ctx context.Context, legacyID int64, excluding id.PersonID) ([]*models.Person, error) {
	if legacyID == 0 {
		return nil, nil
	}
	return s.query(ctx, "list persons by legacy id",
		"WHERE legacy_id = $1 AND id <> $2 AND deleted_at IS NULL ORDER BY created_at, id", legacyID, excluding.String())
}

func (s *pgPersons) LockForUpdate(ctx context.Context, ids ...id.PersonID) ([]*models.Person, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]any, len(ids))
	for i, pid := range ids {
		args[i] = pid
	}
	return s.query(ctx, "lock persons",
		"WHERE id IN ("+placeholders(1, len(ids))+") ORDER BY id FOR UPDATE", args...)
}

func (s *pgPersons) Update(ctx context.Context, p *models.Person) error {
	var sets []string
	for i, col := range personColumns[1:] {
		sets = append(sets, fmt.Sprintf("%s = $%d", col, i+2))
	}
	query := "UPDATE people SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, query, personArgs(p)...)
	if err != nil {
		return mapWriteErr("update person", err)
	}
	return requireAffected(res, "person")
}

func (s *pgPersons) SoftDelete(ctx context.Context, personID id.PersonID, actor, reason string, at time.Time) error {
	if actor == "" {
		actor = "system"
	}
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE people
		SET deleted_at = $2, deleted_by = $3, deletion_reason = $4, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`, personID, at, actor, reason)
	if err != nil {
		return fmt.Errorf("soft delete person: %w", err)
	}
	return requireAffected(res, "person")
}

func (s *pgPersons) ListSyncCandidates(ctx context.Context, staleBefore time.Time, limit int) ([]*models.Person, error) {
	where := "WHERE deleted_at IS NULL AND legacy_id > 0 AND updated_at < $1 ORDER BY updated_at, id"
	args := []any{staleBefore}
	if limit > 0 {
		where += " LIMIT $2"
		args = append(args, limit)
	}
	return s.query(ctx, "list sync candidates", where, args...)
}
