package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rollcall/internal/identity/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
)

const conflictColumns = `id, person_a_id, person_b_id, person_a_email, person_b_email,
	person_a_code, person_b_code, confirmed, priority, has_recent_invitations, blocked_reason,
	reviewed_by, reviewed_at, created_at, updated_at`

const conflictSelect = "SELECT " + conflictColumns + " FROM email_conflicts"

type pgConflicts struct {
	db *sql.DB
}

func scanConflict(row rowScanner) (*models.Conflict, error) {
	var (
		c          models.Conflict
		reviewedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.PersonAID, &c.PersonBID, &c.PersonAEmail, &c.PersonBEmail,
		&c.PersonACode, &c.PersonBCode, &c.Confirmed, &c.Priority, &c.HasRecentInvitations, &c.BlockedReason,
		&c.ReviewedBy, &reviewedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.ReviewedAt = timePtr(reviewedAt)
	return &c, nil
}

func (s *pgConflicts) list(ctx context.Context, op, where string, args ...any) ([]*models.Conflict, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, conflictSelect+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.Conflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// CreateIfAbsent relies on the partial unique index over the unordered pair.
// A concurrent insert for the same pair loses the race and reads the winner.
func (s *pgConflicts) CreateIfAbsent(ctx context.Context, c *models.Conflict) (*models.Conflict, bool, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO email_conflicts (`+conflictColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT DO NOTHING
		RETURNING `+conflictColumns,
		c.ID, c.PersonAID, c.PersonBID, c.PersonAEmail, c.PersonBEmail,
		c.PersonACode, c.PersonBCode, c.Confirmed, string(c.Priority), c.HasRecentInvitations, c.BlockedReason,
		c.ReviewedBy, nullTime(c.ReviewedAt), c.CreatedAt, c.UpdatedAt)
	stored, err := scanConflict(row)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, mapWriteErr("create conflict", err)
	}

	existing, err := s.FindOpenByPair(ctx, c.PersonAID, c.PersonBID)
	if err != nil {
		return nil, false, fmt.Errorf("create conflict: load existing: %w", err)
	}
	return existing, false, nil
}

func (s *pgConflicts) FindByID(ctx context.Context, conflictID id.ConflictID) (*models.Conflict, error) {
	c, err := scanConflict(tx.Pick(ctx, s.db).QueryRowContext(ctx, conflictSelect+" WHERE id = $1", conflictID))
	if err != nil {
		return nil, mapReadErr("find conflict", "conflict", err)
	}
	return c, nil
}

func (s *pgConflicts) FindOpenByPair(ctx context.Context, a, b id.PersonID) (*models.Conflict, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx, conflictSelect+`
		WHERE NOT confirmed
		AND ((person_a_id = $1 AND person_b_id = $2) OR (person_a_id = $2 AND person_b_id = $1))`, a, b)
	c, err := scanConflict(row)
	if err != nil {
		return nil, mapReadErr("find conflict by pair", "conflict", err)
	}
	return c, nil
}

func (s *pgConflicts) List(ctx context.Context, filter models.ConflictFilter) ([]*models.Conflict, error) {
	var where string
	switch filter {
	case models.FilterPending:
		where = "WHERE NOT confirmed"
	case models.FilterResolved:
		where = "WHERE confirmed"
	case models.FilterHighPriority:
		where = "WHERE NOT confirmed AND priority = 'high'"
	case models.FilterRecentInvitations:
		where = "WHERE NOT confirmed AND has_recent_invitations"
	}
	return s.list(ctx, "list conflicts", where+" ORDER BY created_at DESC, id DESC")
}

func (s *pgConflicts) ListOpenByEmails(ctx context.Context, emails []string, excluding id.ConflictID) ([]*models.Conflict, error) {
	var filtered []any
	for _, e := range emails {
		if e != "" {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == 0 {
		return nil, nil
	}
	in := placeholders(2, len(filtered))
	args := append([]any{excluding.String()}, filtered...)
	return s.list(ctx, "list conflicts by email",
		"WHERE NOT confirmed AND id <> $1 AND (person_a_email IN ("+in+") OR person_b_email IN ("+in+")) ORDER BY created_at, id",
		args...)
}

func (s *pgConflicts) Stats(ctx context.Context) (models.ConflictStats, error) {
	var st models.ConflictStats
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE NOT confirmed),
			COUNT(*) FILTER (WHERE confirmed),
			COUNT(*) FILTER (WHERE NOT confirmed AND priority = 'high'),
			COUNT(*) FILTER (WHERE NOT confirmed AND has_recent_invitations),
			COUNT(*)
		FROM email_conflicts`).Scan(&st.Pending, &st.Resolved, &st.HighPriority, &st.RecentInvitations, &st.Total)
	if err != nil {
		return st, fmt.Errorf("conflict stats: %w", err)
	}
	return st, nil
}

func (s *pgConflicts) Resolve(ctx context.Context, c *models.Conflict) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE email_conflicts
		SET confirmed = $2, blocked_reason = $3, reviewed_by = $4, reviewed_at = $5, updated_at = $6
		WHERE id = $1 AND NOT confirmed`,
		c.ID, c.Confirmed, c.BlockedReason, c.ReviewedBy, nullTime(c.ReviewedAt), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("resolve conflict: %w", err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.FindByID(ctx, c.ID); err != nil {
		return err
	}
	return fmt.Errorf("resolve conflict: %w", sentinel.ErrInvalidState)
}
