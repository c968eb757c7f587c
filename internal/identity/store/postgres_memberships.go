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

const membershipSelect = `SELECT id, person_id, event_id, role, attendance,
	deleted_at, deleted_by, deletion_reason, created_at, updated_at FROM memberships`

type pgMemberships struct {
	db *sql.DB
}

func scanMembership(row rowScanner) (*models.Membership, error) {
	var (
		m         models.Membership
		deletedAt sql.NullTime
	)
	err := row.Scan(&m.ID, &m.PersonID, &m.EventID, &m.Role, &m.Attendance,
		&deletedAt, &m.DeletedBy, &m.DeletionReason, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.DeletedAt = timePtr(deletedAt)
	return &m, nil
}

func (s *pgMemberships) Create(ctx context.Context, m *models.Membership) error {
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO memberships (id, person_id, event_id, role, attendance,
			deleted_at, deleted_by, deletion_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.PersonID, m.EventID, m.Role, m.Attendance,
		nullTime(m.DeletedAt), m.DeletedBy, m.DeletionReason, m.CreatedAt, m.UpdatedAt)
	return mapWriteErr("create membership", err)
}

func (s *pgMemberships) ListByPerson(ctx context.Context, personID id.PersonID) ([]*models.Membership, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx,
		membershipSelect+" WHERE person_id = $1 AND deleted_at IS NULL ORDER BY created_at, id", personID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	var out []*models.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("list memberships: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return out, nil
}

func (s *pgMemberships) FindByPersonAndEvent(ctx context.Context, personID id.PersonID, eventID id.EventID) (*models.Membership, error) {
	row := tx.Pick(ctx, s.db).QueryRowContext(ctx,
		membershipSelect+" WHERE person_id = $1 AND event_id = $2 AND deleted_at IS NULL", personID, eventID)
	m, err := scanMembership(row)
	if err != nil {
		return nil, mapReadErr("find membership", "membership", err)
	}
	return m, nil
}

func (s *pgMemberships) Reassign(ctx context.Context, membershipID id.MembershipID, personID id.PersonID, at time.Time) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE memberships SET person_id = $2, updated_at = $3
		WHERE id = $1 AND deleted_at IS NULL`, membershipID, personID, at)
	if err != nil {
		return mapWriteErr("reassign membership", err)
	}
	return requireAffected(res, "membership")
}

func (s *pgMemberships) SoftDelete(ctx context.Context, membershipID id.MembershipID, actor, reason string, at time.Time) error {
	if actor == "" {
		actor = "system"
	}
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		UPDATE memberships
		SET deleted_at = $2, deleted_by = $3, deletion_reason = $4, updated_at = $2
		WHERE id = $1 AND deleted_at IS NULL`, membershipID, at, actor, reason)
	if err != nil {
		return fmt.Errorf("soft delete membership: %w", err)
	}
	return requireAffected(res, "membership")
}

type pgInvitations struct {
	db *sql.DB
}

func (s *pgInvitations) Create(ctx context.Context, inv *models.Invitation) error {
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO invitations (id, membership_id, invited_by_id, code, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		inv.ID, inv.MembershipID, inv.InvitedByID, inv.Code, inv.CreatedAt)
	return mapWriteErr("create invitation", err)
}

func (s *pgInvitations) ListByMemberships(ctx context.Context, membershipIDs []id.MembershipID) ([]*models.Invitation, error) {
	if len(membershipIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(membershipIDs))
	for i, mid := range membershipIDs {
		args[i] = mid
	}
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, `
		SELECT id, membership_id, invited_by_id, code, created_at FROM invitations
		WHERE membership_id IN (`+placeholders(1, len(args))+`) ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	defer rows.Close()

	var out []*models.Invitation
	for rows.Next() {
		var inv models.Invitation
		if err := rows.Scan(&inv.ID, &inv.MembershipID, &inv.InvitedByID, &inv.Code, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("list invitations: scan: %w", err)
		}
		out = append(out, &inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return out, nil
}

func (s *pgInvitations) MoveToMembership(ctx context.Context, from, to id.MembershipID) (int, error) {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx,
		`UPDATE invitations SET membership_id = $2 WHERE membership_id = $1`, from, to)
	if err != nil {
		return 0, fmt.Errorf("move invitations: %w", err)
	}
	return affected(res)
}

func (s *pgInvitations) ReassignInviter(ctx context.Context, from, to id.PersonID) (int, error) {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx,
		`UPDATE invitations SET invited_by_id = $2 WHERE invited_by_id = $1`, from, to)
	if err != nil {
		return 0, fmt.Errorf("reassign inviter: %w", err)
	}
	return affected(res)
}

func (s *pgInvitations) ExistsForPersonSince(ctx context.Context, personID id.PersonID, since time.Time) (bool, error) {
	var exists bool
	err := tx.Pick(ctx, s.db).QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM invitations i
			JOIN memberships m ON m.id = i.membership_id
			WHERE m.person_id = $1 AND m.deleted_at IS NULL AND i.created_at > $2
		)`, personID, since).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check recent invitations: %w", err)
	}
	return exists, nil
}

type pgLectures struct {
	db *sql.DB
}

func (s *pgLectures) Create(ctx context.Context, l *models.Lecture) error {
	_, err := tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO lectures (id, person_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`, l.ID, l.PersonID, l.Title, l.CreatedAt, l.UpdatedAt)
	return mapWriteErr("create lecture", err)
}

func (s *pgLectures) ListByPerson(ctx context.Context, personID id.PersonID) ([]*models.Lecture, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, `
		SELECT id, person_id, title, created_at, updated_at FROM lectures
		WHERE person_id = $1 ORDER BY created_at, id`, personID)
	if err != nil {
		return nil, fmt.Errorf("list lectures: %w", err)
	}
	defer rows.Close()

	var out []*models.Lecture
	for rows.Next() {
		var l models.Lecture
		if err := rows.Scan(&l.ID, &l.PersonID, &l.Title, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list lectures: scan: %w", err)
		}
		out = append(out, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list lectures: %w", err)
	}
	return out, nil
}

func (s *pgLectures) Reassign(ctx context.Context, from, to id.PersonID, at time.Time) (int, error) {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx,
		`UPDATE lectures SET person_id = $2, updated_at = $3 WHERE person_id = $1`, from, to, at)
	if err != nil {
		return 0, fmt.Errorf("reassign lectures: %w", err)
	}
	return affected(res)
}
