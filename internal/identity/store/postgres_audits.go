package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"rollcall/internal/identity/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
	"rollcall/pkg/platform/tx"
)

const auditSelect = `SELECT id, source_person_id, target_person_id, source_email, target_email,
	affected_memberships, affected_invitations, reason, initiated_by, completed, error_message,
	created_at, updated_at FROM merge_audits`

type pgAudits struct {
	db *sql.DB
}

func scanAudit(row rowScanner) (*models.MergeAuditRecord, error) {
	var (
		rec         models.MergeAuditRecord
		memberships []byte
		invitations []byte
		errMsg      sql.NullString
	)
	err := row.Scan(&rec.ID, &rec.SourcePersonID, &rec.TargetPersonID, &rec.SourceEmail, &rec.TargetEmail,
		&memberships, &invitations, &rec.Reason, &rec.InitiatedBy, &rec.Completed, &errMsg,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(memberships, &rec.AffectedMemberships); err != nil {
		return nil, fmt.Errorf("decode affected memberships: %w", err)
	}
	if err := json.Unmarshal(invitations, &rec.AffectedInvitations); err != nil {
		return nil, fmt.Errorf("decode affected invitations: %w", err)
	}
	rec.ErrorMessage = errMsg.String
	return &rec, nil
}

func encodeIDs[T any](ids []T) ([]byte, error) {
	if ids == nil {
		ids = []T{}
	}
	return json.Marshal(ids)
}

func (s *pgAudits) Create(ctx context.Context, rec *models.MergeAuditRecord) error {
	memberships, err := encodeIDs(rec.AffectedMemberships)
	if err != nil {
		return fmt.Errorf("create merge audit: %w", err)
	}
	invitations, err := encodeIDs(rec.AffectedInvitations)
	if err != nil {
		return fmt.Errorf("create merge audit: %w", err)
	}
	initiatedBy := rec.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = "system"
	}
	var errMsg sql.NullString
	if rec.ErrorMessage != "" {
		errMsg = sql.NullString{String: rec.ErrorMessage, Valid: true}
	}
	_, err = tx.Pick(ctx, s.db).ExecContext(ctx, `
		INSERT INTO merge_audits (id, source_person_id, target_person_id, source_email, target_email,
			affected_memberships, affected_invitations, reason, initiated_by, completed, error_message,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::jsonb, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.SourcePersonID, rec.TargetPersonID, rec.SourceEmail, rec.TargetEmail,
		string(memberships), string(invitations), rec.Reason, initiatedBy, rec.Completed, errMsg,
		rec.CreatedAt, rec.UpdatedAt)
	return mapWriteErr("create merge audit", err)
}

// finalize applies a single completion transition; an already finalized row
// yields sentinel.ErrInvalidState.
func (s *pgAudits) finalize(ctx context.Context, op string, auditID id.AuditID, query string, args ...any) error {
	res, err := tx.Pick(ctx, s.db).ExecContext(ctx, query, append([]any{auditID}, args...)...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.FindByID(ctx, auditID); err != nil {
		return err
	}
	return fmt.Errorf("%s: %w", op, sentinel.ErrInvalidState)
}

func (s *pgAudits) SetAffected(ctx context.Context, auditID id.AuditID, memberships []id.MembershipID, invitations []id.InvitationID, at time.Time) error {
	encodedMemberships, err := encodeIDs(memberships)
	if err != nil {
		return fmt.Errorf("set affected rows: %w", err)
	}
	encodedInvitations, err := encodeIDs(invitations)
	if err != nil {
		return fmt.Errorf("set affected rows: %w", err)
	}
	return s.finalize(ctx, "set affected rows", auditID, `
		UPDATE merge_audits SET affected_memberships = $2::jsonb, affected_invitations = $3::jsonb, updated_at = $4
		WHERE id = $1 AND NOT completed AND error_message IS NULL`,
		string(encodedMemberships), string(encodedInvitations), at)
}

func (s *pgAudits) MarkCompleted(ctx context.Context, auditID id.AuditID, at time.Time) error {
	return s.finalize(ctx, "complete merge audit", auditID, `
		UPDATE merge_audits SET completed = TRUE, updated_at = $2
		WHERE id = $1 AND NOT completed AND error_message IS NULL`, at)
}

func (s *pgAudits) MarkFailed(ctx context.Context, auditID id.AuditID, message string, at time.Time) error {
	return s.finalize(ctx, "fail merge audit", auditID, `
		UPDATE merge_audits SET error_message = $2, updated_at = $3
		WHERE id = $1 AND NOT completed AND error_message IS NULL`, message, at)
}

func (s *pgAudits) FindByID(ctx context.Context, auditID id.AuditID) (*models.MergeAuditRecord, error) {
	rec, err := scanAudit(tx.Pick(ctx, s.db).QueryRowContext(ctx, auditSelect+" WHERE id = $1", auditID))
	if err != nil {
		return nil, mapReadErr("find merge audit", "merge audit", err)
	}
	return rec, nil
}

func (s *pgAudits) list(ctx context.Context, op, where string, args ...any) ([]*models.MergeAuditRecord, error) {
	rows, err := tx.Pick(ctx, s.db).QueryContext(ctx, auditSelect+" "+where+" ORDER BY created_at DESC, id DESC", args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*models.MergeAuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

func (s *pgAudits) ListSince(ctx context.Context, since time.Time) ([]*models.MergeAuditRecord, error) {
	return s.list(ctx, "list recent merge audits", "WHERE created_at > $1", since)
}

func (s *pgAudits) ListFailed(ctx context.Context) ([]*models.MergeAuditRecord, error) {
	return s.list(ctx, "list failed merge audits", "WHERE NOT completed AND error_message IS NOT NULL")
}

func (s *pgAudits) ListCompleted(ctx context.Context) ([]*models.MergeAuditRecord, error) {
	return s.list(ctx, "list completed merge audits", "WHERE completed")
}

func (s *pgAudits) ListForPerson(ctx context.Context, personID id.PersonID) ([]*models.MergeAuditRecord, error) {
	return s.list(ctx, "list merge audits for person",
		"WHERE source_person_id = $1 OR target_person_id = $1", personID)
}
