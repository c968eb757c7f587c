package handler

import (
	"time"

	"rollcall/internal/identity/conflict"
	"rollcall/internal/identity/merge"
	"rollcall/internal/identity/models"
	"rollcall/internal/identity/personsync"
	"rollcall/internal/identity/scorer"
)

// PersonResponse is the admin view of a person. Profile holds only the
// non-blank attributes.
type PersonResponse struct {
	ID        string            `json:"id"`
	Email     string            `json:"email"`
	Name      string            `json:"name"`
	LegacyID  int64             `json:"legacy_id,omitempty"`
	Profile   map[string]string `json:"profile,omitempty"`
	InvitedOn *time.Time        `json:"invited_on,omitempty"`
	InvitedBy string            `json:"invited_by,omitempty"`
	UpdatedBy string            `json:"updated_by,omitempty"`
	DeletedAt *time.Time        `json:"deleted_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func FromPerson(p *models.Person) *PersonResponse {
	if p == nil {
		return nil
	}
	profile := make(map[string]string)
	for _, f := range p.Fields() {
		if *f.Value != "" {
			profile[f.Name] = *f.Value
		}
	}
	return &PersonResponse{
		ID:        p.ID.String(),
		Email:     p.Email,
		Name:      p.Name(),
		LegacyID:  p.LegacyID,
		Profile:   profile,
		InvitedOn: p.InvitedOn,
		InvitedBy: p.InvitedBy,
		UpdatedBy: p.UpdatedBy,
		DeletedAt: p.DeletedAt,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

// ConflictResponse omits the confirmation codes; they only travel in the
// confirmation message.
type ConflictResponse struct {
	ID                   string     `json:"id"`
	PersonAID            string     `json:"person_a_id"`
	PersonBID            string     `json:"person_b_id"`
	PersonAEmail         string     `json:"person_a_email"`
	PersonBEmail         string     `json:"person_b_email"`
	Confirmed            bool       `json:"confirmed"`
	Priority             string     `json:"priority"`
	HasRecentInvitations bool       `json:"has_recent_invitations"`
	BlockedReason        string     `json:"blocked_reason,omitempty"`
	ReviewedBy           string     `json:"reviewed_by,omitempty"`
	ReviewedAt           *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func FromConflict(c *models.Conflict) *ConflictResponse {
	if c == nil {
		return nil
	}
	return &ConflictResponse{
		ID:                   c.ID.String(),
		PersonAID:            c.PersonAID.String(),
		PersonBID:            c.PersonBID.String(),
		PersonAEmail:         c.PersonAEmail,
		PersonBEmail:         c.PersonBEmail,
		Confirmed:            c.Confirmed,
		Priority:             string(c.Priority),
		HasRecentInvitations: c.HasRecentInvitations,
		BlockedReason:        c.BlockedReason,
		ReviewedBy:           c.ReviewedBy,
		ReviewedAt:           c.ReviewedAt,
		CreatedAt:            c.CreatedAt,
		UpdatedAt:            c.UpdatedAt,
	}
}

func FromConflicts(cs []*models.Conflict) []*ConflictResponse {
	out := make([]*ConflictResponse, 0, len(cs))
	for _, c := range cs {
		out = append(out, FromConflict(c))
	}
	return out
}

type ConflictListResponse struct {
	Filter    string              `json:"filter"`
	Conflicts []*ConflictResponse `json:"conflicts"`
}

type CandidateResponse struct {
	Person     *PersonResponse    `json:"person"`
	Assessment *scorer.Assessment `json:"assessment"`
}

type RecommendationResponse struct {
	Keep       CandidateResponse `json:"keep"`
	Replace    CandidateResponse `json:"replace"`
	Reason     string            `json:"reason"`
	Confidence string            `json:"confidence"`
}

type ReviewResponse struct {
	Conflict         *ConflictResponse       `json:"conflict"`
	Recommendation   *RecommendationResponse `json:"recommendation,omitempty"`
	MissingPersonIDs []string                `json:"missing_person_ids,omitempty"`
	Related          []*ConflictResponse     `json:"related"`
	GroupSize        int                     `json:"group_size"`
}

func FromReview(r *conflict.Review) *ReviewResponse {
	resp := &ReviewResponse{
		Conflict:  FromConflict(r.Conflict),
		Related:   FromConflicts(r.Related),
		GroupSize: r.GroupSize,
	}
	for _, missing := range r.Missing {
		resp.MissingPersonIDs = append(resp.MissingPersonIDs, missing.String())
	}
	if rec := r.Recommendation; rec != nil {
		resp.Recommendation = &RecommendationResponse{
			Keep:       CandidateResponse{Person: FromPerson(rec.Keep.Person), Assessment: rec.Keep.Assessment},
			Replace:    CandidateResponse{Person: FromPerson(rec.Replace.Person), Assessment: rec.Replace.Assessment},
			Reason:     rec.Reason,
			Confidence: string(rec.Confidence),
		}
	}
	return resp
}

type MergeResponse struct {
	AuditID                 string `json:"audit_id"`
	TargetID                string `json:"target_id"`
	SourceID                string `json:"source_id"`
	MembershipsMoved        int    `json:"memberships_moved"`
	MembershipsDeduplicated int    `json:"memberships_deduplicated"`
	LecturesMoved           int    `json:"lectures_moved"`
	InvitationsMoved        int    `json:"invitations_moved"`
	InviterReferencesMoved  int    `json:"inviter_references_moved"`
	AccountAction           string `json:"account_action"`
	Details                 string `json:"details"`
}

func FromMergeResult(res *merge.Result) *MergeResponse {
	if res == nil {
		return nil
	}
	return &MergeResponse{
		AuditID:                 res.AuditID.String(),
		TargetID:                res.TargetID.String(),
		SourceID:                res.SourceID.String(),
		MembershipsMoved:        res.MembershipsMoved,
		MembershipsDeduplicated: res.MembershipsDeduplicated,
		LecturesMoved:           res.LecturesMoved,
		InvitationsMoved:        res.InvitationsMoved,
		InviterReferencesMoved:  res.InviterReferencesMoved,
		AccountAction:           string(res.AccountAction),
		Details:                 res.Details(),
	}
}

type ResolveResponse struct {
	Conflict *ConflictResponse `json:"conflict"`
	Action   string            `json:"action"`
	Kept     *PersonResponse   `json:"kept,omitempty"`
	Replaced *PersonResponse   `json:"replaced,omitempty"`
	Merge    *MergeResponse    `json:"merge,omitempty"`
}

func FromResolveResult(res *conflict.ResolveResult) *ResolveResponse {
	return &ResolveResponse{
		Conflict: FromConflict(res.Conflict),
		Action:   string(res.Action),
		Kept:     FromPerson(res.Kept),
		Replaced: FromPerson(res.Replaced),
		Merge:    FromMergeResult(res.Merge),
	}
}

// EmailChangeResponse reports the policy outcome. Applied is false when the
// change is waiting on conflict review.
type EmailChangeResponse struct {
	Person    *PersonResponse     `json:"person"`
	Applied   bool                `json:"applied"`
	Merges    []*MergeResponse    `json:"merges"`
	Conflicts []*ConflictResponse `json:"conflicts"`
}

func FromEmailChange(c *personsync.EmailChange) *EmailChangeResponse {
	resp := &EmailChangeResponse{
		Person:    FromPerson(c.Person),
		Applied:   c.Applied,
		Merges:    make([]*MergeResponse, 0, len(c.Merges)),
		Conflicts: FromConflicts(c.Conflicts),
	}
	for _, m := range c.Merges {
		resp.Merges = append(resp.Merges, FromMergeResult(m))
	}
	return resp
}

type SyncResponse struct {
	PersonID string          `json:"person_id"`
	Outcome  string          `json:"outcome"`
	Reason   string          `json:"reason,omitempty"`
	Person   *PersonResponse `json:"person,omitempty"`
}

func FromSyncResult(res personsync.SyncResult) *SyncResponse {
	return &SyncResponse{
		PersonID: res.PersonID.String(),
		Outcome:  string(res.Outcome),
		Reason:   res.Reason,
		Person:   FromPerson(res.Person),
	}
}

type AuditResponse struct {
	ID                  string    `json:"id"`
	SourcePersonID      string    `json:"source_person_id"`
	TargetPersonID      string    `json:"target_person_id"`
	SourceEmail         string    `json:"source_email"`
	TargetEmail         string    `json:"target_email"`
	AffectedMemberships []string  `json:"affected_memberships"`
	AffectedInvitations []string  `json:"affected_invitations"`
	Reason              string    `json:"reason,omitempty"`
	InitiatedBy         string    `json:"initiated_by"`
	Completed           bool      `json:"completed"`
	ErrorMessage        string    `json:"error_message,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func FromAudit(rec *models.MergeAuditRecord) *AuditResponse {
	resp := &AuditResponse{
		ID:                  rec.ID.String(),
		SourcePersonID:      rec.SourcePersonID.String(),
		TargetPersonID:      rec.TargetPersonID.String(),
		SourceEmail:         rec.SourceEmail,
		TargetEmail:         rec.TargetEmail,
		AffectedMemberships: make([]string, 0, len(rec.AffectedMemberships)),
		AffectedInvitations: make([]string, 0, len(rec.AffectedInvitations)),
		Reason:              rec.Reason,
		InitiatedBy:         rec.InitiatedBy,
		Completed:           rec.Completed,
		ErrorMessage:        rec.ErrorMessage,
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.UpdatedAt,
	}
	for _, m := range rec.AffectedMemberships {
		resp.AffectedMemberships = append(resp.AffectedMemberships, m.String())
	}
	for _, inv := range rec.AffectedInvitations {
		resp.AffectedInvitations = append(resp.AffectedInvitations, inv.String())
	}
	return resp
}

func FromAudits(recs []*models.MergeAuditRecord) []*AuditResponse {
	out := make([]*AuditResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, FromAudit(rec))
	}
	return out
}

type AuditListResponse struct {
	Filter string           `json:"filter"`
	Audits []*AuditResponse `json:"audits"`
}
