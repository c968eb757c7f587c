//go:generate mockgen -source=collaborators.go -destination=mocks/mocks.go -package=mocks

package ports

import (
	"context"
	"time"

	"rollcall/internal/identity/models"
	id "rollcall/pkg/domain"
)

// LegacySource is the authoritative upstream person directory.
type LegacySource interface {
	// GetPerson returns nil, nil when the legacy source has no such person.
	GetPerson(ctx context.Context, legacyID int64) (*models.RemotePerson, error)
	// ReplacePerson tells the legacy source that oldLegacyID was merged
	// into newLegacyID.
	ReplacePerson(ctx context.Context, oldLegacyID, newLegacyID int64) error
}

// AdminNotice is a problem report sent to staff.
type AdminNotice struct {
	Problem string
	Source  string
	// Details carries identifying context such as names, ids and emails.
	Details map[string]string
	Error   string
	// Report is a pre-rendered multi-record report, when there is one.
	Report string
}

// Notifier delivers confirmation requests and staff reports.
type Notifier interface {
	SendConfirmation(ctx context.Context, c *models.Conflict) error
	NotifyAdmin(ctx context.Context, notice AdminNotice) error
}

// RecordScorer ranks person records by data completeness and value.
type RecordScorer interface {
	Score(ctx context.Context, p *models.Person) (int, error)
	// Better returns whichever of a and b should survive a merge.
	Better(ctx context.Context, a, b *models.Person) (*models.Person, error)
}

// PersonMerged is published after a merge commits.
type PersonMerged struct {
	AuditID        id.AuditID  `json:"audit_id"`
	TargetPersonID id.PersonID `json:"target_person_id"`
	SourcePersonID id.PersonID `json:"source_person_id"`
	TargetEmail    string      `json:"target_email"`
	SourceEmail    string      `json:"source_email"`
	TargetLegacyID int64       `json:"target_legacy_id,omitempty"`
	SourceLegacyID int64       `json:"source_legacy_id,omitempty"`
	Actor          string      `json:"actor"`
	Reason         string      `json:"reason"`
	MergedAt       time.Time   `json:"merged_at"`
}

// EventPublisher emits identity domain events to downstream consumers.
type EventPublisher interface {
	PublishMerged(ctx context.Context, evt PersonMerged) error
}

// Dispatcher runs side effects outside the caller's transaction. Jobs must
// only be dispatched after the work they describe has committed.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, job func(ctx context.Context) error)
}
