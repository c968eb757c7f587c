package legacy

import (
	"strings"
	"time"

	"rollcall/internal/identity/models"
)

// personDTO is the legacy wire shape. Profile keys match ProfileField names.
type personDTO struct {
	LegacyID  int64             `json:"legacy_id"`
	Email     string            `json:"email"`
	Profile   map[string]string `json:"profile"`
	InvitedOn string            `json:"invited_on,omitempty"`
	InvitedBy string            `json:"invited_by,omitempty"`
	UpdatedBy string            `json:"updated_by,omitempty"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

func (d personDTO) toRemote() *models.RemotePerson {
	r := &models.RemotePerson{
		LegacyID:  d.LegacyID,
		Email:     strings.TrimSpace(d.Email),
		InvitedBy: d.InvitedBy,
		UpdatedBy: d.UpdatedBy,
		InvitedOn: parseTime(d.InvitedOn),
		UpdatedAt: parseTime(d.UpdatedAt),
	}
	for _, f := range r.Profile.Fields() {
		*f.Value = d.Profile[f.Name]
	}
	return r
}

func fromRemote(r *models.RemotePerson) personDTO {
	d := personDTO{
		LegacyID:  r.LegacyID,
		Email:     r.Email,
		Profile:   make(map[string]string),
		InvitedBy: r.InvitedBy,
		UpdatedBy: r.UpdatedBy,
		InvitedOn: formatTime(r.InvitedOn),
		UpdatedAt: formatTime(r.UpdatedAt),
	}
	for _, f := range r.Profile.Fields() {
		if *f.Value != "" {
			d.Profile[f.Name] = *f.Value
		}
	}
	return d
}

// parseTime accepts RFC 3339 and plain dates; anything else is treated as
// missing.
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
