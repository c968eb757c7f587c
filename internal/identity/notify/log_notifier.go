package notify

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"rollcall/internal/identity/models"
	"rollcall/internal/identity/ports"
)

// LogNotifier writes notifications to the structured log. It stands in for
// a real delivery channel when no broker is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SendConfirmation(ctx context.Context, c *models.Conflict) error {
	n.logger.InfoContext(ctx, "email confirmation requested",
		"event", "conflict_confirmation",
		"conflict_id", c.ID,
		"person_a_id", c.PersonAID,
		"person_a_email", c.PersonAEmail,
		"person_b_id", c.PersonBID,
		"person_b_email", c.PersonBEmail,
		"priority", c.Priority,
	)
	return nil
}

func (n *LogNotifier) NotifyAdmin(ctx context.Context, notice ports.AdminNotice) error {
	attrs := []any{
		"event", "admin_notice",
		"problem", notice.Problem,
		"source", notice.Source,
	}
	for _, k := range slices.Sorted(maps.Keys(notice.Details)) {
		attrs = append(attrs, k, notice.Details[k])
	}
	if notice.Error != "" {
		attrs = append(attrs, "error", notice.Error)
	}
	if notice.Report != "" {
		attrs = append(attrs, "report", notice.Report)
	}
	n.logger.WarnContext(ctx, "admin notice", attrs...)
	return nil
}
