package booking

import (
	"context"
	"fmt"
	"time"
)

// Audit action tags.
const (
	ActionBook     = "appointment.book"
	ActionCancel   = "appointment.cancel"
	ActionCheckIn  = "appointment.checkin"
	ActionComplete = "appointment.complete"
	ActionNoShow   = "appointment.noshow"
)

// Trail writes the immutable audit record of every core mutation. An
// append failure fails the enclosing atomic unit: a state change without
// an audit record must never commit.
type Trail struct {
	repo Repository
}

func NewTrail(repo Repository) *Trail {
	return &Trail{repo: repo}
}

// Record appends one audit entry. actor nil denotes the system.
func (t *Trail) Record(ctx context.Context, actor *string, action, entityType, entityID string, diff map[string]any) error {
	entry := AuditEntry{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Diff:       diff,
		At:         time.Now(),
	}
	if err := t.repo.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("append audit entry %s: %w", action, err)
	}
	return nil
}
