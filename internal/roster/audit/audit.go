// Package audit records audit events. Recording is best effort: failures
// are logged and never surface to the caller.
package audit

import (
	"context"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
	"github.com/aussiebroadwan/roster/internal/roster/store"
	"github.com/aussiebroadwan/roster/pkg/idx"
	"github.com/aussiebroadwan/roster/pkg/slogx"
)

// Sink is anything that can take an audit event.
type Sink interface {
	Record(ctx context.Context, actorID, action, entityType, entityID string, details map[string]any)
}

// Recorder writes events to the audit log table.
type Recorder struct {
	Logs  store.AuditLogs
	Clock func() time.Time
}

func (r *Recorder) Record(ctx context.Context, actorID, action, entityType, entityID string, details map[string]any) {
	now := time.Now
	if r.Clock != nil {
		now = r.Clock
	}
	at := now().UTC()

	ev := domain.AuditEvent{
		ID:         idx.NewAt(at).String(),
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
		CreatedAt:  at,
	}
	if err := r.Logs.Append(ctx, ev); err != nil {
		slogx.FromContext(ctx).Error("failed to record audit event",
			"action", action,
			"entity_type", entityType,
			"entity_id", entityID,
			"error", err,
		)
	}
}

// Discard drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Record(context.Context, string, string, string, string, map[string]any) {}
