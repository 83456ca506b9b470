package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
)

type auditLogsRepo struct {
	db dbtx
}

func (r *auditLogsRepo) Append(ctx context.Context, e domain.AuditEvent) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		var err error
		if details, err = json.Marshal(e.Details); err != nil {
			return fmt.Errorf("sqlite: encode audit details: %w", err)
		}
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO audit_logs
		(id, actor_id, action, entity_type, entity_id, details, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ActorID, e.Action, e.EntityType, e.EntityID, string(details), toNanos(e.CreatedAt),
	)
	return mapConstraint(err)
}

func (r *auditLogsRepo) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, actor_id, action, entity_type, entity_id, details, created_at
		FROM audit_logs WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		entityType, entityID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		var (
			e         domain.AuditEvent
			details   string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.EntityType, &e.EntityID, &details, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("sqlite: decode audit details %s: %w", e.ID, err)
		}
		e.CreatedAt = fromNanos(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *auditLogsRepo) DeleteByActor(ctx context.Context, actorID string) (int64, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE actor_id = ?`, actorID))
}
