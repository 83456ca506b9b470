package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
)

type workItemsRepo struct {
	db dbtx
}

const workItemColumns = `id, subject_id, secondary_id, phase, status, incomplete_reason,
	secondary_changed_at, created_at, updated_at`

func scanWorkItem(row rowScanner) (domain.WorkItem, error) {
	var (
		w                    domain.WorkItem
		secondary            sql.NullString
		secondaryChangedAt   sql.NullInt64
		createdAt, updatedAt int64
		phase, status        string
	)
	err := row.Scan(&w.ID, &w.SubjectID, &secondary, &phase, &status, &w.IncompleteReason,
		&secondaryChangedAt, &createdAt, &updatedAt)
	if err != nil {
		return domain.WorkItem{}, err
	}
	w.SecondaryID = fromNullString(secondary)
	w.Phase = domain.WorkItemPhase(phase)
	w.Status = domain.WorkItemStatus(status)
	w.SecondaryChangedAt = fromNullNanos(secondaryChangedAt)
	w.CreatedAt = fromNanos(createdAt)
	w.UpdatedAt = fromNanos(updatedAt)
	return w, nil
}

func (r *workItemsRepo) Create(ctx context.Context, w domain.WorkItem) error {
	if w.Status == "" {
		w.Status = domain.WorkItemOpen
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO work_items (`+workItemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.SubjectID, toNullString(w.SecondaryID), string(w.Phase), string(w.Status), w.IncompleteReason,
		toNullNanos(w.SecondaryChangedAt), toNanos(w.CreatedAt), toNanos(w.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *workItemsRepo) GetByID(ctx context.Context, id string) (domain.WorkItem, error) {
	w, err := scanWorkItem(r.db.QueryRowContext(ctx, `SELECT `+workItemColumns+` FROM work_items WHERE id = ?`, id))
	if err != nil {
		return domain.WorkItem{}, mapNotFound(err)
	}
	return w, nil
}

func (r *workItemsRepo) listOpen(ctx context.Context, column, identityID string) ([]domain.WorkItem, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+workItemColumns+` FROM work_items
		WHERE `+column+` = ? AND phase <> ? AND status = ? ORDER BY id`,
		identityID, string(domain.PhaseCompleted), string(domain.WorkItemOpen),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorkItem
	for rows.Next() {
		w, err := scanWorkItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *workItemsRepo) ListOpenBySubject(ctx context.Context, identityID string) ([]domain.WorkItem, error) {
	return r.listOpen(ctx, "subject_id", identityID)
}

func (r *workItemsRepo) ListOpenBySecondary(ctx context.Context, identityID string) ([]domain.WorkItem, error) {
	return r.listOpen(ctx, "secondary_id", identityID)
}

func (r *workItemsRepo) MarkIncomplete(ctx context.Context, id, reason string, at time.Time) error {
	return requireRow(r.db.ExecContext(ctx, `UPDATE work_items
		SET status = ?, incomplete_reason = ?, updated_at = ? WHERE id = ?`,
		string(domain.WorkItemIncomplete), reason, toNanos(at), id,
	))
}

func (r *workItemsRepo) ReassignSecondary(ctx context.Context, id string, secondaryID *string, at time.Time) error {
	return requireRow(r.db.ExecContext(ctx, `UPDATE work_items
		SET secondary_id = ?, secondary_changed_at = ?, updated_at = ? WHERE id = ?`,
		toNullString(secondaryID), toNanos(at), toNanos(at), id,
	))
}

func (r *workItemsRepo) CountReferencing(ctx context.Context, identityID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM work_items
		WHERE subject_id = ? OR secondary_id = ?`, identityID, identityID).Scan(&n)
	return n, err
}
