package sqlite

import (
	"context"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
)

type archivesRepo struct {
	db dbtx
}

func (r *archivesRepo) Create(ctx context.Context, a domain.ArchiveSnapshot) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO archives
		(id, original_id, snapshot, work_item_count, archived_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (original_id) DO NOTHING`,
		a.ID, a.OriginalID, string(a.Snapshot), a.WorkItemCount, toNanos(a.ArchivedAt),
	)
	return mapConstraint(err)
}

func (r *archivesRepo) GetByOriginalID(ctx context.Context, originalID string) (domain.ArchiveSnapshot, error) {
	var (
		a          domain.ArchiveSnapshot
		snapshot   string
		archivedAt int64
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, original_id, snapshot, work_item_count, archived_at
		FROM archives WHERE original_id = ?`, originalID,
	).Scan(&a.ID, &a.OriginalID, &snapshot, &a.WorkItemCount, &archivedAt)
	if err != nil {
		return domain.ArchiveSnapshot{}, mapNotFound(err)
	}
	a.Snapshot = []byte(snapshot)
	a.ArchivedAt = fromNanos(archivedAt)
	return a, nil
}
