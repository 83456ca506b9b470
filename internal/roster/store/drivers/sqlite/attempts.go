package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
)

type attemptsRepo struct {
	db dbtx
}

func (r *attemptsRepo) Append(ctx context.Context, a domain.AttemptRecord) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO attempts
		(id, identity_id, email, origin, success, attempted_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, toNullString(a.IdentityID), a.Email, a.Origin, a.Success, toNanos(a.AttemptedAt),
	)
	return mapConstraint(err)
}

func (r *attemptsRepo) RecentFailures(ctx context.Context, identityID string, since time.Time) (int, time.Time, error) {
	var (
		count  int
		latest sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(attempted_at) FROM attempts
		WHERE identity_id = ? AND success = 0 AND attempted_at >= ?`,
		identityID, toNanos(since),
	).Scan(&count, &latest)
	if err != nil {
		return 0, time.Time{}, err
	}
	if !latest.Valid {
		return count, time.Time{}, nil
	}
	return count, fromNanos(latest.Int64), nil
}

func (r *attemptsRepo) DeleteFailures(ctx context.Context, identityID string) (int64, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM attempts WHERE identity_id = ? AND success = 0`, identityID))
}

func (r *attemptsRepo) DeleteByIdentity(ctx context.Context, identityID string) (int64, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM attempts WHERE identity_id = ?`, identityID))
}

func (r *attemptsRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return affected(r.db.ExecContext(ctx, `DELETE FROM attempts WHERE attempted_at < ?`, toNanos(cutoff)))
}

func (r *attemptsRepo) ListByIdentity(ctx context.Context, identityID string, limit int) ([]domain.AttemptRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, identity_id, email, origin, success, attempted_at
		FROM attempts WHERE identity_id = ? ORDER BY attempted_at DESC, id DESC LIMIT ?`,
		identityID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AttemptRecord
	for rows.Next() {
		var (
			a           domain.AttemptRecord
			identity    sql.NullString
			attemptedAt int64
		)
		if err := rows.Scan(&a.ID, &identity, &a.Email, &a.Origin, &a.Success, &attemptedAt); err != nil {
			return nil, err
		}
		a.IdentityID = fromNullString(identity)
		a.AttemptedAt = fromNanos(attemptedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
