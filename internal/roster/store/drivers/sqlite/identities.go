package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aussiebroadwan/roster/internal/roster/domain"
)

type identitiesRepo struct {
	db dbtx
}

const identityColumns = `id, external_id, source, email, given_name, family_name, employee_number,
	department, position, role, supervisor_id, password_hash,
	active, anonymized, anonymization_exempt, archived,
	deactivated_at, deactivation_reason, anonymized_at, archived_at,
	supervisor_changed_at, supervisor_changed_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (domain.Identity, error) {
	var (
		i                                     domain.Identity
		externalID, department, position, sup sql.NullString
		deactivatedAt, anonymizedAt           sql.NullInt64
		archivedAt, supervisorChangedAt       sql.NullInt64
		createdAt, updatedAt                  int64
		source, role                          string
	)
	err := row.Scan(
		&i.ID, &externalID, &source, &i.Email, &i.GivenName, &i.FamilyName, &i.EmployeeNumber,
		&department, &position, &role, &sup, &i.PasswordHash,
		&i.Active, &i.Anonymized, &i.AnonymizationExempt, &i.Archived,
		&deactivatedAt, &i.DeactivationReason, &anonymizedAt, &archivedAt,
		&supervisorChangedAt, &i.SupervisorChangedReason, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Identity{}, err
	}

	i.ExternalID = fromNullString(externalID)
	i.Source = domain.Source(source)
	i.Department = fromNullString(department)
	i.Position = fromNullString(position)
	i.Role = domain.Role(role)
	i.SupervisorID = fromNullString(sup)
	i.DeactivatedAt = fromNullNanos(deactivatedAt)
	i.AnonymizedAt = fromNullNanos(anonymizedAt)
	i.ArchivedAt = fromNullNanos(archivedAt)
	i.SupervisorChangedAt = fromNullNanos(supervisorChangedAt)
	i.CreatedAt = fromNanos(createdAt)
	i.UpdatedAt = fromNanos(updatedAt)
	return i, nil
}

func (r *identitiesRepo) getOne(ctx context.Context, where string, args ...any) (domain.Identity, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE `+where, args...)
	i, err := scanIdentity(row)
	if err != nil {
		return domain.Identity{}, mapNotFound(err)
	}
	return i, nil
}

func (r *identitiesRepo) list(ctx context.Context, where string, args ...any) ([]domain.Identity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (r *identitiesRepo) GetByID(ctx context.Context, id string) (domain.Identity, error) {
	return r.getOne(ctx, `id = ?`, id)
}

func (r *identitiesRepo) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	return r.getOne(ctx, `email = ?`, email)
}

func (r *identitiesRepo) GetByExternalID(ctx context.Context, source domain.Source, externalID string) (domain.Identity, error) {
	return r.getOne(ctx, `source = ? AND external_id = ?`, string(source), externalID)
}

func (r *identitiesRepo) Create(ctx context.Context, i domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO identities (`+identityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, toNullString(i.ExternalID), string(i.Source), i.Email, i.GivenName, i.FamilyName, i.EmployeeNumber,
		toNullString(i.Department), toNullString(i.Position), string(i.Role), toNullString(i.SupervisorID), i.PasswordHash,
		i.Active, i.Anonymized, i.AnonymizationExempt, i.Archived,
		toNullNanos(i.DeactivatedAt), i.DeactivationReason, toNullNanos(i.AnonymizedAt), toNullNanos(i.ArchivedAt),
		toNullNanos(i.SupervisorChangedAt), i.SupervisorChangedReason, toNanos(i.CreatedAt), toNanos(i.UpdatedAt),
	)
	return mapConstraint(err)
}

func (r *identitiesRepo) Update(ctx context.Context, i domain.Identity) error {
	return requireRow(r.db.ExecContext(ctx, `UPDATE identities SET
		external_id = ?, email = ?, given_name = ?, family_name = ?, employee_number = ?,
		department = ?, position = ?, role = ?, supervisor_id = ?, password_hash = ?,
		active = ?, anonymized = ?, anonymization_exempt = ?, archived = ?,
		deactivated_at = ?, deactivation_reason = ?, anonymized_at = ?, archived_at = ?,
		supervisor_changed_at = ?, supervisor_changed_reason = ?, updated_at = ?
		WHERE id = ?`,
		toNullString(i.ExternalID), i.Email, i.GivenName, i.FamilyName, i.EmployeeNumber,
		toNullString(i.Department), toNullString(i.Position), string(i.Role), toNullString(i.SupervisorID), i.PasswordHash,
		i.Active, i.Anonymized, i.AnonymizationExempt, i.Archived,
		toNullNanos(i.DeactivatedAt), i.DeactivationReason, toNullNanos(i.AnonymizedAt), toNullNanos(i.ArchivedAt),
		toNullNanos(i.SupervisorChangedAt), i.SupervisorChangedReason, toNanos(i.UpdatedAt),
		i.ID,
	))
}

func (r *identitiesRepo) SetSupervisor(ctx context.Context, id string, supervisorID *string, reason string, at time.Time) error {
	return requireRow(r.db.ExecContext(ctx, `UPDATE identities SET
		supervisor_id = ?, supervisor_changed_at = ?, supervisor_changed_reason = ?, updated_at = ?
		WHERE id = ?`,
		toNullString(supervisorID), toNanos(at), reason, toNanos(at), id,
	))
}

func (r *identitiesRepo) ListBySource(ctx context.Context, source domain.Source) ([]domain.Identity, error) {
	return r.list(ctx, `source = ?`, string(source))
}

func (r *identitiesRepo) ListBySupervisor(ctx context.Context, supervisorID string) ([]domain.Identity, error) {
	return r.list(ctx, `supervisor_id = ?`, supervisorID)
}

func (r *identitiesRepo) ListPendingAnonymization(ctx context.Context, cutoff time.Time) ([]domain.Identity, error) {
	return r.list(ctx, `active = 0 AND anonymized = 0 AND anonymization_exempt = 0
		AND deactivated_at IS NOT NULL AND deactivated_at <= ?`, toNanos(cutoff))
}

func (r *identitiesRepo) ListPendingArchival(ctx context.Context, from domain.ArchiveFrom, cutoff time.Time) ([]domain.Identity, error) {
	origin := `deactivated_at`
	switch from {
	case domain.ArchiveFromDeactivation:
	case domain.ArchiveFromAnonymization:
		// Exempt identities never get an anonymization stamp.
		origin = `COALESCE(anonymized_at, deactivated_at)`
	default:
		return nil, fmt.Errorf("sqlite: unknown archive origin %q", from)
	}
	return r.list(ctx, `active = 0 AND archived = 0 AND (anonymized = 1 OR anonymization_exempt = 1)
		AND `+origin+` IS NOT NULL AND `+origin+` <= ?`, toNanos(cutoff))
}

func (r *identitiesRepo) ListPendingDeletion(ctx context.Context, cutoff time.Time) ([]domain.Identity, error) {
	return r.list(ctx, `active = 0 AND archived = 1
		AND deactivated_at IS NOT NULL AND deactivated_at <= ?`, toNanos(cutoff))
}

func (r *identitiesRepo) Delete(ctx context.Context, id string) error {
	return requireRow(r.db.ExecContext(ctx, `DELETE FROM identities WHERE id = ?`, id))
}

func (r *identitiesRepo) Stats(ctx context.Context) (domain.LifecycleStats, error) {
	var s domain.LifecycleStats
	err := r.db.QueryRowContext(ctx, `SELECT
		COALESCE(SUM(active = 1), 0),
		COALESCE(SUM(active = 0), 0),
		COALESCE(SUM(anonymized = 1), 0),
		COALESCE(SUM(archived = 1), 0)
		FROM identities`).Scan(&s.Active, &s.Deactivated, &s.Anonymized, &s.Archived)
	return s, err
}

func (r *identitiesRepo) CountBySource(ctx context.Context, source domain.Source) (total, active int, err error) {
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*), COALESCE(SUM(active = 1), 0)
		FROM identities WHERE source = ?`, string(source)).Scan(&total, &active)
	return total, active, err
}
