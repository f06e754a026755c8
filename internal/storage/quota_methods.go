package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

const quotaColumns = `id, org_id, usage_type, current_usage, quota_limit,
	period_start, period_end, updated_at`

// EnsureQuotaUsage creates the period counter row if it does not exist yet.
// Existing rows are left untouched so concurrent callers never reset usage.
func (s *PostgresStore) EnsureQuotaUsage(ctx context.Context, usage *models.QuotaUsage) error {
	if usage.ID == uuid.Nil {
		usage.ID = uuid.New()
	}
	if usage.UpdatedAt.IsZero() {
		usage.UpdatedAt = time.Now()
	}

	query := `
		INSERT INTO quota_usage (
			id, org_id, usage_type, current_usage, quota_limit,
			period_start, period_end, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (org_id, usage_type) DO NOTHING`

	_, err := s.getDB().ExecContext(ctx, query,
		usage.ID, usage.OrgID, usage.UsageType, usage.CurrentUsage,
		usage.QuotaLimit, usage.PeriodStart, usage.PeriodEnd, usage.UpdatedAt,
	)

	return mapError(err)
}

// GetQuotaUsage gets the current counter for one usage type
func (s *PostgresStore) GetQuotaUsage(ctx context.Context, orgID uuid.UUID, usageType models.UsageType) (*models.QuotaUsage, error) {
	query := `SELECT ` + quotaColumns + ` FROM quota_usage WHERE org_id = $1 AND usage_type = $2`
	return s.scanQuotaUsage(s.getDB().QueryRowContext(ctx, query, orgID, usageType))
}

// ListQuotaUsage lists all counters for an organization
func (s *PostgresStore) ListQuotaUsage(ctx context.Context, orgID uuid.UUID) ([]*models.QuotaUsage, error) {
	query := `SELECT ` + quotaColumns + ` FROM quota_usage WHERE org_id = $1 ORDER BY usage_type`

	rows, err := s.getDB().QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []*models.QuotaUsage
	for rows.Next() {
		usage := &models.QuotaUsage{}
		err := rows.Scan(
			&usage.ID, &usage.OrgID, &usage.UsageType, &usage.CurrentUsage,
			&usage.QuotaLimit, &usage.PeriodStart, &usage.PeriodEnd,
			&usage.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}

	return usages, rows.Err()
}

// TryIncrementQuotaUsage performs the conditional atomic increment that
// keeps concurrent consumers from overrunning the limit. A negative limit
// always admits the amount.
func (s *PostgresStore) TryIncrementQuotaUsage(ctx context.Context, orgID uuid.UUID, usageType models.UsageType, amount int64) (bool, *models.QuotaUsage, error) {
	query := `
		UPDATE quota_usage SET
			current_usage = current_usage + $3, updated_at = now()
		WHERE org_id = $1 AND usage_type = $2
			AND (quota_limit < 0 OR current_usage + $3 <= quota_limit)
		RETURNING ` + quotaColumns

	usage, err := s.scanQuotaUsage(s.getDB().QueryRowContext(ctx, query, orgID, usageType, amount))
	if err == ErrNotFound {
		// Either the row is missing or the guard rejected the amount;
		// re-read so the caller can tell which and report remaining quota.
		current, getErr := s.GetQuotaUsage(ctx, orgID, usageType)
		if getErr != nil {
			return false, nil, getErr
		}
		return false, current, nil
	}
	if err != nil {
		return false, nil, err
	}

	return true, usage, nil
}

// AddQuotaUsage increments unconditionally. Used for post-hoc actuals
// (token counts known only after generation); overruns are the caller's
// concern to log.
func (s *PostgresStore) AddQuotaUsage(ctx context.Context, orgID uuid.UUID, usageType models.UsageType, amount int64) (*models.QuotaUsage, error) {
	query := `
		UPDATE quota_usage SET
			current_usage = current_usage + $3, updated_at = now()
		WHERE org_id = $1 AND usage_type = $2
		RETURNING ` + quotaColumns

	return s.scanQuotaUsage(s.getDB().QueryRowContext(ctx, query, orgID, usageType, amount))
}

// ListExpiredQuotaUsage lists counters whose period has ended
func (s *PostgresStore) ListExpiredQuotaUsage(ctx context.Context, now time.Time) ([]*models.QuotaUsage, error) {
	query := `SELECT ` + quotaColumns + ` FROM quota_usage WHERE period_end <= $1`

	rows, err := s.getDB().QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usages []*models.QuotaUsage
	for rows.Next() {
		usage := &models.QuotaUsage{}
		err := rows.Scan(
			&usage.ID, &usage.OrgID, &usage.UsageType, &usage.CurrentUsage,
			&usage.QuotaLimit, &usage.PeriodStart, &usage.PeriodEnd,
			&usage.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}

	return usages, rows.Err()
}

// RolloverQuotaUsage resets a counter into a new billing period. Plan
// changes take effect here: the new limit replaces the old one.
func (s *PostgresStore) RolloverQuotaUsage(ctx context.Context, id uuid.UUID, quotaLimit int64, periodStart, periodEnd time.Time) error {
	query := `
		UPDATE quota_usage SET
			current_usage = 0, quota_limit = $2, period_start = $3,
			period_end = $4, updated_at = now()
		WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query, id, quotaLimit, periodStart, periodEnd)
	if err != nil {
		return mapError(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) scanQuotaUsage(row rowScanner) (*models.QuotaUsage, error) {
	usage := &models.QuotaUsage{}
	err := row.Scan(
		&usage.ID, &usage.OrgID, &usage.UsageType, &usage.CurrentUsage,
		&usage.QuotaLimit, &usage.PeriodStart, &usage.PeriodEnd,
		&usage.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return usage, nil
}
