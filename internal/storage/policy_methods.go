package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

const policyColumns = `id, created_at, updated_at, org_id, name, description,
	source, priority, pool_id, is_active`

// CreatePolicy creates a policy
func (s *PostgresStore) CreatePolicy(ctx context.Context, policy *models.Policy) error {
	if policy.ID == uuid.Nil {
		policy.ID = uuid.New()
	}
	now := time.Now()
	policy.CreatedAt = now
	policy.UpdatedAt = now

	query := `
		INSERT INTO policies (
			id, created_at, updated_at, org_id, name, description,
			source, priority, pool_id, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.getDB().ExecContext(ctx, query,
		policy.ID, policy.CreatedAt, policy.UpdatedAt, policy.OrgID,
		policy.Name, policy.Description, policy.Source, policy.Priority,
		policy.PoolID, policy.IsActive,
	)

	return mapError(err)
}

// GetPolicy gets a policy by ID
func (s *PostgresStore) GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE id = $1`
	return s.scanPolicy(s.getDB().QueryRowContext(ctx, query, id))
}

// UpdatePolicy updates a policy
func (s *PostgresStore) UpdatePolicy(ctx context.Context, policy *models.Policy) error {
	policy.UpdatedAt = time.Now()

	query := `
		UPDATE policies SET
			updated_at = $2, name = $3, description = $4, source = $5,
			priority = $6, pool_id = $7, is_active = $8
		WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		policy.ID, policy.UpdatedAt, policy.Name, policy.Description,
		policy.Source, policy.Priority, policy.PoolID, policy.IsActive,
	)
	if err != nil {
		return mapError(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// DeletePolicy deletes a policy
func (s *PostgresStore) DeletePolicy(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM policies WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListPolicies lists policies for an organization in evaluation order:
// ascending priority, ties broken by creation time.
func (s *PostgresStore) ListPolicies(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*models.Policy, error) {
	query := `SELECT ` + policyColumns + ` FROM policies WHERE org_id = $1`
	if activeOnly {
		query += ` AND is_active`
	}
	query += ` ORDER BY priority, created_at`

	rows, err := s.getDB().QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*models.Policy
	for rows.Next() {
		policy := &models.Policy{}
		err := rows.Scan(
			&policy.ID, &policy.CreatedAt, &policy.UpdatedAt, &policy.OrgID,
			&policy.Name, &policy.Description, &policy.Source,
			&policy.Priority, &policy.PoolID, &policy.IsActive,
		)
		if err != nil {
			return nil, err
		}
		policies = append(policies, policy)
	}

	return policies, rows.Err()
}

func (s *PostgresStore) scanPolicy(row rowScanner) (*models.Policy, error) {
	policy := &models.Policy{}
	err := row.Scan(
		&policy.ID, &policy.CreatedAt, &policy.UpdatedAt, &policy.OrgID,
		&policy.Name, &policy.Description, &policy.Source,
		&policy.Priority, &policy.PoolID, &policy.IsActive,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return policy, nil
}
