package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

const evaluatorColumns = `id, created_at, updated_at, org_id, name, type,
	metric, model, endpoint, credential_ref, weight, is_active, settings`

// CreateEvaluator creates an evaluator
func (s *PostgresStore) CreateEvaluator(ctx context.Context, ev *models.Evaluator) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	now := time.Now()
	ev.CreatedAt = now
	ev.UpdatedAt = now
	if ev.Settings == nil {
		ev.Settings = make(models.Variables)
	}
	if ev.Weight <= 0 {
		ev.Weight = 1
	}

	query := `
		INSERT INTO evaluators (
			id, created_at, updated_at, org_id, name, type, metric,
			model, endpoint, credential_ref, weight, is_active, settings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.getDB().ExecContext(ctx, query,
		ev.ID, ev.CreatedAt, ev.UpdatedAt, ev.OrgID, ev.Name, ev.Type,
		ev.Metric, ev.Model, ev.Endpoint, ev.CredentialRef, ev.Weight,
		ev.IsActive, ev.Settings,
	)

	return mapError(err)
}

// GetEvaluator gets an evaluator by ID
func (s *PostgresStore) GetEvaluator(ctx context.Context, id uuid.UUID) (*models.Evaluator, error) {
	query := `SELECT ` + evaluatorColumns + ` FROM evaluators WHERE id = $1`
	return s.scanEvaluator(s.getDB().QueryRowContext(ctx, query, id))
}

// UpdateEvaluator updates an evaluator
func (s *PostgresStore) UpdateEvaluator(ctx context.Context, ev *models.Evaluator) error {
	ev.UpdatedAt = time.Now()

	query := `
		UPDATE evaluators SET
			updated_at = $2, name = $3, type = $4, metric = $5, model = $6,
			endpoint = $7, credential_ref = $8, weight = $9, is_active = $10,
			settings = $11
		WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		ev.ID, ev.UpdatedAt, ev.Name, ev.Type, ev.Metric, ev.Model,
		ev.Endpoint, ev.CredentialRef, ev.Weight, ev.IsActive, ev.Settings,
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

// DeleteEvaluator deletes an evaluator
func (s *PostgresStore) DeleteEvaluator(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM evaluators WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListEvaluators lists evaluators for an organization
func (s *PostgresStore) ListEvaluators(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.Evaluator, int64, error) {
	var count int64
	if err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evaluators WHERE org_id = $1`, orgID).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + evaluatorColumns + ` FROM evaluators
		WHERE org_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var evaluators []*models.Evaluator
	for rows.Next() {
		ev := &models.Evaluator{}
		err := rows.Scan(
			&ev.ID, &ev.CreatedAt, &ev.UpdatedAt, &ev.OrgID, &ev.Name,
			&ev.Type, &ev.Metric, &ev.Model, &ev.Endpoint, &ev.CredentialRef,
			&ev.Weight, &ev.IsActive, &ev.Settings,
		)
		if err != nil {
			return nil, 0, err
		}
		evaluators = append(evaluators, ev)
	}

	return evaluators, count, rows.Err()
}

// CreateEvaluatorPool creates a pool and its member list in one transaction
func (s *PostgresStore) CreateEvaluatorPool(ctx context.Context, pool *models.EvaluatorPool) error {
	if pool.ID == uuid.Nil {
		pool.ID = uuid.New()
	}
	now := time.Now()
	pool.CreatedAt = now
	pool.UpdatedAt = now

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ps := tx.(*PostgresStore)

	query := `
		INSERT INTO evaluator_pools (
			id, created_at, updated_at, org_id, name, strategy, timeout_ms, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = ps.getDB().ExecContext(ctx, query,
		pool.ID, pool.CreatedAt, pool.UpdatedAt, pool.OrgID, pool.Name,
		pool.Strategy, pool.TimeoutMS, pool.IsActive,
	)
	if err != nil {
		return mapError(err)
	}

	if err := ps.replacePoolMembers(ctx, pool.ID, pool.Members); err != nil {
		return err
	}

	return tx.Commit()
}

// GetEvaluatorPool gets a pool with its member IDs in dispatch order
func (s *PostgresStore) GetEvaluatorPool(ctx context.Context, id uuid.UUID) (*models.EvaluatorPool, error) {
	query := `
		SELECT id, created_at, updated_at, org_id, name, strategy, timeout_ms, is_active
		FROM evaluator_pools WHERE id = $1`

	pool := &models.EvaluatorPool{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&pool.ID, &pool.CreatedAt, &pool.UpdatedAt, &pool.OrgID, &pool.Name,
		&pool.Strategy, &pool.TimeoutMS, &pool.IsActive,
	)
	if err != nil {
		return nil, mapError(err)
	}

	memberQuery := `
		SELECT evaluator_id FROM evaluator_pool_members
		WHERE pool_id = $1 ORDER BY position`

	rows, err := s.getDB().QueryContext(ctx, memberQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var memberID uuid.UUID
		if err := rows.Scan(&memberID); err != nil {
			return nil, err
		}
		pool.Members = append(pool.Members, memberID)
	}

	return pool, rows.Err()
}

// UpdateEvaluatorPool updates a pool and rewrites its member list
func (s *PostgresStore) UpdateEvaluatorPool(ctx context.Context, pool *models.EvaluatorPool) error {
	pool.UpdatedAt = time.Now()

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ps := tx.(*PostgresStore)

	query := `
		UPDATE evaluator_pools SET
			updated_at = $2, name = $3, strategy = $4, timeout_ms = $5, is_active = $6
		WHERE id = $1`

	result, err := ps.getDB().ExecContext(ctx, query,
		pool.ID, pool.UpdatedAt, pool.Name, pool.Strategy, pool.TimeoutMS,
		pool.IsActive,
	)
	if err != nil {
		return mapError(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	if _, err := ps.getDB().ExecContext(ctx,
		`DELETE FROM evaluator_pool_members WHERE pool_id = $1`, pool.ID); err != nil {
		return mapError(err)
	}

	if err := ps.replacePoolMembers(ctx, pool.ID, pool.Members); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteEvaluatorPool deletes a pool; members cascade
func (s *PostgresStore) DeleteEvaluatorPool(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM evaluator_pools WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListEvaluatorPools lists pools for an organization
func (s *PostgresStore) ListEvaluatorPools(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.EvaluatorPool, int64, error) {
	var count int64
	if err := s.getDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evaluator_pools WHERE org_id = $1`, orgID).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, created_at, updated_at, org_id, name, strategy, timeout_ms, is_active
		FROM evaluator_pools WHERE org_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`

	rows, err := s.getDB().QueryContext(ctx, query, orgID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var pools []*models.EvaluatorPool
	for rows.Next() {
		pool := &models.EvaluatorPool{}
		err := rows.Scan(
			&pool.ID, &pool.CreatedAt, &pool.UpdatedAt, &pool.OrgID,
			&pool.Name, &pool.Strategy, &pool.TimeoutMS, &pool.IsActive,
		)
		if err != nil {
			return nil, 0, err
		}
		pools = append(pools, pool)
	}

	return pools, count, rows.Err()
}

// GetPoolEvaluators resolves the active member evaluators of a pool in
// dispatch order. Inactive members are skipped, not errors.
func (s *PostgresStore) GetPoolEvaluators(ctx context.Context, poolID uuid.UUID) ([]*models.Evaluator, error) {
	query := `
		SELECT e.id, e.created_at, e.updated_at, e.org_id, e.name, e.type,
			e.metric, e.model, e.endpoint, e.credential_ref, e.weight,
			e.is_active, e.settings
		FROM evaluator_pool_members m
		JOIN evaluators e ON e.id = m.evaluator_id
		WHERE m.pool_id = $1 AND e.is_active
		ORDER BY m.position`

	rows, err := s.getDB().QueryContext(ctx, query, poolID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var evaluators []*models.Evaluator
	for rows.Next() {
		ev := &models.Evaluator{}
		err := rows.Scan(
			&ev.ID, &ev.CreatedAt, &ev.UpdatedAt, &ev.OrgID, &ev.Name,
			&ev.Type, &ev.Metric, &ev.Model, &ev.Endpoint, &ev.CredentialRef,
			&ev.Weight, &ev.IsActive, &ev.Settings,
		)
		if err != nil {
			return nil, err
		}
		evaluators = append(evaluators, ev)
	}

	return evaluators, rows.Err()
}

func (s *PostgresStore) replacePoolMembers(ctx context.Context, poolID uuid.UUID, members []uuid.UUID) error {
	query := `
		INSERT INTO evaluator_pool_members (pool_id, evaluator_id, position)
		VALUES ($1, $2, $3)`

	for i, memberID := range members {
		if _, err := s.getDB().ExecContext(ctx, query, poolID, memberID, i); err != nil {
			return mapError(err)
		}
	}

	return nil
}

func (s *PostgresStore) scanEvaluator(row rowScanner) (*models.Evaluator, error) {
	ev := &models.Evaluator{}
	err := row.Scan(
		&ev.ID, &ev.CreatedAt, &ev.UpdatedAt, &ev.OrgID, &ev.Name,
		&ev.Type, &ev.Metric, &ev.Model, &ev.Endpoint, &ev.CredentialRef,
		&ev.Weight, &ev.IsActive, &ev.Settings,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return ev, nil
}
