package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

const evaluationColumns = `id, created_at, org_id, user_id, policy_id,
	input_text, generated_text, final_text, status, action, severity,
	scores, duration_ms`

// CreateEvaluation persists an evaluation record and its violations in
// one transaction. Records are append-only; there is no update method.
func (s *PostgresStore) CreateEvaluation(ctx context.Context, eval *models.PolicyEvaluation) error {
	if eval.ID == uuid.Nil {
		eval.ID = uuid.New()
	}
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now()
	}
	if eval.Scores == nil {
		eval.Scores = make(models.ScoreMap)
	}

	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ps := tx.(*PostgresStore)

	query := `
		INSERT INTO policy_evaluations (
			id, created_at, org_id, user_id, policy_id, input_text,
			generated_text, final_text, status, action, severity,
			scores, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err = ps.getDB().ExecContext(ctx, query,
		eval.ID, eval.CreatedAt, eval.OrgID, eval.UserID, eval.PolicyID,
		eval.InputText, eval.GeneratedText, eval.FinalText, eval.Status,
		eval.Action, eval.Severity, eval.Scores, eval.DurationMS,
	)
	if err != nil {
		return mapError(err)
	}

	violationQuery := `
		INSERT INTO policy_violations (
			id, created_at, evaluation_id, type, severity, rule_id, confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, v := range eval.Violations {
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		if v.CreatedAt.IsZero() {
			v.CreatedAt = eval.CreatedAt
		}
		v.EvaluationID = eval.ID

		_, err := ps.getDB().ExecContext(ctx, violationQuery,
			v.ID, v.CreatedAt, v.EvaluationID, v.Type, v.Severity,
			v.RuleID, v.Confidence,
		)
		if err != nil {
			return mapError(err)
		}
	}

	return tx.Commit()
}

// GetEvaluation gets an evaluation with its violations
func (s *PostgresStore) GetEvaluation(ctx context.Context, id uuid.UUID) (*models.PolicyEvaluation, error) {
	query := `SELECT ` + evaluationColumns + ` FROM policy_evaluations WHERE id = $1`

	eval := &models.PolicyEvaluation{}
	err := s.getDB().QueryRowContext(ctx, query, id).Scan(
		&eval.ID, &eval.CreatedAt, &eval.OrgID, &eval.UserID, &eval.PolicyID,
		&eval.InputText, &eval.GeneratedText, &eval.FinalText, &eval.Status,
		&eval.Action, &eval.Severity, &eval.Scores, &eval.DurationMS,
	)
	if err != nil {
		return nil, mapError(err)
	}

	violationQuery := `
		SELECT id, created_at, evaluation_id, type, severity, rule_id, confidence
		FROM policy_violations WHERE evaluation_id = $1 ORDER BY created_at`

	rows, err := s.getDB().QueryContext(ctx, violationQuery, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		v := &models.PolicyViolation{}
		err := rows.Scan(
			&v.ID, &v.CreatedAt, &v.EvaluationID, &v.Type, &v.Severity,
			&v.RuleID, &v.Confidence,
		)
		if err != nil {
			return nil, err
		}
		eval.Violations = append(eval.Violations, v)
	}

	return eval, rows.Err()
}

// ListEvaluations lists evaluations matching the filters, newest first
func (s *PostgresStore) ListEvaluations(ctx context.Context, filters EvaluationFilters, limit, offset int) ([]*models.PolicyEvaluation, int64, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.OrgID != nil {
		argCount++
		where += fmt.Sprintf(" AND org_id = $%d", argCount)
		args = append(args, *filters.OrgID)
	}
	if filters.PolicyID != nil {
		argCount++
		where += fmt.Sprintf(" AND policy_id = $%d", argCount)
		args = append(args, *filters.PolicyID)
	}
	if filters.Action != nil {
		argCount++
		where += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, *filters.Action)
	}
	if filters.Severity != nil {
		argCount++
		where += fmt.Sprintf(" AND severity = $%d", argCount)
		args = append(args, *filters.Severity)
	}
	if filters.StartTime != nil {
		argCount++
		where += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filters.StartTime)
	}
	if filters.EndTime != nil {
		argCount++
		where += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filters.EndTime)
	}

	var count int64
	countQuery := `SELECT COUNT(*) FROM policy_evaluations` + where
	if err := s.getDB().QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + evaluationColumns + ` FROM policy_evaluations` + where

	argCount++
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)

	argCount++
	query += fmt.Sprintf(" OFFSET $%d", argCount)
	args = append(args, offset)

	rows, err := s.getDB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var evals []*models.PolicyEvaluation
	for rows.Next() {
		eval := &models.PolicyEvaluation{}
		err := rows.Scan(
			&eval.ID, &eval.CreatedAt, &eval.OrgID, &eval.UserID,
			&eval.PolicyID, &eval.InputText, &eval.GeneratedText,
			&eval.FinalText, &eval.Status, &eval.Action, &eval.Severity,
			&eval.Scores, &eval.DurationMS,
		)
		if err != nil {
			return nil, 0, err
		}
		evals = append(evals, eval)
	}

	return evals, count, rows.Err()
}
