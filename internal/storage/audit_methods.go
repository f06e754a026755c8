package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

// CreateAuditLog creates an audit log entry
func (s *PostgresStore) CreateAuditLog(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.Details == nil {
		entry.Details = make(models.Variables)
	}

	query := `
		INSERT INTO audit_logs (
			id, created_at, org_id, user_id, type, level, code,
			description, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		entry.ID, entry.CreatedAt, entry.OrgID, entry.UserID, entry.Type,
		entry.Level, entry.Code, entry.Description, entry.Details,
	)

	return mapError(err)
}

// ListAuditLogs lists audit entries matching the filters, newest first
func (s *PostgresStore) ListAuditLogs(ctx context.Context, filters AuditLogFilters, limit, offset int) ([]*models.AuditLog, int64, error) {
	where := ` WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if filters.OrgID != nil {
		argCount++
		where += fmt.Sprintf(" AND org_id = $%d", argCount)
		args = append(args, *filters.OrgID)
	}
	if filters.UserID != nil {
		argCount++
		where += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, *filters.UserID)
	}
	if filters.Type != nil {
		argCount++
		where += fmt.Sprintf(" AND type = $%d", argCount)
		args = append(args, *filters.Type)
	}
	if filters.Level != nil {
		argCount++
		where += fmt.Sprintf(" AND level = $%d", argCount)
		args = append(args, *filters.Level)
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
	countQuery := `SELECT COUNT(*) FROM audit_logs` + where
	if err := s.getDB().QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `
		SELECT id, created_at, org_id, user_id, type, level, code,
			description, details
		FROM audit_logs` + where

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

	var entries []*models.AuditLog
	for rows.Next() {
		entry := &models.AuditLog{}
		err := rows.Scan(
			&entry.ID, &entry.CreatedAt, &entry.OrgID, &entry.UserID,
			&entry.Type, &entry.Level, &entry.Code, &entry.Description,
			&entry.Details,
		)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}

	return entries, count, rows.Err()
}
