package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

const userColumns = `id, created_at, updated_at, email, username, first_name,
	last_name, password_hash, role, is_active, last_login_at, org_id, settings`

// CreateUser creates a user
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Settings == nil {
		user.Settings = make(models.Variables)
	}
	if user.Role == "" {
		user.Role = models.RoleViewer
	}

	query := `
		INSERT INTO users (
			id, created_at, updated_at, email, username, first_name,
			last_name, password_hash, role, is_active, last_login_at,
			org_id, settings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := s.getDB().ExecContext(ctx, query,
		user.ID, user.CreatedAt, user.UpdatedAt, user.Email, user.Username,
		user.FirstName, user.LastName, user.PasswordHash, user.Role,
		user.IsActive, user.LastLoginAt, user.OrgID, user.Settings,
	)

	return mapError(err)
}

// GetUser gets a user by ID
func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return s.scanUser(s.getDB().QueryRowContext(ctx, query, id))
}

// GetUserByEmail gets a user by email
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return s.scanUser(s.getDB().QueryRowContext(ctx, query, email))
}

// UpdateUser updates a user
func (s *PostgresStore) UpdateUser(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users SET
			updated_at = $2, email = $3, username = $4, first_name = $5,
			last_name = $6, password_hash = $7, role = $8, is_active = $9,
			last_login_at = $10, org_id = $11, settings = $12
		WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		user.ID, user.UpdatedAt, user.Email, user.Username, user.FirstName,
		user.LastName, user.PasswordHash, user.Role, user.IsActive,
		user.LastLoginAt, user.OrgID, user.Settings,
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

// DeleteUser deletes a user
func (s *PostgresStore) DeleteUser(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListUsers lists users, optionally scoped to one organization
func (s *PostgresStore) ListUsers(ctx context.Context, orgID *uuid.UUID, limit, offset int) ([]*models.User, int64, error) {
	countQuery := `SELECT COUNT(*) FROM users WHERE 1=1`
	args := []interface{}{}
	argCount := 0

	if orgID != nil {
		argCount++
		countQuery += fmt.Sprintf(" AND org_id = $%d", argCount)
		args = append(args, *orgID)
	}

	var count int64
	if err := s.getDB().QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE 1=1`
	if orgID != nil {
		query += " AND org_id = $1"
	}

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

	var users []*models.User
	for rows.Next() {
		user := &models.User{}
		err := rows.Scan(
			&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.Email,
			&user.Username, &user.FirstName, &user.LastName, &user.PasswordHash,
			&user.Role, &user.IsActive, &user.LastLoginAt, &user.OrgID,
			&user.Settings,
		)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}

	return users, count, rows.Err()
}

func (s *PostgresStore) scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.CreatedAt, &user.UpdatedAt, &user.Email,
		&user.Username, &user.FirstName, &user.LastName, &user.PasswordHash,
		&user.Role, &user.IsActive, &user.LastLoginAt, &user.OrgID,
		&user.Settings,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return user, nil
}
