package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

const orgColumns = `id, created_at, updated_at, name, slug, description,
	billing_email, is_active, suspended_at, settings`

// CreateOrganization creates an organization
func (s *PostgresStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	if org.ID == uuid.Nil {
		org.ID = uuid.New()
	}
	now := time.Now()
	org.CreatedAt = now
	org.UpdatedAt = now
	if org.Settings == nil {
		org.Settings = make(models.Variables)
	}

	query := `
		INSERT INTO organizations (
			id, created_at, updated_at, name, slug, description,
			billing_email, is_active, suspended_at, settings
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.getDB().ExecContext(ctx, query,
		org.ID, org.CreatedAt, org.UpdatedAt, org.Name, org.Slug,
		org.Description, org.BillingEmail, org.IsActive, org.SuspendedAt,
		org.Settings,
	)

	return mapError(err)
}

// GetOrganization gets an organization by ID
func (s *PostgresStore) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE id = $1`
	return s.scanOrganization(s.getDB().QueryRowContext(ctx, query, id))
}

// GetOrganizationBySlug gets an organization by slug
func (s *PostgresStore) GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	query := `SELECT ` + orgColumns + ` FROM organizations WHERE slug = $1`
	return s.scanOrganization(s.getDB().QueryRowContext(ctx, query, slug))
}

// UpdateOrganization updates an organization
func (s *PostgresStore) UpdateOrganization(ctx context.Context, org *models.Organization) error {
	org.UpdatedAt = time.Now()

	query := `
		UPDATE organizations SET
			updated_at = $2, name = $3, description = $4, billing_email = $5,
			is_active = $6, suspended_at = $7, settings = $8
		WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		org.ID, org.UpdatedAt, org.Name, org.Description, org.BillingEmail,
		org.IsActive, org.SuspendedAt, org.Settings,
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

// DeleteOrganization deletes an organization
func (s *PostgresStore) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// ListOrganizations lists organizations
func (s *PostgresStore) ListOrganizations(ctx context.Context, limit, offset int) ([]*models.Organization, int64, error) {
	var count int64
	if err := s.getDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM organizations`).Scan(&count); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + orgColumns + ` FROM organizations ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := s.getDB().QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var orgs []*models.Organization
	for rows.Next() {
		org := &models.Organization{}
		err := rows.Scan(
			&org.ID, &org.CreatedAt, &org.UpdatedAt, &org.Name, &org.Slug,
			&org.Description, &org.BillingEmail, &org.IsActive, &org.SuspendedAt,
			&org.Settings,
		)
		if err != nil {
			return nil, 0, err
		}
		orgs = append(orgs, org)
	}

	return orgs, count, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanOrganization(row rowScanner) (*models.Organization, error) {
	org := &models.Organization{}
	err := row.Scan(
		&org.ID, &org.CreatedAt, &org.UpdatedAt, &org.Name, &org.Slug,
		&org.Description, &org.BillingEmail, &org.IsActive, &org.SuspendedAt,
		&org.Settings,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return org, nil
}
