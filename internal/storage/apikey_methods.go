package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/crossaudit/governance-server/internal/models"
)

const apiKeyColumns = `id, created_at, user_id, org_id, name, key_hash, is_active,
	expires_at, last_used_at, scopes`

// CreateAPIKey creates an API key. Only the secret's digest is stored.
func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	key.CreatedAt = time.Now()
	if key.Scopes == nil {
		key.Scopes = []string{}
	}

	query := `
		INSERT INTO api_keys (
			id, created_at, user_id, org_id, name, key_hash, is_active,
			expires_at, scopes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		key.ID, key.CreatedAt, key.UserID, key.OrgID, key.Name, key.KeyHash,
		key.IsActive, key.ExpiresAt, pq.Array(key.Scopes),
	)

	return mapError(err)
}

// GetAPIKeyByHash looks up an active key by its secret's digest
func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1 AND is_active`
	return s.scanAPIKey(s.getDB().QueryRowContext(ctx, query, keyHash))
}

// ListAPIKeys lists a user's API keys
func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := s.getDB().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := s.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// DeleteAPIKey deletes an API key
func (s *PostgresStore) DeleteAPIKey(ctx context.Context, id uuid.UUID) error {
	result, err := s.getDB().ExecContext(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// TouchAPIKey records when the key last authenticated a request
func (s *PostgresStore) TouchAPIKey(ctx context.Context, id uuid.UUID, when time.Time) error {
	_, err := s.getDB().ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, when)
	return mapError(err)
}

func (s *PostgresStore) scanAPIKey(row rowScanner) (*models.APIKey, error) {
	key := &models.APIKey{}
	err := row.Scan(
		&key.ID, &key.CreatedAt, &key.UserID, &key.OrgID, &key.Name,
		&key.KeyHash, &key.IsActive, &key.ExpiresAt, &key.LastUsedAt,
		pq.Array(&key.Scopes),
	)
	if err != nil {
		return nil, mapError(err)
	}
	return key, nil
}
