package storage

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// mapError converts driver errors to storage sentinel errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return ErrDuplicateKey
		case "23503", "23514":
			return ErrInvalidData
		}
	}
	return err
}
