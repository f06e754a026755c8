package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents a user role within an organization
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleOrgAdmin Role = "org_admin"
	RoleAnalyst  Role = "analyst"
	RoleViewer   Role = "viewer"
)

// User represents a system user
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	Email     string `json:"email" db:"email"`
	Username  string `json:"username" db:"username"`
	FirstName string `json:"firstName" db:"first_name"`
	LastName  string `json:"lastName" db:"last_name"`

	PasswordHash string `json:"-" db:"password_hash"`

	Role     Role `json:"role" db:"role"`
	IsActive bool `json:"isActive" db:"is_active"`

	LastLoginAt *time.Time `json:"lastLoginAt,omitempty" db:"last_login_at"`

	OrgID *uuid.UUID `json:"orgId,omitempty" db:"org_id"`

	Settings Variables `json:"settings" db:"settings"`
}

// APIKey represents an API key
type APIKey struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	UserID uuid.UUID  `json:"userId" db:"user_id"`
	OrgID  *uuid.UUID `json:"orgId,omitempty" db:"org_id"`

	Name string `json:"name" db:"name"`

	// Key holds the plaintext secret only in the creation response;
	// storage keeps KeyHash alone
	Key     string `json:"key,omitempty" db:"-"`
	KeyHash string `json:"-" db:"key_hash"`

	IsActive   bool       `json:"isActive" db:"is_active"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty" db:"expires_at"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty" db:"last_used_at"`

	Scopes []string `json:"scopes" db:"scopes"`
}

// IsUsable reports whether the key may authenticate requests
func (k *APIKey) IsUsable() bool {
	if !k.IsActive {
		return false
	}
	return k.ExpiresAt == nil || k.ExpiresAt.After(time.Now())
}
