package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization represents a tenant: the billing and isolation unit that
// owns policies, evaluators and quotas.
type Organization struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	Name        string `json:"name" db:"name"`
	Slug        string `json:"slug" db:"slug"`
	Description string `json:"description" db:"description"`

	// Billing
	BillingEmail string `json:"billingEmail,omitempty" db:"billing_email"`

	// Status
	IsActive    bool       `json:"isActive" db:"is_active"`
	SuspendedAt *time.Time `json:"suspendedAt,omitempty" db:"suspended_at"`

	Settings Variables `json:"settings" db:"settings"`
}
