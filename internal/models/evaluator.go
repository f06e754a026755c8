package models

import (
	"time"

	"github.com/google/uuid"
)

// EvaluatorType identifies the backend kind of an evaluator
type EvaluatorType string

const (
	EvaluatorTypeHTTP EvaluatorType = "http"
	EvaluatorTypeMock EvaluatorType = "mock"
)

// PoolStrategy selects how a pool dispatches to its members
type PoolStrategy string

const (
	StrategyRoundRobin PoolStrategy = "round_robin"
	StrategyWeighted   PoolStrategy = "weighted"
	StrategyFastest    PoolStrategy = "fastest"
)

// Evaluator is a named scoring backend configuration owned by an
// organization. Credentials are referenced by name, never stored inline.
type Evaluator struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	OrgID uuid.UUID `json:"orgId" db:"org_id"`

	Name string        `json:"name" db:"name"`
	Type EvaluatorType `json:"type" db:"type"`

	// Metric is the score dimension this backend produces (toxicity, pii, ...)
	Metric string `json:"metric" db:"metric"`

	Model         string `json:"model,omitempty" db:"model"`
	Endpoint      string `json:"endpoint,omitempty" db:"endpoint"`
	CredentialRef string `json:"credentialRef,omitempty" db:"credential_ref"`

	Weight   int  `json:"weight" db:"weight"`
	IsActive bool `json:"isActive" db:"is_active"`

	Settings Variables `json:"settings" db:"settings"`
}

// EvaluatorPool is an ordered set of evaluators dispatched together under
// one strategy with a shared timeout budget.
type EvaluatorPool struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	OrgID uuid.UUID `json:"orgId" db:"org_id"`

	Name     string       `json:"name" db:"name"`
	Strategy PoolStrategy `json:"strategy" db:"strategy"`

	// TimeoutMS bounds every member call
	TimeoutMS int `json:"timeoutMs" db:"timeout_ms"`

	IsActive bool `json:"isActive" db:"is_active"`

	// Members in dispatch order
	Members []uuid.UUID `json:"members" db:"-"`
}
