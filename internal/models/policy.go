package models

import (
	"time"

	"github.com/google/uuid"
)

// Action is the decision taken for evaluated content
type Action string

const (
	ActionAllow   Action = "allow"
	ActionBlock   Action = "block"
	ActionRewrite Action = "rewrite"
	ActionRedact  Action = "redact"
)

// Severity grades a decision or violation
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EvaluationStatus is the lifecycle state of a PolicyEvaluation.
// pending is the only non-terminal state; once persisted with a terminal
// state the record is never mutated.
type EvaluationStatus string

const (
	EvaluationPending   EvaluationStatus = "pending"
	EvaluationAllowed   EvaluationStatus = "allowed"
	EvaluationBlocked   EvaluationStatus = "blocked"
	EvaluationRewritten EvaluationStatus = "rewritten"
	EvaluationRedacted  EvaluationStatus = "redacted"
)

// StatusForAction maps a decided action to the terminal evaluation status
func StatusForAction(a Action) EvaluationStatus {
	switch a {
	case ActionBlock:
		return EvaluationBlocked
	case ActionRewrite:
		return EvaluationRewritten
	case ActionRedact:
		return EvaluationRedacted
	default:
		return EvaluationAllowed
	}
}

// Policy is an organization-owned rule document. Source holds the
// human-authored YAML; the parsed form is rebuilt from Source on load and
// cached by the engine. Lower priority evaluates first, ties broken by
// creation order.
type Policy struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	OrgID uuid.UUID `json:"orgId" db:"org_id"`

	Name        string `json:"name" db:"name"`
	Description string `json:"description" db:"description"`

	Source   string `json:"source" db:"source"`
	Priority int    `json:"priority" db:"priority"`

	PoolID *uuid.UUID `json:"poolId,omitempty" db:"pool_id"`

	IsActive bool `json:"isActive" db:"is_active"`
}

// PolicyEvaluation is the append-only record of one governance decision
type PolicyEvaluation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	OrgID    uuid.UUID  `json:"orgId" db:"org_id"`
	UserID   *uuid.UUID `json:"userId,omitempty" db:"user_id"`
	PolicyID *uuid.UUID `json:"policyId,omitempty" db:"policy_id"`

	InputText     string `json:"inputText" db:"input_text"`
	GeneratedText string `json:"generatedText,omitempty" db:"generated_text"`
	FinalText     string `json:"finalText,omitempty" db:"final_text"`

	Status   EvaluationStatus `json:"status" db:"status"`
	Action   Action           `json:"action" db:"action"`
	Severity Severity         `json:"severity" db:"severity"`

	Scores ScoreMap `json:"scores" db:"scores"`

	DurationMS int64 `json:"durationMs" db:"duration_ms"`

	Violations []*PolicyViolation `json:"violations,omitempty" db:"-"`
}

// PolicyViolation is recorded when a rule match represents a violation
type PolicyViolation struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	EvaluationID uuid.UUID `json:"evaluationId" db:"evaluation_id"`

	Type       string   `json:"type" db:"type"`
	Severity   Severity `json:"severity" db:"severity"`
	RuleID     string   `json:"ruleId" db:"rule_id"`
	Confidence float64  `json:"confidence" db:"confidence"`
}
