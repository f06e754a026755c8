package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog represents an audit log entry
type AuditLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	OrgID  *uuid.UUID `json:"orgId,omitempty" db:"org_id"`
	UserID *uuid.UUID `json:"userId,omitempty" db:"user_id"`

	Type  AuditType  `json:"type" db:"type"`
	Level AuditLevel `json:"level" db:"level"`

	Code        string `json:"code" db:"code"`
	Description string `json:"description" db:"description"`

	Details Variables `json:"details,omitempty" db:"details"`
}

// AuditType represents audit event types
type AuditType string

const (
	// Governance events
	AuditTypeEvaluation    AuditType = "EVALUATION"
	AuditTypeViolation     AuditType = "VIOLATION"
	AuditTypeQuotaExceeded AuditType = "QUOTA_EXCEEDED"
	AuditTypeQuotaDegraded AuditType = "QUOTA_DEGRADED"

	// Configuration events
	AuditTypePolicyChange     AuditType = "POLICY_CHANGE"
	AuditTypeEvaluatorChange  AuditType = "EVALUATOR_CHANGE"
	AuditTypeSubscriptionEdit AuditType = "SUBSCRIPTION_EDIT"

	// Account events
	AuditTypeLogin        AuditType = "LOGIN"
	AuditTypeAPICall      AuditType = "API_CALL"
	AuditTypeAPIKeyChange AuditType = "API_KEY_CHANGE"
)

// AuditLevel represents audit severity levels
type AuditLevel string

const (
	AuditLevelDebug   AuditLevel = "DEBUG"
	AuditLevelInfo    AuditLevel = "INFO"
	AuditLevelWarning AuditLevel = "WARNING"
	AuditLevelError   AuditLevel = "ERROR"
)
