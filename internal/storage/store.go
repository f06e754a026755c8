package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidData  = errors.New("invalid data")
)

// Store defines the storage interface
type Store interface {
	// Transaction support
	BeginTx(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error

	// User methods
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ListUsers(ctx context.Context, orgID *uuid.UUID, limit, offset int) ([]*models.User, int64, error)

	// API key methods
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*models.APIKey, error)
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	DeleteAPIKey(ctx context.Context, id uuid.UUID) error
	TouchAPIKey(ctx context.Context, id uuid.UUID, when time.Time) error

	// Organization methods
	CreateOrganization(ctx context.Context, org *models.Organization) error
	GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error)
	UpdateOrganization(ctx context.Context, org *models.Organization) error
	DeleteOrganization(ctx context.Context, id uuid.UUID) error
	ListOrganizations(ctx context.Context, limit, offset int) ([]*models.Organization, int64, error)

	// Subscription plan methods
	CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error
	GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*models.SubscriptionPlan, error)
	ListPlans(ctx context.Context) ([]*models.SubscriptionPlan, error)

	// Subscription methods
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetActiveSubscription(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error

	// Quota usage methods
	EnsureQuotaUsage(ctx context.Context, usage *models.QuotaUsage) error
	GetQuotaUsage(ctx context.Context, orgID uuid.UUID, usageType models.UsageType) (*models.QuotaUsage, error)
	ListQuotaUsage(ctx context.Context, orgID uuid.UUID) ([]*models.QuotaUsage, error)
	// TryIncrementQuotaUsage atomically increments current_usage when the
	// limit admits the amount; returns false without mutation otherwise.
	TryIncrementQuotaUsage(ctx context.Context, orgID uuid.UUID, usageType models.UsageType, amount int64) (bool, *models.QuotaUsage, error)
	// AddQuotaUsage increments unconditionally (post-hoc actuals)
	AddQuotaUsage(ctx context.Context, orgID uuid.UUID, usageType models.UsageType, amount int64) (*models.QuotaUsage, error)
	ListExpiredQuotaUsage(ctx context.Context, now time.Time) ([]*models.QuotaUsage, error)
	// RolloverQuotaUsage resets a counter into a new billing period with
	// the limit the plan grants for it
	RolloverQuotaUsage(ctx context.Context, id uuid.UUID, quotaLimit int64, periodStart, periodEnd time.Time) error

	// Evaluator methods
	CreateEvaluator(ctx context.Context, ev *models.Evaluator) error
	GetEvaluator(ctx context.Context, id uuid.UUID) (*models.Evaluator, error)
	UpdateEvaluator(ctx context.Context, ev *models.Evaluator) error
	DeleteEvaluator(ctx context.Context, id uuid.UUID) error
	ListEvaluators(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.Evaluator, int64, error)

	// Evaluator pool methods
	CreateEvaluatorPool(ctx context.Context, pool *models.EvaluatorPool) error
	GetEvaluatorPool(ctx context.Context, id uuid.UUID) (*models.EvaluatorPool, error)
	UpdateEvaluatorPool(ctx context.Context, pool *models.EvaluatorPool) error
	DeleteEvaluatorPool(ctx context.Context, id uuid.UUID) error
	ListEvaluatorPools(ctx context.Context, orgID uuid.UUID, limit, offset int) ([]*models.EvaluatorPool, int64, error)
	// GetPoolEvaluators resolves active members in dispatch order
	GetPoolEvaluators(ctx context.Context, poolID uuid.UUID) ([]*models.Evaluator, error)

	// Policy methods
	CreatePolicy(ctx context.Context, policy *models.Policy) error
	GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error)
	UpdatePolicy(ctx context.Context, policy *models.Policy) error
	DeletePolicy(ctx context.Context, id uuid.UUID) error
	ListPolicies(ctx context.Context, orgID uuid.UUID, activeOnly bool) ([]*models.Policy, error)

	// Evaluation methods
	CreateEvaluation(ctx context.Context, eval *models.PolicyEvaluation) error
	GetEvaluation(ctx context.Context, id uuid.UUID) (*models.PolicyEvaluation, error)
	ListEvaluations(ctx context.Context, filters EvaluationFilters, limit, offset int) ([]*models.PolicyEvaluation, int64, error)

	// Audit log methods
	CreateAuditLog(ctx context.Context, entry *models.AuditLog) error
	ListAuditLogs(ctx context.Context, filters AuditLogFilters, limit, offset int) ([]*models.AuditLog, int64, error)

	// Close the store
	Close() error
}

// EvaluationFilters represents filters for policy evaluations
type EvaluationFilters struct {
	OrgID     *uuid.UUID
	PolicyID  *uuid.UUID
	Action    *models.Action
	Severity  *models.Severity
	StartTime *time.Time
	EndTime   *time.Time
}

// AuditLogFilters represents filters for audit logs
type AuditLogFilters struct {
	OrgID     *uuid.UUID
	UserID    *uuid.UUID
	Type      *models.AuditType
	Level     *models.AuditLevel
	StartTime *time.Time
	EndTime   *time.Time
}
