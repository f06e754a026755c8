package models

import (
	"time"

	"github.com/google/uuid"
)

// UsageType identifies a billable usage dimension
type UsageType string

const (
	UsageTypeUsers          UsageType = "users"
	UsageTypeAPICalls       UsageType = "api_calls"
	UsageTypeStorageBytes   UsageType = "storage_bytes"
	UsageTypeTokens         UsageType = "tokens"
	UsageTypeEvaluatorCalls UsageType = "evaluator_calls"
)

// UnlimitedQuota is the sentinel limit that always allows
const UnlimitedQuota int64 = -1

// SubscriptionStatus represents the subscription lifecycle state
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

// QuotaMap holds per-usage-type limits. A value of -1 means unlimited.
type QuotaMap map[UsageType]int64

// SubscriptionPlan represents a named tier. Plans are immutable templates:
// many subscriptions reference one plan.
type SubscriptionPlan struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	Name        string `json:"name" db:"name"`
	Slug        string `json:"slug" db:"slug"`
	Description string `json:"description" db:"description"`

	Quotas   Variables `json:"quotas" db:"quotas"`
	Features Variables `json:"features" db:"features"`

	PriceCents int64 `json:"priceCents" db:"price_cents"`
}

// QuotaLimit returns the plan limit for a usage type, unlimited when unset.
func (p *SubscriptionPlan) QuotaLimit(usageType UsageType) int64 {
	raw, ok := p.Quotas[string(usageType)]
	if !ok {
		return UnlimitedQuota
	}
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return UnlimitedQuota
	}
}

// Subscription represents an organization's active plan instance
type Subscription struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`

	OrgID  uuid.UUID `json:"orgId" db:"org_id"`
	PlanID uuid.UUID `json:"planId" db:"plan_id"`

	Status SubscriptionStatus `json:"status" db:"status"`

	CurrentPeriodStart time.Time `json:"currentPeriodStart" db:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"currentPeriodEnd" db:"current_period_end"`

	CanceledAt *time.Time `json:"canceledAt,omitempty" db:"canceled_at"`
}

// IsUsable reports whether the subscription admits billable usage
func (s *Subscription) IsUsable() bool {
	return s.Status == SubscriptionActive || s.Status == SubscriptionTrialing
}

// QuotaUsage is the running counter for one (org, usage_type) pair within
// a billing period. Rows are created lazily on first usage and rolled over
// by the quota-reaper when the period ends.
type QuotaUsage struct {
	ID uuid.UUID `json:"id" db:"id"`

	OrgID     uuid.UUID `json:"orgId" db:"org_id"`
	UsageType UsageType `json:"usageType" db:"usage_type"`

	CurrentUsage int64 `json:"currentUsage" db:"current_usage"`
	QuotaLimit   int64 `json:"quotaLimit" db:"quota_limit"`

	PeriodStart time.Time `json:"periodStart" db:"period_start"`
	PeriodEnd   time.Time `json:"periodEnd" db:"period_end"`

	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// UsageRecord is the period aggregate handed to the billing provider
type UsageRecord struct {
	OrgID       uuid.UUID `json:"orgId"`
	UsageType   UsageType `json:"usageType"`
	Total       int64     `json:"total"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}
