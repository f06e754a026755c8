package quota

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/storage"
)

// ErrNoSubscription is returned when an organization has no usable
// subscription to charge usage against.
var ErrNoSubscription = errors.New("no usable subscription")

// Result reports the outcome of a quota operation
type Result struct {
	// Allowed is whether the amount was admitted
	Allowed bool
	// Degraded is set when the ledger was unreachable and the configured
	// fail-open behavior admitted the amount without counting it
	Degraded bool
	// Usage is the counter after the operation; nil in degraded mode
	Usage *models.QuotaUsage
}

// Remaining returns how much of the limit is left, or UnlimitedQuota
func (r *Result) Remaining() int64 {
	if r.Usage == nil || r.Usage.QuotaLimit < 0 {
		return models.UnlimitedQuota
	}
	left := r.Usage.QuotaLimit - r.Usage.CurrentUsage
	if left < 0 {
		return 0
	}
	return left
}

// Ledger charges billable usage against per-organization counters. All
// admission decisions go through a single conditional database update, so
// concurrent consumers can never overrun a limit.
type Ledger struct {
	store    storage.Store
	failOpen bool
}

// NewLedger creates a ledger. failOpen keeps serving when the counter
// store is unreachable; every such admission is logged as degraded.
func NewLedger(store storage.Store, failOpen bool) *Ledger {
	return &Ledger{store: store, failOpen: failOpen}
}

// Check reports whether amount would fit without consuming it. The answer
// is advisory: only Consume admits atomically.
func (l *Ledger) Check(ctx context.Context, orgID uuid.UUID, usageType models.UsageType, amount int64) (*Result, error) {
	usage, err := l.store.GetQuotaUsage(ctx, orgID, usageType)
	if err == storage.ErrNotFound {
		usage, err = l.ensureUsage(ctx, orgID, usageType)
	}
	if err != nil {
		return l.degrade(orgID, usageType, err)
	}

	allowed := usage.QuotaLimit < 0 || usage.CurrentUsage+amount <= usage.QuotaLimit
	return &Result{Allowed: allowed, Usage: usage}, nil
}

// Consume atomically admits and counts amount. When the counter row does
// not exist yet it is created from the organization's plan limits first.
func (l *Ledger) Consume(ctx context.Context, orgID uuid.UUID, usageType models.UsageType, amount int64) (*Result, error) {
	ok, usage, err := l.store.TryIncrementQuotaUsage(ctx, orgID, usageType, amount)
	if err == storage.ErrNotFound {
		if _, err = l.ensureUsage(ctx, orgID, usageType); err == nil {
			ok, usage, err = l.store.TryIncrementQuotaUsage(ctx, orgID, usageType, amount)
		}
	}
	if err != nil {
		if err == ErrNoSubscription {
			return nil, err
		}
		return l.degrade(orgID, usageType, err)
	}

	return &Result{Allowed: ok, Usage: usage}, nil
}

// Record counts actuals known only after the work happened (token counts,
// storage growth). It never rejects; an overrun is logged, not unwound.
func (l *Ledger) Record(ctx context.Context, orgID uuid.UUID, usageType models.UsageType, amount int64) (*Result, error) {
	usage, err := l.store.AddQuotaUsage(ctx, orgID, usageType, amount)
	if err == storage.ErrNotFound {
		if _, err = l.ensureUsage(ctx, orgID, usageType); err == nil {
			usage, err = l.store.AddQuotaUsage(ctx, orgID, usageType, amount)
		}
	}
	if err != nil {
		if err == ErrNoSubscription {
			return nil, err
		}
		return l.degrade(orgID, usageType, err)
	}

	if usage.QuotaLimit >= 0 && usage.CurrentUsage > usage.QuotaLimit {
		log.Warn().
			Str("org_id", orgID.String()).
			Str("usage_type", string(usageType)).
			Int64("current_usage", usage.CurrentUsage).
			Int64("quota_limit", usage.QuotaLimit).
			Msg("Post-hoc usage recording overran quota limit")
	}

	return &Result{Allowed: true, Usage: usage}, nil
}

// ensureUsage creates the period counter from the active subscription's
// plan limits
func (l *Ledger) ensureUsage(ctx context.Context, orgID uuid.UUID, usageType models.UsageType) (*models.QuotaUsage, error) {
	sub, err := l.store.GetActiveSubscription(ctx, orgID)
	if err == storage.ErrNotFound {
		return nil, ErrNoSubscription
	}
	if err != nil {
		return nil, err
	}
	if !sub.IsUsable() {
		return nil, ErrNoSubscription
	}

	plan, err := l.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	usage := &models.QuotaUsage{
		OrgID:        orgID,
		UsageType:    usageType,
		CurrentUsage: 0,
		QuotaLimit:   plan.QuotaLimit(usageType),
		PeriodStart:  sub.CurrentPeriodStart,
		PeriodEnd:    sub.CurrentPeriodEnd,
		UpdatedAt:    time.Now(),
	}
	if err := l.store.EnsureQuotaUsage(ctx, usage); err != nil {
		return nil, err
	}

	return l.store.GetQuotaUsage(ctx, orgID, usageType)
}

// degrade applies the fail-open decision for an unreachable ledger
func (l *Ledger) degrade(orgID uuid.UUID, usageType models.UsageType, cause error) (*Result, error) {
	if !l.failOpen {
		return nil, cause
	}

	log.Error().Err(cause).
		Str("org_id", orgID.String()).
		Str("usage_type", string(usageType)).
		Msg("Quota ledger unreachable, admitting in degraded mode")

	return &Result{Allowed: true, Degraded: true}, nil
}
