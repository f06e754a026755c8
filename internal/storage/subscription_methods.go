package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
)

// CreatePlan creates a subscription plan
func (s *PostgresStore) CreatePlan(ctx context.Context, plan *models.SubscriptionPlan) error {
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO subscription_plans (
			id, created_at, name, slug, description, quotas, features, price_cents
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := s.getDB().ExecContext(ctx, query,
		plan.ID, plan.CreatedAt, plan.Name, plan.Slug, plan.Description,
		plan.Quotas, plan.Features, plan.PriceCents,
	)

	return mapError(err)
}

// GetPlan gets a plan by ID
func (s *PostgresStore) GetPlan(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	query := `
		SELECT id, created_at, name, slug, description, quotas, features, price_cents
		FROM subscription_plans WHERE id = $1`
	return s.scanPlan(s.getDB().QueryRowContext(ctx, query, id))
}

// GetPlanBySlug gets a plan by slug
func (s *PostgresStore) GetPlanBySlug(ctx context.Context, slug string) (*models.SubscriptionPlan, error) {
	query := `
		SELECT id, created_at, name, slug, description, quotas, features, price_cents
		FROM subscription_plans WHERE slug = $1`
	return s.scanPlan(s.getDB().QueryRowContext(ctx, query, slug))
}

// ListPlans lists all plans
func (s *PostgresStore) ListPlans(ctx context.Context) ([]*models.SubscriptionPlan, error) {
	query := `
		SELECT id, created_at, name, slug, description, quotas, features, price_cents
		FROM subscription_plans ORDER BY price_cents`

	rows, err := s.getDB().QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plans []*models.SubscriptionPlan
	for rows.Next() {
		plan := &models.SubscriptionPlan{}
		err := rows.Scan(
			&plan.ID, &plan.CreatedAt, &plan.Name, &plan.Slug, &plan.Description,
			&plan.Quotas, &plan.Features, &plan.PriceCents,
		)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}

	return plans, rows.Err()
}

func (s *PostgresStore) scanPlan(row rowScanner) (*models.SubscriptionPlan, error) {
	plan := &models.SubscriptionPlan{}
	err := row.Scan(
		&plan.ID, &plan.CreatedAt, &plan.Name, &plan.Slug, &plan.Description,
		&plan.Quotas, &plan.Features, &plan.PriceCents,
	)
	if err != nil {
		return nil, mapError(err)
	}
	return plan, nil
}

// CreateSubscription creates a subscription. The partial unique index on
// subscriptions guarantees at most one live subscription per organization.
func (s *PostgresStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	query := `
		INSERT INTO subscriptions (
			id, created_at, updated_at, org_id, plan_id, status,
			current_period_start, current_period_end, canceled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.getDB().ExecContext(ctx, query,
		sub.ID, sub.CreatedAt, sub.UpdatedAt, sub.OrgID, sub.PlanID,
		sub.Status, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CanceledAt,
	)

	return mapError(err)
}

// GetActiveSubscription gets the live subscription for an organization
func (s *PostgresStore) GetActiveSubscription(ctx context.Context, orgID uuid.UUID) (*models.Subscription, error) {
	query := `
		SELECT id, created_at, updated_at, org_id, plan_id, status,
			current_period_start, current_period_end, canceled_at
		FROM subscriptions
		WHERE org_id = $1 AND status <> 'canceled'`

	sub := &models.Subscription{}
	err := s.getDB().QueryRowContext(ctx, query, orgID).Scan(
		&sub.ID, &sub.CreatedAt, &sub.UpdatedAt, &sub.OrgID, &sub.PlanID,
		&sub.Status, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CanceledAt,
	)
	if err != nil {
		return nil, mapError(err)
	}

	return sub, nil
}

// UpdateSubscription updates a subscription
func (s *PostgresStore) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	sub.UpdatedAt = time.Now()

	query := `
		UPDATE subscriptions SET
			updated_at = $2, plan_id = $3, status = $4,
			current_period_start = $5, current_period_end = $6, canceled_at = $7
		WHERE id = $1`

	result, err := s.getDB().ExecContext(ctx, query,
		sub.ID, sub.UpdatedAt, sub.PlanID, sub.Status,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CanceledAt,
	)
	if err != nil {
		return mapError(err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}
