package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/storage"
)

// ========== Organization handlers ==========

// HandleListOrganizations lists organizations. Org-scoped callers get a
// single-element list holding their own org.
func (s *RESTServer) HandleListOrganizations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	if claims.OrgID != nil {
		org, err := s.store.GetOrganization(ctx, *claims.OrgID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{
			"organizations": []*models.Organization{org},
			"total":         1,
		})
		return
	}

	limit, offset := s.pagination(r)

	orgs, total, err := s.store.ListOrganizations(ctx, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"organizations": orgs,
		"total":         total,
	})
}

// HandleCreateOrganization creates an organization with a subscription on
// the requested plan (starter when unset)
func (s *RESTServer) HandleCreateOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Name         string `json:"name" validate:"required,min=3,max=100"`
		Slug         string `json:"slug" validate:"required,min=3,max=64"`
		Description  string `json:"description"`
		BillingEmail string `json:"billingEmail" validate:"email"`
		Plan         string `json:"plan"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Plan == "" {
		req.Plan = "starter"
	}
	plan, err := s.store.GetPlanBySlug(ctx, req.Plan)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusBadRequest, "unknown plan")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	org := &models.Organization{
		Name:         req.Name,
		Slug:         req.Slug,
		Description:  req.Description,
		BillingEmail: req.BillingEmail,
		IsActive:     true,
		Settings:     make(models.Variables),
	}

	if err := s.store.CreateOrganization(ctx, org); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "organization already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now()
	sub := &models.Subscription{
		OrgID:              org.ID,
		PlanID:             plan.ID,
		Status:             models.SubscriptionActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if err := s.store.CreateSubscription(ctx, sub); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"organization": org,
		"subscription": sub,
	})
}

// HandleGetOrganization gets an organization
func (s *RESTServer) HandleGetOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	if !s.sameOrg(claims, &id) {
		s.respondError(w, http.StatusNotFound, "organization not found")
		return
	}

	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "organization not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, org)
}

// HandleUpdateOrganization updates an organization
func (s *RESTServer) HandleUpdateOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	if !s.sameOrg(claims, &id) {
		s.respondError(w, http.StatusNotFound, "organization not found")
		return
	}

	var req struct {
		Name         string `json:"name" validate:"required,min=3,max=100"`
		Description  string `json:"description"`
		BillingEmail string `json:"billingEmail" validate:"email"`
		IsActive     *bool  `json:"is_active"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	org, err := s.store.GetOrganization(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "organization not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	org.Name = req.Name
	org.Description = req.Description
	org.BillingEmail = req.BillingEmail

	// Suspension is a platform admin operation
	if req.IsActive != nil && claims.IsAdmin() {
		if org.IsActive && !*req.IsActive {
			now := time.Now()
			org.SuspendedAt = &now
		}
		if !org.IsActive && *req.IsActive {
			org.SuspendedAt = nil
		}
		org.IsActive = *req.IsActive
	}

	if err := s.store.UpdateOrganization(ctx, org); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, org)
}

// HandleDeleteOrganization deletes an organization
func (s *RESTServer) HandleDeleteOrganization(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	if err := s.store.DeleteOrganization(ctx, id); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "organization not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleGetOrganizationUsage lists the organization's quota counters
func (s *RESTServer) HandleGetOrganizationUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	if !s.sameOrg(claims, &id) {
		s.respondError(w, http.StatusNotFound, "organization not found")
		return
	}

	usages, err := s.store.ListQuotaUsage(ctx, id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"usage": usages,
	})
}

// HandleGetSubscription gets the organization's live subscription
func (s *RESTServer) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	if !s.sameOrg(claims, &id) {
		s.respondError(w, http.StatusNotFound, "organization not found")
		return
	}

	sub, err := s.store.GetActiveSubscription(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "no active subscription")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	plan, err := s.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscription": sub,
		"plan":         plan,
	})
}

// HandleUpdateSubscription changes the organization's plan or status.
// Plan changes refresh the quota limits of existing counters on the next
// period rollover; the current period keeps its admitted usage.
func (s *RESTServer) HandleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid organization id")
		return
	}

	var req struct {
		Plan   string `json:"plan"`
		Status string `json:"status" validate:"oneof=active trialing past_due canceled incomplete"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := s.store.GetActiveSubscription(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "no active subscription")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.Plan != "" {
		plan, err := s.store.GetPlanBySlug(ctx, req.Plan)
		if err != nil {
			if err == storage.ErrNotFound {
				s.respondError(w, http.StatusBadRequest, "unknown plan")
				return
			}
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		sub.PlanID = plan.ID
	}
	if req.Status != "" {
		status := models.SubscriptionStatus(req.Status)
		if status == models.SubscriptionCanceled && sub.CanceledAt == nil {
			now := time.Now()
			sub.CanceledAt = &now
		}
		sub.Status = status
	}

	if err := s.store.UpdateSubscription(ctx, sub); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.recorder.Record(&models.AuditLog{
		OrgID:       &id,
		UserID:      &claims.UserID,
		Type:        models.AuditTypeSubscriptionEdit,
		Level:       models.AuditLevelInfo,
		Code:        "subscription.updated",
		Description: "Subscription updated",
		Details: models.Variables{
			"plan_id": sub.PlanID.String(),
			"status":  string(sub.Status),
		},
	})

	s.respondJSON(w, http.StatusOK, sub)
}

// HandleListPlans lists subscription plans
func (s *RESTServer) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.store.ListPlans(r.Context())
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"plans": plans,
	})
}
