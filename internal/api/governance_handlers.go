package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/pipeline"
	"github.com/crossaudit/governance-server/internal/policy"
	"github.com/crossaudit/governance-server/internal/storage"
)

// ========== Policy handlers ==========

// HandleListPolicies lists policies for the caller's organization in
// evaluation order
func (s *RESTServer) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := s.resolveOrg(w, r)
	if !ok {
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"

	policies, err := s.store.ListPolicies(ctx, orgID, activeOnly)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"policies": policies,
		"total":    len(policies),
	})
}

// HandleCreatePolicy creates a policy. New policies start inactive; they
// become active through the activate endpoint after validation.
func (s *RESTServer) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	claims := s.claims(r)

	var req struct {
		Name        string     `json:"name" validate:"required,min=2,max=100"`
		Description string     `json:"description"`
		Source      string     `json:"source" validate:"required"`
		Priority    int        `json:"priority"`
		PoolID      *uuid.UUID `json:"poolId"`
		OrgID       *uuid.UUID `json:"org_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	orgID := req.OrgID
	if claims.OrgID != nil {
		orgID = claims.OrgID
	}
	if orgID == nil {
		s.respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	if req.PoolID != nil {
		pool, err := s.store.GetEvaluatorPool(r.Context(), *req.PoolID)
		if err != nil || pool.OrgID != *orgID {
			s.respondError(w, http.StatusBadRequest, "unknown evaluator pool")
			return
		}
	}

	// Source must at least parse; full validation gates activation
	if _, err := policy.ParseDocument(req.Source); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pol := &models.Policy{
		OrgID:       *orgID,
		Name:        req.Name,
		Description: req.Description,
		Source:      req.Source,
		Priority:    req.Priority,
		PoolID:      req.PoolID,
		IsActive:    false,
	}

	if err := s.store.CreatePolicy(r.Context(), pol); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "policy already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, &pol.OrgID, models.AuditTypePolicyChange, "policy.created", pol.Name)

	s.respondJSON(w, http.StatusCreated, pol)
}

// HandleGetPolicy gets a policy
func (s *RESTServer) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	pol, ok := s.policyForRequest(w, r)
	if !ok {
		return
	}
	s.respondJSON(w, http.StatusOK, pol)
}

// HandleUpdatePolicy updates a policy. Changing the source deactivates
// the policy until it is validated and activated again.
func (s *RESTServer) HandleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	pol, ok := s.policyForRequest(w, r)
	if !ok {
		return
	}

	var req struct {
		Name        string     `json:"name" validate:"required,min=2,max=100"`
		Description string     `json:"description"`
		Source      string     `json:"source" validate:"required"`
		Priority    int        `json:"priority"`
		PoolID      *uuid.UUID `json:"poolId"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.PoolID != nil {
		pool, err := s.store.GetEvaluatorPool(ctx, *req.PoolID)
		if err != nil || pool.OrgID != pol.OrgID {
			s.respondError(w, http.StatusBadRequest, "unknown evaluator pool")
			return
		}
	}

	if _, err := policy.ParseDocument(req.Source); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Source != pol.Source {
		pol.IsActive = false
	}
	pol.Name = req.Name
	pol.Description = req.Description
	pol.Source = req.Source
	pol.Priority = req.Priority
	pol.PoolID = req.PoolID

	if err := s.store.UpdatePolicy(ctx, pol); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, &pol.OrgID, models.AuditTypePolicyChange, "policy.updated", pol.Name)

	s.respondJSON(w, http.StatusOK, pol)
}

// HandleDeletePolicy deletes a policy
func (s *RESTServer) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	claims := s.claims(r)

	pol, ok := s.policyForRequest(w, r)
	if !ok {
		return
	}

	if err := s.store.DeletePolicy(r.Context(), pol.ID); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, &pol.OrgID, models.AuditTypePolicyChange, "policy.deleted", pol.Name)

	w.WriteHeader(http.StatusNoContent)
}

// HandleValidatePolicy validates a policy's source without activating it
func (s *RESTServer) HandleValidatePolicy(w http.ResponseWriter, r *http.Request) {
	pol, ok := s.policyForRequest(w, r)
	if !ok {
		return
	}

	result := policy.Validate(pol.Source)

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// HandleActivatePolicy validates and activates a policy. Invalid sources
// never become active.
func (s *RESTServer) HandleActivatePolicy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	pol, ok := s.policyForRequest(w, r)
	if !ok {
		return
	}

	result := policy.Validate(pol.Source)
	if !result.Valid() {
		s.respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"valid":    false,
			"errors":   result.Errors,
			"warnings": result.Warnings,
		})
		return
	}

	pol.IsActive = true
	if err := s.store.UpdatePolicy(ctx, pol); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, &pol.OrgID, models.AuditTypePolicyChange, "policy.activated", pol.Name)

	s.respondJSON(w, http.StatusOK, pol)
}

// policyForRequest loads the policy in the URL and checks org visibility
func (s *RESTServer) policyForRequest(w http.ResponseWriter, r *http.Request) (*models.Policy, bool) {
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid policy id")
		return nil, false
	}

	pol, err := s.store.GetPolicy(r.Context(), id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "policy not found")
			return nil, false
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}

	if !s.sameOrg(claims, &pol.OrgID) {
		s.respondError(w, http.StatusNotFound, "policy not found")
		return nil, false
	}

	return pol, true
}

// ========== Governance handlers ==========

// HandleEvaluate runs content through the governance pipeline
func (s *RESTServer) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	claims := s.claims(r)

	var req struct {
		InputText     string           `json:"inputText" validate:"required"`
		GeneratedText string           `json:"generatedText"`
		Context       models.Variables `json:"context"`
		TokenCount    int64            `json:"tokenCount" validate:"min=0"`
		OrgID         *uuid.UUID       `json:"org_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	orgID := req.OrgID
	if claims.OrgID != nil {
		orgID = claims.OrgID
	}
	if orgID == nil {
		s.respondError(w, http.StatusBadRequest, "org_id is required")
		return
	}

	result, err := s.pipeline.Evaluate(r.Context(), &pipeline.Request{
		OrgID:         *orgID,
		UserID:        &claims.UserID,
		InputText:     req.InputText,
		GeneratedText: req.GeneratedText,
		Context:       req.Context,
		TokenCount:    req.TokenCount,
	})
	if err != nil {
		var quotaErr *pipeline.QuotaExceededError
		if errors.As(err, &quotaErr) {
			s.respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
				"error":      "quota exceeded",
				"usage_type": string(quotaErr.UsageType),
				"remaining":  quotaErr.Remaining,
				"limit":      quotaErr.Limit,
			})
			return
		}
		var evalErr *pipeline.EvaluatorError
		if errors.As(err, &evalErr) {
			s.respondError(w, http.StatusBadGateway, evalErr.Error())
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"evaluation": result.Evaluation,
		"degraded":   result.Degraded,
	})
}

// ========== Evaluation record handlers ==========

// HandleListEvaluations lists evaluation records
func (s *RESTServer) HandleListEvaluations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	filters := storage.EvaluationFilters{}

	if claims.OrgID != nil {
		filters.OrgID = claims.OrgID
	} else if oid := r.URL.Query().Get("org_id"); oid != "" {
		if id, err := uuid.Parse(oid); err == nil {
			filters.OrgID = &id
		}
	}
	if pid := r.URL.Query().Get("policy_id"); pid != "" {
		if id, err := uuid.Parse(pid); err == nil {
			filters.PolicyID = &id
		}
	}
	if action := r.URL.Query().Get("action"); action != "" {
		a := models.Action(action)
		filters.Action = &a
	}
	if severity := r.URL.Query().Get("severity"); severity != "" {
		sev := models.Severity(severity)
		filters.Severity = &sev
	}
	if start := r.URL.Query().Get("start"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			filters.StartTime = &t
		}
	}
	if end := r.URL.Query().Get("end"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			filters.EndTime = &t
		}
	}

	limit, offset := s.pagination(r)

	evals, total, err := s.store.ListEvaluations(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"evaluations": evals,
		"total":       total,
	})
}

// HandleGetEvaluation gets an evaluation with its violations
func (s *RESTServer) HandleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid evaluation id")
		return
	}

	eval, err := s.store.GetEvaluation(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "evaluation not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !s.sameOrg(claims, &eval.OrgID) {
		s.respondError(w, http.StatusNotFound, "evaluation not found")
		return
	}

	s.respondJSON(w, http.StatusOK, eval)
}

// ========== Audit handlers ==========

// HandleListAuditLogs lists audit trail entries
func (s *RESTServer) HandleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	filters := storage.AuditLogFilters{}

	if claims.OrgID != nil {
		filters.OrgID = claims.OrgID
	} else if oid := r.URL.Query().Get("org_id"); oid != "" {
		if id, err := uuid.Parse(oid); err == nil {
			filters.OrgID = &id
		}
	}
	if uid := r.URL.Query().Get("user_id"); uid != "" {
		if id, err := uuid.Parse(uid); err == nil {
			filters.UserID = &id
		}
	}
	if typ := r.URL.Query().Get("type"); typ != "" {
		t := models.AuditType(typ)
		filters.Type = &t
	}
	if level := r.URL.Query().Get("level"); level != "" {
		l := models.AuditLevel(level)
		filters.Level = &l
	}
	if start := r.URL.Query().Get("start"); start != "" {
		if t, err := time.Parse(time.RFC3339, start); err == nil {
			filters.StartTime = &t
		}
	}
	if end := r.URL.Query().Get("end"); end != "" {
		if t, err := time.Parse(time.RFC3339, end); err == nil {
			filters.EndTime = &t
		}
	}

	limit, offset := s.pagination(r)

	entries, total, err := s.store.ListAuditLogs(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   total,
	})
}
