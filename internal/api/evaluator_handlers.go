package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/storage"
)

// ========== Evaluator handlers ==========

// HandleListEvaluators lists evaluators for the caller's organization
func (s *RESTServer) HandleListEvaluators(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := s.resolveOrg(w, r)
	if !ok {
		return
	}

	limit, offset := s.pagination(r)

	evaluators, total, err := s.store.ListEvaluators(ctx, orgID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"evaluators": evaluators,
		"total":      total,
	})
}

// HandleCreateEvaluator creates an evaluator
func (s *RESTServer) HandleCreateEvaluator(w http.ResponseWriter, r *http.Request) {
	claims := s.claims(r)

	var req struct {
		Name          string           `json:"name" validate:"required,min=2,max=100"`
		Type          string           `json:"type" validate:"required,oneof=http mock"`
		Metric        string           `json:"metric" validate:"required,min=2,max=64"`
		Model         string           `json:"model"`
		Endpoint      string           `json:"endpoint"`
		CredentialRef string           `json:"credentialRef"`
		Weight        int              `json:"weight"`
		OrgID         *uuid.UUID       `json:"org_id"`
		Settings      models.Variables `json:"settings"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if models.EvaluatorType(req.Type) == models.EvaluatorTypeHTTP && req.Endpoint == "" {
		s.respondError(w, http.StatusBadRequest, "http evaluator requires an endpoint")
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

	ev := &models.Evaluator{
		OrgID:         *orgID,
		Name:          req.Name,
		Type:          models.EvaluatorType(req.Type),
		Metric:        req.Metric,
		Model:         req.Model,
		Endpoint:      req.Endpoint,
		CredentialRef: req.CredentialRef,
		Weight:        req.Weight,
		IsActive:      true,
		Settings:      req.Settings,
	}

	if err := s.store.CreateEvaluator(r.Context(), ev); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "evaluator already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, &ev.OrgID, models.AuditTypeEvaluatorChange, "evaluator.created", ev.Name)

	s.respondJSON(w, http.StatusCreated, ev)
}

// HandleGetEvaluator gets an evaluator
func (s *RESTServer) HandleGetEvaluator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid evaluator id")
		return
	}

	ev, err := s.store.GetEvaluator(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "evaluator not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !s.sameOrg(claims, &ev.OrgID) {
		s.respondError(w, http.StatusNotFound, "evaluator not found")
		return
	}

	s.respondJSON(w, http.StatusOK, ev)
}

// HandleUpdateEvaluator updates an evaluator
func (s *RESTServer) HandleUpdateEvaluator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid evaluator id")
		return
	}

	var req struct {
		Name          string           `json:"name" validate:"required,min=2,max=100"`
		Metric        string           `json:"metric" validate:"required,min=2,max=64"`
		Model         string           `json:"model"`
		Endpoint      string           `json:"endpoint"`
		CredentialRef string           `json:"credentialRef"`
		Weight        int              `json:"weight"`
		IsActive      bool             `json:"isActive"`
		Settings      models.Variables `json:"settings"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := s.store.GetEvaluator(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "evaluator not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !s.sameOrg(claims, &ev.OrgID) {
		s.respondError(w, http.StatusNotFound, "evaluator not found")
		return
	}

	ev.Name = req.Name
	ev.Metric = req.Metric
	ev.Model = req.Model
	ev.Endpoint = req.Endpoint
	ev.CredentialRef = req.CredentialRef
	ev.Weight = req.Weight
	ev.IsActive = req.IsActive
	if req.Settings != nil {
		ev.Settings = req.Settings
	}

	if err := s.store.UpdateEvaluator(ctx, ev); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, &ev.OrgID, models.AuditTypeEvaluatorChange, "evaluator.updated", ev.Name)

	s.respondJSON(w, http.StatusOK, ev)
}

// HandleDeleteEvaluator deletes an evaluator
func (s *RESTServer) HandleDeleteEvaluator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid evaluator id")
		return
	}

	ev, err := s.store.GetEvaluator(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "evaluator not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.sameOrg(claims, &ev.OrgID) {
		s.respondError(w, http.StatusNotFound, "evaluator not found")
		return
	}

	if err := s.store.DeleteEvaluator(ctx, id); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, &ev.OrgID, models.AuditTypeEvaluatorChange, "evaluator.deleted", ev.Name)

	w.WriteHeader(http.StatusNoContent)
}

// ========== Evaluator pool handlers ==========

// HandleListEvaluatorPools lists pools for the caller's organization
func (s *RESTServer) HandleListEvaluatorPools(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orgID, ok := s.resolveOrg(w, r)
	if !ok {
		return
	}

	limit, offset := s.pagination(r)

	pools, total, err := s.store.ListEvaluatorPools(ctx, orgID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"pools": pools,
		"total": total,
	})
}

// HandleCreateEvaluatorPool creates a pool
func (s *RESTServer) HandleCreateEvaluatorPool(w http.ResponseWriter, r *http.Request) {
	claims := s.claims(r)

	var req struct {
		Name      string      `json:"name" validate:"required,min=2,max=100"`
		Strategy  string      `json:"strategy" validate:"required,oneof=round_robin weighted fastest"`
		TimeoutMS int         `json:"timeoutMs" validate:"min=0,max=60000"`
		Members   []uuid.UUID `json:"members"`
		OrgID     *uuid.UUID  `json:"org_id"`
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

	// Members must belong to the same organization
	for _, memberID := range req.Members {
		ev, err := s.store.GetEvaluator(r.Context(), memberID)
		if err != nil || ev.OrgID != *orgID {
			s.respondError(w, http.StatusBadRequest, "unknown pool member")
			return
		}
	}

	pool := &models.EvaluatorPool{
		OrgID:     *orgID,
		Name:      req.Name,
		Strategy:  models.PoolStrategy(req.Strategy),
		TimeoutMS: req.TimeoutMS,
		IsActive:  true,
		Members:   req.Members,
	}

	if err := s.store.CreateEvaluatorPool(r.Context(), pool); err != nil {
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "pool already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, &pool.OrgID, models.AuditTypeEvaluatorChange, "pool.created", pool.Name)

	s.respondJSON(w, http.StatusCreated, pool)
}

// HandleGetEvaluatorPool gets a pool with its members
func (s *RESTServer) HandleGetEvaluatorPool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid pool id")
		return
	}

	pool, err := s.store.GetEvaluatorPool(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "pool not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !s.sameOrg(claims, &pool.OrgID) {
		s.respondError(w, http.StatusNotFound, "pool not found")
		return
	}

	s.respondJSON(w, http.StatusOK, pool)
}

// HandleUpdateEvaluatorPool updates a pool and its member list
func (s *RESTServer) HandleUpdateEvaluatorPool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid pool id")
		return
	}

	var req struct {
		Name      string      `json:"name" validate:"required,min=2,max=100"`
		Strategy  string      `json:"strategy" validate:"required,oneof=round_robin weighted fastest"`
		TimeoutMS int         `json:"timeoutMs" validate:"min=0,max=60000"`
		IsActive  bool        `json:"isActive"`
		Members   []uuid.UUID `json:"members"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	pool, err := s.store.GetEvaluatorPool(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "pool not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !s.sameOrg(claims, &pool.OrgID) {
		s.respondError(w, http.StatusNotFound, "pool not found")
		return
	}

	for _, memberID := range req.Members {
		ev, err := s.store.GetEvaluator(ctx, memberID)
		if err != nil || ev.OrgID != pool.OrgID {
			s.respondError(w, http.StatusBadRequest, "unknown pool member")
			return
		}
	}

	pool.Name = req.Name
	pool.Strategy = models.PoolStrategy(req.Strategy)
	pool.TimeoutMS = req.TimeoutMS
	pool.IsActive = req.IsActive
	pool.Members = req.Members

	if err := s.store.UpdateEvaluatorPool(ctx, pool); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, &pool.OrgID, models.AuditTypeEvaluatorChange, "pool.updated", pool.Name)

	s.respondJSON(w, http.StatusOK, pool)
}

// HandleDeleteEvaluatorPool deletes a pool
func (s *RESTServer) HandleDeleteEvaluatorPool(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid pool id")
		return
	}

	pool, err := s.store.GetEvaluatorPool(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "pool not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !s.sameOrg(claims, &pool.OrgID) {
		s.respondError(w, http.StatusNotFound, "pool not found")
		return
	}

	if err := s.store.DeleteEvaluatorPool(ctx, id); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, &pool.OrgID, models.AuditTypeEvaluatorChange, "pool.deleted", pool.Name)

	w.WriteHeader(http.StatusNoContent)
}
