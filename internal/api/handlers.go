package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crossaudit/governance-server/internal/auth"
	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/quota"
	"github.com/crossaudit/governance-server/internal/storage"
	"github.com/crossaudit/governance-server/pkg/crypto"
)

// ========== Auth handlers ==========

// HandleLogin handles user login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !s.auth.VerifyPassword(req.Password, user.PasswordHash) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if !user.IsActive {
		s.respondError(w, http.StatusForbidden, "account is disabled")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(user)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	now := time.Now()
	user.LastLoginAt = &now
	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("Failed to record login time")
	}

	s.recorder.Record(&models.AuditLog{
		OrgID:       user.OrgID,
		UserID:      &user.ID,
		Type:        models.AuditTypeLogin,
		Level:       models.AuditLevelInfo,
		Code:        "auth.login",
		Description: "User logged in",
	})

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token" validate:"required"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	userID, err := s.auth.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	user, err := s.store.GetUser(r.Context(), userID)
	if err != nil || !user.IsActive {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(user)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== User handlers ==========

// HandleGetCurrentUser gets the authenticated user
func (s *RESTServer) HandleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	claims := s.claims(r)

	user, err := s.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "user not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, user)
}

// HandleListUsers lists users. Org-scoped callers only see their own org.
func (s *RESTServer) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	var orgID *uuid.UUID
	if oid := r.URL.Query().Get("org_id"); oid != "" {
		id, err := uuid.Parse(oid)
		if err == nil {
			orgID = &id
		}
	}
	if claims.OrgID != nil {
		orgID = claims.OrgID
	}

	limit, offset := s.pagination(r)

	users, total, err := s.store.ListUsers(ctx, orgID, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"total": total,
	})
}

// HandleCreateUser creates a user
func (s *RESTServer) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	claims := s.claims(r)

	var req struct {
		Email     string     `json:"email" validate:"required,email"`
		Password  string     `json:"password" validate:"required,min=8"`
		Username  string     `json:"username,omitempty"`
		FirstName string     `json:"firstName,omitempty"`
		LastName  string     `json:"lastName,omitempty"`
		Role      string     `json:"role" validate:"oneof=admin org_admin analyst viewer"`
		OrgID     *uuid.UUID `json:"org_id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Username == "" {
		req.Username = req.Email
	}

	// Org-scoped admins create users inside their own org only, and
	// cannot mint platform admins
	if claims.OrgID != nil {
		req.OrgID = claims.OrgID
		if models.Role(req.Role) == models.RoleAdmin {
			s.respondError(w, http.StatusForbidden, "cannot create platform admin")
			return
		}
	}

	// Seats count against the org's user quota. Orgs without a
	// subscription have no plan to charge against and are not gated.
	seatCharged := false
	if req.OrgID != nil {
		admission, err := s.ledger.Consume(r.Context(), *req.OrgID, models.UsageTypeUsers, 1)
		if err != nil && err != quota.ErrNoSubscription {
			s.respondError(w, http.StatusInternalServerError, "failed to check user quota")
			return
		}
		if err == nil {
			if !admission.Allowed {
				s.respondError(w, http.StatusTooManyRequests, "user quota exhausted for organization")
				return
			}
			seatCharged = !admission.Degraded
		}
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user := &models.User{
		Email:        req.Email,
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: hash,
		Role:         models.Role(req.Role),
		OrgID:        req.OrgID,
		IsActive:     true,
		Settings:     make(models.Variables),
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		if seatCharged {
			s.releaseUserSeat(r.Context(), *req.OrgID)
		}
		if err == storage.ErrDuplicateKey {
			s.respondError(w, http.StatusConflict, "user with this email already exists")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusCreated, user)
}

// releaseUserSeat returns a consumed seat to the org's user quota
func (s *RESTServer) releaseUserSeat(ctx context.Context, orgID uuid.UUID) {
	if _, err := s.ledger.Record(ctx, orgID, models.UsageTypeUsers, -1); err != nil && err != quota.ErrNoSubscription {
		log.Warn().Err(err).Str("org_id", orgID.String()).Msg("Failed to release user seat")
	}
}

// HandleGetUser gets a user
func (s *RESTServer) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "user not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !s.sameOrg(claims, user.OrgID) {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}

	s.respondJSON(w, http.StatusOK, user)
}

// HandleUpdateUser updates a user
func (s *RESTServer) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req struct {
		Username  string `json:"username,omitempty"`
		FirstName string `json:"firstName,omitempty"`
		LastName  string `json:"lastName,omitempty"`
		Email     string `json:"email" validate:"required,email"`
		Role      string `json:"role" validate:"oneof=admin org_admin analyst viewer"`
		IsActive  bool   `json:"is_active"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "user not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if !s.sameOrg(claims, user.OrgID) {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if claims.OrgID != nil && models.Role(req.Role) == models.RoleAdmin {
		s.respondError(w, http.StatusForbidden, "cannot grant platform admin")
		return
	}

	if req.Username != "" {
		user.Username = req.Username
	}
	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}
	user.Email = req.Email
	user.Role = models.Role(req.Role)
	user.IsActive = req.IsActive

	if err := s.store.UpdateUser(ctx, user); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, user)
}

// HandleDeleteUser deletes a user
func (s *RESTServer) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := s.store.GetUser(ctx, id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}
	if claims.OrgID != nil && !s.sameOrg(claims, user.OrgID) {
		s.respondError(w, http.StatusNotFound, "user not found")
		return
	}

	if err := s.store.DeleteUser(ctx, id); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "user not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Deleting a user frees the seat it consumed
	if user.OrgID != nil {
		s.releaseUserSeat(ctx, *user.OrgID)
	}

	w.WriteHeader(http.StatusNoContent)
}

// ========== Helper methods ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": s.config.Server.Name,
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// pagination reads limit/offset query parameters
func (s *RESTServer) pagination(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// sameOrg reports whether the caller may touch a resource owned by orgID.
// Platform admins (no org claim) may touch everything.
func (s *RESTServer) sameOrg(claims *auth.Claims, orgID *uuid.UUID) bool {
	if claims.OrgID == nil {
		return true
	}
	return orgID != nil && *orgID == *claims.OrgID
}

// resolveOrg determines the organization a list operation is scoped to:
// the caller's own org, or the org_id query parameter for platform admins
func (s *RESTServer) resolveOrg(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	claims := s.claims(r)
	if claims.OrgID != nil {
		return *claims.OrgID, true
	}

	raw := r.URL.Query().Get("org_id")
	if raw == "" {
		s.respondError(w, http.StatusBadRequest, "org_id query parameter is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid org_id")
		return uuid.Nil, false
	}
	return id, true
}

// auditConfigChange records a configuration change audit event
func (s *RESTServer) auditConfigChange(claims *auth.Claims, orgID *uuid.UUID, auditType models.AuditType, code, name string) {
	s.recorder.Record(&models.AuditLog{
		OrgID:       orgID,
		UserID:      &claims.UserID,
		Type:        auditType,
		Level:       models.AuditLevelInfo,
		Code:        code,
		Description: name,
	})
}
