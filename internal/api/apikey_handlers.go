package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crossaudit/governance-server/internal/models"
	"github.com/crossaudit/governance-server/internal/storage"
	"github.com/crossaudit/governance-server/pkg/crypto"
)

// HandleListAPIKeys lists the caller's API keys. The secret value is only
// ever returned once, at creation; storage holds its digest alone.
func (s *RESTServer) HandleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	claims := s.claims(r)

	keys, err := s.store.ListAPIKeys(r.Context(), claims.UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"keys":  keys,
		"total": len(keys),
	})
}

// HandleCreateAPIKey mints a machine credential for the caller
func (s *RESTServer) HandleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := s.claims(r)

	var req struct {
		Name      string     `json:"name" validate:"required,min=2,max=100"`
		Scopes    []string   `json:"scopes"`
		ExpiresAt *time.Time `json:"expiresAt"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.validator.Validate(req); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		s.respondError(w, http.StatusBadRequest, "expiresAt must be in the future")
		return
	}

	raw, err := crypto.GenerateAPIKey()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate key")
		return
	}

	key := &models.APIKey{
		UserID:    claims.UserID,
		OrgID:     claims.OrgID,
		Name:      req.Name,
		Key:       raw,
		KeyHash:   crypto.HashAPIKey(raw),
		IsActive:  true,
		ExpiresAt: req.ExpiresAt,
		Scopes:    req.Scopes,
	}

	if err := s.store.CreateAPIKey(r.Context(), key); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, claims.OrgID, models.AuditTypeAPIKeyChange, "apikey.created", key.Name)

	s.respondJSON(w, http.StatusCreated, key)
}

// HandleDeleteAPIKey revokes one of the caller's API keys
func (s *RESTServer) HandleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	claims := s.claims(r)

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid key id")
		return
	}

	keys, err := s.store.ListAPIKeys(r.Context(), claims.UserID)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var owned *models.APIKey
	for _, key := range keys {
		if key.ID == id {
			owned = key
			break
		}
	}
	if owned == nil {
		s.respondError(w, http.StatusNotFound, "api key not found")
		return
	}

	if err := s.store.DeleteAPIKey(r.Context(), id); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "api key not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.auditConfigChange(claims, claims.OrgID, models.AuditTypeAPIKeyChange, "apikey.revoked", owned.Name)

	w.WriteHeader(http.StatusNoContent)
}
