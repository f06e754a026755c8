package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/crossaudit/governance-server/internal/audit"
	"github.com/crossaudit/governance-server/internal/auth"
	"github.com/crossaudit/governance-server/internal/authz"
	"github.com/crossaudit/governance-server/internal/config"
	"github.com/crossaudit/governance-server/internal/pipeline"
	"github.com/crossaudit/governance-server/internal/quota"
	"github.com/crossaudit/governance-server/internal/storage"
	"github.com/crossaudit/governance-server/internal/validation"
	"github.com/crossaudit/governance-server/pkg/crypto"
)

type contextKey string

const claimsKey contextKey = "claims"

// RESTServer represents the REST API server
type RESTServer struct {
	config     *config.Config
	store      storage.Store
	auth       *auth.JWTManager
	authorizer *authz.Authorizer
	validator  *validation.Validator
	ledger     *quota.Ledger
	pipeline   *pipeline.Pipeline
	recorder   *audit.Recorder
	router     chi.Router
	server     *http.Server
}

// NewRESTServer creates a new REST API server
func NewRESTServer(cfg *config.Config, store storage.Store, authorizer *authz.Authorizer, ledger *quota.Ledger, pl *pipeline.Pipeline, recorder *audit.Recorder) *RESTServer {
	s := &RESTServer{
		config:     cfg,
		store:      store,
		auth:       auth.NewJWTManager(&cfg.JWT),
		authorizer: authorizer,
		validator:  validation.NewValidator(),
		ledger:     ledger,
		pipeline:   pl,
		recorder:   recorder,
		router:     chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	// CORS
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Prometheus scrape endpoint, outside the versioned tree
	s.router.Handle("/metrics", promhttp.Handler())

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		s.setupAPIRoutes(r)
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("Starting REST API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		// Machine credentials carry the ca_ prefix, everything else is a JWT
		if strings.HasPrefix(parts[1], "ca_") {
			claims, ok := s.apiKeyClaims(w, r, parts[1])
			if !ok {
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// apiKeyClaims resolves an API key into the owning user's claims. Only
// the digest of the secret is stored, so lookup goes by hash.
func (s *RESTServer) apiKeyClaims(w http.ResponseWriter, r *http.Request, rawKey string) (*auth.Claims, bool) {
	key, err := s.store.GetAPIKeyByHash(r.Context(), crypto.HashAPIKey(rawKey))
	if err != nil || !key.IsUsable() {
		s.respondError(w, http.StatusUnauthorized, "invalid api key")
		return nil, false
	}

	user, err := s.store.GetUser(r.Context(), key.UserID)
	if err != nil || !user.IsActive {
		s.respondError(w, http.StatusUnauthorized, "invalid api key")
		return nil, false
	}

	if err := s.store.TouchAPIKey(r.Context(), key.ID, time.Now()); err != nil {
		log.Warn().Err(err).Str("key_id", key.ID.String()).Msg("Failed to record api key use")
	}

	orgID := key.OrgID
	if orgID == nil {
		orgID = user.OrgID
	}

	return &auth.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		OrgID:  orgID,
	}, true
}

// authzMiddleware enforces RBAC: subject from role, domain from org,
// object from path, action from method
func (s *RESTServer) authzMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := s.claims(r)
		if claims == nil {
			s.respondError(w, http.StatusUnauthorized, "missing claims")
			return
		}

		subject := authz.Subject(claims.Role)
		domain := authz.Domain(claims.OrgID)

		allowed, enforced, err := s.authorizer.Authorize(subject, domain, r.URL.Path, r.Method)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, "authorization check failed")
			return
		}
		if !allowed {
			if enforced {
				s.respondError(w, http.StatusForbidden, "forbidden")
				return
			}
			log.Warn().
				Str("subject", subject).
				Str("path", r.URL.Path).
				Str("method", r.Method).
				Msg("Authorization denied in shadow mode, allowing")
		}

		next.ServeHTTP(w, r)
	})
}

// claims pulls validated JWT claims from the request context
func (s *RESTServer) claims(r *http.Request) *auth.Claims {
	claims, _ := r.Context().Value(claimsKey).(*auth.Claims)
	return claims
}
