package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.authzMiddleware)

		// Organizations
		r.Route("/orgs", func(r chi.Router) {
			r.Get("/", s.HandleListOrganizations)
			r.Post("/", s.HandleCreateOrganization)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetOrganization)
				r.Put("/", s.HandleUpdateOrganization)
				r.Delete("/", s.HandleDeleteOrganization)
				r.Get("/usage", s.HandleGetOrganizationUsage)
				r.Get("/subscription", s.HandleGetSubscription)
				r.Put("/subscription", s.HandleUpdateSubscription)
			})
		})

		// Subscription plans
		r.Get("/plans", s.HandleListPlans)

		// Users
		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.HandleListUsers)
			r.Post("/", s.HandleCreateUser)
			r.Get("/me", s.HandleGetCurrentUser)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetUser)
				r.Put("/", s.HandleUpdateUser)
				r.Delete("/", s.HandleDeleteUser)
			})
		})

		// API keys
		r.Route("/apikeys", func(r chi.Router) {
			r.Get("/", s.HandleListAPIKeys)
			r.Post("/", s.HandleCreateAPIKey)
			r.Delete("/{id}", s.HandleDeleteAPIKey)
		})

		// Evaluators
		r.Route("/evaluators", func(r chi.Router) {
			r.Get("/", s.HandleListEvaluators)
			r.Post("/", s.HandleCreateEvaluator)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetEvaluator)
				r.Put("/", s.HandleUpdateEvaluator)
				r.Delete("/", s.HandleDeleteEvaluator)
			})
		})

		// Evaluator pools
		r.Route("/evaluator-pools", func(r chi.Router) {
			r.Get("/", s.HandleListEvaluatorPools)
			r.Post("/", s.HandleCreateEvaluatorPool)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetEvaluatorPool)
				r.Put("/", s.HandleUpdateEvaluatorPool)
				r.Delete("/", s.HandleDeleteEvaluatorPool)
			})
		})

		// Policies
		r.Route("/policies", func(r chi.Router) {
			r.Get("/", s.HandleListPolicies)
			r.Post("/", s.HandleCreatePolicy)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetPolicy)
				r.Put("/", s.HandleUpdatePolicy)
				r.Delete("/", s.HandleDeletePolicy)
				r.Post("/validate", s.HandleValidatePolicy)
				r.Post("/activate", s.HandleActivatePolicy)
			})
		})

		// Governance pipeline
		r.Route("/governance", func(r chi.Router) {
			r.Post("/evaluate", s.HandleEvaluate)
		})

		// Evaluation records
		r.Route("/evaluations", func(r chi.Router) {
			r.Get("/", s.HandleListEvaluations)
			r.Get("/{id}", s.HandleGetEvaluation)
		})

		// Audit trail
		r.Get("/audit", s.HandleListAuditLogs)
	})
}
