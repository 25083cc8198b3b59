package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/netresearch/ipa-admin-portal/internal/bulk"
)

// routes builds the router. Order of the middleware stack matters: the
// request ID and real IP must be set before logging and rate limiting.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if len(s.cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/health", s.handleHealth)
	if s.cfg.MetricsPath != "" && s.deps.Metrics != nil {
		r.Method(http.MethodGet, s.cfg.MetricsPath, s.deps.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}

		r.Post("/session/login", s.handleLogin)
		r.Post("/session/logout", s.handleLogout)
		r.Post("/utils/text-to-json", s.handleTextToJSON)
		r.Get("/templates/templates-excel", s.handleTemplate)

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)

			r.Post("/creat-users", s.handleCreateJSON)

			r.Route("/users", func(r chi.Router) {
				r.Get("/search-by-email/{email}", s.handleSearchByEmail)
				r.Post("/create-form", s.handleCreateForm)
				r.Post("/validate-excel", s.handleValidateExcel)
				r.Post("/bulk-create-from-excel", s.handleBulkCreate)
				for _, op := range []bulk.Operation{bulk.OpDelete, bulk.OpDisable, bulk.OpEnable, bulk.OpResetPassword} {
					r.Post("/bulk-"+string(op), s.handleBulkOperation(op))
				}

				r.Get("/{id}", s.handleShowUser)
				r.Post("/{id}/{operation}", s.handleUserOperation)
			})

			r.Get("/report/full-usersgroups-info", s.handleUsersGroupsReport)
			r.Get("/report/full-info", s.handleFullInfoReport)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.deps.Sessions.Active(),
	})
}
