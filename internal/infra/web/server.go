package web

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"annotation-ml-controller/internal/domain/model"
	"annotation-ml-controller/internal/domain/ports/registry"
	"annotation-ml-controller/internal/usecase"
)

// JobService is the slice of the admission use case the admin API needs.
type JobService interface {
	SubmitJob(ctx context.Context, p usecase.SubmitParams) (string, error)
	CancelJob(ctx context.Context, jobID string) error
	GetJob(ctx context.Context, jobID string) (*model.Job, []*model.Task, error)
	CurrentModel(ctx context.Context, projectID string) (*model.ModelState, error)
}

// Server exposes the admin API: job submission, cancellation, status queries,
// the current model pointer and the connected worker fleet.
type Server struct {
	admission JobService
	registry  registry.WorkerRegistry
	apiKey    string
	log       *zerolog.Logger
	server    *http.Server
}

func NewServer(admission JobService, reg registry.WorkerRegistry, apiKey string, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "web").Logger()
	return &Server{admission: admission, registry: reg, apiKey: apiKey, log: &l}
}

// Routes builds the router. Everything under /api/v1 sits behind bearer auth;
// /health and /metrics stay open for probes and scrapers.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Post("/jobs", s.handleSubmitJob)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/cancel", s.handleCancelJob)
		r.Get("/projects/{id}/model", s.handleCurrentModel)
		r.Get("/workers", s.handleListWorkers)
	})
	return r
}

func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.log.Info().Int("port", port).Msg("admin API listening")
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// authMiddleware provides simple Bearer token authentication for the admin API.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		tokenParts := strings.Split(authHeader, " ")
		if len(tokenParts) != 2 || strings.ToLower(tokenParts[0]) != "bearer" {
			http.Error(w, "Unauthorized: Malformed token", http.StatusUnauthorized)
			return
		}

		if tokenParts[1] != s.apiKey {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
