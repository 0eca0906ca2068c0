package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MikeSquared-Agency/concierge/internal/dedup"
	"github.com/MikeSquared-Agency/concierge/internal/escalation"
	"github.com/MikeSquared-Agency/concierge/internal/gaps"
	"github.com/MikeSquared-Agency/concierge/internal/orchestrator"
	"github.com/MikeSquared-Agency/concierge/internal/processor"
)

const maxBodyBytes = 1 << 20

type Orchestrator interface {
	Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Result, error)
}

type Resolver interface {
	ResolveSellerReply(ctx context.Context, ticketID, text string) (*processor.ResolveResult, error)
}

type GapFinder interface {
	FindGaps(ctx context.Context, workspaceID string, since time.Time, threshold float64) ([]gaps.Gap, error)
}

type GapPublisher interface {
	PublishGaps(workspaceID string, found []gaps.Gap) (int, error)
}

type Sweeper interface {
	Sweep(ctx context.Context, workspaceID string, threshold float64, execute bool) (*dedup.SweepResult, error)
}

// Store is the read side the API exposes directly.
type Store interface {
	Ping(ctx context.Context) error
	CountKnowledge(ctx context.Context, workspaceID string) (total, verified int, err error)
	ListTickets(ctx context.Context, workspaceID string, status escalation.Status, limit int) ([]escalation.Ticket, error)
}

// Deps are the components behind the routes. Nil fields disable the
// routes that need them.
type Deps struct {
	Store        Store
	Orchestrator Orchestrator
	Resolver     Resolver
	Gaps         GapFinder
	GapPublisher GapPublisher
	Sweeper      Sweeper
	BusConnected func() bool
}

type Server struct {
	router   *chi.Mux
	port     int
	deps     Deps
	logger   *slog.Logger
	srv      *http.Server
	started  time.Time
	apiToken string
}

func NewServer(port int, apiToken string, deps Deps, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		deps:     deps,
		logger:   logger,
		started:  time.Now(),
		apiToken: apiToken,
	}

	if apiToken == "" {
		logger.Warn("CONCIERGE_API_TOKEN not set, API routes are unauthenticated")
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/concierge/status", s.status)
	router.Handle("/metrics", promhttp.Handler())

	router.Group(func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Use(middleware.AllowContentType("application/json"))

		if deps.Orchestrator != nil {
			r.Post("/api/v1/orchestrate", s.orchestrate)
		}
		if deps.Resolver != nil {
			r.Post("/api/v1/escalations/{ticketID}/resolve", s.resolveEscalation)
		}
		r.Route("/api/v1/workspaces/{workspaceID}", func(r chi.Router) {
			if deps.Gaps != nil {
				r.Get("/knowledge-gaps", s.knowledgeGaps)
				r.Post("/knowledge-gaps/scan", s.scanKnowledgeGaps)
			}
			if deps.Sweeper != nil {
				r.Post("/knowledge/dedup", s.dedupKnowledge)
			}
			if deps.Store != nil {
				r.Get("/knowledge/stats", s.knowledgeStats)
				r.Get("/tickets", s.listTickets)
			}
		})
	})

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called. It returns nil on a clean shutdown.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// BearerAuthMiddleware requires "Authorization: Bearer <token>". An empty
// token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	status := "ok"

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			components["database"] = "down"
			status = "degraded"
		} else {
			components["database"] = "ok"
		}
	}
	if s.deps.BusConnected != nil {
		if s.deps.BusConnected() {
			components["hermes"] = "ok"
		} else {
			components["hermes"] = "down"
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"agent":          "concierge",
		"status":         status,
		"components":     components,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeBody treats an empty body as an empty request.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return nil
}
