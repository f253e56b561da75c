// Package coordinator implements the coordinator HTTP tier (spec §4.E):
// request validation, blob staging, job creation, and bus enqueue, wired
// with an explicit chi router rather than a generated strict-server
// layer, per the design note that this domain's surface is small enough
// not to warrant spec-driven codegen.
package coordinator

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/lakeflow/control-plane/internal/bus"
	"github.com/lakeflow/control-plane/internal/catalog"
	"github.com/lakeflow/control-plane/internal/config"
	"github.com/lakeflow/control-plane/internal/jobstore"
	"github.com/lakeflow/control-plane/internal/middleware"
	"github.com/lakeflow/control-plane/internal/objectstore"
)

// Server bundles the coordinator's external collaborators and exposes the
// wired HTTP handler.
type Server struct {
	cfg     *config.Config
	store   *objectstore.Gateway
	jobs    *jobstore.Store
	bus     *bus.Adapter
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// New constructs a Server from its external collaborators.
func New(cfg *config.Config, store *objectstore.Gateway, jobs *jobstore.Store, b *bus.Adapter, cat *catalog.Catalog, logger *slog.Logger) *Server {
	return &Server{cfg: cfg, store: store, jobs: jobs, bus: b, catalog: cat, logger: logger}
}

// Router builds the chi router for the coordinator's HTTP surface, wired
// the way the teacher's cmd/server/main.go builds its router: global
// middleware first, then a routed tree under a version prefix.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: s.cfg.RateLimitRPS,
		Burst:             s.cfg.RateLimitBurst,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Get("/jobs/{id}", s.handleGetJob)
		r.Post("/jobs/{id}/status", s.handleUpdateJobStatus)
		r.Post("/query", s.handleSubmitQuery)
		r.Get("/query/{id}", s.handleGetJob)
		r.Get("/schema/{project}/{table}", s.handleSubmitSchema)
		r.Get("/queue/stats", s.handleQueueStats)
	})

	return r
}
