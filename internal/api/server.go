// Package api exposes the HTTP surface: triage, send, reply drafting,
// security review and context refresh.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/ghostpost/internal/contextdir"
	"github.com/ignite/ghostpost/internal/ingest"
	"github.com/ignite/ghostpost/internal/mailer"
	"github.com/ignite/ghostpost/internal/notify"
	"github.com/ignite/ghostpost/internal/pkg/logger"
	"github.com/ignite/ghostpost/internal/reply"
	"github.com/ignite/ghostpost/internal/security"
	"github.com/ignite/ghostpost/internal/store"
	"github.com/ignite/ghostpost/internal/thread"
	"github.com/ignite/ghostpost/internal/triage"
)

// Server wires the HTTP handlers to the domain services.
type Server struct {
	store     *store.Store
	redis     *redis.Client
	gate      *security.Gate
	rate      *security.RateLimiter
	events    *security.Events
	threads   *thread.Service
	triage    *triage.Engine
	composer  *reply.Composer
	sender    mailer.Sender
	projector *contextdir.Projector
	notifier  *notify.Dispatcher
	pipeline  *ingest.Pipeline
	startTime time.Time
}

// NewServer creates the API server.
func NewServer(
	st *store.Store,
	rdb *redis.Client,
	gate *security.Gate,
	rate *security.RateLimiter,
	events *security.Events,
	threads *thread.Service,
	triageEngine *triage.Engine,
	composer *reply.Composer,
	sender mailer.Sender,
	projector *contextdir.Projector,
	notifier *notify.Dispatcher,
	pipeline *ingest.Pipeline,
) *Server {
	return &Server{
		store:     st,
		redis:     rdb,
		gate:      gate,
		rate:      rate,
		events:    events,
		threads:   threads,
		triage:    triageEngine,
		composer:  composer,
		sender:    sender,
		projector: projector,
		notifier:  notifier,
		pipeline:  pipeline,
		startTime: time.Now(),
	}
}

// Router builds the chi router with middleware and all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/triage", s.handleTriage)
		r.Post("/ingest", s.handleIngest)
		r.Post("/send", s.handleSend)
		r.Post("/threads/{id}/reply", s.handleReply)
		r.Post("/context/refresh", s.handleContextRefresh)
		r.Get("/security/events", s.handleSecurityEvents)
		r.Post("/security/events/{id}/resolve", s.handleResolveEvent)
	})

	return r
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("response encode failed", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
