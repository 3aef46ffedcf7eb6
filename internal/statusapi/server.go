// Package statusapi exposes a thin, read-only HTTP introspection surface
// over this substrate's ledgers, feature-store partitions, and regime
// state — ledger tail, feature-store partition list, regime state, and
// preflight status, mounted under /status by cmd/sentinelcore's --serve
// flag. It is a thin read-only inspector, not a full reporting/journal
// tool; it exists purely so an operator or a dashboard can ask "what
// did the last cycle decide" without grepping JSONL files by hand.
//
// Grounded on trader/internal/server/server.go's router/middleware/CORS
// setup (chi.NewRouter, middleware.Recoverer/RequestID/RealIP, a request
// logging middleware, cors.Handler) and its route-per-concern structure
// (setupSystemRoutes et al.), collapsed to the handful of read-only routes
// this substrate needs.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/sentinelcore/audit-substrate/internal/featurestore"
	"github.com/sentinelcore/audit-substrate/internal/ledgerindex"
	"github.com/sentinelcore/audit-substrate/internal/preflight"
	"github.com/sentinelcore/audit-substrate/internal/regimetransition"
)

// Config wires the components the status surface reads from. All fields
// are optional except Port/Log — a nil dependency just yields an empty or
// zero-value response from the route it would have backed, rather than a
// 500, since this is a read-only convenience surface, not a control plane.
type Config struct {
	Log         zerolog.Logger
	Port        int
	DevMode     bool
	DataDir     string
	LedgerRoot  string
	FeatureRoot string
	SchemaVersion int
	Index       *ledgerindex.DB
	Detector    *regimetransition.Detector
}

// Server is the status-api HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config
}

// New builds a Server from cfg. Call Start to begin serving.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "statusapi").Logger(),
		cfg:    cfg,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(30 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept"},
		MaxAge:         300,
	}))

	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/status", func(r chi.Router) {
		r.Get("/preflight", s.handlePreflight)
		r.Get("/regime", s.handleRegime)
		r.Get("/features/{featureType}", s.handleFeaturePartitions)
		r.Get("/ledger/attribution/{symbol}", s.handleAttributionTail)
	})
}

// Start begins serving; blocks until the server stops or errors.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("starting status api")
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	if s.cfg.DataDir == "" {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"checks": []preflight.Check{}})
		return
	}
	result := preflight.Run(s.cfg.DataDir)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"exit_code": result.ExitCode(),
		"checks":    result.Checks,
	})
}

func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Detector == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"available": false})
		return
	}
	state := s.cfg.Detector.GetTransitionState()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"available": true, "state": state})
}

func (s *Server) handleFeaturePartitions(w http.ResponseWriter, r *http.Request) {
	featureType := chi.URLParam(r, "featureType")
	if s.cfg.FeatureRoot == "" {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"dates": []string{}})
		return
	}
	dates, err := featurestore.ListAvailableDates(s.cfg.FeatureRoot, s.cfg.SchemaVersion, featurestore.FeatureType(featureType))
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"feature_type": featureType, "dates": dates})
}

func (s *Server) handleAttributionTail(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	if s.cfg.Index == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "events": []interface{}{}})
		return
	}
	today := time.Now().UTC().Format("2006-01-02")
	since := time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02")
	events, err := s.cfg.Index.AttributionBySymbolAndDateRange(symbol, since, today)
	if err != nil {
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"symbol": symbol, "events": events})
}
