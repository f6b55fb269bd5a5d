package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"commandcenter/internal/aggregate"
	"commandcenter/pkg/types"
)

// Stats is the hub surface the health endpoint reads.
type Stats interface {
	Stats() map[string]int
}

// Server is the REST surface: patient search, comprehensive snapshots and
// cache control. No business logic here, only HTTP handling and JSON
// serialization.
type Server struct {
	aggregator *aggregate.Service
	hub        Stats
	router     *http.ServeMux
	log        zerolog.Logger
}

func NewServer(aggregator *aggregate.Service, hub Stats, log zerolog.Logger) *Server {
	s := &Server{
		aggregator: aggregator,
		hub:        hub,
		router:     http.NewServeMux(),
		log:        log.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/patients", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleSearch))))
	s.router.Handle("/api/patients/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handlePatientByMRN))))
	s.router.Handle("/api/cache/clear", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleCacheClear))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHealth))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// handleSearch serves GET /api/patients?q=...
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		s.sendError(w, "query parameter q required", http.StatusBadRequest)
		return
	}

	patients, err := s.aggregator.SearchPatients(r.Context(), q)
	if err != nil {
		s.log.Error().Err(err).Str("q", q).Msg("patient search failed")
		s.sendError(w, "search failed", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, map[string]interface{}{"patients": patients}, http.StatusOK)
}

// handlePatientByMRN serves GET /api/patients/{mrn}/comprehensive.
func (s *Server) handlePatientByMRN(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/patients/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "comprehensive" || !types.IsValidMRN(parts[0]) {
		s.sendError(w, "expected /api/patients/{mrn}/comprehensive", http.StatusBadRequest)
		return
	}
	mrn := parts[0]

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	snap, err := s.aggregator.Comprehensive(ctx, mrn)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			s.sendError(w, "patient not found", http.StatusNotFound)
			return
		}
		s.log.Error().Err(err).Str("mrn", mrn).Msg("aggregation failed")
		s.sendError(w, "aggregation failed", http.StatusInternalServerError)
		return
	}
	s.sendJSON(w, snap, http.StatusOK)
}

// handleCacheClear serves POST /api/cache/clear.
func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.aggregator.ClearCache()
	s.sendJSON(w, map[string]string{"status": "cache cleared"}, http.StatusOK)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC(),
	}
	if s.hub != nil {
		body["connections"] = s.hub.Stats()
	}
	s.sendJSON(w, body, http.StatusOK)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) sendJSON(w http.ResponseWriter, v interface{}, status int) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("response encode failed")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.sendJSON(w, map[string]string{"error": message}, status)
}
