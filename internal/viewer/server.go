// Package viewer implements the auth-keyed introspection HTTP surface:
// read-only JSON endpoints over the captcha queue, the ready-account
// queue, and worker snapshots. An optional Prometheus /metrics endpoint
// is mounted alongside it when enabled.
//
// The surface is read-only by design and gated by a bearer token,
// since it exposes operational account and worker state rather than
// anything meant for anonymous consumption.
package viewer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/overwatch-scan/overwatch/internal/domain"
)

// Source supplies the live state the viewer surface reports; the daemon
// wires this to the running scheduler.Overseer and infra/pool.Accounts.
type Source interface {
	WorkerSnapshots() []domain.WorkerSnapshot
	CaptchaQueueLen() int
	ExtraQueueLen() int
}

// Server is the viewer's HTTP surface.
type Server struct {
	source         Source
	authToken      string
	metricsEnabled bool
	showPositions  bool
}

// New returns a viewer Server. authToken, if non-empty, is required as a
// bearer token on every /v1 route. showPositions gates whether /v1/workers
// reports each worker's live lat/lon (map_workers config key) or redacts
// them to zero for a viewer that should only see throughput, not location.
func New(source Source, authToken string, metricsEnabled, showPositions bool) *Server {
	return &Server{source: source, authToken: authToken, metricsEnabled: metricsEnabled, showPositions: showPositions}
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/workers", s.handleWorkers)
		r.Get("/captcha-queue", s.handleCaptchaQueue)
		r.Get("/extra-queue", s.handleExtraQueue)
	})

	return r
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.authToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if got != "Bearer "+s.authToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": domain.ErrUnauthorized.Error()})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	snaps := s.source.WorkerSnapshots()
	if !s.showPositions {
		redacted := make([]domain.WorkerSnapshot, len(snaps))
		copy(redacted, snaps)
		for i := range redacted {
			redacted[i].Lat, redacted[i].Lon = 0, 0
		}
		snaps = redacted
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleCaptchaQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"size": s.source.CaptchaQueueLen()})
}

func (s *Server) handleExtraQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"size": s.source.ExtraQueueLen()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
