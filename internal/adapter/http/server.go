// Package http exposes the service's operational endpoints and the
// bounding-box query API over the classified catalog.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skysift/tempo-data-quality/internal/domain"
	"github.com/skysift/tempo-data-quality/internal/spatial"
)

// ReadinessChecker reports whether the service is ready to serve traffic.
type ReadinessChecker interface {
	CheckReadiness(ctx context.Context) error
}

// Querier answers bounding-box queries and report lookups over the latest
// classified sets. Implemented by pipeline.Catalog.
type Querier interface {
	Query(box spatial.BBox) []domain.Measurement
	Report(key string) (domain.QualityReport, bool)
	Keys() []string
}

// Server exposes health, readiness, metrics, and query HTTP endpoints.
type Server struct {
	httpServer *http.Server
	querier    Querier
	logger     *slog.Logger
}

// NewServer creates the HTTP server. querier may be nil, in which case the
// query routes respond 503.
func NewServer(addr string, ready ReadinessChecker, querier Querier, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		querier: querier,
		logger:  logger,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", handleReady(ready))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /v1/query", s.handleQuery)
	mux.HandleFunc("GET /v1/reports", s.handleReportList)
	mux.HandleFunc("GET /v1/reports/{key}", s.handleReport)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func handleReady(checker ReadinessChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := checker.CheckReadiness(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

// handleQuery serves GET /v1/query?lat_min=&lat_max=&lon_min=&lon_max=.
// Minimum edges are inclusive, maximum edges exclusive.
//
// An optional tier parameter narrows the response to measurements whose
// quality flag passes the named tier, bypassing whatever tier the cascade
// chose at classification time. Catalogued sets hold only the classified
// subset, so a tier looser than the one used at classification cannot
// recover measurements the cascade already rejected.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.querier == nil {
		writeError(w, http.StatusServiceUnavailable, "query catalog not available")
		return
	}

	box, err := parseBBox(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	measurements := s.querier.Query(box)
	if name := r.URL.Query().Get("tier"); name != "" {
		tier, err := domain.ParseTier(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kept := make([]domain.Measurement, 0, len(measurements))
		for _, m := range measurements {
			if tier.Accepts(m.QualityFlag) {
				kept = append(kept, m)
			}
		}
		measurements = kept
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Count:        len(measurements),
		Measurements: measurements,
	})
}

func (s *Server) handleReportList(w http.ResponseWriter, _ *http.Request) {
	if s.querier == nil {
		writeError(w, http.StatusServiceUnavailable, "query catalog not available")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sources": s.querier.Keys()})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if s.querier == nil {
		writeError(w, http.StatusServiceUnavailable, "query catalog not available")
		return
	}

	key := r.PathValue("key")
	report, ok := s.querier.Report(key)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source artifact")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type queryResponse struct {
	Count        int                  `json:"count"`
	Measurements []domain.Measurement `json:"measurements"`
}

func parseBBox(r *http.Request) (spatial.BBox, error) {
	var box spatial.BBox
	var err error
	for _, p := range []struct {
		name string
		dst  *float64
	}{
		{"lat_min", &box.LatMin},
		{"lat_max", &box.LatMax},
		{"lon_min", &box.LonMin},
		{"lon_max", &box.LonMax},
	} {
		*p.dst, err = parseFloatParam(r, p.name)
		if err != nil {
			return spatial.BBox{}, err
		}
	}
	return box, nil
}

func parseFloatParam(r *http.Request, name string) (float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, &paramError{name: name, reason: "missing"}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, &paramError{name: name, reason: "not a number"}
	}
	return f, nil
}

type paramError struct {
	name   string
	reason string
}

func (e *paramError) Error() string { return e.name + ": " + e.reason }

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
