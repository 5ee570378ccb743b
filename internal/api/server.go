// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/youth-justice-ingest/internal/ingest"
	"github.com/JakeFAU/youth-justice-ingest/internal/metrics"
	"github.com/JakeFAU/youth-justice-ingest/internal/middleware"
	"github.com/JakeFAU/youth-justice-ingest/internal/scrape"
)

// Scraper runs batches and queue maintenance.
type Scraper interface {
	ProcessBatch(ctx context.Context, req scrape.Request) (scrape.Summary, error)
	Status(ctx context.Context) (scrape.Status, error)
	Requeue(ctx context.Context, id string) (ingest.Link, error)
	AddLink(ctx context.Context, in scrape.NewLink) (ingest.Link, error)
}

// BreakerAdmin inspects and resets the circuit breaker.
type BreakerAdmin interface {
	Blocked() []ingest.BlockedDomain
	Reset(domain string) bool
	ResetAll() int
}

// Options configures the Server.
type Options struct {
	AuthEnabled    bool
	APIKey         string
	RequestTimeout time.Duration
	// Ready, when set, backs /readyz.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the scrape service.
type Server struct {
	router  chi.Router
	scraper Scraper
	breaker BreakerAdmin
	opts    Options
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(scraper Scraper, breaker BreakerAdmin, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Minute
	}
	s := &Server{
		scraper: scraper,
		breaker: breaker,
		opts:    opts,
		logger:  logger.Named("api"),
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(metrics.Middleware)
	r.Use(middleware.APIKey(opts.AuthEnabled, opts.APIKey))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.RequireAuthorized)
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.Post("/scrape", s.processBatch)
		r.Get("/scrape", s.status)
		r.Post("/links", s.addLink)
		r.Post("/links/{link_id}/requeue", s.requeue)
		r.Get("/breaker", s.blocked)
		r.Post("/breaker/reset", s.resetBreaker)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scrapeRequest struct {
	LinkID    string `json:"linkId"`
	BatchSize int    `json:"batchSize"`
	Mode      string `json:"mode"`
}

type scrapeResponse struct {
	Success bool `json:"success"`
	scrape.Summary
}

func (s *Server) processBatch(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	mode, err := ingest.ParseSelectMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	summary, err := s.scraper.ProcessBatch(r.Context(), scrape.Request{
		LinkID:    req.LinkID,
		BatchSize: req.BatchSize,
		Mode:      mode,
	})
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{Success: true, Summary: summary})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	status, err := s.scraper.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) addLink(w http.ResponseWriter, r *http.Request) {
	var req scrape.NewLink
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	link, err := s.scraper.AddLink(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"link": link})
}

func (s *Server) requeue(w http.ResponseWriter, r *http.Request) {
	link, err := s.scraper.Requeue(r.Context(), chi.URLParam(r, "link_id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"link": link})
}

func (s *Server) blocked(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"blockedDomains": s.breaker.Blocked()})
}

type resetRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) resetBreaker(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	domain := strings.TrimSpace(req.Domain)
	if domain == "" {
		n := s.breaker.ResetAll()
		s.logger.Info("circuit breaker reset", zap.Int("domains", n))
		writeJSON(w, http.StatusOK, map[string]any{"reset": n})
		return
	}
	if !s.breaker.Reset(domain) {
		writeError(w, http.StatusNotFound, "domain has no breaker state")
		return
	}
	s.logger.Info("circuit breaker reset", zap.String("domain", domain))
	writeJSON(w, http.StatusOK, map[string]any{"reset": 1, "domain": domain})
}

// writeServiceError maps service errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ingest.ErrNotFound):
		writeError(w, http.StatusNotFound, "Link not found")
	case errors.Is(err, ingest.ErrConflict), errors.Is(err, ingest.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, scrape.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, "request timed out")
	default:
		s.logger.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeOptional decodes a JSON body, treating an empty body as {}.
func decodeOptional(body io.Reader, dst any) error {
	err := json.NewDecoder(body).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
