// Package api exposes the two HTTP endpoints the search client consumes:
// POST /search/start and GET /search/status. The backing implementation is
// abstracted behind JobService so the standalone pipeline and the asynq
// dispatcher serve identical wire behavior.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"affiliatescout/internal/model"
)

// ErrJobNotFound is returned by JobService implementations for unknown or
// expired job ids and maps to a 404.
var ErrJobNotFound = errors.New("search job not found")

// QuotaError signals that the account balance cannot cover a search. It maps
// to a 402 with the creditError envelope.
type QuotaError struct {
	Remaining int
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("insufficient credits (%d remaining)", e.Remaining)
}

// JobService starts discovery jobs and reports their state.
type JobService interface {
	StartSearch(ctx context.Context, keywords []string, sources []model.Platform, competitors []string) (*model.SearchJob, error)
	JobStatus(ctx context.Context, id int64) (*model.SearchJob, error)
}

// Exporter turns an archived result key into a time-limited download URL.
// Satisfied by archive.Storage; nil when no object store is configured.
type Exporter interface {
	PresignExportURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// exportURLTTL bounds how long a handed-out export link stays valid.
const exportURLTTL = 15 * time.Minute

// Server hosts the search endpoints.
type Server struct {
	addr     string
	svc      JobService
	exporter Exporter
	server   *http.Server
	once     sync.Once
}

// New constructs a Server listening on addr. exporter may be nil; the export
// endpoint then reports archives as unavailable.
func New(addr string, svc JobService, exporter Exporter) *Server {
	return &Server{addr: addr, svc: svc, exporter: exporter}
}

// Handler returns the routed handler. Exposed so tests can mount it on
// httptest servers without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/search/start", s.handleStart)
	mux.HandleFunc("/search/status", s.handleStatus)
	mux.HandleFunc("/search/export", s.handleExport)
	return loggingMiddleware(mux)
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{Addr: s.addr, Handler: s.Handler()}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("api listening on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startPayload struct {
	Keywords    []string `json:"keywords"`
	Sources     []string `json:"sources"`
	Competitors []string `json:"competitors,omitempty"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	var payload startPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", "PARSE_ERROR")
		return
	}
	if len(payload.Keywords) == 0 {
		respondError(w, http.StatusBadRequest, "at least one keyword is required", "VALIDATION_ERROR")
		return
	}
	sources := make([]model.Platform, 0, len(payload.Sources))
	for _, raw := range payload.Sources {
		p, err := model.ParsePlatform(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		sources = append(sources, p)
	}
	if len(sources) == 0 {
		sources = model.Platforms()
	}

	job, err := s.svc.StartSearch(r.Context(), payload.Keywords, sources, payload.Competitors)
	if err != nil {
		var quota *QuotaError
		if errors.As(err, &quota) {
			respondJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":       "insufficient credits for this search",
				"creditError": true,
				"remaining":   quota.Remaining,
				"code":        "INSUFFICIENT_CREDITS",
			})
			return
		}
		log.Printf("start search failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to start search", "START_ERROR")
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"jobId":   job.ID,
		"status":  "started",
		"message": fmt.Sprintf("search started across %d platforms", len(job.Sources)),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	jobID, err := strconv.ParseInt(r.URL.Query().Get("jobId"), 10, 64)
	if err != nil || jobID <= 0 {
		respondError(w, http.StatusBadRequest, "jobId query parameter is required", "VALIDATION_ERROR")
		return
	}
	job, err := s.svc.JobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "search job not found or expired", "JOB_NOT_FOUND")
			return
		}
		log.Printf("job status failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read job status", "STATUS_ERROR")
		return
	}

	body := map[string]any{
		"status":         clientStatus(job.Status),
		"elapsedSeconds": job.ElapsedSeconds(),
		"message":        job.Message,
	}
	if job.Status == model.JobDone {
		body["results"] = job.Results
		body["resultsCount"] = len(job.Results)
		body["breakdown"] = job.Breakdown
	}
	respondJSON(w, http.StatusOK, body)
}

// handleExport hands out a presigned download link for a finished job's
// archived result set.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", "")
		return
	}
	jobID, err := strconv.ParseInt(r.URL.Query().Get("jobId"), 10, 64)
	if err != nil || jobID <= 0 {
		respondError(w, http.StatusBadRequest, "jobId query parameter is required", "VALIDATION_ERROR")
		return
	}
	job, err := s.svc.JobStatus(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			respondError(w, http.StatusNotFound, "search job not found or expired", "JOB_NOT_FOUND")
			return
		}
		log.Printf("job export failed: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to read job", "STATUS_ERROR")
		return
	}
	if job.Status != model.JobDone {
		respondError(w, http.StatusConflict, "search has not finished", "EXPORT_UNAVAILABLE")
		return
	}
	if s.exporter == nil || job.ArchiveKey == "" {
		respondError(w, http.StatusNotFound, "no archived export for this search", "EXPORT_NOT_FOUND")
		return
	}
	exportURL, err := s.exporter.PresignExportURL(r.Context(), job.ArchiveKey, exportURLTTL)
	if err != nil {
		log.Printf("presign export for job %d: %v", jobID, err)
		respondError(w, http.StatusInternalServerError, "failed to create export link", "EXPORT_ERROR")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"url":       exportURL,
		"expiresIn": int(exportURLTTL / time.Second),
	})
}

// clientStatus maps the internal lifecycle onto the wire vocabulary; queued
// jobs are reported as running so clients see a single pre-terminal phase
// before the pipeline picks the job up.
func clientStatus(s model.JobStatus) string {
	if s == model.JobQueued {
		return string(model.JobRunning)
	}
	return string(s)
}

func respondError(w http.ResponseWriter, status int, msg, code string) {
	body := map[string]any{"error": msg}
	if code != "" {
		body["code"] = code
	}
	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode json failed: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = "-"
		}
		log.Printf("%s %s %s (%s)", r.Method, r.URL.Path, reqID, time.Since(start).Round(time.Millisecond))
	})
}
