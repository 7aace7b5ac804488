// =============================================================================
// Collection Aggregator - HTTP Server Module
// =============================================================================
//
// This module exposes the aggregation engine over HTTP for the dashboard.
//
// ROUTES:
//   GET  /health       liveness, {"status":"ok"}
//   POST /api/upload   multipart field "file"; ?accounts=false drops detail
//   GET  /metrics      Prometheus metrics
//
// UPLOAD RESPONSES:
//   200  the aggregate Result
//   400  {"status":"error","message":"<reason>"} for input the engine rejects
//   413  {"status":"error","message":"..."} when the body exceeds the limit
//   500  {"status":"error","message":"Failed to process file"}
//
// The upload part is streamed off the request body into memory for one
// request; nothing is written to disk.
//
// =============================================================================

package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
	"github.com/ginjaninja78/collection-aggregator/internal/validation"
)

const (
	uploadField          = "file"
	processFailedMessage = "Failed to process file"

	shutdownTimeout = 30 * time.Second
)

// Aggregator is the engine operation the server needs.
type Aggregator interface {
	ParseWithFallback(data []byte, includeAccounts bool) (*types.Result, error)
}

// Options configures a Server.
type Options struct {
	// MaxUploadBytes bounds the request body. Zero means no limit.
	MaxUploadBytes int64

	// IncludeAccounts is used when the request has no accounts parameter.
	IncludeAccounts bool
}

// Server serves uploads.
type Server struct {
	engine   Aggregator
	opts     Options
	logger   *zap.Logger
	metrics  *Metrics
	gatherer prometheus.Gatherer
	router   chi.Router
}

// New builds the server and its routes. Metrics are registered on a
// private registry served at /metrics.
func New(engine Aggregator, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	s := &Server{
		engine:   engine,
		opts:     opts,
		logger:   logger,
		metrics:  NewMetrics(reg),
		gatherer: reg,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Post("/upload", s.handleUpload)
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server: listen")
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	return nil
}

// =============================================================================
// HANDLERS
// =============================================================================

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func errorBody(message string) errorResponse {
	return errorResponse{Status: "error", Message: message}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": types.StatusOK})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := uuid.NewString()
	logger := s.logger.With(
		zap.String("upload_id", uploadID),
		zap.String("request_id", middleware.GetReqID(r.Context())),
	)

	includeAccounts, err := s.includeAccounts(r)
	if err != nil {
		s.metrics.Uploads.WithLabelValues(outcomeInvalid).Inc()
		s.fail(w, r, http.StatusBadRequest, err.Error())
		return
	}

	data, name, status, err := s.readUpload(w, r)
	if err != nil {
		logger.Warn("upload rejected", zap.Int("status", status), zap.Error(err))
		outcome := outcomeInvalid
		if status == http.StatusRequestEntityTooLarge {
			outcome = outcomeTooLarge
		}
		s.metrics.Uploads.WithLabelValues(outcome).Inc()
		s.fail(w, r, status, err.Error())
		return
	}

	logger = logger.With(zap.String("file", name), zap.Int("bytes", len(data)))
	logger.Info("upload received", zap.Bool("include_accounts", includeAccounts))

	start := time.Now()
	result, err := s.engine.ParseWithFallback(data, includeAccounts)
	if err != nil {
		if verr, ok := validation.AsValidationError(err); ok {
			logger.Warn("upload invalid", zap.String("reason", verr.Message))
			s.metrics.Uploads.WithLabelValues(outcomeInvalid).Inc()
			s.fail(w, r, http.StatusBadRequest, verr.Message)
			return
		}
		logger.Error("upload failed", zap.Error(err))
		s.metrics.Uploads.WithLabelValues(outcomeError).Inc()
		s.fail(w, r, http.StatusInternalServerError, processFailedMessage)
		return
	}

	s.metrics.observe(result)
	logger.Info("upload aggregated",
		zap.Int("rows", result.Meta.TotalRows),
		zap.Int("branches", result.Meta.TotalBranches),
		zap.Bool("fallback", result.Meta.Fallback),
		zap.Duration("duration", time.Since(start)),
	)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, result)
}

// includeAccounts reads the accounts query parameter.
func (s *Server) includeAccounts(r *http.Request) (bool, error) {
	raw := r.URL.Query().Get("accounts")
	if raw == "" {
		return s.opts.IncludeAccounts, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, validation.Errorf("Invalid accounts parameter %q.", raw)
	}
	return v, nil
}

// readUpload returns the uploaded file's bytes and name, or the status code
// and error to report.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, int, error) {
	limit := s.opts.MaxUploadBytes
	if limit > 0 {
		if r.ContentLength > limit {
			return nil, "", http.StatusRequestEntityTooLarge, tooLarge(limit)
		}
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, "", http.StatusBadRequest, validation.Errorf("Expected a multipart form upload.")
	}

	// Parts are read off the body in order; other fields are skipped unread.
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, "", http.StatusBadRequest, validation.Errorf("No file was uploaded.")
		}
		if err != nil {
			if isTooLarge(err) {
				return nil, "", http.StatusRequestEntityTooLarge, tooLarge(limit)
			}
			return nil, "", http.StatusBadRequest, validation.Errorf("Expected a multipart form upload.")
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		data, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			if isTooLarge(err) {
				return nil, "", http.StatusRequestEntityTooLarge, tooLarge(limit)
			}
			return nil, "", http.StatusBadRequest, validation.Errorf("Could not read the uploaded file.")
		}
		return data, part.FileName(), http.StatusOK, nil
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func tooLarge(limit int64) error {
	return validation.Errorf("The uploaded file exceeds the %d MB limit.", limit>>20)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody(message))
}
