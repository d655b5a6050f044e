// Package server exposes the forum digest over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/cpunion/hkforum/pkg/digest"
	"github.com/cpunion/hkforum/pkg/history"
	"github.com/cpunion/hkforum/pkg/ratelimit"
	"github.com/cpunion/hkforum/pkg/types"
)

// Digester is the orchestrator surface the server needs.
type Digester interface {
	Process(ctx context.Context, req digest.Request) (*digest.Result, error)
	Categories(p types.Platform) []string
	Tracker(p types.Platform) *ratelimit.Tracker
}

// HistoryReader lists recent requests, newest first.
type HistoryReader interface {
	Recent(n int) []history.Entry
}

// Server routes HTTP requests to the digester.
type Server struct {
	digester Digester
	history  HistoryReader
	gatherer prometheus.Gatherer
	logger   *zap.Logger
	router   *mux.Router
}

// Option customises a Server.
type Option func(*Server)

// WithHistory enables GET /api/history.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithGatherer enables GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds the server and its routes.
func New(d Digester, opts ...Option) *Server {
	s := &Server{digester: d, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ask", s.handleAsk).Methods(http.MethodPost)
	api.HandleFunc("/preview", withJSON(s.handlePreview)).Methods(http.MethodPost)
	api.HandleFunc("/platforms/{platform}/categories", withJSON(s.handleCategories)).Methods(http.MethodGet)
	api.HandleFunc("/platforms/{platform}/ratelimit", withJSON(s.handleRateLimit)).Methods(http.MethodGet)
	if s.history != nil {
		api.HandleFunc("/history", withJSON(s.handleHistory)).Methods(http.MethodGet)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	r.Use(s.logRequest)
	s.router = r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("web server listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// AskRequest is the body of POST /api/ask and /api/preview.
type AskRequest struct {
	Question string `json:"question"`
	Platform string `json:"platform"`
	Category string `json:"category"`
	Stream   bool   `json:"stream,omitempty"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) (digest.Request, error) {
	var body AskRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		return digest.Request{}, fmt.Errorf("invalid request body: %w", err)
	}
	if body.Question == "" {
		return digest.Request{}, errors.New("question is required")
	}
	p, err := types.ParsePlatform(body.Platform)
	if err != nil {
		return digest.Request{}, err
	}
	if body.Category == "" {
		return digest.Request{}, errors.New("category is required")
	}
	return digest.Request{
		Question:         body.Question,
		Platform:         p,
		SelectedCategory: body.Category,
		Stream:           body.Stream,
	}, nil
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	req, err := s.decode(w, r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	res, err := s.digester.Process(r.Context(), req)
	if res == nil {
		writeJSON(w, errorStatus(err), map[string]any{"error": errorText(err)})
		return
	}
	if res.Stream == nil {
		writeJSON(w, resultStatus(res), res)
		return
	}
	s.streamAnswer(w, r, res)
}

// streamAnswer writes the answer chunks as plain text, flushing each one.
// Coalesced callers may share the stream, so it is not closed when this
// client goes away; the summarizer timeout bounds the source.
func (s *Server) streamAnswer(w http.ResponseWriter, r *http.Request, res *digest.Result) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Request-ID", res.RequestID)
	w.Header().Set("X-Digest-Status", string(res.Status))
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	for chunk, err := range res.Stream.Chunks() {
		if err != nil {
			s.logger.Warn("answer stream failed",
				zap.String("request_id", res.RequestID),
				zap.Error(err))
			return
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		if r.Context().Err() != nil {
			return
		}
	}
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) (any, int, error) {
	req, err := s.decode(w, r)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	req.ReturnPrompt = true
	req.Stream = false
	res, err := s.digester.Process(r.Context(), req)
	if res == nil {
		return nil, errorStatus(err), errors.New(errorText(err))
	}
	return res, resultStatus(res), nil
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) (any, int, error) {
	p, err := types.ParsePlatform(mux.Vars(r)["platform"])
	if err != nil {
		return nil, http.StatusNotFound, err
	}
	return map[string]any{
		"platform":   p,
		"categories": s.digester.Categories(p),
	}, http.StatusOK, nil
}

func (s *Server) handleRateLimit(w http.ResponseWriter, r *http.Request) (any, int, error) {
	p, err := types.ParsePlatform(mux.Vars(r)["platform"])
	if err != nil {
		return nil, http.StatusNotFound, err
	}
	tracker := s.digester.Tracker(p)
	if tracker == nil {
		return nil, http.StatusNotFound, fmt.Errorf("platform %s is not configured", p)
	}
	return map[string]any{
		"platform":   p,
		"rate_limit": tracker.Snapshot(),
	}, http.StatusOK, nil
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) (any, int, error) {
	limit := parseLimit(r.URL.Query().Get("limit"), 20, 1, 200)
	return map[string]any{"entries": s.history.Recent(limit)}, http.StatusOK, nil
}

// resultStatus maps a digest status to an HTTP status code.
func resultStatus(res *digest.Result) int {
	switch res.Status {
	case digest.StatusConfigError:
		return http.StatusBadRequest
	case digest.StatusNoData, digest.StatusNoMatch:
		return http.StatusNotFound
	case digest.StatusDuplicate:
		return http.StatusConflict
	case digest.StatusRateLimited:
		return http.StatusTooManyRequests
	case digest.StatusCanceled:
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func errorStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func errorText(err error) string {
	if err == nil {
		return "no result"
	}
	return err.Error()
}

func withJSON(handler func(http.ResponseWriter, *http.Request) (any, int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, status, err := handler(w, r)
		if err != nil {
			writeJSON(w, status, map[string]any{
				"error": err.Error(),
			})
			return
		}
		writeJSON(w, status, payload)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

func parseLimit(value string, fallback, min, max int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	if parsed < min {
		return min
	}
	if parsed > max {
		return max
	}
	return parsed
}
