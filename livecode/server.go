package livecode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/isdmx/livecode/config"
	"github.com/isdmx/livecode/runtimes"
	"github.com/isdmx/livecode/sandbox"
)

// MaxRequestBody bounds the body of the POST endpoints.
const MaxRequestBody = 16 << 20

const shutdownTimeout = 10 * time.Second

// Server is the livecode HTTP and websocket server.
type Server struct {
	config   *config.Config
	logger   *zap.Logger
	executor sandbox.SandboxExecutor
	registry *runtimes.Registry
	router   chi.Router
	http     *http.Server
}

// New creates a Server.
func New(cfg *config.Config, logger *zap.Logger, executor sandbox.SandboxExecutor, registry *runtimes.Registry) *Server {
	s := &Server{
		config:   cfg,
		logger:   logger.With(zap.String("component", "livecode")),
		executor: executor,
		registry: registry,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(allowAnyOrigin)

	r.Get("/livecode", s.handleLivecode)
	r.Post("/exec", s.handleExec)
	r.Get("/runtimes", s.handleListRuntimes)
	r.Post("/runtimes/{runtime}", s.handleRuntimeExec)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	return r
}

// Start listens on server.http_port and serves in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Server.HTTPPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("starting livecode server", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("livecode server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	s.logger.Info("stopping livecode server")
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func allowAnyOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

type runtimesResponse struct {
	Runtimes []string `json:"runtimes"`
}

func (s *Server) handleListRuntimes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, runtimesResponse{Runtimes: s.registry.Names()})
}

// statusFor maps errors returned before a session produced output.
func statusFor(err error) int {
	switch {
	case errors.Is(err, runtimes.ErrUnknownRuntime):
		return http.StatusNotFound
	case errors.Is(err, sandbox.ErrInvalidFilename):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
