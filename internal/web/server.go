// Package web serves the cardvault JSON API over HTTP.
package web

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"github.com/hpungsan/cardvault/internal/logging"
	"github.com/hpungsan/cardvault/internal/ops"
)

// NewServer creates and configures the HTTP server for the cardvault API.
func NewServer(deps *ops.Deps, bind string, port int) *http.Server {
	h := &Handlers{deps: deps}
	logger := logging.OrDiscard(deps.Logger)

	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /healthz", h.HandleHealth)

	mux.HandleFunc("POST /cards", h.HandleIngest)
	mux.HandleFunc("GET /cards", h.HandleList)
	mux.HandleFunc("GET /cards/{id}", h.HandleFetch)
	mux.HandleFunc("DELETE /cards/{id}", h.HandleDelete)
	mux.HandleFunc("POST /cards/{id}/versions", h.HandleIngest)
	mux.HandleFunc("GET /cards/{id}/history", h.HandleHistory)

	mux.HandleFunc("GET /rules/global", h.HandleGetRules)
	mux.HandleFunc("PUT /rules/global", h.HandleSetRules)
	mux.HandleFunc("GET /cards/{id}/rules", h.HandleGetRules)
	mux.HandleFunc("PUT /cards/{id}/rules", h.HandleSetRules)

	mux.HandleFunc("POST /cards/{id}/sessions", h.HandleAddSession)
	mux.HandleFunc("GET /cards/{id}/sessions", h.HandleListSessions)
	mux.HandleFunc("GET /sessions/{sid}/content", h.HandleContent)
	mux.HandleFunc("GET /sessions/{sid}/url", h.HandlePresign)
	mux.HandleFunc("DELETE /sessions/{sid}", h.HandleDeleteSession)

	handler := logRequests(logger, securityHeaders(mux))

	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", bind, port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.statusCode = http.StatusOK
		rw.written = true
	}
	return rw.ResponseWriter.Write(b)
}

func logRequests(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		logger.Info("request",
			"method", r.Method,
			"path", path.Clean(r.URL.Path),
			"status", rw.statusCode,
			"duration", time.Since(start),
		)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM.
func Run(srv *http.Server, logger *slog.Logger) error {
	logger = logging.OrDiscard(logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("listening", "addr", srv.Addr)

	if strings.Contains(srv.Addr, "0.0.0.0") || strings.Contains(srv.Addr, "::") {
		logger.Warn("server is binding to all interfaces and may be accessible from the network")
	}

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	}
}
