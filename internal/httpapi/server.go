// Package httpapi exposes the orchestrator's job lifecycle over HTTP:
// POST /convert, GET /progress, GET /download, POST /cleanup and
// GET /converted-files.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/apresai/audioconv/internal/orchestrator"
	"github.com/apresai/audioconv/internal/progress"
)

// Server wraps the orchestrator and progress channel behind a mux.
type Server struct {
	orch *orchestrator.Orchestrator
	prog *progress.Channel
	log  *slog.Logger

	httpServer *http.Server
}

// NewServer builds a Server listening on addr. Every route is wrapped
// with request logging and OpenTelemetry span instrumentation.
func NewServer(addr string, orch *orchestrator.Orchestrator, prog *progress.Channel, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{orch: orch, prog: prog, log: log}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /convert", s.handleConvert)
	mux.HandleFunc("GET /progress", s.handleProgress)
	mux.HandleFunc("GET /download", s.handleDownload)
	mux.HandleFunc("POST /cleanup", s.handleCleanup)
	mux.HandleFunc("GET /converted-files", s.handleConvertedFiles)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	logged := loggingMiddleware(log, mux)
	handler := otelhttp.NewHandler(logged, "audioconv")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: handler,
	}
	return s
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"runningJobs": strconv.Itoa(s.orch.RunningJobs()),
	})
}

// ListenAndServe blocks serving HTTP until the server is shut down or
// an unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops accepting new connections and waits for
// in-flight requests to finish, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
