// Package web serves the dimmer over HTTP: sysfs-style attribute files, the
// status page and JSON, a typed REST API with OpenAPI docs, and /metrics.
package web

import (
	"context"
	"log/slog"
	"net"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/sweeney/cadence-dimmer/internal/logic"
	"github.com/sweeney/cadence-dimmer/internal/state"
	"github.com/sweeney/cadence-dimmer/internal/status"
)

// Source names recorded on duty change events.
const (
	SourceHTTP = "http"
	SourceAPI  = "api"
)

// Dimmer is the part of the shared state the server reads and writes.
type Dimmer interface {
	Speed() uint64
	Duties() logic.Duties
	Signal() state.Signal
	SetDuties(d logic.Duties, source string) error
	SetDuty(channel, duty int, source string) error
	WriteDuties(input, source string) error
}

// Server serves the dimmer over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	dimmer     Dimmer
	api        huma.API
	logger     *slog.Logger
}

// Options configures optional parts of the server.
type Options struct {
	Logger  *slog.Logger
	Metrics http.Handler // served at /metrics when set
}

// New creates a Server that reads status from tracker and drives dimmer.
func New(addr string, tracker *status.Tracker, dimmer Dimmer, opts Options) *Server {
	s := &Server{
		tracker: tracker,
		dimmer:  dimmer,
		logger:  opts.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	s.registerAttributes(mux)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	config := huma.DefaultConfig("Cadence Dimmer API", "1.0.0")
	config.Info.Description = "Button cadence and LED duty cycle control"
	config.Servers = []*huma.Server{}
	s.api = humago.New(mux, config)
	s.api.UseMiddleware(s.logRequests)
	s.registerAPI()

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.logger.Warn("render status page", "error", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}
