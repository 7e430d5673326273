// Package ops exposes the operations endpoint: liveness, status, and
// prometheus metrics over one small HTTP surface.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mcp-tool-shop-org/consensusos/infrastructure/logging"
	"github.com/mcp-tool-shop-org/consensusos/system/adapters"
	engine "github.com/mcp-tool-shop-org/consensusos/system/core"
	"github.com/mcp-tool-shop-org/consensusos/system/governor"
)

// PluginID is the ops plugin's id in the core loader.
const PluginID = "ops"

const shutdownGrace = 5 * time.Second

// Sources are the read-only views the endpoint renders.
type Sources struct {
	Loader   *engine.Loader
	Governor *governor.Governor
	Adapters *adapters.Registry
	Gatherer prometheus.Gatherer
}

// Server is the ops plugin. The listen address comes from plugin config
// ("addr"), falling back to the constructor default.
type Server struct {
	mu      sync.Mutex
	addr    string
	sources Sources
	log     *logging.Logger
	httpSrv *http.Server
}

// New creates an ops server with a default listen address.
func New(addr string, sources Sources) *Server {
	if addr == "" {
		addr = ":9090"
	}
	return &Server{addr: addr, sources: sources}
}

// Manifest implements engine.Plugin.
func (s *Server) Manifest() engine.Manifest {
	return engine.Manifest{
		ID:           PluginID,
		Name:         "Operations Endpoint",
		Version:      "1.0.0",
		Capabilities: []string{"observability"},
	}
}

// Init implements engine.Plugin.
func (s *Server) Init(ctx *engine.PluginContext) engine.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = ctx.Log
	s.addr = ctx.ConfigString("addr", s.addr)
	return engine.OK()
}

// Start implements engine.Plugin, binding the HTTP listener.
func (s *Server) Start() engine.Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Ops endpoint terminated")
		}
	}()

	s.log.WithField("addr", s.addr).Info("Ops endpoint listening")
	return engine.OK()
}

// Stop implements engine.Plugin, draining the listener.
func (s *Server) Stop() engine.Result {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()

	if srv == nil {
		return engine.OK()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return engine.Failf("shutdown: %v", err)
	}
	return engine.OK()
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)

	gatherer := s.sources.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	states := map[string]string{}
	healthy := true

	if s.sources.Loader != nil {
		for _, manifest := range s.sources.Loader.Plugins() {
			state, _ := s.sources.Loader.State(manifest.ID)
			states[manifest.ID] = string(state)
			if state == engine.StateError {
				healthy = false
			}
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": healthy,
		"plugins": states,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}

	if s.sources.Loader != nil {
		body["boot_order"] = s.sources.Loader.BootOrder()

		plugins := []map[string]any{}
		for _, manifest := range s.sources.Loader.Plugins() {
			state, _ := s.sources.Loader.State(manifest.ID)
			plugins = append(plugins, map[string]any{
				"id":           manifest.ID,
				"version":      manifest.Version,
				"capabilities": manifest.Capabilities,
				"state":        string(state),
			})
		}
		body["plugins"] = plugins
	}

	if s.sources.Governor != nil {
		body["governor"] = map[string]any{
			"limits": s.sources.Governor.Limits(),
			"usage":  s.sources.Governor.Usage(),
			"queue": map[string]any{
				"depth":  s.sources.Governor.Queue().Depth(),
				"active": s.sources.Governor.Queue().ActiveCount(),
			},
		}
	}

	if s.sources.Adapters != nil {
		body["adapters"] = s.sources.Adapters.List()
	}

	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
