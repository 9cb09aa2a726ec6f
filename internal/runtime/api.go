package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/sparked/internal/runtime/bus"
	"github.com/drblury/sparked/internal/runtime/config"
	"github.com/drblury/sparked/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	"github.com/drblury/sparked/internal/runtime/metrics"
)

// listen is replaced in tests.
var listen = net.Listen

const shutdownTimeout = 5 * time.Second

// APICapability serves a small read-only HTTP API while the service is
// connected:
//
//	GET /api/subscriptions  live bus subscriptions
//	GET /api/stats          service state and metric totals
//	GET /metrics            Prometheus exposition, when Gatherer is set
type APICapability struct {
	Host     string
	Port     int
	Gatherer prometheus.Gatherer

	mu       sync.Mutex
	extra    map[string]http.Handler
	server   *http.Server
	listener net.Listener
}

// NewAPICapability serves on host:port. Empty values fall back to the config
// defaults.
func NewAPICapability(host string, port int, gatherer prometheus.Gatherer) *APICapability {
	return &APICapability{Host: host, Port: port, Gatherer: gatherer}
}

// Handle mounts an additional handler. It takes effect on the next connect.
func (c *APICapability) Handle(pattern string, handler http.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.extra == nil {
		c.extra = make(map[string]http.Handler)
	}
	c.extra[pattern] = handler
}

// Addr returns the bound address, or "" when the server is not running.
func (c *APICapability) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return ""
	}
	return c.listener.Addr().String()
}

func (c *APICapability) Name() string { return "api" }

func (c *APICapability) OnConnect(_ context.Context, s *Service) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.server != nil {
		return nil
	}

	host, port := c.Host, c.Port
	if host == "" {
		host = config.DefaultAPIHost
	}
	if port == 0 {
		port = config.DefaultAPIPort
	}
	addr := net.JoinHostPort(host, fmt.Sprint(port))

	mux := http.NewServeMux()
	mux.HandleFunc("/api/subscriptions", c.handleSubscriptions(s))
	mux.HandleFunc("/api/stats", c.handleStats(s))
	if c.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(c.Gatherer, promhttp.HandlerOpts{}))
	}
	for pattern, handler := range c.extra {
		mux.Handle(pattern, handler)
	}

	ln, err := listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	c.server = server
	c.listener = ln

	s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": ln.Addr().String()})
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": addr})
		}
	}()
	return nil
}

func (c *APICapability) OnDisconnect(ctx context.Context, _ *Service) error {
	c.mu.Lock()
	server := c.server
	c.server = nil
	c.listener = nil
	c.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}

func (c *APICapability) OnMessage(context.Context, *Service, bus.Envelope) error { return nil }

type statsResponse struct {
	Name          string            `json:"name"`
	Connected     bool              `json:"connected"`
	Subscriptions int               `json:"subscriptions"`
	Capabilities  []string          `json:"capabilities"`
	Metrics       *metrics.Snapshot `json:"metrics,omitempty"`
}

func (c *APICapability) handleSubscriptions(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, s, s.Bus.Registry().List())
	}
}

func (c *APICapability) handleStats(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		resp := statsResponse{
			Name:          s.Name,
			Connected:     s.Bus.Connected(),
			Subscriptions: s.Bus.Registry().Count(),
			Capabilities:  capabilityNames(s.capabilities),
		}
		if s.Metrics != nil {
			snapshot := s.Metrics.Snapshot()
			resp.Metrics = &snapshot
		}
		writeJSON(w, s, resp)
	}
}

func writeJSON(w http.ResponseWriter, s *Service, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode response", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}
