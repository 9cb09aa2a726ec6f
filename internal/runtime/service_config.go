package runtime

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/sparked/internal/runtime/bridge"
	"github.com/drblury/sparked/internal/runtime/config"
	"github.com/drblury/sparked/internal/runtime/dispatch"
	errspkg "github.com/drblury/sparked/internal/runtime/errors"
	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	"github.com/drblury/sparked/internal/runtime/metrics"
	"github.com/drblury/sparked/internal/runtime/store"
	_ "github.com/drblury/sparked/transport/transports"
)

// NewServiceFromConfig assembles a service from cfg. Capabilities are added in
// this order, each only when cfg asks for it:
//
//	router  cfg.Models or controllers passed through routerOpts
//	bridge  cfg.PubSubSystem with at least one bridge subject
//	api     cfg.APIEnabled
//
// With cfg.MetricsEnabled the collectors live in a registry private to the
// service, served on /metrics by the API.
func NewServiceFromConfig(cfg *config.Config, logger loggingpkg.ServiceLogger, routerOpts ...dispatch.RouterOption) (*Service, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}

	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		m = metrics.NewMetrics(reg)
		if err := m.Register(); err != nil {
			return nil, err
		}
		gatherer = reg
	}

	opts := []ServiceOption{
		WithName(cfg.Name),
		WithLogger(logger),
		WithMetrics(m),
		WithSubjects(cfg.Subjects...),
		WithRequestTimeout(cfg.RequestTimeout),
	}
	svc, err := NewService(opts...)
	if err != nil {
		return nil, err
	}

	router, err := newConfiguredRouter(svc, cfg, m, routerOpts)
	if err != nil {
		return nil, err
	}
	if router != nil {
		svc.capabilities = append(svc.capabilities, NewRouterCapability(router))
	}

	if cfg.PubSubSystem != "" && (len(cfg.BridgeOutbound) > 0 || len(cfg.BridgeInbound) > 0) {
		source := bridge.DefaultEventSource
		if cfg.Name != "" {
			source += "/" + cfg.Name
		}
		svc.capabilities = append(svc.capabilities, NewBridgeCapability(TransportFromConfig(cfg), bridge.Config{
			Outbound:     cfg.BridgeOutbound,
			Inbound:      cfg.BridgeInbound,
			Codec:        cfg.BridgeCodec,
			EventSource:  source,
			ReplyTimeout: cfg.RequestTimeout,
		}))
	}

	if cfg.APIEnabled {
		svc.capabilities = append(svc.capabilities, NewAPICapability(cfg.APIHost, cfg.APIPort, gatherer))
	}
	return svc, nil
}

// newConfiguredRouter returns nil when there is nothing to route.
func newConfiguredRouter(svc *Service, cfg *config.Config, m *metrics.Metrics, routerOpts []dispatch.RouterOption) (*dispatch.Router, error) {
	if len(cfg.Models) == 0 && len(routerOpts) == 0 {
		return nil, nil
	}

	var st store.Store
	if len(cfg.Models) > 0 {
		mem, err := store.NewMemory(cfg.Models...)
		if err != nil {
			return nil, err
		}
		st = mem
	}

	opts := []dispatch.RouterOption{
		dispatch.WithName(cfg.Name),
		dispatch.WithLogger(svc.Logger),
		dispatch.WithHooks(dispatch.LoggingHooks(svc.Logger)),
		dispatch.WithMetrics(m),
	}
	opts = append(opts, routerOpts...)
	router, err := dispatch.NewRouter(svc.Bus, st, opts...)
	if errors.Is(err, errspkg.ErrStoreRequired) {
		return nil, nil
	}
	return router, err
}

// Capability returns the first capability with the given name, or nil.
func (s *Service) Capability(name string) Capability {
	for _, c := range s.capabilities {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
