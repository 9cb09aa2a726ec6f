package runtime

import (
	"context"
	"errors"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/sparked/internal/runtime/bridge"
	"github.com/drblury/sparked/internal/runtime/bus"
	"github.com/drblury/sparked/internal/runtime/client"
	"github.com/drblury/sparked/internal/runtime/dispatch"
	loggingpkg "github.com/drblury/sparked/internal/runtime/logging"
	"github.com/drblury/sparked/transport"
)

// RouterCapability answers CRUD and controller commands through a
// dispatch.Router. It makes the service listen on the router's subjects.
type RouterCapability struct {
	Router *dispatch.Router
}

// NewRouterCapability wraps r.
func NewRouterCapability(r *dispatch.Router) *RouterCapability {
	return &RouterCapability{Router: r}
}

func (c *RouterCapability) Name() string { return "router" }

func (c *RouterCapability) Subjects() []string { return c.Router.Subjects() }

func (c *RouterCapability) OnConnect(context.Context, *Service) error { return nil }

func (c *RouterCapability) OnDisconnect(context.Context, *Service) error { return nil }

func (c *RouterCapability) OnMessage(ctx context.Context, _ *Service, env bus.Envelope) error {
	return c.Router.Handle(ctx, env)
}

// ClientsCapability connects model clients together with the service.
type ClientsCapability struct {
	Clients []*client.Model
}

// NewClientsCapability wraps clients.
func NewClientsCapability(clients ...*client.Model) *ClientsCapability {
	return &ClientsCapability{Clients: clients}
}

func (c *ClientsCapability) Name() string { return "clients" }

func (c *ClientsCapability) OnConnect(ctx context.Context, _ *Service) error {
	for i, m := range c.Clients {
		if err := m.Connect(ctx); err != nil {
			for _, done := range c.Clients[:i] {
				_ = done.Disconnect(ctx)
			}
			return err
		}
	}
	return nil
}

func (c *ClientsCapability) OnDisconnect(ctx context.Context, _ *Service) error {
	var errs []error
	for _, m := range c.Clients {
		errs = append(errs, m.Disconnect(ctx))
	}
	return errors.Join(errs...)
}

func (c *ClientsCapability) OnMessage(context.Context, *Service, bus.Envelope) error { return nil }

// TransportBuilder produces the broker connection for a bridge. It is called
// on every connect.
type TransportBuilder func(ctx context.Context, logger watermill.LoggerAdapter) (transport.Transport, error)

// BridgeCapability relays the service bus to an external broker while the
// service is connected.
type BridgeCapability struct {
	Build  TransportBuilder
	Config bridge.Config

	mu     sync.Mutex
	bridge *bridge.Bridge
}

// NewBridgeCapability builds the transport on connect and relays according
// to cfg.
func NewBridgeCapability(build TransportBuilder, cfg bridge.Config) *BridgeCapability {
	return &BridgeCapability{Build: build, Config: cfg}
}

// TransportFromConfig builds the transport named by cfg from the default
// transport registry.
func TransportFromConfig(cfg transport.Config) TransportBuilder {
	return func(ctx context.Context, logger watermill.LoggerAdapter) (transport.Transport, error) {
		return transport.Build(ctx, cfg, logger)
	}
}

func (c *BridgeCapability) Name() string { return "bridge" }

// Bridge returns the running bridge, or nil when disconnected.
func (c *BridgeCapability) Bridge() *bridge.Bridge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bridge
}

func (c *BridgeCapability) OnConnect(ctx context.Context, s *Service) error {
	logger := s.Logger.With(loggingpkg.LogFields{"component": "bridge"})
	tr, err := c.Build(ctx, loggingpkg.NewWatermillAdapter(logger))
	if err != nil {
		return err
	}
	br, err := bridge.New(s.Bus, tr, c.Config, bridge.WithLogger(logger))
	if err != nil {
		_ = tr.Close()
		return err
	}
	// the relay outlives the connect call
	if err := br.Start(context.WithoutCancel(ctx)); err != nil {
		_ = tr.Close()
		return err
	}

	c.mu.Lock()
	c.bridge = br
	c.mu.Unlock()
	return nil
}

func (c *BridgeCapability) OnDisconnect(context.Context, *Service) error {
	c.mu.Lock()
	br := c.bridge
	c.bridge = nil
	c.mu.Unlock()
	if br == nil {
		return nil
	}
	return br.Close()
}

func (c *BridgeCapability) OnMessage(context.Context, *Service, bus.Envelope) error { return nil }
