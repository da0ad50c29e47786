package gateway

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/checkpoint/go/internal/livesession/lifecycle"
	"github.com/mcdev12/checkpoint/go/internal/livesession/registry"
	"github.com/mcdev12/checkpoint/go/internal/livesession/room"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Service is the checkpoint gateway: it owns the session registry and room
// membership and serves them over WebSocket, HTTP and optionally NATS
type Service struct {
	config Config
	clock  clockwork.Clock

	registry *registry.Registry
	members  *room.Membership
	expiry   *lifecycle.ExpiryScheduler
	hub      *Hub

	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	health            *HealthChecker

	natsConn        *nats.Conn
	commandConsumer *CommandConsumer
}

// ServiceOption customizes NewService
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock    clockwork.Clock
	natsConn *nats.Conn
}

// WithClock replaces the wall clock, mostly for tests
func WithClock(clock clockwork.Clock) ServiceOption {
	return func(o *serviceOptions) {
		o.clock = clock
	}
}

// WithNATSConn uses an existing NATS connection instead of dialing NATS.URL
func WithNATSConn(nc *nats.Conn) ServiceOption {
	return func(o *serviceOptions) {
		o.natsConn = nc
	}
}

// NewService creates a new gateway service
func NewService(config Config, opts ...ServiceOption) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	options := serviceOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&options)
	}

	s := &Service{
		config:   config,
		clock:    options.clock,
		registry: registry.New(config.RegistryShards),
		members:  room.NewMembership(),
	}

	var controllerOpts []lifecycle.Option
	if config.Lifecycle.AutoExpire {
		s.expiry = lifecycle.NewExpiryScheduler(s.clock, s.registry, nil)
		controllerOpts = append(controllerOpts, lifecycle.WithExpiry(s.expiry))
	}
	controller := lifecycle.NewController(s.registry, controllerOpts...)

	// Connect NATS before building the hub so events are mirrored from the first one
	var publisher EventPublisher = NoOpPublisher{}
	s.natsConn = options.natsConn
	if s.natsConn == nil && config.NATSEnabled() {
		nc, err := ConnectNATS(config.NATS)
		if err != nil {
			return nil, fmt.Errorf("failed to create NATS connection: %w", err)
		}
		s.natsConn = nc
	}
	if s.natsConn != nil {
		publisher = NewNATSPublisher(s.natsConn, config.NATS.SubjectPrefix)
	}

	fanout := NewFanout(s.members, s.clock)
	s.hub = NewHub(s.registry, s.members, controller, fanout, publisher)
	if s.expiry != nil {
		s.expiry.SetOnExpired(s.hub.CheckpointExpired)
		s.expiry.SetSessionGuard(s.hub.WithSession)
	}

	connConfig := config.Connection
	connConfig.CheckOrigin = originChecker(config.AllowedOrigins)
	s.connectionManager = NewConnectionManager(connConfig, s.hub, s.clock)
	s.wsHandler = NewWebSocketHandler(s.connectionManager, s.members)
	s.stateHandler = NewStateHandler(s.registry, s.members, s.clock)
	s.health = NewHealthChecker(s, s.natsConn)

	if s.natsConn != nil {
		s.commandConsumer = NewCommandConsumer(s.natsConn, s.hub, config.NATS)
	}

	return s, nil
}

// Start begins consuming NATS commands and blocks until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().
		Bool("nats_enabled", s.natsConn != nil).
		Bool("auto_expire", s.expiry != nil).
		Msg("starting checkpoint gateway service")

	if s.commandConsumer != nil {
		if err := s.commandConsumer.Start(); err != nil {
			return fmt.Errorf("failed to start command consumer: %w", err)
		}
	}

	<-ctx.Done()

	log.Info().Msg("checkpoint gateway service shutting down")
	return s.Stop()
}

// Stop gracefully shuts down the gateway service
func (s *Service) Stop() error {
	if s.commandConsumer != nil {
		if err := s.commandConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop command consumer")
		}
	}

	s.connectionManager.CloseAll()

	if s.expiry != nil {
		s.expiry.Close()
	}

	if s.natsConn != nil {
		if err := s.natsConn.Drain(); err != nil {
			log.Error().Err(err).Msg("failed to drain NATS connection")
		}
	}

	log.Info().Msg("checkpoint gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket, state and health routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	mux.Handle("GET /health", s.health)
	log.Info().Msg("checkpoint gateway routes registered")
}

// Hub exposes the command hub, used by embedding applications and tests
func (s *Service) Hub() *Hub {
	return s.hub
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]interface{} {
	stats := s.members.Stats()
	return map[string]interface{}{
		"service":          "checkpoint_gateway",
		"status":           "running",
		"open_connections": s.connectionManager.Count(),
		"joined_members":   stats.TotalConnections,
		"active_sessions":  stats.ActiveSessions,
		"known_sessions":   s.registry.Len(),
		"nats_enabled":     s.natsConn != nil,
		"auto_expire":      s.expiry != nil,
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and browser requests whose origin is listed
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.ContainsFunc(allowed, func(o string) bool {
			return strings.EqualFold(strings.TrimSpace(o), origin)
		})
	}
}
