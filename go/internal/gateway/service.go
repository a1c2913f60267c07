package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/gavelhq/bidwire/go/internal/auction"
	"github.com/gavelhq/bidwire/go/internal/notification"
)

// Service is the live gateway: the REST write/read surface plus the
// WebSocket fan-out fed by the JetStream consumer.
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
	api               *API
	auth              *Authenticator
}

// Config holds configuration for the gateway service.
type Config struct {
	ConnectionConfig ConnectionConfig
	JetStreamConfig  JetStreamConsumerConfig
	JWTSecret        string
	CacheTTL         time.Duration
}

// DefaultConfig returns default gateway configuration.
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		JetStreamConfig:  DefaultJetStreamConsumerConfig(),
		CacheTTL:         5 * time.Second,
	}
}

// NewService wires the gateway together. redisClient may be nil to disable
// the state cache.
func NewService(
	config Config,
	auctions *auction.Service,
	notifications *notification.Service,
	redisClient *redis.Client,
) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig)
	auth := NewAuthenticator([]byte(config.JWTSecret))
	cache := NewStateCache(redisClient, config.CacheTTL)

	eventConsumer, err := NewEventConsumer(connectionManager, cache, config.JetStreamConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, auth),
		eventConsumer:     eventConsumer,
		api:               NewAPI(auctions, notifications, cache),
		auth:              auth,
	}, nil
}

// API exposes the REST handler set, e.g. to hook the expiry scheduler wake.
func (s *Service) API() *API {
	return s.api
}

// Start runs the gateway until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting auction gateway service")

	go s.connectionManager.Start(ctx)

	go func() {
		if err := s.eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("auction gateway service shutting down")
	return s.Stop()
}

// Stop shuts the gateway down.
func (s *Service) Stop() error {
	if err := s.eventConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop event consumer")
	}
	log.Info().Msg("auction gateway service stopped")
	return nil
}

// RegisterRoutes wires REST and WebSocket routes onto mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.api.RegisterRoutes(mux, s.auth)
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("auction gateway routes registered")
}
