package main

import (
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/gavelhq/bidwire/go/internal/auction"
	"github.com/gavelhq/bidwire/go/internal/expiry"
	"github.com/gavelhq/bidwire/go/internal/gateway"
	"github.com/gavelhq/bidwire/go/internal/notification"
	"github.com/gavelhq/bidwire/go/internal/outbox"
)

// Services holds every wired subsystem of the backend.
type Services struct {
	Auction       *auction.Service
	Notifications *notification.Service
	Gateway       *gateway.Service
	Expiry        *expiry.Orchestrator
	OutboxList    *outbox.Listener
	Publisher     *outbox.JetStreamPublisher
}

func setupServices(config *Config, pool *pgxpool.Pool, listenerDB *sql.DB) (*Services, error) {
	clock := clockwork.NewRealClock()

	// Domain services over the pgx pool.
	auctionService := auction.NewService(auction.NewStore(pool), clock)
	notificationService := notification.NewService(notification.NewRepository(pool))

	// Outbox drain: LISTEN/NOTIFY plus fallback poll, publishing to JetStream.
	jsConfig := outbox.DefaultJetStreamConfig()
	jsConfig.URL = config.natsURL()
	publisher, err := outbox.NewJetStreamPublisher(jsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	listenerConfig := outbox.DefaultListenerConfig(config.databaseDSN())
	listener, err := outbox.NewListener(listenerDB, publisher, listenerConfig)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create outbox listener: %w", err)
	}

	// Expiry scheduler closing auctions at their deadline.
	orchestrator := expiry.NewOrchestrator(auctionService, auctionService)

	// Gateway: REST surface plus WebSocket fan-out.
	var redisClient *redis.Client
	if addr := config.redisAddr(); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
	}

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.JetStreamConfig.URL = config.natsURL()
	gatewayConfig.JWTSecret = config.jwtSecret()
	gatewayConfig.CacheTTL = config.cacheTTL()

	gatewayService, err := gateway.NewService(gatewayConfig, auctionService, notificationService, redisClient)
	if err != nil {
		publisher.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	// New listings may carry the soonest deadline.
	gatewayService.API().OnAuctionCreated(orchestrator.Wake)

	return &Services{
		Auction:       auctionService,
		Notifications: notificationService,
		Gateway:       gatewayService,
		Expiry:        orchestrator,
		OutboxList:    listener,
		Publisher:     publisher,
	}, nil
}
