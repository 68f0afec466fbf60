package bootstrap

import (
	"context"
	"log"
	"strings"
	"time"

	"notefiber-collab/internal/config"
	"notefiber-collab/internal/handler"
	"notefiber-collab/internal/pkg/logger"
	"notefiber-collab/internal/repository/memory"
	"notefiber-collab/internal/repository/unitofwork"
	"notefiber-collab/internal/service"
	"notefiber-collab/internal/websocket"

	"notefiber-collab/pkg/events"
	pktNats "notefiber-collab/pkg/nats"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

type Container struct {
	SyncHandler *handler.SyncHandler

	// Background Services (Exposed for main.go to run)
	ConsumerService service.IConsumerService
	DocumentService service.IDocumentService
	WebSocketHub    *websocket.Hub

	Logger logger.ILogger

	natsSub *pktNats.Subscriber
	closers []func() error
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Event Bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: 256},
		watermillLogger,
	)

	// 3. Infrastructure
	// NATS
	natsPub, err := pktNats.NewPublisher(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Publisher: %v", err)
	}
	natsSub, err := pktNats.NewSubscriber(cfg.App.NatsURL)
	if err != nil {
		log.Printf("[WARN] Failed to connect to NATS Subscriber: %v", err)
	}

	// Redis
	opt, err := redis.ParseURL(cfg.App.RedisURL)
	if err != nil {
		log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
		opt = &redis.Options{
			Addr: cfg.App.RedisURL,
		}
	}
	rdb := redis.NewClient(opt)
	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		log.Printf("[WARN] Failed to connect to Redis: %v", err)
	}

	// 4. Services
	cache := memory.NewDocumentCache(time.Duration(cfg.Sync.DocCacheTTLMinute) * time.Minute)

	var eventPublisher service.EventPublisher
	if natsPub != nil {
		eventPublisher = natsPub
	}
	documentService := service.NewDocumentService(uowFactory, cache, eventPublisher, service.DocumentServiceConfig{
		InstanceID:     cfg.App.InstanceID,
		CompactAfter:   cfg.Sync.CompactAfter,
		MaxUpdateBytes: cfg.Sync.MaxUpdateBytes,
	}, sysLogger)

	consumerService := service.NewConsumerService(pubSub, cfg.Sync.Topic, documentService, sysLogger)

	// WebSocket Hub
	hubLogger := logger.NewIsolatedLogger(cfg.App.HubLogFilePath)
	wsHub := websocket.NewHub(rdb, pubSub, documentService, websocket.HubConfig{
		InstanceID:    cfg.App.InstanceID,
		RedisChannel:  cfg.Sync.RedisChannel,
		Topic:         cfg.Sync.Topic,
		MaxFrameBytes: cfg.Sync.MaxUpdateBytes,
	}, hubLogger)

	c := &Container{
		SyncHandler:     handler.NewSyncHandler(documentService, wsHub, cfg.App.JWTSecret, sysLogger),
		ConsumerService: consumerService,
		DocumentService: documentService,
		WebSocketHub:    wsHub,
		Logger:          sysLogger,
		natsSub:         natsSub,
	}
	c.closers = append(c.closers, pubSub.Close, rdb.Close)
	if natsPub != nil {
		c.closers = append(c.closers, func() error { natsPub.Close(); return nil })
	}
	if natsSub != nil {
		c.closers = append(c.closers, func() error { natsSub.Close(); return nil })
	}
	c.closers = append(c.closers, hubLogger.Sync)
	return c
}

// durableName strips characters NATS does not allow in consumer names.
var durableName = strings.NewReplacer(".", "-", "*", "-", ">", "-", " ", "-")

// Start runs the hub, the persistence consumer and the document event
// listener until ctx is done.
func (c *Container) Start(ctx context.Context, instanceID string) error {
	go c.WebSocketHub.Run(ctx)

	if err := c.ConsumerService.Consume(ctx); err != nil {
		return err
	}

	if c.natsSub != nil {
		// every instance needs its own durables to see all document events
		for _, eventType := range []string{events.DocumentUpdated, events.DocumentCompacted} {
			durable := durableName.Replace("relay-" + instanceID + "-" + strings.ToLower(eventType))
			if err := c.natsSub.Subscribe("events."+eventType, durable, c.DocumentService.HandleDocumentEvent); err != nil {
				c.Logger.Error("Bootstrap", "Failed to subscribe to document events", map[string]interface{}{
					"type":  eventType,
					"error": err.Error(),
				})
			}
		}
	}
	return nil
}

// Close releases connections in creation order and reports every failure.
func (c *Container) Close() error {
	var err error
	for _, closeFn := range c.closers {
		err = multierr.Append(err, closeFn())
	}
	return err
}
