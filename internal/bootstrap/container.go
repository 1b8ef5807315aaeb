package bootstrap

import (
	"context"
	"log"
	"time"

	"teamhub-be/internal/config"
	"teamhub-be/internal/controller"
	"teamhub-be/internal/pkg/logger"
	"teamhub-be/internal/repository/implementation"
	"teamhub-be/internal/service"
	"teamhub-be/internal/session"
	"teamhub-be/internal/transport"
	"teamhub-be/internal/websocket"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	// Controllers
	ChatController     controller.IChatController
	DocumentController controller.IDocumentController

	// Realtime layer
	WebSocketHub *websocket.Hub
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// 1. Core Facades
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// 2. Channel Transport
	var tr transport.Transport
	if cfg.Sync.TransportDriver == "nats" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		rdb := redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}

		natsTr, err := transport.NewNats(cfg.App.NatsURL, rdb, sysLogger)
		if err != nil {
			log.Fatalf("[FATAL] Failed to connect to NATS: %v", err)
		}
		tr = natsTr
		log.Printf("[INFO] Using channel transport: NATS (%s)", cfg.App.NatsURL)
	} else {
		tr = transport.NewGoChannel(sysLogger)
		log.Printf("[INFO] Using channel transport: in-memory")
	}

	// 3. Repositories
	channelRepo := implementation.NewChannelRepository(db)
	messageRepo := implementation.NewMessageRepository(db)
	documentRepo := implementation.NewDocumentRepository(db)

	// 4. Services
	chatService := service.NewChatService(channelRepo, messageRepo, tr, sysLogger)
	documentService := service.NewDocumentService(documentRepo, sysLogger)

	// 5. WebSocket Gateway. The hub runs one mirror replica per active
	// document channel, flattening and persisting edits on the quiet period.
	mirrors := session.New(tr, transport.Member{ID: "document-mirror", Name: "Document Mirror"},
		session.Options{
			Persist:     documentService.Persister(),
			QuietPeriod: time.Duration(cfg.Sync.PersistQuietSeconds) * time.Second,
		}, sysLogger)
	wsLogger := logger.NewIsolatedLogger("logs/gateway.log")
	wsHub := websocket.NewHub(tr, mirrors, wsLogger)
	go wsHub.Run()

	// 6. Controllers
	return &Container{
		ChatController:     controller.NewChatController(chatService),
		DocumentController: controller.NewDocumentController(documentService),
		WebSocketHub:       wsHub,
	}
}
