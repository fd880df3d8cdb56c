package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mercura/order-chat/internal/broker"
	"github.com/mercura/order-chat/internal/config"
	"github.com/mercura/order-chat/internal/database"
	"github.com/mercura/order-chat/internal/handler"
	"github.com/mercura/order-chat/internal/hub"
	"github.com/mercura/order-chat/internal/index"
	"github.com/mercura/order-chat/internal/middleware"
	"github.com/mercura/order-chat/internal/repository"
	"github.com/mercura/order-chat/internal/service"
	"github.com/mercura/order-chat/internal/wal"
	"github.com/mercura/order-chat/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	log.Println("Config loaded successfully")

	if err := logger.Init(cfg.Environment == "development"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	database.Connect(cfg)
	database.Migrate()

	// Initialize message journal
	walInstance, err := wal.NewWAL(cfg.WALPath)
	if err != nil {
		log.Fatalf("Failed to initialize WAL: %v", err)
	}
	defer walInstance.Close()

	// Initialize Redis event broker
	eventBroker, err := broker.NewRedisEventBroker(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to initialize Redis broker: %v", err)
	}

	// Initialize relay hub (broker close is owned by hub.Stop)
	relay := hub.New(cfg.NodeID, eventBroker)
	if err := relay.Start(); err != nil {
		log.Fatalf("Failed to start relay hub: %v", err)
	}
	defer relay.Stop()

	// Initialize store and conversation index (warm rebuild)
	messageRepo := repository.NewMessageRepository(database.DB, cfg.HistoryLimit)
	conversationIndex := index.New()
	if err := conversationIndex.Rebuild(context.Background(), messageRepo); err != nil {
		log.Fatalf("Failed to rebuild conversation index: %v", err)
	}

	// Initialize services
	chatService := service.NewChatService(messageRepo, conversationIndex, relay, walInstance)
	stopReplay := chatService.StartReplay(context.Background(), cfg.ReplayInterval)
	defer stopReplay()

	// Initialize handlers
	chatHandler := handler.NewChatHandler(chatService, cfg.PollInterval, cfg.ReconcileWindow)
	wsHandler := handler.NewWebSocketHandler(chatService, relay)

	// Setup Gin router
	router := gin.Default()
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.HSTSMiddleware(cfg.Environment == "production"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "x-publishable-api-key", "Authorization"},
		AllowCredentials: true,
	}))

	rateLimiter := middleware.NewRateLimiter(eventBroker.Client(), middleware.RateLimiterConfig{
		MaxRequests: cfg.RateLimitMaxRequests,
		Window:      cfg.RateLimitWindow,
		BlockTime:   cfg.RateLimitBlockTime,
	})
	router.Use(rateLimiter.Middleware())

	// Polling surface (storefront)
	router.GET("/chat", chatHandler.Read)
	router.GET("/chat/config", chatHandler.ClientConfig)
	router.POST("/chat", chatHandler.Write)
	router.DELETE("/chat/messages/:id", chatHandler.Delete)

	// Admin console surface
	router.GET("/admin/chat/conversations", chatHandler.Conversations)
	router.GET("/admin/chat/messages", chatHandler.History)

	// Push channel
	router.GET("/ws", wsHandler.HandleWebSocket)

	srv := &http.Server{
		Addr:    cfg.ServerPort,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("Server starting on %s", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
