package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/liliang-cn/veilchat/internal/api"
	"github.com/liliang-cn/veilchat/internal/config"
	"github.com/liliang-cn/veilchat/internal/pii"
	"github.com/liliang-cn/veilchat/internal/provider"
	"github.com/liliang-cn/veilchat/internal/repository"
	"github.com/liliang-cn/veilchat/internal/service"
)

var (
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Initialize database
	db, err := repository.NewDB(cfg.Database.Path)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	// Initialize repositories
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	usageRepo := repository.NewUsageRepository(db)

	// Initialize completion provider
	completionProvider := provider.NewOpenAIProvider(cfg.LLM)

	// Initialize PII detection. The AI detector is optional; regex detection
	// always runs when PII is enabled.
	var aiDetector service.PIIDetector
	if cfg.PII.Enabled {
		detectionModel := cfg.PII.DetectionModel
		if detectionModel == "" {
			detectionModel = cfg.LLM.Model
		}
		aiDetector = pii.NewAIDetector(
			completionProvider,
			detectionModel,
			pii.ParseTypes(cfg.PII.EnabledTypes),
			cfg.PII.DetectionTimeout,
			logger,
		)
	}

	// Initialize abuse controls
	rateLimiter := service.NewRateLimiter(cfg.Limits.RequestsPerMinute)
	defer rateLimiter.Close()
	quota := service.NewQuotaTracker(usageRepo, cfg.Limits.DailyTokenQuota, logger)

	// Initialize chat service
	chatService := service.NewChatService(
		cfg,
		conversationRepo,
		messageRepo,
		completionProvider,
		aiDetector,
		rateLimiter,
		quota,
		logger,
	)

	// Setup router
	router := api.SetupRouter(chatService, logger, api.RouterConfig{
		APIKey:       cfg.Admin.APIKey,
		AllowOrigins: []string{"*"},
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:        cfg.Address(),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting VeilChat server",
			zap.String("address", cfg.Address()),
			zap.Bool("pii_enabled", cfg.PII.Enabled),
			zap.String("pii_storage_mode", cfg.PII.StorageMode),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
