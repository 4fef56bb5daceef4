package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"project_atendimento/internal/config"
	"project_atendimento/internal/entities"
	"project_atendimento/internal/infrastructure"
	"project_atendimento/internal/interfaces"
	api "project_atendimento/internal/interfaces/http"
	"project_atendimento/internal/repository"
	"project_atendimento/internal/usecases"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to PostgreSQL
	pgClient, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pgClient.Close()

	// Initialize Repositories
	channelRepo := repository.NewChannelRepository(pgClient.Pool)
	instanceRepo := repository.NewInstanceRepository(pgClient.Pool)
	mappingRepo := repository.NewMappingRepository(pgClient.Pool)
	tableManager := repository.NewTableManager(pgClient.Pool)

	curated, err := config.LoadAliases(cfg.ChannelAliasesFile)
	if err != nil {
		logger.Error("failed to load channel aliases", slog.Any("error", err))
		os.Exit(1)
	}

	var notifier interfaces.Notifier
	if cfg.TelegramEnabled() {
		tg, err := infrastructure.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramAlertChatID, logger)
		if err != nil {
			logger.Warn("telegram alerts disabled", slog.Any("error", err))
		} else {
			notifier = tg
		}
	}

	// Gateway: remote HTTP API or embedded sessions
	var gateway interfaces.Gateway
	var waManager *infrastructure.WhatsAppManager
	switch cfg.GatewayMode {
	case "embedded":
		waManager = infrastructure.NewWhatsAppManager(cfg.DevicesDir, cfg.GatewayTimeout, logger)
		gateway = waManager
	default:
		gateway = infrastructure.NewGatewayClient(cfg.GatewayTimeout, logger)
	}

	var dispatcher interfaces.Dispatcher
	switch cfg.DispatchMode {
	case "webhook":
		dispatcher = infrastructure.NewWebhookRelay(cfg.RelayWebhookURL, cfg.GatewayTimeout, logger)
	case "amqp":
		relay, err := infrastructure.NewAMQPRelay(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			logger.Error("failed to connect to broker", slog.Any("error", err))
			os.Exit(1)
		}
		defer relay.Close()
		dispatcher = relay
	default:
		dispatcher = infrastructure.NewDirectDispatcher(gateway)
	}

	limiter := infrastructure.NewMessageRateLimiter(cfg.SendRatePerSecond, cfg.SendBurst)
	defer limiter.Close()

	// Initialize Usecases
	tables := usecases.NewTableDirectory(tableManager, channelRepo, logger)
	if err := tables.Reload(ctx); err != nil {
		logger.Error("failed to load channel tables", slog.Any("error", err))
		os.Exit(1)
	}
	states := usecases.NewCache[string, entities.ConnectionState](cfg.StatusCacheTTL)
	lifecycle := usecases.NewConnectionLifecycle(gateway, mappingRepo, notifier, states, usecases.WebhookSettings{
		BaseURL: cfg.InboundWebhookBaseURL,
		Events:  cfg.WebhookEvents,
	}, logger)
	resolver := usecases.NewIdentityResolver(channelRepo, curated, nil, logger)
	directory := usecases.NewInstanceDirectory(channelRepo, instanceRepo, mappingRepo, lifecycle, logger)
	router := usecases.NewMessageRouter(usecases.RouterDeps{
		Resolver:     resolver,
		Directory:    directory,
		Lifecycle:    lifecycle,
		Classifier:   usecases.NewContentClassifier(cfg.MediaPublicURL, tables),
		Tables:       tables,
		Dispatcher:   dispatcher,
		Writer:       tableManager,
		Limiter:      limiter,
		Logger:       logger,
		RepairOnSend: cfg.RepairOnSend,
	})

	if waManager != nil {
		// Embedded sessions deliver straight into the router, no webhook hop.
		waManager.OnMessage = func(ctx context.Context, instance string, msg entities.Message) {
			m, err := mappingRepo.FindByInstanceName(ctx, instance)
			if err != nil || m == nil {
				logger.Warn("inbound message for unmapped instance", slog.String("instance", instance), slog.Any("error", err))
				return
			}
			if _, err := router.PersistInbound(ctx, m.ChannelID, msg); err != nil {
				logger.Error("failed to store inbound message", slog.String("instance", instance), slog.Any("error", err))
			}
		}
		waManager.OnState = func(ctx context.Context, instance, state string) {
			lifecycle.ObserveState(ctx, instance, state)
		}

		mappings, err := mappingRepo.ListMappings(ctx)
		if err != nil {
			logger.Warn("could not list mappings to resume sessions", slog.Any("error", err))
		}
		var names []string
		for _, m := range mappings {
			if m.IsActive {
				names = append(names, m.InstanceName)
			}
		}
		waManager.Resume(names)
		defer waManager.DisconnectAll()
	}

	storage, err := infrastructure.NewLocalMediaStorage(cfg.MediaStorageDir, cfg.MediaPublicURL)
	if err != nil {
		logger.Error("failed to prepare media storage", slog.Any("error", err))
		os.Exit(1)
	}
	if cfg.MediaMigrationSchedule != "" {
		migrator := usecases.NewMediaMigrator(tables, tableManager, storage, cfg.MediaMigrationBatch, logger)
		if err := migrator.Start(cfg.MediaMigrationSchedule); err != nil {
			logger.Error("invalid media migration schedule", slog.Any("error", err))
			os.Exit(1)
		}
		defer migrator.Stop()
	}

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	h := api.NewHandler(api.Deps{
		Channels:     channelRepo,
		Instances:    instanceRepo,
		Resolver:     resolver,
		Directory:    directory,
		Lifecycle:    lifecycle,
		Tables:       tables,
		Router:       router,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
		PollTimeout:  cfg.PollTimeout,
	})
	api.SetupRoutes(r, h, api.NewMiddleware(cfg.JWTSecret), storage.Dir(), cfg.APIRatePerSecond, cfg.APIBurst)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.HTTPAddr), slog.String("gateway", cfg.GatewayMode), slog.String("dispatch", cfg.DispatchMode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}
