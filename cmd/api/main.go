package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-chat-api/internal/config"
	"github.com/noah-isme/gema-chat-api/internal/database"
	"github.com/noah-isme/gema-chat-api/internal/handler"
	"github.com/noah-isme/gema-chat-api/internal/middleware"
	"github.com/noah-isme/gema-chat-api/internal/repository"
	"github.com/noah-isme/gema-chat-api/internal/router"
	"github.com/noah-isme/gema-chat-api/internal/search"
	"github.com/noah-isme/gema-chat-api/internal/service"
	cloud "github.com/noah-isme/gema-chat-api/pkg/cloudinary"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "gema-chat-api").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.AppEnv == "development" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	db, err := database.Connect(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate database")
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to access database pool")
	}
	defer sqlDB.Close()

	probes := []handler.HealthProbe{{Name: "database", Check: sqlDB.PingContext}}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		probes = append(probes, handler.HealthProbe{Name: "redis", Check: func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}})
	} else {
		logger.Warn().Msg("redis not configured; realtime events stay on this node")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to nats")
		}
		defer natsConn.Drain()
	}

	var index service.MessageIndex
	if cfg.MeiliURL != "" {
		meili := search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey, logger)
		defer meili.Close()
		index = meili
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	messageRepo := repository.NewMessageRepository(db)
	groupRepo := repository.NewGroupRepository(db)
	userRepo := repository.NewUserRepository(db)
	reactionRepo := repository.NewReactionRepository(db)
	uploadRepo := repository.NewUploadRepository(db)

	hub := service.NewChatHub(redisClient, natsConn, cfg.ChannelBase, logger)
	presence := service.NewPresenceService(userRepo, hub, logger)
	dispatcher := service.NewDispatcher(presence, hub, logger)

	messageService := service.NewMessageService(messageRepo, groupRepo, userRepo, service.NewThreadLinker(messageRepo), index, dispatcher, validate, logger)
	deliveryService := service.NewDeliveryService(messageRepo, groupRepo, dispatcher, cfg.ReadBatchLimit, logger)
	reactionService := service.NewReactionService(messageRepo, reactionRepo, groupRepo, dispatcher, logger)
	groupService := service.NewGroupService(groupRepo, dispatcher, service.NewLogMailer(logger), validate, cfg.InviteTTL, logger)
	chatService := service.NewChatService(service.ChatServiceDeps{
		Hub:        hub,
		Presence:   presence,
		Dispatcher: dispatcher,
		Messages:   messageService,
		Delivery:   deliveryService,
		Reactions:  reactionService,
		Groups:     groupService,
		Validator:  validate,
		EventRate:  cfg.WSEventRate,
		EventBurst: cfg.WSEventBurst,
	}, logger)

	deps := router.Dependencies{
		ChatHandler:         handler.NewChatHandler(chatService, logger),
		MessageHandler:      handler.NewMessageHandler(messageService, deliveryService, reactionService, logger),
		ConversationHandler: handler.NewConversationHandler(messageService, deliveryService, logger),
		GroupHandler:        handler.NewGroupHandler(groupService, messageService, deliveryService, logger),
		JWTMiddleware:       middleware.JWTProtected(cfg.JWTSecret),
		HealthProbes:        probes,
	}

	if cfg.CloudinaryEnabled() {
		uploader, err := cloud.New(cloud.Config{
			CloudName: cfg.CloudinaryCloudName,
			APIKey:    cfg.CloudinaryAPIKey,
			APISecret: cfg.CloudinaryAPISecret,
			Folder:    cfg.CloudinaryUploadFolder,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create cloudinary client")
		}
		uploadService := service.NewUploadService(uploader, uploadRepo, cfg.UploadMaxSizeMB, logger)
		deps.UploadHandler = handler.NewUploadHandler(uploadService, logger)
	} else {
		logger.Warn().Msg("cloudinary not configured; attachment uploads disabled")
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub.Start(hubCtx)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		BodyLimit:    (cfg.UploadMaxSizeMB + 1) * 1024 * 1024,
	})

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, deps)

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress()).Msg("chat api listening")
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	waitForShutdown(app, logger)
}

func waitForShutdown(app *fiber.App, logger zerolog.Logger) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	logger.Info().Msg("server stopped")
}
