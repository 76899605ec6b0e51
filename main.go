package main

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"messenger-service/internal/auth"
	"messenger-service/internal/config"
	"messenger-service/internal/db"
	"messenger-service/internal/handlers"
	"messenger-service/internal/middleware"
	"messenger-service/internal/observability"
	"messenger-service/internal/rabbitmq"
	"messenger-service/internal/realtime"
	"messenger-service/internal/repositories"
	"messenger-service/internal/telemetry"
	"messenger-service/internal/ws"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}

	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}
	if cfg.Environment != "development" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}

	ctx := context.Background()
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, "messenger-service", cfg.Environment)
	if err != nil {
		logrus.WithError(err).Fatal("failed to set up tracing")
	}
	defer func() {
		_ = shutdownTracing(ctx)
	}()

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		logrus.WithError(err).Fatal("failed to connect to db")
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logrus.WithField("mode", rabbitmq.PublisherMode(publisher)).Info("event publisher ready")

	emitter := telemetry.NewAuditEmitter(publisher, "audit.messenger", "messenger-service", cfg.Environment)

	convRepo := repositories.NewConversationRepo(database)
	msgRepo := repositories.NewMessageRepo(database)
	userRepo := repositories.NewUserRepo(database)

	registry := realtime.NewRegistry()
	rooms := realtime.NewRooms(registry, convRepo)
	engine := realtime.NewEngine(convRepo, msgRepo, rooms)
	receipts := realtime.NewReceipts(convRepo, msgRepo, rooms)

	verifier := auth.NewVerifier(cfg.JWTSecret)

	conversationHandler := handlers.NewConversationHandler(convRepo, msgRepo, userRepo, emitter)
	wsHandler := ws.NewHandler(registry, rooms, engine, receipts, verifier)

	router := gin.New()
	router.Use(
		gin.Recovery(),
		otelgin.Middleware("messenger-service"),
		observability.HTTPMetricsMiddleware(),
	)

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.POST("/conversations/direct", authMiddleware, conversationHandler.StartDirect)
	router.POST("/conversations/group", authMiddleware, conversationHandler.CreateGroup)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.GetMessages)
	router.GET("/messages/unread/counts", authMiddleware, conversationHandler.UnreadCounts)

	router.GET("/ws", wsHandler.Handle)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, emitter, cfg.DebugRoutes)

	logrus.WithField("port", cfg.Port).Info("messenger service listening")
	if err := router.Run(":" + cfg.Port); err != nil {
		logrus.WithError(err).Fatal("server error")
	}
}
