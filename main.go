package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/durvesh-thorat/RETRIVA/analyzer"
	"github.com/durvesh-thorat/RETRIVA/auth"
	"github.com/durvesh-thorat/RETRIVA/chat"
	"github.com/durvesh-thorat/RETRIVA/config"
	"github.com/durvesh-thorat/RETRIVA/database"
	"github.com/durvesh-thorat/RETRIVA/gemini"
	"github.com/durvesh-thorat/RETRIVA/handlers"
	"github.com/durvesh-thorat/RETRIVA/llm"
	"github.com/durvesh-thorat/RETRIVA/matching"
	"github.com/durvesh-thorat/RETRIVA/metrics"
	"github.com/durvesh-thorat/RETRIVA/middleware"
	"github.com/durvesh-thorat/RETRIVA/moderation"
	"github.com/durvesh-thorat/RETRIVA/openai"
	"github.com/durvesh-thorat/RETRIVA/rabbitmq"
	"github.com/durvesh-thorat/RETRIVA/ws"
)

const serviceName = "retriva"

// API endpoints
const (
	EndPointHealth  = "/health"
	EndPointVersion = "/version"
	EndPointMetrics = "/metrics"

	EndPointRegister = "/auth/register"
	EndPointLogin    = "/auth/login"
	EndPointRefresh  = "/auth/refresh"
	EndPointMe       = "/auth/me"

	EndPointReports        = "/reports"
	EndPointMyReports      = "/reports/mine"
	EndPointReport         = "/reports/:id"
	EndPointResolveReport  = "/reports/:id/resolve"
	EndPointReportMatches  = "/reports/:id/matches"
	EndPointCompareReports = "/reports/compare"
	EndPointExtract        = "/reports/extract"

	EndPointChats       = "/chats"
	EndPointChat        = "/chats/:id"
	EndPointMessages    = "/chats/:id/messages"
	EndPointMarkRead    = "/chats/:id/read"
	EndPointBlockChat   = "/chats/:id/block"
	EndPointUnblockChat = "/chats/:id/unblock"

	EndPointChatListen  = "/ws/chats/:id/listen"
	EndPointAlertListen = "/ws/alerts/listen"
)

// Rate limit for the AI-backed endpoints. Every hit can cost a model call.
const (
	aiRequestLimit  = 20
	aiRequestWindow = time.Minute
)

func main() {
	cfg := config.Load()

	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	if cfg.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	metrics.Register()

	db, err := database.NewDatabase(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}
	globalChatID, err := db.EnsureGlobalChat(uuid.NewString())
	if err != nil {
		log.Fatalf("Failed to ensure global chat: %v", err)
	}
	log.Infof("Global campus room ready: %s", globalChatID)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr()})
	matchCache := matching.NewMatchCache(redisClient, cfg.MatchCacheTTL)

	providers := map[string]llm.Provider{
		"gemini": gemini.NewClient(cfg.GeminiAPIKey, cfg.RequestTimeout),
		"openai": openai.NewClient(cfg.OpenAIAPIKey, cfg.RequestTimeout),
	}
	ordering, err := llm.ParseOrdering(cfg.ModelCascade, providers)
	if err != nil {
		log.Fatalf("Invalid model cascade: %v", err)
	}
	cascade := llm.NewCascade(ordering, cfg.CascadeBackoff)
	matcher := matching.NewMatcher(cascade, cfg.MaxCandidates, cfg.MinMatchScore, cfg.RequestTimeout)
	screener := moderation.NewScreener(cfg.OpenAIAPIKey, cfg.ModerationModel, cfg.ModerationEnabled)

	hub := ws.NewHub(cfg.WSWriteWait, cfg.WSPongWait, cfg.WSMaxMsgSize)
	go hub.Run()

	tokens := auth.NewService(cfg.JWTSecret, cfg.TokenExpiry)
	chatSvc := chat.NewService(db, hub, screener)

	publisher, err := rabbitmq.NewPublisher(cfg.AMQPUrl, cfg.ReportExchange, cfg.ReportCreatedRoutingKey)
	if err != nil {
		log.Fatalf("Failed to connect publisher to RabbitMQ: %v", err)
	}
	subscriber, err := rabbitmq.NewSubscriber(cfg.AMQPUrl, cfg.ReportExchange, cfg.AnalyzeQueue, cfg.AnalyzePrefetch)
	if err != nil {
		log.Fatalf("Failed to connect subscriber to RabbitMQ: %v", err)
	}
	worker := analyzer.NewWorker(db, matcher, matchCache, screener, hub)
	subscriber.Start(worker.Callbacks(cfg.ReportCreatedRoutingKey))

	router := setupRouter(cfg, db, hub, tokens, chatSvc, matcher, matchCache, publisher, subscriber)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Infof("Starting HTTP server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("Server forced to shutdown: %v", err)
	}

	if err := subscriber.Close(); err != nil {
		log.Warnf("Error closing subscriber: %v", err)
	}
	if err := publisher.Close(); err != nil {
		log.Warnf("Error closing publisher: %v", err)
	}
	hub.Stop()
	if err := redisClient.Close(); err != nil {
		log.Warnf("Error closing redis client: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Warnf("Error closing database: %v", err)
	}

	log.Info("Server exited")
}

func setupRouter(cfg *config.Config, db *database.Database, hub *ws.Hub,
	tokens *auth.Service, chatSvc *chat.Service, matcher *matching.Matcher,
	matchCache *matching.MatchCache, publisher *rabbitmq.Publisher,
	subscriber *rabbitmq.Subscriber) *gin.Engine {

	router := gin.Default()

	router.Use(gzip.Gzip(gzip.DefaultCompression))
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.SecurityHeaders())

	authHandler := handlers.NewAuthHandler(db, tokens, cfg.TokenExpiry)
	reportHandler := handlers.NewReportHandler(db, matcher, matchCache, publisher)
	chatHandler := handlers.NewChatHandler(chatSvc, db, hub, tokens)
	systemHandler := handlers.NewSystemHandler(db, hub, publisher, subscriber, serviceName)

	router.GET(EndPointHealth, systemHandler.Health)
	router.GET(EndPointVersion, systemHandler.Version)
	router.GET(EndPointMetrics, gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v3")

	// Auth endpoints are the only public REST surface.
	api.POST(EndPointRegister, authHandler.Register)
	api.POST(EndPointLogin, authHandler.Login)
	api.POST(EndPointRefresh, authHandler.Refresh)

	// WebSocket endpoints authenticate inside the handler: browsers cannot
	// set an Authorization header on the upgrade request.
	api.GET(EndPointChatListen, chatHandler.ListenChat)
	api.GET(EndPointAlertListen, chatHandler.ListenAlerts)

	authed := api.Group("", middleware.AuthMiddleware(tokens))
	authed.GET(EndPointMe, authHandler.Me)

	authed.POST(EndPointReports, reportHandler.CreateReport)
	authed.GET(EndPointReports, reportHandler.ListOpenReports)
	authed.GET(EndPointMyReports, reportHandler.MyReports)
	authed.GET(EndPointReport, reportHandler.GetReport)
	authed.POST(EndPointResolveReport, reportHandler.ResolveReport)

	authed.GET(EndPointChats, chatHandler.ListChats)
	authed.POST(EndPointChats, chatHandler.CreateChat)
	authed.GET(EndPointChat, chatHandler.GetChat)
	authed.GET(EndPointMessages, chatHandler.GetMessages)
	authed.POST(EndPointMessages, chatHandler.SendMessage)
	authed.POST(EndPointMarkRead, chatHandler.MarkRead)
	authed.POST(EndPointBlockChat, chatHandler.Block)
	authed.POST(EndPointUnblockChat, chatHandler.Unblock)

	ai := authed.Group("", middleware.RateLimitMiddleware(aiRequestLimit, aiRequestWindow))
	ai.GET(EndPointReportMatches, reportHandler.FindMatches)
	ai.POST(EndPointCompareReports, reportHandler.CompareReports)
	ai.POST(EndPointExtract, reportHandler.ExtractAttributes)

	return router
}
