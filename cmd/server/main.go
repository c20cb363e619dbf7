// Package main runs the event ticketing HTTP server with WebSocket and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gatepass/backend/config"
	"github.com/gatepass/backend/internal/attendance"
	"github.com/gatepass/backend/internal/auth"
	"github.com/gatepass/backend/internal/delivery"
	"github.com/gatepass/backend/internal/emaillogs"
	"github.com/gatepass/backend/internal/events"
	"github.com/gatepass/backend/internal/live"
	"github.com/gatepass/backend/internal/middleware"
	"github.com/gatepass/backend/internal/registrations"
	"github.com/gatepass/backend/internal/roster"
	"github.com/gatepass/backend/internal/tickets"
	"github.com/gatepass/backend/pkg/database"
	"github.com/gatepass/backend/pkg/mailer"
	"github.com/gatepass/backend/pkg/queue"
	"github.com/gatepass/backend/pkg/redis"
	"github.com/gatepass/backend/pkg/response"
	"github.com/gatepass/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.Region != "" {
		s3Cfg := storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			TicketsBucket:        cfg.AWS.TicketsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	redisPubSub := live.NewRedisPubSub(rdb.Client, logger)
	hub := live.NewHub(redisPubSub, logger)

	// Auth
	authRepo := auth.NewRepository(pool)
	authHandler := auth.NewHandler(authRepo, jwtService, logger)

	// Events
	eventRepo := events.NewRepository(pool)
	eventHandler := events.NewHandler(eventRepo, s3Client, logger)

	// Registrations
	regRepo := registrations.NewRepository(pool)
	regHandler := registrations.NewHandler(regRepo, eventRepo, logger)

	// Roster import
	rosterHandler := roster.NewHandler(regRepo, eventRepo,
		roster.Options{AcceptedPaymentStatuses: cfg.Ticket.AcceptedPaymentStatuses}, logger)

	// Tickets (token issuance, self-service retrieval, one-time downloads)
	assigner := tickets.NewAssigner(regRepo)
	renderer := tickets.NewRenderer(s3Client, logger)
	downloads := tickets.NewDownloadStore(rdb.Client, cfg.Ticket.DownloadKeyTTL)
	ticketHandler := tickets.NewHandler(regRepo, eventRepo, assigner, renderer, downloads,
		tickets.Limits{Window: cfg.Ticket.RateLimitWindow, Max: cfg.Ticket.RateLimitMax}, logger)

	// Email delivery pipeline and audit log
	emailLogsRepo := emaillogs.NewRepository(pool)
	smtp := mailer.New(mailer.Config{
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Host:        cfg.Email.SMTPHost,
		Port:        cfg.Email.SMTPPort,
		User:        cfg.Email.SMTPUser,
		Pass:        cfg.Email.SMTPPass,
	}, logger)
	pipeline := delivery.NewPipeline(regRepo, assigner, renderer, smtp, emailLogsRepo, logger)
	deliveryHandler := delivery.NewHandler(pipeline, regRepo, eventRepo, cfg.Ticket, logger)

	jobQueue := queue.NewQueue(rdb.Client, logger)
	emailLogsHandler := emaillogs.NewHandler(emailLogsRepo, jobQueue, logger)

	// Attendance
	attRepo := attendance.NewRepository(pool)
	attService := attendance.NewService(regRepo, attRepo)
	attHandler := attendance.NewHandler(attService, hub, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	// Public: self-service ticket retrieval and one-time download
	router.POST("/events/:id/tickets", ticketHandler.Retrieve)
	router.GET("/tickets/download/:key", ticketHandler.Download)

	// Auth (public)
	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
	}

	// Protected API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		// Staff accounts (admin only)
		api.GET("/users", middleware.RequireRole("admin"), authHandler.List)
		api.POST("/auth/register", middleware.RequireRole("admin"), authHandler.Register)

		// Events
		api.GET("/events", eventHandler.List)
		api.POST("/events", middleware.RequireRole("admin"), eventHandler.Create)
		api.GET("/events/:id", eventHandler.GetByID)
		api.GET("/events/:id/stats", eventHandler.Stats)
		api.POST("/events/:id/template", middleware.RequireRole("admin"), eventHandler.UploadTemplate)
		api.GET("/events/:id/template", middleware.RequireRole("admin"), eventHandler.DownloadTemplate)

		// Registrations
		api.GET("/events/:id/registrations", regHandler.List)
		api.POST("/events/:id/registrations", middleware.RequireRole("admin", "counter"), regHandler.Create)
		api.POST("/events/:id/registrations/bulk", middleware.RequireRole("admin"), regHandler.BulkInsert)
		api.GET("/registrations/:id", regHandler.Get)
		api.GET("/registrations/:id/ticket-url", middleware.RequireRole("admin"), ticketHandler.AdminTicketURL)

		// Roster import (dry-run classification; commit via the bulk endpoint)
		api.POST("/events/:id/roster/import", middleware.RequireRole("admin"), rosterHandler.Import)

		// Email delivery
		api.POST("/events/:id/deliveries", middleware.RequireRole("admin"), deliveryHandler.Stream)
		api.POST("/events/:id/deliveries/reset", middleware.RequireRole("admin"), deliveryHandler.Reset)
		api.GET("/events/:id/emails", emailLogsHandler.ListByEvent)
		api.POST("/events/:id/emails/resend", middleware.RequireRole("admin"), emailLogsHandler.Resend)

		// Attendance
		api.POST("/attendance/verify", middleware.RequireRole("admin", "counter", "scanner"), attHandler.Verify)
		api.POST("/attendance/mark", middleware.RequireRole("admin", "counter"), attHandler.Mark)
		api.POST("/attendance/checkin", middleware.RequireRole("admin", "scanner"), attHandler.CheckIn)
	}

	// WebSocket check-in feed (read-only)
	router.GET("/ws/events/:id", live.ServeWS(hub, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
