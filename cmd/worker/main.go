// Package main runs the background job worker (queued ticket email resends).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gatepass/backend/config"
	"github.com/gatepass/backend/internal/emaillogs"
	"github.com/gatepass/backend/internal/events"
	"github.com/gatepass/backend/internal/registrations"
	"github.com/gatepass/backend/internal/tickets"
	"github.com/gatepass/backend/internal/worker"
	"github.com/gatepass/backend/pkg/database"
	"github.com/gatepass/backend/pkg/mailer"
	"github.com/gatepass/backend/pkg/queue"
	"github.com/gatepass/backend/pkg/redis"
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

	regRepo := registrations.NewRepository(pool)
	eventRepo := events.NewRepository(pool)
	emailLogsRepo := emaillogs.NewRepository(pool)
	assigner := tickets.NewAssigner(regRepo)
	renderer := tickets.NewRenderer(s3Client, logger)
	smtp := mailer.New(mailer.Config{
		FromAddress: cfg.Email.FromAddress,
		FromName:    cfg.Email.FromName,
		Host:        cfg.Email.SMTPHost,
		Port:        cfg.Email.SMTPPort,
		User:        cfg.Email.SMTPUser,
		Pass:        cfg.Email.SMTPPass,
	}, logger)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	processor := worker.NewTicketEmailProcessor(jobQueue, regRepo, eventRepo, assigner, renderer, smtp, emailLogsRepo, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
