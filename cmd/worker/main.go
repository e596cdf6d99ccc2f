package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/unclebandit/phishguard-backend/internal/app"
	"github.com/unclebandit/phishguard-backend/internal/config"
	"github.com/unclebandit/phishguard-backend/internal/logger"
	"github.com/unclebandit/phishguard-backend/internal/queue"
)

// The worker consumes campaign dispatch and remediation jobs from RabbitMQ.
// Run as many replicas as delivery throughput needs.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on OS environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.AMQPURL == "" {
		log.Fatal("AMQP_URL is required for the worker")
	}
	zl, err := logger.New(cfg.AppMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("startup failed", zap.Error(err))
	}
	defer a.Close()

	if err := a.StartConsumers(); err != nil {
		zl.Fatal("queue consumers", zap.Error(err))
	}

	zl.Info("worker running, waiting for messages",
		zap.Strings("topics", []string{queue.TopicDispatch, queue.TopicRemediation}))
	<-ctx.Done()
	zl.Info("worker stopping")
}
