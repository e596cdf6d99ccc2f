package main

import (
	"context"
	"embed"
	"log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/unclebandit/phishguard-backend/internal/config"
	"github.com/unclebandit/phishguard-backend/internal/db"
	"github.com/unclebandit/phishguard-backend/internal/logger"
)

//go:embed seed/*.sql
var seeds embed.FS

// Order matters: templates and modules are referenced by campaigns created later.
var seedFiles = []string{
	"seed/users.sql",
	"seed/templates.sql",
	"seed/training_modules.sql",
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(cfg.AppMode, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync() //nolint:errcheck

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg)
	if err != nil {
		zl.Fatal("connect", zap.Error(err))
	}
	defer conn.Close()

	if err := db.RunMigrations(ctx, conn); err != nil {
		zl.Fatal("migrations failed", zap.Error(err))
	}

	for _, file := range seedFiles {
		content, err := seeds.ReadFile(file)
		if err != nil {
			zl.Fatal("read seed", zap.String("file", file), zap.Error(err))
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			zl.Fatal("execute seed", zap.String("file", file), zap.Error(err))
		}
		zl.Info("seeded", zap.String("file", file))
	}

	zl.Info("database seeding completed")
}
