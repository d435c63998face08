package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/go-order-console/internal/audit"
	"github.com/ariefcatur/go-order-console/internal/config"
	kafkax "github.com/ariefcatur/go-order-console/internal/kafka"
	"github.com/ariefcatur/go-order-console/internal/postgres"
	"github.com/ariefcatur/go-order-console/internal/redisx"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if len(cfg.KafkaBrokers) == 0 || cfg.PostgresDSN == "" {
		log.Error("KAFKA_BROKERS and POSTGRES_DSN are required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db connect failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Error("db schema failed", "error", err)
		os.Exit(1)
	}

	// Redis dedup is optional
	var rdb redis.Cmdable
	if cfg.RedisAddr != "" {
		c := redisx.New(cfg.RedisAddr)
		defer c.Close()
		rdb = c
	}

	rec := &audit.Recorder{
		Store:       audit.PGStore{DB: db},
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-auditlog",
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.AuditGroup, audit.TopicConsoleEvents, cfg.AuditWorkers, log)
	log.Info("auditlog consumer started", "group", cfg.AuditGroup, "topic", audit.TopicConsoleEvents, "workers", cfg.AuditWorkers)
	if err := cons.Start(ctx, rec.HandleMessage); err != nil {
		log.Error("consumer exit", "error", err)
		os.Exit(1)
	}
	log.Info("auditlog consumer stopped")
}
