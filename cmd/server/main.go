package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"

	"github.com/entraide-ong/backoffice/internal/api"
	"github.com/entraide-ong/backoffice/internal/auth"
	"github.com/entraide-ong/backoffice/internal/cache"
	"github.com/entraide-ong/backoffice/internal/config"
	"github.com/entraide-ong/backoffice/internal/events"
	"github.com/entraide-ong/backoffice/internal/logger"
	"github.com/entraide-ong/backoffice/internal/realtime"
	"github.com/entraide-ong/backoffice/internal/repository"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	zlog, err := logger.New(cfg.App.Env != "production")
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	mc, err := repository.Connect(cfg.Mongo.URI)
	if err != nil {
		zlog.Fatalw("mongo init", "err", err)
	}
	defer func() { _ = mc.Disconnect(context.Background()) }()
	db := mc.Database(cfg.Mongo.Database)

	rc, err := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		zlog.Fatalw("redis init", "err", err)
	}
	defer rc.Close()

	bus := realtime.NewBus(rc.Cli, zlog)

	messages := repository.NewMessageRepository(db, bus, zlog)
	notifications := repository.NewNotificationRepository(db, bus, zlog)
	users := repository.NewUserRepository(db)

	consumer := events.NewConsumer(
		cfg.Kafka.Brokers, cfg.Kafka.PublishedTopic, cfg.Kafka.GroupID,
		users, notifications, zlog,
	)
	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	go func() {
		if err := consumer.Start(consumerCtx); err != nil && consumerCtx.Err() == nil {
			zlog.Errorw("kafka consumer stopped", "err", err)
		}
	}()

	verifier := auth.NewVerifier(cfg.JWT.Secret)
	app := api.NewServer(cfg, verifier, messages, notifications, users, rc, bus, zlog)

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.App.Port)); err != nil {
			zlog.Fatalw("server listen", "err", err)
		}
	}()
	zlog.Infow("backoffice started", "port", cfg.App.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopConsumer()
	_ = consumer.Close()
	_ = app.ShutdownWithContext(ctx)
	zlog.Infow("backoffice stopped")
}
