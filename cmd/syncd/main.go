package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v6"
	"go.uber.org/zap"

	"github.com/MuradAles/OrangeAI-sub003/internal/cache"
	"github.com/MuradAles/OrangeAI-sub003/internal/docstore/pgstore"
	"github.com/MuradAles/OrangeAI-sub003/internal/message"
	"github.com/MuradAles/OrangeAI-sub003/internal/presence"
	"github.com/MuradAles/OrangeAI-sub003/internal/presence/redisstore"
	"github.com/MuradAles/OrangeAI-sub003/internal/syncq"
)

// EnvConfig defines fields used for parsing from environment variables.
// UserID, when set, publishes presence for the session owner while the worker
// runs.
type EnvConfig struct {
	CachePath string `env:"CACHE_PATH" envDefault:"chatsync.db"`
	RedisURL  string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	UserID    string `env:"USER_ID"`
	UserName  string `env:"USER_NAME"`
}

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("zap.NewDevelopment: %v", err)
	}
	defer logger.Sync()

	sugar := logger.Sugar()
	sugar.Info("Sync worker is starting")

	cfg := EnvConfig{}
	if err := env.Parse(&cfg); err != nil {
		sugar.Fatalf("Cannot parse env config: %v", err)
	}

	storeCfg := pgstore.Config{}
	if err := env.Parse(&storeCfg); err != nil {
		sugar.Fatalf("Cannot parse docstore config: %v", err)
	}

	remote, err := pgstore.New(context.Background(), sugar, storeCfg,
		pgstore.ConnectionTimeout(30*time.Second))
	if err != nil {
		sugar.Fatalf("Cannot create document store: %v", err)
	}

	local, err := cache.New(sugar, cfg.CachePath)
	if err != nil {
		sugar.Fatalf("Cannot open local cache: %v", err)
	}

	queue, err := syncq.NewClient(cfg.RedisURL)
	if err != nil {
		sugar.Fatalf("Cannot create sync queue client: %v", err)
	}

	manager := message.NewManager(sugar, remote, local, queue)

	worker, err := syncq.NewWorker(sugar, cfg.RedisURL, manager)
	if err != nil {
		sugar.Fatalf("Cannot create sync worker: %v", err)
	}

	var (
		tracker       *presence.Tracker
		presenceStore *redisstore.Store
	)
	if cfg.UserID != "" {
		presenceStore, err = redisstore.New(context.Background(), sugar, cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("Cannot create presence store: %v", err)
		}
		tracker = presence.NewTracker(sugar, presenceStore)
		if err := tracker.SetOnline(context.Background(), cfg.UserID, cfg.UserName); err != nil {
			sugar.Errorf("Publishing online presence: %v", err)
		}
	}

	if err := syncq.DrainPending(context.Background(), sugar, local, queue); err != nil {
		sugar.Errorf("Draining leftover pending messages: %v", err)
	}

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt)
		<-sigint

		sugar.Info("Shutting down sync worker")
		worker.Shutdown()
	}()

	if err := worker.Run(); err != nil {
		sugar.Fatalf("Sync worker stopped: %v", err)
	}

	sugar.Info("Closing stores")
	if tracker != nil {
		if err := tracker.SetOffline(context.Background(), cfg.UserID, cfg.UserName); err != nil {
			sugar.Errorf("Publishing offline presence: %v", err)
		}
		if err := presenceStore.Close(); err != nil {
			sugar.Errorf("Closing presence store: %v", err)
		}
	}
	if err := queue.Close(); err != nil {
		sugar.Errorf("Closing queue client: %v", err)
	}
	if err := local.Close(); err != nil {
		sugar.Errorf("Closing local cache: %v", err)
	}
	remote.Close()
	sugar.Info("Stores are closed")
}
