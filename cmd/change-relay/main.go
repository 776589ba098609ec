package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/changefeed"
	"taskboard/config"
	"taskboard/storage"
)

func main() {
	log.Info("Change relay starting")

	cfg, err := config.LoadRelay()
	if err != nil {
		log.Fatal(err)
	}
	cfg.ConfigureLogging()

	rc := redis.NewClient(cfg.RedisOptions())
	defer rc.Close()

	tables, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, cfg.UsersTable, cfg.ChangesQueue, storage.NewRedisSequence(rc))
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	cache := storage.NewCache(tables, rc, cfg.TaskCacheTTL, cfg.TaskUpdatesChannel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	changefeed.New(tables, cache, log.StandardLogger(), cfg.RelayPollInterval).Run(ctx)
}
