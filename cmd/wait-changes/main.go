// Command wait-changes blocks until the change queue has been drained by the
// relay. Integration runs use it before asserting on cached state.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/changefeed"
	"taskboard/config"
	"taskboard/storage"
)

func main() {
	var (
		timeout  = flag.Duration("timeout", 2*time.Minute, "maximum time to wait for the queue to drain")
		interval = flag.Duration("interval", 2*time.Second, "polling interval")
		stable   = flag.Int("stable", 3, "consecutive empty polls required")
	)
	flag.Parse()

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

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := changefeed.WaitDrained(ctx, tables, *interval, *stable, log.StandardLogger()); err != nil {
		log.Fatalf("queue wait failed: %v", err)
	}
	log.Info("change queue drained")
}
