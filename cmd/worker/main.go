package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"libpresence/internal/config"
	"libpresence/internal/feed"
	ledgerpostgres "libpresence/internal/ledger/postgres"
	"libpresence/internal/stats"
	"libpresence/internal/store"
)

// Worker consumes scan events and keeps the cached dashboard snapshot
// warm so kiosk polling never waits on the aggregate queries.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	loc, err := time.LoadLocation(cfg.FacilityTimezone)
	if err != nil {
		log.Printf("facility timezone %q unusable, using UTC: %v", cfg.FacilityTimezone, err)
		loc = time.UTC
	}

	agg := stats.NewAggregator(ledgerpostgres.New(db.Client), stats.Config{
		Cache:    redisClient.Client,
		CacheTTL: cfg.StatsCacheTTL,
		Location: loc,
	})

	var q feed.Queue
	if cfg.FeedBackend == "memory" {
		q = feed.NewInMemory(64)
	} else {
		q = feed.NewRedisQueue(redisClient.Client, "libpresence:scans")
	}

	events, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("feed consume init failed: %v", err)
	}

	log.Println("worker started, waiting for scan events...")
	for ev := range events {
		log.Printf("scan event: %s %s (%s)", ev.Direction, ev.RegNo, ev.Role)
		if _, err := agg.Refresh(ctx); err != nil {
			log.Printf("stats refresh failed: %v", err)
		}
	}

	log.Println("worker stopped")
}
