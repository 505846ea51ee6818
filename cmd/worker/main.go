package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrattend/internal/attendance"
	"qrattend/internal/config"
	"qrattend/internal/logger"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker consumes scan events and keeps the cached per-day attendance log
// projection fresh.
func main() {
	cfg := config.Load()

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Log.Infow("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Log.Fatalw("db connect failed", "err", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "qrattend:scans")
	}

	ledger := attendance.NewService(attendance.NewRepository(db.Client), cfg.Location())
	logCache := attendance.NewCache(redisClient.Client, time.Minute)

	events, err := q.Consume(ctx)
	if err != nil {
		logger.Log.Fatalw("queue consume failed", "err", err)
	}

	logger.Log.Infow("worker started", "queue", cfg.QueueBackend)
	for evt := range events {
		records, err := ledger.ListDay(ctx, evt.AdminID, evt.Day)
		if err != nil {
			logger.Log.Warnw("projection refresh failed", "admin_id", evt.AdminID, "day", evt.Day, "err", err)
			continue
		}
		logCache.SetDay(ctx, evt.AdminID, evt.Day, records)
		logger.Log.Debugw("projection refreshed", "admin_id", evt.AdminID, "day", evt.Day, "records", len(records))
	}
	logger.Log.Infow("worker exited")
}
