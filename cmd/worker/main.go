package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"schoolattendance/internal/cloudinary"
	"schoolattendance/internal/config"
	"schoolattendance/internal/logging"
	"schoolattendance/internal/metrics"
	"schoolattendance/internal/notify"
	"schoolattendance/internal/queue"
	"schoolattendance/internal/store"
)

// Worker consumes attendance and permission events from redis, writes the
// resulting notifications and offloads selfies to Cloudinary.
func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.QueueBackend != "redis" {
		log.Fatal("worker needs QUEUE_BACKEND=redis; with the memory queue the api handles events itself")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	st, err := store.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("store open failed")
	}
	defer st.Close()

	rdb := store.NewRedis(cfg.RedisAddr)
	defer rdb.Close()
	if !rdb.Healthy(ctx) {
		log.WithField("addr", cfg.RedisAddr).Warn("redis not reachable yet, consumer will keep retrying")
	}

	var uploader notify.Uploader
	if cfg.CloudinaryEnabled() {
		uploader = cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	q := queue.NewRedisQueue(rdb.Client, "attendance:events", log)
	proc := notify.NewProcessor(notify.NewService(st, m, log), st, uploader, cfg.Location(), m, log)

	if err := proc.Run(ctx, q); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("worker stopped")
		return
	}
	log.Info("worker stopped")
}
