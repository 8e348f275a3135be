package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/archive"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/attendance"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/cloudinary"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/config"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/logger"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/queue"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/store"
)

// Worker consumes photo archive jobs, uploads the photos to Cloudinary and
// records their URLs on the student rows.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log = log.Named("worker")

	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("detail", w))
	}
	if !cfg.CloudinaryConfigured() {
		log.Fatal("cloudinary not configured (CLOUDINARY_CLOUD_NAME / API_KEY / API_SECRET)")
	}
	if cfg.QueueBackend == "memory" {
		log.Fatal("QUEUE_BACKEND=memory archives inside the api process, nothing to consume here")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet, consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal("queue consume init failed", zap.Error(err))
	}

	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	repo := attendance.NewRepository(db.Client)

	log.Info("worker started, waiting for messages", zap.String("queue", queue.DefaultKey))
	archive.NewWorker(cdn, repo, log).Run(ctx, messages)
	log.Info("worker stopped")
}
