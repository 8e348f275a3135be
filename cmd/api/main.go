package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/archive"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/attendance"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/auth"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/cache"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/cloudinary"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/config"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/handler"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/httpmiddleware"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/logger"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/metrics"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/queue"
	"github.com/Gurumurthys1/AI-based-Classroom-Attendance-from-Face-Recognition-2/internal/store"
)

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

	for _, w := range cfg.Warnings {
		log.Warn("config", zap.String("detail", w))
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal("http server failed", zap.Error(err))
	}
}

func run(cfg config.App, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if db == nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err != nil {
		log.Warn("database not reachable, starting degraded", zap.Error(err))
	}
	migrator := store.NewMigrator(db.Client, log)
	if err := migrator.Run(ctx); err != nil {
		log.Warn("schema migration failed, retrying in background", zap.Error(err))
		go migrator.RunUntilDone(ctx, 2*time.Second)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer func() { _ = redisClient.Close() }()

	m := metrics.New()
	repo := attendance.NewRepository(db.Client)
	opts := attendance.Options{
		Threshold:        cfg.MatchThreshold,
		DefaultClassName: cfg.DefaultClassName,
		Logger:           log,
		Observer:         m,
	}
	if cfg.CacheEnabled {
		opts.Cache = cache.NewGallery(redisClient.Client, cache.DefaultKey, cfg.GalleryTTL)
	}

	if cfg.CloudinaryConfigured() {
		var q queue.Queue
		if cfg.QueueBackend == "memory" {
			mem := queue.NewInMemory(64)
			cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
			messages, err := mem.Consume(ctx)
			if err != nil {
				return err
			}
			go archive.NewWorker(cdn, repo, log.Named("archive")).Run(ctx, messages)
			q = mem
		} else {
			q = queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
		}
		opts.Archiver = archive.NewPublisher(q)
		log.Info("photo archiving enabled", zap.String("queue", cfg.QueueBackend), zap.String("cloud", cfg.CloudinaryCloudName))
	} else {
		log.Info("photo archiving disabled, cloudinary not configured")
	}

	svc := attendance.NewService(repo, opts)

	dbHealthy := func(ctx context.Context) bool {
		return migrator.Ready() && db.Healthy(ctx)
	}
	hopts := handler.Options{
		Logger:       log,
		DBHealthy:    dbHealthy,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}
	if cfg.CacheEnabled {
		hopts.CacheHealthy = redisClient.Healthy
	}
	if cfg.AuthEnabled {
		hopts.Tokens = auth.NewTokens(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.DeviceEnrollmentKey, cfg.AccessTTL, cfg.RefreshTTL)
		if cfg.DeviceEnrollmentKey == "" {
			log.Warn("AUTH_ENABLED without DEVICE_ENROLLMENT_KEY, no device can enroll")
		}
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestIDs())
	r.Use(logger.GinMiddleware(log, "/api/health", "/metrics"))
	r.Use(httpmiddleware.Metrics(m))
	r.Use(cors.New(corsConfig(cfg.CORSOrigins)))
	r.Use(httpmiddleware.SecurityHeaders(cfg.Production()))
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(m.Handler()))
	handler.New(svc, hopts).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server forced shutdown", zap.Error(err))
	}
	log.Info("server exited")
	return nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:        24 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		c.AllowAllOrigins = true
		return c
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}
