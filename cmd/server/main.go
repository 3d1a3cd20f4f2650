package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	openai "github.com/sashabaranov/go-openai"

	"github.com/snditnz/verbumcare-demo-sub003/internal/api"
	"github.com/snditnz/verbumcare-demo-sub003/internal/clinical"
	"github.com/snditnz/verbumcare-demo-sub003/internal/config"
	"github.com/snditnz/verbumcare-demo-sub003/internal/db"
	"github.com/snditnz/verbumcare-demo-sub003/internal/events"
	"github.com/snditnz/verbumcare-demo-sub003/internal/extract"
	"github.com/snditnz/verbumcare-demo-sub003/internal/logger"
	"github.com/snditnz/verbumcare-demo-sub003/internal/pipeline"
	"github.com/snditnz/verbumcare-demo-sub003/internal/repository"
	"github.com/snditnz/verbumcare-demo-sub003/internal/review"
	"github.com/snditnz/verbumcare-demo-sub003/internal/storage"
	"github.com/snditnz/verbumcare-demo-sub003/internal/stt"
	"github.com/snditnz/verbumcare-demo-sub003/internal/validate"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	_ = godotenv.Load()

	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// Blob storage: local disk by default, MinIO for shared deployments.
	var blobs storage.BlobStore
	switch cfg.StorageBackend {
	case "minio":
		ms, err := storage.NewMinioStore(cfg.Minio)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize minio storage")
		}
		if err := ms.EnsureBucket(ctx); err != nil {
			log.WithError(err).Fatal("failed to ensure minio bucket")
		}
		blobs = ms
		log.WithField("bucket", cfg.Minio.Bucket).Info("using minio storage")
	default:
		ds, err := storage.NewDiskStore(cfg.UploadDir)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize disk storage")
		}
		blobs = ds
		log.WithField("dir", cfg.UploadDir).Info("using disk storage")
	}

	// Repositories: Postgres when configured, in-memory otherwise so a
	// laptop demo needs no database.
	var (
		recordings repository.RecordingRepository
		reviews    repository.ReviewRepository
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to database")
		}
		defer pool.Close()
		if err := db.EnsureSchema(ctx, pool); err != nil {
			log.WithError(err).Fatal("failed to ensure schema")
		}
		recordings = repository.NewPostgresRecordingRepository(pool)
		reviews = repository.NewPostgresReviewRepository(pool)
		log.Info("using postgres repositories")
	} else {
		recordings = repository.NewMemoryRecordingRepository()
		reviews = repository.NewMemoryReviewRepository()
		log.Warn("DATABASE_URL not set, using in-memory repositories")
	}

	transcriber, err := stt.NewEngine(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize transcription engine")
	}

	extractor := extract.NewOpenAIEngine(
		openai.NewClient(cfg.OpenAIKey),
		cfg.ExtractionModel,
		cfg.ExtractionTimeout,
		log,
	)

	hub := events.NewHub()
	gate := pipeline.NewGate(cfg.Workers)

	orch := pipeline.New(recordings, reviews, blobs, transcriber, extractor, hub, gate, log,
		pipeline.Options{
			Workers:         cfg.Workers,
			QueueSize:       cfg.QueueSize,
			DefaultLanguage: cfg.DefaultLanguage,
		})
	orch.Start(ctx)

	policy := pipeline.NewResubmitPolicy(orch, cfg.RetryAttempts, log)

	reviewSvc := review.NewService(reviews, extractor, validate.New(),
		clinical.NewMemoryWriter(), gate, log)

	server := api.NewServer(cfg, recordings, blobs, orch, policy, reviewSvc, log)
	router := api.NewRouter(server, hub, transcriber)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.WithField("port", cfg.Port).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}
	orch.Stop()
	log.Info("stopped")
}
