package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"digestly/internal/accounttoken"
	"digestly/internal/batch"
	"digestly/internal/config"
	"digestly/internal/dispatch"
	"digestly/internal/extract"
	"digestly/internal/moderation"
	"digestly/internal/pipeline"
	"digestly/internal/quota"
	"digestly/internal/ratelimit"
	"digestly/internal/server"
	"digestly/internal/util"
	"digestly/pkg/events"
	"digestly/pkg/queue"
	"digestly/pkg/storage"
	"digestly/pkg/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	db, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}

	archive, err := storage.NewMinioArchive(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
	if err != nil {
		log.Fatalf("failed to init archive: %v", err)
	}

	// Review alerts are best-effort; a missing broker only disables them.
	var alerts events.ReviewAlertPublisher
	if cfg.AMQPURL != "" {
		publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Warn("review alert publisher disabled", "error", err)
		} else {
			alerts = publisher
			defer publisher.Close()
		}
	}

	screener := moderation.NewScreener(db, archive, alerts, logger)

	dispatcher := dispatch.New(db, screener, dispatch.Config{
		AnalyzerURL: cfg.AnalyzerURL,
		Token:       cfg.AnalyzerToken,
	}, logger)

	transcriber := pipeline.NewHTTPTranscriber(cfg.TranscriberURL, cfg.TranscriberToken, nil)
	scraper := pipeline.NewHTTPScraper(cfg.ScraperURL, nil)
	extractor := extract.NewPDFExtractor(nil)

	pipe := pipeline.New(db, screener, dispatcher, transcriber, scraper, extractor, archive, logger)

	jobQueue, err := queue.NewRedisJobQueue(queue.RedisQueueConfig{
		Addr:       cfg.RedisAddr,
		Password:   cfg.RedisPassword,
		Stream:     cfg.QueueName,
		Group:      cfg.QueueGroup,
		MaxRetries: cfg.QueueMaxRetries,
		RetryDelay: time.Duration(cfg.QueueRetryDelaySeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("failed to init job queue: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	concurrency := cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	go pipe.StartWorkers(ctx, jobQueue, concurrency)

	ledger := quota.NewLedger(db)
	orchestrator := batch.New(db, ledger, screener, jobQueue, logger)

	verifier, err := accounttoken.NewVerifier(accounttoken.Config{
		JWKSURL:  cfg.JWKSURL,
		Issuer:   cfg.TokenIssuer,
		Audience: cfg.TokenAudience,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "digestly:ratelimit", cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	httpServer := server.New(server.Config{
		Store:          db,
		Pipeline:       pipe,
		Batch:          orchestrator,
		Queue:          jobQueue,
		Accounts:       verifier,
		Limiter:        limiter,
		TierProfile:    cfg.TierProfile,
		WebhookSecret:  cfg.WebhookSecret,
		TrustedProxies: trusted,
		Logger:         logger,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("digestly server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
