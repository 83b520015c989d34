package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"guiatrack/config"
	"guiatrack/internal/broker/kafka"
	"guiatrack/internal/cache/rediscache"
	"guiatrack/internal/integrations/laar"
	"guiatrack/internal/integrations/laar/fake"
	"guiatrack/internal/integrations/laar/laarhttp"
	"guiatrack/internal/localtime"
	"guiatrack/internal/services/guias"
	"guiatrack/internal/services/reconciler"
	"guiatrack/internal/storage/pgguias"
)

// workerStore is what the reconcile loop needs from storage: the guía rows
// plus the cross-process run lock.
type workerStore interface {
	guias.Repository
	reconciler.Locker
}

type workerFactories struct {
	newStorage     func(cfg *config.Config) (store workerStore, closeFn func(), err error)
	newProducer    func(cfg *config.Config) reconciler.Producer
	newRateLimiter func(cfg *config.Config) reconciler.RateLimiter
	newScraper     func(cfg *config.Config) laar.Scraper
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStore, func(), error) {
			st, err := pgguias.New(postgresConnString(cfg))
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newProducer: func(cfg *config.Config) reconciler.Producer {
			brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
			return kafka.NewProducer(brokers)
		},
		newRateLimiter: func(cfg *config.Config) reconciler.RateLimiter {
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			return rediscache.NewRateLimiter(redisAddr)
		},
		newScraper: func(cfg *config.Config) laar.Scraper {
			if cfg.GuiaTrack.ScraperMode == "fake" {
				return fake.New()
			}
			return laarhttp.New(cfg.GuiaTrack.TrackingBaseURL)
		},
	}
}

func postgresConnString(cfg *config.Config) string {
	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
}

func buildReconciler(cfg *config.Config, st workerStore, scraper laar.Scraper, producer reconciler.Producer, rl reconciler.RateLimiter) (*reconciler.Reconciler, error) {
	topic := cfg.Kafka.GuiaUpdatedTopicName
	if topic == "" {
		topic = "guia.updated"
	}

	runInterval := time.Duration(cfg.GuiaTrack.ReconcileIntervalSeconds) * time.Second
	if runInterval <= 0 {
		runInterval = 30 * time.Minute
	}
	scrapeDelay := time.Duration(cfg.GuiaTrack.ScrapeDelayMillis) * time.Millisecond
	if scrapeDelay <= 0 {
		scrapeDelay = 2000 * time.Millisecond
	}
	rlPerMin := int64(cfg.GuiaTrack.ScrapeRateLimitPerMinute)
	if rlPerMin <= 0 {
		rlPerMin = 60
	}

	clock, err := localtime.New(cfg.GuiaTrack.Timezone)
	if err != nil {
		return nil, err
	}

	svc := guias.New(st, nil, 0, clock, cfg.GuiaTrack.MaxGuiasPerBatch)

	return reconciler.New(svc, scraper, producer, rl, clock, topic).
		WithSettings(runInterval, scrapeDelay, rlPerMin).
		WithLocker(st), nil
}

func RunGuiaWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	producer := f.newProducer(cfg)
	rl := f.newRateLimiter(cfg)
	scraper := f.newScraper(cfg)

	rec, err := buildReconciler(cfg, st, scraper, producer, rl)
	if err != nil {
		return err
	}

	// Ops HTTP surface is optional: it is served only when a swagger file
	// is provided.
	httpErr := make(chan error, 1)
	if swaggerPath := os.Getenv("workerSwaggerPath"); swaggerPath != "" {
		go func() {
			httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
				httpAddr:    cfg.GuiaTrack.WorkerHTTPAddr,
				swaggerPath: swaggerPath,
				reconciler:  rec,
				cfg:         cfg,
			})
		}()
	}

	runErr := make(chan error, 1)
	go func() { runErr <- rec.Run(ctx) }()

	select {
	case err := <-runErr:
		return err
	case err := <-httpErr:
		return err
	}
}
