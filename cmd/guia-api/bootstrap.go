package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
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

type guiaAPIApp struct {
	ctx        context.Context
	cancel     context.CancelFunc
	opts       guiaAPIOpts
	svc        *guias.Service
	reconciler *reconciler.Reconciler
	consumer   *kafka.Consumer
	closeDB    func()
}

func mustBootstrapGuiaAPI() *guiaAPIApp {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	swaggerPath := os.Getenv("swaggerPath")
	if swaggerPath == "" {
		panic("swaggerPath env var is required")
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		panic(fmt.Sprintf("failed to parse config, %v", err))
	}
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	httpAddr := cfg.GuiaTrack.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	consumerGroup := cfg.GuiaTrack.KafkaConsumerGroup
	if consumerGroup == "" {
		consumerGroup = "guia-api"
	}
	topic := cfg.Kafka.GuiaUpdatedTopicName
	if topic == "" {
		topic = "guia.updated"
	}

	cacheTTL := time.Duration(cfg.GuiaTrack.CurrentStatusTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}

	clock, err := localtime.New(cfg.GuiaTrack.Timezone)
	if err != nil {
		panic(err)
	}

	sslMode := cfg.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Database.Username, cfg.Database.Password, cfg.Database.Host, cfg.Database.Port, cfg.Database.DBName, sslMode)
	st := mustOpenPostgresWithRetry(connString, 60*time.Second)

	redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
	rc := rediscache.New(redisAddr)

	svc := guias.New(st, rc, cacheTTL, clock, cfg.GuiaTrack.MaxGuiasPerBatch).
		WithRecentDeliveredWindow(time.Duration(cfg.GuiaTrack.RecentDeliveredWindowHours) * time.Hour)

	var scraper laar.Scraper
	if cfg.GuiaTrack.ScraperMode == "fake" {
		scraper = fake.New()
	} else {
		scraper = laarhttp.New(cfg.GuiaTrack.TrackingBaseURL)
	}

	brokers := []string{fmt.Sprintf("%s:%d", cfg.Kafka.Host, cfg.Kafka.Port)}
	producer := kafka.NewProducer(brokers)
	rl := rediscache.NewRateLimiter(redisAddr)

	// On-demand rescrape and the cron endpoint share one reconciler; the
	// advisory lock keeps it from colliding with the worker's periodic run.
	scrapeDelay := time.Duration(cfg.GuiaTrack.ScrapeDelayMillis) * time.Millisecond
	rec := reconciler.New(svc, scraper, producer, rl, clock, topic).
		WithSettings(0, scrapeDelay, int64(cfg.GuiaTrack.ScrapeRateLimitPerMinute)).
		WithLocker(st)

	consumer := kafka.NewConsumer(brokers, topic, consumerGroup)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &guiaAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: guiaAPIOpts{
			httpAddr:      httpAddr,
			swaggerPath:   swaggerPath,
			topic:         topic,
			consumerGroup: consumerGroup,
			cronSecret:    cfg.GuiaTrack.CronSecret,
		},
		svc:        svc,
		reconciler: rec,
		consumer:   consumer,
		closeDB:    st.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pgguias.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pgguias.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *guiaAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.consumer != nil {
		_ = a.consumer.Close()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *guiaAPIApp) Run() error {
	return runGuiaAPI(a.ctx, a.opts, a.svc, a.reconciler, a.consumer)
}
