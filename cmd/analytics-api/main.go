package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pulse-analytics/internal/cleanup"
	"pulse-analytics/internal/config"
	"pulse-analytics/internal/firehose"
	"pulse-analytics/internal/geo"
	"pulse-analytics/internal/httpx"
	"pulse-analytics/internal/ingest"
	"pulse-analytics/internal/server"
	"pulse-analytics/internal/stats"
	"pulse-analytics/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("load config")
	}
	log := newLogger(cfg.LogLevel)
	log.Info().Str("addr", cfg.HTTPAddr).Msg("starting analytics API")

	db, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("open store")
	}
	defer db.Close()
	if cfg.DataDir == "" {
		log.Warn().Msg("DATA_DIR not set, store runs in memory")
	}

	var publisher ingest.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		fh := firehose.New(cfg.KafkaBrokers, cfg.KafkaTopicRecords, log)
		defer fh.Close()
		publisher = fh
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopicRecords).Msg("firehose enabled")
	}

	resolver := geo.NewResolver(cfg.GeoProviders, cfg.GeoDemoIP, log)
	sweeper := cleanup.New(db, cfg.SessionTimeout, log)

	router := server.NewRouter(server.Deps{
		Ingest:           ingest.New(db, resolver, publisher, log),
		Stats:            stats.New(db, sweeper, log),
		Log:              log,
		CORSAllowOrigins: cfg.CORSAllowOrigins,
		Metrics:          httpx.NewHTTPMetrics(server.ServiceName),
	})

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: router,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	waitForSignal()
	log.Info().Msg("shutting down analytics API...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func waitForSignal() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}
