package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/overlayworks/arcade/internal/appconfig"
	"github.com/overlayworks/arcade/internal/dedup"
	"github.com/overlayworks/arcade/internal/events"
	"github.com/overlayworks/arcade/internal/games/balldrop"
	"github.com/overlayworks/arcade/internal/gateway"
	"github.com/overlayworks/arcade/internal/ledger"
	"github.com/overlayworks/arcade/internal/queue"
	"github.com/overlayworks/arcade/internal/relay"
	"github.com/overlayworks/arcade/internal/store"
	"github.com/overlayworks/arcade/internal/trigger"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	configPath := os.Getenv("ARCADE_CONFIG")
	if configPath == "" {
		configPath = "arcade.yaml"
	}
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
	}

	dbCfg := appconfig.DBConfigFromEnv()
	natsURL := appconfig.NATSURL()
	port := appconfig.HTTPPort()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, dbCfg.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create database pool")
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	log.Info().
		Str("database", dbCfg.Database).
		Str("nats_url", natsURL).
		Str("port", port).
		Msg("starting overlay arcade")

	repo := store.NewRepository(pool)
	entries := ledger.NewRepository(pool)

	// Every component broadcasts through the same fan-out: the WebSocket
	// gateway for the overlay, the JetStream mirror for everything else.
	cm := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())

	relayCfg := relay.DefaultPublisherConfig()
	relayCfg.URL = natsURL
	publisher, err := relay.NewPublisher(relayCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event relay")
	}
	defer publisher.Close()

	broadcaster := events.FanOut{cm, publisher}

	clock := clockwork.NewRealClock()

	q := queue.New(queue.Config{
		MaxSize:      cfg.Queue.MaxSize,
		WarnSize:     cfg.Queue.WarnSize,
		RestartDelay: cfg.RestartDelay(),
	}, clock, broadcaster)

	tracker := balldrop.NewTracker(balldrop.TrackerConfig{
		MinFlightTime: cfg.MinFlightTime(),
		MaxBallAge:    cfg.MaxBallAge(),
		SweepInterval: cfg.SweepInterval(),
	}, entries, broadcaster, clock)

	adapters, err := setupAdapters(ctx, repo, entries, tracker, q, broadcaster, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up game adapters")
	}

	cm.RegisterAcknowledger(events.KindWheel, adapters.Wheel)
	cm.RegisterAcknowledger(events.KindBallDrop, adapters.BallDrop)
	cm.RegisterAcknowledger(events.KindTurnGame, adapters.TurnGame)

	deduper := dedup.New(cfg.DedupWindow(), clock)

	router, err := trigger.NewRouter(cfg.Routing, deduper, q)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid trigger routing table")
	}

	consumerCfg := trigger.DefaultConsumerConfig()
	consumerCfg.URL = natsURL
	consumer, err := trigger.NewConsumer(router, consumerCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create trigger consumer")
	}
	defer consumer.Stop()

	listenerCfg := store.DefaultListenerConfig()
	listenerCfg.DatabaseURL = dbCfg.DSN()
	listener, err := store.NewListener(listenerCfg, adapters.reloadHandler(repo))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create config listener")
	}

	go cm.Start(ctx)
	go deduper.Run(ctx)
	go tracker.Run(ctx)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("trigger consumer failed")
		}
	}()
	go func() {
		if err := listener.Start(ctx); err != nil {
			log.Error().Err(err).Msg("config listener failed")
		}
	}()

	server := gateway.NewServer(port, cm, q)
	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	q.Destroy()
	cancel()

	// Give the consumer and listener time to drain.
	time.Sleep(1 * time.Second)

	log.Info().Msg("overlay arcade shutdown complete")
}
