package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mrowan14/codeclash/go/internal/battle/channel"
	"github.com/mrowan14/codeclash/go/internal/battle/collab"
	"github.com/mrowan14/codeclash/go/internal/battle/gateway"
	"github.com/mrowan14/codeclash/go/internal/battle/results"
	"github.com/mrowan14/codeclash/go/internal/battle/service"
	"github.com/mrowan14/codeclash/go/internal/battle/store"
	"github.com/mrowan14/codeclash/go/internal/dbconfig"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Get configuration
	port := getEnv("BATTLE_PORT", "8082")
	natsURL := getEnv("NATS_URL", "nats://localhost:4222")
	platformURL := getEnv("PLATFORM_URL", "http://localhost:8080")
	redisURL := getEnv("REDIS_URL", "redis://localhost:6379/0")

	tun := service.DefaultTunables()
	if configPath := getEnv("BATTLE_CONFIG", ""); configPath != "" {
		config, err := loadConfig(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
		tun = tunablesFromConfig(config)
	}

	log.Info().
		Str("nats_url", natsURL).
		Str("platform_url", platformURL).
		Str("port", port).
		Msg("starting battle sync service")

	// Redis for live session state and recent outcomes
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	sessionStore := store.NewRedis(redis.NewClient(redisOpts), 24*time.Hour)

	// Push transport; the service degrades to pull-only without it
	var push channel.PushAdapter
	natsAdapter, err := channel.NewNATSAdapter(channel.NATSConfig{
		URL:           natsURL,
		SubjectPrefix: getEnv("BATTLE_SUBJECT_PREFIX", "battle"),
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	})
	if err != nil {
		log.Warn().Err(err).Msg("push transport unavailable, running pull-only")
	} else {
		push = natsAdapter
		defer natsAdapter.Close()
	}

	// Platform API: authoritative snapshots, matchmaking, grading
	platform := collab.NewHTTPClient(platformURL)
	snapshots := channel.NewSnapshotClient(platformURL)

	// Optional Postgres result archive
	var resultsRepo *results.Repository
	if getEnv("RESULTS_ENABLED", "false") == "true" {
		dbCfg := dbconfig.NewConfigFromEnv()
		resultsRepo, err = results.NewRepository(dbCfg.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to results database")
		}
		defer resultsRepo.Close()
	}

	degraded := func() bool {
		return push == nil || !push.Connected()
	}

	svc := service.New(service.Deps{
		Push:        push,
		Snapshots:   snapshots,
		Store:       sessionStore,
		Results:     resultsRepo,
		Submissions: platform,
		Clock:       clockwork.NewRealClock(),
	}, tun)

	gatewayService := gateway.NewService(gateway.DefaultConfig(), svc.StateProvider(), degraded)
	svc.SetGateway(gatewayService)

	// Context for graceful shutdown; also bounds session lifetimes
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessionsHandler := newSessionsHandler(ctx, svc, platform)

	// Setup HTTP server
	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)
	sessionsHandler.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := gatewayService.GetStats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"battle-sync","version":"1.0.0","degraded":%t,"connections":%d}`,
			degraded(), stats["total_connections"])
	})

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})
	handler := c.Handler(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      h2c.NewHandler(handler, &http2.Server{}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	log.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	svc.CloseAll()
	cancel()

	log.Info().Msg("battle sync service shutdown complete")
}
