package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	zlog "github.com/rs/zerolog/log"
	"github.com/ruralpay/ledger-ingest/internal/config"
	"github.com/ruralpay/ledger-ingest/internal/database"
	"github.com/ruralpay/ledger-ingest/internal/handlers"
	"github.com/ruralpay/ledger-ingest/internal/logger"
	mW "github.com/ruralpay/ledger-ingest/internal/middleware"
	"github.com/ruralpay/ledger-ingest/internal/services"
	"github.com/ruralpay/ledger-ingest/internal/spapi"
	"github.com/spf13/viper"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("log.level", "info")

	configErr := viper.ReadInConfig()

	log := logger.NewJSON(viper.GetString("log.level"))
	zlog.Logger = log
	if configErr != nil {
		log.Info().Err(configErr).Msg("Config file not found, using environment and defaults")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	spCfg := config.LoadSPAPIConfig()
	if err := spCfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid SP-API configuration")
	}

	events := logger.NewEvents(log)

	var (
		store  services.TransactionRepository
		reader handlers.TransactionReader
	)
	if db, err := connectDB(ctx); err != nil {
		log.Warn().Err(err).Msg("Database unavailable, ingest runs will not persist")
	} else {
		defer db.Close()
		ts := services.NewTransactionStore(db, nil, events)
		store, reader = ts, ts
	}

	var cache spapi.TokenCache
	if redisClient := database.InitRedis(ctx); redisClient != nil {
		defer redisClient.Close()
		cache = spapi.NewRedisTokenCache(redisClient)
	}

	ingestors := func(req handlers.IngestRequest) (handlers.Ingestor, error) {
		client, err := spCfg.NewClient(req.Mock, req.Scenario, cache, events)
		if err != nil {
			return nil, err
		}
		return services.NewIngestionService(client, store, events, nil), nil
	}
	transactionHandler := handlers.NewTransactionHandler(reader, ingestors, log)

	secret := viper.GetString("jwt.secret_key")
	if secret == "" {
		log.Warn().Msg("JWT_SECRET_KEY not set, POST /api/v1/ingest will reject every request")
	}

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// A run may sleep through several backoff rounds.
		r.Use(middleware.Timeout(10 * time.Minute))
		transactionHandler.Register(r, mW.Auth([]byte(secret)))
	})

	port := viper.GetString("server.port")
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 11 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().Str("addr", server.Addr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func connectDB(ctx context.Context) (*sql.DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	db, err := database.InitDB(connectCtx, database.GetConfig())
	if err != nil {
		return nil, err
	}
	if err := database.EnsureTransactionSchema(connectCtx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
