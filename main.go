package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"fintelligence/internal/api"
	"fintelligence/internal/config"
	"fintelligence/internal/logger"
	"fintelligence/internal/middleware"
	"fintelligence/internal/redis"
	"fintelligence/internal/service/ai"
	"fintelligence/internal/service/extract"
	"fintelligence/internal/service/relay"
	"fintelligence/internal/worker"
)

func main() {
	cfg, err := config.Load(os.Getenv(config.EnvConfigPath))
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logger.Init(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx := context.Background()
	aiService, err := ai.NewService(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init completion client")
	}
	if cfg.ActiveProvider().APIKey == "" {
		log.Warn().Str("env", config.EnvAPIKey).Msg("no api key configured, completion requests will fail")
	}
	extractor, err := extract.NewExtractor(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("init document extractor")
	}
	completions := worker.NewPool(aiService, cfg.BasicConfig.MaxWorkers, cfg.BasicConfig.QueueTimeout())
	handlers := api.NewHandler(relay.NewService(completions, extractor), api.Limits{
		MaxUploadBytes:   cfg.BasicConfig.MaxUploadBytes(),
		MaxJSONBodyBytes: cfg.BasicConfig.MaxJSONBodyBytes(),
	})

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())

	if !cfg.RateLimit.Disabled {
		var limiter middleware.Limiter = middleware.NewMemoryLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window())
		if cfg.Redis.Addr != "" {
			rdb, err := redis.NewRedisClient(cfg)
			if err != nil {
				log.Fatal().Err(err).Str("addr", cfg.Redis.Addr).Msg("create redis client")
			}
			defer rdb.Close()
			limiter = middleware.NewRedisLimiter(rdb, cfg.RateLimit.Requests, cfg.RateLimit.Window())
		}
		router.Use(middleware.RateLimit(limiter))
	}
	handlers.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.ActiveProvider().Timeout() + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("provider", aiService.Provider()).
			Str("model", aiService.Model()).
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
