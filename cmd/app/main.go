package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"video-generation-service/internal/config"
	"video-generation-service/internal/domain/ports/adapter"
	prov "video-generation-service/internal/infra/adapters/provider"
	"video-generation-service/internal/infra/blob"
	pg "video-generation-service/internal/infra/db/postgres"
	"video-generation-service/internal/infra/dispatcher"
	"video-generation-service/internal/infra/logging"
	"video-generation-service/internal/infra/metrics"
	red "video-generation-service/internal/infra/redis"
	"video-generation-service/internal/infra/web"
	"video-generation-service/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (noop provider, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	jobRepo := pg.NewJobRepoCacheDecorator(pg.NewJobRepo(pool), redisClient, 3*time.Second)
	videoRepo := pg.NewVideoRepo(pool)
	roleRepo := pg.NewRoleRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Use cases ----
	accessUC := usecase.NewAccessUseCase(roleRepo, logger)
	jobUC := usecase.NewJobUseCase(jobRepo, videoRepo, accessUC, tm, locker, logger)
	videoUC := usecase.NewVideoUseCase(videoRepo, accessUC, logger)

	// ---- Bootstrap admin principals ----
	for _, p := range cfg.Auth.AdminIDs {
		if err := roleRepo.Assign(ctx, nil, p, "admin"); err != nil {
			logger.Error().Err(err).Str("principal", p).Msg("admin bootstrap failed")
		}
	}

	// ---- Blob store ----
	blobStore, err := blob.NewFileStore(cfg.Blob.BasePath, cfg.Blob.BaseURL, cfg.Blob.FetchRemote)
	if err != nil {
		logger.Fatal().Err(err).Msg("blob store")
	}

	// ---- Provider adapter ----
	var providerAdapter adapter.VideoProviderAdapter
	if cfg.Runtime.Dev || cfg.Provider.BaseURL == "" {
		providerAdapter = prov.NewNoopProvider()
		logger.Info().Msg("provider: noop (dev)")
	} else {
		providerAdapter = prov.NewHTTPProvider(cfg.Provider.APIKey, cfg.Provider.CallTimeout+10*time.Second, logger)
		logger.Info().Str("base_url", cfg.Provider.BaseURL).Msg("provider: http")
	}

	// ---- Dispatcher ----
	workerPool := dispatcher.NewPool(cfg.Dispatcher.Workers, logger)
	workerPool.Start(ctx)
	defer workerPool.Stop()

	disp := dispatcher.New(jobRepo, jobUC, providerAdapter, blobStore, workerPool, dispatcher.Config{
		CallTimeout: cfg.Provider.CallTimeout,
		MaxAttempts: cfg.Provider.MaxAttempts,
		BackoffBase: cfg.Provider.BackoffBase,
	}, logger)

	// ---- HTTP server ----
	auth := web.NewAuthManager(cfg.Auth.HMACSecret, cfg.Auth.TokenTTL)
	srv := web.NewServer(jobUC, videoUC, accessUC, disp, blobStore, auth, cfg.Provider.BaseURL, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Router(cfg.Server.RequestTimeout),
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Graceful shutdown ----
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	cancel()
}
