package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"mycelix/cache"
	"mycelix/chain"
	"mycelix/config"
	"mycelix/gateway/auth"
	"mycelix/gateway/middleware"
	"mycelix/gateway/routes"
	"mycelix/integrations/webhooks"
	"mycelix/native/economics"
	"mycelix/observability/logging"
	"mycelix/reports"
	"mycelix/storage"
)

func main() {
	configFile := flag.String("config", "./musicd.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup(logging.Config{
		Service:     "musicd",
		Environment: cfg.Environment,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	logger.Info("configuration loaded",
		"listen", cfg.ListenAddress,
		"redis", cfg.RedisAddr != "",
		logging.Secret("admin_api_key", cfg.AdminAPIKey),
		logging.Secret("session_secret", cfg.Sessions.Secret),
	)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	if err := storage.AutoMigrate(db); err != nil {
		logger.Error("run migrations", "error", err)
		os.Exit(1)
	}
	store := storage.NewStore(db, time.Now)

	cacheClient := cache.New(cache.Options{Addr: cfg.RedisAddr, Prefix: "mycelix"})

	signatureTTL := time.Duration(cfg.Auth.SignatureTTLMillis) * time.Millisecond
	var nonces auth.NonceStore
	switch {
	case cacheClient != nil:
		nonces = auth.NewRedisNonceStore(cacheClient.Redis(), 2*signatureTTL, "mycelix:nonce")
	case strings.TrimSpace(cfg.Auth.NoncePath) != "":
		leveldbNonces, err := auth.NewLevelDBNonceStore(cfg.Auth.NoncePath, 2*signatureTTL)
		if err != nil {
			logger.Error("open nonce store", "error", err)
			os.Exit(1)
		}
		defer leveldbNonces.Close()
		nonces = leveldbNonces
	}

	verifier := auth.NewVerifier(auth.Config{
		AdminAPIKey:  cfg.AdminAPIKey,
		SignatureTTL: signatureTTL,
		Nonces:       nonces,
	})

	var sessions *auth.Sessions
	if strings.TrimSpace(cfg.Sessions.Secret) != "" {
		sessions = auth.NewSessions(cfg.Sessions.Secret, cfg.Sessions.Issuer,
			time.Duration(cfg.Sessions.TTLMinutes)*time.Minute, nil)
	} else {
		logger.Warn("session secret not configured; session endpoints disabled")
	}

	var catalog *economics.Catalog
	if strings.TrimSpace(cfg.CatalogPath) != "" {
		catalog, err = economics.LoadCatalog(cfg.CatalogPath)
		if err != nil {
			logger.Error("load strategy catalog", "path", cfg.CatalogPath, "error", err)
			os.Exit(1)
		}
	}

	metrics := middleware.NewMetrics("mycelix")

	var dispatcher *webhooks.Dispatcher
	if endpoint := strings.TrimSpace(cfg.Webhooks.Endpoint); endpoint != "" {
		dispatcher, err = webhooks.NewDispatcher(endpoint, []byte(cfg.Webhooks.Secret))
		if err != nil {
			logger.Error("build webhook dispatcher", "error", err)
			os.Exit(1)
		}
		defer dispatcher.Close()
	}

	var indexer *chain.Indexer
	if rpcURL := strings.TrimSpace(cfg.Chain.RPCURL); rpcURL != "" {
		client, err := chain.Dial(rpcURL)
		if err != nil {
			logger.Error("dial chain rpc", "url", rpcURL, "error", err)
			os.Exit(1)
		}
		checkpoints, err := chain.OpenCheckpoints(cfg.Chain.CheckpointPath)
		if err != nil {
			logger.Error("open checkpoint store", "path", cfg.Chain.CheckpointPath, "error", err)
			os.Exit(1)
		}
		defer checkpoints.Close()
		indexer, err = chain.New(chain.Config{
			Client:        client,
			Store:         store,
			Checkpoints:   checkpoints,
			Webhooks:      dispatcher,
			Router:        common.HexToAddress(cfg.Chain.RouterAddress),
			Confirmations: cfg.Chain.Confirmations,
			PollInterval:  time.Duration(cfg.Chain.PollSeconds) * time.Second,
			MaxBlockRange: cfg.Chain.MaxBlockRange,
			StartBlock:    cfg.Chain.StartBlock,
			Logger:        logger,
			Registry:      metrics.Registry(),
		})
		if err != nil {
			logger.Error("build indexer", "error", err)
			os.Exit(1)
		}
	}

	location, err := time.LoadLocation(cfg.Reports.Timezone)
	if err != nil {
		logger.Error("load report timezone", "tz", cfg.Reports.Timezone, "error", err)
		os.Exit(1)
	}
	reporter, err := reports.NewReporter(reports.Config{
		Store:     store,
		TZ:        location,
		OutputDir: cfg.Reports.OutputDir,
		Logger:    log.Default(),
	})
	if err != nil {
		logger.Error("build reporter", "error", err)
		os.Exit(1)
	}

	routesCfg := routes.Config{
		Store:    store,
		Verifier: verifier,
		Sessions: sessions,
		Catalog:  catalog,
		Cache:    cacheClient,
		Reports:  reporter,
		Metrics:  metrics,
		RateLimit: middleware.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		CORS:    middleware.CORSConfig{AllowedOrigins: cfg.AllowedOrigins},
		ChainID: cfg.Chain.ChainID,
		Logger:  logger,
	}
	if indexer != nil {
		routesCfg.Chain = indexer
	}
	srv, err := routes.New(routesCfg)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go srv.RateLimiter().Janitor(ctx)
	if indexer != nil {
		go indexer.Run(ctx)
	}
	scheduler := reports.NewScheduler(reports.SchedulerConfig{
		Reporter:  reporter,
		RunHour:   cfg.Reports.Hour,
		RunMinute: cfg.Reports.Minute,
		Location:  location,
	})
	go scheduler.Start(ctx)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("musicd listening", "addr", cfg.ListenAddress)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
			_ = httpServer.Close()
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve http", "error", err)
			os.Exit(1)
		}
	}
}
