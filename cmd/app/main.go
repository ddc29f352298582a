package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pak-finance/internal/cache"
	"pak-finance/internal/config"
	"pak-finance/internal/convo"
	"pak-finance/internal/games"
	"pak-finance/internal/httpserver"
	"pak-finance/internal/jobs"
	"pak-finance/internal/ledger"
	"pak-finance/internal/logging"
	"pak-finance/internal/metrics"
	"pak-finance/internal/notify"
	"pak-finance/internal/plans"
	"pak-finance/internal/repo"
	"pak-finance/internal/service"
	"pak-finance/internal/wa"
	"pak-finance/migrations"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting pak-finance ledger", "env", cfg.AppEnv, "store", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricRegistry := metrics.Registry(cfg.MetricsNamespace)

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(ctx, migrations.Files); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated")

	if cfg.RedisAddr != "" {
		redisClient := cache.New(cache.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			UseTLS:    cfg.RedisTLS,
			KeyPrefix: cfg.RedisKeyPrefix,
			TTL:       cfg.RedisTTL,
		}, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("failed closing redis", "error", err)
			}
		}()
		if err := redisClient.Ping(ctx); err != nil {
			logger.Warn("redis ping failed", "error", err)
		}
		store = repo.NewCached(store, redisClient, logger)
		logger.Info("record cache enabled", "addr", cfg.RedisAddr)
	}

	center := notify.NewCenter(notify.Options{
		TTL:     cfg.NotificationTTL,
		Metrics: metricRegistry,
	}, logger)
	defer center.Wait()

	engine := ledger.New(ledger.Config{
		MaturationWindow: cfg.MaturationWindow,
		WelcomeBalance:   cfg.WelcomeBalance,
	}, logger)

	svc := service.New(service.Deps{
		Store:   store,
		Engine:  engine,
		Catalog: plans.Default(),
		Scratch: games.NewScratch(cfg.ScratchPrizeMultiplier, nil),
		Sink:    center,
		Metrics: metricRegistry,
	}, service.Config{
		AllowEarlyClaim:  cfg.AllowEarlyClaim,
		AdminNotifyPhone: cfg.AdminNotifyPhone,
	}, logger)
	if err := svc.Load(ctx); err != nil {
		return fmt.Errorf("load ledger state: %w", err)
	}
	if cfg.SeedAdminPhone != "" {
		if _, err := svc.SetAdmin(ctx, cfg.SeedAdminPhone, true); err != nil {
			logger.Warn("could not grant seed admin", "phone", cfg.SeedAdminPhone, "error", err)
		}
	}

	if cfg.WhatsAppEnabled {
		waClient, err := wa.New(ctx, wa.Config{
			StorePath: cfg.WhatsAppStorePath,
			LogLevel:  cfg.WhatsAppLogLevel,
			Metrics:   metricRegistry,
		}, logger)
		if err != nil {
			return fmt.Errorf("init whatsapp client: %w", err)
		}
		defer waClient.Close()

		center.SetRelay(wa.NewRelay(waClient, cfg.WhatsAppCountryCode))
		convoEngine := convo.New(svc, waClient, metricRegistry, logger, convo.Config{
			AdminPhones: append([]string{cfg.AdminNotifyPhone}, cfg.AdminChatPhones...),
			CountryCode: cfg.WhatsAppCountryCode,
		})
		waClient.SetMessageProcessor(convoEngine)

		waCtx, waCancel := context.WithCancel(ctx)
		defer waCancel()
		go func() {
			if err := waClient.Start(waCtx); err != nil {
				logger.Error("whatsapp client stopped", "error", err)
				stop()
			}
		}()
	}

	scheduler := jobs.New(logger)
	if err := scheduler.Every(ctx, "session_heartbeat", cfg.HeartbeatInterval, svc.Heartbeat); err != nil {
		return err
	}
	if cfg.AdminNotifyPhone != "" {
		remind := func(ctx context.Context) error {
			_, err := svc.RemindPending(ctx)
			return err
		}
		if err := scheduler.Every(ctx, "pending_reminder", cfg.ReminderInterval, remind); err != nil {
			return err
		}
	}
	scheduler.Start()
	defer scheduler.Stop()

	httpSrv := httpserver.New(cfg.HTTPListenAddr, logger, metricRegistry, httpserver.Dependencies{
		Service:       svc,
		Notifications: center,
		Store:         store,
		RateLimiter:   httpserver.NewRateLimiter(cfg.HTTPRateLimit, cfg.HTTPRateBurst),
	}, cfg.PublicBasePath)

	errCh := make(chan error, 1)
	go func() {
		if err := httpSrv.Start(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repo.Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		return repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		return repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	case config.DriverMemory:
		logger.Warn("using in-memory store, state is lost on exit")
		return repo.NewMemory(), nil
	}
	return nil, errors.New("unknown store driver " + cfg.StoreDriver)
}
