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

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"possale/backend/internal/analytics"
	"possale/backend/internal/cache"
	"possale/backend/internal/config"
	"possale/backend/internal/httpapi"
	"possale/backend/internal/logging"
	"possale/backend/internal/metrics"
	"possale/backend/internal/notify"
	"possale/backend/internal/service"
	"possale/backend/internal/stock"
	"possale/backend/internal/store"
	"possale/backend/internal/store/memory"
	pgstore "possale/backend/internal/store/postgres"
)

func main() {
	configPath := flag.String("config", os.Getenv("POSSALE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Log.Format == "json" {
		gin.SetMode(gin.ReleaseMode)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	app, err := buildApp(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal("startup failed", zap.Error(err))
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           app.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("POS sales backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	app.close(shutdownCtx)
	logger.Info("server stopped")
}

type app struct {
	handler    http.Handler
	service    *service.Service
	dispatcher *notify.Dispatcher
	closers    []func() error
	logger     *zap.Logger
}

// buildApp wires every component from cfg. An empty database URL selects the
// seeded memory store; an unreachable redis falls back to the in-process
// cache; kafka is optional.
func buildApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger}

	var repo store.Repository
	if cfg.Database.URL != "" {
		pg, err := pgstore.New(ctx, cfg.Database.URL, pgstore.Options{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			LockTimeout:     cfg.Database.LockTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and database.url is set; refusing in-memory fallback: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if cfg.Database.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				a.close(ctx)
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		repo = pg
		logger.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded(memory.WithLockTimeout(cfg.Database.LockTimeout))
		logger.Info("repository: in-memory")
	}

	var analyticsCache cache.AnalyticsCache = cache.NewMemoryAnalyticsCache()
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewRedisAnalyticsCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, using in-process analytics cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			analyticsCache = redisCache
			a.closers = append(a.closers, redisCache.Close)
			logger.Info("analytics cache: redis")
		}
	}

	m := metrics.New()

	notifiers := notify.Multi{notify.NewLogNotifier(logger)}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, publisher.Close)
		notifiers = append(notifiers, notify.NewBreaker(publisher, notify.DefaultBreakerConfig("kafka"), logger))
		logger.Info("sale events: kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}
	a.dispatcher = notify.NewDispatcher(notifiers, logger,
		notify.WithFailureHook(func(event notify.Event, err error) {
			m.NotificationFailed(event.Type)
		}),
	)

	reports := analytics.NewAggregator(repo,
		analytics.WithCache(analyticsCache, cfg.Analytics.CacheTTL),
		analytics.WithDashboardPeriods(cfg.Analytics.DashboardPeriods),
		analytics.WithLogger(logger),
		analytics.WithMetrics(m),
	)

	a.service = service.New(repo, stock.NewLedger(repo),
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithPointsDivisor(cfg.Sales.LoyaltyPointsDivisor),
		service.WithCacheInvalidator(reports),
		service.WithEvents(a.dispatcher),
	)

	api := httpapi.New(a.service, reports, httpapi.NewTokenAuth(cfg.Auth.Secret, cfg.Auth.Issuer),
		httpapi.WithLogger(logger),
		httpapi.WithAllowedOrigin(cfg.Server.AllowedOrigin),
		httpapi.WithMetricsHandler(m.Handler()),
	)
	a.handler = api.Handler()
	return a, nil
}

// close drains pending sale events before releasing connections.
func (a *app) close(ctx context.Context) {
	if a.dispatcher != nil {
		if err := a.dispatcher.Close(ctx); err != nil {
			a.logger.Warn("event dispatcher did not drain", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close error", zap.Error(err))
		}
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := validateSecretStrength(cfg.Auth.Secret); err != nil {
		return fmt.Errorf("auth.secret is too weak: %w", err)
	}
	return nil
}

// validateSecretStrength rejects placeholder secrets and secrets built from
// very few distinct characters.
func validateSecretStrength(secret string) error {
	lower := strings.ToLower(secret)
	for _, placeholder := range []string{"change-me", "changeme", "dev-secret", "password"} {
		if strings.Contains(lower, placeholder) {
			return fmt.Errorf("placeholder secret not allowed")
		}
	}

	distinct := make(map[rune]struct{})
	for _, r := range secret {
		distinct[r] = struct{}{}
	}
	if len(distinct) < 8 {
		return fmt.Errorf("secret needs at least 8 distinct characters")
	}
	return nil
}
