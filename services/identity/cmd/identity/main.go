package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sodmaq/NestMongo/libs/health"
	"github.com/sodmaq/NestMongo/libs/httpmiddleware"
	"github.com/sodmaq/NestMongo/libs/kafka"
	"github.com/sodmaq/NestMongo/libs/logging"
	"github.com/sodmaq/NestMongo/libs/metrics"
	"github.com/sodmaq/NestMongo/libs/trace"
	"github.com/sodmaq/NestMongo/services/identity/internal/config"
	"github.com/sodmaq/NestMongo/services/identity/internal/ephemeral"
	"github.com/sodmaq/NestMongo/services/identity/internal/handlers"
	"github.com/sodmaq/NestMongo/services/identity/internal/notify"
	"github.com/sodmaq/NestMongo/services/identity/internal/security"
	"github.com/sodmaq/NestMongo/services/identity/internal/service"
	"github.com/sodmaq/NestMongo/services/identity/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.DB.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := storage.Migrate(ctx, pool)
		cancel()
		if err != nil {
			logger.Error("migration failed", "error", err)
			os.Exit(1)
		}
	}

	users := storage.New(pool)
	ready.AddCheck("postgres", users.Ping)

	store, storeClose, err := buildStore(cfg, logger, ready)
	if err != nil {
		logger.Error("ephemeral store init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = storeClose()
	}()

	notifier, notifierClose, err := buildNotifier(cfg, logger, registry)
	if err != nil {
		logger.Error("notifier init failed", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = notifierClose()
	}()

	tokens, err := security.NewTokenIssuer(cfg.JWT.Issuer,
		security.SigningKey{Secret: []byte(cfg.JWT.Access.Secret), TTL: cfg.JWT.Access.TTL},
		security.SigningKey{Secret: []byte(cfg.JWT.Refresh.Secret), TTL: cfg.JWT.Refresh.TTL},
		security.SigningKey{Secret: []byte(cfg.JWT.Verification.Secret), TTL: cfg.JWT.Verification.TTL},
		security.SystemClock{},
	)
	if err != nil {
		logger.Error("token issuer init failed", "error", err)
		os.Exit(1)
	}

	hasher := security.NewPasswordHasher(security.Argon2Params{
		Memory:      cfg.Argon2.Memory,
		Iterations:  cfg.Argon2.Iterations,
		Parallelism: cfg.Argon2.Parallelism,
		SaltLength:  cfg.Argon2.SaltLength,
		KeyLength:   cfg.Argon2.KeyLength,
	})
	svcMetrics := service.NewMetrics(registry)

	identity := service.NewIdentityService(users, hasher, tokens, notifier, cfg.ClientURL, logger, svcMetrics)
	recovery := service.NewRecoveryFlow(store, users, hasher, security.NewOTPGenerator(cfg.Recovery.OTPHashCost), security.OpaqueTokenGenerator{}, notifier, service.RecoveryConfig{
		OTPTTL:        cfg.Recovery.OTPTTL,
		RateLimitTTL:  cfg.Recovery.RateLimitTTL,
		ResetTokenTTL: cfg.Recovery.ResetTokenTTL,
		MaxAttempts:   cfg.Recovery.MaxAttempts,
	}, logger, svcMetrics)
	guard := service.NewAccessGuard(tokens, users)

	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handlers.NewAuthHandler(identity, recovery, logger).RegisterRoutes(router)
	handlers.NewUserHandler(identity, logger).RegisterRoutes(router, guard)

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("identity service starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()
	ready.SetReady(true)

	waitForShutdown(server, ready, cfg.App.HTTP.ShutdownTimeout, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := storage.Connect(ctx, cfg.DB.DSN())
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func buildStore(cfg *config.Config, logger *slog.Logger, ready *health.Manager) (ephemeral.Store, func() error, error) {
	noop := func() error { return nil }

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			if cfg.App.IsLocal() {
				logger.Warn("redis unavailable, falling back to memory store", "error", err)
				return ephemeral.NewMemoryStore(), noop, nil
			}
			return nil, nil, err
		}

		store := ephemeral.NewRedisStore(client, cfg.Redis.Prefix)
		ready.AddCheck("redis", store.Ping)
		return store, client.Close, nil
	}

	if cfg.App.IsLocal() {
		logger.Warn("redis not configured, using memory store")
		return ephemeral.NewMemoryStore(), noop, nil
	}

	return nil, nil, fmt.Errorf("redis not configured")
}

func buildNotifier(cfg *config.Config, logger *slog.Logger, registry *prometheus.Registry) (notify.Notifier, func() error, error) {
	noop := func() error { return nil }

	if len(cfg.Kafka.Brokers) == 0 {
		if cfg.App.IsLocal() {
			logger.Warn("kafka not configured, notifications go to the log")
			return notify.NewLogNotifier(logger), noop, nil
		}
		return nil, nil, fmt.Errorf("kafka brokers not configured")
	}

	producer, err := kafka.NewSyncProducer(kafka.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
		Timeout:  5 * time.Second,
	}, logger, kafka.NewProducerMetrics(registry))
	if err != nil {
		return nil, nil, err
	}

	publisher := kafka.NewDLQPublisher(producer, producer, cfg.Kafka.DLQTopic, logger)
	return notify.NewKafkaNotifier(publisher, cfg.Kafka.Topic), publisher.Close, nil
}

func waitForShutdown(server *http.Server, ready *health.Manager, timeout time.Duration, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ready.SetReady(false)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info("shutdown started")
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "error", err)
		return
	}
	logger.Info("shutdown complete")
}
