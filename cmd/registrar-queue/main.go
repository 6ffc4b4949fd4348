package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"qms/registrar-queue/internal/config"
	"qms/registrar-queue/internal/engine"
	"qms/registrar-queue/internal/httpapi"
	"qms/registrar-queue/internal/projector"
	"qms/registrar-queue/internal/queue"
	"qms/registrar-queue/internal/relay"
	"qms/registrar-queue/internal/store"
	"qms/registrar-queue/internal/store/memory"
	"qms/registrar-queue/internal/store/postgres"
	"qms/registrar-queue/internal/telemetry"
	"qms/registrar-queue/migrations"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var version = "dev"

// relaySource is a ticket store that also exposes its outbox.
type relaySource interface {
	store.TicketStore
	relay.Source
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "registrar-queue: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, telemetry.Config{
		ServiceName: "registrar-queue",
		Version:     version,
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
	}, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	catalog, err := queue.LoadCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}

	ticketStore, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	redisClient := openRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}
	statusProjector := projector.New(redisClient, ticketStore, cfg.StatusCacheTTL, logger)

	queueEngine := engine.New(ticketStore, statusProjector, engine.Options{
		Admission: cfg.Admission(),
		Catalog:   catalog,
		Location:  cfg.Location,
		Logger:    logger,
	})

	if cfg.RabbitMQURL != "" {
		publisher, err := relay.NewAMQPPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		worker := relay.New(ticketStore, publisher, relay.Config{BatchSize: cfg.OutboxBatchSize}, logger)
		go relay.Start(ctx, cfg.OutboxInterval, worker)
		logger.Info("outbox relay started", "exchange", cfg.RabbitMQExchange, "interval", cfg.OutboxInterval)
	}

	handler := httpapi.NewHandler(queueEngine, logger)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		CreatePerMinute: cfg.CreateRateLimitPerMinute,
		CreateBurst:     cfg.CreateRateLimitBurst,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", limiter.Middleware(handler.Routes()))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(logger, mux), "registrar-queue"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("registrar-queue listening", "addr", server.Addr, "store", cfg.StoreDriver, "timezone", cfg.Timezone)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (relaySource, func(), error) {
	if cfg.StoreDriver == config.StoreMemory {
		logger.Warn("using in-memory ticket store; tickets are lost on restart")
		return memory.NewStore(memory.DefaultServices()), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("db ping: %w", err)
	}
	if cfg.Migrate {
		if err := migrations.Apply(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("migrations applied")
	}
	return postgres.NewStore(pool), pool.Close, nil
}

// openRedis returns nil when no address is configured or the server does not
// answer; status reads then go straight to the store.
func openRedis(ctx context.Context, cfg config.Config, logger *slog.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts, err := redis.ParseURL(cfg.RedisAddr)
	if err != nil {
		opts = &redis.Options{Addr: cfg.RedisAddr}
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}
	if cfg.RedisDB != 0 {
		opts.DB = cfg.RedisDB
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unavailable, status cache disabled", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
