package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/md-rashed-zaman/apptgrid/libs/config"
	"github.com/md-rashed-zaman/apptgrid/libs/db"
	"github.com/md-rashed-zaman/apptgrid/libs/httpx"
	"github.com/md-rashed-zaman/apptgrid/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptgrid/libs/otel"
	"github.com/md-rashed-zaman/apptgrid/libs/runtime"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/cache"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/grpcserver"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/scheduling"
	"github.com/md-rashed-zaman/apptgrid/services/booking-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(service)
	if err := run(service, logger); err != nil {
		logger.Error("booking service exited", "err", err)
		os.Exit(1)
	}
}

func run(service string, logger *slog.Logger) error {
	port, err := config.Port("PORT", "8083")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		return err
	}
	rules, err := policy.FromEnv()
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	maxConns, err := config.Int("DB_MAX_CONNS", 10, 1, 500)
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := storage.EnsureSchema(ctx, pool); err != nil {
		return err
	}

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	var (
		rdb       *redis.Client
		slotCache *cache.SlotCache
	)
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		slotTTL, err := config.Duration("SLOT_CACHE_TTL", 30*time.Second)
		if err != nil {
			return err
		}
		slotCache = cache.NewSlotCache(rdb, slotTTL, logger)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: cache.ReadyCheck(rdb)})
	}

	brokers := config.String("KAFKA_BROKERS", "")
	outboxRepo := outbox.NewRepository()
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	if publisher.Enabled() {
		go publisher.Run(ctx)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	} else {
		logger.Warn("KAFKA_BROKERS not set; outbox events stay unpublished")
	}

	engine := rules.Engine()
	m, err := metrics.New(otel.Meter(service))
	if err != nil {
		return err
	}

	cacheSize, err := config.Int("SCHEDULE_CACHE_SIZE", 1024, 0, 1_000_000)
	if err != nil {
		return err
	}
	cacheTTL, err := config.Duration("SCHEDULE_CACHE_TTL", time.Minute)
	if err != nil {
		return err
	}
	repo := storage.NewRepository(pool, outboxRepo)
	local := scheduling.NewProvider(repo, cacheSize, cacheTTL)
	schedules := local
	if rdb != nil && cacheSize > 0 {
		sub := rdb.Subscribe(ctx, scheduling.InvalidationChannel)
		defer sub.Close()
		go scheduling.Listen(ctx, local, sub.Channel())
		schedules = scheduling.Broadcast(local, rdb, logger)
	}

	bookingHandler := handlers.NewBookingHandler(repo, schedules, engine, slotCache, m, logger)
	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.Register(mux,
		bookingHandler,
		handlers.NewScheduleHandler(repo, schedules, engine, slotCache, logger),
		handlers.NewBlackoutHandler(repo, slotCache, logger),
		handlers.NewServiceHandler(repo, slotCache, logger),
	)

	perMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 120, 1, 100_000)
	if err != nil {
		return err
	}
	var limit httpx.Middleware
	if rdb != nil {
		limit = httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, service+":ratelimit:", logger, true).Middleware()
	} else {
		limit = httpx.NewRateLimiter(perMinute, time.Minute).Middleware()
	}
	public := http.NewServeMux()
	handlers.RegisterPublic(public, bookingHandler)
	mux.Handle("/api/v1/public/", limit(public))

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: config.List("CORS_ALLOWED_ORIGINS"),
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(10*time.Second),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		return err
	}
	health := grpcserver.NewHealth(service, 10*time.Second, logger, checks...)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := grpcserver.Serve(ctx, lis, health, logger); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	wg.Wait()
	return nil
}
