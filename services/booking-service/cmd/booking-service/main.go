package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/bookwell/libs/config"
	"github.com/md-rashed-zaman/bookwell/libs/db"
	"github.com/md-rashed-zaman/bookwell/libs/grpcx"
	"github.com/md-rashed-zaman/bookwell/libs/httpx"
	"github.com/md-rashed-zaman/bookwell/libs/kafkax"
	otelx "github.com/md-rashed-zaman/bookwell/libs/otel"
	"github.com/md-rashed-zaman/bookwell/libs/runtime"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/bookwell/services/booking-service/internal/throttle"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	if err := config.LoadDotenv(".env"); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9093")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := runtime.ShutdownContext(ctx, 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var checks []runtime.ReadyCheck
	var store storage.Store
	var policies policy.Store
	switch kind := config.String("STORE", "postgres"); kind {
	case "memory":
		logger.Warn("using in-memory store; data is lost on restart")
		store = storage.NewMemoryStore()
		policies = policy.NewMemoryStore()
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			panic(err)
		}
		maxConns, err := config.Int("DB_MAX_CONNS", 10)
		if err != nil {
			panic(err)
		}
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(maxConns)})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		store = storage.NewPostgresStore(pool)
		policies = policy.NewPostgresStore(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	default:
		panic("unknown STORE " + strconv.Quote(kind))
	}

	cacheTTL, err := config.Duration("POLICY_CACHE_TTL", 30*time.Second)
	if err != nil {
		panic(err)
	}
	if cacheTTL > 0 {
		policies = policy.NewCachedStore(policies, cacheTTL)
	}

	var rdb *redis.Client
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
		})
		defer func() { _ = rdb.Close() }()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	brokers := config.String("KAFKA_BROKERS", "")
	checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})

	notifier, closeNotifier := buildNotifier(logger, rdb, brokers)
	defer closeNotifier()

	workers, err := config.Int("NOTIFY_WORKERS", 4)
	if err != nil {
		panic(err)
	}
	queueSize, err := config.Int("NOTIFY_QUEUE", 256)
	if err != nil {
		panic(err)
	}
	notifyTimeout, err := config.Duration("NOTIFY_TIMEOUT", 10*time.Second)
	if err != nil {
		panic(err)
	}
	dispatcher := notify.NewDispatcher(notifier, logger, notify.DispatcherConfig{
		Workers:   workers,
		QueueSize: queueSize,
		Timeout:   notifyTimeout,
	})
	defer func() {
		drainCtx, cancel := runtime.ShutdownContext(ctx, 10*time.Second)
		defer cancel()
		if err := dispatcher.Close(drainCtx); err != nil {
			logger.Warn("notification drain incomplete", "err", err)
		}
	}()

	engine := booking.NewEngine(store, policies, logger, booking.WithNotifier(dispatcher))

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewBookingHandler(engine, logger).Register(mux)
	handlers.NewPolicyHandler(policies, logger).Register(mux)

	reqTimeout, err := config.Duration("REQUEST_TIMEOUT", 15*time.Second)
	if err != nil {
		panic(err)
	}
	middlewares := []httpx.Middleware{
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS"),
			ExposedHeaders:   []string{httpx.RequestIDHeader, "Idempotent-Replayed"},
			AllowCredentials: config.Bool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           10 * time.Minute,
		}),
		httpx.WithBodyLimit(1 << 20),
		httpx.WithTimeout(reqTimeout),
	}
	perMin, err := config.Int("RATE_LIMIT_PER_MIN", 0)
	if err != nil {
		panic(err)
	}
	if perMin > 0 {
		if rdb != nil {
			middlewares = append(middlewares, httpx.NewRedisRateLimiter(rdb, perMin, time.Minute, "booking-rl", httpx.TenantKey).Middleware(logger, true))
		} else {
			middlewares = append(middlewares, httpx.NewRateLimiter(perMin, time.Minute, httpx.TenantKey).Middleware())
		}
	}
	httpHandler := httpx.Chain(mux, middlewares...)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcServer, health := grpcx.NewServer(logger)
	grpcx.SetServing(health, true, "booking")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+grpcPort)
		if err != nil {
			return err
		}
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		grpcx.SetServing(health, false, "booking")
		shutdownCtx, cancel := runtime.ShutdownContext(gctx, 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
	logger.Info("servers stopped")
}

// buildNotifier assembles the customer-facing senders behind a per-recipient
// throttle, plus the Kafka event publisher when brokers are configured.
func buildNotifier(logger *slog.Logger, rdb *redis.Client, brokers string) (notify.Notifier, func()) {
	var customer notify.Multi
	switch provider := config.String("SMS_PROVIDER", "noop"); provider {
	case "webhook":
		perSec, err := strconv.ParseFloat(config.String("SMS_RATE_PER_SEC", "5"), 64)
		if err != nil {
			logger.Warn("invalid SMS_RATE_PER_SEC, using default", "err", err)
			perSec = 5
		}
		customer = append(customer, notify.NewSMSNotifier(
			config.String("SMS_WEBHOOK_URL", ""),
			config.String("SMS_WEBHOOK_TOKEN", ""),
			perSec,
		))
	case "noop":
	default:
		logger.Warn("unknown SMS_PROVIDER, sms disabled", "provider", provider)
	}
	if host := config.String("SMTP_HOST", ""); host != "" {
		customer = append(customer, notify.NewEmailNotifier(host, config.String("SMTP_PORT", "1025"), config.String("SMTP_FROM", "")))
	}

	var all notify.Multi
	if len(customer) > 0 {
		limit, err := config.Int("THROTTLE_LIMIT", 5)
		if err != nil {
			panic(err)
		}
		window, err := config.Duration("THROTTLE_WINDOW", time.Hour)
		if err != nil {
			panic(err)
		}
		var limiter throttle.Limiter = throttle.NewMemoryLimiter(limit, window)
		if rdb != nil {
			limiter = throttle.NewRedisLimiter(rdb, limit, window, "notify-throttle")
		}
		all = append(all, notify.WithThrottle(customer, limiter))
	}

	closer := func() {}
	if len(kafkax.SplitBrokers(brokers)) > 0 {
		pub := notify.NewKafkaPublisher(brokers, config.String("KAFKA_NOTIFY_TOPIC", ""))
		all = append(all, pub)
		closer = func() {
			if err := pub.Close(); err != nil {
				logger.Warn("kafka writer close failed", "err", err)
			}
		}
	}
	if len(all) == 0 {
		return notify.Noop{}, closer
	}
	return all, closer
}
