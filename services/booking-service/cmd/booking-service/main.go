package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/barberbook/libs/config"
	"github.com/md-rashed-zaman/barberbook/libs/db"
	"github.com/md-rashed-zaman/barberbook/libs/httpx"
	"github.com/md-rashed-zaman/barberbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/barberbook/libs/otel"
	"github.com/md-rashed-zaman/barberbook/libs/redisx"
	"github.com/md-rashed-zaman/barberbook/libs/runtime"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/memstore"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/sweeper"
	"github.com/md-rashed-zaman/barberbook/services/booking-service/internal/waitlist"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type settings struct {
	port            string
	storeDriver     string
	lockMode        string
	brokers         string
	groupID         string
	horizon         time.Duration
	leadTime        time.Duration
	rateLimit       int
	requestTimeout  time.Duration
	bodyLimit       int
	sweepSchedule   string
	waitlistQueue   int
	dbMaxConns      int
	redisDB         int
	redisLockPrefix string
	consumerRetry   time.Duration
}

func loadSettings() (settings, error) {
	var (
		s   settings
		err error
	)
	if s.port, err = config.Port("PORT", "8083"); err != nil {
		return s, err
	}
	s.storeDriver = strings.ToLower(config.String("STORE_DRIVER", "postgres"))
	s.lockMode = strings.ToLower(config.String("BOOKING_LOCK", "none"))
	s.brokers = config.String("KAFKA_BROKERS", "")
	s.groupID = config.String("KAFKA_GROUP_ID", "booking-service")
	s.sweepSchedule = config.String("SWEEP_SCHEDULE", sweeper.DefaultSchedule)
	s.redisLockPrefix = config.String("REDIS_LOCK_PREFIX", "booking:lock")
	if s.horizon, err = config.Duration("BOOKING_HORIZON", booking.DefaultHorizon); err != nil {
		return s, err
	}
	if s.leadTime, err = config.Duration("BOOKING_LEAD_TIME", 0); err != nil {
		return s, err
	}
	if s.rateLimit, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return s, err
	}
	if s.requestTimeout, err = config.Duration("REQUEST_TIMEOUT", 10*time.Second); err != nil {
		return s, err
	}
	if s.bodyLimit, err = config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20); err != nil {
		return s, err
	}
	if s.waitlistQueue, err = config.Int("WAITLIST_QUEUE_SIZE", waitlist.DefaultQueueSize); err != nil {
		return s, err
	}
	if s.dbMaxConns, err = config.Int("DB_MAX_CONNS", 0); err != nil {
		return s, err
	}
	if s.redisDB, err = config.Int("REDIS_DB", 0); err != nil {
		return s, err
	}
	if s.consumerRetry, err = config.Duration("KAFKA_RETRY_MAX_ELAPSED", consumer.DefaultMaxRetryElapsed); err != nil {
		return s, err
	}
	switch s.storeDriver {
	case "postgres", "memory":
	default:
		return s, fmt.Errorf("STORE_DRIVER must be postgres or memory (got %q)", s.storeDriver)
	}
	switch s.lockMode {
	case "none", "local", "redis":
	default:
		return s, fmt.Errorf("BOOKING_LOCK must be none, local or redis (got %q)", s.lockMode)
	}
	return s, nil
}

// stores is what the selected driver provides to the engine.
type stores struct {
	appointments booking.Store
	catalog      booking.Catalog
	waitlist     waitlist.Store
	inbox        consumer.Inbox
	pool         *db.Pool
	outboxRepo   *outbox.Repository
}

func openStores(ctx context.Context, s settings, logger *slog.Logger) (stores, error) {
	if s.storeDriver == "memory" {
		mem := memstore.New()
		if err := seedDemo(mem); err != nil {
			return stores{}, err
		}
		logger.Warn("using in-memory store; data is lost on restart")
		return stores{
			appointments: mem,
			catalog:      mem,
			waitlist:     mem.Waitlist(),
			inbox:        inbox.NewMemory(0),
		}, nil
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return stores{}, err
	}
	pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(s.dbMaxConns)})
	if err != nil {
		return stores{}, fmt.Errorf("db connection failed: %w", err)
	}
	outboxRepo := outbox.NewRepository()
	return stores{
		appointments: storage.NewAppointmentRepository(pool, outboxRepo),
		catalog:      storage.NewScheduleRepository(pool),
		waitlist:     storage.NewWaitlistRepository(pool, outboxRepo),
		inbox:        inbox.NewRepository(pool),
		pool:         pool,
		outboxRepo:   outboxRepo,
	}, nil
}

func main() {
	if err := config.LoadDotenv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	logger := runtime.NewLogger(service)

	s, err := loadSettings()
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		panic(err)
	}

	ctx, stop := runtime.SignalContext(logger)
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

	st, err := openStores(ctx, s, logger)
	if err != nil {
		logger.Error("store setup failed", "err", err)
		panic(err)
	}
	defer st.pool.Close()

	rdb, err := redisx.Open(ctx, redisx.Options{
		Addr:     config.String("REDIS_ADDR", ""),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       s.redisDB,
	})
	if err != nil {
		logger.Error("redis connection failed", "err", err)
		panic(err)
	}
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	bookingMetrics := metrics.NewBookingMetrics(prometheus.DefaultRegisterer)
	opts := []booking.Option{booking.WithMetrics(bookingMetrics)}
	switch s.lockMode {
	case "local":
		opts = append(opts, booking.WithLocker(lock.NewLocal()))
	case "redis":
		if rdb == nil {
			panic(errors.New("BOOKING_LOCK=redis requires REDIS_ADDR"))
		}
		opts = append(opts, booking.WithLocker(lock.NewRedis(rdb, lock.RedisConfig{Prefix: s.redisLockPrefix}, logger)))
	}

	bookingSvc := booking.NewService(st.appointments, st.catalog, logger, booking.Config{
		Horizon:  s.horizon,
		LeadTime: s.leadTime,
	}, opts...)
	manager := waitlist.NewManager(st.waitlist, bookingSvc, st.catalog, logger,
		waitlist.WithMetrics(bookingMetrics),
		waitlist.WithLeadTime(s.leadTime),
	)
	bookingSvc.SetWaitlistHook(manager)

	g, gctx := errgroup.WithContext(ctx)

	// Cancellations reach the waitlist through Kafka when events are published there, otherwise
	// through the in-process dispatcher.
	if st.pool != nil && s.brokers != "" {
		publisher := outbox.NewPublisher(st.pool, st.outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   s.brokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		g.Go(func() error { return publisher.Run(gctx) })

		promotions := consumer.New(logger, st.inbox, consumer.Config{
			Brokers:         s.brokers,
			GroupID:         s.groupID,
			Topic:           booking.EventAppointmentCancelled,
			MaxRetryElapsed: s.consumerRetry,
		}, consumer.PromoteOnCancel(manager, logger))
		g.Go(func() error { return promotions.Run(gctx) })
	} else {
		dispatcher := waitlist.NewDispatcher(manager, s.waitlistQueue, logger, bookingMetrics)
		bookingSvc.SetFreedListener(dispatcher)
		g.Go(func() error { return dispatcher.Run(gctx) })
	}

	sweep, err := sweeper.New(bookingSvc, s.sweepSchedule, logger)
	if err != nil {
		logger.Error("invalid sweep schedule", "err", err)
		panic(err)
	}
	g.Go(func() error { return sweep.Run(gctx) })

	checks := []runtime.ReadyCheck{}
	if st.pool != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(st.pool)})
	}
	if s.brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(s.brokers)})
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("/metrics", promhttp.Handler())
	handlers.NewBookingHandler(bookingSvc, manager, logger, booking.DefaultRetryPolicy()).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		rateLimit(rdb, s.rateLimit, logger),
		httpx.WithTimeout(s.requestTimeout),
		httpx.WithBodyLimit(int64(s.bodyLimit)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr, "store", s.storeDriver, "lock", s.lockMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("booking service stopped with error", "err", err)
	}
	logger.Info("http server stopped")
}

// rateLimit shares counters through Redis when it is configured.
func rateLimit(rdb *redis.Client, perMinute int, logger *slog.Logger) httpx.Middleware {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if rdb != nil {
		return httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, "booking:ratelimit").Middleware(logger, true)
	}
	return httpx.NewRateLimiter(perMinute, time.Minute).Middleware()
}
