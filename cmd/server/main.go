package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"rotaclock/internal/attendance/handler"
	attendancemetrics "rotaclock/internal/attendance/metrics"
	"rotaclock/internal/attendance/seal"
	"rotaclock/internal/attendance/service"
	"rotaclock/internal/attendance/store/catalog"
	"rotaclock/internal/attendance/store/record"
	"rotaclock/internal/facility"
	facilitycache "rotaclock/internal/facility/cache"
	httpapi "rotaclock/internal/http"
	jwttoken "rotaclock/internal/jwt_token"
	"rotaclock/internal/platform/config"
	"rotaclock/internal/platform/httpserver"
	"rotaclock/internal/platform/logger"
	platformmetrics "rotaclock/internal/platform/metrics"
	"rotaclock/internal/platform/postgres"
	"rotaclock/internal/platform/redis"
	"rotaclock/internal/ratelimit"
	ratelimitstore "rotaclock/internal/ratelimit/store"
	audit "rotaclock/pkg/platform/audit"
	"rotaclock/pkg/platform/audit/publishers/compliance"
	"rotaclock/pkg/platform/audit/publishers/ops"
	"rotaclock/pkg/platform/audit/relay"
	auditmemory "rotaclock/pkg/platform/audit/store/memory"
	auditpostgres "rotaclock/pkg/platform/audit/store/postgres"
	"rotaclock/pkg/platform/circuit"
)

// catalogStore is what the engine, the facility directory and the counter
// need from the catalog backend.
type catalogStore interface {
	service.Catalog
	service.StudentCounter
	facility.SiteLister
}

// backend is the storage selected at startup.
type backend struct {
	catalog   catalogStore
	records   service.RecordStore
	tx        service.AttendanceStoreTx
	audit     audit.Store
	outbox    relay.Outbox
	seeder    catalogSeeder
	readiness []httpapi.Option
	closers   []func() error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		for i := len(be.closers) - 1; i >= 0; i-- {
			_ = be.closers[i]()
		}
	}()

	if cfg.Attendance.SeedDemo {
		if err := seedDemo(ctx, be.seeder, time.Now()); err != nil {
			return err
		}
		log.Info("demo catalog seeded", zap.String("student_id", demoStudentID), zap.String("site_id", demoSiteID))
	}

	sealer, err := seal.New(cfg.Attendance.SealKey)
	if err != nil {
		return fmt.Errorf("build sealer: %w", err)
	}

	lookup, redisClient, err := buildFacilityLookup(ctx, cfg, be.catalog, reg, log)
	if err != nil {
		return err
	}
	if redisClient != nil {
		log.Info("redis connected", zap.String("addr", redisClient.Addr()))
		be.closers = append(be.closers, redisClient.Close)
		be.readiness = append(be.readiness, httpapi.WithReadinessCheck("redis", redisClient.Health))
	}

	publisher := compliance.New(be.audit,
		compliance.WithLogger(log),
		compliance.WithMetrics(compliance.NewMetrics(reg)),
	)
	tracker := ops.NewTracker(be.audit,
		ops.WithLogger(log),
		ops.WithMetrics(ops.NewMetrics(reg)),
	)

	svc := service.New(be.catalog, be.records, be.tx, sealer,
		service.WithLogger(log),
		service.WithMetrics(attendancemetrics.New(reg)),
		service.WithAuditPublisher(publisher),
		service.WithRejectionTracker(tracker),
		service.WithFacilityLookup(lookup, cfg.Attendance.FacilityTimeout),
	)

	handlerOpts := []handler.Option{
		handler.WithMetrics(platformmetrics.New(reg)),
		handler.WithRequestTimeout(cfg.Server.RequestTimeout),
		handler.WithClockRateLimit(
			buildRateLimiter(redisClient, reg, log),
			cfg.Attendance.ClockRateLimit,
			cfg.Attendance.ClockRateWindow,
		),
	}
	if cfg.Auth.SigningKey != "" {
		jwtService := jwttoken.NewJWTService(cfg.Auth.SigningKey, cfg.Auth.Issuer)
		handlerOpts = append(handlerOpts, handler.WithAuth(jwttoken.NewJWTServiceAdapter(jwtService)))
		if cfg.Attendance.SeedDemo && !cfg.IsProduction() {
			logDemoTokens(log, jwtService)
		}
	} else {
		log.Warn("authentication disabled: AUTH_SIGNING_KEY is empty")
	}

	router := httpapi.NewRouter(
		[]httpapi.Registrar{handler.New(svc, log, handlerOpts...)},
		append(be.readiness, httpapi.WithMetrics(reg))...,
	)
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting rotaclock", zap.String("addr", cfg.Server.Addr), zap.String("env", cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if be.outbox != nil && len(cfg.Kafka.Brokers) > 0 {
		client, err := startRelay(gctx, g, cfg.Kafka, be.outbox, reg, log)
		if err != nil {
			return err
		}
		defer client.Close()
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}
		if err := svc.Drain(shutdownCtx); err != nil {
			log.Warn("facility enrichment did not drain", zap.Error(err))
		}
		if err := tracker.Close(shutdownCtx); err != nil {
			log.Warn("rejection tracker did not drain", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("rotaclock stopped")
	return nil
}

// openBackend selects Postgres when DATABASE_URL is set and in-memory
// stores otherwise.
func openBackend(ctx context.Context, cfg config.Config, log *zap.Logger) (*backend, error) {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL is empty; using in-memory stores")
		cat := catalog.NewInMemory()
		records := record.NewInMemory()
		return &backend{
			catalog: cat,
			records: records,
			tx:      service.NewShardedTx(records, cat, cfg.Attendance.TxTimeout),
			audit:   auditmemory.NewInMemoryStore(),
			seeder:  memorySeeder{store: cat},
		}, nil
	}

	db, err := postgres.Open(ctx, cfg.Database.URL, postgres.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	cipher, err := record.NewCoordinateCipher(cfg.Attendance.CoordinateKey)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("build coordinate cipher: %w", err)
	}
	cat := catalog.NewPostgres(db)
	records := record.NewPostgres(db, cipher)
	outbox := auditpostgres.New(db)

	return &backend{
		catalog:   cat,
		records:   records,
		tx:        newAttendancePostgresTx(db, service.TxStores{Records: records, Students: cat}, cfg.Attendance.TxTimeout),
		audit:     outbox,
		outbox:    outbox,
		seeder:    cat,
		readiness: []httpapi.Option{httpapi.WithReadinessCheck("postgres", pinger(db))},
		closers:   []func() error{db.Close},
	}, nil
}

func pinger(db *sql.DB) httpapi.ReadinessCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}

// buildFacilityLookup resolves facilities from the site directory behind a
// breaker, caching in Redis when configured and in memory otherwise.
func buildFacilityLookup(ctx context.Context, cfg config.Config, sites facility.SiteLister, reg prometheus.Registerer, log *zap.Logger) (*facility.Lookup, *redis.Client, error) {
	redisClient, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	var cache facility.Cache = facilitycache.NewMemory()
	if redisClient != nil {
		cache = facilitycache.NewRedis(redisClient.Client, "rotaclock:")
	}

	lookup := facility.New(facility.NewDirectory(sites, cfg.Attendance.FacilityRadius),
		facility.WithCache(cache, cfg.Attendance.FacilityCacheTTL),
		facility.WithBreaker(circuit.New("facility")),
		facility.WithLogger(log),
		facility.WithMetrics(facility.NewMetrics(reg)),
	)
	return lookup, redisClient, nil
}

// buildRateLimiter shares clock limits through Redis when it is configured so
// that replicas enforce one budget per caller.
func buildRateLimiter(redisClient *redis.Client, reg prometheus.Registerer, log *zap.Logger) *ratelimit.Middleware {
	var store ratelimit.Store = ratelimitstore.NewInMemory()
	if redisClient != nil {
		store = ratelimitstore.NewRedis(redisClient.Client, "rotaclock:rl:")
	}
	return ratelimit.New(store,
		ratelimit.WithLogger(log),
		ratelimit.WithMetrics(ratelimit.NewMetrics(reg)),
	)
}

func startRelay(ctx context.Context, g *errgroup.Group, cfg config.Kafka, outbox relay.Outbox, reg prometheus.Registerer, log *zap.Logger) (*kgo.Client, error) {
	client, err := relay.NewClient(cfg.Brokers, cfg.AuditTopic)
	if err != nil {
		return nil, fmt.Errorf("build kafka client: %w", err)
	}
	if err := relay.EnsureTopic(ctx, client, cfg.AuditTopic, 3, 1); err != nil {
		log.Warn("could not ensure audit topic", zap.String("topic", cfg.AuditTopic), zap.Error(err))
	}

	r := relay.New(outbox, client, cfg.AuditTopic,
		relay.WithBatchSize(cfg.RelayBatch),
		relay.WithInterval(cfg.RelayInterval),
		relay.WithLogger(log),
		relay.WithMetrics(relay.NewMetrics(reg)),
	)
	g.Go(func() error {
		if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	log.Info("outbox relay started", zap.Strings("brokers", cfg.Brokers), zap.String("topic", cfg.AuditTopic))
	return client, nil
}

func logDemoTokens(log *zap.Logger, jwtService *jwttoken.JWTService) {
	for _, who := range []struct{ subject, role string }{
		{demoStudentID, jwttoken.RoleStudent},
		{"demo-coordinator", jwttoken.RoleCoordinator},
	} {
		token, err := jwtService.GenerateAccessToken(who.subject, who.role, 24*time.Hour)
		if err != nil {
			log.Warn("could not mint demo token", zap.Error(err))
			continue
		}
		log.Info("demo token", zap.String("subject", who.subject), zap.String("role", who.role), zap.String("token", token))
	}
}
