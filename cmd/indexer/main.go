package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/alert"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/api"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/cache"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain/ratelimit"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain/solana"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/chain/solana/rpc"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/circuitbreaker"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/config"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/domain/model"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/metrics"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/classifier"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/health"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/retry"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/scanner"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/pipeline/scheduler"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/points"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/store/postgres"
	redispkg "github.com/DianaV2002/nft-evo-tickets-sub000/internal/store/redis"
	"github.com/DianaV2002/nft-evo-tickets-sub000/internal/tracing"
)

const (
	serviceName = "evo-levels-indexer"
	// shutdownGrace bounds how long an in-flight scan cycle may finish after a signal.
	shutdownGrace = 30 * time.Second
)

type dbStatsProvider interface {
	Stats() sql.DBStats
}

type dbPoolStatsGauges struct {
	open         prometheus.Gauge
	inUse        prometheus.Gauge
	idle         prometheus.Gauge
	waitCount    prometheus.Gauge
	waitDuration prometheus.Gauge
}

func collectDBPoolStats(db dbStatsProvider, gauges dbPoolStatsGauges) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("db pool stats collection panicked: %v", r)
		}
	}()
	if db == nil {
		return fmt.Errorf("db stats provider is nil")
	}

	stats := db.Stats()
	gauges.open.Set(float64(stats.OpenConnections))
	gauges.inUse.Set(float64(stats.InUse))
	gauges.idle.Set(float64(stats.Idle))
	gauges.waitCount.Set(float64(stats.WaitCount))
	gauges.waitDuration.Set(stats.WaitDuration.Seconds())
	return nil
}

func startDBPoolStatsPump(ctx context.Context, db dbStatsProvider, intervalMS int, logger *slog.Logger) {
	if db == nil || intervalMS <= 0 {
		return
	}

	gauges := dbPoolStatsGauges{
		open:         metrics.DBPoolOpen,
		inUse:        metrics.DBPoolInUse,
		idle:         metrics.DBPoolIdle,
		waitCount:    metrics.DBPoolWaitCount,
		waitDuration: metrics.DBPoolWaitDurationSeconds,
	}

	ticker := time.NewTicker(time.Duration(intervalMS) * time.Millisecond)

	go func() {
		defer ticker.Stop()

		if err := collectDBPoolStats(db, gauges); err != nil {
			logger.Warn("failed to collect initial db pool stats", "error", err)
		}

		for {
			select {
			case <-ctx.Done():
				logger.Info("db pool stats sampler stopped", "cause", "context_done")
				return
			case <-ticker.C:
				if err := collectDBPoolStats(db, gauges); err != nil {
					logger.Warn("failed to collect db pool stats", "error", err)
				}
			}
		}
	}()
}

// maskCredentials hides userinfo and query parameters, which carry
// passwords and RPC provider API keys.
func maskCredentials(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	masked := u.Scheme + "://"
	if u.User != nil {
		masked += "***@"
	}
	masked += u.Host + u.Path
	if u.RawQuery != "" {
		masked += "?***"
	}
	return masked
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// buildAlerter returns a cooldown fan-out over the configured channels,
// or a no-op when none is configured.
func buildAlerter(cfg config.AlertConfig, logger *slog.Logger) alert.Alerter {
	var channels []alert.Alerter
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, alert.NewSlackAlerter(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		channels = append(channels, alert.NewWebhookAlerter(cfg.WebhookURL))
	}
	if len(channels) == 0 {
		return &alert.NoopAlerter{}
	}
	return alert.NewMultiAlerter(cfg.Cooldown, logger, channels...)
}

func newRPCBreaker(cfg config.ScannerConfig, logger *slog.Logger) *circuitbreaker.Breaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailures,
		OpenTimeout:      cfg.BreakerOpenTimeout,
		IsFailure: func(err error) bool {
			return retry.Classify(err).IsTransient()
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("rpc circuit breaker state changed", "from", from, "to", to)
		},
	})
}

type activityCatalog interface {
	MissingActivityTypes(ctx context.Context, kinds []model.ActivityTypeName) ([]model.ActivityTypeName, error)
}

// scannerEnabled decides whether the scanner may run. A missing program ID
// or catalog entries the classifier can emit keep it disabled; the API
// still serves in that case.
func scannerEnabled(ctx context.Context, cfg config.ScannerConfig, catalog activityCatalog, kinds []model.ActivityTypeName, logger *slog.Logger) bool {
	if !cfg.Enabled {
		logger.Warn("scanner disabled by configuration")
		return false
	}
	if cfg.ProgramID == "" {
		logger.Warn("PROGRAM_ID not set; scanner disabled")
		return false
	}
	missing, err := catalog.MissingActivityTypes(ctx, kinds)
	if err != nil {
		logger.Error("failed to verify activity catalog; scanner disabled", "error", err)
		return false
	}
	if len(missing) > 0 {
		logger.Error("activity catalog is missing classifier kinds; scanner disabled", "missing", missing)
		return false
	}
	return true
}

func main() {
	envFile := flag.String("env", ".env", "optional dotenv file loaded before reading the environment")
	resetCursor := flag.Bool("reset-cursor", false, "clear the scan cursor and exit")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)}))
	slog.SetDefault(logger)

	logger.Info("starting level system",
		"solana_rpc", maskCredentials(cfg.Solana.RPCURL),
		"solana_network", cfg.Solana.Network,
		"program_id", cfg.Scanner.ProgramID,
		"scan_interval", cfg.Scanner.Interval,
		"port", cfg.Server.Port,
	)

	tracingEndpoint := ""
	if cfg.Tracing.Enabled {
		tracingEndpoint = cfg.Tracing.Endpoint
	}
	shutdownTracing, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: serviceName,
		Endpoint:    tracingEndpoint,
		Insecure:    cfg.Tracing.Insecure,
		SampleRatio: cfg.Tracing.SampleRatio,
		Cluster:     cfg.Solana.Network.String(),
	})
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown error", "error", err)
		}
	}()
	if cfg.Tracing.Enabled {
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "sample_ratio", cfg.Tracing.SampleRatio)
	}

	db, err := postgres.New(postgres.Config{
		URL:                cfg.DB.URL,
		MaxOpenConns:       cfg.DB.MaxOpenConns,
		MaxIdleConns:       cfg.DB.MaxIdleConns,
		ConnMaxLifetime:    cfg.DB.ConnMaxLifetime,
		StatementTimeoutMS: cfg.DB.StatementTimeoutMS,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err, "db_url", maskCredentials(cfg.DB.URL))
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("connected to database")

	if err := db.RunMigrations(context.Background()); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	cursorRepo := postgres.NewCursorRepo(db)
	if *resetCursor {
		if err := cursorRepo.Reset(context.Background()); err != nil {
			logger.Error("failed to reset scan cursor", "error", err)
			os.Exit(1)
		}
		logger.Info("scan cursor reset; next cycle starts from the newest signatures")
		return
	}

	svc := points.NewService(postgres.NewUserRepo(db), postgres.NewActivityRepo(db), logger)
	alerter := buildAlerter(cfg.Alert, logger)

	network := cfg.Solana.Network
	limiter := ratelimit.NewLimiter(cfg.Solana.RPS, cfg.Solana.Burst, model.ChainSolana.String())
	adapter := solana.NewAdapter(cfg.Solana.RPCURL, logger,
		rpc.WithLimiter(limiter),
		rpc.WithTimeout(cfg.Solana.RequestTimeout),
	)
	cls := classifier.NewLogMarkerClassifier()

	scanHealth := health.NewScanHealth(network.String(), cfg.Scanner.ProgramID)
	enabled := scannerEnabled(context.Background(), cfg.Scanner, svc, cls.Kinds(), logger)
	if !enabled {
		scanHealth.MarkInactive()
	}

	scan := scanner.New(
		scanner.Config{
			ProgramID:      cfg.Scanner.ProgramID,
			Network:        network,
			SignatureLimit: cfg.Scanner.SignatureLimit,
			TxDelay:        cfg.Scanner.TxDelay,
			Retry: retry.Policy{
				MaxAttempts: cfg.Scanner.RetryMaxAttempts,
				BaseDelay:   cfg.Scanner.BackoffBase,
			},
			Enabled: enabled,
		},
		adapter, cls, svc, cursorRepo, logger,
		scanner.WithBreaker(newRPCBreaker(cfg.Scanner, logger)),
		scanner.WithSettledCache(cache.NewSignatureSet(cfg.Scanner.SettledCacheSize, cfg.Scanner.SettledCacheTTL)),
		scanner.WithAlerter(alerter),
	)

	schedOpts := []scheduler.Option{
		scheduler.WithHealth(scanHealth),
		scheduler.WithAlerter(alerter),
	}
	if cfg.Redis.URL != "" {
		locker, err := redispkg.NewLocker(cfg.Redis.URL, cfg.Redis.LockKey, cfg.Redis.LockTTL, redispkg.WithLockLogger(logger))
		if err != nil {
			logger.Error("failed to initialize scan lock", "error", err)
			os.Exit(1)
		}
		defer locker.Close()
		schedOpts = append(schedOpts, scheduler.WithLocker(locker))
		logger.Info("distributed scan lock enabled", "key", cfg.Redis.LockKey, "ttl", cfg.Redis.LockTTL)
	}
	sched := scheduler.New(scan, logger, schedOpts...)

	apiServer := api.NewServer(svc, network, logger,
		api.WithHealthProvider(scanHealth),
		api.WithAdminToken(cfg.Server.AdminToken),
	)
	rateLimit := api.NewRateLimitMiddleware(logger)
	defer rateLimit.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", api.CORS(cfg.Server.AllowedOrigins, rateLimit.Wrap(apiServer.Handler())))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runHTTPServer(gCtx, cfg.Server.Port, mux, logger)
	})

	// Cycles get their own context so a signal lets the current one finish.
	cycleCtx, cancelCycles := context.WithCancel(context.Background())
	defer cancelCycles()
	if err := sched.Start(cycleCtx, cfg.Scanner.Interval); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	g.Go(func() error {
		<-gCtx.Done()
		sched.Stop()
		drainScheduler(sched, cancelCycles, shutdownGrace, logger)
		return nil
	})

	startDBPoolStatsPump(gCtx, db.DB, cfg.DB.PoolStatsIntervalMS, logger)

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
			return nil
		case <-gCtx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("level system exited with error", "error", err)
		os.Exit(1)
	}

	logger.Info("level system shut down gracefully")
}

type waiter interface {
	Wait()
}

// drainScheduler waits for the in-flight cycle, cancelling it once grace elapses.
func drainScheduler(s waiter, cancelCycles context.CancelFunc, grace time.Duration, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn("scan cycle still running after grace period; cancelling", "grace", grace)
		cancelCycles()
		<-done
	}
}

func runHTTPServer(ctx context.Context, port int, handler http.Handler, logger *slog.Logger) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("http server shutdown error", "error", err)
		}
	}()

	logger.Info("http server started", "port", port)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
