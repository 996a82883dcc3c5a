// Command pipelined runs the market-data pipeline daemon: per-domain log
// consumers, the storage sinks, and the client gateway, all in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/alphafeed/marketpipe/internal/config"
	"github.com/alphafeed/marketpipe/internal/dedup"
	"github.com/alphafeed/marketpipe/internal/domain"
	"github.com/alphafeed/marketpipe/internal/enrich"
	"github.com/alphafeed/marketpipe/internal/feedbus"
	"github.com/alphafeed/marketpipe/internal/gateway"
	"github.com/alphafeed/marketpipe/internal/logging"
	"github.com/alphafeed/marketpipe/internal/obs"
	"github.com/alphafeed/marketpipe/internal/pipeline"
	"github.com/alphafeed/marketpipe/internal/quarantine"
	"github.com/alphafeed/marketpipe/internal/ratelimit"
	"github.com/alphafeed/marketpipe/internal/refdata"
	"github.com/alphafeed/marketpipe/internal/sink"
	"github.com/alphafeed/marketpipe/transport"

	// Transports register themselves with the default registry.
	_ "github.com/alphafeed/marketpipe/transport/channel"
	_ "github.com/alphafeed/marketpipe/transport/jetstream"
	_ "github.com/alphafeed/marketpipe/transport/kafka"
	_ "github.com/alphafeed/marketpipe/transport/nats"
)

const (
	storageTimeout = 5 * time.Second

	// latestTTL bounds how long a stale "latest quote" survives in Redis when
	// a symbol stops trading.
	latestTTL = 24 * time.Hour
)

func main() {
	configPath := flag.String("config", "", "path to an optional yaml config file")
	flag.Parse()

	logger := logging.Default()
	if err := run(context.Background(), *configPath, logger); err != nil &&
		!errors.Is(err, context.Canceled) {
		logger.Error("pipelined exited", err, nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, logger logging.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger.Info("configuration loaded", logging.Fields{"config": cfg.String()})

	metrics := obs.NewMetrics(nil)
	if err := metrics.Register(); err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	// Raw-topic consumption acks only after the durable write; a backend
	// without ordering and explicit acks would silently lose that checkpoint.
	if err := transport.EnsureSuitsPartitionedLog(cfg.PubSubSystem); err != nil {
		return err
	}
	tr, err := transport.Build(ctx, cfg, logging.NewWatermillAdapter(logger))
	if err != nil {
		return fmt.Errorf("building %q transport: %w", cfg.PubSubSystem, err)
	}

	if cfg.PostgresURL == "" {
		return errors.New("postgres-url is required")
	}
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	deps, cache, err := buildPipelineDeps(ctx, cfg, pool, rdb, metrics, logger)
	if err != nil {
		return err
	}
	deps.Publisher = tr.Publisher

	provider, err := loadRefData(cfg, logger)
	if err != nil {
		return err
	}
	registry := enrich.DefaultRegistry(provider, enrich.Bounds{
		ClockSkewTolerance: cfg.ClockSkewTolerance,
		Staleness:          cfg.StalenessBound,
	}, enrich.IndicatorWindows{})

	domains, err := parseDomains(cfg.Domains)
	if err != nil {
		return err
	}
	group, err := pipeline.NewGroup(domains, tr.Subscriber, registry, deps, cfg.BatchSize, cfg.FlushInterval)
	if err != nil {
		return fmt.Errorf("building pipeline: %w", err)
	}

	var limiter ratelimit.Limiter
	if rdb != nil {
		limiter = ratelimit.NewRedis(rdb, cfg.QuotaPerWindow, cfg.QuotaWindow)
	} else {
		limiter = ratelimit.NewMemory(cfg.QuotaPerWindow, cfg.QuotaWindow)
	}
	manager := gateway.NewManager(deps.Bus, limiter, metrics, logger)
	server := gateway.NewServer(
		gateway.NewPostgresQuotes(pool),
		cache,
		manager,
		gateway.NewAuthenticator(cfg.APIKeys, cfg.ClockSkewTolerance),
		logger,
	)

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return group.Run(ctx)
	})

	eg.Go(func() error {
		return serveHTTP(ctx, &http.Server{Addr: cfg.GatewayAddr, Handler: server}, "gateway", logger)
	})

	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		eg.Go(func() error {
			return serveHTTP(ctx, &http.Server{Addr: addr, Handler: mux}, "metrics", logger)
		})
	}

	logger.Info("pipelined started", logging.Fields{
		"transport": cfg.PubSubSystem,
		"domains":   fmt.Sprintf("%v", domains),
		"gateway":   cfg.GatewayAddr,
	})
	return eg.Wait()
}

// buildPipelineDeps wires the storage-facing collaborators. Redis and S3 are
// optional; Postgres carries the durable state either way.
func buildPipelineDeps(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client, metrics *obs.Metrics, logger logging.Logger) (pipeline.Deps, gateway.LatestCache, error) {
	writers := []sink.Writer{sink.NewPostgres(pool, storageTimeout)}

	var (
		dedupStore dedup.Store
		cache      gateway.LatestCache
	)
	if rdb != nil {
		latest := sink.NewRedisLatest(rdb, latestTTL)
		writers = append(writers, latest)
		cache = latest
		dedupStore = dedup.NewRedis(rdb, cfg.DedupWindow)
	} else {
		dedupStore = dedup.NewMemory(cfg.DedupWindow)
	}

	retrying := sink.NewRetrying(sink.NewMulti(writers...), sink.RetryPolicy{
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		MaxElapsedTime:  cfg.RetryMaxElapsedTime,
		MaxTries:        cfg.RetryMaxTries,
	}, logger)
	retrying.OnExhausted = func(sinkName string, _ error) {
		metrics.RecordRetryExhausted(sinkName)
	}

	var archive sink.BlobArchiver
	if cfg.S3Bucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
		if err != nil {
			return pipeline.Deps{}, nil, fmt.Errorf("loading aws config: %w", err)
		}
		archive = sink.NewS3Archive(s3.NewFromConfig(awsCfg), cfg.S3Bucket)
	}

	bus := feedbus.New(cfg.SubscriberQueueCap)
	bus.OnDrop = metrics.RecordQueueDrop

	return pipeline.Deps{
		Dedup:      dedupStore,
		Quarantine: quarantine.NewPostgres(pool, storageTimeout),
		Sink:       retrying,
		Archive:    archive,
		Bus:        bus,
		Metrics:    metrics,
		Logger:     logger,
	}, cache, nil
}

// loadRefData seeds the enrichment provider from the configured file. An
// empty path yields an empty provider, which quarantines every quote and
// financial whose enrichment needs a lookup, so it is loudly logged.
func loadRefData(cfg *config.Config, logger logging.Logger) (refdata.Provider, error) {
	if cfg.RefDataPath == "" {
		logger.Error("no refdata-path configured, enrichment lookups will quarantine",
			errors.New("reference data missing"), nil)
		return refdata.NewStatic(), nil
	}
	provider, err := refdata.LoadFile(cfg.RefDataPath)
	if err != nil {
		return nil, fmt.Errorf("loading reference data: %w", err)
	}
	logger.Info("reference data loaded", logging.Fields{"path": cfg.RefDataPath})
	return provider, nil
}

func parseDomains(names []string) ([]domain.Domain, error) {
	domains := make([]domain.Domain, 0, len(names))
	for _, name := range names {
		d := domain.Domain(name)
		if !d.Valid() {
			return nil, fmt.Errorf("unknown domain %q", name)
		}
		domains = append(domains, d)
	}
	return domains, nil
}

func serveHTTP(ctx context.Context, srv *http.Server, name string, logger logging.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	logger.Info(name+" server listening", logging.Fields{"addr": srv.Addr})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown: %w", name, err)
		}
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("%s server: %w", name, err)
	}
}
