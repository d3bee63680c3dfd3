package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/codereport/db"
	"github.com/ahrav/codereport/internal/api"
	"github.com/ahrav/codereport/internal/api/auth"
	"github.com/ahrav/codereport/internal/api/debug"
	"github.com/ahrav/codereport/internal/api/mux"
	"github.com/ahrav/codereport/internal/api/routes"
	"github.com/ahrav/codereport/internal/app/ingest"
	"github.com/ahrav/codereport/internal/app/reports"
	"github.com/ahrav/codereport/internal/domain/archive"
	"github.com/ahrav/codereport/internal/domain/report"
	"github.com/ahrav/codereport/internal/generator"
	"github.com/ahrav/codereport/internal/infra/eventbus/kafka"
	"github.com/ahrav/codereport/internal/infra/eventbus/memory"
	"github.com/ahrav/codereport/internal/infra/github"
	memblob "github.com/ahrav/codereport/internal/infra/objectstore/memory"
	s3blob "github.com/ahrav/codereport/internal/infra/objectstore/s3"
	memstore "github.com/ahrav/codereport/internal/infra/storage/reports/memory"
	pgstore "github.com/ahrav/codereport/internal/infra/storage/reports/postgres"
	"github.com/ahrav/codereport/pkg/common"
	"github.com/ahrav/codereport/pkg/common/logger"
	"github.com/ahrav/codereport/pkg/common/otel"
)

// stores bundles the persistence chosen for this process.
type stores struct {
	reports report.Repository
	blobs   archive.BlobStore
	ping    mux.Pinger
	close   func()
}

func (a *app) serve(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	log, cfg := a.log, a.cfg

	// -------------------------------------------------------------------------
	// GOMAXPROCS
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0), "build", build)
	log.Debug(ctx, "startup", "config", cfg.String())

	// -------------------------------------------------------------------------
	// Start Tracing Support
	log.Info(ctx, "startup", "status", "initializing tracing support")

	providers, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Otel.ServiceName,
		ExporterEndpoint: cfg.Otel.Endpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/liveness":  {},
		},
		Probability: cfg.Otel.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"k8s.pod.name":     os.Getenv("POD_NAME"),
			"k8s.namespace":    os.Getenv("POD_NAMESPACE"),
			"k8s.container.id": a.hostname,
		},
		InsecureExporter: cfg.Otel.Insecure,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(context.Background())

	tracer := providers.Tracer.Tracer(cfg.Otel.ServiceName)

	// -------------------------------------------------------------------------
	// Storage
	st, err := a.openStores(ctx, tracer)
	if err != nil {
		return err
	}
	defer st.close()

	// -------------------------------------------------------------------------
	// Event publishing
	var publisher report.EventPublisher
	if len(cfg.Kafka.Brokers) == 0 {
		log.Info(ctx, "startup", "status", "no kafka brokers configured, status events stay in process")

		broker := memory.NewBroker()
		if err := broker.Subscribe(ctx, func(ctx context.Context, evt report.StatusChangedEvent) error {
			log.Debug(ctx, "status changed", "task_id", evt.TaskID, "status", evt.Status)
			return nil
		}); err != nil {
			return fmt.Errorf("subscribing status logger: %w", err)
		}
		publisher = broker
	} else {
		log.Info(ctx, "startup", "status", "connecting status event publisher", "brokers", cfg.Kafka.Brokers)

		pubMetrics, err := kafka.NewMetrics(providers.Meter)
		if err != nil {
			return fmt.Errorf("creating publisher metrics: %w", err)
		}
		kp, err := kafka.ConnectWithRetry(&kafka.Config{
			Brokers:  cfg.Kafka.Brokers,
			ClientID: cfg.Kafka.ClientID,
			Topic:    cfg.Kafka.Topic,
		}, time.Minute, log, pubMetrics, tracer)
		if err != nil {
			return fmt.Errorf("connecting status event publisher: %w", err)
		}
		defer kp.Close()
		publisher = kp
	}

	// -------------------------------------------------------------------------
	// Report generation
	catalog, err := loadCatalog(cfg.Reports.CatalogPath)
	if err != nil {
		return err
	}
	generators := generator.New(catalog, generator.WithDelayScale(cfg.Reports.DelayScale))

	reportMetrics, err := reports.NewMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating report metrics: %w", err)
	}

	orchestrator := reports.NewOrchestrator(st.reports, generators, log, tracer,
		reports.WithGenerationTimeout(cfg.Reports.GenerationTimeout),
		reports.WithRecoveryTimeout(cfg.Reports.RecoveryTimeout),
		reports.WithShutdownGrace(cfg.Reports.ShutdownGrace),
		reports.WithPublisher(publisher),
		reports.WithMetrics(reportMetrics),
	)

	fetcher := github.NewClient(github.Config{
		Token:           cfg.GitHub.Token,
		Timeout:         cfg.GitHub.Timeout,
		MaxArchiveBytes: cfg.GitHub.MaxArchiveBytes,
		RequestsPerSec:  cfg.GitHub.RequestsPerSec,
		Burst:           cfg.GitHub.Burst,
	}, log, tracer)

	ingestSvc := ingest.NewService(st.blobs, fetcher, orchestrator, cfg.Web.MaxUploadBytes, log, tracer)

	// -------------------------------------------------------------------------
	// Start Debug Service

	go func() {
		log.Info(ctx, "startup", "status", "debug router started", "host", cfg.Web.DebugHost)

		if err := http.ListenAndServe(cfg.Web.DebugHost, debug.Mux()); err != nil {
			log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.Web.DebugHost, "msg", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Start API Service

	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	apiMetrics, err := api.NewAPIMetrics(providers.Meter)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	var authn *auth.Auth
	if cfg.Auth.Enabled {
		if authn, err = auth.New(auth.Config{
			HS256Secret:    cfg.Auth.HS256Secret,
			RS256PublicKey: cfg.Auth.RS256PublicKey,
			Issuer:         cfg.Auth.Issuer,
			Audience:       cfg.Auth.Audience,
		}); err != nil {
			return fmt.Errorf("configuring authentication: %w", err)
		}
	}

	if logger.ParseLevel(cfg.Log.Level) != logger.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize centralized mux configuration with all dependencies.
	cfgMux := mux.Config{
		Build:          build,
		ServiceName:    cfg.Otel.ServiceName,
		Log:            log,
		DB:             st.ping,
		Ingest:         ingestSvc,
		Reports:        orchestrator,
		MaxUploadBytes: cfg.Web.MaxUploadBytes,
		Metrics:        apiMetrics,
		Auth:           authn,
	}

	// Create the web API with all routes and middleware.
	webAPI := mux.WebAPI(cfgMux,
		routes.Routes(),
		mux.WithCORS(cfg.Web.CORSAllowedOrigins),
	)

	// Configure and start the API server.
	apiServer := http.Server{
		Addr:         cfg.Web.APIHost,
		Handler:      webAPI,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     logger.NewStdLogger(log, logger.LevelError),
	}

	serverErrors := make(chan error, 1)

	go func() {
		log.Info(ctx, "startup", "status", "api router started", "host", apiServer.Addr)
		serverErrors <- apiServer.ListenAndServe()
	}()

	// -------------------------------------------------------------------------
	// Shutdown

	select {
	case err := <-serverErrors:
		shutdownRuns(ctx, log, orchestrator, cfg.Web.ShutdownTimeout)
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.Web.ShutdownTimeout)
		defer cancel()

		// Stop taking uploads first so no new runs start while draining.
		if err := apiServer.Shutdown(ctx); err != nil {
			_ = apiServer.Close()
			log.Error(ctx, "shutdown", "status", "could not stop server gracefully", "err", err)
		}

		shutdownRuns(ctx, log, orchestrator, cfg.Web.ShutdownTimeout)
	}

	return nil
}

// shutdownRuns drains background report runs for up to timeout. Runs still
// going after that are cancelled and recorded as ERROR.
func shutdownRuns(ctx context.Context, log *logger.Logger, o *reports.Orchestrator, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := o.Shutdown(ctx); err != nil {
		log.Error(ctx, "shutdown", "status", "background runs did not drain", "err", err)
	}
}

func (a *app) openStores(ctx context.Context, tracer trace.Tracer) (*stores, error) {
	log, cfg := a.log, a.cfg

	if cfg.Dev {
		log.Warn(ctx, "startup", "status", "dev mode: using in-memory report and archive stores")

		mem := memstore.NewReportStore()
		return &stores{
			reports: mem,
			blobs:   memblob.New(cfg.S3.Bucket),
			ping:    mem,
			close:   func() {},
		}, nil
	}

	log.Info(ctx, "startup", "status", "connecting to database")

	pool, err := a.connectDB(ctx)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	log.Info(ctx, "startup", "status", "connecting to object store", "bucket", cfg.S3.Bucket)

	blobs, err := s3blob.New(ctx, s3blob.Config{
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		Bucket:          cfg.S3.Bucket,
	}, tracer)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating object store: %w", err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring bucket %s: %w", cfg.S3.Bucket, err)
	}

	return &stores{
		reports: pgstore.NewReportStore(pool, tracer),
		blobs:   blobs,
		ping:    pool,
		close:   pool.Close,
	}, nil
}

// connectDB opens the pool and waits for the database to accept
// connections.
func (a *app) connectDB(ctx context.Context) (*pgxpool.Pool, error) {
	log, cfg := a.log, a.cfg

	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MinConns = cfg.DB.MinConns
	poolCfg.MaxConns = cfg.DB.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	onRetry := func(err error, next time.Duration) {
		log.Warn(ctx, "startup", "status", "database not ready, retrying", "err", err, "next_attempt", next)
	}

	return common.ConnectWithRetry(ctx, cfg.DB.ConnectMaxElapsed, onRetry, func(ctx context.Context) (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("creating db pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}
		return pool, nil
	})
}

func loadCatalog(path string) (*generator.Catalog, error) {
	if path == "" {
		return generator.DefaultCatalog()
	}

	c, err := generator.LoadCatalogFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading generator catalog: %w", err)
	}
	return c, nil
}
