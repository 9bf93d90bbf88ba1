package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/nickbhavsar22/GTM-audit/internal/api"
	"github.com/nickbhavsar22/GTM-audit/internal/api/debug"
	"github.com/nickbhavsar22/GTM-audit/internal/api/mux"
	"github.com/nickbhavsar22/GTM-audit/internal/api/routes"
	"github.com/nickbhavsar22/GTM-audit/internal/app/orchestration"
	"github.com/nickbhavsar22/GTM-audit/internal/config"
	"github.com/nickbhavsar22/GTM-audit/internal/domain/audit"
	"github.com/nickbhavsar22/GTM-audit/internal/infra/agents"
	"github.com/nickbhavsar22/GTM-audit/internal/infra/progress"
	auditStore "github.com/nickbhavsar22/GTM-audit/internal/infra/storage/audit/postgres"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/logger"
	"github.com/nickbhavsar22/GTM-audit/pkg/common/otel"
)

var build = "develop"

const serviceType = "audit-api"

func main() {
	// Set the correct number of threads for the service
	_, _ = maxprocs.Set()

	hostname, err := os.Hostname()
	if err != nil {
		stdlog.Fatalf("failed to get hostname: %v", err)
	}

	var log *logger.Logger

	logEvents := logger.Events{
		Error: func(ctx context.Context, r logger.Record) {
			errorAttrs := map[string]any{
				"error_message": r.Message,
				"error_time":    r.Time.UTC().Format(time.RFC3339),
				"trace_id":      otel.GetTraceID(ctx),
			}

			for k, v := range r.Attributes {
				errorAttrs[k] = v
			}

			errorAttrsJSON, err := json.Marshal(errorAttrs)
			if err != nil {
				fmt.Fprintf(os.Stderr, "failed to marshal error attributes: %v\n", err)
				return
			}

			fmt.Fprintf(os.Stderr, "Error event: %s, details: %s\n",
				r.Message, errorAttrsJSON)
		},
	}

	traceIDFn := func(ctx context.Context) string {
		return otel.GetTraceID(ctx)
	}

	svcName := fmt.Sprintf("AUDIT-API-%s", hostname)
	metadata := map[string]string{
		"service":  svcName,
		"hostname": hostname,
		"app":      serviceType,
	}

	log = logger.NewWithMetadata(os.Stdout, logger.LevelInfo, svcName, traceIDFn, logEvents, metadata)

	ctx := context.Background()

	if err := run(ctx, log, hostname); err != nil {
		log.Error(ctx, "startup", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger.Logger, hostname string) error {
	log.Info(ctx, "startup", "GOMAXPROCS", runtime.GOMAXPROCS(0))

	// -------------------------------------------------------------------------
	// Configuration

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// -------------------------------------------------------------------------
	// Database

	poolCfg, err := pgxpool.ParseConfig(cfg.PostgresDSN())
	if err != nil {
		return fmt.Errorf("parsing db config: %w", err)
	}
	poolCfg.MinConns = cfg.Postgres.MinConns
	poolCfg.MaxConns = cfg.Postgres.MaxConns
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating db pool: %w", err)
	}
	defer pool.Close()

	// -------------------------------------------------------------------------
	// Start Tracing Support

	log.Info(ctx, "startup", "status", "initializing tracing support")

	traceProvider, teardown, err := otel.InitTelemetry(log, otel.Config{
		ServiceName:      cfg.Otel.ServiceName,
		ExporterEndpoint: cfg.Otel.ExporterEndpoint,
		ExcludedRoutes: map[string]struct{}{
			"/v1/readiness": {},
			"/v1/health":    {},
			"/debug":        {},
		},
		Probability: cfg.Otel.Probability,
		ResourceAttributes: map[string]string{
			"library.language": "go",
			"host.name":        hostname,
		},
		InsecureExporter: cfg.Otel.InsecureExporter,
	})
	if err != nil {
		return fmt.Errorf("starting tracing: %w", err)
	}
	defer teardown(ctx)

	tracer := traceProvider.Tracer(cfg.Otel.ServiceName)

	// -------------------------------------------------------------------------
	// Start Debug Service

	go func() {
		log.Info(ctx, "startup", "status", "debug router started", "host", cfg.DebugAddr())

		if err := http.ListenAndServe(cfg.DebugAddr(), debug.Mux()); err != nil {
			log.Error(ctx, "shutdown", "status", "debug router closed", "host", cfg.DebugAddr(), "msg", err)
		}
	}()

	// -------------------------------------------------------------------------
	// Orchestration Engine

	log.Info(ctx, "startup", "status", "initializing orchestration engine")

	jobStore := auditStore.NewJobStore(pool, tracer)
	taskStore := auditStore.NewTaskStore(pool, tracer)
	resultStore := auditStore.NewResultStore(pool, tracer)

	bus := progress.NewBus(cfg.Engine.SubscriberBuffer, log)

	llm := agents.NewLLMClient(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.Temperature,
		cfg.OpenAI.RPS,
		cfg.OpenAI.Burst,
	)

	roster := []audit.AgentTask{
		agents.NewScraperAgent(cfg.Scraper.Timeout, cfg.Scraper.RPS, cfg.Scraper.Burst, log, tracer),
		agents.NewScreenshotAgent(cfg.Screenshot.Endpoint, cfg.Screenshot.Timeout, log, tracer),
	}
	roster = append(roster, agents.NewSpecialistAgents(llm, log, tracer)...)
	registry := agents.NewRegistry(roster...)

	retryPolicy := orchestration.NewRetryPolicy(
		cfg.Engine.MaxAttempts,
		cfg.Engine.InitialInterval,
		cfg.Engine.MaxInterval,
	)

	scheduler := orchestration.NewScheduler(
		registry, resultStore, bus, taskStore, retryPolicy,
		cfg.Engine.MaxConcurrentTasks, log, tracer,
	)

	synthesizer := agents.NewReportSynthesizer(llm, log, tracer)
	aggregator := orchestration.NewAggregator(
		resultStore, synthesizer, bus, taskStore,
		cfg.Engine.SynthesisTimeout, log, tracer,
	)

	jobManager := orchestration.NewJobManager(
		jobStore, taskStore, resultStore, bus,
		scheduler, aggregator, cfg.Engine.MaxAttempts, log, tracer,
	)

	// -------------------------------------------------------------------------
	// Start API Service

	log.Info(ctx, "startup", "status", "initializing API support")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	mp, err := otel.NewMeterProvider(cfg.Otel.ServiceName)
	if err != nil {
		return fmt.Errorf("creating meter provider: %w", err)
	}
	metricCollector, err := api.NewAPIMetrics(mp)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	cfgMux := mux.Config{
		Build:   build,
		Log:     log,
		DB:      pool,
		Jobs:    jobManager,
		Metrics: metricCollector,
		Tracer:  tracer,
	}

	webAPI := mux.WebAPI(cfgMux,
		routes.Routes(),
		mux.WithCORS(cfg.Web.CORSAllowedOrigins),
	)

	apiServer := http.Server{
		Addr:         cfg.APIAddr(),
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
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info(ctx, "shutdown", "status", "shutdown started", "signal", sig)
		defer log.Info(ctx, "shutdown", "status", "shutdown complete", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := apiServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}

	return nil
}
