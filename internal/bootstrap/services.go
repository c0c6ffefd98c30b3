package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sublead/sublead-api/config"
	"github.com/sublead/sublead-api/internal/core"
	"github.com/sublead/sublead-api/internal/data"
	"github.com/sublead/sublead-api/internal/observability/statsd"
	"github.com/sublead/sublead-api/internal/service"
	"golang.org/x/sync/errgroup"
)

const (
	// shutdownWaitTimeout is the maximum time to wait for in-flight jobs to stop.
	shutdownWaitTimeout = 15 * time.Second
)

// ServiceContainer holds all application services.
type ServiceContainer struct {
	Quota        *service.QuotaService
	Orchestrator *service.Orchestrator
	Reaper       *service.ReaperService
	Sessions     core.SessionStore
	Cache        core.ProgressCache
	MetricsSink  *statsd.Client

	// StopJobs cancels the base context of every detached executor run.
	// Called during graceful shutdown to abort in-flight jobs.
	StopJobs context.CancelFunc
}

// ServiceDeps groups dependencies for service initialization.
type ServiceDeps struct {
	Config      *config.AppConfig
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// serviceRepositories groups data adapters backing service ports.
type serviceRepositories struct {
	JobRepo    *data.JobRepo
	ResultRepo *data.ResultRepo
	QuotaRepo  *data.QuotaRepo
}

// buildRepositories builds repositories backing service ports; no business rules here.
func buildRepositories(db *sql.DB, cfg *config.AppConfig, logger *slog.Logger) *serviceRepositories {
	return &serviceRepositories{
		JobRepo:    data.NewJobRepo(db, data.RepoConfig{Logger: logger}),
		ResultRepo: data.NewResultRepo(db, data.RepoConfig{Logger: logger}),
		QuotaRepo: data.NewQuotaRepo(db, data.QuotaRepoConfig{
			TrialLimit: cfg.Quota.TrialLimit,
			Logger:     logger,
		}),
	}
}

// NewServices wires repositories, collaborators, and business services.
func NewServices(deps *ServiceDeps) (ServiceContainer, error) {
	if deps == nil {
		return ServiceContainer{}, errors.New("service deps are required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	appCfg := deps.Config
	if appCfg == nil {
		appCfg = &config.AppConfig{}
	}

	metricsSink := buildMetricsSink(logger, appCfg.Observability.Metrics)
	repos := buildRepositories(deps.DB, appCfg, logger)

	searchProvider, err := buildSearchProvider(appCfg.Search, logger)
	if err != nil {
		return ServiceContainer{}, err
	}
	aiClient, err := buildAIClient(appCfg.AI, logger)
	if err != nil {
		return ServiceContainer{}, err
	}

	sessions := buildSessionStore(deps.RedisClient)
	progressCache := buildProgressCache(deps.RedisClient, appCfg.Engine)

	quotaSvc := service.MustNewQuotaService(service.QuotaServiceOptions{
		Repo:    repos.QuotaRepo,
		Logger:  logger,
		Metrics: metricsSink,
	})

	executor := service.MustNewExecutor(service.ExecutorOptions{
		Jobs:      repos.JobRepo,
		Results:   repos.ResultRepo,
		Search:    searchProvider,
		Scorer:    aiClient,
		Generator: aiClient,
		Cache:     progressCache,
		Config:    appCfg.Engine,
		Logger:    logger,
		Metrics:   metricsSink,
	})

	// Detached executor runs outlive their submitting request; they hang off
	// this context so shutdown can abort them all at once.
	jobCtx, stopJobs := context.WithCancel(context.Background())

	orchestrator := service.MustNewOrchestrator(service.OrchestratorOptions{
		Jobs:        repos.JobRepo,
		Results:     repos.ResultRepo,
		Quota:       quotaSvc,
		Executor:    executor,
		Cache:       progressCache,
		Config:      appCfg.Engine,
		Logger:      logger,
		Metrics:     metricsSink,
		BaseContext: jobCtx,
	})

	reaper := service.MustNewReaperService(service.ReaperServiceOptions{
		Repo:    repos.JobRepo,
		Config:  appCfg.Reaper,
		Logger:  logger,
		Metrics: metricsSink,
	})

	return ServiceContainer{
		Quota:        quotaSvc,
		Orchestrator: orchestrator,
		Reaper:       reaper,
		Sessions:     sessions,
		Cache:        progressCache,
		MetricsSink:  metricsSink,
		StopJobs:     stopJobs,
	}, nil
}

// ServiceOrchestrationConfig contains configuration for service orchestration.
type ServiceOrchestrationConfig struct {
	Config      *config.AppConfig
	Services    ServiceContainer
	DB          *sql.DB
	RedisClient redis.UniversalClient
	Logger      *slog.Logger
}

// RunServicesWithShutdown starts all enabled services and manages their lifecycle.
// This function blocks until a shutdown signal is received or a service fails.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	if cfg == nil {
		return errors.New("service orchestration config is required")
	}
	if cfg.Config == nil {
		return errors.New("service orchestration config missing AppConfig")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	enabledServices, err := cfg.Config.GetEnabledServices()
	if err != nil {
		return fmt.Errorf("determine enabled services: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if enabledServices[config.ServiceModeHTTP] {
		server := BuildHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
		startHTTPServer(g, gctx, server, cfg.Config.HTTP, logger)
	}

	if enabledServices[config.ServiceModeReaper] {
		g.Go(func() error {
			if runErr := cfg.Services.Reaper.Run(gctx); runErr != nil {
				return fmt.Errorf("reaper failed: %w", runErr)
			}
			return nil
		})
	}

	logger.InfoContext(ctx, "services started", "services", GetEnabledServices(cfg.Config))

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("service error", "error", runErr)
	} else {
		runErr = nil
		logger.Info("shutting down services...")
	}

	if stopErr := stopInFlightJobs(cfg.Services, logger); stopErr != nil && runErr == nil {
		runErr = stopErr
	}

	return runErr
}

// startHTTPServer runs the HTTP listener in the group and hooks shutdown to
// group-context cancellation.
func startHTTPServer(
	g *errgroup.Group,
	gctx context.Context,
	server *http.Server,
	httpCfg config.HTTPConfig,
	logger *slog.Logger,
) {
	g.Go(func() error {
		logger.Info("starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpCfg.ShutdownGrace)
		defer cancel()

		logger.Info("shutting down HTTP server")
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown: %w", err)
		}
		logger.Info("HTTP server stopped")
		return nil
	})
}

// stopInFlightJobs aborts detached executor runs and waits for them to record
// their terminal status. Jobs orphaned by a timeout here are the reaper's
// problem.
func stopInFlightJobs(services ServiceContainer, logger *slog.Logger) error {
	if services.StopJobs != nil {
		services.StopJobs()
	}
	if services.Orchestrator == nil {
		return nil
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownWaitTimeout)
	defer cancel()

	if err := services.Orchestrator.Drain(drainCtx); err != nil {
		logger.Warn("timeout waiting for in-flight jobs to stop", "error", err)
		return nil
	}
	logger.Info("in-flight jobs stopped")
	return nil
}
