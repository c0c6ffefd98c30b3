package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sublead/sublead-api/config"
	"github.com/sublead/sublead-api/internal/core"
	"github.com/sublead/sublead-api/internal/data"
	"github.com/sublead/sublead-api/internal/domain/model"
	apperrors "github.com/sublead/sublead-api/internal/errors"
	"github.com/sublead/sublead-api/internal/observability/statsd"
)

// QuotaExceededError reports a rejected admission with the consumption the
// owner can act on (upgrade prompt, period rollover).
type QuotaExceededError struct {
	Used  int
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("job quota exhausted (%d of %d used)", e.Used, e.Limit)
}

// Unwrap lets the error taxonomy predicates see the quota_exceeded code.
func (e *QuotaExceededError) Unwrap() error {
	return apperrors.QuotaExceeded("job quota exhausted")
}

// OrchestratorOptions groups dependencies for Orchestrator.
type OrchestratorOptions struct {
	Jobs     core.JobRepository    // Required: job repository
	Results  core.ResultRepository // Required: result repository
	Quota    *QuotaService         // Required: quota admission service
	Executor *Executor             // Required: job executor
	Cache    core.ProgressCache    // Optional: progress cache for status polls
	Config   config.EngineConfig   // Required: engine configuration
	Logger   *slog.Logger          // Optional: structured logger
	Metrics  statsd.Sink           // Optional: metrics sink (StatsD-compatible)
	// BaseContext parents every detached executor run; cancelling it on
	// shutdown aborts all in-flight jobs. Defaults to context.Background().
	BaseContext context.Context
}

// Orchestrator is the single entry point for job submission and owner-facing
// job operations. It admits jobs through the quota ledger, detaches executor
// goroutines, and routes cancellation to the executor that owns each job.
type Orchestrator struct {
	jobs     core.JobRepository
	results  core.ResultRepository
	quota    *QuotaService
	executor *Executor
	cache    core.ProgressCache
	cfg      config.EngineConfig
	logger   *slog.Logger
	metrics  statsd.Sink
	baseCtx  context.Context

	mu      sync.Mutex
	running map[string]*runningJob
	wg      sync.WaitGroup
}

type runningJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewOrchestrator constructs a new Orchestrator.
func NewOrchestrator(opts OrchestratorOptions) (*Orchestrator, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Results == nil {
		return nil, errors.New("ResultRepository is required")
	}
	if opts.Quota == nil {
		return nil, errors.New("QuotaService is required")
	}
	if opts.Executor == nil {
		return nil, errors.New("Executor is required")
	}

	baseCtx := opts.BaseContext
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_orchestrator")
	}

	return &Orchestrator{
		jobs:     opts.Jobs,
		results:  opts.Results,
		quota:    opts.Quota,
		executor: opts.Executor,
		cache:    opts.Cache,
		cfg:      opts.Config,
		logger:   logger,
		metrics:  opts.Metrics,
		baseCtx:  baseCtx,
		running:  make(map[string]*runningJob),
	}, nil
}

// MustNewOrchestrator constructs a new Orchestrator and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	svc, err := NewOrchestrator(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Orchestrator: %v", err))
	}
	return svc
}

// Submit validates and admits one job, then detaches its executor.
//
// Quota is consumed at admission and never refunded: a job that later fails
// or is cancelled still counts against the period. The returned record is the
// admitted job, re-read after the optional initial-result wait; the caller
// polls its status for the outcome.
func (o *Orchestrator) Submit(
	ctx context.Context,
	ownerID string,
	tier model.Tier,
	req *model.SubmitRequest,
) (*model.Job, error) {
	if ownerID == "" {
		return nil, apperrors.Unauthorized("owner is required")
	}
	if req == nil {
		return nil, apperrors.Validation("request body is required")
	}
	if err := req.Validate(); err != nil {
		return nil, apperrors.ValidationField("request", err.Error())
	}

	decision, err := o.quota.Reserve(ctx, ownerID, tier)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &QuotaExceededError{Used: decision.Used, Limit: decision.Limit}
	}

	job, err := o.jobs.Create(ctx, core.CreateJobParams{
		OwnerID:     ownerID,
		Request:     req,
		TargetCount: o.targetCount(req),
		Message:     "queued",
	})
	if err != nil {
		// The reservation is already burned; surfacing the failure is all we
		// can do without refund semantics.
		return nil, fmt.Errorf("create job record: %w", err)
	}

	if o.metrics != nil {
		o.metrics.Count("job.submitted", 1, map[string]string{"kind": string(job.Kind)})
	}
	if o.logger != nil {
		o.logger.InfoContext(ctx, "job admitted",
			"job_id", job.ID,
			"owner_id", ownerID,
			"kind", job.Kind,
			"quota_used", decision.Used,
			"quota_limit", decision.Limit,
		)
	}

	done := o.launch(job, req)
	if o.cfg.InitialResultWait > 0 {
		o.waitForInitialResults(ctx, job.ID, done)
		if fresh, refreshErr := o.jobs.GetByID(ctx, job.ID); refreshErr == nil {
			job = fresh
		}
	}

	return job, nil
}

// launch registers the job in the cancel registry and detaches its executor.
func (o *Orchestrator) launch(job *model.Job, req *model.SubmitRequest) chan struct{} {
	runCtx, cancel := context.WithCancel(o.baseCtx)
	rj := &runningJob{cancel: cancel, done: make(chan struct{})}

	// The executor is the sole writer of its record, so it gets its own copy;
	// the caller's snapshot is never touched by the detached goroutine.
	run := *job

	o.mu.Lock()
	o.running[job.ID] = rj
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer func() {
			o.mu.Lock()
			delete(o.running, job.ID)
			o.mu.Unlock()
			cancel()
			close(rj.done)
			o.wg.Done()
		}()
		o.executor.Run(runCtx, &run, req)
	}()

	return rj.done
}

// waitForInitialResults blocks Submit until the first result lands, the job
// finishes, or the configured wait elapses. The job runs on regardless; Submit
// re-reads the record afterwards so the response reflects the head start.
func (o *Orchestrator) waitForInitialResults(ctx context.Context, jobID string, done chan struct{}) {
	deadline := time.NewTimer(o.cfg.InitialResultWait)
	defer deadline.Stop()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			count, err := o.results.CountByJob(ctx, jobID)
			if err == nil && count > 0 {
				return
			}
		}
	}
}

// targetCount is the number of work units the executor will process for a
// request; progress is reported against it.
func (o *Orchestrator) targetCount(req *model.SubmitRequest) int {
	switch req.Kind {
	case model.JobKindSearch:
		return req.Search.Units()
	case model.JobKindGenerate:
		return req.Generate.Units()
	default:
		return 0
	}
}

// Cancel requests cooperative cancellation of an owner's job. The executor
// writes the terminal status; by the time Cancel returns the job may still be
// running its current unit.
func (o *Orchestrator) Cancel(ctx context.Context, ownerID, jobID string) error {
	job, err := o.getOwned(ctx, ownerID, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		if o.logger != nil {
			o.logger.InfoContext(ctx, "cancel of terminal job dropped",
				"job_id", jobID,
				"status", job.Status,
			)
		}
		return apperrors.AlreadyTerminal("job already finished")
	}

	o.mu.Lock()
	rj := o.running[jobID]
	o.mu.Unlock()

	if rj != nil {
		rj.cancel()
		if o.logger != nil {
			o.logger.InfoContext(ctx, "cancellation signalled", "job_id", jobID)
		}
		return nil
	}

	// No local executor owns the job (instance restart, reaper lag). Write
	// the abort directly; a racing terminal write from elsewhere wins.
	ok, err := o.jobs.Transition(ctx, jobID, model.JobStatusAborted)
	if err != nil {
		if errors.Is(err, data.ErrInvalidTransition) {
			return apperrors.Conflict("job cannot be cancelled in its current state")
		}
		return fmt.Errorf("abort orphaned job: %w", err)
	}
	if !ok {
		return apperrors.AlreadyTerminal("job already finished")
	}
	if o.cache != nil {
		if cacheErr := o.cache.SetProgress(ctx, jobID, core.ProgressSnapshot{
			OwnerID:  ownerID,
			Status:   model.JobStatusAborted,
			Progress: job.Progress,
			Message:  "cancelled by owner",
		}); cacheErr != nil && o.logger != nil {
			o.logger.DebugContext(ctx, "progress cache write failed", "job_id", jobID, "error", cacheErr)
		}
	}
	return nil
}

// GetStatus returns the pollable view of a job, served from the progress
// cache when possible. Tenancy is enforced on the cached snapshot too.
func (o *Orchestrator) GetStatus(ctx context.Context, ownerID, jobID string) (*model.JobStatusView, error) {
	if o.cache != nil {
		snap, err := o.cache.GetProgress(ctx, jobID)
		if err != nil && o.logger != nil {
			o.logger.DebugContext(ctx, "progress cache read failed", "job_id", jobID, "error", err)
		}
		if snap != nil {
			if snap.OwnerID != ownerID {
				return nil, apperrors.NotFound("job not found")
			}
			return &model.JobStatusView{
				Status:   snap.Status,
				Progress: snap.Progress,
				Message:  snap.Message,
			}, nil
		}
	}

	job, err := o.getOwned(ctx, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	return job.StatusView(), nil
}

// GetResults returns whatever results a job has produced so far, in order.
func (o *Orchestrator) GetResults(ctx context.Context, ownerID, jobID string) ([]*model.ResultItem, error) {
	if _, err := o.getOwned(ctx, ownerID, jobID); err != nil {
		return nil, err
	}
	items, err := o.results.ReadAll(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("read job results: %w", err)
	}
	return items, nil
}

// GetJob returns an owner's job record.
func (o *Orchestrator) GetJob(ctx context.Context, ownerID, jobID string) (*model.Job, error) {
	return o.getOwned(ctx, ownerID, jobID)
}

// ListJobs returns an owner's jobs, newest first.
func (o *Orchestrator) ListJobs(ctx context.Context, ownerID string, limit, offset int) ([]*model.Job, error) {
	jobs, err := o.jobs.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Drain blocks until every detached executor has finished or the context
// expires. Call after cancelling BaseContext during shutdown.
func (o *Orchestrator) Drain(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// getOwned fetches a job with tenancy enforced: another owner's job (or a
// missing one) is uniformly not found.
func (o *Orchestrator) getOwned(ctx context.Context, ownerID, jobID string) (*model.Job, error) {
	job, err := o.jobs.GetByOwner(ctx, jobID, ownerID)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			return nil, apperrors.NotFound("job not found")
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}
