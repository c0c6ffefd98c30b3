package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sublead/sublead-api/config"
	"github.com/sublead/sublead-api/internal/core"
	"github.com/sublead/sublead-api/internal/data"
	"github.com/sublead/sublead-api/internal/domain/model"
	apperrors "github.com/sublead/sublead-api/internal/errors"
	"github.com/sublead/sublead-api/internal/observability/metrics"
	"github.com/sublead/sublead-api/internal/observability/statsd"
)

// ExecutorOptions groups dependencies for Executor.
type ExecutorOptions struct {
	Jobs      core.JobRepository    // Required: job repository
	Results   core.ResultRepository // Required: result repository
	Search    core.SearchProvider   // Required for search jobs
	Scorer    core.Scorer           // Required for search jobs
	Generator core.Generator        // Required for generate jobs
	Cache     core.ProgressCache    // Optional: progress mirror for cheap polls
	Config    config.EngineConfig   // Required: engine configuration
	Logger    *slog.Logger          // Optional: structured logger
	Metrics   statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// Executor drives one job from pending to a terminal state.
//
// Each job is owned by exactly one Run invocation: only that invocation writes
// the job's status, progress, and results. Cancellation is cooperative and
// coarse-grained, checked between units of work, never mid-call.
type Executor struct {
	jobs      core.JobRepository
	results   core.ResultRepository
	search    core.SearchProvider
	scorer    core.Scorer
	generator core.Generator
	cache     core.ProgressCache
	cfg       config.EngineConfig
	logger    *slog.Logger
	metrics   statsd.Sink
}

// NewExecutor constructs a new Executor.
func NewExecutor(opts ExecutorOptions) (*Executor, error) {
	if opts.Jobs == nil {
		return nil, errors.New("JobRepository is required")
	}
	if opts.Results == nil {
		return nil, errors.New("ResultRepository is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_executor")
	}

	return &Executor{
		jobs:      opts.Jobs,
		results:   opts.Results,
		search:    opts.Search,
		scorer:    opts.Scorer,
		generator: opts.Generator,
		cache:     opts.Cache,
		cfg:       opts.Config,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

// MustNewExecutor constructs a new Executor and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewExecutor(opts ExecutorOptions) *Executor {
	exec, err := NewExecutor(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when dependencies are invalid during startup
		panic(fmt.Sprintf("failed to create Executor: %v", err))
	}
	return exec
}

// Run executes a job to a terminal state. ctx cancellation aborts the job at
// the next unit boundary. Run never returns an error to its caller; every
// outcome is recorded on the job record itself.
func (e *Executor) Run(ctx context.Context, job *model.Job, req *model.SubmitRequest) {
	start := time.Now()

	ok, err := e.jobs.Transition(ctx, job.ID, model.JobStatusRunning)
	if err != nil {
		e.logError(ctx, job.ID, "failed to start job", err)
		e.finish(ctx, job, model.JobStatusFailed, "internal error", start, err)
		return
	}
	if !ok {
		// A terminal write already landed (cancelled before the executor
		// started). Nothing left to do.
		if e.logger != nil {
			e.logger.InfoContext(ctx, "job already terminal before start", "job_id", job.ID)
		}
		return
	}
	e.mirrorProgress(job, model.JobStatusRunning, 0, "starting")

	var runErr error
	switch req.Kind {
	case model.JobKindSearch:
		runErr = e.runSearch(ctx, job, req.Search)
	case model.JobKindGenerate:
		runErr = e.runGenerate(ctx, job, req.Generate)
	default:
		runErr = fmt.Errorf("unknown job kind: %s", req.Kind)
	}

	switch {
	case runErr == nil:
		e.finish(ctx, job, model.JobStatusCompleted, "done", start, nil)
	case isContextCancellation(runErr):
		e.finish(ctx, job, model.JobStatusAborted, "cancelled by owner", start, nil)
	default:
		e.logError(ctx, job.ID, "job failed", runErr)
		e.finish(ctx, job, model.JobStatusFailed, failureMessage(runErr), start, runErr)
	}
}

// finish writes the terminal status. A false Transition return means another
// terminal write won the race; that write stands and this one is dropped.
func (e *Executor) finish(
	ctx context.Context,
	job *model.Job,
	status model.JobStatus,
	message string,
	start time.Time,
	cause error,
) {
	// Terminal writes must land even when the run context is already
	// cancelled, so they get their own short deadline.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := e.jobs.UpdateProgress(writeCtx, core.UpdateProgressParams{
		JobID:    job.ID,
		Progress: job.Progress,
		Message:  message,
	}); err != nil && !errors.Is(err, data.ErrJobTerminal) {
		e.logError(writeCtx, job.ID, "failed to write terminal message", err)
	}

	ok, err := e.jobs.Transition(writeCtx, job.ID, status)
	if err != nil {
		e.logError(writeCtx, job.ID, "failed to write terminal status", err)
		return
	}
	if !ok {
		if e.logger != nil {
			e.logger.DebugContext(writeCtx, "terminal status race lost, keeping existing outcome",
				"job_id", job.ID,
				"attempted", status,
			)
		}
		return
	}

	progress := job.Progress
	if status == model.JobStatusCompleted {
		progress = 100
	}
	e.mirrorProgress(job, status, progress, message)

	result := metrics.ResultSuccess
	if status == model.JobStatusFailed {
		result = metrics.ResultError
	}
	metrics.EmitJobLifecycle(e.metrics, metrics.JobMetric{
		JobKind:    string(job.Kind),
		Transition: string(status),
		Result:     result,
		Duration:   time.Since(start),
		Err:        cause,
	})

	if e.logger != nil {
		e.logger.InfoContext(writeCtx, "job finished",
			"job_id", job.ID,
			"kind", job.Kind,
			"status", status,
			"elapsed", time.Since(start),
		)
	}
}

// runSearch scans every subreddit/keyword combination, scores each candidate,
// and persists the ones that clear the threshold. One combination is one unit
// of work for progress and cancellation purposes.
func (e *Executor) runSearch(ctx context.Context, job *model.Job, spec *model.SearchSpec) error {
	if e.search == nil || e.scorer == nil {
		return errors.New("search collaborators are not configured")
	}

	subreddits := (&model.SubmitRequest{Kind: model.JobKindSearch, Search: spec}).NormalizedSubreddits()
	keywords := (&model.SubmitRequest{Kind: model.JobKindSearch, Search: spec}).NormalizedKeywords()
	if len(subreddits)*len(keywords) == 0 {
		return errors.New("search spec has no work units")
	}
	// The record's target count is the unit total written at admission; it is
	// the denominator every progress write reports against.
	totalUnits := job.TargetCount
	if totalUnits <= 0 {
		totalUnits = len(subreddits) * len(keywords)
	}

	threshold := e.cfg.ScoreThreshold
	if spec.MinScore > 0 {
		threshold = spec.MinScore
	}

	var processed, sequence int
	for _, subreddit := range subreddits {
		for _, keyword := range keywords {
			if err := ctx.Err(); err != nil {
				return err
			}

			written, err := e.searchUnit(ctx, job, spec, subreddit, keyword, threshold, sequence)
			if err != nil {
				return fmt.Errorf("search %s/%s: %w", subreddit, keyword, err)
			}
			sequence += written

			processed++
			e.recordProgress(ctx, job, processed, totalUnits,
				fmt.Sprintf("scanned %s for %q", subreddit, keyword))
		}
	}
	return nil
}

// searchUnit processes one subreddit/keyword combination and returns how many
// leads it persisted. Scoring fans out across the unit's candidates, bounded
// by ScoreConcurrency; appends stay sequential in candidate order so sequences
// remain dense and deterministic.
func (e *Executor) searchUnit(
	ctx context.Context,
	job *model.Job,
	spec *model.SearchSpec,
	subreddit, keyword string,
	threshold float64,
	sequence int,
) (int, error) {
	var candidates []model.Candidate
	err := e.callWithRetry(ctx, "search", func(callCtx context.Context) error {
		var callErr error
		candidates, callErr = e.search.Query(callCtx, core.SearchQuery{
			Subreddit: subreddit,
			Keyword:   keyword,
			Limit:     e.cfg.CandidatesPerQuery,
		})
		return callErr
	})
	if err != nil {
		return 0, err
	}

	verdicts := make([]*model.ScoreResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.ScoreConcurrency
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, candidate := range candidates {
		g.Go(func() error {
			return e.callWithRetry(gctx, "score", func(callCtx context.Context) error {
				var callErr error
				verdicts[i], callErr = e.scorer.Score(callCtx, candidate, spec.Product)
				return callErr
			})
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	written := 0
	for i, candidate := range candidates {
		verdict := verdicts[i]
		if verdict.Score < threshold {
			continue
		}

		item := &model.ResultItem{
			JobID:    job.ID,
			Sequence: sequence + written + 1,
			Kind:     model.JobKindSearch,
			Lead: &model.LeadPayload{
				Candidate: candidate,
				Score:     verdict.Score,
				Reasons:   verdict.Reasons,
				Reply:     verdict.SampleReply,
			},
		}
		if appendErr := e.results.Append(ctx, item); appendErr != nil {
			return written, fmt.Errorf("persist lead: %w", appendErr)
		}
		written++
	}
	return written, nil
}

// runGenerate produces one content item per target subreddit. A subreddit
// whose generation keeps failing after retries fails the whole job; items
// already written stay readable.
func (e *Executor) runGenerate(ctx context.Context, job *model.Job, spec *model.GenerateSpec) error {
	if e.generator == nil {
		return errors.New("generation collaborator is not configured")
	}

	subreddits := (&model.SubmitRequest{Kind: model.JobKindGenerate, Generate: spec}).NormalizedSubreddits()
	if len(subreddits) == 0 {
		return errors.New("generate spec has no work units")
	}
	totalUnits := job.TargetCount
	if totalUnits <= 0 {
		totalUnits = len(subreddits)
	}

	for i, subreddit := range subreddits {
		if err := ctx.Err(); err != nil {
			return err
		}

		var content *model.ContentPayload
		err := e.callWithRetry(ctx, "generate", func(callCtx context.Context) error {
			var callErr error
			content, callErr = e.generator.Generate(callCtx, spec.Product, subreddit)
			return callErr
		})
		if err != nil {
			return fmt.Errorf("generate for %s: %w", subreddit, err)
		}

		item := &model.ResultItem{
			JobID:    job.ID,
			Sequence: i + 1,
			Kind:     model.JobKindGenerate,
			Content:  content,
		}
		if appendErr := e.results.Append(ctx, item); appendErr != nil {
			return fmt.Errorf("persist content: %w", appendErr)
		}

		e.recordProgress(ctx, job, i+1, totalUnits, fmt.Sprintf("generated post for %s", subreddit))
	}
	return nil
}

// callWithRetry invokes one collaborator call with a per-call timeout and a
// bounded retry budget for transient failures. Non-retryable errors and
// cancellation escalate immediately.
func (e *Executor) callWithRetry(ctx context.Context, label string, fn func(context.Context) error) error {
	attempts := e.cfg.RetryAttempts + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		start := time.Now()
		err := fn(callCtx)
		cancel()
		metrics.EmitCollaboratorCall(e.metrics, label, time.Since(start), err)

		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = apperrors.Wrap(err, apperrors.ErrCodeTimeout, label+" call timed out")
		}
		if !apperrors.Retryable(err) {
			return err
		}
		lastErr = err

		if attempt < attempts {
			if e.logger != nil {
				e.logger.WarnContext(ctx, "transient collaborator failure, retrying",
					"call", label,
					"attempt", attempt,
					"error", err,
				)
			}
			backoff := time.Duration(attempt) * e.cfg.RetryBackoff
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}

// recordProgress writes monotonic progress to the job record and mirrors it to
// the cache. Neither write may fail the job: progress is advisory.
func (e *Executor) recordProgress(ctx context.Context, job *model.Job, done, total int, message string) {
	progress := progressPercent(done, total)
	if progress > job.Progress {
		job.Progress = progress
	}

	if err := e.jobs.UpdateProgress(ctx, core.UpdateProgressParams{
		JobID:    job.ID,
		Progress: progress,
		Message:  message,
	}); err != nil {
		e.logError(ctx, job.ID, "failed to record progress", err)
	}

	e.mirrorProgress(job, model.JobStatusRunning, job.Progress, message)
}

// progressPercent maps completed units onto 0-100, rounding half up and
// clamping at 100.
func progressPercent(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	p := (done*100 + total/2) / total
	if p > 100 {
		p = 100
	}
	return p
}

// mirrorProgress updates the progress cache, best effort.
func (e *Executor) mirrorProgress(job *model.Job, status model.JobStatus, progress int, message string) {
	if e.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := e.cache.SetProgress(ctx, job.ID, core.ProgressSnapshot{
		OwnerID:  job.OwnerID,
		Status:   status,
		Progress: progress,
		Message:  message,
	}); err != nil && e.logger != nil {
		e.logger.DebugContext(ctx, "progress cache write failed", "job_id", job.ID, "error", err)
	}
}

func (e *Executor) logError(ctx context.Context, jobID, msg string, err error) {
	if e.logger == nil {
		return
	}
	e.logger.ErrorContext(ctx, msg, "job_id", jobID, "error", err)
}

// failureMessage produces the owner-facing message for a failed job. Internal
// detail (hosts, SQL, stack context) stays in the logs.
func failureMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
