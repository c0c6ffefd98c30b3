package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublead/sublead-api/config"
	"github.com/sublead/sublead-api/internal/core"
	"github.com/sublead/sublead-api/internal/domain/model"
	apperrors "github.com/sublead/sublead-api/internal/errors"
)

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		ScoreThreshold:     5,
		CandidatesPerQuery: 10,
		CallTimeout:        time.Second,
		RetryAttempts:      1,
		RetryBackoff:       time.Millisecond,
	}
}

type executorEnv struct {
	jobs    *memJobs
	results *memResults
	cache   *memCache
}

func newExecutor(t *testing.T, env *executorEnv, opts ExecutorOptions) *Executor {
	t.Helper()
	opts.Jobs = env.jobs
	opts.Results = env.results
	if env.cache != nil {
		opts.Cache = env.cache
	}
	if opts.Config.CallTimeout == 0 {
		opts.Config = testEngineConfig()
	}
	exec, err := NewExecutor(opts)
	require.NoError(t, err)
	return exec
}

func createJob(t *testing.T, jobs *memJobs, req *model.SubmitRequest) *model.Job {
	t.Helper()
	require.NoError(t, req.Validate())
	job, err := jobs.Create(context.Background(), core.CreateJobParams{
		OwnerID: "owner-1",
		Request: req,
		Message: "queued",
	})
	require.NoError(t, err)
	return job
}

func searchRequest(subreddits, keywords []string) *model.SubmitRequest {
	return &model.SubmitRequest{
		Kind: model.JobKindSearch,
		Search: &model.SearchSpec{
			Keywords:   keywords,
			Subreddits: subreddits,
			Product:    validEngineProduct(),
		},
	}
}

func generateRequest(subreddits []string) *model.SubmitRequest {
	return &model.SubmitRequest{
		Kind: model.JobKindGenerate,
		Generate: &model.GenerateSpec{
			Subreddits: subreddits,
			Product:    validEngineProduct(),
		},
	}
}

func validEngineProduct() model.ProductContext {
	return model.ProductContext{
		Name:        "Acme Widgets",
		Description: "A widget organizer for small teams",
	}
}

func TestExecutor_Run_SearchPersistsAboveThreshold(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults(), cache: newMemCache()}

	// Two subreddits, one keyword: two units, two candidates each. Scores
	// alternate around the threshold so only half survive.
	search := &stubSearch{fn: func(_ context.Context, q core.SearchQuery) ([]model.Candidate, error) {
		return []model.Candidate{
			{ID: q.Subreddit + "-hot", Subreddit: q.Subreddit, Keyword: q.Keyword, Title: "need a tool"},
			{ID: q.Subreddit + "-cold", Subreddit: q.Subreddit, Keyword: q.Keyword, Title: "off topic"},
		}, nil
	}}
	scorer := &stubScorer{fn: func(_ context.Context, c model.Candidate, _ model.ProductContext) (*model.ScoreResult, error) {
		if c.Title == "need a tool" {
			return &model.ScoreResult{Score: 8, Reasons: []string{"explicit ask"}, SampleReply: "try acme"}, nil
		}
		return &model.ScoreResult{Score: 2}, nil
	}}

	exec := newExecutor(t, env, ExecutorOptions{Search: search, Scorer: scorer})
	req := searchRequest([]string{"saas", "startups"}, []string{"tracker"})
	job := createJob(t, env.jobs, req)

	exec.Run(context.Background(), job, req)

	assert.Equal(t, model.JobStatusCompleted, env.jobs.status(job.ID))
	stored, err := env.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Progress)
	assert.Equal(t, "done", stored.Message)
	require.NotNil(t, stored.CompletedAt)

	items, err := env.results.ReadAll(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for i, item := range items {
		assert.Equal(t, i+1, item.Sequence)
		assert.Equal(t, model.JobKindSearch, item.Kind)
		require.NotNil(t, item.Lead)
		assert.GreaterOrEqual(t, item.Lead.Score, 5.0)
	}

	snap, err := env.cache.GetProgress(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, model.JobStatusCompleted, snap.Status)
	assert.Equal(t, 100, snap.Progress)
}

func TestExecutor_Run_SearchMinScoreOverride(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults()}

	search := &stubSearch{fn: func(_ context.Context, q core.SearchQuery) ([]model.Candidate, error) {
		return []model.Candidate{{ID: "p1", Subreddit: q.Subreddit, Title: "maybe"}}, nil
	}}
	scorer := &stubScorer{fn: func(_ context.Context, _ model.Candidate, _ model.ProductContext) (*model.ScoreResult, error) {
		return &model.ScoreResult{Score: 6}, nil
	}}

	exec := newExecutor(t, env, ExecutorOptions{Search: search, Scorer: scorer})
	req := searchRequest([]string{"saas"}, []string{"tracker"})
	req.Search.MinScore = 8 // Above the candidate's score of 6.
	job := createJob(t, env.jobs, req)

	exec.Run(context.Background(), job, req)

	assert.Equal(t, model.JobStatusCompleted, env.jobs.status(job.ID))
	count, err := env.results.CountByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestExecutor_Run_SearchScoresWithBoundedParallelism(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults()}

	candidates := make([]model.Candidate, 6)
	for i := range candidates {
		candidates[i] = model.Candidate{ID: fmt.Sprintf("p%d", i), Subreddit: "saas", Title: "need a tool"}
	}
	search := &stubSearch{fn: func(_ context.Context, _ core.SearchQuery) ([]model.Candidate, error) {
		return candidates, nil
	}}

	var inFlight, peak atomic.Int32
	scorer := &stubScorer{fn: func(_ context.Context, _ model.Candidate, _ model.ProductContext) (*model.ScoreResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &model.ScoreResult{Score: 9}, nil
	}}

	cfg := testEngineConfig()
	cfg.ScoreConcurrency = 2
	exec := newExecutor(t, env, ExecutorOptions{Search: search, Scorer: scorer, Config: cfg})
	req := searchRequest([]string{"saas"}, []string{"tracker"})
	job := createJob(t, env.jobs, req)

	exec.Run(context.Background(), job, req)

	assert.Equal(t, model.JobStatusCompleted, env.jobs.status(job.ID))
	assert.LessOrEqual(t, peak.Load(), int32(2))

	// Sequences stay dense and in candidate order despite the fan-out.
	items, err := env.results.ReadAll(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, items, 6)
	for i, item := range items {
		assert.Equal(t, i+1, item.Sequence)
		require.NotNil(t, item.Lead)
		assert.Equal(t, fmt.Sprintf("p%d", i), item.Lead.Candidate.ID)
	}
}

func TestExecutor_Run_GenerateWritesOnePerSubreddit(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults()}

	gen := &stubGenerator{fn: func(_ context.Context, _ model.ProductContext, subreddit string) (*model.ContentPayload, error) {
		return &model.ContentPayload{
			Subreddit: subreddit,
			Title:     "Show r/" + subreddit,
			Body:      "body for " + subreddit,
		}, nil
	}}

	exec := newExecutor(t, env, ExecutorOptions{Generator: gen})
	req := generateRequest([]string{"saas", "startups", "productivity"})
	job := createJob(t, env.jobs, req)

	exec.Run(context.Background(), job, req)

	assert.Equal(t, model.JobStatusCompleted, env.jobs.status(job.ID))
	items, err := env.results.ReadAll(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	for i, item := range items {
		assert.Equal(t, i+1, item.Sequence)
		require.NotNil(t, item.Content)
		assert.Equal(t, req.Generate.Subreddits[i], item.Content.Subreddit)
	}
}

func TestExecutor_Run_GenerateFailureKeepsPartialResults(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults()}

	gen := &stubGenerator{fn: func(_ context.Context, _ model.ProductContext, subreddit string) (*model.ContentPayload, error) {
		if subreddit == "startups" {
			return nil, apperrors.Validation("content policy rejected the draft")
		}
		return &model.ContentPayload{Subreddit: subreddit, Title: "t", Body: "b"}, nil
	}}

	exec := newExecutor(t, env, ExecutorOptions{Generator: gen})
	req := generateRequest([]string{"saas", "startups", "productivity"})
	job := createJob(t, env.jobs, req)

	exec.Run(context.Background(), job, req)

	assert.Equal(t, model.JobStatusFailed, env.jobs.status(job.ID))
	stored, err := env.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "content policy rejected the draft", stored.Message)

	// The item written before the failure stays readable.
	items, err := env.results.ReadAll(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "saas", items[0].Content.Subreddit)
}

func TestExecutor_Run_CancellationAbortsAtUnitBoundary(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The generator cancels the run while producing the first item; the
	// boundary check before the second unit must abort the job.
	var calls atomic.Int32
	gen := &stubGenerator{fn: func(_ context.Context, _ model.ProductContext, subreddit string) (*model.ContentPayload, error) {
		calls.Add(1)
		cancel()
		return &model.ContentPayload{Subreddit: subreddit, Title: "t", Body: "b"}, nil
	}}

	exec := newExecutor(t, env, ExecutorOptions{Generator: gen})
	req := generateRequest([]string{"saas", "startups"})
	job := createJob(t, env.jobs, req)

	exec.Run(ctx, job, req)

	assert.Equal(t, model.JobStatusAborted, env.jobs.status(job.ID))
	stored, err := env.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled by owner", stored.Message)
	assert.Equal(t, int32(1), calls.Load())

	items, err := env.results.ReadAll(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestExecutor_Run_RetriesTransientFailures(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults()}

	search := &stubSearch{fn: func(_ context.Context, q core.SearchQuery) ([]model.Candidate, error) {
		return []model.Candidate{{ID: "p1", Subreddit: q.Subreddit, Title: "need a tool"}}, nil
	}}

	var attempts atomic.Int32
	scorer := &stubScorer{fn: func(_ context.Context, _ model.Candidate, _ model.ProductContext) (*model.ScoreResult, error) {
		if attempts.Add(1) == 1 {
			return nil, apperrors.Unavailable("scoring backend overloaded")
		}
		return &model.ScoreResult{Score: 9}, nil
	}}

	exec := newExecutor(t, env, ExecutorOptions{Search: search, Scorer: scorer})
	req := searchRequest([]string{"saas"}, []string{"tracker"})
	job := createJob(t, env.jobs, req)

	exec.Run(context.Background(), job, req)

	assert.Equal(t, model.JobStatusCompleted, env.jobs.status(job.ID))
	assert.Equal(t, int32(2), attempts.Load())
	count, err := env.results.CountByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExecutor_Run_RetryBudgetExhausted(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults()}

	var attempts atomic.Int32
	search := &stubSearch{fn: func(_ context.Context, _ core.SearchQuery) ([]model.Candidate, error) {
		attempts.Add(1)
		return nil, apperrors.Unavailable("search source unreachable")
	}}
	scorer := &stubScorer{fn: func(_ context.Context, _ model.Candidate, _ model.ProductContext) (*model.ScoreResult, error) {
		t.Fatal("scorer must not be reached")
		return nil, nil
	}}

	cfg := testEngineConfig()
	cfg.RetryAttempts = 2
	exec := newExecutor(t, env, ExecutorOptions{Search: search, Scorer: scorer, Config: cfg})
	req := searchRequest([]string{"saas"}, []string{"tracker"})
	job := createJob(t, env.jobs, req)

	exec.Run(context.Background(), job, req)

	assert.Equal(t, model.JobStatusFailed, env.jobs.status(job.ID))
	// Initial attempt plus two retries.
	assert.Equal(t, int32(3), attempts.Load())
	stored, err := env.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "search source unreachable", stored.Message)
}

func TestExecutor_Run_NonRetryableEscalatesImmediately(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults()}

	var attempts atomic.Int32
	search := &stubSearch{fn: func(_ context.Context, _ core.SearchQuery) ([]model.Candidate, error) {
		attempts.Add(1)
		return nil, apperrors.Unauthorized("search credentials rejected")
	}}
	scorer := &stubScorer{fn: func(_ context.Context, _ model.Candidate, _ model.ProductContext) (*model.ScoreResult, error) {
		return &model.ScoreResult{Score: 9}, nil
	}}

	exec := newExecutor(t, env, ExecutorOptions{Search: search, Scorer: scorer})
	req := searchRequest([]string{"saas"}, []string{"tracker"})
	job := createJob(t, env.jobs, req)

	exec.Run(context.Background(), job, req)

	assert.Equal(t, model.JobStatusFailed, env.jobs.status(job.ID))
	assert.Equal(t, int32(1), attempts.Load())
}

func TestExecutor_Run_TerminalRaceKeepsExistingOutcome(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults()}

	gen := &stubGenerator{fn: func(_ context.Context, _ model.ProductContext, subreddit string) (*model.ContentPayload, error) {
		return &model.ContentPayload{Subreddit: subreddit, Title: "t", Body: "b"}, nil
	}}
	exec := newExecutor(t, env, ExecutorOptions{Generator: gen})
	req := generateRequest([]string{"saas"})
	job := createJob(t, env.jobs, req)

	// A cancel landed before the executor started; pending jobs abort directly.
	ok, err := env.jobs.Transition(context.Background(), job.ID, model.JobStatusAborted)
	require.NoError(t, err)
	require.True(t, ok)

	exec.Run(context.Background(), job, req)

	assert.Equal(t, model.JobStatusAborted, env.jobs.status(job.ID))
	count, err := env.results.CountByJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestExecutor_Run_ProgressIsMonotonic(t *testing.T) {
	env := &executorEnv{jobs: newMemJobs(), results: newMemResults()}

	gen := &stubGenerator{fn: func(_ context.Context, _ model.ProductContext, subreddit string) (*model.ContentPayload, error) {
		return &model.ContentPayload{Subreddit: subreddit, Title: "t", Body: "b"}, nil
	}}
	exec := newExecutor(t, env, ExecutorOptions{Generator: gen})

	subreddits := make([]string, 7)
	for i := range subreddits {
		subreddits[i] = fmt.Sprintf("sub%d", i)
	}
	req := generateRequest(subreddits)
	job := createJob(t, env.jobs, req)

	exec.Run(context.Background(), job, req)

	assert.Equal(t, model.JobStatusCompleted, env.jobs.status(job.ID))
	stored, err := env.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Progress)
}

func TestProgressPercent(t *testing.T) {
	tests := []struct{ done, total, want int }{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 67},
		{5, 7, 71},
		{3, 3, 100},
		{4, 3, 100},
		{1, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, progressPercent(tt.done, tt.total), "done=%d total=%d", tt.done, tt.total)
	}
}
