package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sublead/sublead-api/config"
	"github.com/sublead/sublead-api/internal/core"
	"github.com/sublead/sublead-api/internal/domain/model"
	apperrors "github.com/sublead/sublead-api/internal/errors"
)

type orchEnv struct {
	jobs    *memJobs
	results *memResults
	quota   *memQuota
	cache   *memCache
	orch    *Orchestrator
}

type orchParams struct {
	trialLimit  int
	generator   core.Generator
	search      core.SearchProvider
	scorer      core.Scorer
	engineCfg   *config.EngineConfig
	baseContext context.Context
}

func newOrchEnv(t *testing.T, p orchParams) *orchEnv {
	t.Helper()

	if p.trialLimit == 0 {
		p.trialLimit = 5
	}
	if p.generator == nil {
		p.generator = &stubGenerator{fn: func(_ context.Context, _ model.ProductContext, subreddit string) (*model.ContentPayload, error) {
			return &model.ContentPayload{Subreddit: subreddit, Title: "t", Body: "b"}, nil
		}}
	}
	cfg := testEngineConfig()
	if p.engineCfg != nil {
		cfg = *p.engineCfg
	}

	env := &orchEnv{
		jobs:    newMemJobs(),
		results: newMemResults(),
		quota:   newMemQuota(p.trialLimit),
		cache:   newMemCache(),
	}

	exec := MustNewExecutor(ExecutorOptions{
		Jobs:      env.jobs,
		Results:   env.results,
		Search:    p.search,
		Scorer:    p.scorer,
		Generator: p.generator,
		Cache:     env.cache,
		Config:    cfg,
	})
	env.orch = MustNewOrchestrator(OrchestratorOptions{
		Jobs:        env.jobs,
		Results:     env.results,
		Quota:       MustNewQuotaService(QuotaServiceOptions{Repo: env.quota}),
		Executor:    exec,
		Cache:       env.cache,
		Config:      cfg,
		BaseContext: p.baseContext,
	})
	return env
}

func (env *orchEnv) waitTerminal(t *testing.T, jobID string, want model.JobStatus) {
	t.Helper()
	require.Eventually(t, func() bool {
		return env.jobs.status(jobID) == want
	}, 2*time.Second, 5*time.Millisecond, "job never reached %s", want)
}

func TestOrchestrator_Submit_RunsJobToCompletion(t *testing.T) {
	env := newOrchEnv(t, orchParams{})
	req := generateRequest([]string{"saas", "startups"})

	job, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, req)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 2, job.TargetCount)

	env.waitTerminal(t, job.ID, model.JobStatusCompleted)

	items, err := env.orch.GetResults(context.Background(), "owner-1", job.ID)
	require.NoError(t, err)
	assert.Len(t, items, 2)
	assert.Equal(t, 1, env.quota.used["owner-1"])
}

func TestOrchestrator_Submit_SearchTargetCount(t *testing.T) {
	cfg := testEngineConfig()
	cfg.CandidatesPerQuery = 10
	env := newOrchEnv(t, orchParams{
		engineCfg: &cfg,
		search: &stubSearch{fn: func(_ context.Context, _ core.SearchQuery) ([]model.Candidate, error) {
			return nil, nil
		}},
		scorer: &stubScorer{fn: func(_ context.Context, _ model.Candidate, _ model.ProductContext) (*model.ScoreResult, error) {
			return &model.ScoreResult{Score: 9}, nil
		}},
	})
	req := searchRequest([]string{"saas", "startups"}, []string{"a", "b", "c"})

	job, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, req)
	require.NoError(t, err)
	// 2 subreddits x 3 keywords, one unit each; progress reports against it.
	assert.Equal(t, 6, job.TargetCount)
	env.waitTerminal(t, job.ID, model.JobStatusCompleted)
}

func TestOrchestrator_Submit_ReturnedRecordNotMutatedByExecutor(t *testing.T) {
	env := newOrchEnv(t, orchParams{})

	job, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial,
		generateRequest([]string{"saas", "startups", "productivity", "smallbusiness", "marketing"}))
	require.NoError(t, err)

	// Serialize the returned record while the detached executor runs; the
	// executor must write its own copy, never this one.
	require.Eventually(t, func() bool {
		if _, mErr := json.Marshal(job); mErr != nil {
			return false
		}
		return env.jobs.status(job.ID) == model.JobStatusCompleted
	}, 2*time.Second, time.Millisecond)

	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Zero(t, job.Progress)
}

func TestOrchestrator_Submit_InitialResultWaitReturnsFreshRecord(t *testing.T) {
	cfg := testEngineConfig()
	cfg.InitialResultWait = 2 * time.Second
	env := newOrchEnv(t, orchParams{engineCfg: &cfg})

	job, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
	require.NoError(t, err)

	// The single unit finishes inside the wait, so the response already
	// carries the terminal state and the result reads back immediately.
	assert.Equal(t, model.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)

	items, err := env.orch.GetResults(context.Background(), "owner-1", job.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestOrchestrator_Submit_RejectsMissingOwner(t *testing.T) {
	env := newOrchEnv(t, orchParams{})

	_, err := env.orch.Submit(context.Background(), "", model.TierTrial, generateRequest([]string{"saas"}))
	assert.True(t, apperrors.IsUnauthorized(err))
	assert.Empty(t, env.quota.used)
}

func TestOrchestrator_Submit_InvalidRequestConsumesNoQuota(t *testing.T) {
	env := newOrchEnv(t, orchParams{})

	bad := &model.SubmitRequest{Kind: model.JobKindSearch}
	_, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, bad)
	require.True(t, apperrors.IsValidation(err))

	_, err = env.orch.Submit(context.Background(), "owner-1", model.TierTrial, nil)
	require.True(t, apperrors.IsValidation(err))

	assert.Empty(t, env.quota.used)
	jobs, err := env.jobs.ListByOwner(context.Background(), "owner-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestOrchestrator_Submit_QuotaExhausted(t *testing.T) {
	env := newOrchEnv(t, orchParams{trialLimit: 1})

	first, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
	require.NoError(t, err)
	env.waitTerminal(t, first.ID, model.JobStatusCompleted)

	_, err = env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
	require.Error(t, err)

	var quotaErr *QuotaExceededError
	require.ErrorAs(t, err, &quotaErr)
	assert.Equal(t, 1, quotaErr.Used)
	assert.Equal(t, 1, quotaErr.Limit)
	assert.True(t, apperrors.IsQuotaExceeded(err))

	jobs, listErr := env.jobs.ListByOwner(context.Background(), "owner-1", 10, 0)
	require.NoError(t, listErr)
	assert.Len(t, jobs, 1)
}

func TestOrchestrator_Submit_ProTierNeverBlocks(t *testing.T) {
	env := newOrchEnv(t, orchParams{trialLimit: 1})

	for i := 0; i < 3; i++ {
		job, err := env.orch.Submit(context.Background(), "owner-1", model.TierPro, generateRequest([]string{"saas"}))
		require.NoError(t, err)
		env.waitTerminal(t, job.ID, model.JobStatusCompleted)
	}
}

func TestOrchestrator_Submit_LedgerFailureFailsClosed(t *testing.T) {
	env := newOrchEnv(t, orchParams{})
	env.quota.err = errors.New("connection refused")

	_, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
	require.Error(t, err)
	assert.True(t, apperrors.IsUnavailable(err))

	jobs, listErr := env.jobs.ListByOwner(context.Background(), "owner-1", 10, 0)
	require.NoError(t, listErr)
	assert.Empty(t, jobs)
}

func TestOrchestrator_Submit_ConcurrentAdmissionsRespectLimit(t *testing.T) {
	const limit = 3
	env := newOrchEnv(t, orchParams{trialLimit: limit})

	var wg sync.WaitGroup
	var mu sync.Mutex
	var admitted, rejected int

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case apperrors.IsQuotaExceeded(err):
				rejected++
			default:
				t.Errorf("unexpected submit error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, admitted)
	assert.Equal(t, 10-limit, rejected)
	assert.Equal(t, limit, env.quota.used["owner-1"])

	require.NoError(t, env.orch.Drain(context.Background()))
}

func TestOrchestrator_Cancel_RunningJob(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	cfg := testEngineConfig()
	cfg.CallTimeout = 30 * time.Second

	env := newOrchEnv(t, orchParams{
		engineCfg: &cfg,
		generator: &stubGenerator{fn: func(ctx context.Context, _ model.ProductContext, _ string) (*model.ContentPayload, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	})

	job, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("executor never started")
	}

	require.NoError(t, env.orch.Cancel(context.Background(), "owner-1", job.ID))
	env.waitTerminal(t, job.ID, model.JobStatusAborted)

	stored, err := env.jobs.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled by owner", stored.Message)
}

func TestOrchestrator_Cancel_CrossTenantIsNotFound(t *testing.T) {
	env := newOrchEnv(t, orchParams{})

	job, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
	require.NoError(t, err)
	env.waitTerminal(t, job.ID, model.JobStatusCompleted)

	err = env.orch.Cancel(context.Background(), "owner-2", job.ID)
	assert.True(t, apperrors.IsNotFound(err))

	err = env.orch.Cancel(context.Background(), "owner-1", "no-such-job")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_Cancel_TerminalJob(t *testing.T) {
	env := newOrchEnv(t, orchParams{})

	job, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
	require.NoError(t, err)
	env.waitTerminal(t, job.ID, model.JobStatusCompleted)

	err = env.orch.Cancel(context.Background(), "owner-1", job.ID)
	assert.True(t, apperrors.IsAlreadyTerminal(err))
	assert.Equal(t, model.JobStatusCompleted, env.jobs.status(job.ID))
}

func TestOrchestrator_Cancel_OrphanedJobAbortsDirectly(t *testing.T) {
	env := newOrchEnv(t, orchParams{})

	// A pending job with no local executor, as after an instance restart.
	job, err := env.jobs.Create(context.Background(), core.CreateJobParams{
		OwnerID: "owner-1",
		Request: generateRequest([]string{"saas"}),
		Message: "queued",
	})
	require.NoError(t, err)

	require.NoError(t, env.orch.Cancel(context.Background(), "owner-1", job.ID))
	assert.Equal(t, model.JobStatusAborted, env.jobs.status(job.ID))

	snap, err := env.cache.GetProgress(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, model.JobStatusAborted, snap.Status)
	assert.Equal(t, "cancelled by owner", snap.Message)
}

func TestOrchestrator_GetStatus_ServedFromCache(t *testing.T) {
	env := newOrchEnv(t, orchParams{})

	require.NoError(t, env.cache.SetProgress(context.Background(), "job-cached", core.ProgressSnapshot{
		OwnerID:  "owner-1",
		Status:   model.JobStatusRunning,
		Progress: 40,
		Message:  "scanning",
	}))

	view, err := env.orch.GetStatus(context.Background(), "owner-1", "job-cached")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, view.Status)
	assert.Equal(t, 40, view.Progress)

	// Another owner's poll of the same id must not leak the snapshot.
	_, err = env.orch.GetStatus(context.Background(), "owner-2", "job-cached")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_GetStatus_FallsBackToRepository(t *testing.T) {
	env := newOrchEnv(t, orchParams{})

	job, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
	require.NoError(t, err)
	env.waitTerminal(t, job.ID, model.JobStatusCompleted)

	require.NoError(t, env.cache.DeleteProgress(context.Background(), job.ID))

	view, err := env.orch.GetStatus(context.Background(), "owner-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, view.Status)
	assert.Equal(t, 100, view.Progress)
}

func TestOrchestrator_GetResults_EnforcesOwnership(t *testing.T) {
	env := newOrchEnv(t, orchParams{})

	job, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
	require.NoError(t, err)
	env.waitTerminal(t, job.ID, model.JobStatusCompleted)

	_, err = env.orch.GetResults(context.Background(), "owner-2", job.ID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestOrchestrator_Drain_AbortsInFlightOnBaseContextCancel(t *testing.T) {
	baseCtx, stopJobs := context.WithCancel(context.Background())
	defer stopJobs()

	started := make(chan struct{})
	var once sync.Once
	cfg := testEngineConfig()
	cfg.CallTimeout = 30 * time.Second

	env := newOrchEnv(t, orchParams{
		engineCfg:   &cfg,
		baseContext: baseCtx,
		generator: &stubGenerator{fn: func(ctx context.Context, _ model.ProductContext, _ string) (*model.ContentPayload, error) {
			once.Do(func() { close(started) })
			<-ctx.Done()
			return nil, ctx.Err()
		}},
	})

	job, err := env.orch.Submit(context.Background(), "owner-1", model.TierTrial, generateRequest([]string{"saas"}))
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("executor never started")
	}

	stopJobs()

	drainCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.orch.Drain(drainCtx))
	assert.Equal(t, model.JobStatusAborted, env.jobs.status(job.ID))
}
