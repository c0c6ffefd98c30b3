package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sublead/sublead-api/internal/core"
	"github.com/sublead/sublead-api/internal/data"
	"github.com/sublead/sublead-api/internal/domain/model"
)

// memJobs is an in-memory JobRepository enforcing the same transition rules as
// the SQL implementation.
type memJobs struct {
	mu   sync.Mutex
	seq  int
	jobs map[string]*model.Job
	reqs map[string]*model.SubmitRequest
}

func newMemJobs() *memJobs {
	return &memJobs{
		jobs: make(map[string]*model.Job),
		reqs: make(map[string]*model.SubmitRequest),
	}
}

func (m *memJobs) Create(_ context.Context, params core.CreateJobParams) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	now := time.Now().UTC()
	job := &model.Job{
		ID:          fmt.Sprintf("job-%d", m.seq),
		OwnerID:     params.OwnerID,
		Kind:        params.Request.Kind,
		Status:      model.JobStatusPending,
		Message:     params.Message,
		TargetCount: params.TargetCount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.jobs[job.ID] = job
	m.reqs[job.ID] = params.Request
	return cloneJob(job), nil
}

func (m *memJobs) GetByID(_ context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *memJobs) GetByOwner(_ context.Context, id, ownerID string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok || job.OwnerID != ownerID {
		return nil, data.ErrJobNotFound
	}
	return cloneJob(job), nil
}

func (m *memJobs) GetRequest(_ context.Context, id string) (*model.SubmitRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.reqs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	return req, nil
}

func (m *memJobs) ListByOwner(_ context.Context, ownerID string, limit, _ int) ([]*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Job, 0)
	for _, job := range m.jobs {
		if job.OwnerID == ownerID {
			out = append(out, cloneJob(job))
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memJobs) UpdateProgress(_ context.Context, params core.UpdateProgressParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[params.JobID]
	if !ok {
		return data.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return data.ErrJobTerminal
	}
	if params.Progress > job.Progress {
		job.Progress = params.Progress
	}
	job.Message = params.Message
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memJobs) Transition(_ context.Context, id string, next model.JobStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return false, data.ErrJobNotFound
	}
	if job.Status.Terminal() {
		return false, nil
	}
	if !job.Status.CanTransitionTo(next) {
		return false, data.ErrInvalidTransition
	}
	job.Status = next
	job.UpdatedAt = time.Now().UTC()
	if next.Terminal() {
		now := time.Now().UTC()
		job.CompletedAt = &now
	}
	return true, nil
}

func (m *memJobs) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
	delete(m.reqs, id)
	return nil
}

// status returns the current status without copying the whole record.
func (m *memJobs) status(id string) model.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ""
	}
	return job.Status
}

func cloneJob(j *model.Job) *model.Job {
	c := *j
	return &c
}

// memResults is an in-memory append-only ResultRepository.
type memResults struct {
	mu    sync.Mutex
	items map[string][]*model.ResultItem
}

func newMemResults() *memResults {
	return &memResults{items: make(map[string][]*model.ResultItem)}
}

func (m *memResults) Append(_ context.Context, item *model.ResultItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *item
	c.CreatedAt = time.Now().UTC()
	m.items[item.JobID] = append(m.items[item.JobID], &c)
	return nil
}

func (m *memResults) ReadAll(_ context.Context, jobID string) ([]*model.ResultItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.ResultItem, len(m.items[jobID]))
	copy(out, m.items[jobID])
	return out, nil
}

func (m *memResults) CountByJob(_ context.Context, jobID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items[jobID]), nil
}

// memQuota is an in-memory QuotaRepository with the same atomic
// check-and-reserve semantics as the SQL implementation.
type memQuota struct {
	mu         sync.Mutex
	trialLimit int
	used       map[string]int
	err        error
}

func newMemQuota(trialLimit int) *memQuota {
	return &memQuota{trialLimit: trialLimit, used: make(map[string]int)}
}

func (m *memQuota) CheckAndReserve(_ context.Context, ownerID string, tier model.Tier) (*model.QuotaDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if tier.Unlimited() {
		m.used[ownerID]++
		return &model.QuotaDecision{Allowed: true, Used: m.used[ownerID], Limit: model.UnlimitedQuota}, nil
	}
	limit := m.trialLimit
	if tier == model.TierExpired {
		limit = 0
	}
	if m.used[ownerID] >= limit {
		return &model.QuotaDecision{Allowed: false, Used: m.used[ownerID], Limit: limit}, nil
	}
	m.used[ownerID]++
	return &model.QuotaDecision{Allowed: true, Used: m.used[ownerID], Limit: limit}, nil
}

func (m *memQuota) Get(_ context.Context, ownerID string) (*model.QuotaRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	used, ok := m.used[ownerID]
	if !ok {
		return nil, data.ErrQuotaNotFound
	}
	return &model.QuotaRecord{OwnerID: ownerID, Tier: model.TierTrial, Used: used, Limit: m.trialLimit}, nil
}

func (m *memQuota) Reset(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used[ownerID] = 0
	return nil
}

// memCache is an in-memory ProgressCache.
type memCache struct {
	mu    sync.Mutex
	snaps map[string]core.ProgressSnapshot
}

func newMemCache() *memCache {
	return &memCache{snaps: make(map[string]core.ProgressSnapshot)}
}

func (m *memCache) SetProgress(_ context.Context, jobID string, snap core.ProgressSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[jobID] = snap
	return nil
}

func (m *memCache) GetProgress(_ context.Context, jobID string) (*core.ProgressSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[jobID]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

func (m *memCache) DeleteProgress(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, jobID)
	return nil
}

// Stub collaborators.

type stubSearch struct {
	fn func(ctx context.Context, q core.SearchQuery) ([]model.Candidate, error)
}

func (s *stubSearch) Query(ctx context.Context, q core.SearchQuery) ([]model.Candidate, error) {
	return s.fn(ctx, q)
}

type stubScorer struct {
	fn func(ctx context.Context, c model.Candidate, p model.ProductContext) (*model.ScoreResult, error)
}

func (s *stubScorer) Score(ctx context.Context, c model.Candidate, p model.ProductContext) (*model.ScoreResult, error) {
	return s.fn(ctx, c, p)
}

type stubGenerator struct {
	fn func(ctx context.Context, p model.ProductContext, subreddit string) (*model.ContentPayload, error)
}

func (s *stubGenerator) Generate(ctx context.Context, p model.ProductContext, subreddit string) (*model.ContentPayload, error) {
	return s.fn(ctx, p, subreddit)
}

var (
	_ core.JobRepository    = (*memJobs)(nil)
	_ core.ResultRepository = (*memResults)(nil)
	_ core.QuotaRepository  = (*memQuota)(nil)
	_ core.ProgressCache    = (*memCache)(nil)
	_ core.SearchProvider   = (*stubSearch)(nil)
	_ core.Scorer           = (*stubScorer)(nil)
	_ core.Generator        = (*stubGenerator)(nil)
)
