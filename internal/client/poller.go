// Package client implements the job-tracking client contract: a fixed-cadence
// status poller with an independent fallback deadline, plus an HTTP fetcher
// speaking the public API.
package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sublead/sublead-api/internal/domain/model"
	apperrors "github.com/sublead/sublead-api/internal/errors"
)

const (
	defaultPollInterval     = time.Second
	defaultFallbackDeadline = 30 * time.Second
)

// StatusFetcher fetches the pollable view of one job.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, jobID string) (*model.JobStatusView, error)
}

// PollerOptions groups dependencies for Poller.
type PollerOptions struct {
	Fetcher StatusFetcher // Required: status source
	// Interval is the poll cadence. Defaults to 1s.
	Interval time.Duration
	// FallbackDeadline bounds the whole poll independently of progress; when
	// it fires the poller gives up without treating the job as failed.
	// Defaults to 30s.
	FallbackDeadline time.Duration
	Logger           *slog.Logger // Optional: structured logger
}

// Poller tracks a job until it reaches a terminal state or the fallback
// deadline fires, whichever comes first.
//
// Transient fetch failures are tolerated: a missed poll burns deadline budget
// but never ends tracking. An authentication failure ends tracking
// immediately, since no further poll can succeed.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	deadline time.Duration
	logger   *slog.Logger
}

// PollOutcome is the final word on one tracked job.
type PollOutcome struct {
	// View is the last status observed, nil if no poll ever succeeded.
	View *model.JobStatusView
	// TimedOut is set when the fallback deadline fired before a terminal
	// status was observed. The job itself may still be running server-side.
	TimedOut bool
}

// NewPoller constructs a new Poller.
func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("StatusFetcher is required")
	}

	interval := opts.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := opts.FallbackDeadline
	if deadline <= 0 {
		deadline = defaultFallbackDeadline
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "job_poller")
	}

	return &Poller{
		fetcher:  opts.Fetcher,
		interval: interval,
		deadline: deadline,
		logger:   logger,
	}, nil
}

// Poll tracks jobID until terminal, deadline, or ctx cancellation. The
// deadline clock starts now and runs independently of poll successes.
func (p *Poller) Poll(ctx context.Context, jobID string) (*PollOutcome, error) {
	fallback := time.NewTimer(p.deadline)
	defer fallback.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var lastView *model.JobStatusView

	// First poll happens immediately rather than one interval in.
	if outcome, err, done := p.pollOnce(ctx, jobID, &lastView); done {
		return outcome, err
	}

	for {
		select {
		case <-ctx.Done():
			return &PollOutcome{View: lastView}, ctx.Err()

		case <-fallback.C:
			if p.logger != nil {
				p.logger.WarnContext(ctx, "gave up tracking job after fallback deadline",
					"job_id", jobID,
					"deadline", p.deadline,
				)
			}
			return &PollOutcome{View: lastView, TimedOut: true}, nil

		case <-ticker.C:
			if outcome, err, done := p.pollOnce(ctx, jobID, &lastView); done {
				return outcome, err
			}
		}
	}
}

// pollOnce performs a single fetch. done reports whether tracking is over.
func (p *Poller) pollOnce(
	ctx context.Context,
	jobID string,
	lastView **model.JobStatusView,
) (*PollOutcome, error, bool) {
	view, err := p.fetcher.FetchStatus(ctx, jobID)
	if err != nil {
		if apperrors.IsUnauthorized(err) {
			// The session is gone; every subsequent poll would fail the same way.
			return &PollOutcome{View: *lastView}, err, true
		}
		if ctx.Err() != nil {
			return &PollOutcome{View: *lastView}, ctx.Err(), true
		}
		if p.logger != nil {
			p.logger.DebugContext(ctx, "poll failed, will retry", "job_id", jobID, "error", err)
		}
		return nil, nil, false
	}

	*lastView = view
	if view.Status.Terminal() {
		return &PollOutcome{View: view}, nil, true
	}
	return nil, nil, false
}
