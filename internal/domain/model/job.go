// Package model defines the core data types and structures used throughout the sublead job engine.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobKind represents the kind of job to be executed.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type JobKind string

// JobStatus represents the current status of a job.
type JobStatus string

const (
	// JobKindSearch represents a lead-discovery search job.
	JobKindSearch JobKind = "search"
	// JobKindGenerate represents a bulk content-generation job.
	JobKindGenerate JobKind = "generate"

	// JobStatusPending indicates a job was admitted but its executor has not started.
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning indicates a job is currently being processed.
	JobStatusRunning JobStatus = "running"
	// JobStatusCompleted indicates a job finished all units without error.
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed indicates a job stopped on an unrecoverable error.
	JobStatusFailed JobStatus = "failed"
	// JobStatusAborted indicates a job stopped because its owner cancelled it.
	JobStatusAborted JobStatus = "aborted"
)

// UnmarshalText implements encoding.TextUnmarshaler for JobKind to allow env parsing.
func (k *JobKind) UnmarshalText(text []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(text)))
	jk := JobKind(v)
	if jk.Valid() {
		*k = jk
		return nil
	}
	return fmt.Errorf("invalid JobKind: %q", v)
}

// Valid returns true if the JobKind is valid.
func (k JobKind) Valid() bool {
	return k == JobKindSearch || k == JobKindGenerate
}

// Valid returns true if the JobStatus is valid.
func (s JobStatus) Valid() bool {
	return s == JobStatusPending || s == JobStatusRunning || s == JobStatusCompleted ||
		s == JobStatusFailed || s == JobStatusAborted
}

// Terminal returns true once a job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusAborted
}

// CanTransitionTo reports whether moving from s to next is a legal forward-only transition.
// Terminal states never transition anywhere.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusRunning || next == JobStatusAborted
	case JobStatusRunning:
		return next.Terminal()
	case JobStatusCompleted, JobStatusFailed, JobStatusAborted:
		return false
	default:
		return false
	}
}

// Job represents a tracked engine invocation from submission to terminal state.
// A job's status/progress are mutated only by the single executor that owns it.
type Job struct {
	ID          string     `json:"id"                     db:"id"`
	OwnerID     string     `json:"owner_id"               db:"owner_id"`
	Kind        JobKind    `json:"kind"                   db:"kind"`
	Status      JobStatus  `json:"status"                 db:"status"`
	Progress    int        `json:"progress"               db:"progress"`
	Message     string     `json:"message"                db:"message"`
	TargetCount int        `json:"target_count"           db:"target_count"`
	CreatedAt   time.Time  `json:"created_at"             db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"             db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// JobStatusView is the cheap polling read surface: status, progress, and current activity.
type JobStatusView struct {
	Status   JobStatus `json:"status"`
	Progress int       `json:"progress"`
	Message  string    `json:"message"`
}

// StatusView projects the pollable fields from a job.
func (j *Job) StatusView() *JobStatusView {
	return &JobStatusView{
		Status:   j.Status,
		Progress: j.Progress,
		Message:  j.Message,
	}
}

// ProductContext describes the product being promoted; it is threaded through
// scoring and generation calls so the AI collaborator has grounding.
type ProductContext struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

// Validate validates the product context.
func (p *ProductContext) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("product name is required")
	}
	if strings.TrimSpace(p.Description) == "" {
		return errors.New("product description is required")
	}
	return nil
}

// SearchSpec describes a lead-discovery job: keywords crossed with subreddits.
type SearchSpec struct {
	Keywords   []string       `json:"keywords"`
	Subreddits []string       `json:"subreddits"`
	Product    ProductContext `json:"product"`
	// MinScore overrides the engine's inclusion threshold when > 0.
	MinScore float64 `json:"min_score,omitempty"`
}

// Validate validates the search spec fields.
func (s *SearchSpec) Validate() error {
	if len(compactStrings(s.Keywords)) == 0 {
		return errors.New("at least one keyword is required")
	}
	if len(compactStrings(s.Subreddits)) == 0 {
		return errors.New("at least one subreddit is required")
	}
	if s.MinScore < 0 || s.MinScore > 10 {
		return errors.New("min_score must be between 0 and 10")
	}
	return s.Product.Validate()
}

// Units returns the number of subreddit/keyword combinations the job will scan.
func (s *SearchSpec) Units() int {
	return len(compactStrings(s.Subreddits)) * len(compactStrings(s.Keywords))
}

// GenerateSpec describes a bulk content-generation job: one item per target subreddit.
type GenerateSpec struct {
	Subreddits []string       `json:"subreddits"`
	Product    ProductContext `json:"product"`
}

// Validate validates the generate spec fields.
func (g *GenerateSpec) Validate() error {
	if len(compactStrings(g.Subreddits)) == 0 {
		return errors.New("at least one target subreddit is required")
	}
	return g.Product.Validate()
}

// Units returns the number of content items the job will produce.
func (g *GenerateSpec) Units() int {
	return len(compactStrings(g.Subreddits))
}

// SubmitRequest is the tagged submission payload: exactly one of Search or
// Generate must be set, matching Kind. Validated at the Submit boundary rather
// than trusted implicitly.
type SubmitRequest struct {
	Kind     JobKind       `json:"kind"`
	Search   *SearchSpec   `json:"search,omitempty"`
	Generate *GenerateSpec `json:"generate,omitempty"`
}

// Validate validates the SubmitRequest fields.
func (r *SubmitRequest) Validate() error {
	if !r.Kind.Valid() {
		return errors.New("invalid job kind")
	}
	switch r.Kind {
	case JobKindSearch:
		if r.Search == nil {
			return errors.New("search spec is required for search jobs")
		}
		if r.Generate != nil {
			return errors.New("generate spec must not be set for search jobs")
		}
		return r.Search.Validate()
	case JobKindGenerate:
		if r.Generate == nil {
			return errors.New("generate spec is required for generate jobs")
		}
		if r.Search != nil {
			return errors.New("search spec must not be set for generate jobs")
		}
		return r.Generate.Validate()
	default:
		return errors.New("invalid job kind")
	}
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// NormalizedSubreddits returns the trimmed, non-empty subreddit list for a request.
func (r *SubmitRequest) NormalizedSubreddits() []string {
	switch r.Kind {
	case JobKindSearch:
		if r.Search != nil {
			return compactStrings(r.Search.Subreddits)
		}
	case JobKindGenerate:
		if r.Generate != nil {
			return compactStrings(r.Generate.Subreddits)
		}
	}
	return nil
}

// NormalizedKeywords returns the trimmed, non-empty keyword list for a search request.
func (r *SubmitRequest) NormalizedKeywords() []string {
	if r.Kind == JobKindSearch && r.Search != nil {
		return compactStrings(r.Search.Keywords)
	}
	return nil
}
