package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Candidate is a raw unit fetched from the discussion-platform search source
// before scoring. It is never persisted; only scored items become results.
type Candidate struct {
	ID        string    `json:"id"`
	Subreddit string    `json:"subreddit"`
	Keyword   string    `json:"keyword,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	Author    string    `json:"author,omitempty"`
	URL       string    `json:"url,omitempty"`
	PostedAt  time.Time `json:"posted_at,omitempty"`
}

// ScoreResult is the scoring collaborator's verdict for one candidate.
type ScoreResult struct {
	Score       float64  `json:"score"`
	Reasons     []string `json:"reasons"`
	SampleReply string   `json:"sample_reply"`
}

// LeadPayload is the persisted payload of a search result: the source post plus
// the computed relevance verdict.
type LeadPayload struct {
	Candidate Candidate `json:"candidate"`
	Score     float64   `json:"score"`
	Reasons   []string  `json:"reasons,omitempty"`
	Reply     string    `json:"sample_reply,omitempty"`
}

// ContentPayload is the persisted payload of a generate result.
type ContentPayload struct {
	Subreddit string `json:"subreddit"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	Category  string `json:"category,omitempty"`
}

// ResultItem is one persisted unit of job output. Items are immutable once
// written; Sequence increases monotonically per job and preserves insertion
// order for prefix-consistent mid-run reads.
type ResultItem struct {
	ID        string          `json:"id"                db:"id"`
	JobID     string          `json:"job_id"            db:"job_id"`
	Sequence  int             `json:"sequence"          db:"sequence"`
	Kind      JobKind         `json:"kind"              db:"kind"`
	Lead      *LeadPayload    `json:"lead,omitempty"`
	Content   *ContentPayload `json:"content,omitempty"`
	CreatedAt time.Time       `json:"created_at"        db:"created_at"`
}

// Validate checks the payload variant matches the item kind.
func (r *ResultItem) Validate() error {
	if r.JobID == "" {
		return errors.New("job id is required")
	}
	if r.Sequence < 1 {
		return errors.New("sequence must be >= 1")
	}
	switch r.Kind {
	case JobKindSearch:
		if r.Lead == nil || r.Content != nil {
			return errors.New("search result must carry exactly a lead payload")
		}
	case JobKindGenerate:
		if r.Content == nil || r.Lead != nil {
			return errors.New("generate result must carry exactly a content payload")
		}
	default:
		return errors.New("invalid result kind")
	}
	return nil
}

// MarshalPayload encodes the kind-specific payload for storage.
func (r *ResultItem) MarshalPayload() ([]byte, error) {
	switch r.Kind {
	case JobKindSearch:
		return json.Marshal(r.Lead)
	case JobKindGenerate:
		return json.Marshal(r.Content)
	default:
		return nil, fmt.Errorf("invalid result kind: %s", r.Kind)
	}
}

// UnmarshalPayload decodes raw stored payload into the variant selected by Kind.
func (r *ResultItem) UnmarshalPayload(raw []byte) error {
	switch r.Kind {
	case JobKindSearch:
		var p LeadPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode lead payload: %w", err)
		}
		r.Lead = &p
		return nil
	case JobKindGenerate:
		var p ContentPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return fmt.Errorf("decode content payload: %w", err)
		}
		r.Content = &p
		return nil
	default:
		return fmt.Errorf("invalid result kind: %s", r.Kind)
	}
}
