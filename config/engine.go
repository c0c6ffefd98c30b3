package config

import "time"

// EngineConfig contains job executor configuration.
type EngineConfig struct {
	// ScoreThreshold is the minimum AI relevance score for a candidate to be
	// persisted as a lead. Search specs may override it per job.
	ScoreThreshold float64 `env:"ENGINE_SCORE_THRESHOLD" envDefault:"5"`

	// CandidatesPerQuery is how many candidates to fetch per subreddit/keyword
	// combination.
	CandidatesPerQuery int `env:"ENGINE_CANDIDATES_PER_QUERY" envDefault:"25"`

	// ScoreConcurrency bounds how many of a search unit's candidates are
	// scored in parallel.
	ScoreConcurrency int `env:"ENGINE_SCORE_CONCURRENCY" envDefault:"4"`

	// CallTimeout bounds each individual collaborator call (search or AI).
	CallTimeout time.Duration `env:"ENGINE_CALL_TIMEOUT" envDefault:"30s"`

	// RetryAttempts is how many extra attempts a transient collaborator
	// failure gets before the job fails.
	RetryAttempts int `env:"ENGINE_RETRY_ATTEMPTS" envDefault:"2"`

	// RetryBackoff is the base delay between retry attempts; attempt n waits
	// n times this value.
	RetryBackoff time.Duration `env:"ENGINE_RETRY_BACKOFF" envDefault:"1s"`

	// InitialResultWait, when positive, is how long Submit blocks waiting for
	// the first results before returning (the job keeps running regardless).
	InitialResultWait time.Duration `env:"ENGINE_INITIAL_RESULT_WAIT" envDefault:"0s"`

	// ProgressTTL is the lifetime of progress cache entries.
	ProgressTTL time.Duration `env:"ENGINE_PROGRESS_TTL" envDefault:"1m"`
}

// Sanitize applies guardrails to engine configuration values.
func (e *EngineConfig) Sanitize() {
	if e.ScoreThreshold < 0 || e.ScoreThreshold > 10 {
		e.ScoreThreshold = 5
	}
	if e.CandidatesPerQuery < 1 {
		e.CandidatesPerQuery = 1
	}
	if e.CandidatesPerQuery > 100 {
		e.CandidatesPerQuery = 100
	}
	if e.ScoreConcurrency < 1 {
		e.ScoreConcurrency = 1
	}
	if e.ScoreConcurrency > 16 {
		e.ScoreConcurrency = 16
	}
	if e.CallTimeout <= 0 {
		e.CallTimeout = 30 * time.Second
	}
	if e.RetryAttempts < 0 {
		e.RetryAttempts = 0
	}
	if e.RetryBackoff <= 0 {
		e.RetryBackoff = time.Second
	}
	if e.InitialResultWait < 0 {
		e.InitialResultWait = 0
	}
	if e.ProgressTTL <= 0 {
		e.ProgressTTL = time.Minute
	}
}

// QuotaConfig contains quota ledger configuration.
type QuotaConfig struct {
	// TrialLimit is the number of jobs a trial-tier owner may submit per period.
	TrialLimit int `env:"QUOTA_TRIAL_LIMIT" envDefault:"5"`
}

// Sanitize applies guardrails to quota configuration values.
func (q *QuotaConfig) Sanitize() {
	if q.TrialLimit < 1 {
		q.TrialLimit = 1
	}
}

// SearchConfig contains discussion-platform search source configuration.
type SearchConfig struct {
	BaseURL   string        `env:"BASE_URL"   envDefault:"https://www.reddit.com"`
	UserAgent string        `env:"USER_AGENT" envDefault:"sublead/1.0"`
	AuthToken string        `env:"AUTH_TOKEN" envDefault:""`
	Timeout   time.Duration `env:"TIMEOUT"    envDefault:"10s"`
}

// AIConfig contains AI service configuration.
type AIConfig struct {
	BaseURL string        `env:"BASE_URL" envDefault:"http://localhost:9090"`
	APIKey  string        `env:"API_KEY"  envDefault:""`
	Model   string        `env:"MODEL"    envDefault:""`
	Timeout time.Duration `env:"TIMEOUT"  envDefault:"30s"`

	// Extraction paths let a provider swap happen in config. Each is a
	// JMESPath expression evaluated against the provider's response JSON.
	ScorePath       string `env:"SCORE_PATH"        envDefault:"score"`
	ReasonsPath     string `env:"REASONS_PATH"      envDefault:"reasons"`
	SampleReplyPath string `env:"SAMPLE_REPLY_PATH" envDefault:"sample_reply"`
	TitlePath       string `env:"TITLE_PATH"        envDefault:"title"`
	BodyPath        string `env:"BODY_PATH"         envDefault:"body"`
	CategoryPath    string `env:"CATEGORY_PATH"     envDefault:"category"`
}
