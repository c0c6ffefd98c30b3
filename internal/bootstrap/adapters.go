package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/sublead/sublead-api/config"
	"github.com/sublead/sublead-api/internal/adapters/aiclient"
	"github.com/sublead/sublead-api/internal/adapters/discussions"
	"github.com/sublead/sublead-api/internal/adapters/redisstore"
	"github.com/sublead/sublead-api/internal/observability/statsd"
)

// buildMetricsSink configures the StatsD client when metrics are enabled.
// A nil sink is fine everywhere; call sites never need guards.
func buildMetricsSink(logger *slog.Logger, cfg config.ObservabilityMetricsConfig) *statsd.Client {
	if !cfg.IsEnabled() {
		return nil
	}

	client, err := statsd.NewClient(statsd.Config{
		Enabled: true,
		Address: cfg.StatsdAddress,
		Prefix:  cfg.StatsdPrefix,
		Logger:  logger,
	})
	if err != nil {
		if logger != nil {
			logger.Error("failed to initialise statsd client", "error", err)
		}
		return nil
	}
	return client
}

// buildSearchProvider constructs the discussion-platform search client.
func buildSearchProvider(cfg config.SearchConfig, logger *slog.Logger) (*discussions.Client, error) {
	client, err := discussions.NewClient(discussions.Config{
		BaseURL:   cfg.BaseURL,
		UserAgent: cfg.UserAgent,
		AuthToken: cfg.AuthToken,
		Timeout:   cfg.Timeout,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create search client: %w", err)
	}
	return client, nil
}

// buildAIClient constructs the AI client used for scoring and generation.
// Extraction paths come from config so a provider swap needs no code change.
func buildAIClient(cfg config.AIConfig, logger *slog.Logger) (*aiclient.Client, error) {
	client, err := aiclient.NewClient(aiclient.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
		Paths: aiclient.ExtractionPaths{
			Score:       cfg.ScorePath,
			Reasons:     cfg.ReasonsPath,
			SampleReply: cfg.SampleReplyPath,
			Title:       cfg.TitlePath,
			Body:        cfg.BodyPath,
			Category:    cfg.CategoryPath,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create ai client: %w", err)
	}
	return client, nil
}

// buildSessionStore constructs the Redis-backed session store.
func buildSessionStore(client redis.UniversalClient) *redisstore.SessionStore {
	return redisstore.NewSessionStore(client)
}

// buildProgressCache constructs the Redis-backed progress mirror.
func buildProgressCache(client redis.UniversalClient, cfg config.EngineConfig) *redisstore.ProgressCache {
	return redisstore.NewProgressCache(client, cfg.ProgressTTL)
}
