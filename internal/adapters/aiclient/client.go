// Package aiclient implements the scoring and generation ports against an
// AI completion API. Responses are treated as loosely structured JSON and the
// fields we need are pulled out with configurable JMESPath expressions, so a
// provider swap is a config change rather than a code change.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	apperrors "github.com/sublead/sublead-api/internal/errors"

	"github.com/sublead/sublead-api/internal/domain/model"
)

// ExtractionPaths holds the JMESPath expressions used to pull structured
// fields out of the provider's response JSON.
type ExtractionPaths struct {
	Score       string
	Reasons     string
	SampleReply string
	Title       string
	Body        string
	Category    string
}

// DefaultExtractionPaths matches the response shape of our hosted model.
func DefaultExtractionPaths() ExtractionPaths {
	return ExtractionPaths{
		Score:       "score",
		Reasons:     "reasons",
		SampleReply: "sample_reply",
		Title:       "title",
		Body:        "body",
		Category:    "category",
	}
}

// Config captures the subset of the AI API behaviour we need.
type Config struct {
	// BaseURL is the root of the AI API, e.g. https://ai.internal.example.com.
	BaseURL string
	// APIKey, when set, is sent as a bearer token.
	APIKey  string
	Model   string
	Timeout time.Duration
	Paths   ExtractionPaths
	Client  *http.Client
	Logger  *slog.Logger
}

// Client calls the AI API for candidate scoring and content generation.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	paths   ExtractionPaths
	client  *http.Client
	logger  *slog.Logger
}

// NewClient builds an AI client. Extraction paths are compiled up front so a
// bad expression fails at startup, not mid-job.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("ai base url is required")
	}

	paths := cfg.Paths
	if paths == (ExtractionPaths{}) {
		paths = DefaultExtractionPaths()
	}
	for name, expr := range map[string]string{
		"score":        paths.Score,
		"reasons":      paths.Reasons,
		"sample_reply": paths.SampleReply,
		"title":        paths.Title,
		"body":         paths.Body,
		"category":     paths.Category,
	} {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		if _, err := jmespath.Compile(expr); err != nil {
			return nil, fmt.Errorf("invalid %s extraction path: %w", name, err)
		}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(cfg.APIKey),
		model:   strings.TrimSpace(cfg.Model),
		paths:   paths,
		client:  hc,
		logger:  logger.With("component", "ai_client"),
	}, nil
}

type scoreRequest struct {
	Model     string       `json:"model,omitempty"`
	Task      string       `json:"task"`
	Candidate scoreInput   `json:"candidate"`
	Product   productInput `json:"product"`
}

type scoreInput struct {
	Subreddit string `json:"subreddit"`
	Keyword   string `json:"keyword"`
	Title     string `json:"title"`
	Body      string `json:"body"`
}

type productInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url,omitempty"`
}

type generateRequest struct {
	Model     string       `json:"model,omitempty"`
	Task      string       `json:"task"`
	Subreddit string       `json:"subreddit"`
	Product   productInput `json:"product"`
}

// Score asks the AI service how relevant a candidate is to the product.
func (c *Client) Score(
	ctx context.Context,
	candidate model.Candidate,
	product model.ProductContext,
) (*model.ScoreResult, error) {
	payload := scoreRequest{
		Model: c.model,
		Task:  "score_lead",
		Candidate: scoreInput{
			Subreddit: candidate.Subreddit,
			Keyword:   candidate.Keyword,
			Title:     candidate.Title,
			Body:      candidate.Body,
		},
		Product: productInput{
			Name:        product.Name,
			Description: product.Description,
			URL:         product.URL,
		},
	}

	data, err := c.post(ctx, "/v1/score", payload)
	if err != nil {
		return nil, err
	}

	score, err := c.extractNumber(data, c.paths.Score)
	if err != nil {
		return nil, fmt.Errorf("extract score: %w", err)
	}
	reasons, err := c.extractStrings(data, c.paths.Reasons)
	if err != nil {
		return nil, fmt.Errorf("extract reasons: %w", err)
	}
	reply, err := c.extractString(data, c.paths.SampleReply)
	if err != nil {
		return nil, fmt.Errorf("extract sample reply: %w", err)
	}

	return &model.ScoreResult{
		Score:       score,
		Reasons:     reasons,
		SampleReply: reply,
	}, nil
}

// Generate asks the AI service for one post tailored to a subreddit.
func (c *Client) Generate(
	ctx context.Context,
	product model.ProductContext,
	subreddit string,
) (*model.ContentPayload, error) {
	payload := generateRequest{
		Model:     c.model,
		Task:      "generate_post",
		Subreddit: subreddit,
		Product: productInput{
			Name:        product.Name,
			Description: product.Description,
			URL:         product.URL,
		},
	}

	data, err := c.post(ctx, "/v1/generate", payload)
	if err != nil {
		return nil, err
	}

	title, err := c.extractString(data, c.paths.Title)
	if err != nil {
		return nil, fmt.Errorf("extract title: %w", err)
	}
	body, err := c.extractString(data, c.paths.Body)
	if err != nil {
		return nil, fmt.Errorf("extract body: %w", err)
	}
	category, err := c.extractString(data, c.paths.Category)
	if err != nil {
		return nil, fmt.Errorf("extract category: %w", err)
	}
	if title == "" || body == "" {
		return nil, apperrors.Wrap(
			errors.New("response missing title or body"),
			apperrors.ErrCodeUnavailable,
			"ai service returned unusable content",
		)
	}

	return &model.ContentPayload{
		Subreddit: subreddit,
		Title:     title,
		Body:      body,
		Category:  category,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) (any, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode ai request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ai request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "ai service unreachable")
	}

	respBody, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read ai response: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close response body: %w", closeErr)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("ai service returned error", "status", resp.StatusCode, "path", path)
		detail := fmt.Errorf("ai service %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return nil, apperrors.Unauthorized("ai service rejected credentials")
		default:
			return nil, apperrors.Wrap(detail, apperrors.ErrCodeUnavailable, "ai service error")
		}
	}

	var data any
	if unmarshalErr := json.Unmarshal(respBody, &data); unmarshalErr != nil {
		return nil, fmt.Errorf("decode ai response: %w", unmarshalErr)
	}
	return data, nil
}

func (c *Client) extractNumber(data any, expr string) (float64, error) {
	res, err := jmespath.Search(expr, data)
	if err != nil {
		return 0, err
	}
	num, ok := res.(float64)
	if !ok {
		return 0, fmt.Errorf("path %q did not resolve to a number (got %T)", expr, res)
	}
	return num, nil
}

func (c *Client) extractString(data any, expr string) (string, error) {
	if strings.TrimSpace(expr) == "" {
		return "", nil
	}
	res, err := jmespath.Search(expr, data)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", nil
	}
	s, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("path %q did not resolve to a string (got %T)", expr, res)
	}
	return s, nil
}

func (c *Client) extractStrings(data any, expr string) ([]string, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, nil
	}
	res, err := jmespath.Search(expr, data)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	items, ok := res.([]any)
	if !ok {
		return nil, fmt.Errorf("path %q did not resolve to a list (got %T)", expr, res)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, itemOK := item.(string)
		if !itemOK {
			return nil, fmt.Errorf("path %q contains a non-string element (%T)", expr, item)
		}
		out = append(out, s)
	}
	return out, nil
}
