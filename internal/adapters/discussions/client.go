// Package discussions implements the search-provider port against the
// discussion platform's public search API. The platform is consumed as a
// black box: callers get candidates or an error, never raw transport detail.
package discussions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/sublead/sublead-api/internal/errors"

	"github.com/sublead/sublead-api/internal/core"
	"github.com/sublead/sublead-api/internal/domain/model"
)

const defaultQueryLimit = 25

// Config captures the subset of search API behaviour we need.
type Config struct {
	// BaseURL is the root of the search API, e.g. https://api.example.com.
	BaseURL string
	// UserAgent identifies us to the platform; required by its API terms.
	UserAgent string
	// AuthToken, when set, is sent as a bearer token.
	AuthToken string
	Timeout   time.Duration
	Client    *http.Client
	Logger    *slog.Logger
}

// Client queries the discussion platform for candidate posts.
type Client struct {
	baseURL   string
	userAgent string
	authToken string
	client    *http.Client
	logger    *slog.Logger
}

// NewClient builds a search client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("search base url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse search base url: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
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
		baseURL:   baseURL,
		userAgent: strings.TrimSpace(cfg.UserAgent),
		authToken: strings.TrimSpace(cfg.AuthToken),
		client:    hc,
		logger:    logger.With("component", "discussions_client"),
	}, nil
}

// listing mirrors the platform's search response shape.
type listing struct {
	Data struct {
		Children []struct {
			Data candidatePost `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type candidatePost struct {
	ID         string  `json:"id"`
	Subreddit  string  `json:"subreddit"`
	Title      string  `json:"title"`
	SelfText   string  `json:"selftext"`
	Author     string  `json:"author"`
	Permalink  string  `json:"permalink"`
	CreatedUTC float64 `json:"created_utc"`
}

// Query fetches candidates for one subreddit/keyword combination.
func (c *Client) Query(ctx context.Context, q core.SearchQuery) ([]model.Candidate, error) {
	if q.Subreddit == "" || q.Keyword == "" {
		return nil, apperrors.Validation("subreddit and keyword are required")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	endpoint := fmt.Sprintf("%s/r/%s/search.json", c.baseURL, url.PathEscape(q.Subreddit))
	params := url.Values{}
	params.Set("q", q.Keyword)
	params.Set("restrict_sr", "1")
	params.Set("sort", "new")
	params.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "search source unreachable")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.handleErrorResponse(resp, q)
	}

	body, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read search response: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close response body: %w", closeErr)
	}

	var page listing
	if unmarshalErr := json.Unmarshal(body, &page); unmarshalErr != nil {
		return nil, fmt.Errorf("decode search response: %w", unmarshalErr)
	}

	candidates := make([]model.Candidate, 0, len(page.Data.Children))
	for _, child := range page.Data.Children {
		post := child.Data
		if post.ID == "" {
			continue
		}
		candidates = append(candidates, model.Candidate{
			ID:        post.ID,
			Subreddit: post.Subreddit,
			Keyword:   q.Keyword,
			Title:     post.Title,
			Body:      post.SelfText,
			Author:    post.Author,
			URL:       c.absoluteURL(post.Permalink),
			PostedAt:  time.Unix(int64(post.CreatedUTC), 0).UTC(),
		})
	}
	return candidates, nil
}

func (c *Client) absoluteURL(permalink string) string {
	if permalink == "" || strings.HasPrefix(permalink, "http") {
		return permalink
	}
	return c.baseURL + permalink
}

func (c *Client) handleErrorResponse(resp *http.Response, q core.SearchQuery) error {
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
	closeErr := resp.Body.Close()
	if readErr != nil {
		return fmt.Errorf("read search error response: %w", readErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close response body: %w", closeErr)
	}

	c.logger.Warn("search source returned error",
		"status", resp.StatusCode,
		"subreddit", q.Subreddit,
		"keyword", q.Keyword,
	)

	detail := fmt.Errorf("search source %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		// Bad credentials never fix themselves on retry.
		return apperrors.Unauthorized("search source rejected credentials")
	default:
		return apperrors.Wrap(detail, apperrors.ErrCodeUnavailable, "search source error")
	}
}
