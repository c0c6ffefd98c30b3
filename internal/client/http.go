package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sublead/sublead-api/internal/domain/model"
	apperrors "github.com/sublead/sublead-api/internal/errors"
)

// HTTPFetcherConfig captures what the HTTP status fetcher needs.
type HTTPFetcherConfig struct {
	// BaseURL is the API root, e.g. https://app.example.com.
	BaseURL string
	// SessionCookie is the cookie name carrying the session token.
	SessionCookie string
	// SessionToken authenticates the polling owner.
	SessionToken string
	Timeout      time.Duration
	Client       *http.Client
}

// HTTPFetcher fetches job status over the public API.
type HTTPFetcher struct {
	baseURL       string
	sessionCookie string
	sessionToken  string
	client        *http.Client
}

var _ StatusFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher builds an HTTP-backed status fetcher.
func NewHTTPFetcher(cfg HTTPFetcherConfig) (*HTTPFetcher, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base url is required")
	}

	cookie := strings.TrimSpace(cfg.SessionCookie)
	if cookie == "" {
		cookie = "sublead_session"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	return &HTTPFetcher{
		baseURL:       baseURL,
		sessionCookie: cookie,
		sessionToken:  strings.TrimSpace(cfg.SessionToken),
		client:        hc,
	}, nil
}

// FetchStatus performs one GET of the job's status endpoint.
func (f *HTTPFetcher) FetchStatus(ctx context.Context, jobID string) (*model.JobStatusView, error) {
	endpoint := fmt.Sprintf("%s/api/jobs/%s/status", f.baseURL, jobID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create status request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if f.sessionToken != "" {
		req.AddCookie(&http.Cookie{Name: f.sessionCookie, Value: f.sessionToken})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeUnavailable, "status endpoint unreachable")
	}

	body, err := io.ReadAll(resp.Body)
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read status response: %w", err)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("close response body: %w", closeErr)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, apperrors.Unauthorized("session rejected")
	case http.StatusNotFound:
		return nil, apperrors.NotFound("job not found")
	default:
		detail := fmt.Errorf("status endpoint %s: %s", resp.Status, strings.TrimSpace(string(body)))
		return nil, apperrors.Wrap(detail, apperrors.ErrCodeUnavailable, "status endpoint error")
	}

	var view model.JobStatusView
	if unmarshalErr := json.Unmarshal(body, &view); unmarshalErr != nil {
		return nil, fmt.Errorf("decode status response: %w", unmarshalErr)
	}
	return &view, nil
}
