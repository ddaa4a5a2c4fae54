// Package knowledge retrieves canonical phenotype profiles for grounded
// diseases from a Monarch-style association service.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/raredx/raredx-agency/internal/diagnostic"
)

const (
	DefaultBaseURL            = "https://api.monarchinitiative.org/v3/api"
	DefaultPhenotypeLimit     = 80
	DefaultRateLimitPerMinute = 60
)

// ErrUnavailable marks an infrastructure failure: the association service
// could not be reached or kept answering with server errors. Callers
// distinguish this from an ordinary empty profile.
var ErrUnavailable = errors.New("association service unavailable")

type Config struct {
	BaseURL            string
	Limit              int
	RateLimitPerMinute int
	HTTPClient         *http.Client
}

// Client fetches disease→phenotype associations. A retrieval miss (no
// associations, malformed rows) yields an empty set; only transport-level
// breakage is reported as an error.
type Client struct {
	cfg     Config
	limiter <-chan time.Time
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultPhenotypeLimit
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	interval := time.Minute / time.Duration(cfg.RateLimitPerMinute)
	ticker := time.NewTicker(interval)
	return &Client{cfg: cfg, limiter: ticker.C}
}

type associationResponse struct {
	Items []struct {
		Subject   string `json:"subject"`
		Predicate string `json:"predicate"`
		Object    string `json:"object"`
	} `json:"items"`
	Total int `json:"total"`
}

// FetchPhenotypes returns up to the configured limit of phenotype terms
// associated with mondoID, in the order the service streams them. The
// cutoff is a hard truncation. A failed or empty query returns an empty
// set after logging; repeated server-side failure returns ErrUnavailable.
func (c *Client) FetchPhenotypes(ctx context.Context, mondoID string) (diagnostic.TermSet, error) {
	if strings.TrimSpace(mondoID) == "" {
		return diagnostic.TermSet{}, nil
	}
	if err := c.waitRateLimit(ctx); err != nil {
		return nil, err
	}

	resp, statusCode, err := c.executeWithRetry(ctx, mondoID)
	if err != nil {
		if statusCode >= 500 || statusCode == 0 {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		// Client-side rejection (bad ID form and the like) is a retrieval
		// miss, not an outage.
		log.Printf("raredx knowledge retrieval_miss mondo_id=%s status=%d err=%q", mondoID, statusCode, err.Error())
		return diagnostic.TermSet{}, nil
	}

	terms := diagnostic.TermSet{}
	for _, item := range resp.Items {
		if len(terms) >= c.cfg.Limit {
			break
		}
		obj := strings.TrimSpace(item.Object)
		if obj == "" {
			continue
		}
		terms[obj] = struct{}{}
	}
	if len(terms) == 0 {
		log.Printf("raredx knowledge empty_profile mondo_id=%s total=%d", mondoID, resp.Total)
	}
	return terms, nil
}

func (c *Client) waitRateLimit(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.limiter:
		return nil
	}
}

func (c *Client) executeWithRetry(ctx context.Context, mondoID string) (associationResponse, int, error) {
	var lastErr error
	statusCode := 0
	for attempt := 1; attempt <= 4; attempt++ {
		resp, code, retryAfter, err := c.executeOnce(ctx, mondoID)
		statusCode = code
		if err == nil {
			return resp, statusCode, nil
		}
		lastErr = err

		if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
			return associationResponse{}, statusCode, err
		}
		if attempt == 4 {
			break
		}
		sleep := retryAfter
		if sleep <= 0 {
			sleep = backoffDelay(attempt)
		}
		if err := sleepCtx(ctx, sleep); err != nil {
			return associationResponse{}, statusCode, err
		}
	}
	return associationResponse{}, statusCode, lastErr
}

func (c *Client) executeOnce(ctx context.Context, mondoID string) (associationResponse, int, time.Duration, error) {
	q := url.Values{}
	q.Set("subject", mondoID)
	q.Set("limit", strconv.Itoa(c.cfg.Limit))
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/association?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return associationResponse{}, 0, 0, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return associationResponse{}, 0, 0, err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<20))

	retryAfter := parseRetryAfter(res.Header.Get("Retry-After"))
	if res.StatusCode != http.StatusOK {
		return associationResponse{}, res.StatusCode, retryAfter, fmt.Errorf("status code: %d", res.StatusCode)
	}
	var parsed associationResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return associationResponse{}, res.StatusCode, retryAfter, fmt.Errorf("decode associations: %w", err)
	}
	return parsed, res.StatusCode, retryAfter, nil
}

func parseRetryAfter(v string) time.Duration {
	if strings.TrimSpace(v) == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err == nil {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDelay(attempt int) time.Duration {
	switch attempt {
	case 1:
		return 1 * time.Second
	case 2:
		return 2 * time.Second
	default:
		return 4 * time.Second
	}
}
