package channel

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"guest_reviews/internal/adapters/observability"
	"guest_reviews/internal/domain"
)

const (
	defaultTimeout = 10 * time.Second
	defaultRetries = 3
	defaultRPS     = 5
	maxBodyBytes   = 16 << 20
)

var (
	ErrUnauthorized  = errors.New("channel: unauthorized")
	ErrForbidden     = errors.New("channel: forbidden")
	ErrNotFound      = errors.New("channel: not found")
	ErrNotConfigured = errors.New("channel: upstream not configured")
)

type Config struct {
	BaseURL   string
	AccountID string
	APIKey    string
	// Timeout bounds each attempt.
	Timeout time.Duration
	// Retries is the total number of upstream attempts per fetch.
	Retries  int
	RPS      int
	MockMode bool
	// MockFile overrides the embedded fallback dataset.
	MockFile string
}

// Client fetches raw reviews from the booking-channel API. When the upstream
// is not configured, in mock mode, or after the retry budget is spent, it
// serves the fallback dataset instead.
type Client struct {
	cfg     Config
	hc      *http.Client
	rl      *rate.Limiter
	metrics *observability.Registry
	mock    *mockSource
}

func New(cfg Config, metrics *observability.Registry) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.RPS <= 0 {
		cfg.RPS = defaultRPS
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:     cfg,
		hc:      &http.Client{},
		rl:      rate.NewLimiter(rate.Limit(cfg.RPS), cfg.RPS),
		metrics: metrics,
		mock:    newMockSource(cfg.MockFile),
	}
}

func (c *Client) configured() bool { return c.cfg.BaseURL != "" && c.cfg.APIKey != "" }

// FetchReviews returns raw review payloads and where they came from. Upstream
// failures are absorbed by the mock dataset; only when that is unavailable
// too does it fail with domain.ErrUpstreamUnavailable.
func (c *Client) FetchReviews(ctx context.Context, p domain.FetchParams) ([]domain.RawReview, domain.SourceTag, error) {
	c.metrics.ClientRequest()

	var upstreamErr error
	switch {
	case c.cfg.MockMode:
		upstreamErr = errors.New("mock mode")
	case !c.configured():
		upstreamErr = ErrNotConfigured
	default:
		start := time.Now()
		raws, err := c.fetchUpstream(ctx, p)
		d := time.Since(start)
		if err == nil {
			c.metrics.ClientSuccess(d)
			return raws, domain.SourceUpstream, nil
		}
		c.metrics.ClientFailure(d)
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		upstreamErr = err
	}

	raws, err := c.mock.reviews(p)
	if err != nil {
		return nil, "", fmt.Errorf("%w: upstream: %v; mock: %v", domain.ErrUpstreamUnavailable, upstreamErr, err)
	}
	c.metrics.ClientMockFallback()
	if !c.cfg.MockMode {
		log.Warn().Err(upstreamErr).Int("reviews", len(raws)).Msg("serving mock reviews")
	}
	return raws, domain.SourceMock, nil
}

func (c *Client) Health() domain.ChannelHealth {
	h := domain.ChannelHealth{
		Configured:        c.configured(),
		MockMode:          c.cfg.MockMode,
		MockDataAvailable: c.mock.available(),
		LastRequestAt:     c.metrics.Client().LastRequestAt,
	}
	h.Healthy = h.Configured || h.MockDataAvailable
	return h
}

// ---- Internals ----

func (c *Client) reviewsURL(p domain.FetchParams) string {
	q := url.Values{}
	if c.cfg.AccountID != "" {
		q.Set("accountId", c.cfg.AccountID)
	}
	if p.ListingID != nil {
		q.Set("listingId", strconv.FormatInt(*p.ListingID, 10))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	u := c.cfg.BaseURL + "/reviews"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// fetchUpstream performs a GET with client-side rate limiting and retries on
// network errors, 429 and transient 5xx, honoring Retry-After when provided.
func (c *Client) fetchUpstream(ctx context.Context, p domain.FetchParams) ([]domain.RawReview, error) {
	if err := c.rl.Wait(ctx); err != nil {
		return nil, err
	}
	u := c.reviewsURL(p)

	var lastErr error
	for i := 0; i < c.cfg.Retries; i++ {
		raws, wait, err := c.attempt(ctx, u)
		if err == nil {
			return raws, nil
		}
		lastErr = err
		if wait < 0 || ctx.Err() != nil {
			break // not retryable
		}
		if i == c.cfg.Retries-1 {
			break
		}
		if wait == 0 {
			wait = backoff(i)
		}
		if !sleepCtx(ctx, wait) {
			break
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, lastErr
}

// attempt runs one bounded request. wait < 0 means the failure is final;
// wait > 0 is a server-requested delay.
func (c *Client) attempt(ctx context.Context, u string) ([]domain.RawReview, time.Duration, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, u, nil)
	if err != nil {
		return nil, -1, err
	}
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	if c.cfg.AccountID != "" {
		req.Header.Set("X-Account-ID", c.cfg.AccountID)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "guest-reviews/1.0")

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		observability.ObserveExternal("channel", "reviews", 0, time.Since(start))
		return nil, 0, err
	}
	defer resp.Body.Close()
	observability.ObserveExternal("channel", "reviews", resp.StatusCode, time.Since(start))

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, 0, err
		}
		raws, err := decodeReviews(body)
		if err != nil {
			return nil, -1, err
		}
		return raws, 0, nil

	case http.StatusNoContent:
		return []domain.RawReview{}, 0, nil

	case http.StatusNotFound:
		return nil, -1, ErrNotFound

	case http.StatusUnauthorized:
		return nil, -1, ErrUnauthorized

	case http.StatusForbidden:
		return nil, -1, ErrForbidden

	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, retryAfter(resp), fmt.Errorf("remote %d", resp.StatusCode)

	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, -1, fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
}

// decodeReviews accepts a bare JSON array or a {"result": [...]} envelope.
func decodeReviews(body []byte) ([]domain.RawReview, error) {
	body = bytes.TrimSpace(body)
	var items []json.RawMessage
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("decode reviews: %w", err)
		}
	} else {
		var env struct {
			Status string            `json:"status"`
			Result []json.RawMessage `json:"result"`
		}
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("decode reviews: %w", err)
		}
		if env.Status != "" && !strings.EqualFold(env.Status, "success") {
			return nil, fmt.Errorf("upstream status %q", env.Status)
		}
		items = env.Result
	}
	out := make([]domain.RawReview, 0, len(items))
	for _, it := range items {
		out = append(out, domain.RawReview(it))
	}
	return out, nil
}

// sleepCtx waits for d or returns false early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff: 200ms, 400ms, 800ms... plus up to 50% jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	return base + time.Duration(0.5*f*float64(base))
}
