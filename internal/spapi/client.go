package spapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ruralpay/ledger-ingest/internal/clock"
	"github.com/ruralpay/ledger-ingest/internal/logger"
	"github.com/ruralpay/ledger-ingest/internal/metrics"
	"github.com/ruralpay/ledger-ingest/internal/models"
	"golang.org/x/time/rate"
)

const (
	transactionsPath = "/finances/2024-06-19/transactions"
	defaultUserAgent = "ledger-ingest/1.0 (Language=Go)"
	maxResponseBytes = 32 << 20

	// EmptyResultNote is attached to a successful fetch that returned nothing.
	EmptyResultNote = "no transactions returned; new postings can take up to 48h to appear"
)

var regionSuffixes = map[string]string{
	"na": "-na",
	"eu": "-eu",
	"fe": "-fe",
}

// BaseURL returns the API host for a region, e.g.
// https://sellingpartnerapi-na.amazon.com or its sandbox twin.
func BaseURL(region string, sandbox bool) (string, error) {
	suffix, ok := regionSuffixes[strings.ToLower(region)]
	if !ok {
		return "", fmt.Errorf("%w: unknown region %q (want na, eu or fe)", ErrInvalidParameter, region)
	}
	host := "sellingpartnerapi"
	if sandbox {
		host = "sandbox.sellingpartnerapi"
	}
	return "https://" + host + suffix + ".amazon.com", nil
}

// Config configures a Client.
type Config struct {
	Region            string
	Sandbox           bool
	BaseURL           string // overrides Region/Sandbox when set
	Timeout           time.Duration
	Policy            Policy
	RequestsPerSecond float64
	Burst             int
	MaxPages          int
	UserAgent         string
}

// Client lists finance transactions, applying the retry state machine to
// every page request.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	events     logger.EventLogger
	limiter    *rate.Limiter
	policy     Policy
	maxPages   int
	userAgent  string
	sleep      Sleeper
	clock      clock.Clock
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

func WithClock(cl clock.Clock) Option {
	return func(c *Client) { c.clock = cl }
}

func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient builds a Client. Zero config values fall back to defaults.
func NewClient(cfg Config, tokens TokenSource, events logger.EventLogger, opts ...Option) (*Client, error) {
	base := cfg.BaseURL
	if base == "" {
		region := cfg.Region
		if region == "" {
			region = "na"
		}
		var err error
		if base, err = BaseURL(region, cfg.Sandbox); err != nil {
			return nil, err
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Policy.MaxAttempts <= 0 {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 0.5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 10
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if events == nil {
		events = logger.Discard()
	}

	c := &Client{
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     tokens,
		events:     events,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		policy:     cfg.Policy,
		maxPages:   cfg.MaxPages,
		userAgent:  cfg.UserAgent,
		sleep:      SleepContext,
		clock:      clock.System(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// pageResponse accepts both the bare shape and the v2024 "payload" envelope.
type pageResponse struct {
	Transactions []json.RawMessage `json:"transactions"`
	NextToken    string            `json:"nextToken"`
	Payload      *struct {
		Transactions []json.RawMessage `json:"transactions"`
		NextToken    string            `json:"nextToken"`
	} `json:"payload"`
}

// ListTransactions fetches every transaction posted after postedAfter,
// following nextToken up to the configured page limit.
func (c *Client) ListTransactions(ctx context.Context, postedAfter, marketplaceID string) (*models.RawPayload, error) {
	if _, err := clock.ParseISO8601UTC(postedAfter); err != nil {
		return nil, fmt.Errorf("%w: postedAfter: %w", ErrInvalidParameter, err)
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + transactionsPath
	state := NewRetryState(c.policy, c.clock.Now)
	out := &models.RawPayload{}
	nextToken := ""

	for page := 1; ; page++ {
		params := url.Values{"postedAfter": {postedAfter}}
		if marketplaceID != "" {
			params.Set("marketplaceId", marketplaceID)
		}
		if nextToken != "" {
			params.Set("nextToken", nextToken)
		}

		body, err := c.fetchPage(ctx, endpoint, params, &token, state)
		if err != nil {
			return nil, err
		}

		var resp pageResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decoding transactions page %d: %w", page, err)
		}
		items, next := resp.Transactions, resp.NextToken
		if resp.Payload != nil {
			items, next = resp.Payload.Transactions, resp.Payload.NextToken
		}
		out.Transactions = append(out.Transactions, items...)

		if next == "" || page >= c.maxPages {
			out.NextToken = next
			break
		}
		nextToken = next
		state.NextPage()
	}

	if len(out.Transactions) == 0 {
		out.Note = EmptyResultNote
	}
	return out, nil
}

// fetchPage runs the retry state machine for a single page request.
func (c *Client) fetchPage(ctx context.Context, endpoint string, params url.Values, token *string, state *RetryState) ([]byte, error) {
	for {
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		status, retryAfter, body, err := c.do(ctx, endpoint, params, *token)
		var d Decision
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			d = state.TransitionError(err)
		} else {
			d = state.Transition(status, retryAfter)
		}

		switch {
		case d.Outcome == OutcomeSuccess:
			return body, nil
		case d.Outcome == OutcomeFatal && status == http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, &StatusError{StatusCode: status, Body: truncate(body)})
		case d.Outcome == OutcomeFatal && err != nil:
			return nil, err
		case d.Outcome == OutcomeFatal:
			return nil, &StatusError{StatusCode: status, Body: truncate(body)}
		case d.Exhausted:
			return nil, fmt.Errorf("%w after %d attempts: last failure: %s", ErrRetriesExhausted, state.Attempts(), d.Reason)
		}

		c.events.Retry(state.Attempts(), c.policy.MaxAttempts, d.Reason, d.Wait)
		metrics.APIRetriesTotal.WithLabelValues(d.Outcome.String()).Inc()

		if d.Outcome == OutcomeAuthRetry {
			refreshed, err := c.tokens.Refresh(ctx)
			if err != nil {
				return nil, err
			}
			*token = refreshed
			continue
		}
		if err := c.sleep(ctx, d.Wait); err != nil {
			return nil, err
		}
	}
}

// do performs one HTTP attempt and emits its request/response events.
func (c *Client) do(ctx context.Context, endpoint string, params url.Values, token string) (int, string, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return 0, "", nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("x-amz-access-token", token)
	req.Header.Set("accept", "application/json")
	req.Header.Set("user-agent", c.userAgent)

	c.events.APIRequest(http.MethodGet, endpoint, params)
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.APIRequestLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues("error").Inc()
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.events.APIResponse(resp.StatusCode, len(body))
	metrics.APIRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if err != nil {
		return 0, "", nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Retry-After"), body, nil
}

// pace waits for a token from the client-side limiter. The wait goes through
// the client's Sleeper and the reservation is taken at the client's clock.
func (c *Client) pace(ctx context.Context) error {
	now := c.clock.Now()
	r := c.limiter.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	metrics.APIRateLimitWaits.Inc()
	if err := c.sleep(ctx, delay); err != nil {
		r.CancelAt(now)
		return err
	}
	return nil
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
