package spapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ruralpay/ledger-ingest/internal/clock"
	"github.com/ruralpay/ledger-ingest/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

var testNow = time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC)

type testHarness struct {
	client    *Client
	transport *ScriptedTransport
	tokens    *StaticTokenSource
	events    *logger.Recorder
	slept     []time.Duration
}

func newHarness(t *testing.T, cfg Config, responses ...ScriptedResponse) *testHarness {
	t.Helper()
	h := &testHarness{
		transport: NewScriptedTransport(responses...),
		tokens:    NewStaticTokenSource("test-token"),
		events:    logger.NewRecorder(),
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.test"
	}
	client, err := NewClient(cfg, h.tokens, h.events,
		WithHTTPClient(&http.Client{Transport: h.transport}),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithClock(clock.Fixed(testNow)),
		WithSleeper(func(_ context.Context, d time.Duration) error {
			h.slept = append(h.slept, d)
			return nil
		}),
	)
	require.NoError(t, err)
	h.client = client
	return h
}

func okResponse() ScriptedResponse {
	return ScriptedResponse{Status: http.StatusOK, Body: SampleBody(testNow)}
}

func TestBaseURL(t *testing.T) {
	u, err := BaseURL("na", false)
	require.NoError(t, err)
	assert.Equal(t, "https://sellingpartnerapi-na.amazon.com", u)

	u, err = BaseURL("EU", true)
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.sellingpartnerapi-eu.amazon.com", u)

	_, err = BaseURL("mars", false)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestListTransactions_RequestShape(t *testing.T) {
	h := newHarness(t, Config{}, okResponse())

	payload, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "ATVPDKIKX0DER")
	require.NoError(t, err)
	assert.Len(t, payload.Transactions, 2)
	assert.Empty(t, payload.Note)

	reqs := h.transport.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/finances/2024-06-19/transactions", req.URL.Path)
	assert.Equal(t, "2025-08-23T00:00:00Z", req.URL.Query().Get("postedAfter"))
	assert.Equal(t, "ATVPDKIKX0DER", req.URL.Query().Get("marketplaceId"))
	assert.Equal(t, "Bearer test-token", req.Header.Get("Authorization"))
	assert.Equal(t, "test-token", req.Header.Get("x-amz-access-token"))
	assert.Equal(t, "application/json", req.Header.Get("accept"))
	assert.NotEmpty(t, req.Header.Get("user-agent"))

	assert.Len(t, h.events.OfKind(logger.KindAPIRequest), 1)
	assert.Len(t, h.events.OfKind(logger.KindAPIResponse), 1)
	assert.Empty(t, h.events.OfKind(logger.KindRetry))
}

func TestListTransactions_ExactTimestampForwarded(t *testing.T) {
	for _, ts := range []string{"2025-08-23T00:00:00Z", "2025-08-23T10:11:12.345Z", "2025-08-23T00:00:00+00:00"} {
		h := newHarness(t, Config{}, okResponse())
		_, err := h.client.ListTransactions(context.Background(), ts, "")
		require.NoError(t, err, ts)

		req := h.transport.Requests()[0]
		assert.Equal(t, ts, req.URL.Query().Get("postedAfter"))
		assert.False(t, req.URL.Query().Has("marketplaceId"))
	}
}

func TestListTransactions_MalformedTimestampNeverCallsNetwork(t *testing.T) {
	for _, ts := range []string{"", "yesterday", "2025-13-45T00:00:00Z", "23/08/2025"} {
		h := newHarness(t, Config{}, okResponse())

		payload, err := h.client.ListTransactions(context.Background(), ts, "")
		assert.Nil(t, payload)
		assert.ErrorIs(t, err, ErrInvalidParameter, ts)
		assert.Empty(t, h.transport.Requests(), ts)
		assert.Empty(t, h.events.Events(), ts)
	}
}

func TestListTransactions_UnauthorizedThenOK(t *testing.T) {
	h := newHarness(t, Config{}, ScriptedResponse{Status: http.StatusUnauthorized}, okResponse())

	payload, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	require.NoError(t, err)
	assert.Len(t, payload.Transactions, 2)
	assert.Equal(t, 1, h.tokens.Refreshes())
	assert.Len(t, h.transport.Requests(), 2)
	assert.Empty(t, h.slept)

	retries := h.events.OfKind(logger.KindRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, "token expired", retries[0].Fields["reason"])
	assert.Equal(t, 1, retries[0].Fields["attempt"])
	assert.Equal(t, 6, retries[0].Fields["max_attempts"])
}

func TestListTransactions_SecondUnauthorizedIsFatal(t *testing.T) {
	h := newHarness(t, Config{},
		ScriptedResponse{Status: http.StatusUnauthorized},
		ScriptedResponse{Status: http.StatusUnauthorized, Body: "denied"},
		okResponse(),
	)

	_, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnauthorized)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, 1, h.tokens.Refreshes())
	assert.Len(t, h.transport.Requests(), 2)
}

func TestListTransactions_ThrottledWithRetryAfter(t *testing.T) {
	h := newHarness(t, Config{},
		ScriptedResponse{Status: http.StatusTooManyRequests, Header: http.Header{"Retry-After": {"2"}}},
		okResponse(),
	)

	payload, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	require.NoError(t, err)
	assert.Len(t, payload.Transactions, 2)

	require.Len(t, h.slept, 1)
	assert.GreaterOrEqual(t, h.slept[0], 2*time.Second)
	retries := h.events.OfKind(logger.KindRetry)
	require.Len(t, retries, 1)
	assert.Equal(t, "throttled", retries[0].Fields["reason"])
	assert.Equal(t, 2*time.Second, retries[0].Fields["wait"])
}

func TestListTransactions_ServerErrorsExhaustRetries(t *testing.T) {
	h := newHarness(t, Config{}, ScriptedResponse{Status: http.StatusInternalServerError})

	payload, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	assert.Nil(t, payload)
	assert.ErrorIs(t, err, ErrRetriesExhausted)

	assert.Len(t, h.transport.Requests(), 6)
	// no sleep after the final attempt
	assert.Equal(t, []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second,
	}, h.slept)
	assert.Len(t, h.events.OfKind(logger.KindRetry), 5)
}

func TestListTransactions_CustomAttemptBound(t *testing.T) {
	cfg := Config{Policy: Policy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 15 * time.Millisecond}}
	h := newHarness(t, cfg, ScriptedResponse{Status: http.StatusBadGateway})

	_, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Len(t, h.transport.Requests(), 3)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 15 * time.Millisecond}, h.slept)
}

func TestListTransactions_OtherStatusIsFatal(t *testing.T) {
	h := newHarness(t, Config{}, ScriptedResponse{Status: http.StatusForbidden, Body: `{"errors":[{"code":"Unauthorized"}]}`}, okResponse())

	_, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "Unauthorized")
	assert.False(t, errors.Is(err, ErrRetriesExhausted))
	assert.Len(t, h.transport.Requests(), 1)
	assert.Empty(t, h.slept)
}

func TestListTransactions_EmptyIsNotAnError(t *testing.T) {
	h := newHarness(t, Config{}, ScriptedResponse{Status: http.StatusOK, Body: emptyBody})

	payload, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	require.NoError(t, err)
	assert.Empty(t, payload.Transactions)
	assert.Equal(t, EmptyResultNote, payload.Note)
}

func TestListTransactions_TransportErrorIsRetried(t *testing.T) {
	h := newHarness(t, Config{}, ScriptedResponse{Err: errors.New("connection reset by peer")}, okResponse())

	payload, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	require.NoError(t, err)
	assert.Len(t, payload.Transactions, 2)
	assert.Equal(t, []time.Duration{time.Second}, h.slept)
}

func TestListTransactions_FollowsNextToken(t *testing.T) {
	h := newHarness(t, Config{},
		ScriptedResponse{Status: http.StatusOK, Body: `{"payload":{"transactions":[{"transactionId":"a"}],"nextToken":"page-2"}}`},
		ScriptedResponse{Status: http.StatusTooManyRequests},
		ScriptedResponse{Status: http.StatusOK, Body: `{"payload":{"transactions":[{"transactionId":"b"},{"transactionId":"c"}]}}`},
	)

	payload, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	require.NoError(t, err)
	assert.Len(t, payload.Transactions, 3)
	assert.Empty(t, payload.NextToken)

	reqs := h.transport.Requests()
	require.Len(t, reqs, 3)
	assert.False(t, reqs[0].URL.Query().Has("nextToken"))
	assert.Equal(t, "page-2", reqs[2].URL.Query().Get("nextToken"))
	assert.Equal(t, "2025-08-23T00:00:00Z", reqs[2].URL.Query().Get("postedAfter"))
}

func TestListTransactions_PacingUsesSleeper(t *testing.T) {
	pages := []ScriptedResponse{
		{Status: http.StatusOK, Body: `{"transactions":[{"transactionId":"a"}],"nextToken":"page-2"}`},
		{Status: http.StatusOK, Body: `{"transactions":[{"transactionId":"b"}]}`},
	}

	t.Run("second request waits one interval", func(t *testing.T) {
		var slept []time.Duration
		client, err := NewClient(Config{BaseURL: "https://api.test"}, NewStaticTokenSource("t"), logger.NewRecorder(),
			WithHTTPClient(&http.Client{Transport: NewScriptedTransport(pages...)}),
			WithLimiter(rate.NewLimiter(rate.Limit(1), 1)),
			WithClock(clock.Fixed(testNow)),
			WithSleeper(func(_ context.Context, d time.Duration) error {
				slept = append(slept, d)
				return nil
			}),
		)
		require.NoError(t, err)

		payload, err := client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
		require.NoError(t, err)
		assert.Len(t, payload.Transactions, 2)
		assert.Equal(t, []time.Duration{time.Second}, slept)
	})

	t.Run("canceled wait stops before the request", func(t *testing.T) {
		transport := NewScriptedTransport(pages...)
		client, err := NewClient(Config{BaseURL: "https://api.test"}, NewStaticTokenSource("t"), logger.NewRecorder(),
			WithHTTPClient(&http.Client{Transport: transport}),
			WithLimiter(rate.NewLimiter(rate.Limit(1), 1)),
			WithClock(clock.Fixed(testNow)),
			WithSleeper(func(context.Context, time.Duration) error { return context.Canceled }),
		)
		require.NoError(t, err)

		_, err = client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
		assert.ErrorIs(t, err, context.Canceled)
		assert.Len(t, transport.Requests(), 1)
	})
}

func TestListTransactions_StopsAtMaxPages(t *testing.T) {
	h := newHarness(t, Config{MaxPages: 1},
		ScriptedResponse{Status: http.StatusOK, Body: `{"transactions":[{"transactionId":"a"}],"nextToken":"more"}`},
	)

	payload, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	require.NoError(t, err)
	assert.Len(t, payload.Transactions, 1)
	assert.Equal(t, "more", payload.NextToken)
	assert.Len(t, h.transport.Requests(), 1)
}

func TestListTransactions_SleeperCancellationStopsRetries(t *testing.T) {
	transport := NewScriptedTransport(ScriptedResponse{Status: http.StatusServiceUnavailable})
	client, err := NewClient(Config{BaseURL: "https://api.test"}, NewStaticTokenSource("t"), logger.NewRecorder(),
		WithHTTPClient(&http.Client{Transport: transport}),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithSleeper(func(context.Context, time.Duration) error { return context.Canceled }),
	)
	require.NoError(t, err)

	_, err = client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, transport.Requests(), 1)
}

func TestListTransactions_MalformedBody(t *testing.T) {
	h := newHarness(t, Config{}, ScriptedResponse{Status: http.StatusOK, Body: `not json`})

	_, err := h.client.ListTransactions(context.Background(), "2025-08-23T00:00:00Z", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding transactions page 1")
}
