package spapi

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ruralpay/ledger-ingest/internal/clock"
	"github.com/ruralpay/ledger-ingest/internal/logger"
	"golang.org/x/time/rate"
)

// Mock scenarios understood by NewMockClient.
const (
	ScenarioOK           = "ok"
	ScenarioEmpty        = "empty"
	ScenarioUnauthorized = "401"
	ScenarioThrottled    = "429"
)

const mockBaseURL = "https://mock.sellingpartnerapi.local"

// ScriptedResponse is one canned reply of a ScriptedTransport.
type ScriptedResponse struct {
	Status int
	Body   string
	Header http.Header
	Err    error
}

// ScriptedTransport replays responses in order and repeats the last one once
// the script is exhausted. It records every request it serves.
type ScriptedTransport struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	requests  []*http.Request
}

func NewScriptedTransport(responses ...ScriptedResponse) *ScriptedTransport {
	return &ScriptedTransport{responses: responses}
}

func (t *ScriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := len(t.requests)
	t.requests = append(t.requests, req)
	if len(t.responses) == 0 {
		return nil, fmt.Errorf("scripted transport: no responses configured")
	}
	if idx >= len(t.responses) {
		idx = len(t.responses) - 1
	}
	r := t.responses[idx]
	if r.Err != nil {
		return nil, r.Err
	}

	header := http.Header{"Content-Type": {"application/json"}}
	for k, v := range r.Header {
		header[k] = v
	}
	return &http.Response{
		StatusCode: r.Status,
		Status:     fmt.Sprintf("%d %s", r.Status, http.StatusText(r.Status)),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(r.Body)),
		Request:    req,
	}, nil
}

// Requests returns the requests served so far.
func (t *ScriptedTransport) Requests() []*http.Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*http.Request, len(t.requests))
	copy(out, t.requests)
	return out
}

// SampleBody is the two-record batch served by the ok scenario: an Order and a
// Refund against the same order id, posted yesterday (UTC).
func SampleBody(now time.Time) string {
	day := clock.StartOfDay(now).AddDate(0, 0, -1)
	first := clock.FormatISO8601UTC(day.Add(12*time.Hour + 15*time.Minute))
	second := clock.FormatISO8601UTC(day.Add(13*time.Hour + 40*time.Minute))
	return fmt.Sprintf(`{
  "transactions": [
    {
      "transactionId": "tx-mock-001",
      "postedDate": %q,
      "type": "Order",
      "amount": {"currencyCode": "USD", "amount": "19.99"},
      "marketplaceId": "ATVPDKIKX0DER",
      "details": {"orderId": "903-1234567-1234567"}
    },
    {
      "transactionId": "tx-mock-002",
      "postedDate": %q,
      "type": "Refund",
      "amount": {"currencyCode": "USD", "amount": "-5.00"},
      "marketplaceId": "ATVPDKIKX0DER",
      "details": {"orderId": "903-1234567-1234567", "reason": "CustomerReturn"}
    }
  ],
  "nextToken": null
}`, first, second)
}

const emptyBody = `{"transactions": [], "nextToken": null}`

// ScenarioScript returns the canned responses for a mock scenario.
func ScenarioScript(scenario string, now time.Time) ([]ScriptedResponse, error) {
	ok := ScriptedResponse{Status: http.StatusOK, Body: SampleBody(now)}
	switch scenario {
	case ScenarioOK:
		return []ScriptedResponse{ok}, nil
	case ScenarioEmpty:
		return []ScriptedResponse{{Status: http.StatusOK, Body: emptyBody}}, nil
	case ScenarioUnauthorized:
		return []ScriptedResponse{
			{Status: http.StatusUnauthorized, Body: `{"errors":[{"code":"Unauthorized","message":"access token expired"}]}`},
			ok,
		}, nil
	case ScenarioThrottled:
		throttled := ScriptedResponse{Status: http.StatusTooManyRequests, Body: `{"errors":[{"code":"QuotaExceeded"}]}`}
		return []ScriptedResponse{throttled, throttled, ok}, nil
	}
	return nil, fmt.Errorf("%w: %q (want ok, empty, 401 or 429)", ErrUnknownScenario, scenario)
}

// NewMockClient returns a Client wired to a scripted transport and a static
// token, so the real retry state machine runs without credentials.
func NewMockClient(scenario string, events logger.EventLogger, opts ...Option) (*Client, *ScriptedTransport, error) {
	c := clock.System()
	script, err := ScenarioScript(scenario, c.Now())
	if err != nil {
		return nil, nil, err
	}
	transport := NewScriptedTransport(script...)

	cfg := Config{
		BaseURL: mockBaseURL,
		Policy: Policy{
			MaxAttempts: DefaultPolicy().MaxAttempts,
			BaseDelay:   100 * time.Millisecond,
			MaxDelay:    2 * time.Second,
		},
	}
	base := []Option{
		WithHTTPClient(&http.Client{Transport: transport, Timeout: 5 * time.Second}),
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithClock(c),
	}
	client, err := NewClient(cfg, NewStaticTokenSource("mock-access-token"), events, append(base, opts...)...)
	if err != nil {
		return nil, nil, err
	}
	return client, transport, nil
}
