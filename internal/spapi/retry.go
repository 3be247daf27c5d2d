package spapi

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Outcome is the state a single HTTP attempt transitions to.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeAuthRetry
	OutcomeThrottleRetry
	OutcomeServerRetry
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeAuthRetry:
		return "auth_retry"
	case OutcomeThrottleRetry:
		return "throttle_retry"
	case OutcomeServerRetry:
		return "server_retry"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// IsRetry reports whether the outcome re-enters the requesting state.
func (o Outcome) IsRetry() bool {
	return o == OutcomeAuthRetry || o == OutcomeThrottleRetry || o == OutcomeServerRetry
}

// Classify maps an HTTP status onto an Outcome. refreshed reports whether the
// credential has already been refreshed during the current fetch.
func Classify(status int, refreshed bool) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusUnauthorized:
		if refreshed {
			return OutcomeFatal
		}
		return OutcomeAuthRetry
	case status == http.StatusTooManyRequests:
		return OutcomeThrottleRetry
	case status >= 500 && status < 600:
		return OutcomeServerRetry
	default:
		return OutcomeFatal
	}
}

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy allows 6 attempts with backoff doubling from 1s to 60s.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 6,
		BaseDelay:   time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Decision is the result of feeding one attempt into a RetryState.
type Decision struct {
	Outcome   Outcome
	Wait      time.Duration
	Reason    string
	Exhausted bool
}

// RetryState carries attempt accounting for one fetch. Attempts and backoff
// are per page; the refresh flag spans the whole fetch.
type RetryState struct {
	policy    Policy
	attempts  int
	backoff   time.Duration
	refreshed bool
	now       func() time.Time
}

func NewRetryState(p Policy, now func() time.Time) *RetryState {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if now == nil {
		now = time.Now
	}
	return &RetryState{policy: p, backoff: p.BaseDelay, now: now}
}

func (s *RetryState) Attempts() int   { return s.attempts }
func (s *RetryState) Refreshed() bool { return s.refreshed }

// NextPage resets the attempt budget and backoff for a new page request.
func (s *RetryState) NextPage() {
	s.attempts = 0
	s.backoff = s.policy.BaseDelay
}

// Transition records one completed HTTP attempt and decides what happens next.
func (s *RetryState) Transition(status int, retryAfter string) Decision {
	s.attempts++
	d := Decision{Outcome: Classify(status, s.refreshed)}

	switch d.Outcome {
	case OutcomeSuccess:
		return d
	case OutcomeFatal:
		if status == http.StatusUnauthorized {
			d.Reason = "unauthorized after token refresh"
		} else {
			d.Reason = fmt.Sprintf("status %d", status)
		}
		return d
	case OutcomeAuthRetry:
		s.refreshed = true
		d.Reason = "token expired"
	case OutcomeThrottleRetry:
		d.Reason = "throttled"
		d.Wait = s.advance()
		if hint, ok := ParseRetryAfter(retryAfter, s.now()); ok {
			d.Wait = hint
		}
	case OutcomeServerRetry:
		d.Reason = fmt.Sprintf("server error %d", status)
		d.Wait = s.advance()
	}

	d.Exhausted = s.attempts >= s.policy.MaxAttempts
	return d
}

// TransitionError records an attempt that failed before a status was received.
// Cancellation is fatal; anything else is retried like a server error.
func (s *RetryState) TransitionError(err error) Decision {
	s.attempts++
	if errors.Is(err, context.Canceled) {
		return Decision{Outcome: OutcomeFatal, Reason: "canceled"}
	}
	d := Decision{
		Outcome: OutcomeServerRetry,
		Reason:  "transport error: " + err.Error(),
		Wait:    s.advance(),
	}
	d.Exhausted = s.attempts >= s.policy.MaxAttempts
	return d
}

// advance returns the current backoff and doubles it up to the ceiling.
func (s *RetryState) advance() time.Duration {
	wait := s.backoff
	next := s.backoff * 2
	if next > s.policy.MaxDelay {
		next = s.policy.MaxDelay
	}
	s.backoff = next
	return wait
}

// MaxRetryAfter caps a server supplied Retry-After wait.
const MaxRetryAfter = time.Hour

// ParseRetryAfter reads a Retry-After header given either as seconds
// (fractional allowed) or as an HTTP date. Hints beyond MaxRetryAfter are
// clamped to it.
func ParseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		if secs < 0 {
			return 0, true
		}
		if secs >= MaxRetryAfter.Seconds() {
			return MaxRetryAfter, true
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(v); err == nil {
		wait := at.Sub(now)
		if wait < 0 {
			wait = 0
		}
		if wait > MaxRetryAfter {
			wait = MaxRetryAfter
		}
		return wait, true
	}
	return 0, false
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
