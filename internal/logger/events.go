package logger

import (
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event kinds emitted by the ingestion pipeline.
const (
	KindAPIRequest  = "API_REQUEST"
	KindAPIResponse = "API_RESPONSE"
	KindRetry       = "RETRY"
	KindValidation  = "VALIDATION"
	KindDatabase    = "DB"
	KindSummary     = "PROCESS_SUMMARY"
)

// EventLogger is the logging capability handed to pipeline components.
type EventLogger interface {
	APIRequest(method, endpoint string, params url.Values)
	APIResponse(status, size int)
	Retry(attempt, maxAttempts int, reason string, wait time.Duration)
	Validation(total, valid int, errors, warnings []string)
	Database(operation string, rows int, err error)
	RunSummary(runID, mode string, processed int, elapsed time.Duration)
}

// ZerologEvents writes pipeline events as structured zerolog entries.
type ZerologEvents struct {
	log zerolog.Logger
}

func NewEvents(log zerolog.Logger) *ZerologEvents {
	return &ZerologEvents{log: log}
}

// Discard returns an EventLogger that drops everything.
func Discard() *ZerologEvents {
	return NewEvents(zerolog.Nop())
}

func (e *ZerologEvents) APIRequest(method, endpoint string, params url.Values) {
	e.log.Info().Str("event", KindAPIRequest).Str("method", method).
		Str("url", endpoint).Str("params", params.Encode()).Msg("api request")
}

func (e *ZerologEvents) APIResponse(status, size int) {
	e.log.Info().Str("event", KindAPIResponse).Int("status", status).Int("size", size).Msg("api response")
}

func (e *ZerologEvents) Retry(attempt, maxAttempts int, reason string, wait time.Duration) {
	e.log.Warn().Str("event", KindRetry).Int("attempt", attempt).Int("max_attempts", maxAttempts).
		Str("reason", reason).Dur("wait", wait).Msg("retrying request")
}

func (e *ZerologEvents) Validation(total, valid int, errors, warnings []string) {
	e.log.Info().Str("event", KindValidation).Int("total", total).Int("valid", valid).
		Int("invalid", len(errors)).Int("warnings", len(warnings)).Msg("validation finished")
	for _, msg := range errors {
		e.log.Error().Str("event", KindValidation+"_ERROR").Msg(msg)
	}
	for _, msg := range warnings {
		e.log.Warn().Str("event", KindValidation+"_WARNING").Msg(msg)
	}
}

func (e *ZerologEvents) Database(operation string, rows int, err error) {
	if err != nil {
		e.log.Error().Str("event", KindDatabase+"_ERROR").Str("operation", operation).Err(err).Msg("database operation failed")
		return
	}
	e.log.Info().Str("event", KindDatabase+"_SUCCESS").Str("operation", operation).Int("rows", rows).Msg("database operation")
}

func (e *ZerologEvents) RunSummary(runID, mode string, processed int, elapsed time.Duration) {
	e.log.Info().Str("event", KindSummary).Str("run_id", runID).Str("mode", mode).
		Int("processed", processed).Dur("elapsed", elapsed).Msg("run finished")
}

// Event is one captured call on a Recorder.
type Event struct {
	Kind   string
	Fields map[string]any
}

// Recorder is an EventLogger that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(kind string, fields map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Kind: kind, Fields: fields})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of a single kind, in order.
func (r *Recorder) OfKind(kind string) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *Recorder) APIRequest(method, endpoint string, params url.Values) {
	r.add(KindAPIRequest, map[string]any{"method": method, "url": endpoint, "params": params})
}

func (r *Recorder) APIResponse(status, size int) {
	r.add(KindAPIResponse, map[string]any{"status": status, "size": size})
}

func (r *Recorder) Retry(attempt, maxAttempts int, reason string, wait time.Duration) {
	r.add(KindRetry, map[string]any{"attempt": attempt, "max_attempts": maxAttempts, "reason": reason, "wait": wait})
}

func (r *Recorder) Validation(total, valid int, errors, warnings []string) {
	r.add(KindValidation, map[string]any{"total": total, "valid": valid, "errors": errors, "warnings": warnings})
}

func (r *Recorder) Database(operation string, rows int, err error) {
	r.add(KindDatabase, map[string]any{"operation": operation, "rows": rows, "error": err})
}

func (r *Recorder) RunSummary(runID, mode string, processed int, elapsed time.Duration) {
	r.add(KindSummary, map[string]any{"run_id": runID, "mode": mode, "processed": processed, "elapsed": elapsed})
}
