package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"DEBUG":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"WARNING": zerolog.WarnLevel,
		"warn":    zerolog.WarnLevel,
		"ERROR":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewWithWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	log := NewWithWriter(buf)

	log.Info().Msg("test message")

	assert.Contains(t, buf.String(), "test message")
}

func TestFromContext(t *testing.T) {
	buf := &bytes.Buffer{}
	ctx := WithContext(context.Background(), NewWithWriter(buf))

	retrieved := FromContext(ctx)
	retrieved.Info().Msg("from context")

	assert.Contains(t, buf.String(), "from context")
}

func TestFromContext_DefaultLogger(t *testing.T) {
	log := FromContext(context.Background())
	assert.NotEqual(t, zerolog.Disabled, log.GetLevel())
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestZerologEvents(t *testing.T) {
	t.Run("retry event carries attempt bound reason and wait", func(t *testing.T) {
		buf := &bytes.Buffer{}
		events := NewEvents(NewWithWriter(buf))

		events.Retry(2, 6, "throttled", 4*time.Second)

		lines := decodeLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, KindRetry, lines[0]["event"])
		assert.Equal(t, float64(2), lines[0]["attempt"])
		assert.Equal(t, float64(6), lines[0]["max_attempts"])
		assert.Equal(t, "throttled", lines[0]["reason"])
		assert.Equal(t, "warn", lines[0]["level"])
	})

	t.Run("request and response", func(t *testing.T) {
		buf := &bytes.Buffer{}
		events := NewEvents(NewWithWriter(buf))

		events.APIRequest("GET", "https://example.test/tx", url.Values{"postedAfter": {"2025-08-23T00:00:00Z"}})
		events.APIResponse(200, 512)

		lines := decodeLines(t, buf)
		require.Len(t, lines, 2)
		assert.Equal(t, KindAPIRequest, lines[0]["event"])
		assert.Equal(t, "postedAfter=2025-08-23T00%3A00%3A00Z", lines[0]["params"])
		assert.Equal(t, KindAPIResponse, lines[1]["event"])
		assert.Equal(t, float64(512), lines[1]["size"])
	})

	t.Run("validation emits one line per issue", func(t *testing.T) {
		buf := &bytes.Buffer{}
		events := NewEvents(NewWithWriter(buf))

		events.Validation(3, 1, []string{"item[2]: missing id", "item[3]:a: duplicate in batch"}, []string{"w"})

		lines := decodeLines(t, buf)
		require.Len(t, lines, 4)
		assert.Equal(t, "error", lines[1]["level"])
		assert.Equal(t, "item[2]: missing id", lines[1]["message"])
		assert.Equal(t, "warn", lines[3]["level"])
	})

	t.Run("database error", func(t *testing.T) {
		buf := &bytes.Buffer{}
		events := NewEvents(NewWithWriter(buf))

		events.Database("UPSERT transactions", 0, errors.New("boom"))

		lines := decodeLines(t, buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "DB_ERROR", lines[0]["event"])
		assert.Equal(t, "boom", lines[0]["error"])
	})
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	var _ EventLogger = rec

	rec.APIRequest("GET", "u", nil)
	rec.Retry(1, 6, "server error 500", time.Second)
	rec.Retry(2, 6, "server error 502", 2*time.Second)

	assert.Len(t, rec.Events(), 3)
	retries := rec.OfKind(KindRetry)
	require.Len(t, retries, 2)
	assert.Equal(t, 2*time.Second, retries[1].Fields["wait"])
}
