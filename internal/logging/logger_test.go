package logging

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func readRecords(t *testing.T, path string) []map[string]any {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &record), "line %q", line)
		records = append(records, record)
	}
	require.NoError(t, scanner.Err())
	return records
}

func TestNewWritesJSONRecordsWithRunID(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := New(context.Background(), WithDir(dir), WithRunID("run-1"))
	require.NoError(t, err)

	logger.Logger.With("stage", "run_test").Info("stage started")
	require.NoError(t, logger.Close())

	assert.Equal(t, dir, filepath.Dir(logger.Path()))
	assert.True(t, strings.HasSuffix(logger.Path(), "-run-1.log"))

	records := readRecords(t, logger.Path())
	require.Len(t, records, 2)
	assert.Equal(t, "logger initialized", records[0]["msg"])
	assert.Equal(t, "stage started", records[1]["msg"])
	assert.Equal(t, "run-1", records[1]["run_id"])
	assert.Equal(t, "run_test", records[1]["stage"])
}

func TestWithLevelFiltersRecords(t *testing.T) {
	t.Parallel()

	logger, err := New(context.Background(), WithDir(t.TempDir()), WithLevel("warn"))
	require.NoError(t, err)

	logger.Logger.Info("hidden")
	logger.Logger.Warn("shown")
	require.NoError(t, logger.Close())

	records := readRecords(t, logger.Path())
	require.Len(t, records, 1)
	assert.Equal(t, "shown", records[0]["msg"])
}

func TestWithSpanContextAddsTraceFields(t *testing.T) {
	t.Parallel()

	logger, err := New(context.Background(), WithDir(t.TempDir()), WithLevel("debug"))
	require.NoError(t, err)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	logger.WithSpanContext(trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))
	logger.Logger.Debug("traced")
	require.NoError(t, logger.Close())

	records := readRecords(t, logger.Path())
	last := records[len(records)-1]
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", last["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", last["span_id"])
}

func TestWithSpanAddsLiveSpanFields(t *testing.T) {
	t.Parallel()

	logger, err := New(context.Background(), WithDir(t.TempDir()), WithRunID("run-2"))
	require.NoError(t, err)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	WithSpan(ctx, logger.Logger).Info("in span")
	WithSpan(context.Background(), logger.Logger).Info("no span")
	require.NoError(t, logger.Close())

	records := readRecords(t, logger.Path())
	require.Len(t, records, 3)
	assert.Equal(t, "run-2", records[1]["run_id"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", records[1]["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", records[1]["span_id"])
	assert.NotContains(t, records[2], "trace_id")
	assert.Nil(t, WithSpan(ctx, nil))
}

func TestNilRuntimeLoggerIsSafe(t *testing.T) {
	t.Parallel()

	var logger *RuntimeLogger
	assert.NoError(t, logger.Close())
	assert.Empty(t, logger.Path())
	assert.Nil(t, logger.WithRunID("x"))
}
