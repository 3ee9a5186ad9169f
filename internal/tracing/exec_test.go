package tracing

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestExecRecordsSpanAttributesForSuccess(t *testing.T) {
	spanRecorder := installSpanRecorder(t)
	workdir := t.TempDir()

	result, err := Exec(context.Background(), "sh", []string{"-c", "echo hello"}, workdir)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
	if strings.TrimSpace(string(result.Stdout)) != "hello" {
		t.Fatalf("stdout = %q, want hello", result.Stdout)
	}

	span := findToolExecSpan(t, spanRecorder.Ended())
	if span.Status().Code != codes.Ok {
		t.Fatalf("status code = %v, want %v", span.Status().Code, codes.Ok)
	}
	if got := getStringAttr(span.Attributes(), "tool_name"); got != "sh" {
		t.Fatalf("tool_name = %q, want sh", got)
	}
	if got := getStringAttr(span.Attributes(), "cwd"); got != workdir {
		t.Fatalf("cwd = %q, want %q", got, workdir)
	}
	if len(span.Events()) != 0 {
		t.Fatalf("successful commands must not record output events, got %d", len(span.Events()))
	}
}

func TestExecFailureAddsBoundedStdoutStderrEvents(t *testing.T) {
	spanRecorder := installSpanRecorder(t)

	result, err := Exec(
		context.Background(),
		"sh",
		[]string{"-c", "head -c 1600 /dev/zero | tr '\\000' 'a'; head -c 1600 /dev/zero | tr '\\000' 'b' 1>&2; exit 3"},
		"",
	)
	if err == nil {
		t.Fatal("expected command failure, got nil")
	}
	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}
	if len(result.Stdout) != 1600 || len(result.Stderr) != 1600 {
		t.Fatalf("captured output lengths = %d/%d, want 1600/1600", len(result.Stdout), len(result.Stderr))
	}

	span := findToolExecSpan(t, spanRecorder.Ended())
	if span.Status().Code != codes.Error {
		t.Fatalf("status code = %v, want %v", span.Status().Code, codes.Error)
	}

	for _, name := range []string{"tool.stdout", "tool.stderr"} {
		value := getStringAttr(findEvent(t, span.Events(), name).Attributes, "output")
		if len(value) > maxOutputEventBytes {
			t.Fatalf("%s event length = %d, want <= %d", name, len(value), maxOutputEventBytes)
		}
		if !strings.HasSuffix(value, "[truncated]") {
			t.Fatalf("%s event missing truncation marker: %q", name, value)
		}
	}
}

func TestExecTimeoutReturnsErrorSpan(t *testing.T) {
	spanRecorder := installSpanRecorder(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := Exec(ctx, "sh", []string{"-c", "sleep 1"}, "")
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if result.ExitCode != -1 {
		t.Fatalf("exit code = %d, want -1", result.ExitCode)
	}

	span := findToolExecSpan(t, spanRecorder.Ended())
	if span.Status().Code != codes.Error {
		t.Fatalf("status code = %v, want %v", span.Status().Code, codes.Error)
	}
}

func TestExecRejectsEmptyName(t *testing.T) {
	if _, err := Exec(context.Background(), " ", nil, ""); err == nil {
		t.Fatal("expected error for empty command name")
	}
}

func TestRedactArgs(t *testing.T) {
	input := []string{
		"org", "login", "sfdx-url",
		"--sfdx-url-file", "auth.txt",
		"--access-token=abc",
		"--query", "SELECT Id FROM User",
		"--target-org=dev",
	}
	want := []string{
		"org", "login", "sfdx-url",
		"--sfdx-url-file", "<redacted>",
		"--access-token=<redacted>",
		"--query", "SELECT Id FROM User",
		"--target-org=dev",
	}
	if got := RedactArgs(input); !reflect.DeepEqual(got, want) {
		t.Fatalf("RedactArgs(%v) = %v, want %v", input, got, want)
	}
}

func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)

	t.Cleanup(func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			t.Errorf("shutdown tracer provider: %v", err)
		}
		otel.SetTracerProvider(previous)
	})

	return spanRecorder
}

func findToolExecSpan(t *testing.T, spans []sdktrace.ReadOnlySpan) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, span := range spans {
		if span.Name() == "tool.exec" {
			return span
		}
	}
	t.Fatalf("tool.exec span not found in %d spans", len(spans))
	return nil
}

func getStringAttr(attrs []attribute.KeyValue, key string) string {
	for _, attr := range attrs {
		if string(attr.Key) == key {
			return attr.Value.AsString()
		}
	}
	return ""
}

func findEvent(t *testing.T, events []sdktrace.Event, name string) sdktrace.Event {
	t.Helper()
	for _, event := range events {
		if event.Name == name {
			return event
		}
	}
	t.Fatalf("event %q not found in %d events", name, len(events))
	return sdktrace.Event{}
}
