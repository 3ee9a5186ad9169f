// Package tracing runs external commands inside OpenTelemetry spans.
package tracing

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName          = "rdt/tracing"
	maxOutputEventBytes = 1024
	redactedValue       = "<redacted>"
)

// Result is the captured outcome of one command.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// Exec runs name with args in a "tool.exec" span. An empty dir inherits the
// working directory. Output is attached to the span only when the command
// fails, truncated to maxOutputEventBytes.
func Exec(ctx context.Context, name string, args []string, dir string) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Result{}, errors.New("command name must not be empty")
	}

	spanCtx, span := otel.Tracer(tracerName).Start(
		ctx,
		"tool.exec",
		trace.WithAttributes(
			attribute.String("tool_name", name),
			attribute.String("args_redacted", strings.Join(RedactArgs(args), " ")),
			attribute.String("cwd", dir),
		),
	)
	started := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()

	cmd := exec.CommandContext(spanCtx, name, args...)
	cmd.Dir = dir

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		ExitCode: resolveExitCode(spanCtx, cmd, err),
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
	}
	span.SetAttributes(attribute.Int("exit_code", result.ExitCode))

	if err != nil {
		addOutputEvent(span, "tool.stdout", result.Stdout)
		addOutputEvent(span, "tool.stderr", result.Stderr)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, err
	}

	span.SetStatus(codes.Ok, "tool command completed")
	return result, nil
}

func addOutputEvent(span trace.Span, name string, output []byte) {
	text := strings.TrimSpace(string(output))
	if text == "" {
		return
	}
	span.AddEvent(name, trace.WithAttributes(
		attribute.String("output", truncateOutput(text, maxOutputEventBytes)),
	))
}

func resolveExitCode(ctx context.Context, cmd *exec.Cmd, runErr error) int {
	if runErr == nil {
		return 0
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return -1
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return exitErr.ExitCode()
	}
	if cmd != nil && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	return -1
}

func truncateOutput(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	const marker = "...[truncated]"
	if limit <= len(marker) {
		return value[:limit]
	}
	return value[:limit-len(marker)] + marker
}

// RedactArgs masks values of flags whose names look like credentials, in both
// "--flag value" and "--flag=value" forms.
func RedactArgs(args []string) []string {
	redacted := make([]string, 0, len(args))
	maskNext := false

	for _, arg := range args {
		if maskNext {
			redacted = append(redacted, redactedValue)
			maskNext = false
			continue
		}

		trimmed := strings.TrimSpace(arg)
		if !strings.HasPrefix(trimmed, "-") {
			redacted = append(redacted, trimmed)
			continue
		}

		if flag, _, found := strings.Cut(trimmed, "="); found {
			if isSensitiveFlag(flag) {
				redacted = append(redacted, flag+"="+redactedValue)
				continue
			}
			redacted = append(redacted, trimmed)
			continue
		}

		if isSensitiveFlag(trimmed) {
			maskNext = true
		}
		redacted = append(redacted, trimmed)
	}

	return redacted
}

func isSensitiveFlag(flag string) bool {
	flag = strings.ToLower(flag)
	for _, candidate := range []string{
		"token",
		"password",
		"passwd",
		"secret",
		"api-key",
		"apikey",
		"auth",
		"bearer",
		"sfdx-url",
	} {
		if strings.Contains(flag, candidate) {
			return true
		}
	}
	return false
}
