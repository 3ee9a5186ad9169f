// Package sfcli wraps the Salesforce sf CLI and decodes its JSON output.
package sfcli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/replay-tools/rdt/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultCommand is the Salesforce CLI binary name.
	DefaultCommand = "sf"
	// DefaultTimeout bounds one sf invocation, including synchronous test runs.
	DefaultTimeout = 10 * time.Minute

	tracerName = "rdt/sfcli"
)

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

type defaultCommandRunner struct{}

func (defaultCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	result, err := tracing.Exec(ctx, name, args, "")
	return result.Stdout, result.Stderr, err
}

// CommandError is a failure reported by sf itself through its JSON envelope.
type CommandError struct {
	Name     string
	Message  string
	Status   int
	Warnings []string
}

func (e *CommandError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Name) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Message extracts the human-readable text of err. sf-reported failures
// yield only their message; everything else yields err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && strings.TrimSpace(cmdErr.Message) != "" {
		return cmdErr.Message
	}
	return err.Error()
}

type envelope struct {
	Status   int             `json:"status"`
	Name     string          `json:"name,omitempty"`
	Message  string          `json:"message,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
}

// Client wraps the `sf` CLI and returns typed results.
type Client struct {
	command string
	timeout time.Duration
	runner  commandRunner
}

// NewClient creates an sf client and validates that the binary responds.
func NewClient(command string, timeout time.Duration) (*Client, error) {
	if strings.TrimSpace(command) == "" {
		command = DefaultCommand
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return newClient(command, timeout, defaultCommandRunner{})
}

func newClient(command string, timeout time.Duration, runner commandRunner) (*Client, error) {
	if strings.TrimSpace(command) == "" {
		return nil, errors.New("command must not be empty")
	}
	if timeout <= 0 {
		return nil, errors.New("timeout must be positive")
	}
	if runner == nil {
		return nil, errors.New("runner must not be nil")
	}

	client := &Client{
		command: command,
		timeout: timeout,
		runner:  runner,
	}

	if err := client.checkCLI(); err != nil {
		return nil, err
	}

	return client, nil
}

func (c *Client) checkCLI() error {
	if _, err := exec.LookPath(c.command); err != nil {
		return fmt.Errorf("find %s on PATH: %w", c.command, err)
	}

	// sf version prints its details bare, without the status envelope.
	if _, err := c.invoke(context.Background(), []string{"version"}, c.interpretVersion); err != nil {
		return fmt.Errorf("check %s availability: %w", c.command, err)
	}

	return nil
}

// versionInfo is the part of `sf version --json` the client relies on.
type versionInfo struct {
	CLIVersion string `json:"cliVersion"`
}

func (c *Client) interpretVersion(args []string, stdout, stderr []byte, runErr error) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(stdout)
	if runErr != nil || len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, c.outputError(args, stderr, runErr)
	}

	var info versionInfo
	if err := json.Unmarshal(trimmed, &info); err != nil {
		return nil, fmt.Errorf("parse %s %s output: %w", c.command, strings.Join(args, " "), err)
	}
	if strings.TrimSpace(info.CLIVersion) == "" {
		return nil, fmt.Errorf("parse %s %s output: missing cliVersion", c.command, strings.Join(args, " "))
	}
	return json.RawMessage(trimmed), nil
}

func (c *Client) run(ctx context.Context, args ...string) (json.RawMessage, error) {
	return c.runAccepting(ctx, []int{0}, args...)
}

// runAccepting executes one sf command and returns the envelope result when
// the envelope status is one of accepted.
func (c *Client) runAccepting(ctx context.Context, accepted []int, args ...string) (json.RawMessage, error) {
	return c.invoke(ctx, args, func(commandArgs []string, stdout, stderr []byte, runErr error) (json.RawMessage, error) {
		return c.interpret(commandArgs, stdout, stderr, runErr, accepted)
	})
}

type outputInterpreter func(args []string, stdout, stderr []byte, runErr error) (json.RawMessage, error)

// invoke runs one sf command with --json inside an "sf.exec" span and hands
// its output to interpret.
func (c *Client) invoke(ctx context.Context, args []string, interpret outputInterpreter) (json.RawMessage, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	commandArgs := append([]string{}, args...)
	if !hasJSONFlag(commandArgs) {
		commandArgs = append(commandArgs, "--json")
	}

	spanCtx, span := otel.Tracer(tracerName).Start(
		runCtx,
		"sf.exec",
		trace.WithAttributes(
			attribute.String("tool_name", c.command),
			attribute.String("args_redacted", strings.Join(tracing.RedactArgs(commandArgs), " ")),
		),
	)
	started := time.Now()
	defer func() {
		span.SetAttributes(attribute.Int64("duration_ms", time.Since(started).Milliseconds()))
		span.End()
	}()

	stdout, stderr, runErr := c.runner.Run(spanCtx, c.command, commandArgs...)
	result, err := interpret(commandArgs, stdout, stderr, runErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetStatus(codes.Ok, "sf command completed")
	return result, nil
}

func (c *Client) interpret(
	args []string,
	stdout []byte,
	stderr []byte,
	runErr error,
	accepted []int,
) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(stdout)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, c.outputError(args, stderr, runErr)
	}

	env, err := decodeEnvelope(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse %s %s output: %w", c.command, strings.Join(args, " "), err)
	}

	if !containsStatus(accepted, env.Status) || len(env.Result) == 0 {
		message := strings.TrimSpace(env.Message)
		if message == "" && runErr != nil {
			message = runErr.Error()
		}
		if message == "" {
			message = fmt.Sprintf("%s exited with status %d", c.command, env.Status)
		}
		return nil, &CommandError{
			Name:     env.Name,
			Message:  message,
			Status:   env.Status,
			Warnings: env.Warnings,
		}
	}

	return env.Result, nil
}

// outputError describes a command that produced no JSON document.
func (c *Client) outputError(args []string, stderr []byte, runErr error) error {
	if runErr != nil {
		return fmt.Errorf(
			"run %s %s: %w (stderr: %s)",
			c.command,
			strings.Join(args, " "),
			runErr,
			strings.TrimSpace(string(stderr)),
		)
	}
	return fmt.Errorf("run %s %s: empty JSON output", c.command, strings.Join(args, " "))
}

func decodeEnvelope(data []byte) (envelope, error) {
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return envelope{}, fmt.Errorf("unmarshal JSON: %w", err)
	}
	if err := envelopeSchema.Validate(payload); err != nil {
		return envelope{}, fmt.Errorf("validate envelope: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if bytes.Equal(bytes.TrimSpace(env.Result), []byte("null")) {
		env.Result = nil
	}
	return env, nil
}

func decodeJSON(data []byte, out any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return errors.New("empty JSON result")
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("unmarshal JSON: %w", err)
	}
	return nil
}

func hasJSONFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--json" {
			return true
		}
	}
	return false
}

func containsStatus(accepted []int, status int) bool {
	for _, candidate := range accepted {
		if candidate == status {
			return true
		}
	}
	return false
}

func withTargetOrg(args []string, alias string) []string {
	alias = strings.TrimSpace(alias)
	if alias == "" {
		return args
	}
	return append(args, "--target-org", alias)
}
