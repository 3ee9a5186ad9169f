// Package testrun runs one Apex test synchronously and reduces the result to
// the log id needed for replay.
package testrun

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/replay-tools/rdt/internal/org"
	"github.com/replay-tools/rdt/internal/sfcli"
)

const (
	// MessageNoResults is reported when the org accepted the run but returned no tests.
	MessageNoResults = "No test results found."
	// MessageNoDebugLog is reported when the first test result carries no log id.
	MessageNoDebugLog = "No debug log found for the test run."
)

// TestTarget identifies one test class and, optionally, one of its methods.
// An empty MethodName runs every method in the class.
type TestTarget struct {
	ClassName  string
	MethodName string
}

// ParseTarget parses "Class" or "Class.method".
func ParseTarget(value string) (TestTarget, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return TestTarget{}, errors.New("test target must not be empty")
	}

	className, methodName, hasMethod := strings.Cut(value, ".")
	target := TestTarget{
		ClassName:  strings.TrimSpace(className),
		MethodName: strings.TrimSpace(methodName),
	}
	if target.ClassName == "" {
		return TestTarget{}, fmt.Errorf("test target %q has no class name", value)
	}
	if hasMethod && (target.MethodName == "" || strings.Contains(target.MethodName, ".")) {
		return TestTarget{}, fmt.Errorf("test target %q must be Class or Class.method", value)
	}
	return target, nil
}

func (t TestTarget) String() string {
	if t.MethodName == "" {
		return t.ClassName
	}
	return t.ClassName + "." + t.MethodName
}

// Outcome is the result of one invocation. Succeeded implies LogID is set;
// a failed outcome never carries a LogID and may carry a Message.
type Outcome struct {
	LogID     string
	Message   string
	Succeeded bool
}

func succeeded(logID string) Outcome {
	return Outcome{LogID: logID, Succeeded: true}
}

func failed(message string) Outcome {
	return Outcome{Message: message}
}

// Executor is the remote synchronous test-execution call.
type Executor interface {
	RunTestsSynchronous(ctx context.Context, req sfcli.RunTestsRequest) (*sfcli.TestRunResult, error)
}

// Runner is the test invocation stage.
type Runner struct {
	executor Executor
}

// NewRunner builds a test invocation stage over executor.
func NewRunner(executor Executor) (*Runner, error) {
	if executor == nil {
		return nil, errors.New("test executor is required")
	}
	return &Runner{executor: executor}, nil
}

// RunSingleTest runs exactly one target and classifies the result. Errors
// from the executor become failed outcomes carrying the error text.
func (r *Runner) RunSingleTest(ctx context.Context, conn org.Connection, target TestTarget) Outcome {
	if r == nil || r.executor == nil {
		return failed("test runner is not configured")
	}
	if strings.TrimSpace(target.ClassName) == "" {
		return failed("test class name must not be empty")
	}

	result, err := r.executor.RunTestsSynchronous(ctx, BuildRequest(conn, target))
	if err != nil {
		return failed(sfcli.Message(err))
	}
	return Classify(result)
}

// BuildRequest constrains the run to target: one method when named,
// otherwise the whole class, always at RunSpecifiedTests.
func BuildRequest(conn org.Connection, target TestTarget) sfcli.RunTestsRequest {
	item := sfcli.TestItem{ClassName: strings.TrimSpace(target.ClassName)}
	if method := strings.TrimSpace(target.MethodName); method != "" {
		item.TestMethods = []string{method}
	}
	return sfcli.RunTestsRequest{
		TargetOrg: conn.TargetOrg(),
		Tests:     []sfcli.TestItem{item},
		TestLevel: sfcli.TestLevelRunSpecifiedTests,
	}
}

// Classify maps a synchronous run result onto an Outcome. Only the first
// test entry is inspected.
func Classify(result *sfcli.TestRunResult) Outcome {
	if result == nil || len(result.Tests) == 0 {
		return failed(MessageNoResults)
	}
	logID, ok := result.Tests[0].LogID()
	if !ok {
		return failed(MessageNoDebugLog)
	}
	return succeeded(logID)
}
