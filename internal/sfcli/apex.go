package sfcli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// testFailureStatus is the envelope status sf reports when tests ran but some failed.
const testFailureStatus = 100

// RunTestsSynchronous runs the requested tests and blocks until the org
// reports results.
func (c *Client) RunTestsSynchronous(ctx context.Context, req RunTestsRequest) (*TestRunResult, error) {
	args, err := runTestArgs(req)
	if err != nil {
		return nil, err
	}

	out, err := c.runAccepting(ctx, []int{0, testFailureStatus}, args...)
	if err != nil {
		return nil, fmt.Errorf("run apex tests: %w", err)
	}

	var payload any
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, fmt.Errorf("parse test run output JSON: %w", err)
	}
	if err := testRunResultSchema.Validate(payload); err != nil {
		return nil, fmt.Errorf("validate test run output: %w", err)
	}

	var result TestRunResult
	if err := decodeJSON(out, &result); err != nil {
		return nil, fmt.Errorf("parse test run output JSON: %w", err)
	}
	return &result, nil
}

func runTestArgs(req RunTestsRequest) ([]string, error) {
	if len(req.Tests) == 0 {
		return nil, errors.New("run tests request must name at least one test")
	}

	level := req.TestLevel
	if strings.TrimSpace(string(level)) == "" {
		level = TestLevelRunSpecifiedTests
	}

	args := []string{
		"apex", "run", "test",
		"--synchronous",
		"--test-level", string(level),
	}
	for _, item := range req.Tests {
		className := strings.TrimSpace(item.ClassName)
		if className == "" {
			return nil, errors.New("test class name must not be empty")
		}
		methods := nonBlank(item.TestMethods)
		if len(methods) == 0 {
			args = append(args, "--class-names", className)
			continue
		}
		for _, method := range methods {
			args = append(args, "--tests", className+"."+method)
		}
	}

	return withTargetOrg(args, req.TargetOrg), nil
}

// GetLog downloads one Apex debug log into outputDir. sf writes the file as
// <outputDir>/<logID>.log.
func (c *Client) GetLog(ctx context.Context, targetOrg, logID, outputDir string) error {
	if strings.TrimSpace(logID) == "" {
		return errors.New("log id must not be empty")
	}
	if strings.TrimSpace(outputDir) == "" {
		return errors.New("output directory must not be empty")
	}

	args := withTargetOrg([]string{
		"apex", "get", "log",
		"--log-id", logID,
		"--output-dir", outputDir,
	}, targetOrg)

	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("get apex log %q: %w", logID, err)
	}
	return nil
}

func nonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
