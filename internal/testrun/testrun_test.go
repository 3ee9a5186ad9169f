package testrun

import (
	"context"
	"errors"
	"testing"

	"github.com/replay-tools/rdt/internal/org"
	"github.com/replay-tools/rdt/internal/sfcli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	result   *sfcli.TestRunResult
	err      error
	requests []sfcli.RunTestsRequest
}

func (f *fakeExecutor) RunTestsSynchronous(_ context.Context, req sfcli.RunTestsRequest) (*sfcli.TestRunResult, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func logID(value string) *string {
	return &value
}

func newTestRunner(t *testing.T, executor *fakeExecutor) *Runner {
	t.Helper()
	runner, err := NewRunner(executor)
	require.NoError(t, err)
	return runner
}

func TestRunSingleTestConstrainsRequestToTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target TestTarget
		want   sfcli.TestItem
	}{
		{
			name:   "single method",
			target: TestTarget{ClassName: "AccountTest", MethodName: "testInsert"},
			want:   sfcli.TestItem{ClassName: "AccountTest", TestMethods: []string{"testInsert"}},
		},
		{
			name:   "whole class",
			target: TestTarget{ClassName: "AccountTest"},
			want:   sfcli.TestItem{ClassName: "AccountTest"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			executor := &fakeExecutor{result: &sfcli.TestRunResult{}}
			runner := newTestRunner(t, executor)
			runner.RunSingleTest(context.Background(), org.Connection{Alias: "dev"}, tt.target)

			require.Len(t, executor.requests, 1)
			req := executor.requests[0]
			assert.Equal(t, "dev", req.TargetOrg)
			assert.Equal(t, sfcli.TestLevelRunSpecifiedTests, req.TestLevel)
			require.Len(t, req.Tests, 1)
			assert.Equal(t, tt.want, req.Tests[0])
		})
	}
}

func TestRunSingleTestClassifiesResults(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result *sfcli.TestRunResult
		err    error
		want   Outcome
	}{
		{
			name:   "no entries",
			result: &sfcli.TestRunResult{Summary: map[string]any{"outcome": "Passed"}},
			want:   Outcome{Message: MessageNoResults},
		},
		{
			name:   "nil result",
			result: nil,
			want:   Outcome{Message: MessageNoResults},
		},
		{
			name: "first entry lacks log id even when later entries have one",
			result: &sfcli.TestRunResult{Tests: []sfcli.TestResultEntry{
				{MethodName: "testA"},
				{MethodName: "testB", ApexLogID: logID("07L000000000009")},
			}},
			want: Outcome{Message: MessageNoDebugLog},
		},
		{
			name: "blank log id",
			result: &sfcli.TestRunResult{Tests: []sfcli.TestResultEntry{
				{MethodName: "testA", ApexLogID: logID("")},
			}},
			want: Outcome{Message: MessageNoDebugLog},
		},
		{
			name: "log id present",
			result: &sfcli.TestRunResult{Tests: []sfcli.TestResultEntry{
				{MethodName: "testA", Outcome: "Fail", ApexLogID: logID("07L000000000001")},
				{MethodName: "testB", ApexLogID: logID("07L000000000002")},
			}},
			want: Outcome{LogID: "07L000000000001", Succeeded: true},
		},
		{
			name: "plain error",
			err:  errors.New("timeout"),
			want: Outcome{Message: "timeout"},
		},
		{
			name: "sf reported error",
			err:  &sfcli.CommandError{Name: "NoOrgFound", Message: "No default org set", Status: 1},
			want: Outcome{Message: "No default org set"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			runner := newTestRunner(t, &fakeExecutor{result: tt.result, err: tt.err})
			got := runner.RunSingleTest(context.Background(), org.Connection{}, TestTarget{ClassName: "AccountTest"})
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got.Succeeded, got.LogID != "", "succeeded must match log id presence")
		})
	}
}

func TestRunSingleTestRejectsEmptyClassWithoutCallingOut(t *testing.T) {
	t.Parallel()

	executor := &fakeExecutor{}
	runner := newTestRunner(t, executor)

	got := runner.RunSingleTest(context.Background(), org.Connection{}, TestTarget{MethodName: "testA"})
	assert.False(t, got.Succeeded)
	assert.Empty(t, got.LogID)
	assert.Empty(t, executor.requests)
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    TestTarget
		wantErr bool
	}{
		{input: "AccountTest", want: TestTarget{ClassName: "AccountTest"}},
		{input: " AccountTest.testInsert ", want: TestTarget{ClassName: "AccountTest", MethodName: "testInsert"}},
		{input: "", wantErr: true},
		{input: ".testInsert", wantErr: true},
		{input: "AccountTest.", wantErr: true},
		{input: "ns.AccountTest.testInsert", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got, err := ParseTarget(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got.String(), tt.want.String())
		})
	}
}

func TestNewRunnerRequiresExecutor(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(nil)
	assert.EqualError(t, err, "test executor is required")
}
