// Package debugtest sequences a remote test run, log download, and replay
// launch into one debug-test operation.
package debugtest

import (
	"context"
	"errors"
	"io"

	"github.com/charmbracelet/log"
	"github.com/replay-tools/rdt/internal/apexlog"
	"github.com/replay-tools/rdt/internal/logging"
	"github.com/replay-tools/rdt/internal/org"
	"github.com/replay-tools/rdt/internal/testrun"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Stage names one step of the debug-test sequence.
type Stage string

const (
	StageAcquireConnection Stage = "acquire_connection"
	StageEnsureDiagnostics Stage = "ensure_diagnostics"
	StageRunTest           Stage = "run_test"
	StageRetrieveLog       Stage = "retrieve_log"
	StageLaunchReplay      Stage = "launch_replay"
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StageAcquireConnection,
	StageEnsureDiagnostics,
	StageRunTest,
	StageRetrieveLog,
	StageLaunchReplay,
}

const tracerName = "rdt/debugtest"

// ConnectionProvider supplies an authenticated org connection.
type ConnectionProvider interface {
	Connection(ctx context.Context) (org.Connection, error)
}

// DiagnosticsEnabler makes sure the next run emits a debug log.
type DiagnosticsEnabler interface {
	EnsureReady(ctx context.Context, conn org.Connection) bool
}

// TestRunner is the test invocation stage.
type TestRunner interface {
	RunSingleTest(ctx context.Context, conn org.Connection, target testrun.TestTarget) testrun.Outcome
}

// LogRetriever is the log acquisition stage.
type LogRetriever interface {
	RetrieveLogFile(ctx context.Context, conn org.Connection, logID string) apexlog.Outcome
}

// ReplayLauncher starts a replay session for a local log.
type ReplayLauncher interface {
	Launch(ctx context.Context, logPath string, stopOnEntry bool) error
}

// Notifier surfaces errors to the user.
type Notifier interface {
	ShowErrorMessage(text string)
}

// StageObserver is told when each stage begins.
type StageObserver interface {
	StageStarted(stage Stage)
}

// Executor is the capability the command layer invokes.
type Executor interface {
	Run(ctx context.Context, target testrun.TestTarget) bool
}

// Deps are the collaborators of an Orchestrator. Logger and Progress are optional.
type Deps struct {
	Connections ConnectionProvider
	Diagnostics DiagnosticsEnabler
	Tests       TestRunner
	Logs        LogRetriever
	Replay      ReplayLauncher
	Notifier    Notifier
	Logger      *log.Logger
	Progress    StageObserver
}

// Orchestrator runs the debug-test sequence. It holds no per-call state, so
// concurrent calls are independent.
type Orchestrator struct {
	deps Deps
}

var _ Executor = (*Orchestrator)(nil)

// New validates deps and builds an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Connections == nil:
		return nil, errors.New("connection provider is required")
	case deps.Diagnostics == nil:
		return nil, errors.New("diagnostics enabler is required")
	case deps.Tests == nil:
		return nil, errors.New("test runner is required")
	case deps.Logs == nil:
		return nil, errors.New("log retriever is required")
	case deps.Replay == nil:
		return nil, errors.New("replay launcher is required")
	case deps.Notifier == nil:
		return nil, errors.New("notifier is required")
	}
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard)
	}
	return &Orchestrator{deps: deps}, nil
}

// Run implements Executor.
func (o *Orchestrator) Run(ctx context.Context, target testrun.TestTarget) bool {
	return o.DebugTest(ctx, target)
}

// DebugTest runs target remotely, downloads its debug log, and launches a
// replay session. It reports true only when the replay launcher was invoked
// successfully. Only a failed test run with a message notifies the user;
// every other failure is silent apart from logging.
func (o *Orchestrator) DebugTest(ctx context.Context, target testrun.TestTarget) bool {
	if o == nil {
		return false
	}
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "debugtest", trace.WithAttributes(
		attribute.String("test_target", target.String()),
	))
	defer span.End()

	logger := logging.WithSpan(ctx, o.deps.Logger).With("test_target", target.String())
	ok := o.sequence(ctx, logger, target)
	if ok {
		span.SetStatus(codes.Ok, "replay launched")
	} else {
		span.SetStatus(codes.Error, "debug session not started")
	}
	return ok
}

func (o *Orchestrator) sequence(ctx context.Context, logger *log.Logger, target testrun.TestTarget) bool {
	var conn org.Connection
	if !o.stage(ctx, logger, StageAcquireConnection, func(ctx context.Context) bool {
		resolved, err := o.deps.Connections.Connection(ctx)
		if err != nil {
			logger.With("error", err.Error()).Error("acquire connection failed")
			return false
		}
		conn = resolved
		return true
	}) {
		return false
	}

	if !o.stage(ctx, logger, StageEnsureDiagnostics, func(ctx context.Context) bool {
		return o.deps.Diagnostics.EnsureReady(ctx, conn)
	}) {
		return false
	}

	var logID string
	if !o.stage(ctx, logger, StageRunTest, func(ctx context.Context) bool {
		outcome := o.deps.Tests.RunSingleTest(ctx, conn, target)
		if !outcome.Succeeded || outcome.LogID == "" {
			if outcome.Message != "" {
				o.deps.Notifier.ShowErrorMessage(outcome.Message)
			}
			return false
		}
		logID = outcome.LogID
		return true
	}) {
		return false
	}

	var logPath string
	if !o.stage(ctx, logger, StageRetrieveLog, func(ctx context.Context) bool {
		outcome := o.deps.Logs.RetrieveLogFile(ctx, conn, logID)
		if !outcome.Succeeded || outcome.LocalPath == "" {
			return false
		}
		logPath = outcome.LocalPath
		return true
	}) {
		return false
	}

	return o.stage(ctx, logger, StageLaunchReplay, func(ctx context.Context) bool {
		if err := o.deps.Replay.Launch(ctx, logPath, false); err != nil {
			logger.With("log_file", logPath, "error", err.Error()).Error("launch replay failed")
			return false
		}
		logger.With("log_file", logPath).Info("replay debugger launched")
		return true
	})
}

func (o *Orchestrator) stage(
	ctx context.Context,
	logger *log.Logger,
	stage Stage,
	fn func(context.Context) bool,
) bool {
	stageCtx, span := otel.Tracer(tracerName).Start(ctx, "debugtest."+string(stage))
	defer span.End()

	logger.With("stage", string(stage)).Debug("stage started")
	if o.deps.Progress != nil {
		o.deps.Progress.StageStarted(stage)
	}
	ok := fn(stageCtx)
	span.SetAttributes(attribute.Bool("ok", ok))
	if !ok {
		span.SetStatus(codes.Error, "stage failed")
		logger.With("stage", string(stage)).Info("debug test stopped")
		return false
	}
	span.SetStatus(codes.Ok, "")
	return true
}
