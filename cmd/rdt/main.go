package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/replay-tools/rdt/internal/apexlog"
	"github.com/replay-tools/rdt/internal/config"
	"github.com/replay-tools/rdt/internal/debugtest"
	"github.com/replay-tools/rdt/internal/logging"
	"github.com/replay-tools/rdt/internal/notify"
	"github.com/replay-tools/rdt/internal/org"
	"github.com/replay-tools/rdt/internal/replay"
	"github.com/replay-tools/rdt/internal/sfcli"
	"github.com/replay-tools/rdt/internal/telemetry"
	"github.com/replay-tools/rdt/internal/testrun"
	"github.com/replay-tools/rdt/internal/traceflag"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "dev"

var (
	errDebugSessionNotStarted = errors.New("debug session not started")
	errDebugLoggingNotReady   = errors.New("debug logging not enabled")
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(
		ctx,
		logging.WithRunID(uuid.NewString()),
		logging.WithLevel(cfg.LogLevel),
	)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	telemetry.ServiceVersion = Version
	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint)
	if err != nil {
		logger.Logger.With("error", err).Warn("tracing disabled")
		shutdown = func() {}
	}
	defer shutdown()

	cmd := newRootCommand(cfg, logger.Logger, newServices)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// services are the collaborators behind the subcommands.
type services struct {
	connections debugtest.ConnectionProvider
	diagnostics debugtest.DiagnosticsEnabler
	debugger    debugtest.Executor
}

// serviceOptions are the per-invocation inputs to a servicesFactory.
type serviceOptions struct {
	TargetOrg string
	Stderr    io.Writer
	Progress  debugtest.StageObserver
}

type servicesFactory func(cfg *config.Config, opts serviceOptions, logger *log.Logger) (*services, error)

func newServices(cfg *config.Config, opts serviceOptions, logger *log.Logger) (*services, error) {
	client, err := sfcli.NewClient(cfg.SFCommand, cfg.CommandTimeout)
	if err != nil {
		return nil, err
	}
	connections, err := org.NewProvider(client, opts.TargetOrg)
	if err != nil {
		return nil, err
	}
	enabler, err := traceflag.NewEnabler(client, logger)
	if err != nil {
		return nil, err
	}
	runner, err := testrun.NewRunner(client)
	if err != nil {
		return nil, err
	}
	retriever, err := apexlog.NewRetriever(client, apexlog.ProjectDirResolver{Configured: cfg.LogDir}, logger)
	if err != nil {
		return nil, err
	}
	orchestrator, err := debugtest.New(debugtest.Deps{
		Connections: connections,
		Diagnostics: enabler,
		Tests:       runner,
		Logs:        retriever,
		Replay:      replay.NewLauncher(cfg.ReplayCommand, logger),
		Notifier:    notifierWithProgress(notify.New(opts.Stderr, logger), opts.Progress),
		Logger:      logger,
		Progress:    opts.Progress,
	})
	if err != nil {
		return nil, err
	}

	return &services{
		connections: connections,
		diagnostics: enabler,
		debugger:    orchestrator,
	}, nil
}

func newRootCommand(cfg *config.Config, logger *log.Logger, factory servicesFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "rdt",
		Short:         "Run an Apex test and open its debug log in the replay debugger",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}

	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.AddCommand(
		newDebugTestCommand(cfg, logger, factory),
		newEnableLoggingCommand(cfg, logger, factory),
		newBugreportCommand(cfg, logger),
	)

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		if logger == nil {
			return errors.New("logger is required")
		}
		if cfg == nil {
			return errors.New("config is required")
		}
		logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}

	return root
}

func newDebugTestCommand(cfg *config.Config, logger *log.Logger, factory servicesFactory) *cobra.Command {
	var className, methodName, targetOrg string
	var noProgress bool

	cmd := &cobra.Command{
		Use:   "debug-test [Class[.method]]",
		Short: "Run one test with debug logging and launch the replay debugger on its log",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := resolveTarget(args, className, methodName)
			if err != nil {
				return err
			}
			opts := serviceOptions{
				TargetOrg: resolveTargetOrg(cfg, targetOrg),
				Stderr:    cmd.ErrOrStderr(),
			}
			var progress *stageProgress
			if !noProgress && isTerminal(cmd.ErrOrStderr()) {
				progress = newStageProgress(cmd.ErrOrStderr(), target.String())
				opts.Progress = progress
			}
			svc, err := factory(cfg, opts, logger)
			if err != nil {
				return fmt.Errorf("initialize debug-test: %w", err)
			}

			logger.With("target", target.String()).Info("debug test requested")
			ok := svc.debugger.Run(cmd.Context(), target)
			progress.Finish()
			if !ok {
				return errDebugSessionNotStarted
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Replay debugger launched for %s\n", target)
			return err
		},
	}

	cmd.Flags().StringVar(&className, "class", "", "test class name")
	cmd.Flags().StringVar(&methodName, "method", "", "test method name (requires --class)")
	cmd.Flags().StringVar(&targetOrg, "target-org", "", "org alias or username (default: target_org from config, then the sf default org)")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "disable the stage progress bar")
	return cmd
}

func newEnableLoggingCommand(cfg *config.Config, logger *log.Logger, factory servicesFactory) *cobra.Command {
	var targetOrg string

	cmd := &cobra.Command{
		Use:   "enable-logging",
		Short: "Ensure the connected user has an active debug log trace flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := factory(cfg, serviceOptions{
				TargetOrg: resolveTargetOrg(cfg, targetOrg),
				Stderr:    cmd.ErrOrStderr(),
			}, logger)
			if err != nil {
				return fmt.Errorf("initialize enable-logging: %w", err)
			}

			conn, err := svc.connections.Connection(cmd.Context())
			if err != nil {
				return fmt.Errorf("resolve org connection: %w", err)
			}
			if !svc.diagnostics.EnsureReady(cmd.Context(), conn) {
				return errDebugLoggingNotReady
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Debug logging enabled for %s\n", conn.Username)
			return err
		},
	}

	cmd.Flags().StringVar(&targetOrg, "target-org", "", "org alias or username (default: target_org from config, then the sf default org)")
	return cmd
}

// resolveTarget accepts either a positional Class[.method] or --class/--method.
func resolveTarget(args []string, className, methodName string) (testrun.TestTarget, error) {
	className = strings.TrimSpace(className)
	methodName = strings.TrimSpace(methodName)

	if len(args) > 0 {
		if className != "" || methodName != "" {
			return testrun.TestTarget{}, errors.New("specify the test either as an argument or with --class/--method, not both")
		}
		return testrun.ParseTarget(args[0])
	}

	if className == "" {
		if methodName != "" {
			return testrun.TestTarget{}, errors.New("--method requires --class")
		}
		return testrun.TestTarget{}, errors.New("a test class is required")
	}
	if methodName == "" {
		return testrun.ParseTarget(className)
	}
	return testrun.ParseTarget(className + "." + methodName)
}

func resolveTargetOrg(cfg *config.Config, flagValue string) string {
	if value := strings.TrimSpace(flagValue); value != "" {
		return value
	}
	if cfg == nil {
		return ""
	}
	return cfg.TargetOrg
}
