// Package replay hands a downloaded debug log to the Apex Replay Debugger.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/replay-tools/rdt/internal/tracing"
)

const (
	// LaunchConfigName is the display name of the generated launch configuration.
	LaunchConfigName = "Launch Apex Replay Debugger"
	// LaunchConfigFile is written next to the logs directory.
	LaunchConfigFile = "replay-launch.json"

	debuggerType = "apex-replay"
)

// LaunchConfig is the debug adapter launch configuration for one replay session.
type LaunchConfig struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Request     string `json:"request"`
	LogFile     string `json:"logFile"`
	StopOnEntry bool   `json:"stopOnEntry"`
	Trace       bool   `json:"trace"`
}

// NewLaunchConfig builds the launch configuration for logPath.
func NewLaunchConfig(logPath string, stopOnEntry bool) LaunchConfig {
	return LaunchConfig{
		Name:        LaunchConfigName,
		Type:        debuggerType,
		Request:     "launch",
		LogFile:     logPath,
		StopOnEntry: stopOnEntry,
	}
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type defaultCommandRunner struct{}

func (defaultCommandRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	result, err := tracing.Exec(ctx, name, args, "")
	return append(result.Stdout, result.Stderr...), err
}

// Launcher writes a launch configuration and, when a command is configured,
// starts it with the configuration path as its last argument.
type Launcher struct {
	command []string
	runner  commandRunner
	logger  *log.Logger
}

// NewLauncher builds a launcher. command is split on whitespace; an empty
// command only writes the launch configuration.
func NewLauncher(command string, logger *log.Logger) *Launcher {
	return newLauncher(command, defaultCommandRunner{}, logger)
}

func newLauncher(command string, runner commandRunner, logger *log.Logger) *Launcher {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Launcher{
		command: strings.Fields(command),
		runner:  runner,
		logger:  logger,
	}
}

// Launch starts a replay session for logPath.
func (l *Launcher) Launch(ctx context.Context, logPath string, stopOnEntry bool) error {
	if l == nil {
		return errors.New("replay launcher is nil")
	}
	if strings.TrimSpace(logPath) == "" {
		return errors.New("log path must not be empty")
	}

	configPath, err := WriteLaunchConfig(ConfigPathFor(logPath), NewLaunchConfig(logPath, stopOnEntry))
	if err != nil {
		return err
	}
	l.logger.With("log_file", logPath, "launch_config", configPath).Info("replay launch configuration written")

	if len(l.command) == 0 {
		return nil
	}

	args := append(append([]string{}, l.command[1:]...), configPath)
	output, err := l.runner.Run(ctx, l.command[0], args...)
	if err != nil {
		return fmt.Errorf(
			"run %s %s: %w (output: %s)",
			l.command[0],
			strings.Join(args, " "),
			err,
			strings.TrimSpace(string(output)),
		)
	}
	l.logger.With("command", l.command[0]).Info("replay debugger started")
	return nil
}

// ConfigPathFor places the launch configuration one level above the log's
// directory, i.e. .sfdx/tools/debug/replay-launch.json for default layouts.
func ConfigPathFor(logPath string) string {
	return filepath.Join(filepath.Dir(filepath.Dir(logPath)), LaunchConfigFile)
}

// WriteLaunchConfig writes cfg as indented JSON and returns the path written.
func WriteLaunchConfig(path string, cfg LaunchConfig) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal launch config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create launch config dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return "", fmt.Errorf("write launch config %q: %w", path, err)
	}
	return path, nil
}
