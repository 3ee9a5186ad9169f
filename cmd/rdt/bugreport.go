package main

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/replay-tools/rdt/internal/apexlog"
	"github.com/replay-tools/rdt/internal/config"
	"github.com/replay-tools/rdt/internal/replay"
	"github.com/spf13/cobra"
)

const (
	bugreportRunLogLimit  = 3
	bugreportDebugLogList = 10
	redactedConfigValue   = `"***REDACTED***"`
)

var (
	bugreportNowFn = func() time.Time {
		return time.Now().UTC()
	}
	bugreportHomeDirFn = os.UserHomeDir
	bugreportGetwdFn   = os.Getwd
	bugreportRunCmdFn  = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, name, args...).CombinedOutput()
	}
)

func newBugreportCommand(cfg *config.Config, logger *log.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "bugreport",
		Short: "Collect a diagnostic bundle for a failed debug session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if logger != nil {
				logger.With("command", "bugreport").Info("collecting diagnostic bundle")
			}
			return runBugReport(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
}

func runBugReport(ctx context.Context, cfg *config.Config, out io.Writer) error {
	if cfg == nil {
		cfg = &config.Config{}
	}
	homeDir, err := bugreportHomeDirFn()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	if homeDir = filepath.Clean(homeDir); homeDir == "." {
		return errors.New("home directory is not valid")
	}
	cwd, err := bugreportGetwdFn()
	if err != nil {
		return fmt.Errorf("resolve current directory: %w", err)
	}
	cwd = filepath.Clean(cwd)

	now := bugreportNowFn()
	b := &bundle{created: now}
	b.addRunLogs(filepath.Join(homeDir, config.DirName, "logs"))
	b.addVersions(ctx, cfg.SFCommand)
	b.addConfig("config-home.toml", filepath.Join(homeDir, config.DirName, "config.toml"))
	b.addConfig("config-project.toml", filepath.Join(cwd, config.DirName, "config.toml"))
	b.addReplayState(cfg.LogDir, cwd)
	b.addReadme()

	bundlePath := filepath.Join(cwd, fmt.Sprintf("rdt-bugreport-%s.tar.gz", now.Format("20060102-150405")))
	if err := b.writeArchive(bundlePath); err != nil {
		return err
	}

	if out == nil {
		out = os.Stdout
	}
	if _, err := fmt.Fprintf(out, "Bug report written to: %s\n", bundlePath); err != nil {
		return fmt.Errorf("write bugreport output: %w", err)
	}
	return nil
}

// bundle holds the bug report files in memory until they are archived.
type bundle struct {
	created time.Time
	files   []bundleFile
	notes   []string
	runID   string
	traceID string
}

type bundleFile struct {
	name string
	data []byte
}

func (b *bundle) add(name string, data []byte) {
	b.files = append(b.files, bundleFile{name: name, data: data})
}

func (b *bundle) note(format string, args ...any) {
	b.notes = append(b.notes, fmt.Sprintf(format, args...))
}

// addRunLogs copies the newest rdt logs and takes the last run_id and
// trace_id from the newest log that has a run_id.
func (b *bundle) addRunLogs(dir string) {
	paths, err := recentFiles(dir, bugreportRunLogLimit)
	if err != nil {
		b.note("no rdt logs: %v", err)
	}
	for _, path := range paths {
		// #nosec G304 -- path is listed from the rdt log directory.
		data, err := os.ReadFile(path)
		if err != nil {
			b.note("skipped %s: %v", filepath.Base(path), err)
			continue
		}
		b.add("logs/"+filepath.Base(path), data)
		if b.runID == "" {
			b.runID, b.traceID = lastCorrelation(data)
		}
	}
	if b.runID == "" {
		b.note("no run_id found in rdt logs")
	} else if b.traceID == "" {
		b.note("run %s has no trace_id; tracing may be disabled", b.runID)
	}
	b.add("last-run.txt", fmt.Appendf(nil, "run_id: %s\ntrace_id: %s\n", b.runID, b.traceID))
}

// lastCorrelation scans JSON log records and returns the last run_id seen
// together with the last non-empty trace_id.
func lastCorrelation(data []byte) (runID, traceID string) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var record struct {
			RunID   string `json:"run_id"`
			TraceID string `json:"trace_id"`
		}
		if json.Unmarshal(scanner.Bytes(), &record) != nil {
			continue
		}
		if id := strings.TrimSpace(record.RunID); id != "" {
			runID = id
		}
		if id := strings.TrimSpace(record.TraceID); id != "" {
			traceID = id
		}
	}
	return runID, traceID
}

func (b *bundle) addVersions(ctx context.Context, sfCommand string) {
	if strings.TrimSpace(sfCommand) == "" {
		sfCommand = "sf"
	}
	sfVersion, err := bugreportRunCmdFn(ctx, sfCommand, "--version")
	text := strings.TrimSpace(string(sfVersion))
	if err != nil {
		text = strings.TrimSpace(text + "\nerror: " + err.Error())
	}
	b.add("version.txt", fmt.Appendf(nil, "rdt version: %s\n%s version: %s\n", Version, sfCommand, text))
}

func (b *bundle) addConfig(name, path string) {
	// #nosec G304 -- path is a fixed .rdt config location.
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			b.note("%s: %v", name, err)
		}
		b.add(name, []byte("# not present\n"))
		return
	}
	b.add(name, []byte(redactSensitiveConfig(string(data))))
}

// redactSensitiveConfig masks values of TOML keys that look like secrets.
func redactSensitiveConfig(configText string) string {
	lines := strings.Split(configText, "\n")
	for i, line := range lines {
		key, _, found := strings.Cut(line, "=")
		trimmed := strings.TrimSpace(key)
		if !found || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "[") {
			continue
		}
		if isSensitiveKey(trimmed) {
			lines[i] = key + "= " + redactedConfigValue
		}
	}
	return strings.Join(lines, "\n")
}

func isSensitiveKey(key string) bool {
	key = strings.ToLower(key)
	for _, marker := range []string{"token", "secret", "password", "passwd", "api_key", "apikey", "auth"} {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}

// addReplayState records where debug logs land, which logs are there, and the
// last launch configuration. Debug log bodies can hold org data and stay out.
func (b *bundle) addReplayState(configuredDir, cwd string) {
	var state strings.Builder
	logDir, err := apexlog.ProjectDirResolver{Configured: configuredDir, WorkDir: cwd}.LogDir()
	if err != nil {
		b.note("debug log directory: %v", err)
		b.add("replay-state.txt", []byte("log dir: unresolved\n"))
		return
	}
	fmt.Fprintf(&state, "log dir: %s\n\ndebug logs (newest first):\n", logDir)
	paths, err := recentFiles(logDir, bugreportDebugLogList)
	if err != nil {
		fmt.Fprintf(&state, "  none (%v)\n", err)
	}
	for _, path := range paths {
		fmt.Fprintf(&state, "  %s\n", filepath.Base(path))
	}

	launchPath := replay.ConfigPathFor(filepath.Join(logDir, "any.log"))
	fmt.Fprintf(&state, "\nlaunch config: %s\n", launchPath)
	// #nosec G304 -- launchPath is derived from the resolved debug log directory.
	if data, err := os.ReadFile(launchPath); err == nil {
		state.Write(bytes.TrimSpace(data))
		state.WriteString("\n")
	} else {
		fmt.Fprintf(&state, "  unavailable (%v)\n", err)
	}
	b.add("replay-state.txt", []byte(state.String()))
}

func (b *bundle) addReadme() {
	var readme strings.Builder
	fmt.Fprintf(&readme, "rdt bug report, %s\nrdt %s, run_id %q, trace_id %q\n\nfiles:\n",
		b.created.Format(time.RFC3339), Version, b.runID, b.traceID)
	for _, file := range b.files {
		fmt.Fprintf(&readme, "  %s\n", file.name)
	}
	if len(b.notes) > 0 {
		readme.WriteString("\nnotes:\n")
		for _, note := range b.notes {
			fmt.Fprintf(&readme, "  %s\n", note)
		}
	}
	b.add("README.txt", []byte(readme.String()))
}

func (b *bundle) writeArchive(path string) (err error) {
	// #nosec G304 -- path is a timestamped name in the working directory.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create archive %s: %w", path, err)
	}
	gz := gzip.NewWriter(file)
	tw := tar.NewWriter(gz)
	defer func() {
		for _, closer := range []io.Closer{tw, gz, file} {
			if closeErr := closer.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close archive %s: %w", path, closeErr)
			}
		}
	}()

	for _, entry := range b.files {
		header := &tar.Header{
			Name:    entry.name,
			Mode:    0o600,
			Size:    int64(len(entry.data)),
			ModTime: b.created,
		}
		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("archive %s: %w", entry.name, err)
		}
		if _, err := tw.Write(entry.data); err != nil {
			return fmt.Errorf("archive %s: %w", entry.name, err)
		}
	}
	return nil
}

// recentFiles lists up to limit regular files in dir, newest first.
func recentFiles(dir string, limit int) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	type dated struct {
		path string
		mod  time.Time
	}
	files := make([]dated, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if info, err := entry.Info(); err == nil {
			files = append(files, dated{path: filepath.Join(dir, entry.Name()), mod: info.ModTime()})
		}
	}
	slices.SortFunc(files, func(a, b dated) int {
		return b.mod.Compare(a.mod)
	})
	paths := make([]string, 0, min(limit, len(files)))
	for _, file := range files[:min(limit, len(files))] {
		paths = append(paths, file.path)
	}
	return paths, nil
}
