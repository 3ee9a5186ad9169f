// Package apexlog downloads the debug log of a test run into the project log directory.
package apexlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/replay-tools/rdt/internal/org"
)

// Outcome is the result of one log acquisition. Succeeded implies LocalPath
// names the location the log was written to.
type Outcome struct {
	LocalPath string
	Succeeded bool
}

// Fetcher downloads one log into outputDir as <outputDir>/<logID>.log.
type Fetcher interface {
	GetLog(ctx context.Context, targetOrg, logID, outputDir string) error
}

// DirResolver supplies the local directory logs are downloaded into.
type DirResolver interface {
	LogDir() (string, error)
}

// Retriever is the log acquisition stage.
type Retriever struct {
	fetcher  Fetcher
	resolver DirResolver
	logger   *log.Logger
}

// NewRetriever builds a log acquisition stage.
func NewRetriever(fetcher Fetcher, resolver DirResolver, logger *log.Logger) (*Retriever, error) {
	if fetcher == nil {
		return nil, errors.New("log fetcher is required")
	}
	if resolver == nil {
		return nil, errors.New("log directory resolver is required")
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Retriever{
		fetcher:  fetcher,
		resolver: resolver,
		logger:   logger,
	}, nil
}

// RetrieveLogFile downloads logID and returns its expected local path. The
// file itself is not inspected; a download error yields a failed outcome.
func (r *Retriever) RetrieveLogFile(ctx context.Context, conn org.Connection, logID string) Outcome {
	if r == nil {
		return Outcome{}
	}
	logID = strings.TrimSpace(logID)
	if logID == "" {
		r.logger.Warn("log id is empty")
		return Outcome{}
	}

	dir, err := r.resolver.LogDir()
	if err != nil {
		r.logger.With("error", err.Error()).Warn("resolve log directory failed")
		return Outcome{}
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		r.logger.With("dir", dir, "error", err.Error()).Warn("create log directory failed")
		return Outcome{}
	}

	if err := r.fetcher.GetLog(ctx, conn.TargetOrg(), logID, dir); err != nil {
		r.logger.With("log_id", logID, "error", err.Error()).Warn("download debug log failed")
		return Outcome{}
	}

	path := LogPath(dir, logID)
	r.logger.With("log_id", logID, "path", path).Info("debug log downloaded")
	return Outcome{LocalPath: path, Succeeded: true}
}

// LogPath is the deterministic location of a downloaded log.
func LogPath(dir, logID string) string {
	return filepath.Join(dir, logID+".log")
}

// ProjectDirResolver resolves the log directory from configuration or the
// enclosing Salesforce DX project.
type ProjectDirResolver struct {
	Configured string
	WorkDir    string
}

// ProjectMarker identifies the root of a Salesforce DX project.
const ProjectMarker = "sfdx-project.json"

// LogDir returns Configured when set, else <project>/.sfdx/tools/debug/logs.
func (p ProjectDirResolver) LogDir() (string, error) {
	if configured := strings.TrimSpace(p.Configured); configured != "" {
		abs, err := filepath.Abs(configured)
		if err != nil {
			return "", fmt.Errorf("resolve log directory %q: %w", configured, err)
		}
		return abs, nil
	}

	root, err := p.projectRoot()
	if err != nil {
		return "", err
	}
	return DebugLogsDir(root), nil
}

// DebugDir is the directory holding replay debugger artifacts for a project.
func DebugDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".sfdx", "tools", "debug")
}

// DebugLogsDir is the default download directory for a project.
func DebugLogsDir(projectRoot string) string {
	return filepath.Join(DebugDir(projectRoot), "logs")
}

func (p ProjectDirResolver) projectRoot() (string, error) {
	start := strings.TrimSpace(p.WorkDir)
	if start == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("resolve working directory: %w", err)
		}
		start = cwd
	}
	start, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("resolve working directory %q: %w", start, err)
	}

	for dir := start; ; {
		if _, err := os.Stat(filepath.Join(dir, ProjectMarker)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start, nil
		}
		dir = parent
	}
}
