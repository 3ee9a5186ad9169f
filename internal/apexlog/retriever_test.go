package apexlog

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/replay-tools/rdt/internal/org"
	"github.com/replay-tools/rdt/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchCall struct {
	targetOrg string
	logID     string
	outputDir string
}

type fakeFetcher struct {
	err   error
	calls []fetchCall
}

func (f *fakeFetcher) GetLog(_ context.Context, targetOrg, logID, outputDir string) error {
	f.calls = append(f.calls, fetchCall{targetOrg: targetOrg, logID: logID, outputDir: outputDir})
	return f.err
}

type staticDir struct {
	dir string
	err error
}

func (s staticDir) LogDir() (string, error) {
	return s.dir, s.err
}

func newTestRetriever(t *testing.T, fetcher Fetcher, resolver DirResolver) (*Retriever, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	retriever, err := NewRetriever(fetcher, resolver, log.NewWithOptions(&buf, log.Options{}))
	require.NoError(t, err)
	return retriever, &buf
}

func TestRetrieveLogFileComputesDeterministicPath(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "logs")
	fetcher := &fakeFetcher{}
	retriever, _ := newTestRetriever(t, fetcher, staticDir{dir: dir})

	got := retriever.RetrieveLogFile(context.Background(), org.Connection{Alias: "dev"}, "07L000000000001")

	assert.Equal(t, Outcome{LocalPath: filepath.Join(dir, "07L000000000001.log"), Succeeded: true}, got)
	require.Len(t, fetcher.calls, 1)
	assert.Equal(t, fetchCall{targetOrg: "dev", logID: "07L000000000001", outputDir: dir}, fetcher.calls[0])
	test.AssertFileExists(t, dir)
	test.AssertFileNotExists(t, got.LocalPath)
}

func TestRetrieveLogFileFailsWhenDownloadFails(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("log not found")}
	retriever, logs := newTestRetriever(t, fetcher, staticDir{dir: t.TempDir()})

	got := retriever.RetrieveLogFile(context.Background(), org.Connection{}, "07L1")
	assert.Equal(t, Outcome{}, got)
	assert.Contains(t, logs.String(), "log not found")
}

func TestRetrieveLogFileFailsWhenDirectoryUnresolved(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	retriever, _ := newTestRetriever(t, fetcher, staticDir{err: errors.New("no project")})

	got := retriever.RetrieveLogFile(context.Background(), org.Connection{}, "07L1")
	assert.False(t, got.Succeeded)
	assert.Empty(t, got.LocalPath)
	assert.Empty(t, fetcher.calls)
}

func TestRetrieveLogFileRejectsBlankLogID(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	retriever, _ := newTestRetriever(t, fetcher, staticDir{dir: t.TempDir()})

	assert.False(t, retriever.RetrieveLogFile(context.Background(), org.Connection{}, "  ").Succeeded)
	assert.Empty(t, fetcher.calls)
}

func TestProjectDirResolverFindsEnclosingProject(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, ProjectMarker), []byte(`{"packageDirectories":[]}`), 0o600))
	nested := filepath.Join(root, "force-app", "main", "default")
	require.NoError(t, os.MkdirAll(nested, 0o750))

	dir, err := ProjectDirResolver{WorkDir: nested}.LogDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ".sfdx", "tools", "debug", "logs"), dir)
}

func TestProjectDirResolverFallsBackToWorkDir(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	dir, err := ProjectDirResolver{WorkDir: work}.LogDir()
	require.NoError(t, err)
	assert.Equal(t, DebugLogsDir(work), dir)
}

func TestProjectDirResolverPrefersConfiguredDir(t *testing.T) {
	t.Parallel()

	configured := filepath.Join(t.TempDir(), "custom")
	dir, err := ProjectDirResolver{Configured: configured, WorkDir: t.TempDir()}.LogDir()
	require.NoError(t, err)
	assert.Equal(t, configured, dir)
}

func TestNewRetrieverValidatesCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewRetriever(nil, staticDir{}, nil)
	assert.EqualError(t, err, "log fetcher is required")

	_, err = NewRetriever(&fakeFetcher{}, nil, nil)
	assert.EqualError(t, err, "log directory resolver is required")
}
