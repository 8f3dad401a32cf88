package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-dazzeo/realm/internal/config"
	"github.com/p-dazzeo/realm/internal/domain"
)

func TestRenderSessions(t *testing.T) {
	out := renderSessions([]domain.UploadSession{{
		SessionID:      "abc-123",
		Status:         domain.StatusProcessing,
		UploadMethod:   domain.MethodDirect,
		TotalFiles:     4,
		ProcessedFiles: 1,
		FailedFiles:    1,
		ExpiresAt:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}})
	assert.Contains(t, out, "abc-123")
	assert.Contains(t, out, "processing")
	assert.Contains(t, out, "2/4")
	assert.Contains(t, out, "2026-01-02 03:04:05")
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, nil)
	assert.Contains(t, out, "only")
	assert.Empty(t, renderTable(nil, nil, nil))
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REALM_CONFIG", "")
	t.Setenv("REALM_SQLITE_PATH", filepath.Join(t.TempDir(), "realm.db"))
	t.Setenv("UPLOAD_ADDITIONAL_FILES_DIR", filepath.Join(t.TempDir(), "artifacts"))
	t.Setenv("UPLOAD_PARSER_ENABLED", "false")

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMigrateCommand(t *testing.T) {
	out, err := runCLI(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema is up to date")
}

func TestSessionsStaleEmpty(t *testing.T) {
	out, err := runCLI(t, "sessions", "stale")
	require.NoError(t, err)
	assert.Contains(t, out, "No stale sessions")

	out, err = runCLI(t, "sessions", "stale", "--reap")
	require.NoError(t, err)
	assert.Contains(t, out, "Marked 0 session(s) as failed")
}

func TestParserCheckDisabled(t *testing.T) {
	out, err := runCLI(t, "parser-check")
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "disabled"), out)
}

func TestServerTimeoutsCoverUploadAndParser(t *testing.T) {
	cfg := config.Default()
	cfg.MaxProjectSize = 500 << 20
	cfg.ParserEnabled = true
	cfg.ParserTimeout = 30 * time.Second

	read, write := serverTimeouts(cfg)
	assert.Equal(t, 30*time.Second+500*time.Second, read)
	assert.Greater(t, write, read+cfg.ParserTimeout)

	cfg.ParserEnabled = false
	_, direct := serverTimeouts(cfg)
	assert.Less(t, direct, write)
	assert.Greater(t, direct, read)
}
