// ABOUTME: Tests for the CLI command tree against a temporary config and SQLite store
// ABOUTME: Exercises sign, init, provision, settings and the color log handler

package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := `
site:
  name: "Example"
  base_url: "https://example.com"
database:
  path: "` + filepath.Join(dir, "agent.db") + `"
auth:
  admin_jwt_secret: "` + strings.Repeat("x", 32) + `"
logging:
  level: "error"
debug:
  log_path: "` + filepath.Join(dir, "debug.log") + `"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestSign_GoldenVector(t *testing.T) {
	out, err := run(t, "sign", "--secret", "s3cr3t", "--timestamp", "1700000000", "--body", `{"action":"toggle_maintenance"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "x-mrwp-timestamp: 1700000000")
	assert.Contains(t, out, "x-mrwp-signature: 2bd9420bdf3d73c99d7d48d8f0e62ba0af836728503edeafcaa817426e676870")
}

func TestInit_WritesSampleOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "agent.yaml")

	_, err := run(t, "--config", path, "init")
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "base_url")

	_, err = run(t, "--config", path, "init")
	assert.Error(t, err)

	_, err = run(t, "--config", path, "init", "--force")
	assert.NoError(t, err)
}

func TestProvisionSecretAndSettings(t *testing.T) {
	path := writeTestConfig(t)

	out, err := run(t, "--config", path, "provision")
	require.NoError(t, err)
	assert.Contains(t, out, "Bypass link: https://example.com/?bypass_code=")

	full, err := run(t, "--config", path, "secret", "--full")
	require.NoError(t, err)
	assert.Len(t, strings.TrimSpace(full), 64)

	preview, err := run(t, "--config", path, "secret")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimSpace(full)[:8]+"...", strings.TrimSpace(preview))

	out, err = run(t, "--config", path, "settings", "--hub-url", "https://hub.example.com", "--client-email", "owner@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, `"hub_url": "https://hub.example.com"`)
	assert.Contains(t, out, `"client_email": "owner@example.com"`)

	_, err = run(t, "--config", path, "settings", "--client-email", "not-an-email")
	assert.Error(t, err)

	out, err = run(t, "--config", path, "settings")
	require.NoError(t, err)
	assert.Contains(t, out, `"client_email": "owner@example.com"`)
}

func TestAdminToken(t *testing.T) {
	path := writeTestConfig(t)
	out, err := run(t, "--config", path, "admin-token", "--subject", "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(strings.TrimSpace(out), "."))

	_, err = run(t, "--config", path, "admin-token")
	assert.Error(t, err)
}

func TestAPILog_Empty(t *testing.T) {
	path := writeTestConfig(t)
	out, err := run(t, "--config", path, "api-log")
	require.NoError(t, err)
	assert.Contains(t, out, "ROUTE")
}

func TestColorHandler(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)
	logger := slog.New(newColorHandler(&buf, level)).With("component", "test")

	logger.Debug("hidden")
	logger.Info("shown", "n", 1)
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "component=")
	assert.Contains(t, out, "n=")

	level.Set(slog.LevelDebug)
	logger.Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestRootCommand_ListsSubcommands(t *testing.T) {
	root := newRootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "init", "provision", "secret", "rotate-secret", "sign", "call", "settings", "admin-token", "deactivate", "test-email", "debug-log", "notices", "api-log"} {
		assert.True(t, names[want], "missing %s", want)
	}
}
