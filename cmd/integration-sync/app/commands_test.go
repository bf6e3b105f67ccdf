package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/integration-sync/internal/config"
	"github.com/stacklok/integration-sync/internal/models"
	"github.com/stacklok/integration-sync/internal/versions"
)

const testConfigYAML = `
sources:
  - name: tenable
    type: simulated
    rateLimit:
      requestsPerSecond: 1000
      burst: 100
    simulated:
      flavor: tenable
      assets: 4
      seed: 11
jobs:
  - id: tenable-nightly
    source: tenable
    schedule: "0 2 * * *"
    enabled: true
`

func writeTestConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0600))
	return path
}

func TestWriteVersion(t *testing.T) {
	t.Parallel()

	t.Run("text", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		require.NoError(t, writeVersion(&out, ""))
		assert.Equal(t, versions.GetVersionInfo().String()+"\n", out.String())
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		var out bytes.Buffer
		require.NoError(t, writeVersion(&out, "json"))

		var info versions.VersionInfo
		require.NoError(t, json.Unmarshal(out.Bytes(), &info))
		assert.Equal(t, versions.GetVersionInfo(), info)
	})

	t.Run("unsupported format", func(t *testing.T) {
		t.Parallel()

		err := writeVersion(&bytes.Buffer{}, "xml")
		require.Error(t, err)
	})
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	_, err := loadConfig("")
	require.ErrorContains(t, err, "--config is required")

	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	cfg, err := loadConfig(writeTestConfig(t))
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 1)
}

func TestConfirm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  bool
	}{
		{input: "yes\n", want: true},
		{input: "Y\n", want: true},
		{input: "  yes  \n", want: true},
		{input: "yes", want: true},
		{input: "no\n", want: false},
		{input: "\n", want: false},
		{input: "", want: false},
		{input: "sure\n", want: false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			got := confirm(strings.NewReader(tt.input), &out, "Proceed?")
			assert.Equal(t, tt.want, got)
			assert.Equal(t, "Proceed? (yes/no): ", out.String())
		})
	}
}

func TestDownPrompt(t *testing.T) {
	t.Parallel()

	assert.Contains(t, downPrompt(0), "ALL steps")
	assert.Contains(t, downPrompt(3), "3 step(s)")
}

func TestRunSyncOnce(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(config.WithConfigPath(writeTestConfig(t)))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runSyncOnce(context.Background(), cfg, "tenable", "", &out))

	var exec models.SyncExecution
	require.NoError(t, json.Unmarshal(out.Bytes(), &exec))
	assert.Equal(t, "tenable", exec.Source)
	assert.Equal(t, models.ExecutionCompleted, exec.Status)
	assert.Equal(t, models.TriggerManual, exec.Trigger)
	assert.Positive(t, exec.RecordsProcessed)
}

func TestRunSyncOnceWithJob(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(config.WithConfigPath(writeTestConfig(t)))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runSyncOnce(context.Background(), cfg, "tenable", "tenable-nightly", &out))

	var exec models.SyncExecution
	require.NoError(t, json.Unmarshal(out.Bytes(), &exec))
	assert.Equal(t, "tenable-nightly", exec.JobID)
}

func TestRunSyncOnceErrors(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadConfig(config.WithConfigPath(writeTestConfig(t)))
	require.NoError(t, err)

	var out bytes.Buffer
	err = runSyncOnce(context.Background(), cfg, "qualys", "", &out)
	require.Error(t, err)
	assert.Empty(t, out.String())
}

func TestRootCommandTree(t *testing.T) {
	t.Parallel()

	root := NewRootCmd()
	for _, path := range [][]string{
		{"serve"},
		{"version"},
		{"sync"},
		{"migrate", "up"},
		{"migrate", "down"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
