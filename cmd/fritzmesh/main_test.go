package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rcourtman/fritzmesh/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	opts = config.Options{}
	t.Cleanup(func() { opts = config.Options{} })

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(normalizeArgs(args))
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fritzmesh")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestVersionCmd(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := Version, BuildTime, GitCommit
	defer func() {
		Version, BuildTime, GitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	Version = "1.2.3"
	BuildTime = "2026-01-01"
	GitCommit = "abcdef"

	output, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, output, "fritzmesh 1.2.3")
	assert.Contains(t, output, "Built: 2026-01-01")
	assert.Contains(t, output, "Commit: abcdef")

	BuildTime, GitCommit = "unknown", "unknown"
	output, err = execute(t, "version")
	require.NoError(t, err)
	assert.NotContains(t, output, "Built:")
	assert.NotContains(t, output, "Commit:")
}

func TestNormalizeArgs(t *testing.T) {
	assert.Equal(t,
		[]string{"--hassio", "--nocache", "--config", "/x", "-v"},
		normalizeArgs([]string{"-hassio", "-nocache", "--config", "/x", "-v"}),
	)
}

func TestConfigShowRedactsPassword(t *testing.T) {
	path := writeConfig(t, "fritzboxUsername=admin\nfritzboxPassword=topsecret\nfritzboxHost=fritz.box\n")
	envFile := filepath.Join(t.TempDir(), "none.env")

	output, err := execute(t, "config", "show", "--config", path, "--env-file", envFile, "-nocache")
	require.NoError(t, err)
	assert.Contains(t, output, "username: admin")
	assert.Contains(t, output, "host: fritz.box")
	assert.Contains(t, output, "nocache: true")
	assert.Contains(t, output, "poll_interval: 5s")
	assert.NotContains(t, output, "topsecret")
}

func TestConfigCheck(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "none.env")

	good := writeConfig(t, "fritzboxUsername=admin\nfritzboxPassword=pw\nfritzboxHost=fritz.box\nfritzMeshPort=9100\n")
	output, err := execute(t, "config", "check", "--config", good, "--env-file", envFile)
	require.NoError(t, err)
	assert.Contains(t, output, "Configuration OK")
	assert.Contains(t, output, ":9100")

	bad := writeConfig(t, "fritzboxUsername=admin\n")
	_, err = execute(t, "config", "check", "--config", bad, "--env-file", envFile)
	require.Error(t, err)
}
