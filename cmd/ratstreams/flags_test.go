package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags_Layers(t *testing.T) {
	cfg, err := parseFlags([]string{"-c", "a.yaml,b.json", "--config", "c.yaml", "-debug"}, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.yaml", "b.json", "c.yaml"}, cfg.ConfigPaths)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestParseFlags_EnvFallback(t *testing.T) {
	t.Setenv("RATSTREAMS_CONFIG", "env.yaml")
	t.Setenv("RATSTREAMS_LOG_FORMAT", "text")
	t.Setenv("RATSTREAMS_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := parseFlags(nil, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, []string{"env.yaml"}, cfg.ConfigPaths)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestValidateFlags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratstreams.yaml")
	require.NoError(t, os.WriteFile(path, []byte("group: test\n"), 0o600))

	tests := []struct {
		name    string
		cfg     CLIConfig
		wantErr bool
	}{
		{"valid", CLIConfig{ConfigPaths: []string{path}, LogLevel: "info", LogFormat: "json"}, false},
		{"missing file", CLIConfig{ConfigPaths: []string{path + ".nope"}, LogLevel: "info", LogFormat: "json"}, true},
		{"bad level", CLIConfig{ConfigPaths: []string{path}, LogLevel: "loud", LogFormat: "json"}, true},
		{"bad format", CLIConfig{ConfigPaths: []string{path}, LogLevel: "info", LogFormat: "xml"}, true},
		{"version skips checks", CLIConfig{ShowVersion: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateFlags(&tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRun_ValidateOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratstreams.json")
	data := `{
  "group": "validate",
  "queues": [{"name": "in"}, {"name": "out"}],
  "rats": [{"name": "copy", "input": {"type": "queue", "config": {"queue": "in"}},
            "output": {"type": "queue", "config": {"queue": "out"}}}]
}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	var out bytes.Buffer
	err := run([]string{"-config", path, "-validate", "-log-level", "error"}, &out)
	require.NoError(t, err)
}

func TestRun_ListComponents(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-list"}, &out))

	assert.Contains(t, out.String(), "inputs:")
	assert.Contains(t, out.String(), "throttle")
	assert.Contains(t, out.String(), "sinks:")
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"-version"}, &out))
	assert.Contains(t, out.String(), Version)
}
