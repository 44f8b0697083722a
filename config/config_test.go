package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ratstreams/component"
	"github.com/c360/ratstreams/errors"
	"github.com/c360/ratstreams/pkg/buffer"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *Config {
	cfg := Defaults()
	cfg.Rats = []RatConfig{{
		Name:   "copy",
		Input:  component.Spec{Type: "queue"},
		Output: component.Spec{Type: "queue"},
	}}
	return cfg
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "group.json", `{
		"group": "ingest",
		"stop_timeout": "3s",
		"nats": {"urls": ["nats://localhost:4222"], "reconnect_wait": "5s"},
		"queues": [{"name": "in", "capacity": 10, "overflow": "drop_oldest"}],
		"log_sink": {"type": "queue", "config": {"queue": "logs"}},
		"rats": [{
			"name": "copy",
			"input": {"type": "queue", "config": {"queue": "in"}},
			"steps": [{"type": "upper"}],
			"output": {"type": "queue", "config": {"queue": "out"}},
			"mode": "manual",
			"show_in_control": true
		}]
	}`)

	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "ingest", cfg.Group)
	assert.Equal(t, 3*time.Second, cfg.StopTimeout)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, -1, cfg.NATS.MaxReconnects)
	assert.True(t, cfg.NATS.Enabled())
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)

	require.Len(t, cfg.Queues, 1)
	policy, err := cfg.Queues[0].Policy()
	require.NoError(t, err)
	assert.Equal(t, buffer.DropOldest, policy)

	require.NotNil(t, cfg.LogSink)
	assert.Equal(t, "queue", cfg.LogSink.Type)
	assert.JSONEq(t, `{"queue":"logs"}`, string(cfg.LogSink.Config))

	require.Len(t, cfg.Rats, 1)
	r := cfg.Rats[0]
	assert.Equal(t, "copy", r.Name)
	assert.JSONEq(t, `{"queue":"in"}`, string(r.Input.Config))
	assert.Equal(t, "upper", r.Steps[0].Type)
	assert.Equal(t, "manual", r.Mode)
	assert.True(t, r.ShowInControl)
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "group.yaml", `
group: fanout
stop_timeout: 1s
metrics:
  enabled: true
  port: 9191
templates:
  - name: tpl
    inputs: [a, b, c]
    output: out
    poll_interval: 50ms
    steps:
      - type: regex-filter
        config:
          pattern: "^x"
`)

	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "fanout", cfg.Group)
	assert.Equal(t, time.Second, cfg.StopTimeout)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.False(t, cfg.NATS.Enabled())

	require.Len(t, cfg.Templates, 1)
	tpl := cfg.Templates[0]
	assert.Equal(t, []string{"a", "b", "c"}, tpl.Inputs)
	assert.Equal(t, "50ms", tpl.PollInterval)
	assert.JSONEq(t, `{"pattern":"^x"}`, string(tpl.Steps[0].Config))
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.json", `{
		"group": "base",
		"metrics": {"enabled": true, "port": 9000},
		"rats": [{"name": "a", "input": {"type": "dummy"}, "output": {"type": "dummy"}}]
	}`)
	override := writeFile(t, "override.yml", `
metrics:
  port: 9100
rats:
  - name: b
    input: {type: dummy}
    output: {type: dummy}
`)

	loader := NewLoader()
	loader.AddLayer(base)
	loader.AddLayer(override)
	cfg, err := loader.Load()
	require.NoError(t, err)

	assert.Equal(t, "base", cfg.Group)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9100, cfg.Metrics.Port)
	require.Len(t, cfg.Rats, 1)
	assert.Equal(t, "b", cfg.Rats[0].Name)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("RATSTREAMS_GROUP", "from-env")
	t.Setenv("RATSTREAMS_NATS_URLS", "nats://a:4222,nats://b:4222")
	t.Setenv("RATSTREAMS_NATS_TOKEN", "secret")
	t.Setenv("RATSTREAMS_METRICS_PORT", "9300")

	path := writeFile(t, "group.json", `{"group": "file", "rats": [{"name": "a", "input": {"type": "dummy"}, "output": {"type": "dummy"}}]}`)
	loader := NewLoader()
	loader.EnableValidation(true)
	cfg, err := loader.LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Group)
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "secret", cfg.NATS.Token)
	assert.Equal(t, 9300, cfg.Metrics.Port)
	assert.True(t, cfg.Metrics.Enabled)

	assert.NotContains(t, cfg.String(), "secret")
	assert.Equal(t, "secret", cfg.NATS.Token)

	t.Setenv("RATSTREAMS_METRICS_PORT", "many")
	_, err = loader.LoadFile(path)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"bad extension", "group.toml", `group = "x"`},
		{"malformed JSON", "group.json", `{"group": `},
		{"malformed YAML", "group.yaml", "group: [x"},
		{"bad duration", "group.json", `{"stop_timeout": "soon"}`},
		{"too deep", "group.json", strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, tt.content)
			_, err := NewLoader().LoadFile(path)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}

	_, err := NewLoader().LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	_, err = NewLoader().LoadFile("../outside.json")
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad group", func(c *Config) { c.Group = "a b" }},
		{"negative stop timeout", func(c *Config) { c.StopTimeout = -time.Second }},
		{"metrics port", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Port = 0 }},
		{"metrics path", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Path = "metrics" }},
		{"nats scheme", func(c *Config) { c.NATS.URLs = []string{"http://localhost"} }},
		{"duplicate queue", func(c *Config) { c.Queues = []QueueConfig{{Name: "q"}, {Name: "q"}} }},
		{"negative capacity", func(c *Config) { c.Queues = []QueueConfig{{Name: "q", Capacity: -1}} }},
		{"overflow", func(c *Config) { c.Queues = []QueueConfig{{Name: "q", Overflow: "spill"}} }},
		{"sink type", func(c *Config) { c.LogSink = &component.Spec{} }},
		{"rat name", func(c *Config) { c.Rats[0].Name = "" }},
		{"rat input", func(c *Config) { c.Rats[0].Input.Type = "" }},
		{"rat output", func(c *Config) { c.Rats[0].Output.Type = "" }},
		{"rat step", func(c *Config) { c.Rats[0].Steps = []component.Spec{{}} }},
		{"rat mode", func(c *Config) { c.Rats[0].Mode = "sometimes" }},
		{"rat state", func(c *Config) { c.Rats[0].InitialState = "sleeping" }},
		{"rat interval", func(c *Config) { c.Rats[0].WaitInterval = "-1s" }},
		{"duplicate rat", func(c *Config) { c.Rats = append(c.Rats, c.Rats[0]) }},
		{"template inputs", func(c *Config) { c.Templates = []TemplateConfig{{Name: "t", Output: "o"}} }},
		{"template output", func(c *Config) { c.Templates = []TemplateConfig{{Name: "t", Inputs: []string{"a"}}} }},
		{"template interval", func(c *Config) {
			c.Templates = []TemplateConfig{{Name: "t", Inputs: []string{"a"}, Output: "o", PollInterval: "often"}}
		}},
		{"nothing to run", func(c *Config) { c.Rats = nil }},
	}

	require.NoError(t, validConfig().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestValidateEnvVar(t *testing.T) {
	assert.NoError(t, validateEnvVar("K", ""))
	assert.NoError(t, validateEnvVar("K", "value"))
	assert.Error(t, validateEnvVar("K", "a\x00b"))
	assert.Error(t, validateEnvVar("K", strings.Repeat("x", maxEnvVarLen+1)))
}
