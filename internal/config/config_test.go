package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func leaf(name string) AgentSpec {
	return AgentSpec{Name: name, Kind: KindLlm, Model: "scripted"}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, BackendMemory, cfg.Session.Backend)
	assert.Equal(t, BackendMemory, cfg.Artifact.Backend)
	assert.Equal(t, 10, cfg.Run.MaxRoundTrips)
	assert.Equal(t, 500*time.Millisecond, cfg.Run.RetryBaseDelay)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_TOML(t *testing.T) {
	path := writeFile(t, "agenttree.toml", `
[run]
timeout = "30s"
streaming = true

[session]
backend = "sqlite"
path = "/tmp/sessions.db"

[agent]
name = "pipeline"
kind = "sequential"

[[agent.children]]
name = "greeter"
kind = "llm"
model = "scripted"
script = ["Hello!"]
output_key = "greeting"

[[agent.children]]
name = "task_executor"
kind = "llm"
model = "claude-sonnet-4-5"
tools = ["echo"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Run.Timeout)
	assert.True(t, cfg.Run.Streaming)
	assert.Equal(t, 10, cfg.Run.MaxRoundTrips, "defaults are preserved")
	assert.Equal(t, BackendSQLite, cfg.Session.Backend)

	require.Len(t, cfg.Agent.Children, 2)
	assert.Equal(t, []string{"Hello!"}, cfg.Agent.Children[0].Script)
	assert.Equal(t, "greeting", cfg.Agent.Children[0].OutputKey)
	assert.Equal(t, []string{"echo"}, cfg.Agent.Children[1].Tools)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "agenttree.yaml", `
run:
  timeout: 2m
  max_round_trips: 4
agent:
  name: refine
  kind: loop
  max_iters: 3
  interval: 10ms
  children:
    - name: critic
      kind: llm
      model: gpt-4o
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Run.Timeout)
	assert.Equal(t, 4, cfg.Run.MaxRoundTrips)
	assert.Equal(t, KindLoop, cfg.Agent.Kind)
	assert.Equal(t, 3, cfg.Agent.MaxIters)
	assert.Equal(t, 10*time.Millisecond, cfg.Agent.Interval)
	require.Len(t, cfg.Agent.Children, 1)
	assert.Equal(t, "gpt-4o", cfg.Agent.Children[0].Model)
}

func TestLoad_UnknownKeys(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{name: "toml", file: "c.toml", content: "[run]\nmax_roundtrips = 3\n"},
		{name: "yaml", file: "c.yml", content: "run:\n  max_roundtrips: 3\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "agenttree.json", "{}"))
	assert.ErrorContains(t, err, "unsupported config format")
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AGENTTREE_ANTHROPIC_API_KEY", "env-anthropic")
	t.Setenv("AGENTTREE_GEMINI_API_KEY", "env-gemini")
	t.Setenv("AGENTTREE_LOG_LEVEL", "debug")

	path := writeFile(t, "agenttree.toml", `
[model]
anthropic_api_key = "file-key"
openai_api_key = "file-openai"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-anthropic", cfg.Model.AnthropicAPIKey)
	assert.Equal(t, "file-openai", cfg.Model.OpenAIAPIKey)
	assert.Equal(t, "env-gemini", cfg.Model.GeminiAPIKey)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestConfig_RunConfig(t *testing.T) {
	cfg := Default()
	cfg.Run.MaxRoundTrips = 0
	cfg.Run.Timeout = time.Minute

	rc := cfg.RunConfig()
	assert.Equal(t, 10, rc.MaxRoundTrips)
	assert.Equal(t, time.Minute, rc.Timeout)
	assert.Equal(t, 64, rc.EventBuffer)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing name",
			mutate:  func(c *Config) { c.Agent.Name = "" },
			wantErr: "name is required",
		},
		{
			name:    "unknown kind",
			mutate:  func(c *Config) { c.Agent.Kind = "router" },
			wantErr: `unknown kind "router"`,
		},
		{
			name:    "llm without model",
			mutate:  func(c *Config) { c.Agent.Model = "" },
			wantErr: "model is required",
		},
		{
			name: "composite without children",
			mutate: func(c *Config) {
				c.Agent = AgentSpec{Name: "root", Kind: KindParallel}
			},
			wantErr: "parallel agents need children",
		},
		{
			name: "duplicate siblings",
			mutate: func(c *Config) {
				c.Agent = AgentSpec{Name: "root", Kind: KindSequential, Children: []AgentSpec{leaf("a"), leaf("a")}}
			},
			wantErr: `duplicate child name "a"`,
		},
		{
			name: "nested error carries path",
			mutate: func(c *Config) {
				bad := leaf("inner")
				bad.Model = ""
				c.Agent = AgentSpec{Name: "root", Kind: KindSequential, Children: []AgentSpec{bad}}
			},
			wantErr: "agent.root.inner: model is required",
		},
		{
			name:    "postgres without dsn",
			mutate:  func(c *Config) { c.Session.Backend = BackendPostgres },
			wantErr: "session.dsn is required",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Artifact.Backend = BackendS3 },
			wantErr: "artifact.bucket is required",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Log.Level = "loud" },
			wantErr: "log.level",
		},
		{
			name:    "sample ratio",
			mutate:  func(c *Config) { c.Observer.SampleRatio = 2 },
			wantErr: "sample_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Agent = leaf("assistant")
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
