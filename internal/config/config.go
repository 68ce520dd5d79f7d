// Package config loads agenttree configuration files.
//
// Values are resolved in three layers: Default, then the file (TOML or YAML,
// chosen by extension), then environment variables. Environment wins.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"

	"github.com/hupe1980/agenttree/core"
	"github.com/hupe1980/agenttree/logging"
)

// Agent kinds accepted in AgentSpec.Kind.
const (
	KindLlm        = "llm"
	KindSequential = "sequential"
	KindParallel   = "parallel"
	KindLoop       = "loop"
)

// Session backends accepted in SessionConfig.Backend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendBadger   = "badger"
	BackendS3       = "s3"
)

type Config struct {
	Run      RunConfig      `toml:"run" yaml:"run"`
	Log      LogConfig      `toml:"log" yaml:"log"`
	Session  SessionConfig  `toml:"session" yaml:"session"`
	Artifact ArtifactConfig `toml:"artifact" yaml:"artifact"`
	Model    ModelConfig    `toml:"model" yaml:"model"`
	Observer ObserverConfig `toml:"observer" yaml:"observer"`
	Agent    AgentSpec      `toml:"agent" yaml:"agent"`
}

type RunConfig struct {
	AppName                  string        `toml:"app_name" yaml:"app_name"`
	UserID                   string        `toml:"user_id" yaml:"user_id"`
	MaxRoundTrips            int           `toml:"max_round_trips" yaml:"max_round_trips"`
	Timeout                  time.Duration `toml:"timeout" yaml:"timeout"`
	Streaming                bool          `toml:"streaming" yaml:"streaming"`
	MaxLoopIterations        int           `toml:"max_loop_iterations" yaml:"max_loop_iterations"`
	MaxModelRetries          int           `toml:"max_model_retries" yaml:"max_model_retries"`
	RetryBaseDelay           time.Duration `toml:"retry_base_delay" yaml:"retry_base_delay"`
	RetryMaxDelay            time.Duration `toml:"retry_max_delay" yaml:"retry_max_delay"`
	MaxToolConcurrency       int           `toml:"max_tool_concurrency" yaml:"max_tool_concurrency"`
	MaxConcurrentInvocations int           `toml:"max_concurrent_invocations" yaml:"max_concurrent_invocations"`
	FailOnPersistError       bool          `toml:"fail_on_persist_error" yaml:"fail_on_persist_error"`
}

type LogConfig struct {
	Level     string `toml:"level" yaml:"level"`
	Format    string `toml:"format" yaml:"format"`
	AddSource bool   `toml:"add_source" yaml:"add_source"`
}

type SessionConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
	// Path is the SQLite database file.
	Path string `toml:"path" yaml:"path"`
	// DSN is the Postgres connection string.
	DSN         string `toml:"dsn" yaml:"dsn"`
	TablePrefix string `toml:"table_prefix" yaml:"table_prefix"`
	// Dir is the Badger data directory.
	Dir string `toml:"dir" yaml:"dir"`
}

type ArtifactConfig struct {
	Backend string `toml:"backend" yaml:"backend"`
	Bucket  string `toml:"bucket" yaml:"bucket"`
	Prefix  string `toml:"prefix" yaml:"prefix"`
	Region  string `toml:"region" yaml:"region"`
	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint string `toml:"endpoint" yaml:"endpoint"`
}

type ModelConfig struct {
	AnthropicAPIKey string `toml:"anthropic_api_key" yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `toml:"openai_api_key" yaml:"openai_api_key"`
	OpenAIBaseURL   string `toml:"openai_base_url" yaml:"openai_base_url"`
	GeminiAPIKey    string `toml:"gemini_api_key" yaml:"gemini_api_key"`
	// RateLimit caps requests per second per model. Zero disables limiting.
	RateLimit float64 `toml:"rate_limit" yaml:"rate_limit"`
	Burst     int     `toml:"burst" yaml:"burst"`
}

type ObserverConfig struct {
	// Endpoint is the OTLP/HTTP collector. Tracing is off when empty.
	Endpoint    string  `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool    `toml:"insecure" yaml:"insecure"`
	ServiceName string  `toml:"service_name" yaml:"service_name"`
	SampleRatio float64 `toml:"sample_ratio" yaml:"sample_ratio"`
	// MetricsAddr serves Prometheus metrics when set, e.g. ":9090".
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
}

// AgentSpec describes one node of the agent tree.
type AgentSpec struct {
	Name        string `toml:"name" yaml:"name"`
	Kind        string `toml:"kind" yaml:"kind"`
	Description string `toml:"description" yaml:"description"`

	// Leaf settings.
	Model              string        `toml:"model" yaml:"model"`
	Instruction        string        `toml:"instruction" yaml:"instruction"`
	Tools              []string      `toml:"tools" yaml:"tools"`
	OutputKey          string        `toml:"output_key" yaml:"output_key"`
	ToolTimeout        time.Duration `toml:"tool_timeout" yaml:"tool_timeout"`
	MaxHistoryMessages int           `toml:"max_history_messages" yaml:"max_history_messages"`
	// Script lists canned replies for the "scripted" model.
	Script []string `toml:"script" yaml:"script"`

	// Loop settings.
	MaxIters int           `toml:"max_iters" yaml:"max_iters"`
	Interval time.Duration `toml:"interval" yaml:"interval"`

	Children []AgentSpec `toml:"children" yaml:"children"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	d := core.DefaultRunConfig()
	return Config{
		Run: RunConfig{
			AppName:            "agenttree",
			UserID:             "local",
			MaxRoundTrips:      d.MaxRoundTrips,
			MaxLoopIterations:  d.MaxLoopIterations,
			MaxModelRetries:    d.MaxModelRetries,
			RetryBaseDelay:     d.RetryBaseDelay,
			RetryMaxDelay:      d.RetryMaxDelay,
			MaxToolConcurrency: d.MaxToolConcurrency,
		},
		Log:      LogConfig{Level: "info", Format: "text"},
		Session:  SessionConfig{Backend: BackendMemory, Path: "agenttree.db", TablePrefix: "agenttree_"},
		Artifact: ArtifactConfig{Backend: BackendMemory},
		Model:    ModelConfig{Burst: 1},
		Observer: ObserverConfig{ServiceName: "agenttree", SampleRatio: 1},
	}
}

// Load reads config: defaults -> file -> env vars (env wins). An empty path
// skips the file layer. A missing or malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(path, data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys %v", undecoded)
		}
		return nil
	case ".yaml", ".yml":
		return yaml.UnmarshalWithOptions(data, cfg, yaml.DisallowUnknownField())
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTTREE_ANTHROPIC_API_KEY"); v != "" {
		cfg.Model.AnthropicAPIKey = v
	}
	if v := os.Getenv("AGENTTREE_OPENAI_API_KEY"); v != "" {
		cfg.Model.OpenAIAPIKey = v
	}
	if v := os.Getenv("AGENTTREE_GEMINI_API_KEY"); v != "" {
		cfg.Model.GeminiAPIKey = v
	}
	if v := os.Getenv("AGENTTREE_SESSION_DSN"); v != "" {
		cfg.Session.DSN = v
	}
	if v := os.Getenv("AGENTTREE_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("AGENTTREE_OTLP_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
	}
}

// RunConfig converts the run section to a core.RunConfig.
func (c Config) RunConfig() core.RunConfig {
	return core.RunConfig{
		MaxRoundTrips:      c.Run.MaxRoundTrips,
		Timeout:            c.Run.Timeout,
		Streaming:          c.Run.Streaming,
		MaxLoopIterations:  c.Run.MaxLoopIterations,
		MaxModelRetries:    c.Run.MaxModelRetries,
		RetryBaseDelay:     c.Run.RetryBaseDelay,
		RetryMaxDelay:      c.Run.RetryMaxDelay,
		MaxToolConcurrency: c.Run.MaxToolConcurrency,
	}.WithDefaults()
}

// Validate reports every problem found in the config.
func (c Config) Validate() error {
	var errs []error

	switch c.Session.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Session.Path == "" {
			errs = append(errs, errors.New("session.path is required for sqlite"))
		}
	case BackendPostgres:
		if c.Session.DSN == "" {
			errs = append(errs, errors.New("session.dsn is required for postgres"))
		}
	case BackendBadger:
		if c.Session.Dir == "" {
			errs = append(errs, errors.New("session.dir is required for badger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown session.backend %q", c.Session.Backend))
	}

	switch c.Artifact.Backend {
	case BackendMemory:
	case BackendS3:
		if c.Artifact.Bucket == "" {
			errs = append(errs, errors.New("artifact.bucket is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown artifact.backend %q", c.Artifact.Backend))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}
	if c.Model.RateLimit < 0 {
		errs = append(errs, errors.New("model.rate_limit must not be negative"))
	}
	if c.Observer.SampleRatio < 0 || c.Observer.SampleRatio > 1 {
		errs = append(errs, errors.New("observer.sample_ratio must be within [0, 1]"))
	}

	errs = append(errs, c.Agent.validate("agent")...)

	return errors.Join(errs...)
}

func (s AgentSpec) validate(path string) []error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, fmt.Errorf("%s: name is required", path))
	} else {
		path = path + "." + s.Name
	}

	switch s.Kind {
	case KindLlm:
		if s.Model == "" {
			errs = append(errs, fmt.Errorf("%s: model is required for llm agents", path))
		}
		if len(s.Children) > 0 {
			errs = append(errs, fmt.Errorf("%s: llm agents have no children", path))
		}
	case KindSequential, KindParallel, KindLoop:
		if len(s.Children) == 0 {
			errs = append(errs, fmt.Errorf("%s: %s agents need children", path, s.Kind))
		}
		if s.MaxIters < 0 {
			errs = append(errs, fmt.Errorf("%s: max_iters must not be negative", path))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: unknown kind %q", path, s.Kind))
	}

	seen := make(map[string]struct{}, len(s.Children))
	for _, child := range s.Children {
		if _, dup := seen[child.Name]; dup && child.Name != "" {
			errs = append(errs, fmt.Errorf("%s: duplicate child name %q", path, child.Name))
		}
		seen[child.Name] = struct{}{}
		errs = append(errs, child.validate(path)...)
	}
	return errs
}
