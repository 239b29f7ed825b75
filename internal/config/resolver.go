// Package config resolves senseline configuration from (in rising
// priority) the YAML config file, SENSELINE_* environment variables, and
// CLI flags, tracking where each value came from so `senseline config`
// can explain itself.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hurttlocker/senseline/internal/pipeline"
)

// ValueSource identifies where a resolved value came from.
type ValueSource string

const (
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

// ResolvedValue is a string setting plus its provenance.
type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// ResolveOptions carries the CLI-flag overrides into resolution.
type ResolveOptions struct {
	ConfigPath string
	CLILLM     string
	CLIEmbed   string
	CLIDBPath  string
}

// Resolved is the full resolved configuration.
type Resolved struct {
	ConfigPath string `json:"config_path"`

	DBPath        ResolvedValue `json:"db_path"`
	LLMProvider   ResolvedValue `json:"llm_provider"`
	EmbedProvider ResolvedValue `json:"embed_provider"`
	EmbedModel    ResolvedValue `json:"embed_model"`
	EmbedEndpoint ResolvedValue `json:"embed_endpoint"`
	EmbedAPIKey   ResolvedValue `json:"embed_api_key"`
	ONNXModel     ResolvedValue `json:"onnx_model"`
	TokenizerPath ResolvedValue `json:"tokenizer_path"`

	// Engine holds the pipeline parameters; file values overlay the
	// built-in defaults and are validated before use.
	Engine pipeline.Config `json:"engine"`
}

// fileConfig mirrors ~/.senseline/config.yaml.
type fileConfig struct {
	DBPath string `yaml:"db_path"`

	LLM struct {
		Provider string `yaml:"provider"`
		APIKey   string `yaml:"api_key"`
	} `yaml:"llm"`

	Embed struct {
		Provider  string `yaml:"provider"`
		Model     string `yaml:"model"`
		Endpoint  string `yaml:"endpoint"`
		APIKey    string `yaml:"api_key"`
		ONNXModel string `yaml:"onnx_model"`
	} `yaml:"embed"`

	TokenizerPath string `yaml:"tokenizer_path"`

	Engine *pipeline.Config `yaml:"engine"`
}

// DefaultConfigPath is where senseline looks without --config.
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".senseline", "config.yaml")
}

// Resolve loads and layers configuration. A missing config file is fine;
// a malformed one is a hard error.
func Resolve(opts ResolveOptions) (Resolved, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := Resolved{
		ConfigPath: path,
		Engine:     pipeline.DefaultConfig(),
	}

	cfg, err := loadFile(path)
	if err != nil {
		return out, err
	}
	if cfg != nil {
		apply(&out.DBPath, cfg.DBPath, SourceConfig, path)
		apply(&out.LLMProvider, cfg.LLM.Provider, SourceConfig, path)
		apply(&out.EmbedProvider, cfg.Embed.Provider, SourceConfig, path)
		apply(&out.EmbedModel, cfg.Embed.Model, SourceConfig, path)
		apply(&out.EmbedEndpoint, cfg.Embed.Endpoint, SourceConfig, path)
		apply(&out.EmbedAPIKey, cfg.Embed.APIKey, SourceConfig, path)
		apply(&out.ONNXModel, cfg.Embed.ONNXModel, SourceConfig, path)
		apply(&out.TokenizerPath, cfg.TokenizerPath, SourceConfig, path)
		if cfg.Engine != nil {
			out.Engine = *cfg.Engine
		}
	}

	applyEnv(&out.DBPath, "SENSELINE_DB")
	applyEnv(&out.LLMProvider, "SENSELINE_LLM")
	applyEnv(&out.EmbedProvider, "SENSELINE_EMBED")
	applyEnv(&out.EmbedModel, "SENSELINE_EMBED_MODEL")
	applyEnv(&out.EmbedEndpoint, "SENSELINE_EMBED_ENDPOINT")
	applyEnv(&out.EmbedAPIKey, "SENSELINE_EMBED_API_KEY")
	applyEnv(&out.ONNXModel, "SENSELINE_ONNX_MODEL")
	applyEnv(&out.TokenizerPath, "SENSELINE_TOKENIZER")

	apply(&out.DBPath, opts.CLIDBPath, SourceCLI, "--db")
	apply(&out.LLMProvider, opts.CLILLM, SourceCLI, "--llm")
	apply(&out.EmbedProvider, opts.CLIEmbed, SourceCLI, "--embed")

	if out.DBPath.Value != "" {
		out.DBPath.Value = expandUserPath(out.DBPath.Value)
	}
	if out.DBPath.Value == "" {
		out.DBPath = ResolvedValue{
			Value:  filepath.Join(filepath.Dir(path), "senseline.db"),
			Source: SourceDefault,
			From:   "built-in default",
		}
	}

	if err := out.Engine.Validate(); err != nil {
		return out, fmt.Errorf("engine config in %s: %w", path, err)
	}
	return out, nil
}

func loadFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

func apply(dst *ResolvedValue, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	*dst = ResolvedValue{Value: v, Source: source, From: from}
}

func applyEnv(dst *ResolvedValue, envKey string) {
	if v := strings.TrimSpace(os.Getenv(envKey)); v != "" {
		*dst = ResolvedValue{Value: v, Source: SourceEnv, From: envKey}
	}
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
