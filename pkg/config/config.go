// Package config loads runtime settings from defaults, a YAML file, an
// optional profile file, CAMEL_* environment variables and --set flags, in
// that order of precedence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/camel/pkg/errors"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "CAMEL_"

type Config struct {
	Log       LogConfig       `koanf:"log"`
	LLM       LLMConfig       `koanf:"llm"`
	Runtime   RuntimeConfig   `koanf:"runtime"`
	Policy    PolicyConfig    `koanf:"policy"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Trace     TraceConfig     `koanf:"trace"`
	MCP       MCPConfig       `koanf:"mcp"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
	// File receives a copy of every log record when set.
	File string `koanf:"file"`
}

type LLMConfig struct {
	Provider string `koanf:"provider"` // ollama, openai, anthropic, gemini
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	// ExtractorModel is the quarantined model; Model is used when empty.
	ExtractorModel string `koanf:"extractor_model"`
}

// QuarantinedModel returns the model used for extraction.
func (c LLMConfig) QuarantinedModel() string {
	if c.ExtractorModel != "" {
		return c.ExtractorModel
	}
	return c.Model
}

type RuntimeConfig struct {
	// Strict halts a run at the first denied tool call.
	Strict                     bool   `koanf:"strict"`
	MaxRepairAttempts          int    `koanf:"max_repair_attempts"`
	PromoteVerifiedExtractions bool   `koanf:"promote_verified_extractions"`
	Principal                  string `koanf:"principal"`
	IssueWindow                int    `koanf:"issue_window"`
	MaxSteps                   int    `koanf:"max_steps"`
	MaxItems                   int    `koanf:"max_items"`
}

type PolicyConfig struct {
	File  string `koanf:"file"`
	Watch bool   `koanf:"watch"`
}

type TelemetryConfig struct {
	Exporter     string            `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string            `koanf:"otlp_endpoint"`
	OTLPInsecure bool              `koanf:"otlp_insecure"`
	OTLPHeaders  map[string]string `koanf:"otlp_headers"`
	ServiceName  string            `koanf:"service_name"`
}

type TraceConfig struct {
	Store string `koanf:"store"` // memory, sqlite
	DSN   string `koanf:"dsn"`
}

type MCPConfig struct {
	Servers map[string]MCPServerConfig `koanf:"servers"`
}

type MCPServerConfig struct {
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	URL     string   `koanf:"url"`
	Prefix  string   `koanf:"prefix"`
}

var defaults = map[string]any{
	"log.level":                            "info",
	"log.format":                           "text",
	"llm.provider":                         "ollama",
	"llm.model":                            "qwen2.5-coder:7b-instruct-q5_K_M",
	"llm.base_url":                         "http://localhost:11434",
	"runtime.max_repair_attempts":          3,
	"runtime.issue_window":                 4,
	"runtime.max_steps":                    100000,
	"runtime.max_items":                    100000,
	"telemetry.exporter":                   "none",
	"telemetry.service_name":               "camel",
	"trace.store":                          "memory",
	"policy.watch":                         false,
	"runtime.strict":                       false,
	"runtime.promote_verified_extractions": false,
}

// Load reads path (optional) over the defaults and applies environment
// overrides.
func Load(path string) (*Config, error) {
	return load(path, "", nil)
}

// LoadWithProfile is Load with config.<profile>.yaml merged over the base
// file when it exists next to it.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

// LoadWithCLI loads configuration from command-line style arguments:
// --config <path>, --profile <name> (alias --env) and repeated
// --set key=value. Unrelated arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	opts, sets, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, sets)
}

func load(path, profile string, sets [][2]string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "failed to load config file", err).WithContext("path", path)
		}
		if p := profileConfigPath(path, profile); p != "" {
			if err := k.Load(file.Provider(p), yaml.Parser()); err != nil {
				return nil, errors.New(errors.CodeInvalidInput, "failed to load profile config", err).WithContext("path", p)
			}
		}
	}

	// CAMEL_LLM_BASE_URL -> llm.base_url
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	for _, kv := range sets {
		if err := k.Set(kv[0], parseValue(kv[1])); err != nil {
			return nil, fmt.Errorf("--set %s: %w", kv[0], err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps an environment variable to a config key. Only the first
// underscore separates the section, so field names keep theirs.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(s, "_")
	if !ok {
		return s
	}
	return section + "." + field
}

// parseValue decodes a --set value as JSON when possible, so numbers,
// booleans and objects keep their type. Anything else is a string.
func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, [][2]string, error) {
	var opts cliOptions
	var sets [][2]string
	for i := 0; i < len(args); i++ {
		name, value, hasValue := strings.Cut(args[i], "=")
		switch name {
		case "--config", "--profile", "--env", "--set":
		default:
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s requires a value", name)
			}
			i++
			value = args[i]
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile", "--env":
			opts.profile = value
		case "--set":
			key, v, ok := strings.Cut(value, "=")
			if !ok || strings.TrimSpace(key) == "" {
				return opts, nil, fmt.Errorf("invalid --set %q: expected key=value", value)
			}
			sets = append(sets, [2]string{strings.TrimSpace(key), v})
		}
	}
	return opts, sets, nil
}

// profileConfigPath returns the profile file for base, or "" when either is
// empty or the file does not exist.
func profileConfigPath(base, profile string) string {
	if base == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(filepath.Base(base), ext)
	if ext == "" {
		ext = ".yaml"
	}
	p := filepath.Join(filepath.Dir(base), name+"."+profile+ext)
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

// Validate checks values that have a fixed set of choices.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.Newf(errors.CodeInvalidInput, format, args...)
	}
	switch c.Trace.Store {
	case "memory":
	case "sqlite":
		if c.Trace.DSN == "" {
			return invalid("trace.dsn is required for the sqlite store")
		}
	default:
		return invalid("unknown trace.store %q", c.Trace.Store)
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		return invalid("unknown telemetry.exporter %q", c.Telemetry.Exporter)
	}
	if c.Runtime.MaxRepairAttempts < 0 {
		return invalid("runtime.max_repair_attempts must not be negative")
	}
	if c.Runtime.IssueWindow < 1 {
		return invalid("runtime.issue_window must be at least 1")
	}
	for name, s := range c.MCP.Servers {
		if s.Command == "" && s.URL == "" {
			return invalid("mcp server %s needs a command or url", name)
		}
	}
	return nil
}
