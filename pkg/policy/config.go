package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Config is the YAML form of a policy table.
type Config struct {
	// ReplaceDefaults drops the built-in read-only classification instead of
	// extending it.
	ReplaceDefaults bool                `yaml:"replace_defaults,omitempty"`
	ReadOnly        []string            `yaml:"read_only,omitempty"`
	ReadActions     map[string][]string `yaml:"read_actions,omitempty"`
	Rules           []Rule              `yaml:"rules"`

	// Profile names a preset from Profiles. Tools outside it are denied
	// before any other check. Empty means full.
	Profile string `yaml:"profile,omitempty"`
	// Deny removes tools from the profile.
	Deny []string `yaml:"deny,omitempty"`
	// OwnerOnly tools are denied unless the requesting principal is one
	// of Owners.
	OwnerOnly []string `yaml:"owner_only,omitempty"`
	Owners    []string `yaml:"owners,omitempty"`

	// Hash is the SHA-256 of the file the config was read from.
	Hash string `yaml:"-"`
}

var recipientArgs = []string{"to", "target", "recipients", "cc", "bcc"}

// DefaultConfig returns the built-in policy table.
func DefaultConfig() *Config {
	return &Config{
		OwnerOnly: slices.Clone(OwnerOnlyTools),
		Rules: []Rule{
			{ID: "exec-command", Tool: "exec", Effect: EffectTrustedFields, Fields: []string{"command", "workdir"}},
			{ID: "process-control", Tool: "process", Effect: EffectTrustedFields, Fields: []string{AllFields}},
			{ID: "fs-path", Tool: "write", Effect: EffectTrustedFields, Fields: []string{"path"}},
			{ID: "fs-edit", Tool: "edit", Effect: EffectTrustedFields, Fields: []string{"path"}},
			{ID: "fs-patch", Tool: "apply_patch", Effect: EffectTrustedFields, Fields: []string{"input", "path"}},
			{ID: "message-recipients", Tool: "message", Effect: EffectRecipients, Recipients: recipientArgs},
			{ID: "sessions-send", Tool: "sessions_send", Effect: EffectRecipients, Recipients: []string{"sessionKey", "session", "label"}},
			{ID: "sessions-spawn", Tool: "sessions_spawn", Effect: EffectTrustedFields, Fields: []string{"task", "agentId"}},
			{ID: "browser-url", Tool: "browser", Effect: EffectTrustedFields, Fields: []string{"url", "targetUrl", "selector", "text"}},
			{ID: "automation", Tool: "group:automation", Effect: EffectTrustedFields, Fields: []string{AllFields}},
			{ID: "nodes", Tool: "nodes", Effect: EffectTrustedFields, Fields: []string{AllFields}},
			{ID: "canvas", Tool: "canvas", Effect: EffectTrustedFields, Fields: []string{AllFields}},
			{ID: "any-send", Tool: "*_send", Effect: EffectRecipients, Recipients: recipientArgs},
		},
	}
}

// ParseConfig decodes a YAML policy. Fields not present keep their
// defaults; a rules list replaces the default rules.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse policy config: %w", err)
	}
	if _, err := compile(cfg); err != nil {
		return nil, err
	}
	h := sha256.Sum256(data)
	cfg.Hash = "sha256:" + hex.EncodeToString(h[:])
	return cfg, nil
}

// LoadConfig reads a YAML policy file. An empty path returns the defaults.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy config: %w", err)
	}
	return ParseConfig(data)
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
