package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/camel/pkg/capability"
)

const teamPolicy = `
read_only: [lookup_user]
read_actions:
  ticket: [view]
rules:
  - id: ticket-fields
    tool: ticket
    effect: trusted_fields
    fields: [title]
  - id: notify
    tool: "*_notify"
    effect: recipients
    recipients: [to]
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(teamPolicy))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Rules) != 2 || !strings.HasPrefix(cfg.Hash, "sha256:") {
		t.Fatalf("unexpected config %+v", cfg)
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if engine.Classify("lookup_user", nil) != Read {
		t.Fatalf("extra read-only tool not applied")
	}
	if engine.Classify("read", nil) != Read {
		t.Fatalf("default read-only tools should be kept")
	}
	args := map[string]capability.Value{"action": val("view", trusted)}
	if engine.Classify("ticket", args) != Read {
		t.Fatalf("read action not applied")
	}
	d := engine.Decide(context.Background(), Request{Tool: "exec", Args: map[string]capability.Value{"command": val("ls", trusted)}, Control: trusted})
	if d.Allowed || d.RuleID != RuleDefault {
		t.Fatalf("rules list should replace defaults, got %+v", d)
	}
}

func TestParseConfigRejectsBadRule(t *testing.T) {
	if _, err := ParseConfig([]byte("rules:\n  - tool: exec\n    effect: sometimes\n")); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := ParseConfig([]byte("rules: [")); err == nil {
		t.Fatalf("expected YAML error")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Rules) != len(DefaultConfig().Rules) {
		t.Fatalf("expected default rules")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWatcherReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte("rules:\n  - tool: deploy\n    effect: deny\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	reloaded := make(chan error, 4)
	w, err := NewWatcher(engine, path, WithDebounce(20*time.Millisecond), OnReload(func(err error) {
		select {
		case reloaded <- err:
		default:
		}
	}))
	if err != nil {
		t.Fatalf("watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	req := Request{Tool: "deploy", Control: trusted}
	if engine.Decide(ctx, req).Allowed {
		t.Fatalf("expected deny before reload")
	}
	if err := os.WriteFile(path, []byte("rules:\n  - tool: deploy\n    effect: allow\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	deadline := time.After(5 * time.Second)
	for !engine.Decide(ctx, req).Allowed {
		select {
		case <-reloaded:
		case <-deadline:
			t.Fatalf("policy was not reloaded")
		}
	}
}
