package policy

import (
	"context"
	"math/rand"
	"reflect"
	"strings"
	"testing"
	"testing/quick"

	"github.com/jllopis/camel/pkg/capability"
)

var (
	trusted   = capability.Literal()
	untrusted = capability.ToolOutput("read")
)

func val(data any, c capability.Capability) capability.Value {
	return capability.NewValue(data, c)
}

func TestClassify(t *testing.T) {
	c := DefaultClassifier()
	tests := []struct {
		tool string
		args map[string]capability.Value
		want Mutability
	}{
		{"read", nil, Read},
		{"web_fetch", nil, Read},
		{"exec", nil, State},
		{"bash", nil, State},
		{"message", map[string]capability.Value{"action": val("read", trusted)}, Read},
		{"message", map[string]capability.Value{"action": val("send", trusted)}, State},
		{"message", nil, State},
		{"browser", map[string]capability.Value{"action": val("snapshot", untrusted)}, Read},
		{"browser", map[string]capability.Value{"action": val("navigate", trusted)}, State},
		{"cron", map[string]capability.Value{"action": val(3, trusted)}, State},
		{"never_heard_of_it", nil, State},
	}
	for _, tc := range tests {
		if got := c.Classify(tc.tool, tc.args); got != tc.want {
			t.Errorf("%s %v: expected %s, got %s", tc.tool, tc.args, tc.want, got)
		}
	}
	if !c.ActionBased("gateway") || c.ActionBased("exec") {
		t.Fatalf("unexpected action-based classification")
	}
}

func TestExpandGroups(t *testing.T) {
	got := ExpandGroups([]string{"group:fs", "Bash", "read"})
	want := []string{"apply_patch", "edit", "exec", "read", "write"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestDecide(t *testing.T) {
	engine := DefaultEngine()
	ctx := context.Background()
	tests := []struct {
		name    string
		req     Request
		allowed bool
		rule    string
		reason  string
	}{
		{
			name:    "trusted exec",
			req:     Request{Tool: "exec", Args: map[string]capability.Value{"command": val("ls", trusted)}, Control: trusted},
			allowed: true,
			rule:    "exec-command",
		},
		{
			name:   "untrusted exec",
			req:    Request{Tool: "exec", Args: map[string]capability.Value{"command": val("rm -rf /", untrusted)}, Control: trusted},
			rule:   "exec-command",
			reason: "trusted",
		},
		{
			name:   "alias resolves",
			req:    Request{Tool: "bash", Args: map[string]capability.Value{"command": val("x", untrusted)}, Control: trusted},
			rule:   "exec-command",
			reason: "not trusted",
		},
		{
			name:   "tainted control",
			req:    Request{Tool: "message", Args: map[string]capability.Value{"to": val("alice", trusted), "message": val("hi", trusted)}, Control: untrusted},
			rule:   RuleControl,
			reason: "non-public control data",
		},
		{
			name:   "confidential control",
			req:    Request{Tool: "exec", Args: map[string]capability.Value{"command": val("ls", trusted)}, Control: capability.New(true, capability.Only("alice"))},
			rule:   RuleControl,
			reason: "non-public control data",
		},
		{
			name:    "read ignores control",
			req:     Request{Tool: "read", Args: map[string]capability.Value{"path": val("a", untrusted)}, Control: untrusted},
			allowed: true,
			rule:    RuleRead,
		},
		{
			name:   "unknown tool",
			req:    Request{Tool: "deploy", Control: trusted},
			rule:   RuleDefault,
			reason: "default deny",
		},
		{
			name:    "trusted recipients",
			req:     Request{Tool: "message", Args: map[string]capability.Value{"to": val("mallory", trusted), "message": val("secret", capability.New(false, capability.Only("alice")))}, Control: trusted},
			allowed: true,
			rule:    "message-recipients",
		},
		{
			name:   "untrusted recipient cannot read",
			req:    Request{Tool: "message", Args: map[string]capability.Value{"to": val([]any{"alice", "mallory"}, untrusted), "message": val("secret", capability.New(false, capability.Only("alice")))}, Control: trusted},
			rule:   "message-recipients",
			reason: "mallory",
		},
		{
			name:    "wildcard entry",
			req:     Request{Tool: "slack_send", Args: map[string]capability.Value{"to": val("bob", untrusted), "text": val("hi", trusted)}, Control: trusted},
			allowed: true,
			rule:    "any-send",
		},
		{
			name:    "group entry",
			req:     Request{Tool: "cron", Args: map[string]capability.Value{"action": val("add", trusted), "job": val("x", trusted)}, Control: trusted},
			allowed: true,
			rule:    "automation",
		},
		{
			name:   "all fields",
			req:    Request{Tool: "cron", Args: map[string]capability.Value{"action": val("add", trusted), "job": val("x", untrusted)}, Control: trusted},
			rule:   "automation",
			reason: "job",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := engine.Decide(ctx, tc.req)
			if d.Allowed != tc.allowed {
				t.Fatalf("expected allowed=%v, got %+v", tc.allowed, d)
			}
			if tc.rule != "" && d.RuleID != tc.rule {
				t.Fatalf("expected rule %q, got %q", tc.rule, d.RuleID)
			}
			if tc.reason != "" && !strings.Contains(d.Reason, tc.reason) {
				t.Fatalf("expected reason containing %q, got %q", tc.reason, d.Reason)
			}
		})
	}
}

func TestExactBeforeWildcard(t *testing.T) {
	engine, err := NewEngine(&Config{Rules: []Rule{
		{ID: "wild", Tool: "team_*", Effect: EffectDeny},
		{ID: "exact", Tool: "team_send", Effect: EffectAllow},
	}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	d := engine.Decide(context.Background(), Request{Tool: "team_send", Control: trusted})
	if !d.Allowed || d.RuleID != "exact" {
		t.Fatalf("expected exact rule to win, got %+v", d)
	}
	d = engine.Decide(context.Background(), Request{Tool: "team_delete", Control: trusted})
	if d.Allowed || d.RuleID != "wild" {
		t.Fatalf("expected wildcard deny, got %+v", d)
	}
}

func TestRecipientsPayloadIsEveryOtherArgument(t *testing.T) {
	secret := capability.New(true, capability.Only("alice"), capability.SourceCamel)
	notify, err := NewEngine(&Config{Rules: []Rule{
		{ID: "notify", Tool: "notify", Effect: EffectRecipients, Recipients: []string{"to"}},
	}})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	for _, field := range []string{"media", "attachments", "path"} {
		for _, tc := range []struct {
			engine *Engine
			tool   string
		}{
			{DefaultEngine(), "message"},
			{notify, "notify"},
		} {
			args := map[string]capability.Value{
				"action": val("send", trusted),
				"to":     val("mallory", untrusted),
				field:    val("quarterly numbers", secret),
			}
			d := tc.engine.Decide(context.Background(), Request{Tool: tc.tool, Args: args, Control: trusted})
			if d.Allowed || !strings.Contains(d.Reason, "mallory") {
				t.Errorf("%s with secret %s: expected denial, got %+v", tc.tool, field, d)
			}
			args["to"] = val("alice", untrusted)
			d = tc.engine.Decide(context.Background(), Request{Tool: tc.tool, Args: args, Control: trusted})
			if !d.Allowed {
				t.Errorf("%s with secret %s: alice may read it, got %+v", tc.tool, field, d)
			}
		}
	}
}

func TestInvalidRules(t *testing.T) {
	for _, cfg := range []*Config{
		{Rules: []Rule{{ID: "a", Tool: "x", Effect: "maybe"}}},
		{Rules: []Rule{{ID: "b", Tool: "x", Effect: EffectTrustedFields}}},
		{Rules: []Rule{{ID: "c", Tool: "", Effect: EffectAllow}}},
		{Rules: []Rule{{ID: "d", Tool: "[x", Effect: EffectAllow}}},
	} {
		if _, err := NewEngine(cfg); err == nil {
			t.Errorf("expected error for %+v", cfg.Rules[0])
		}
	}
}

type argCaps struct {
	Args    map[string]capability.Value
	Control bool
}

func randCap(r *rand.Rand) capability.Capability {
	readers := capability.Public()
	if r.Intn(2) == 0 {
		pool := []string{"alice", "bob", "carol"}
		var ps []string
		for _, p := range pool {
			if r.Intn(2) == 0 {
				ps = append(ps, p)
			}
		}
		readers = capability.Only(ps...)
	}
	return capability.New(r.Intn(2) == 0, readers, capability.SourceCamel)
}

func (argCaps) Generate(r *rand.Rand, _ int) reflect.Value {
	a := argCaps{Args: map[string]capability.Value{}, Control: r.Intn(2) == 0}
	for _, k := range []string{"command", "path", "to", "message", "action"} {
		if r.Intn(2) == 0 {
			a.Args[k] = val("v", randCap(r))
		}
	}
	return reflect.ValueOf(a)
}

func TestDefaultDenyProperty(t *testing.T) {
	engine := DefaultEngine()
	f := func(a argCaps) bool {
		control := trusted
		if !a.Control {
			control = randCap(rand.New(rand.NewSource(int64(len(a.Args)))))
		}
		d := engine.Decide(context.Background(), Request{Tool: "launch_missiles", Args: a.Args, Control: control})
		return !d.Allowed
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

type recipientCase struct {
	Recipients []any
	Payload    capability.Capability
}

func (recipientCase) Generate(r *rand.Rand, _ int) reflect.Value {
	pool := []string{"alice", "bob", "carol", "mallory"}
	n := 1 + r.Intn(3)
	rc := recipientCase{Payload: randCap(r)}
	for i := 0; i < n; i++ {
		rc.Recipients = append(rc.Recipients, pool[r.Intn(len(pool))])
	}
	return reflect.ValueOf(rc)
}

func TestRecipientReadabilityProperty(t *testing.T) {
	engine := DefaultEngine()
	f := func(rc recipientCase) bool {
		d := engine.Decide(context.Background(), Request{
			Tool: "message",
			Args: map[string]capability.Value{
				"action":  val("send", trusted),
				"to":      val(rc.Recipients, untrusted),
				"message": val("payload", rc.Payload),
			},
			Control: trusted,
		})
		want := true
		for _, r := range rc.Recipients {
			if !capability.AllowsReader(rc.Payload, r.(string)) {
				want = false
			}
		}
		return d.Allowed == want
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestControlTaintProperty(t *testing.T) {
	engine := DefaultEngine()
	controls := map[string]capability.Capability{
		"untrusted public":   capability.Merge(trusted, untrusted),
		"trusted restricted": capability.New(true, capability.Only("alice"), capability.SourceUser),
	}
	for name, control := range controls {
		for _, tool := range []string{"exec", "write", "message", "sessions_send", "cron"} {
			d := engine.Decide(context.Background(), Request{
				Tool:    tool,
				Args:    map[string]capability.Value{"command": val("ls", trusted), "path": val("a", trusted), "to": val("alice", trusted), "message": val("m", trusted), "action": val("send", trusted)},
				Control: control,
			})
			if d.Allowed || d.Reason != ReasonControl {
				t.Errorf("%s control, %s: expected control denial, got %+v", name, tool, d)
			}
		}
	}
}

func TestProfiles(t *testing.T) {
	ctx := context.Background()
	coding, err := ParseConfig([]byte("profile: coding\ndeny: [process]\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	engine, err := NewEngine(coding)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	if engine.Profile() != "coding" {
		t.Fatalf("unexpected profile %q", engine.Profile())
	}
	cases := []struct {
		tool      string
		available bool
	}{
		{"read", true},
		{"bash", true},
		{"sessions_send", true},
		{"process", false},
		{"web_fetch", false},
		{"message", false},
	}
	for _, tc := range cases {
		if got := engine.Available(tc.tool); got != tc.available {
			t.Errorf("%s: available=%v, want %v", tc.tool, got, tc.available)
		}
	}

	d := engine.Decide(ctx, Request{Tool: "web_fetch", Args: map[string]capability.Value{"url": val("x", trusted)}, Control: trusted})
	if d.Allowed || d.RuleID != RuleProfile || !strings.Contains(d.Reason, "coding") {
		t.Fatalf("read-only tool outside the profile should be denied, got %+v", d)
	}
	d = engine.Decide(ctx, Request{Tool: "read", Control: untrusted})
	if !d.Allowed || d.RuleID != RuleRead {
		t.Fatalf("read inside the profile should be allowed, got %+v", d)
	}

	if !DefaultEngine().Available("anything_at_all") || DefaultEngine().Profile() != ProfileFull {
		t.Fatalf("default profile should offer every tool")
	}
	if _, err := ParseConfig([]byte("profile: everything\n")); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
}

func TestOwnerOnlyTools(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Owners = []string{"alice"}
	cfg.Rules = append(cfg.Rules, Rule{ID: "login", Tool: "whatsapp_login", Effect: EffectAllow})
	engine, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	for _, principal := range []string{"", "mallory"} {
		d := engine.Decide(ctx, Request{Tool: "whatsapp_login", Control: trusted, Principal: principal})
		if d.Allowed || d.RuleID != RuleOwner {
			t.Errorf("principal %q: expected owner-only denial, got %+v", principal, d)
		}
	}
	d := engine.Decide(ctx, Request{Tool: "whatsapp_login", Control: trusted, Principal: "alice"})
	if !d.Allowed || d.RuleID != "login" {
		t.Fatalf("owner should reach the rule table, got %+v", d)
	}
	d = engine.Decide(ctx, Request{Tool: "whatsapp_login", Control: untrusted, Principal: "alice"})
	if d.Allowed || d.RuleID != RuleControl {
		t.Fatalf("owner calls still need public control, got %+v", d)
	}
}
