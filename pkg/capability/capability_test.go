package capability

import (
	"encoding/json"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"
)

var principalPool = []string{"alice", "bob", "carol", "dave"}

var sourcePool = []Source{SourceUser, SourceCamel, ToolSource("exec"), ToolSource("web_fetch"), QLLMSource("m")}

// genCap is a quick.Generator for random capabilities.
type genCap struct{ C Capability }

func (genCap) Generate(r *rand.Rand, _ int) reflect.Value {
	var readers Readers
	if r.Intn(3) > 0 {
		var ps []string
		for _, p := range principalPool {
			if r.Intn(2) == 0 {
				ps = append(ps, p)
			}
		}
		readers = Only(ps...)
	}
	var srcs []Source
	for _, s := range sourcePool {
		if r.Intn(3) == 0 {
			srcs = append(srcs, s)
		}
	}
	return reflect.ValueOf(genCap{C: New(r.Intn(2) == 0, readers, srcs...)})
}

func TestMergeIdentity(t *testing.T) {
	m := Merge()
	if !m.Trusted || !m.Readers.IsPublic() || len(m.Sources) != 0 {
		t.Fatalf("unexpected identity: %v", m)
	}
	c := New(false, Only("alice"), ToolSource("exec"))
	if got := Merge(c); !got.Equal(c) {
		t.Fatalf("merge of one should be identity, got %v", got)
	}
}

func TestMergeMonotone(t *testing.T) {
	f := func(a, b genCap, principal uint8) bool {
		m := Merge(a.C, b.C)
		if m.Trusted && !(a.C.Trusted && b.C.Trusted) {
			return false
		}
		p := principalPool[int(principal)%len(principalPool)]
		if AllowsReader(m, p) && !(AllowsReader(a.C, p) && AllowsReader(b.C, p)) {
			return false
		}
		for _, s := range append(append([]Source{}, a.C.Sources...), b.C.Sources...) {
			if !m.HasSource(s) {
				return false
			}
		}
		return true
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestMergeCommutativeAssociative(t *testing.T) {
	f := func(a, b, c genCap) bool {
		if !Merge(a.C, b.C).Equal(Merge(b.C, a.C)) {
			return false
		}
		return Merge(Merge(a.C, b.C), c.C).Equal(Merge(a.C, Merge(b.C, c.C)))
	}
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestMergeIdempotent(t *testing.T) {
	f := func(a genCap) bool { return Merge(a.C, a.C).Equal(a.C) }
	if err := quick.Check(f, nil); err != nil {
		t.Fatal(err)
	}
}

func TestIsPublic(t *testing.T) {
	cases := []struct {
		name string
		c    Capability
		want bool
	}{
		{"literal", Literal(), true},
		{"user", User(), true},
		{"tool output", ToolOutput("web_fetch"), true},
		{"untrusted restricted", New(false, Only("alice"), ToolSource("read")), false},
		{"trusted restricted", New(true, Only("alice"), SourceUser), false},
		{"trusted nobody", New(true, Only(), SourceUser), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsPublic(tc.c); got != tc.want {
				t.Fatalf("IsPublic(%v) = %v, want %v", tc.c, got, tc.want)
			}
		})
	}
}

func TestAllowsReader(t *testing.T) {
	c := New(false, Only("bob", "alice", "bob"), ToolSource("read"))
	if !AllowsReader(c, "alice") || !AllowsReader(c, "bob") {
		t.Fatalf("expected alice and bob to read %v", c)
	}
	if AllowsReader(c, "eve") {
		t.Fatalf("eve must not read %v", c)
	}
	if got := c.Readers.Principals(); !reflect.DeepEqual(got, []string{"alice", "bob"}) {
		t.Fatalf("principals not normalized: %v", got)
	}
	if !AllowsReader(ToolOutput("x"), "anyone") {
		t.Fatalf("public readers admit everyone")
	}
}

func TestReadersJSON(t *testing.T) {
	for _, r := range []Readers{Public(), Only("a", "b"), Only()} {
		raw, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var back Readers
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", raw, err)
		}
		if !back.Equal(r) {
			t.Fatalf("round trip %s changed readers: %v", raw, back)
		}
	}
	var bad Readers
	if err := json.Unmarshal([]byte(`"everyone"`), &bad); err == nil {
		t.Fatalf("expected error for unknown reader keyword")
	}
}

func TestDerive(t *testing.T) {
	lit := LiteralValue("ls")
	fetched := NewValue("page", ToolOutput("web_fetch"))

	v := Derive("ls page", lit, fetched)
	if v.Cap.Trusted {
		t.Fatalf("derived value must not be trusted")
	}
	if !v.Cap.HasSource(ToolSource("web_fetch")) || !v.Cap.HasSource(SourceCamel) {
		t.Fatalf("derived value lost sources: %v", v.Cap)
	}
	if got := Derive(1); !got.Cap.HasSource(SourceCamel) || !got.Cap.Trusted {
		t.Fatalf("derivation from nothing should be a trusted camel value, got %v", got.Cap)
	}
}

func TestTaint(t *testing.T) {
	v := LiteralValue("x").Taint(ToolOutput("read"))
	if v.Cap.Trusted || !v.Cap.HasSource(ToolSource("read")) {
		t.Fatalf("taint not applied: %v", v.Cap)
	}
	if w := LiteralValue("x").Taint(); !w.Cap.Equal(Literal()) {
		t.Fatalf("empty taint should be a no-op")
	}
}
