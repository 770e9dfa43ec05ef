package core

import (
	"context"
	"strings"
	"testing"
)

func TestEnsureRunID(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if !strings.HasPrefix(id, "run-") {
		t.Fatalf("unexpected run id %q", id)
	}
	if got, ok := RunID(ctx); !ok || got != id {
		t.Fatalf("run id not stored: %q %v", got, ok)
	}
	again, same := EnsureRunID(ctx)
	if same != id || again != ctx {
		t.Fatalf("existing run id should be kept, got %q", same)
	}
	if _, other := EnsureRunID(context.Background()); other == id {
		t.Fatal("run ids should be unique")
	}
}

func TestEmptyValuesAreAbsent(t *testing.T) {
	ctx := WithRunID(context.Background(), "")
	if _, ok := RunID(ctx); ok {
		t.Fatal("empty run id should read as absent")
	}
	if _, ok := Principal(WithPrincipal(context.Background(), "")); ok {
		t.Fatal("empty principal should read as absent")
	}
	if p, ok := Principal(WithPrincipal(context.Background(), "alice")); !ok || p != "alice" {
		t.Fatalf("unexpected principal %q", p)
	}
}
