package secrets

import (
	"context"
	"testing"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); err == nil {
		t.Error("missing key should error")
	}
	if err := s.Set(ctx, "translator.api_key", "sk-1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, err := s.Get(ctx, "translator.api_key")
	if err != nil || v != "sk-1" {
		t.Errorf("Get: %q %v", v, err)
	}
	if err := s.Delete(ctx, "translator.api_key"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "translator.api_key"); err == nil {
		t.Error("deleted key should error")
	}
}

func TestMemoryStoreList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Set(ctx, "catalog.username", "u")
	_ = s.Set(ctx, "catalog.password", "p")
	_ = s.Set(ctx, "translator.api_key", "k")

	keys, err := s.List(ctx, "catalog.")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("List: got %v", keys)
	}
}

func TestEnvStoreKeyMapping(t *testing.T) {
	t.Setenv("CATALOG_PASSWORD", "secret")
	s := NewEnvStore()
	v, err := s.Get(context.Background(), "catalog.password")
	if err != nil || v != "secret" {
		t.Errorf("env Get with dotted key: %q %v", v, err)
	}
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.Set(ctx, "k", "from-store")

	if got := Resolve(ctx, s, "explicit", "k"); got != "explicit" {
		t.Errorf("configured value should win: %q", got)
	}
	if got := Resolve(ctx, s, "", "k"); got != "from-store" {
		t.Errorf("store fallback: %q", got)
	}
	if got := Resolve(ctx, nil, "", "k"); got != "" {
		t.Errorf("nil store: %q", got)
	}
}
