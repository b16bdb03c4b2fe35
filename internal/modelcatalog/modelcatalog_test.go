package modelcatalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveAndToggle(t *testing.T) {
	c := New()
	if err := c.Upsert(Model{ID: "Scribe-Large", InputMultiplier: 150, OutputMultiplier: 600, Enabled: true}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	m, err := c.Resolve("scribe-large")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if m.ID != "scribe-large" || m.InputMultiplier != 150 {
		t.Fatalf("unexpected model %#v", m)
	}

	if _, err := c.Resolve("unknown"); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}

	if err := c.SetEnabled("scribe-large", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	if _, err := c.Resolve("scribe-large"); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable for disabled model, got %v", err)
	}
	if err := c.SetEnabled("missing", true); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable for unknown toggle, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.yaml")
	const doc = `
- id: scribe-large
  input_multiplier: 150
  output_multiplier: 600
  enabled: true
- id: scribe-mini
  input_multiplier: 20
  output_multiplier: 80
  enabled: false
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	c := New()
	n, err := c.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries, got %d", n)
	}
	if _, err := c.Resolve("scribe-large"); err != nil {
		t.Fatalf("Resolve after load: %v", err)
	}
	if _, err := c.Resolve("scribe-mini"); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected disabled scribe-mini, got %v", err)
	}
	if got := len(c.List()); got != 2 {
		t.Fatalf("List returned %d models", got)
	}
}

func TestLoadFileErrors(t *testing.T) {
	c := New()
	if _, err := c.LoadFile(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := c.LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
