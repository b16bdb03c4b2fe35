package loopback

import (
	"context"
	"strings"
	"testing"
)

func TestGenerateEchoesPrompt(t *testing.T) {
	g := New()
	content, tokensIn, tokensOut, err := g.Generate(context.Background(), "describe the geography", "quill-large")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if !strings.Contains(content, "describe the geography") {
		t.Fatalf("unexpected content %q", content)
	}
	if tokensIn <= 0 || tokensOut <= 0 {
		t.Fatalf("expected positive token counts, got %d/%d", tokensIn, tokensOut)
	}
}

func TestGenerateEmptyPrompt(t *testing.T) {
	if _, _, _, err := New().Generate(context.Background(), "  ", "quill-large"); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestGenerateHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, _, _, err := New().Generate(ctx, "prompt", "quill-large"); err == nil {
		t.Fatal("expected context error")
	}
}
