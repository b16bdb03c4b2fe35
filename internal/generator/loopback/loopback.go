// Package loopback provides a generator that fabricates deterministic
// module content without calling any external model. It keeps the daemon
// runnable end to end before a real model integration is plugged in, and
// doubles as the default for local development.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Generator echoes a canned rendering of the prompt.
type Generator struct{}

// New creates a loopback Generator.
func New() *Generator {
	return &Generator{}
}

// Generate fabricates content and plausible token counts from the prompt
// size. It respects context cancellation so timeout and cancel paths
// behave like a real upstream.
func (g *Generator) Generate(ctx context.Context, prompt, model string) (string, int, int, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, 0, err
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", 0, 0, errors.New("empty prompt")
	}
	content := fmt.Sprintf("[loopback:%s] %s", model, prompt)
	tokensIn := len(prompt) / 4
	if tokensIn == 0 {
		tokensIn = 1
	}
	tokensOut := len(content) / 4
	if tokensOut == 0 {
		tokensOut = 1
	}
	return content, tokensIn, tokensOut, nil
}
