package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/memorialsite/agentgw/internal/identity"
	"github.com/memorialsite/agentgw/internal/tools"
)

// ContextBuilder assembles the system prompt.
type ContextBuilder struct {
	identity string
	registry *tools.Registry
	now      func() time.Time
}

// NewContextBuilder creates a ContextBuilder. An empty identity uses the
// embedded site assistant prompt.
func NewContextBuilder(prompt string, registry *tools.Registry) *ContextBuilder {
	if strings.TrimSpace(prompt) == "" {
		prompt = identity.Default()
	}
	return &ContextBuilder{identity: prompt, registry: registry, now: time.Now}
}

// BuildSystemPrompt constructs the system prompt with date references and the
// tool summary.
func (b *ContextBuilder) BuildSystemPrompt() string {
	parts := []string{b.identity, b.dateReference()}
	if summary := b.toolSummary(); summary != "" {
		parts = append(parts, summary)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func (b *ContextBuilder) dateReference() string {
	t := b.now()
	// Pre-computed so the model never does date arithmetic for "next month".
	next := time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
	return fmt.Sprintf("## Current Time\n%s\n\n## Date Reference\n- This month: month=%d year=%d\n- Next month: month=%d year=%d",
		t.Format("2006-01-02 15:04 (Monday)"),
		int(t.Month()), t.Year(),
		int(next.Month()), next.Year())
}

func (b *ContextBuilder) toolSummary() string {
	list := b.registry.List()
	if len(list) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Tools\n")
	for _, t := range list {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
	}
	return strings.TrimRight(sb.String(), "\n")
}
