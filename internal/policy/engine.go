// Package policy decides which tools the agent may execute.
package policy

import (
	"fmt"

	"github.com/memorialsite/agentgw/internal/tools"
)

// Context describes a pending tool execution.
type Context struct {
	Tool    string
	Tier    int
	TraceID string
}

// Decision is the result of a policy evaluation.
type Decision struct {
	Allow  bool
	Reason string
	Tier   int
}

// Engine evaluates whether a tool execution should proceed.
type Engine interface {
	Evaluate(ctx Context) Decision
}

// TierEngine allows tools up to MaxTier unless they are explicitly denied.
type TierEngine struct {
	// MaxTier is the highest tier allowed. 0 makes the agent read-only.
	MaxTier int
	// Denied names tools that are never run, whatever their tier.
	Denied map[string]bool
}

// NewTierEngine creates an engine allowing tiers up to maxTier.
func NewTierEngine(maxTier int, denied []string) *TierEngine {
	e := &TierEngine{MaxTier: maxTier, Denied: make(map[string]bool, len(denied))}
	for _, name := range denied {
		e.Denied[name] = true
	}
	return e
}

// Evaluate checks the deny list, then the tool tier.
func (e *TierEngine) Evaluate(ctx Context) Decision {
	d := Decision{Tier: ctx.Tier}

	if e.Denied[ctx.Tool] {
		d.Reason = "tool_denied"
		return d
	}
	if ctx.Tier == tools.TierReadOnly {
		d.Allow = true
		d.Reason = "tier_0_always_allowed"
		return d
	}
	if ctx.Tier > e.MaxTier {
		d.Reason = fmt.Sprintf("tier_%d_exceeds_max_%d", ctx.Tier, e.MaxTier)
		return d
	}
	d.Allow = true
	d.Reason = fmt.Sprintf("tier_%d_allowed", ctx.Tier)
	return d
}
