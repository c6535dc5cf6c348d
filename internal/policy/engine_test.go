package policy

import (
	"testing"

	"github.com/memorialsite/agentgw/internal/tools"
)

func TestTier0AlwaysAllowed(t *testing.T) {
	eng := NewTierEngine(0, nil)
	d := eng.Evaluate(Context{Tool: "list_topics", Tier: tools.TierReadOnly})
	if !d.Allow {
		t.Fatalf("tier 0 should always be allowed, got: %s", d.Reason)
	}
}

func TestWriteAllowedUpToMaxTier(t *testing.T) {
	eng := NewTierEngine(tools.TierWrite, nil)
	d := eng.Evaluate(Context{Tool: "update_homepage", Tier: tools.TierWrite})
	if !d.Allow || d.Reason != "tier_1_allowed" {
		t.Fatalf("tier 1 should be allowed, got: %+v", d)
	}
}

func TestReadOnlyDeniesWrites(t *testing.T) {
	eng := NewTierEngine(tools.TierReadOnly, nil)
	d := eng.Evaluate(Context{Tool: "delete_blessing", Tier: tools.TierWrite})
	if d.Allow {
		t.Fatal("writes should be denied in read-only mode")
	}
	if d.Reason != "tier_1_exceeds_max_0" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

func TestDeniedToolOverridesTier(t *testing.T) {
	eng := NewTierEngine(tools.TierWrite, []string{"delete_gallery_item"})
	d := eng.Evaluate(Context{Tool: "delete_gallery_item", Tier: tools.TierWrite})
	if d.Allow || d.Reason != "tool_denied" {
		t.Fatalf("expected tool_denied, got %+v", d)
	}
	if !eng.Evaluate(Context{Tool: "delete_blessing", Tier: tools.TierWrite}).Allow {
		t.Fatal("other write tools should still be allowed")
	}
}
