package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/conversation"
)

func testAgent() *RuleAgent {
	return NewRuleAgent("bob", WorkContext{
		CurrentFocus: "Migrating the billing database",
		Achievements: []string{"shipped schema v2", "cut query latency"},
		ActiveTasks:  4,
		HighPriority: 2,
		Blockers:     []string{"waiting on ops for the replica"},
		Availability: "available",
	})
}

func TestRuleAgentRespondTo(t *testing.T) {
	ctx := context.Background()

	t.Run("status request yields status update", func(t *testing.T) {
		turn, err := testAgent().RespondTo(ctx, conversation.Turn{
			Speaker: "lead", Content: "bob, status on the migration?", Kind: conversation.KindQuestion,
		})
		if err != nil {
			t.Fatalf("RespondTo() error = %v", err)
		}
		if turn.Kind != conversation.KindStatusUpdate {
			t.Errorf("kind = %q, want status_update", turn.Kind)
		}
		if turn.Speaker != "bob" {
			t.Errorf("speaker = %q, want bob", turn.Speaker)
		}
		if !strings.Contains(turn.Content, "migrating the billing database") {
			t.Errorf("content %q missing current focus", turn.Content)
		}
		if !strings.Contains(turn.Content, "4 tasks (2 high priority)") {
			t.Errorf("content %q missing task summary", turn.Content)
		}
	})

	t.Run("blocker probe lists blockers", func(t *testing.T) {
		turn, err := testAgent().RespondTo(ctx, conversation.Turn{
			Speaker: "lead", Content: "anyone blocked right now?", Kind: conversation.KindQuestion,
		})
		if err != nil {
			t.Fatalf("RespondTo() error = %v", err)
		}
		if !strings.Contains(turn.Content, "1 blocker") {
			t.Errorf("content %q missing blocker count", turn.Content)
		}
		if len(turn.ContextTags) != 1 || turn.ContextTags[0] != "blockers" {
			t.Errorf("context tags = %v, want [blockers]", turn.ContextTags)
		}
	})

	t.Run("no blockers answered cleanly", func(t *testing.T) {
		a := NewRuleAgent("carol", WorkContext{CurrentFocus: "code review"})
		turn, err := a.RespondTo(ctx, conversation.Turn{Speaker: "lead", Content: "carol, are you stuck?"})
		if err != nil {
			t.Fatalf("RespondTo() error = %v", err)
		}
		if turn.Content != "No current blockers." {
			t.Errorf("content = %q, want no-blockers answer", turn.Content)
		}
	})

	t.Run("priority question answered from context", func(t *testing.T) {
		turn, err := testAgent().RespondTo(ctx, conversation.Turn{
			Speaker: "lead", Content: "bob what is most urgent for you?", Kind: conversation.KindQuestion,
		})
		if err != nil {
			t.Fatalf("RespondTo() error = %v", err)
		}
		if !strings.Contains(turn.Content, "2 high-priority tasks") {
			t.Errorf("content = %q, want high-priority count", turn.Content)
		}
	})

	t.Run("unclassified turn gets acknowledgement", func(t *testing.T) {
		turn, err := testAgent().RespondTo(ctx, conversation.Turn{
			Speaker: "lead", Content: "let's move on",
		})
		if err != nil {
			t.Fatalf("RespondTo() error = %v", err)
		}
		if turn.Kind != conversation.KindGeneral {
			t.Errorf("kind = %q, want general", turn.Kind)
		}
		if turn.Content == "" {
			t.Error("empty acknowledgement content")
		}
	})

	t.Run("cancelled context aborts", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := testAgent().RespondTo(cancelled, conversation.Turn{Content: "status?"}); err == nil {
			t.Error("expected context error, got nil")
		}
	})
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(testAgent())
	r.Register(NewRuleAgent("carol", WorkContext{}))

	if r.Len() != 2 {
		t.Errorf("Len() = %d, want 2", r.Len())
	}
	if _, ok := r.Get("bob"); !ok {
		t.Error("Get(bob) not found")
	}
	if _, ok := r.Get("ghost"); ok {
		t.Error("Get(ghost) unexpectedly found")
	}

	// Re-registering replaces the runtime.
	replacement := NewRuleAgent("bob", WorkContext{CurrentFocus: "new focus"})
	r.Register(replacement)
	if r.Len() != 2 {
		t.Errorf("Len() after replace = %d, want 2", r.Len())
	}
	got, _ := r.Get("bob")
	if got != Agent(replacement) {
		t.Error("Get(bob) did not return the replacement agent")
	}
}
