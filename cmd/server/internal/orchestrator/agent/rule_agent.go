package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/conversation"
)

// WorkContext is the slice of a participant's work state a RuleAgent draws
// its answers from. It is set once at construction; refreshing it between
// meetings is the caller's concern.
type WorkContext struct {
	CurrentFocus string   `yaml:"current_focus" json:"current_focus"`
	Achievements []string `yaml:"achievements" json:"achievements"`
	ActiveTasks  int      `yaml:"active_tasks" json:"active_tasks"`
	HighPriority int      `yaml:"high_priority" json:"high_priority"`
	Blockers     []string `yaml:"blockers" json:"blockers"`
	Availability string   `yaml:"availability" json:"availability"`
}

// RuleAgent is a keyword-driven participant runtime. It classifies the
// incoming turn by keyword and answers from its WorkContext with a templated
// response. ContextTags on the produced turn record which context fields fed
// the answer.
type RuleAgent struct {
	name string
	work WorkContext
}

// NewRuleAgent creates a RuleAgent for the named participant.
func NewRuleAgent(name string, work WorkContext) *RuleAgent {
	if work.Availability == "" {
		work.Availability = "available"
	}
	return &RuleAgent{name: name, work: work}
}

// Name implements Agent.
func (a *RuleAgent) Name() string { return a.name }

var (
	statusKeywords  = []string{"status", "update", "progress"}
	blockerKeywords = []string{"blocker", "blocked", "impediment", "stuck"}
)

// RespondTo implements Agent. Classification order matters: status requests
// outrank blocker probes, which outrank direct questions; anything else gets
// a brief acknowledgement.
func (a *RuleAgent) RespondTo(ctx context.Context, prompt conversation.Turn) (conversation.Turn, error) {
	select {
	case <-ctx.Done():
		return conversation.Turn{}, ctx.Err()
	default:
	}

	content := strings.ToLower(prompt.Content)
	turn := conversation.Turn{
		Speaker:   a.name,
		Kind:      conversation.KindGeneral,
		Timestamp: time.Now(),
	}

	switch {
	case containsAny(content, statusKeywords):
		turn.Kind = conversation.KindStatusUpdate
		turn.Content = a.statusUpdate()
		turn.ContextTags = []string{"current_focus", "achievements", "active_tasks"}
	case containsAny(content, blockerKeywords):
		turn.Kind = conversation.KindStatusUpdate
		turn.Content = a.blockerUpdate()
		turn.ContextTags = []string{"blockers"}
	case strings.Contains(content, a.nameLower()) || strings.Contains(content, "?"):
		turn.Content = a.contextualAnswer(content)
		turn.ContextTags = []string{"current_focus", "availability"}
	default:
		turn.Content = fmt.Sprintf("Noted. %s.", capitalize(a.work.CurrentFocus))
		turn.ContextTags = []string{"current_focus"}
	}
	return turn, nil
}

func (a *RuleAgent) statusUpdate() string {
	var parts []string
	if a.work.CurrentFocus != "" {
		parts = append(parts, "Currently "+strings.ToLower(a.work.CurrentFocus))
	}
	if len(a.work.Achievements) > 0 {
		top := a.work.Achievements
		if len(top) > 2 {
			top = top[:2]
		}
		parts = append(parts, "Recent progress: "+strings.Join(top, ", "))
	}
	if a.work.ActiveTasks > 0 {
		if a.work.HighPriority > 0 {
			parts = append(parts, fmt.Sprintf("Working on %d tasks (%d high priority)", a.work.ActiveTasks, a.work.HighPriority))
		} else {
			parts = append(parts, fmt.Sprintf("Working on %d tasks", a.work.ActiveTasks))
		}
	}
	parts = append(parts, "Status: "+a.work.Availability)
	return strings.Join(parts, ". ") + "."
}

func (a *RuleAgent) blockerUpdate() string {
	switch len(a.work.Blockers) {
	case 0:
		return "No current blockers."
	case 1:
		return fmt.Sprintf("I have 1 blocker: %s - need help to resolve this.", a.work.Blockers[0])
	default:
		return fmt.Sprintf("I have %d blockers that need attention for resolution.", len(a.work.Blockers))
	}
}

func (a *RuleAgent) contextualAnswer(content string) string {
	switch {
	case containsAny(content, []string{"deadline", "due", "when"}):
		if a.work.ActiveTasks == 0 {
			return "I don't have any upcoming deadlines in the next two weeks."
		}
		return fmt.Sprintf("My deadlines track with the %d tasks on my plate.", a.work.ActiveTasks)
	case containsAny(content, []string{"priority", "important", "urgent"}):
		if a.work.HighPriority == 0 {
			return "No high-priority tasks at the moment."
		}
		return fmt.Sprintf("I have %d high-priority tasks to focus on.", a.work.HighPriority)
	case containsAny(content, []string{"capacity", "available", "bandwidth"}):
		return fmt.Sprintf("My availability: %s.", a.work.Availability)
	default:
		if a.work.CurrentFocus == "" {
			return "I don't have current context to answer that question."
		}
		return fmt.Sprintf("Based on my current work, %s. %s.", strings.ToLower(a.work.CurrentFocus), capitalize(a.work.Availability))
	}
}

func (a *RuleAgent) nameLower() string { return strings.ToLower(a.name) }

func containsAny(content string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
