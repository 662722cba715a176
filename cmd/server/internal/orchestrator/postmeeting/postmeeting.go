// Package postmeeting turns a completed meeting's turn history into a
// structured summary: key points, decisions, blockers, and trackable action
// items with assignees, due dates, and priorities.
package postmeeting

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/conversation"
)

// Priority ranks an action item.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ActionItem is one follow-up extracted from the meeting.
type ActionItem struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	Assignee    string    `json:"assignee"`
	DueDate     time.Time `json:"due_date"`
	Priority    Priority  `json:"priority"`
	MeetingID   string    `json:"meeting_id"`
	CreatedAt   time.Time `json:"created_at"`
	Status      string    `json:"status"`
}

// Summary is the post-meeting report handed to external action handlers.
type Summary struct {
	MeetingID   string       `json:"meeting_id"`
	Title       string       `json:"title"`
	GeneratedAt time.Time    `json:"generated_at"`
	KeyPoints   []string     `json:"key_points"`
	Decisions   []string     `json:"decisions"`
	Blockers    []string     `json:"blockers"`
	ActionItems []ActionItem `json:"action_items"`
	TopTopics   []string     `json:"top_topics"`
}

// Request carries what the Processor needs from a finished meeting.
type Request struct {
	MeetingID    string
	Title        string
	Participants []string
	Turns        []conversation.Turn
	Transcript   []string // final transcript lines, speaker-attributed
	TopKeywords  []string // from the conversation summary
}

// Processor builds summaries. Safe for concurrent use; it holds no
// per-meeting state.
type Processor struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(logger *slog.Logger) *Processor {
	return &Processor{logger: logger, now: time.Now}
}

// ProcessCompletion extracts the summary from a completed meeting. It never
// fails on empty input: a meeting with no turns yields an empty but valid
// summary.
func (p *Processor) ProcessCompletion(ctx context.Context, req Request) (Summary, error) {
	select {
	case <-ctx.Done():
		return Summary{}, ctx.Err()
	default:
	}

	summary := Summary{
		MeetingID:   req.MeetingID,
		Title:       req.Title,
		GeneratedAt: p.now(),
		KeyPoints:   dedupeLines(extractKeyPoints(req.Turns)),
		Decisions:   dedupeLines(extractDecisions(req.Turns)),
		Blockers:    dedupeLines(extractBlockers(req.Turns)),
		TopTopics:   titleTopics(req.TopKeywords),
	}

	for _, turn := range req.Turns {
		item, ok := p.parseActionItem(turn, req)
		if !ok {
			continue
		}
		summary.ActionItems = append(summary.ActionItems, item)
	}

	p.logger.Info("post-meeting summary generated",
		"meeting_id", req.MeetingID,
		"key_points", len(summary.KeyPoints),
		"decisions", len(summary.Decisions),
		"action_items", len(summary.ActionItems))
	return summary, nil
}

// newActionItemID mints a stable unique identifier for an action item.
func newActionItemID() string {
	return "ai-" + uuid.NewString()
}
