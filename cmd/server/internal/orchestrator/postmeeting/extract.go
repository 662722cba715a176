package postmeeting

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/agentframe/agentmeet/cmd/server/internal/orchestrator/conversation"
)

var (
	importanceKeywords = []string{
		"important", "critical", "key", "main", "primary", "focus",
		"priority", "urgent", "deadline", "milestone", "goal",
		"completed", "finished", "delivered", "released",
	}
	decisionKeywords = []string{
		"decided", "decision", "agree", "agreed", "consensus",
		"will do", "going to", "plan to", "choose", "selected",
	}
	blockerKeywords = []string{
		"blocker", "blocked", "impediment", "stuck", "waiting for",
		"dependency", "issue", "problem", "challenge",
	}
	actionKeywords = []string{
		"action item", "todo", "follow up", "next step",
		"will do", "should do", "needs to", "take care of", "assign",
	}
)

const (
	maxKeyPoints = 10
	maxDecisions = 5
	minLineLen   = 20
)

// extractKeyPoints collects turns flagged by importance keywords plus every
// status update, speaker-attributed.
func extractKeyPoints(turns []conversation.Turn) []string {
	var points []string
	for _, t := range turns {
		if t.Speaker == "system" {
			continue
		}
		content := strings.TrimSpace(t.Content)
		lower := strings.ToLower(content)

		if containsAny(lower, importanceKeywords) && len(content) > minLineLen {
			points = append(points, fmt.Sprintf("%s: %s", t.Speaker, content))
		} else if t.Kind == conversation.KindStatusUpdate {
			points = append(points, fmt.Sprintf("Status - %s: %s", t.Speaker, content))
		}
		if len(points) >= maxKeyPoints {
			break
		}
	}
	return points
}

// extractDecisions collects turns containing decision language.
func extractDecisions(turns []conversation.Turn) []string {
	var decisions []string
	for _, t := range turns {
		if t.Speaker == "system" {
			continue
		}
		if containsAny(strings.ToLower(t.Content), decisionKeywords) {
			decisions = append(decisions, "Decision: "+strings.TrimSpace(t.Content))
		}
		if len(decisions) >= maxDecisions {
			break
		}
	}
	return decisions
}

// extractBlockers collects turns mentioning blockers, speaker-attributed.
func extractBlockers(turns []conversation.Turn) []string {
	var blockers []string
	for _, t := range turns {
		if t.Speaker == "system" {
			continue
		}
		if containsAny(strings.ToLower(t.Content), blockerKeywords) {
			blockers = append(blockers, fmt.Sprintf("%s: %s", t.Speaker, strings.TrimSpace(t.Content)))
		}
	}
	return blockers
}

var assignmentPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(\w+) will \w+`),
	regexp.MustCompile(`assign to (\w+)`),
	regexp.MustCompile(`(\w+) should \w+`),
	regexp.MustCompile(`(\w+) needs to \w+`),
}

// parseActionItem turns one action-flavored turn into a tracked ActionItem.
// The assignee defaults to the speaker unless an assignment phrase names
// another participant.
func (p *Processor) parseActionItem(turn conversation.Turn, req Request) (ActionItem, bool) {
	lower := strings.ToLower(turn.Content)
	if !containsAny(lower, actionKeywords) && turn.Kind != conversation.KindActionItem {
		return ActionItem{}, false
	}

	description := strings.TrimSpace(turn.Content)
	if len(description) < 10 {
		return ActionItem{}, false
	}

	assignee := turn.Speaker
	for _, pat := range assignmentPatterns {
		m := pat.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		if candidate := m[1]; containsString(req.Participants, candidate) {
			assignee = candidate
		}
		break
	}

	created := turn.Timestamp
	if created.IsZero() {
		created = p.now()
	}

	return ActionItem{
		ID:          newActionItemID(),
		Description: description,
		Assignee:    assignee,
		DueDate:     p.extractDueDate(lower),
		Priority:    determinePriority(lower),
		MeetingID:   req.MeetingID,
		CreatedAt:   created,
		Status:      "open",
	}, true
}

var (
	byWeekdayPattern = regexp.MustCompile(`by (\w+day)`)
	inDaysPattern    = regexp.MustCompile(`in (\d+) days?`)
	nextPattern      = regexp.MustCompile(`next (\w+)`)
	endOfPattern     = regexp.MustCompile(`end of (\w+)`)
)

// extractDueDate resolves relative due phrases against the current time.
// Without any phrase the deadline defaults by urgency: urgent wording gets a
// day, soft wording three days, everything else a week.
func (p *Processor) extractDueDate(lower string) time.Time {
	now := p.now()

	if m := byWeekdayPattern.FindStringSubmatch(lower); m != nil {
		return nextWeekday(now, m[1])
	}
	if m := inDaysPattern.FindStringSubmatch(lower); m != nil {
		days, err := strconv.Atoi(m[1])
		if err == nil {
			return now.AddDate(0, 0, days)
		}
	}
	if m := nextPattern.FindStringSubmatch(lower); m != nil {
		if m[1] == "week" {
			return now.AddDate(0, 0, 7)
		}
		if d, ok := weekdayByName(m[1]); ok {
			return nextWeekdayOf(now, d)
		}
	}
	if m := endOfPattern.FindStringSubmatch(lower); m != nil && m[1] == "week" {
		return nextWeekdayOf(now, time.Friday)
	}
	if strings.Contains(lower, "tomorrow") {
		return now.AddDate(0, 0, 1)
	}

	switch {
	case containsAny(lower, []string{"urgent", "asap", "immediately"}):
		return now.AddDate(0, 0, 1)
	case containsAny(lower, []string{"soon", "quickly"}):
		return now.AddDate(0, 0, 3)
	default:
		return now.AddDate(0, 0, 7)
	}
}

func weekdayByName(name string) (time.Weekday, bool) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, true
		}
	}
	return time.Sunday, false
}

// nextWeekday resolves "by friday" style phrases; unknown day names default
// to one week out.
func nextWeekday(now time.Time, name string) time.Time {
	if d, ok := weekdayByName(name); ok {
		return nextWeekdayOf(now, d)
	}
	return now.AddDate(0, 0, 7)
}

// nextWeekdayOf returns the next strictly-future occurrence of the weekday.
func nextWeekdayOf(now time.Time, day time.Weekday) time.Time {
	ahead := (int(day) - int(now.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return now.AddDate(0, 0, ahead)
}

// determinePriority infers priority from urgency wording.
func determinePriority(lower string) Priority {
	switch {
	case containsAny(lower, []string{"urgent", "critical", "asap", "immediately"}):
		return PriorityCritical
	case containsAny(lower, []string{"important", "high", "priority"}):
		return PriorityHigh
	case containsAny(lower, []string{"low", "nice to have", "when possible"}):
		return PriorityLow
	default:
		return PriorityMedium
	}
}

var topicCaser = cases.Title(language.English)

// titleTopics renders conversation keywords as title-cased topics.
func titleTopics(keywords []string) []string {
	topics := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		topics = append(topics, topicCaser.String(kw))
	}
	return topics
}

func containsAny(content string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
