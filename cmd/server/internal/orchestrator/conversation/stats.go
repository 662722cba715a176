package conversation

import (
	"sort"
	"strings"
	"time"
)

// Stats is a read-only aggregation over the turn history.
type Stats struct {
	TotalMessages       int                 `json:"total_messages"`
	Participants        int                 `json:"participants"`
	TurnDistribution    map[string]int      `json:"turn_distribution"`
	MessageKinds        map[MessageKind]int `json:"message_kinds"`
	Duration            time.Duration       `json:"duration"`
	AverageResponseTime time.Duration       `json:"average_response_time"`
}

// Summary extends Stats with derived signals used by post-meeting reporting.
type Summary struct {
	Stats           Stats    `json:"statistics"`
	MostActive      string   `json:"most_active_participant"`
	TopKeywords     []string `json:"top_keywords"`
	EngagementLevel string   `json:"engagement_level"`
}

// GetStats aggregates message counts, per-speaker distribution, and timing.
// Safe to call concurrently with AddMessage.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statsLocked()
}

func (m *Manager) statsLocked() Stats {
	stats := Stats{
		TotalMessages:    len(m.history),
		Participants:     len(m.participants),
		TurnDistribution: make(map[string]int, len(m.participants)),
		MessageKinds:     make(map[MessageKind]int),
	}
	for _, p := range m.participants {
		stats.TurnDistribution[p] = m.state[p].turnCount
	}
	for _, t := range m.history {
		stats.MessageKinds[t.Kind]++
	}

	if len(m.history) > 1 {
		stats.Duration = m.history[len(m.history)-1].Timestamp.Sub(m.history[0].Timestamp)
	}

	// Average gap between turns by different speakers.
	var gaps time.Duration
	var n int
	for i := 1; i < len(m.history); i++ {
		if m.history[i].Speaker != m.history[i-1].Speaker {
			gaps += m.history[i].Timestamp.Sub(m.history[i-1].Timestamp)
			n++
		}
	}
	if n > 0 {
		stats.AverageResponseTime = gaps / time.Duration(n)
	}
	return stats
}

// GetSummary builds the conversation-level summary: most active participant,
// naive keyword extraction over all content, and a coarse engagement level.
func (m *Manager) GetSummary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.statsLocked()
	summary := Summary{
		Stats:           stats,
		TopKeywords:     m.topKeywordsLocked(10),
		EngagementLevel: m.engagementLocked(),
	}

	bestCount := -1
	for _, p := range m.participants {
		if c := m.state[p].turnCount; c > bestCount {
			summary.MostActive = p
			bestCount = c
		}
	}
	return summary
}

// topKeywordsLocked counts words longer than four characters across all
// content and returns the most frequent, alphabetical within equal counts.
func (m *Manager) topKeywordsLocked(limit int) []string {
	freq := make(map[string]int)
	for _, t := range m.history {
		for _, w := range strings.Fields(strings.ToLower(t.Content)) {
			w = strings.Trim(w, ".,!?;:\"'()")
			if len(w) > 4 {
				freq[w]++
			}
		}
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})
	if len(words) > limit {
		words = words[:limit]
	}
	return words
}

// engagementLocked scores participation breadth, message-kind diversity, and
// average content length into high/medium/low.
func (m *Manager) engagementLocked() string {
	if len(m.history) == 0 {
		return "no_activity"
	}

	spoke := 0
	for _, p := range m.participants {
		if m.state[p].turnCount > 0 {
			spoke++
		}
	}
	participation := float64(spoke) / float64(len(m.participants))

	kinds := make(map[MessageKind]bool)
	totalLen := 0
	for _, t := range m.history {
		kinds[t.Kind] = true
		totalLen += len(t.Content)
	}
	diversity := float64(len(kinds)) / 4.0
	length := float64(totalLen) / float64(len(m.history)) / 100.0
	if length > 1.0 {
		length = 1.0
	}

	switch score := (participation + diversity + length) / 3.0; {
	case score > 0.7:
		return "high"
	case score > 0.4:
		return "medium"
	default:
		return "low"
	}
}
