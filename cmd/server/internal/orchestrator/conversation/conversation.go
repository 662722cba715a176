// Package conversation decides message order inside one meeting. It keeps the
// ordered turn history, tracks per-participant activity, and selects the next
// speaker under one of four turn-taking strategies. It has no dependencies on
// the speech or platform layers; callers feed it turns and ask who should
// speak next.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MessageKind classifies a turn's content.
type MessageKind string

const (
	KindStatusUpdate MessageKind = "status_update"
	KindQuestion     MessageKind = "question"
	KindActionItem   MessageKind = "action_item"
	KindGeneral      MessageKind = "general"
)

// Strategy selects the turn-taking policy for a conversation.
type Strategy string

const (
	// StrategyRoundRobin cycles through participants in registration order.
	StrategyRoundRobin Strategy = "round_robin"

	// StrategyFacilitatorLed gives the facilitator the floor after every
	// other participant; the facilitator hands the floor on by mentioning a
	// participant by name.
	StrategyFacilitatorLed Strategy = "facilitator_led"

	// StrategyNaturalFlow prefers participants who have been silent longest,
	// with a strong boost for anyone mentioned in the last turn.
	StrategyNaturalFlow Strategy = "natural_flow"

	// StrategyReactive keeps everyone silent until a turn addresses a
	// participant by name or contains one of their registered trigger
	// keywords.
	StrategyReactive Strategy = "reactive"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyRoundRobin, StrategyFacilitatorLed, StrategyNaturalFlow, StrategyReactive:
		return Strategy(s), nil
	case "":
		return StrategyRoundRobin, nil
	default:
		return "", fmt.Errorf("unknown turn-taking strategy %q", s)
	}
}

// Sentinel errors for conversation state violations. Both indicate caller
// bugs or bad configuration and are returned synchronously.
var (
	ErrEmptyParticipantSet = errors.New("participant set is empty")
	ErrUnknownSpeaker      = errors.New("speaker is not a participant")
)

// Turn is one unit of conversational content attributed to a single speaker.
type Turn struct {
	Speaker     string      `json:"speaker"`
	Content     string      `json:"content"`
	Kind        MessageKind `json:"kind"`
	Timestamp   time.Time   `json:"timestamp"`
	ContextTags []string    `json:"context_tags,omitempty"`
}

// participantState tracks one participant's activity within the conversation.
type participantState struct {
	available    bool
	turnCount    int
	lastTurnIdx  int // index into history of this participant's latest turn, -1 if silent
	lastSpokenAt time.Time
}

// Manager coordinates turn-taking for one meeting. All methods are safe for
// concurrent use; reads (NextSpeaker, Stats, Summary) never block each other.
type Manager struct {
	mu           sync.RWMutex
	strategy     Strategy
	participants []string // registration order
	facilitator  string
	history      []Turn
	state        map[string]*participantState
	triggers     map[string][]string // participant -> lowercase trigger keywords
	startedAt    time.Time
}

// New creates a Manager with the given strategy. Call Initialize before
// adding turns.
func New(strategy Strategy) *Manager {
	return &Manager{
		strategy: strategy,
		state:    make(map[string]*participantState),
		triggers: make(map[string][]string),
	}
}

// Initialize sets the participant roster and resets all conversation state.
// The facilitator defaults to the first participant when empty. Returns
// ErrEmptyParticipantSet for a zero-length roster.
func (m *Manager) Initialize(participants []string, facilitator string) error {
	if len(participants) == 0 {
		return ErrEmptyParticipantSet
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if facilitator == "" {
		facilitator = participants[0]
	} else if !contains(participants, facilitator) {
		return fmt.Errorf("%w: facilitator %q", ErrUnknownSpeaker, facilitator)
	}

	m.participants = append([]string(nil), participants...)
	m.facilitator = facilitator
	m.history = nil
	m.state = make(map[string]*participantState, len(participants))
	for _, p := range participants {
		m.state[p] = &participantState{available: true, lastTurnIdx: -1}
	}
	m.startedAt = time.Now()
	return nil
}

// AddMessage appends a turn from a known participant and advances the turn
// counter. Returns ErrUnknownSpeaker for speakers outside the roster.
func (m *Manager) AddMessage(speaker, content string, kind MessageKind) error {
	return m.AddTurn(Turn{Speaker: speaker, Content: content, Kind: kind, Timestamp: time.Now()})
}

// AddTurn is AddMessage for a fully-formed turn (agents attach context tags).
func (m *Manager) AddTurn(turn Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.state[turn.Speaker]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSpeaker, turn.Speaker)
	}
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}
	if turn.Kind == "" {
		turn.Kind = KindGeneral
	}

	m.history = append(m.history, turn)
	st.turnCount++
	st.lastTurnIdx = len(m.history) - 1
	st.lastSpokenAt = turn.Timestamp
	return nil
}

// RegisterTrigger adds a trigger keyword for a participant under the reactive
// strategy. Matching is case-insensitive whole-word matching, same as name
// mentions.
func (m *Manager) RegisterTrigger(participant, keyword string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state[participant]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSpeaker, participant)
	}
	m.triggers[participant] = append(m.triggers[participant], strings.ToLower(keyword))
	return nil
}

// SetAvailability marks a participant (un)available. Unavailable participants
// are skipped by every strategy but keep their history.
func (m *Manager) SetAvailability(participant string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.state[participant]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSpeaker, participant)
	}
	st.available = available
	return nil
}

// Participants returns the roster in registration order.
func (m *Manager) Participants() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.participants...)
}

// Facilitator returns the designated facilitator.
func (m *Manager) Facilitator() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.facilitator
}

// History returns a copy of the ordered turn history.
func (m *Manager) History() []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Turn(nil), m.history...)
}

// LastTurn returns the most recent turn, if any.
func (m *Manager) LastTurn() (Turn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return Turn{}, false
	}
	return m.history[len(m.history)-1], true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// mentions reports whether content names the participant (or keyword) as a
// whole word, case-insensitive. Substring matching would let short names like
// "a" match inside ordinary words.
func mentions(content, name string) bool {
	name = strings.ToLower(name)
	for _, w := range strings.Fields(strings.ToLower(content)) {
		if strings.Trim(w, ".,!?;:\"'()") == name {
			return true
		}
	}
	return false
}
