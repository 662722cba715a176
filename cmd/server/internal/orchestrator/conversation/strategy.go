package conversation

// mentionBoost dominates any silence-based recency score so an explicit
// mention always wins under natural flow.
const mentionBoost = 1000

// NextSpeaker selects who should speak next under the current strategy. It is
// a pure read of conversation state: calling it repeatedly without new turns
// returns the same answer. The second return is false when no participant is
// eligible (reactive with no trigger, facilitator holding the floor without
// directing it) — callers wait rather than treating that as an error.
func (m *Manager) NextSpeaker() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch m.strategy {
	case StrategyRoundRobin:
		return m.nextRoundRobin()
	case StrategyFacilitatorLed:
		return m.nextFacilitatorLed()
	case StrategyNaturalFlow:
		return m.nextNaturalFlow()
	case StrategyReactive:
		return m.nextReactive()
	default:
		return m.nextRoundRobin()
	}
}

// nextRoundRobin walks the roster in registration order starting after the
// last speaker, skipping unavailable participants. Before any turn the first
// available participant opens.
func (m *Manager) nextRoundRobin() (string, bool) {
	start := 0
	if last, ok := m.lastTurnLocked(); ok {
		for i, p := range m.participants {
			if p == last.Speaker {
				start = i + 1
				break
			}
		}
	}

	for i := 0; i < len(m.participants); i++ {
		p := m.participants[(start+i)%len(m.participants)]
		if m.state[p].available {
			return p, true
		}
	}
	return "", false
}

// nextFacilitatorLed gives the facilitator the floor after every other
// participant's turn. When the facilitator spoke last they keep the floor
// until they yield by mentioning a participant by name.
func (m *Manager) nextFacilitatorLed() (string, bool) {
	last, ok := m.lastTurnLocked()
	if !ok {
		if m.state[m.facilitator].available {
			return m.facilitator, true
		}
		return "", false
	}

	if last.Speaker != m.facilitator {
		if m.state[m.facilitator].available {
			return m.facilitator, true
		}
		return "", false
	}

	for _, p := range m.participants {
		if p == m.facilitator || !m.state[p].available {
			continue
		}
		if mentions(last.Content, p) {
			return p, true
		}
	}
	return "", false
}

// nextNaturalFlow scores every available participant except the last speaker
// by how many turns have passed since they spoke (never-spoken participants
// score highest), adding mentionBoost when the last turn names them. Ties
// break by registration order.
func (m *Manager) nextNaturalFlow() (string, bool) {
	last, hasLast := m.lastTurnLocked()
	if !hasLast {
		return m.nextRoundRobin()
	}

	best := ""
	bestScore := -1
	for _, p := range m.participants {
		st := m.state[p]
		if p == last.Speaker || !st.available {
			continue
		}

		var score int
		if st.lastTurnIdx < 0 {
			score = len(m.history) + 1 // silent since start outranks everyone who spoke
		} else {
			score = len(m.history) - 1 - st.lastTurnIdx
		}
		if mentions(last.Content, p) {
			score += mentionBoost
		}

		if score > bestScore {
			best = p
			bestScore = score
		}
	}
	if best == "" {
		return "", false
	}
	return best, true
}

// nextReactive scans only the last turn: a participant is eligible when that
// turn names them or contains one of their registered trigger keywords. The
// last speaker is never selected by their own turn, which is what makes a
// trigger fire exactly once.
func (m *Manager) nextReactive() (string, bool) {
	last, ok := m.lastTurnLocked()
	if !ok {
		return "", false
	}

	for _, p := range m.participants {
		if p == last.Speaker || !m.state[p].available {
			continue
		}
		if mentions(last.Content, p) {
			return p, true
		}
		for _, kw := range m.triggers[p] {
			if mentions(last.Content, kw) {
				return p, true
			}
		}
	}
	return "", false
}

// lastTurnLocked is LastTurn for callers already holding m.mu.
func (m *Manager) lastTurnLocked() (Turn, bool) {
	if len(m.history) == 0 {
		return Turn{}, false
	}
	return m.history[len(m.history)-1], true
}
