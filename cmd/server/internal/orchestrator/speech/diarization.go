package speech

import "fmt"

// speakerMap translates provider-local speaker tags into meeting participant
// identifiers. The matching heuristic is deliberately simple and
// deterministic:
//
//  1. A pending voice-print hint (SetMeetingSpeaker) binds the next unseen
//     tag to the hinted participant.
//  2. Otherwise the first unseen tag binds to the first unbound participant
//     in registration order (first speaker to speak is assumed to be the
//     first participant).
//  3. Once every participant is bound, further tags become "unknown-1",
//     "unknown-2", ... in arrival order.
//
// Bindings never change once made; partial-result revisions for a tag keep
// their original attribution.
type speakerMap struct {
	participants []string          // registration order
	byTag        map[string]string // provider tag -> participant or unknown-N
	bound        map[string]bool   // participants already bound to a tag
	hints        []string          // pending voice-print hints, FIFO
	unknownSeq   int
}

func newSpeakerMap(participants []string) *speakerMap {
	return &speakerMap{
		participants: participants,
		byTag:        make(map[string]string),
		bound:        make(map[string]bool),
	}
}

// hint queues a voice-print hint for the next unseen provider tag.
func (s *speakerMap) hint(participant string) {
	s.hints = append(s.hints, participant)
}

// resolve returns the participant identifier for a provider tag, binding the
// tag on first sight.
func (s *speakerMap) resolve(tag string) string {
	if mapped, ok := s.byTag[tag]; ok {
		return mapped
	}

	// Pending hints take precedence over the positional heuristic.
	for len(s.hints) > 0 {
		h := s.hints[0]
		s.hints = s.hints[1:]
		if !s.bound[h] {
			s.byTag[tag] = h
			s.bound[h] = true
			return h
		}
	}

	for _, p := range s.participants {
		if !s.bound[p] {
			s.byTag[tag] = p
			s.bound[p] = true
			return p
		}
	}

	s.unknownSeq++
	label := fmt.Sprintf("unknown-%d", s.unknownSeq)
	s.byTag[tag] = label
	return label
}
