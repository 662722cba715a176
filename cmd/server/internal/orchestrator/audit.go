package orchestrator

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// TransitionAuditor records lifecycle transitions for after-the-fact review.
type TransitionAuditor interface {
	RecordTransition(meetingID string, from, to State, reason string)
}

// auditEntry is one JSONL record in the transition audit log.
type auditEntry struct {
	Timestamp time.Time `json:"timestamp"`
	MeetingID string    `json:"meeting_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
}

// FileAuditor appends transition records to a size-rotated JSONL file.
type FileAuditor struct {
	mu  sync.Mutex
	out io.WriteCloser
}

// NewFileAuditor creates a FileAuditor writing to path with rotation.
func NewFileAuditor(path string) *FileAuditor {
	return &FileAuditor{
		out: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    50, // MB
			MaxBackups: 5,
			MaxAge:     90, // days
			Compress:   true,
		},
	}
}

// RecordTransition implements TransitionAuditor. Write failures are dropped:
// auditing never blocks a lifecycle transition.
func (f *FileAuditor) RecordTransition(meetingID string, from, to State, reason string) {
	line, err := json.Marshal(auditEntry{
		Timestamp: time.Now(),
		MeetingID: meetingID,
		From:      from,
		To:        to,
		Reason:    reason,
	})
	if err != nil {
		return
	}
	line = append(line, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	f.out.Write(line)
}

// Close flushes and closes the underlying log file.
func (f *FileAuditor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Close()
}

// NopAuditor discards transitions; used in tests.
type NopAuditor struct{}

func (NopAuditor) RecordTransition(string, State, State, string) {}
