package strategy

import (
	"sync"

	"ma-crossover-bot-go/internal/reporter"
)

// LogSink receives the human-readable event and summary text.
type LogSink = reporter.Sink

type nopSink struct{}

func (nopSink) AddMessage(string) {}

// MemorySink keeps the most recent messages in memory.
type MemorySink struct {
	mu       sync.Mutex
	limit    int
	messages []string
}

// NewMemorySink creates a sink that retains at most limit messages. A limit of
// zero or less keeps everything.
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{limit: limit}
}

// AddMessage implements LogSink.
func (m *MemorySink) AddMessage(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
	if m.limit > 0 && len(m.messages) > m.limit {
		m.messages = append(m.messages[:0:0], m.messages[len(m.messages)-m.limit:]...)
	}
}

// Messages returns a copy of the retained messages, oldest first.
func (m *MemorySink) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	copy(out, m.messages)
	return out
}

// Tail returns up to n of the newest messages.
func (m *MemorySink) Tail(n int) []string {
	msgs := m.Messages()
	if n <= 0 || n >= len(msgs) {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// MultiSink fans each message out to every sink.
type MultiSink []LogSink

// AddMessage implements LogSink.
func (ms MultiSink) AddMessage(text string) {
	for _, s := range ms {
		s.AddMessage(text)
	}
}
