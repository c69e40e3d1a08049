package events

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Type is the closed set of lifecycle event kinds. Payload fields on [Event]
// are typed per kind; there are no dynamic payloads.
type Type uint8

const (
	// TypeWarning signals the session is close to expiry. TimeRemaining is set.
	TypeWarning Type = iota
	// TypeExpired signals the session ended (expiry, idle timeout, refresh
	// failure, or a peer client logging out).
	TypeExpired
	// TypeExtended signals a user-initiated extension succeeded. TimeRemaining is set.
	TypeExtended
	// TypeRefreshed signals a successful token refresh. TimeRemaining is set.
	TypeRefreshed
	// TypeSuspicious carries advisory anomaly reasons. Reasons is set.
	TypeSuspicious
	// TypeMultipleClients signals another live client was detected. PeerID is set.
	TypeMultipleClients
)

func (t Type) String() string {
	switch t {
	case TypeWarning:
		return "session_warning"
	case TypeExpired:
		return "session_expired"
	case TypeExtended:
		return "session_extended"
	case TypeRefreshed:
		return "token_refreshed"
	case TypeSuspicious:
		return "suspicious_activity"
	case TypeMultipleClients:
		return "multiple_clients"
	default:
		return "unknown"
	}
}

// Event is the canonical lifecycle event model used by internal dispatching
// and root APIs. Events are transient; they are never persisted.
type Event struct {
	Timestamp     time.Time     `json:"timestamp"`
	Type          Type          `json:"type"`
	SessionID     string        `json:"session_id,omitempty"`
	TimeRemaining time.Duration `json:"time_remaining,omitempty"`
	Reasons       []string      `json:"reasons,omitempty"`
	PeerID        string        `json:"peer_id,omitempty"`
}

// Sink receives emitted lifecycle events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops lifecycle events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes lifecycle events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event Event) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}
