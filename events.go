package authsession

import (
	"context"
	"io"
	"time"

	internalevents "github.com/platewise/authsession/internal/events"
)

// EventType identifies a session lifecycle event kind. The set is closed;
// each kind populates a fixed, typed subset of [Event] fields.
type EventType = internalevents.Type

const (
	// EventSessionWarning is an exported constant or variable used by the session kit.
	EventSessionWarning = internalevents.TypeWarning
	// EventSessionExpired is an exported constant or variable used by the session kit.
	EventSessionExpired = internalevents.TypeExpired
	// EventSessionExtended is an exported constant or variable used by the session kit.
	EventSessionExtended = internalevents.TypeExtended
	// EventTokenRefreshed is an exported constant or variable used by the session kit.
	EventTokenRefreshed = internalevents.TypeRefreshed
	// EventSuspiciousActivity is an exported constant or variable used by the session kit.
	EventSuspiciousActivity = internalevents.TypeSuspicious
	// EventMultipleClients is an exported constant or variable used by the session kit.
	EventMultipleClients = internalevents.TypeMultipleClients
)

// Event is a transient session lifecycle notification consumed by the UI layer.
type Event = internalevents.Event

// EventSink receives [Event] values from the client's event dispatcher.
type EventSink = internalevents.Sink

// NoOpEventSink is an [EventSink] that silently discards all events.
type NoOpEventSink = internalevents.NoOpSink

// ChannelEventSink is a buffered channel-based [EventSink].
type ChannelEventSink = internalevents.ChannelSink

// JSONWriterEventSink is an [EventSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterEventSink = internalevents.JSONWriterSink

// NewChannelEventSink creates a [ChannelEventSink] with the given buffer capacity.
func NewChannelEventSink(buffer int) *ChannelEventSink {
	return internalevents.NewChannelSink(buffer)
}

// NewJSONWriterEventSink creates a [JSONWriterEventSink] that writes to w.
func NewJSONWriterEventSink(w io.Writer) *JSONWriterEventSink {
	return internalevents.NewJSONWriterSink(w)
}

type eventDispatcher = internalevents.Dispatcher

func newEventDispatcher(cfg EventConfig, sink EventSink) *eventDispatcher {
	return internalevents.NewDispatcher(internalevents.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}

func emitEvent(d *eventDispatcher, event Event) {
	if d == nil {
		return
	}
	d.Emit(context.Background(), event)
}

func newEvent(now time.Time, t EventType, sessionID string) Event {
	return Event{
		Timestamp: now,
		Type:      t,
		SessionID: sessionID,
	}
}
