package model

import (
	"encoding/json"
	"fmt"
)

// EventKind is the closed set of server-to-client real-time events.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventOnlineUsers
	EventNewMessage
	EventNotification
)

var eventNames = map[EventKind]string{
	EventOnlineUsers:  "getOnlineUsers",
	EventNewMessage:   "newMessage",
	EventNotification: "notification",
}

// String returns the wire name of the event.
func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler.
func (k EventKind) MarshalText() ([]byte, error) {
	name, ok := eventNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown event kind %d", k)
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *EventKind) UnmarshalText(b []byte) error {
	parsed, err := ParseEventKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseEventKind maps a wire name back to its EventKind.
func ParseEventKind(name string) (EventKind, error) {
	for k, n := range eventNames {
		if n == name {
			return k, nil
		}
	}
	return EventUnknown, fmt.Errorf("unknown event %q", name)
}

// Envelope is the frame written to a live connection.
type Envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// NewEnvelope encodes payload under kind.
func NewEnvelope(kind EventKind, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	return json.Marshal(Envelope{Event: kind, Data: data})
}
