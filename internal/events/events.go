// Package events carries transfer progress from the server to clients as server-sent events.
//
// Each frame is "event: <type>\ndata: <json>\n\n". Only a complete event is an authoritative end of a
// transfer; a stream that closes without a terminal event is reported as a lost connection.
package events

import (
	"encoding/json"
	"time"
)

// Type tags an event.
type Type string

const (
	TypeStart    Type = "start"
	TypeProgress Type = "progress"
	TypeStatus   Type = "status"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
)

// Terminal reports whether t ends a stream.
func (t Type) Terminal() bool {
	return t == TypeComplete || t == TypeError
}

// Event is one progress frame.
type Event struct {
	Type        Type            `json:"type"`
	Phase       string          `json:"phase,omitempty"`
	Transferred int64           `json:"transferred"`
	Total       int64           `json:"total,omitempty"`
	Percent     float64         `json:"percent"`
	Message     string          `json:"message,omitempty"`
	Status      string          `json:"status,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	Time        time.Time       `json:"time"`
}

// DecodeResult unmarshals the result payload of a complete event into v.
func (e Event) DecodeResult(v any) error {
	if len(e.Result) == 0 {
		return nil
	}
	return json.Unmarshal(e.Result, v)
}

// Reporter receives events as an operation advances.
type Reporter func(Event)

// Discard is a [Reporter] that drops every event.
func Discard(Event) {}
