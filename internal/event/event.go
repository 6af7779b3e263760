// Package event defines the semantic window events emitted by an observation
// session and the filter deciding which of them reach the consumer.
package event

import (
	"fmt"
	"strings"

	"github.com/bryanchriswhite/windowobserver/internal/window"
)

// Kind is the closed set of semantic event kinds
type Kind uint8

const (
	Created Kind = iota
	Resized
	Moved
	Foregrounded
	Backgrounded
	Focused
	Unfocused
	Hidden
	Showed
	Closed

	numKinds
)

var kindNames = [numKinds]string{
	Created:      "created",
	Resized:      "resized",
	Moved:        "moved",
	Foregrounded: "foregrounded",
	Backgrounded: "backgrounded",
	Focused:      "focused",
	Unfocused:    "unfocused",
	Hidden:       "hidden",
	Showed:       "showed",
	Closed:       "closed",
}

// AllKinds returns every kind in declaration order
func AllKinds() []Kind {
	kinds := make([]Kind, 0, numKinds)
	for k := Kind(0); k < numKinds; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Valid reports whether k is one of the declared kinds
func (k Kind) Valid() bool {
	return k < numKinds
}

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// ParseKind parses a kind name case-insensitively. "shown" is accepted as an
// alias of "showed".
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "shown" {
		return Showed, nil
	}
	for k, n := range kindNames {
		if n == name {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown event kind %q", s)
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("invalid event kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Event is one semantic event. WindowID is only set for Closed, whose window
// no longer exists by the time the event is delivered.
type Event struct {
	Kind     Kind      `json:"kind" yaml:"kind"`
	WindowID window.ID `json:"window_id,omitempty" yaml:"window_id,omitempty"`
}

func (e Event) String() string {
	if e.Kind == Closed {
		return fmt.Sprintf("%s{window_id: %s}", e.Kind, e.WindowID)
	}
	return e.Kind.String()
}

// ClosedEvent builds the Closed event for id
func ClosedEvent(id window.ID) Event {
	return Event{Kind: Closed, WindowID: id}
}

// Payload pairs an event with its window when the window may still be queried.
// A nil Window means the window is not available (always the case for Closed).
type Payload struct {
	Window window.Handle
	Event  Event
}

// Available reports whether the payload carries a window
func (p Payload) Available() bool {
	return p.Window != nil
}

// Result is one element of the event stream: either a payload or an error
// raised while translating a native notification.
type Result struct {
	Payload Payload
	Err     error
}

// OK reports whether the result carries a payload
func (r Result) OK() bool {
	return r.Err == nil
}
