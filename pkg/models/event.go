package models

import (
	"encoding/json"
	"fmt"
)

// EventAction tags a push event. The set is closed: every consumer switch
// handles all three and rejects anything else.
type EventAction string

const (
	EventCreated EventAction = "created"
	EventUpdated EventAction = "updated"
	EventDeleted EventAction = "deleted"
)

// Event is a push-delivered change notification. Created/updated events
// carry the full entity; deleted events carry only the identifier.
// Delivery is at-least-once and unordered.
type Event struct {
	Action   EventAction     `json:"action"`
	Kind     Kind            `json:"kind"`
	Entity   json.RawMessage `json:"entity,omitempty"`
	EntityID string          `json:"entity_id,omitempty"`
}

// Validate checks the tagged shape: action and kind are from the closed
// sets, and the payload matches the action.
func (e *Event) Validate() error {
	switch e.Action {
	case EventCreated, EventUpdated:
		if len(e.Entity) == 0 {
			return fmt.Errorf("%s event without entity payload", e.Action)
		}
	case EventDeleted:
		if e.EntityID == "" {
			return fmt.Errorf("deleted event without entity id")
		}
	default:
		return fmt.Errorf("unknown event action: %q", e.Action)
	}
	if !Known(e.Kind) {
		return fmt.Errorf("unknown entity kind: %q", e.Kind)
	}
	return nil
}

// Topic names a push subscription for one entity, e.g. "thread:t1".
type Topic struct {
	Kind Kind
	ID   string
}

func (t Topic) String() string { return string(t.Kind) + ":" + t.ID }
