// Package models holds the entity records the sync engine caches and the
// wire shapes shared with the coordination server.
package models

// Kind names an entity type. The set is closed; consumer switches handle
// every kind and reject anything else.
type Kind string

const (
	KindThread    Kind = "thread"
	KindMessage   Kind = "message"
	KindPoll      Kind = "poll"
	KindHousehold Kind = "household"
	KindMember    Kind = "member"
)

// Kinds returns every known kind, in a stable order.
func Kinds() []Kind {
	return []Kind{KindThread, KindMessage, KindPoll, KindHousehold, KindMember}
}

// Known reports whether k is a recognized kind.
func Known(k Kind) bool {
	switch k {
	case KindThread, KindMessage, KindPoll, KindHousehold, KindMember:
		return true
	}
	return false
}
