// Package realtime reconciles push-delivered events into the entity cache.
// Events take the exact store write path the optimistic engine uses, so
// there is no second copy of the merge logic; applying the same event twice
// is harmless.
package realtime

import (
	"encoding/json"
	"fmt"

	"hearth/pkg/logger"
	"hearth/pkg/models"
	"hearth/pkg/store"
)

// Applier applies events to one store instance.
type Applier struct {
	store *store.Store
}

func NewApplier(st *store.Store) *Applier {
	return &Applier{store: st}
}

// Apply dispatches exhaustively over the event's tagged action and kind.
// Created and updated both land as a whole-value upsert (last write wins);
// deleted removes the entity and its collection memberships.
func (a *Applier) Apply(ev models.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	switch ev.Action {
	case models.EventCreated, models.EventUpdated:
		return a.applyUpsert(ev)
	case models.EventDeleted:
		if err := a.store.Remove(ev.Kind, ev.EntityID); err != nil {
			return err
		}
		logger.Debug("event_applied", "action", string(ev.Action), "kind", string(ev.Kind), "id", ev.EntityID)
		return nil
	}
	return fmt.Errorf("unknown event action: %q", ev.Action)
}

func (a *Applier) applyUpsert(ev models.Event) error {
	id, parent, err := decodeEntity(ev.Kind, ev.Entity)
	if err != nil {
		return err
	}
	if err := a.store.Upsert(ev.Kind, id, ev.Entity); err != nil {
		return err
	}
	// membership in the visible ordered collection; position of an entity
	// already listed is untouched
	if hasCollection(ev.Kind) {
		if err := a.store.EnsureInOrder(ev.Kind, parent, id); err != nil {
			return err
		}
	}
	logger.Debug("event_applied", "action", string(ev.Action), "kind", string(ev.Kind), "id", id)
	return nil
}

// decodeEntity checks the payload shape for the kind and extracts the id
// and the parent collection key. The switch is exhaustive over the closed
// kind set.
func decodeEntity(kind models.Kind, raw json.RawMessage) (id, parent string, err error) {
	switch kind {
	case models.KindMessage:
		var m models.Message
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", "", fmt.Errorf("decode message event: %w", err)
		}
		return m.ID, m.Thread, checkID(m.ID, kind)
	case models.KindThread:
		var t models.Thread
		if err := json.Unmarshal(raw, &t); err != nil {
			return "", "", fmt.Errorf("decode thread event: %w", err)
		}
		return t.ID, t.Household, checkID(t.ID, kind)
	case models.KindPoll:
		var p models.Poll
		if err := json.Unmarshal(raw, &p); err != nil {
			return "", "", fmt.Errorf("decode poll event: %w", err)
		}
		return p.ID, "", checkID(p.ID, kind)
	case models.KindHousehold:
		var h models.Household
		if err := json.Unmarshal(raw, &h); err != nil {
			return "", "", fmt.Errorf("decode household event: %w", err)
		}
		return h.ID, "", checkID(h.ID, kind)
	case models.KindMember:
		var m models.Member
		if err := json.Unmarshal(raw, &m); err != nil {
			return "", "", fmt.Errorf("decode member event: %w", err)
		}
		return m.ID, m.Household, checkID(m.ID, kind)
	}
	return "", "", fmt.Errorf("unknown entity kind: %q", kind)
}

func checkID(id string, kind models.Kind) error {
	if id == "" {
		return fmt.Errorf("%s event without id", kind)
	}
	return nil
}

// Polls hang off their message rather than a list view, so they carry no
// ordered collection.
func hasCollection(kind models.Kind) bool {
	return kind != models.KindPoll
}
