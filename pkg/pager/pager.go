// Package pager merges cursor-delimited pages into the entity cache.
// Ordering is whatever the server delivered; cursors are opaque and never
// interpreted here.
package pager

import (
	"encoding/json"
	"fmt"

	"hearth/pkg/logger"
	"hearth/pkg/models"
	"hearth/pkg/store"
)

// Item is one page entry: the entity id plus its value (raw server JSON or
// a decoded model).
type Item struct {
	ID    string
	Value any
}

// Merger writes pages into a store instance.
type Merger struct {
	store *store.Store
}

func NewMerger(st *store.Store) *Merger {
	return &Merger{store: st}
}

// MergePage applies one page for (kind, parent). cursor is the cursor the
// page was requested with: empty means an initial fetch, which replaces the
// collection wholesale; otherwise items append. An item whose id is already
// present replaces the stored value in place without moving — refresh, not
// duplication.
func (m *Merger) MergePage(kind models.Kind, parent, cursor string, items []Item, meta models.PageMeta) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	for _, it := range items {
		if it.ID == "" {
			return fmt.Errorf("merge page %s %s: item without id", kind, parent)
		}
	}

	var order []string
	if cursor == "" {
		order = make([]string, 0, len(items))
		for _, it := range items {
			order = append(order, it.ID)
		}
	} else {
		existing, err := m.store.Order(kind, parent)
		if err != nil {
			return err
		}
		order = existing
		known := make(map[string]struct{}, len(existing))
		for _, id := range existing {
			known[id] = struct{}{}
		}
		for _, it := range items {
			if _, ok := known[it.ID]; ok {
				continue
			}
			known[it.ID] = struct{}{}
			order = append(order, it.ID)
		}
	}

	// entity values always land via the single upsert primitive
	for _, it := range items {
		if err := m.store.Upsert(kind, it.ID, it.Value); err != nil {
			return err
		}
	}
	if err := m.store.SetOrder(kind, parent, order); err != nil {
		return err
	}
	if err := m.store.SetPageMeta(kind, parent, meta); err != nil {
		return err
	}
	logger.Debug("page_merged", "kind", kind, "parent", parent, "count", len(items), "has_more", meta.HasMore)
	return nil
}

// DecodeItems converts raw page entries into merge items by extracting the
// "id" field. Entries without an id are rejected.
func DecodeItems(raw []json.RawMessage) ([]Item, error) {
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(r, &probe); err != nil {
			return nil, fmt.Errorf("decode page item: %w", err)
		}
		if probe.ID == "" {
			return nil, fmt.Errorf("page item without id")
		}
		items = append(items, Item{ID: probe.ID, Value: r})
	}
	return items, nil
}
