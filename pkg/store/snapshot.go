package store

import (
	"encoding/json"

	"hearth/pkg/models"

	"github.com/cockroachdb/pebble"
)

// Snapshot captures the exact pre-mutation state of every entity and
// collection a mutation will touch. Restore is a total inverse: entities
// that existed come back byte-for-byte, entities that did not exist are
// deleted, and collection order plus pagination meta are reinstated.
type Snapshot struct {
	entities    []entitySnap
	collections []colSnap
}

type entitySnap struct {
	ref     Ref
	present bool
	value   []byte
}

type colSnap struct {
	ref         ColRef
	order       []string
	hasMeta     bool
	meta        models.PageMeta
	orderExists bool
}

// Snapshot reads the current values of the given refs and collections.
// The snapshot is held in memory by the caller for the duration of one
// mutation only.
func (s *Store) Snapshot(refs []Ref, cols []ColRef) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := &Snapshot{}
	for _, r := range refs {
		raw, ok, err := s.getLocked(entKey(r.Kind, r.ID))
		if err != nil {
			return nil, err
		}
		snap.entities = append(snap.entities, entitySnap{ref: r, present: ok, value: raw})
	}
	for _, c := range cols {
		order, err := s.orderLocked(c.Kind, c.Parent)
		if err != nil {
			return nil, err
		}
		cs := colSnap{ref: c, order: order, orderExists: order != nil}
		if raw, ok, err := s.getLocked(pageKey(c.Kind, c.Parent)); err != nil {
			return nil, err
		} else if ok {
			if json.Unmarshal(raw, &cs.meta) == nil {
				cs.hasMeta = true
			}
		}
		snap.collections = append(snap.collections, cs)
	}
	return snap, nil
}

// Restore puts every snapshotted entity and collection back verbatim,
// including entities the mutation never actually changed.
func (s *Store) Restore(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	var touched []Ref
	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		return errClosed
	}
	for _, e := range snap.entities {
		key := entKey(e.ref.Kind, e.ref.ID)
		var err error
		if e.present {
			err = s.db.Set(key, e.value, pebble.Sync)
		} else {
			err = s.db.Delete(key, pebble.Sync)
		}
		if err != nil {
			s.mu.Unlock()
			return err
		}
		touched = append(touched, e.ref)
	}
	for _, c := range snap.collections {
		if c.orderExists {
			if err := s.setOrderLocked(c.ref.Kind, c.ref.Parent, c.order); err != nil {
				s.mu.Unlock()
				return err
			}
		} else {
			if err := s.db.Delete(ordKey(c.ref.Kind, c.ref.Parent), pebble.Sync); err != nil {
				s.mu.Unlock()
				return err
			}
		}
		if c.hasMeta {
			b, _ := json.Marshal(c.meta)
			if err := s.db.Set(pageKey(c.ref.Kind, c.ref.Parent), b, pebble.Sync); err != nil {
				s.mu.Unlock()
				return err
			}
		} else {
			if err := s.db.Delete(pageKey(c.ref.Kind, c.ref.Parent), pebble.Sync); err != nil {
				s.mu.Unlock()
				return err
			}
		}
	}
	s.mu.Unlock()
	for _, r := range touched {
		recordWrite(r.Kind, "restore")
		s.notify(r.Kind, ChangeUpsert, r.ID)
	}
	return nil
}
