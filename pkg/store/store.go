// Package store holds the normalized entity cache. It is the single shared
// mutable resource of the sync engine: every write path (request success,
// optimistic speculation, push event) lands on Upsert/Remove here, so the
// merge behavior cannot diverge between paths.
package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"hearth/pkg/logger"
	"hearth/pkg/models"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
)

// Ref identifies one cached entity.
type Ref struct {
	Kind models.Kind
	ID   string
}

// ColRef identifies one ordered per-parent collection, e.g. the messages of
// a thread. Parent may be empty for top-level collections (households).
type ColRef struct {
	Kind   models.Kind
	Parent string
}

// Store is an owned, injectable cache instance. Writes are synchronous and
// total; a write either fully applies or returns an error with nothing
// changed.
type Store struct {
	mu      sync.Mutex
	db      *pebble.DB
	resolve ConflictPolicy

	watchMu   sync.Mutex
	watchNext int
	watchers  map[models.Kind]map[int]WatchFunc
}

// Open opens (or creates) the cache at path. An empty path opens an
// in-memory cache that lives for the process only.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{}
	if path == "" {
		opts.FS = vfs.NewMem()
		path = "mem"
	}
	logger.Info("opening_cache", "path", path)
	db, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("cache_open_failed", "path", path, "error", err)
		return nil, err
	}
	return &Store{
		db:       db,
		resolve:  LastWriteWins,
		watchers: make(map[models.Kind]map[int]WatchFunc),
	}, nil
}

// Close closes the underlying cache.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("cache_closed")
	return err
}

func entKey(kind models.Kind, id string) []byte {
	return []byte("ent:" + string(kind) + ":" + id)
}

func ordKey(kind models.Kind, parent string) []byte {
	return []byte("ord:" + string(kind) + ":" + parent)
}

func pageKey(kind models.Kind, parent string) []byte {
	return []byte("page:" + string(kind) + ":" + parent)
}

// GetRaw returns the stored JSON for the entity, and whether it exists.
func (s *Store) GetRaw(kind models.Kind, id string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(entKey(kind, id))
}

// Get decodes the entity into out. The bool reports presence.
func (s *Store) Get(kind models.Kind, id string, out any) (bool, error) {
	raw, ok, err := s.GetRaw(kind, id)
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return true, nil
}

// Upsert replaces the stored value for (kind, id) wholesale. The incoming
// value wins over any existing value per the store's conflict policy; there
// is no field-level merge.
func (s *Store) Upsert(kind models.Kind, id string, v any) error {
	if id == "" {
		return fmt.Errorf("upsert %s: empty id", kind)
	}
	incoming, err := marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		return errClosed
	}
	existing, ok, err := s.getLocked(entKey(kind, id))
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if !ok {
		existing = nil
	}
	value := s.resolve(existing, incoming)
	if err := s.db.Set(entKey(kind, id), value, pebble.Sync); err != nil {
		s.mu.Unlock()
		logger.Error("upsert_failed", "kind", kind, "id", id, "error", err)
		return err
	}
	s.mu.Unlock()
	recordWrite(kind, "upsert")
	logger.Debug("entity_upserted", "kind", kind, "id", id)
	s.notify(kind, ChangeUpsert, id)
	return nil
}

// Remove deletes the entity and drops its id from every ordered collection
// of that kind. Removing an absent entity is a no-op.
func (s *Store) Remove(kind models.Kind, id string) error {
	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		return errClosed
	}
	if err := s.db.Delete(entKey(kind, id), pebble.Sync); err != nil {
		s.mu.Unlock()
		logger.Error("remove_failed", "kind", kind, "id", id, "error", err)
		return err
	}
	// scrub order membership across all parents of this kind
	prefix := []byte("ord:" + string(kind) + ":")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		s.mu.Unlock()
		return err
	}
	type patch struct {
		key []byte
		ids []string
	}
	var patches []patch
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		var idsHere []string
		if err := json.Unmarshal(iter.Value(), &idsHere); err != nil {
			continue
		}
		kept := idsHere[:0]
		changed := false
		for _, x := range idsHere {
			if x == id {
				changed = true
				continue
			}
			kept = append(kept, x)
		}
		if changed {
			k := append([]byte(nil), iter.Key()...)
			patches = append(patches, patch{key: k, ids: append([]string(nil), kept...)})
		}
	}
	ierr := iter.Error()
	_ = iter.Close()
	if ierr != nil {
		s.mu.Unlock()
		return ierr
	}
	for _, p := range patches {
		b, _ := json.Marshal(p.ids)
		if err := s.db.Set(p.key, b, pebble.Sync); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()
	recordWrite(kind, "remove")
	logger.Debug("entity_removed", "kind", kind, "id", id)
	s.notify(kind, ChangeRemove, id)
	return nil
}

// List returns the entities of the collection in stored order. Ids with no
// backing entity are skipped.
func (s *Store) List(kind models.Kind, parent string) ([]json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idsHere, err := s.orderLocked(kind, parent)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, 0, len(idsHere))
	for _, id := range idsHere {
		raw, ok, err := s.getLocked(entKey(kind, id))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, json.RawMessage(raw))
		}
	}
	return out, nil
}

// Order returns the id sequence of the collection.
func (s *Store) Order(kind models.Kind, parent string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orderLocked(kind, parent)
}

// SetOrder replaces the id sequence of the collection.
func (s *Store) SetOrder(kind models.Kind, parent string, idsHere []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setOrderLocked(kind, parent, idsHere)
}

// EnsureInOrder appends id to the collection if it is not already a member.
// Position of an existing member is never disturbed.
func (s *Store) EnsureInOrder(kind models.Kind, parent, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idsHere, err := s.orderLocked(kind, parent)
	if err != nil {
		return err
	}
	for _, x := range idsHere {
		if x == id {
			return nil
		}
	}
	return s.setOrderLocked(kind, parent, append(idsHere, id))
}

// Substitute rewrites the collection slot holding oldID to newID, removes
// the old entity record, and stores v under the new id. This is the temp-id
// swap used when a speculative entity is reconciled against the server's.
func (s *Store) Substitute(kind models.Kind, parent, oldID, newID string, v any) error {
	value, err := marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, newID, err)
	}
	s.mu.Lock()
	if s.db == nil {
		s.mu.Unlock()
		return errClosed
	}
	idsHere, err := s.orderLocked(kind, parent)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	// A push event for the server entity can land while the mutation is
	// in flight, putting newID in the order before the swap runs. In that
	// case the temp slot is dropped rather than rewritten so the id is
	// never listed twice.
	hasNew := false
	for _, x := range idsHere {
		if x == newID {
			hasNew = true
			break
		}
	}
	next := idsHere[:0]
	found := false
	for _, x := range idsHere {
		if x == oldID && oldID != newID {
			found = true
			if !hasNew {
				next = append(next, newID)
			}
			continue
		}
		next = append(next, x)
	}
	if !found && !hasNew {
		next = append(next, newID)
	}
	idsHere = next
	if err := s.setOrderLocked(kind, parent, idsHere); err != nil {
		s.mu.Unlock()
		return err
	}
	if oldID != newID {
		if err := s.db.Delete(entKey(kind, oldID), pebble.Sync); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if err := s.db.Set(entKey(kind, newID), value, pebble.Sync); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()
	recordWrite(kind, "upsert")
	logger.Debug("entity_substituted", "kind", kind, "old", oldID, "new", newID)
	s.notify(kind, ChangeUpsert, newID)
	return nil
}

// PageMeta returns the cached pagination trailer for the collection.
func (s *Store) PageMeta(kind models.Kind, parent string) (models.PageMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok, err := s.getLocked(pageKey(kind, parent))
	if err != nil || !ok {
		return models.PageMeta{}, err
	}
	var m models.PageMeta
	if err := json.Unmarshal(raw, &m); err != nil {
		return models.PageMeta{}, err
	}
	return m, nil
}

// SetPageMeta stores the pagination trailer for the collection.
func (s *Store) SetPageMeta(kind models.Kind, parent string, m models.PageMeta) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errClosed
	}
	return s.db.Set(pageKey(kind, parent), b, pebble.Sync)
}

// Each calls fn for every entity of the kind, in key order. Returning false
// from fn stops the walk.
func (s *Store) Each(kind models.Kind, fn func(id string, raw []byte) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return errClosed
	}
	prefix := []byte("ent:" + string(kind) + ":")
	iter, err := s.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		id := string(iter.Key()[len(prefix):])
		v := append([]byte(nil), iter.Value()...)
		if !fn(id, v) {
			break
		}
	}
	return iter.Error()
}

var errClosed = fmt.Errorf("cache not opened; call store.Open first")

func (s *Store) getLocked(key []byte) ([]byte, bool, error) {
	if s.db == nil {
		return nil, false, errClosed
	}
	v, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, true, nil
}

func (s *Store) orderLocked(kind models.Kind, parent string) ([]string, error) {
	raw, ok, err := s.getLocked(ordKey(kind, parent))
	if err != nil || !ok {
		return nil, err
	}
	var idsHere []string
	if err := json.Unmarshal(raw, &idsHere); err != nil {
		return nil, fmt.Errorf("decode order %s %s: %w", kind, parent, err)
	}
	return idsHere, nil
}

func (s *Store) setOrderLocked(kind models.Kind, parent string, idsHere []string) error {
	if s.db == nil {
		return errClosed
	}
	if idsHere == nil {
		idsHere = []string{}
	}
	b, err := json.Marshal(idsHere)
	if err != nil {
		return err
	}
	return s.db.Set(ordKey(kind, parent), b, pebble.Sync)
}

// marshal passes through raw JSON untouched so callers can re-store bytes
// they read earlier without a decode round trip.
func marshal(v any) ([]byte, error) {
	switch t := v.(type) {
	case json.RawMessage:
		return t, nil
	case []byte:
		return t, nil
	default:
		return json.Marshal(v)
	}
}
