package store

import "hearth/pkg/models"

// ChangeOp tags a store notification.
type ChangeOp string

const (
	ChangeUpsert ChangeOp = "upsert"
	ChangeRemove ChangeOp = "remove"
)

// WatchFunc receives change notifications for one entity kind. Callbacks
// run synchronously after the write commits, outside the store lock, and
// must not block. Derived views (e.g. "messages of thread X") re-read the
// store from here instead of caching their own copies.
type WatchFunc func(op ChangeOp, id string)

// Watch registers fn for changes to the kind. The returned cancel func
// unregisters it.
func (s *Store) Watch(kind models.Kind, fn WatchFunc) func() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watchers[kind] == nil {
		s.watchers[kind] = make(map[int]WatchFunc)
	}
	s.watchNext++
	token := s.watchNext
	s.watchers[kind][token] = fn
	return func() {
		s.watchMu.Lock()
		defer s.watchMu.Unlock()
		delete(s.watchers[kind], token)
	}
}

func (s *Store) notify(kind models.Kind, op ChangeOp, id string) {
	s.watchMu.Lock()
	fns := make([]WatchFunc, 0, len(s.watchers[kind]))
	for _, fn := range s.watchers[kind] {
		fns = append(fns, fn)
	}
	s.watchMu.Unlock()
	for _, fn := range fns {
		fn(op, id)
	}
}
