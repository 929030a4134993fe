package store

// ConflictPolicy decides the stored value when an incoming write lands on an
// existing entity. Both the optimistic reconcile path and the push-event
// path resolve through the store's single policy, so the behavior is
// auditable in one place and swappable without touching call sites.
type ConflictPolicy func(existing, incoming []byte) []byte

// LastWriteWins is the default policy: whichever write settles last fully
// supersedes the stored value. A push event applied while a mutation for
// the same entity is pending will itself be overwritten when that mutation
// reconciles. This ordering is deliberate, not vector-clocked.
func LastWriteWins(existing, incoming []byte) []byte {
	return incoming
}

// SetConflictPolicy replaces the store's conflict policy. Passing nil
// restores LastWriteWins.
func (s *Store) SetConflictPolicy(p ConflictPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		p = LastWriteWins
	}
	s.resolve = p
}
