// Package optimistic orchestrates speculative local writes around mutating
// calls: snapshot, speculative apply, deduplicated dispatch, then
// reconcile on success or total rollback on any failure.
package optimistic

import (
	"context"
	"encoding/json"
	"fmt"

	"hearth/pkg/logger"
	"hearth/pkg/single"
	"hearth/pkg/status"
	"hearth/pkg/store"
)

// Mutation describes one mutating operation. Touches and Collections must
// name every entity and ordered collection the Speculate and Reconcile
// steps may write; the snapshot taken from them is the rollback unit.
type Mutation struct {
	// Key is the namespaced operation key ("messages.create"). It names
	// the tracker record.
	Key string

	// FlightKey discriminates the dedupe flight within Key. Set it to the
	// entity id (the temp id for creates) so that a double-fire of the
	// same mutation attaches to the in-flight request while mutations
	// carrying distinct payloads never coalesce. When empty, Dispatch
	// runs outside the dedupe group.
	FlightKey string

	Touches     []store.Ref
	Collections []store.ColRef

	// Speculate applies the local guess before any network exchange.
	// Optional: read-modify-write mutations without a sensible guess may
	// omit it. An error here surfaces as a failed operation after the
	// snapshot is restored.
	Speculate func(s *store.Store) error

	// Dispatch performs the request and returns the authoritative
	// payload. It runs inside the dedupe group keyed by Key and
	// FlightKey.
	Dispatch func(ctx context.Context) (json.RawMessage, error)

	// Reconcile replaces the speculative state with the server's. This is
	// where temporary ids are swapped for server-issued ones.
	Reconcile func(s *store.Store, payload json.RawMessage) error
}

// Engine wires the store, tracker, and dedupe group. One engine serves the
// whole client; mutations on different keys interleave freely.
type Engine struct {
	store   *store.Store
	tracker *status.Tracker
	flights *single.Group
}

func NewEngine(st *store.Store, tr *status.Tracker, fl *single.Group) *Engine {
	return &Engine{store: st, tracker: tr, flights: fl}
}

// Run executes the full protocol for m. On any error — validation,
// transport, server rejection, or cancellation — every snapshotted entity
// is restored verbatim and the tracker records the failure. The error is
// always rethrown to the caller; nothing is swallowed.
func (e *Engine) Run(ctx context.Context, m Mutation) (json.RawMessage, error) {
	if m.Key == "" {
		return nil, fmt.Errorf("mutation without operation key")
	}
	e.tracker.Begin(m.Key)

	snap, err := e.store.Snapshot(m.Touches, m.Collections)
	if err != nil {
		e.tracker.Fail(m.Key, err.Error())
		return nil, err
	}

	if m.Speculate != nil {
		if err := m.Speculate(e.store); err != nil {
			e.rollback(m.Key, snap, err)
			return nil, err
		}
	}

	var payload json.RawMessage
	if m.FlightKey != "" {
		payload, err = single.Do(e.flights, m.Key+":"+m.FlightKey, func() (json.RawMessage, error) {
			return m.Dispatch(ctx)
		})
	} else {
		payload, err = m.Dispatch(ctx)
	}
	if err != nil {
		e.rollback(m.Key, snap, err)
		return nil, err
	}

	if m.Reconcile != nil {
		if err := m.Reconcile(e.store, payload); err != nil {
			e.rollback(m.Key, snap, err)
			return nil, err
		}
	}
	e.tracker.Succeed(m.Key)
	return payload, nil
}

func (e *Engine) rollback(key string, snap *store.Snapshot, cause error) {
	if rerr := e.store.Restore(snap); rerr != nil {
		// the cache may now hold the speculative value; surface loudly
		logger.Error("rollback_failed", "key", key, "error", rerr, "cause", cause)
	} else {
		logger.Info("mutation_rolled_back", "key", key, "cause", cause)
	}
	e.tracker.Fail(key, cause.Error())
}
