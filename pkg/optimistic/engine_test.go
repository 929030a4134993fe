package optimistic

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"hearth/pkg/models"
	"hearth/pkg/single"
	"hearth/pkg/status"
	"hearth/pkg/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, *status.Tracker) {
	t.Helper()
	st, err := store.Open("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	tr := status.NewTracker()
	return NewEngine(st, tr, &single.Group{}), st, tr
}

func TestEngine_SuccessReconciles(t *testing.T) {
	e, st, tr := newTestEngine(t)

	tempID := "tmp-1"
	serverJSON := json.RawMessage(`{"id":"msg-42","thread":"t1","content":"Hello"}`)

	payload, err := e.Run(context.Background(), Mutation{
		Key:         "messages.create",
		Touches:     []store.Ref{{Kind: models.KindMessage, ID: tempID}},
		Collections: []store.ColRef{{Kind: models.KindMessage, Parent: "t1"}},
		Speculate: func(s *store.Store) error {
			if err := s.Upsert(models.KindMessage, tempID, models.Message{ID: tempID, Thread: "t1", Content: "Hello"}); err != nil {
				return err
			}
			return s.EnsureInOrder(models.KindMessage, "t1", tempID)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return serverJSON, nil
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return s.Substitute(models.KindMessage, "t1", tempID, "msg-42", payload)
		},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if string(payload) != string(serverJSON) {
		t.Fatalf("payload: %s", payload)
	}

	// exactly one entry, under the server id, no temp leftover
	order, _ := st.Order(models.KindMessage, "t1")
	if len(order) != 1 || order[0] != "msg-42" {
		t.Fatalf("order after reconcile: %v", order)
	}
	if ok, _ := st.Get(models.KindMessage, tempID, nil); ok {
		t.Fatalf("temp entity survived reconcile")
	}
	if state, _ := tr.Get("messages.create"); state != status.Succeeded {
		t.Fatalf("tracker: %s", state)
	}
}

// Two in-flight mutations of the same operation class carrying distinct
// payloads must each reach the server. Only flights sharing the FlightKey
// may coalesce.
func TestEngine_DistinctFlightKeysBothDispatch(t *testing.T) {
	e, _, _ := newTestEngine(t)

	var dispatched atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	mut := func(flight string) Mutation {
		return Mutation{
			Key:       "messages.create",
			FlightKey: flight,
			Dispatch: func(ctx context.Context) (json.RawMessage, error) {
				dispatched.Add(1)
				started <- struct{}{}
				<-release
				return json.RawMessage(`{"id":"` + flight + `"}`), nil
			},
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, flight := range []string{"tmp-1", "tmp-2"} {
		i, flight := i, flight
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = e.Run(context.Background(), mut(flight))
		}()
	}
	// both dispatches are in flight at once, so neither attached to the
	// other's request
	<-started
	<-started
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if n := dispatched.Load(); n != 2 {
		t.Fatalf("want 2 dispatches for 2 distinct payloads, got %d", n)
	}
}

func TestEngine_EmptyFlightKeySkipsDedupe(t *testing.T) {
	e, _, _ := newTestEngine(t)

	var dispatched atomic.Int32
	started := make(chan struct{}, 2)
	release := make(chan struct{})

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.Run(context.Background(), Mutation{
				Key: "session.refresh",
				Dispatch: func(ctx context.Context) (json.RawMessage, error) {
					dispatched.Add(1)
					started <- struct{}{}
					<-release
					return json.RawMessage(`{}`), nil
				},
			})
		}()
	}
	<-started
	<-started
	close(release)
	wg.Wait()

	if n := dispatched.Load(); n != 2 {
		t.Fatalf("want 2 dispatches, got %d", n)
	}
}

func TestEngine_DispatchFailureRollsBackTotally(t *testing.T) {
	e, st, tr := newTestEngine(t)

	// pre-state the mutation will disturb
	if err := st.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "original"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := st.SetOrder(models.KindMessage, "t1", []string{"m1"}); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	boom := errors.New("network unreachable")
	_, err := e.Run(context.Background(), Mutation{
		Key: "messages.create",
		Touches: []store.Ref{
			{Kind: models.KindMessage, ID: "m1"},
			{Kind: models.KindMessage, ID: "tmp-2"},
		},
		Collections: []store.ColRef{{Kind: models.KindMessage, Parent: "t1"}},
		Speculate: func(s *store.Store) error {
			if err := s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "clobbered"}); err != nil {
				return err
			}
			if err := s.Upsert(models.KindMessage, "tmp-2", models.Message{ID: "tmp-2"}); err != nil {
				return err
			}
			return s.EnsureInOrder(models.KindMessage, "t1", "tmp-2")
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return nil, boom
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error must be rethrown, got %v", err)
	}

	var got models.Message
	if _, err := st.Get(models.KindMessage, "m1", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "original" {
		t.Fatalf("m1 not restored: %q", got.Content)
	}
	if ok, _ := st.Get(models.KindMessage, "tmp-2", nil); ok {
		t.Fatalf("speculative entity survived rollback")
	}
	order, _ := st.Order(models.KindMessage, "t1")
	if len(order) != 1 || order[0] != "m1" {
		t.Fatalf("order not restored: %v", order)
	}
	if state, msg := tr.Get("messages.create"); state != status.Failed || msg != boom.Error() {
		t.Fatalf("tracker: %s %q", state, msg)
	}
}

func TestEngine_SpeculateFailureRollsBack(t *testing.T) {
	e, st, tr := newTestEngine(t)

	bad := errors.New("content required")
	dispatched := false
	_, err := e.Run(context.Background(), Mutation{
		Key:     "messages.create",
		Touches: []store.Ref{{Kind: models.KindMessage, ID: "tmp-3"}},
		Speculate: func(s *store.Store) error {
			// a partial write before the validation error must also revert
			if err := s.Upsert(models.KindMessage, "tmp-3", models.Message{ID: "tmp-3"}); err != nil {
				return err
			}
			return bad
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			dispatched = true
			return nil, nil
		},
	})
	if !errors.Is(err, bad) {
		t.Fatalf("error: %v", err)
	}
	if dispatched {
		t.Fatalf("dispatch must not run after failed speculation")
	}
	if ok, _ := st.Get(models.KindMessage, "tmp-3", nil); ok {
		t.Fatalf("partial speculative write survived")
	}
	if state, _ := tr.Get("messages.create"); state != status.Failed {
		t.Fatalf("tracker: %s", state)
	}
}

func TestEngine_ReconcileFailureRollsBack(t *testing.T) {
	e, st, _ := newTestEngine(t)

	bad := errors.New("malformed payload")
	_, err := e.Run(context.Background(), Mutation{
		Key:     "messages.update",
		Touches: []store.Ref{{Kind: models.KindMessage, ID: "m1"}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "guess"})
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return bad
		},
	})
	if !errors.Is(err, bad) {
		t.Fatalf("error: %v", err)
	}
	if ok, _ := st.Get(models.KindMessage, "m1", nil); ok {
		t.Fatalf("speculative write survived reconcile failure")
	}
}

func TestEngine_CancellationRollsBack(t *testing.T) {
	e, st, _ := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := e.Run(ctx, Mutation{
		Key:     "messages.delete",
		Touches: []store.Ref{{Kind: models.KindMessage, ID: "m1"}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Deleted: true})
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			cancel()
			return nil, ctx.Err()
		},
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error: %v", err)
	}
	if ok, _ := st.Get(models.KindMessage, "m1", nil); ok {
		t.Fatalf("speculative delete survived cancellation")
	}
}

func TestEngine_MissingKeyRejected(t *testing.T) {
	e, _, _ := newTestEngine(t)
	if _, err := e.Run(context.Background(), Mutation{}); err == nil {
		t.Fatalf("expected error for mutation without key")
	}
}

// A push event landing between speculation and rollback is overwritten by
// the restore. Last write wins; the next refetch converges.
func TestEngine_RollbackOverwritesInterleavedPush(t *testing.T) {
	e, st, _ := newTestEngine(t)

	if err := st.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "v1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	boom := errors.New("server error")
	_, err := e.Run(context.Background(), Mutation{
		Key:     "messages.update",
		Touches: []store.Ref{{Kind: models.KindMessage, ID: "m1"}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "speculative"})
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			// push event arrives mid-flight
			if err := st.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "pushed"}); err != nil {
				t.Fatalf("push: %v", err)
			}
			return nil, boom
		},
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error: %v", err)
	}

	var got models.Message
	if _, err := st.Get(models.KindMessage, "m1", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "v1" {
		t.Fatalf("restore must reinstate the snapshot verbatim, got %q", got.Content)
	}
}
