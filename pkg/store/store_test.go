package store

import (
	"encoding/json"
	"testing"

	"hearth/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_UpsertGetRemove(t *testing.T) {
	s := openTestStore(t)

	msg := models.Message{ID: "m1", Thread: "t1", Author: "u1", Content: "hi"}
	if err := s.Upsert(models.KindMessage, "m1", msg); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var got models.Message
	ok, err := s.Get(models.KindMessage, "m1", &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Content != "hi" || got.Thread != "t1" {
		t.Fatalf("unexpected entity: %+v", got)
	}

	// whole-value replacement, no field merge
	if err := s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Thread: "t1", Author: "u1"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	ok, err = s.Get(models.KindMessage, "m1", &got)
	if err != nil || !ok {
		t.Fatalf("get after replace: ok=%v err=%v", ok, err)
	}
	if got.Content != "" {
		t.Fatalf("expected content replaced away, got %q", got.Content)
	}

	if err := s.Remove(models.KindMessage, "m1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ok, err = s.Get(models.KindMessage, "m1", &got)
	if err != nil {
		t.Fatalf("get after remove: %v", err)
	}
	if ok {
		t.Fatalf("expected entity gone after remove")
	}

	// removing an absent entity is a no-op
	if err := s.Remove(models.KindMessage, "nope"); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
}

func TestStore_UpsertEmptyID(t *testing.T) {
	s := openTestStore(t)
	if err := s.Upsert(models.KindMessage, "", models.Message{}); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestStore_OrderAndList(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"m1", "m2", "m3"} {
		if err := s.Upsert(models.KindMessage, id, models.Message{ID: id, Thread: "t1"}); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
		if err := s.EnsureInOrder(models.KindMessage, "t1", id); err != nil {
			t.Fatalf("order %s: %v", id, err)
		}
	}
	// re-appending an existing member does not move it
	if err := s.EnsureInOrder(models.KindMessage, "t1", "m1"); err != nil {
		t.Fatalf("re-ensure: %v", err)
	}

	order, err := s.Order(models.KindMessage, "t1")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	want := []string{"m1", "m2", "m3"}
	if len(order) != len(want) {
		t.Fatalf("order length %d, want %d (%v)", len(order), len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d]=%s, want %s", i, order[i], want[i])
		}
	}

	raws, err := s.List(models.KindMessage, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(raws) != 3 {
		t.Fatalf("list length %d, want 3", len(raws))
	}

	// an id with no backing entity is skipped, not errored
	if err := s.SetOrder(models.KindMessage, "t1", []string{"m1", "ghost", "m3"}); err != nil {
		t.Fatalf("set order: %v", err)
	}
	raws, err = s.List(models.KindMessage, "t1")
	if err != nil {
		t.Fatalf("list with ghost: %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("ghost id should be skipped, got %d entries", len(raws))
	}
}

func TestStore_RemoveScrubsOrder(t *testing.T) {
	s := openTestStore(t)

	for _, parent := range []string{"t1", "t2"} {
		if err := s.SetOrder(models.KindMessage, parent, []string{"m1", "m2"}); err != nil {
			t.Fatalf("set order %s: %v", parent, err)
		}
	}
	if err := s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.Remove(models.KindMessage, "m1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	for _, parent := range []string{"t1", "t2"} {
		order, err := s.Order(models.KindMessage, parent)
		if err != nil {
			t.Fatalf("order %s: %v", parent, err)
		}
		if len(order) != 1 || order[0] != "m2" {
			t.Fatalf("order of %s after remove: %v, want [m2]", parent, order)
		}
	}
}

func TestStore_Substitute(t *testing.T) {
	s := openTestStore(t)

	if err := s.Upsert(models.KindMessage, "tmp-a", models.Message{ID: "tmp-a", Thread: "t1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SetOrder(models.KindMessage, "t1", []string{"m0", "tmp-a", "m2"}); err != nil {
		t.Fatalf("set order: %v", err)
	}

	server := models.Message{ID: "msg-42", Thread: "t1", Content: "hello"}
	if err := s.Substitute(models.KindMessage, "t1", "tmp-a", "msg-42", server); err != nil {
		t.Fatalf("substitute: %v", err)
	}

	order, _ := s.Order(models.KindMessage, "t1")
	if len(order) != 3 || order[1] != "msg-42" {
		t.Fatalf("substitute must swap in place, got %v", order)
	}
	if ok, _ := s.Get(models.KindMessage, "tmp-a", nil); ok {
		t.Fatalf("temp record should be deleted")
	}
	var got models.Message
	if ok, _ := s.Get(models.KindMessage, "msg-42", &got); !ok || got.Content != "hello" {
		t.Fatalf("server record missing or wrong: %+v", got)
	}
}

// A created push event for the server entity can arrive before the mutation
// reconciles. The swap must then drop the temp slot instead of rewriting it,
// or the id ends up listed twice.
func TestStore_SubstituteAfterPushAlreadyListed(t *testing.T) {
	s := openTestStore(t)

	if err := s.Upsert(models.KindMessage, "tmp-a", models.Message{ID: "tmp-a", Thread: "t1"}); err != nil {
		t.Fatalf("upsert temp: %v", err)
	}
	if err := s.SetOrder(models.KindMessage, "t1", []string{"m0", "tmp-a"}); err != nil {
		t.Fatalf("set order: %v", err)
	}

	// Push lands first: entity stored under the server id and appended.
	pushed := models.Message{ID: "msg-42", Thread: "t1", Content: "hello"}
	if err := s.Upsert(models.KindMessage, "msg-42", pushed); err != nil {
		t.Fatalf("push upsert: %v", err)
	}
	if err := s.EnsureInOrder(models.KindMessage, "t1", "msg-42"); err != nil {
		t.Fatalf("push order: %v", err)
	}

	if err := s.Substitute(models.KindMessage, "t1", "tmp-a", "msg-42", pushed); err != nil {
		t.Fatalf("substitute: %v", err)
	}

	order, _ := s.Order(models.KindMessage, "t1")
	if len(order) != 2 || order[0] != "m0" || order[1] != "msg-42" {
		t.Fatalf("id must be listed exactly once, got %v", order)
	}
	if ok, _ := s.Get(models.KindMessage, "tmp-a", nil); ok {
		t.Fatalf("temp record should be deleted")
	}
	items, err := s.List(models.KindMessage, "t1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 listed entities, got %d", len(items))
	}
}

func TestStore_Watch(t *testing.T) {
	s := openTestStore(t)

	type event struct {
		op ChangeOp
		id string
	}
	var events []event
	cancel := s.Watch(models.KindMessage, func(op ChangeOp, id string) {
		events = append(events, event{op, id})
	})

	if err := s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Remove(models.KindMessage, "m1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	// other kinds do not notify this watcher
	if err := s.Upsert(models.KindThread, "t1", models.Thread{ID: "t1", Household: "h1", Title: "x"}); err != nil {
		t.Fatalf("upsert thread: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %v", events)
	}
	if events[0].op != ChangeUpsert || events[0].id != "m1" {
		t.Fatalf("first event %v", events[0])
	}
	if events[1].op != ChangeRemove || events[1].id != "m1" {
		t.Fatalf("second event %v", events[1])
	}

	cancel()
	if err := s.Upsert(models.KindMessage, "m2", models.Message{ID: "m2"}); err != nil {
		t.Fatalf("upsert after cancel: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("canceled watcher still firing: %v", events)
	}
}

func TestStore_SnapshotRestore(t *testing.T) {
	s := openTestStore(t)

	if err := s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "before"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.SetOrder(models.KindMessage, "t1", []string{"m1"}); err != nil {
		t.Fatalf("set order: %v", err)
	}
	if err := s.SetPageMeta(models.KindMessage, "t1", models.PageMeta{HasMore: true, NextCursor: "c1"}); err != nil {
		t.Fatalf("set meta: %v", err)
	}

	snap, err := s.Snapshot(
		[]Ref{{Kind: models.KindMessage, ID: "m1"}, {Kind: models.KindMessage, ID: "tmp-x"}},
		[]ColRef{{Kind: models.KindMessage, Parent: "t1"}},
	)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	// mutate everything the snapshot covers
	if err := s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "after"}); err != nil {
		t.Fatalf("mutate m1: %v", err)
	}
	if err := s.Upsert(models.KindMessage, "tmp-x", models.Message{ID: "tmp-x"}); err != nil {
		t.Fatalf("create tmp-x: %v", err)
	}
	if err := s.SetOrder(models.KindMessage, "t1", []string{"m1", "tmp-x"}); err != nil {
		t.Fatalf("mutate order: %v", err)
	}
	if err := s.SetPageMeta(models.KindMessage, "t1", models.PageMeta{HasMore: false}); err != nil {
		t.Fatalf("mutate meta: %v", err)
	}

	if err := s.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}

	var got models.Message
	if ok, _ := s.Get(models.KindMessage, "m1", &got); !ok || got.Content != "before" {
		t.Fatalf("m1 not restored: %+v", got)
	}
	// an entity absent at snapshot time must be absent after restore
	if ok, _ := s.Get(models.KindMessage, "tmp-x", nil); ok {
		t.Fatalf("tmp-x should be deleted by restore")
	}
	order, _ := s.Order(models.KindMessage, "t1")
	if len(order) != 1 || order[0] != "m1" {
		t.Fatalf("order not restored: %v", order)
	}
	meta, _ := s.PageMeta(models.KindMessage, "t1")
	if !meta.HasMore || meta.NextCursor != "c1" {
		t.Fatalf("meta not restored: %+v", meta)
	}
}

func TestStore_SnapshotRestoreAbsentCollection(t *testing.T) {
	s := openTestStore(t)

	snap, err := s.Snapshot(nil, []ColRef{{Kind: models.KindMessage, Parent: "t9"}})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := s.SetOrder(models.KindMessage, "t9", []string{"a", "b"}); err != nil {
		t.Fatalf("set order: %v", err)
	}
	if err := s.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	order, err := s.Order(models.KindMessage, "t9")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order != nil {
		t.Fatalf("collection created after snapshot should be deleted by restore, got %v", order)
	}
}

func TestStore_ConflictPolicy(t *testing.T) {
	s := openTestStore(t)

	// a keep-existing policy must suppress the second write
	s.SetConflictPolicy(func(existing, incoming []byte) []byte {
		if existing != nil {
			return existing
		}
		return incoming
	})
	if err := s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "first"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "second"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	var got models.Message
	if _, err := s.Get(models.KindMessage, "m1", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "first" {
		t.Fatalf("keep-existing policy ignored, got %q", got.Content)
	}

	// nil restores last-write-wins
	s.SetConflictPolicy(nil)
	if err := s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1", Content: "third"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := s.Get(models.KindMessage, "m1", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "third" {
		t.Fatalf("last-write-wins not restored, got %q", got.Content)
	}
}

func TestStore_RawPassthrough(t *testing.T) {
	s := openTestStore(t)

	raw := json.RawMessage(`{"id":"m1","content":"raw"}`)
	if err := s.Upsert(models.KindMessage, "m1", raw); err != nil {
		t.Fatalf("upsert raw: %v", err)
	}
	got, ok, err := s.GetRaw(models.KindMessage, "m1")
	if err != nil || !ok {
		t.Fatalf("get raw: ok=%v err=%v", ok, err)
	}
	if string(got) != string(raw) {
		t.Fatalf("raw bytes changed: %s", got)
	}
}

func TestStore_Each(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Upsert(models.KindThread, id, models.Thread{ID: id}); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	if err := s.Upsert(models.KindMessage, "m", models.Message{ID: "m"}); err != nil {
		t.Fatalf("upsert message: %v", err)
	}

	var seen []string
	err := s.Each(models.KindThread, func(id string, raw []byte) bool {
		seen = append(seen, id)
		return true
	})
	if err != nil {
		t.Fatalf("each: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("each visited %v, want 3 threads", seen)
	}

	// early stop
	n := 0
	_ = s.Each(models.KindThread, func(id string, raw []byte) bool {
		n++
		return false
	})
	if n != 1 {
		t.Fatalf("each did not stop, visited %d", n)
	}
}

func TestStore_ClosedErrors(t *testing.T) {
	s := openTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Upsert(models.KindMessage, "m1", models.Message{ID: "m1"}); err == nil {
		t.Fatalf("expected error writing to closed store")
	}
	// double close is harmless
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
