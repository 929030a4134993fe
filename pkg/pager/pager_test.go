package pager

import (
	"encoding/json"
	"testing"

	"hearth/pkg/models"
	"hearth/pkg/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func msgItem(id, content string) Item {
	return Item{ID: id, Value: models.Message{ID: id, Thread: "t1", Content: content}}
}

func TestMergePage_InitialFetchReplaces(t *testing.T) {
	st := openTestStore(t)
	m := NewMerger(st)

	// pre-existing stale order
	if err := st.SetOrder(models.KindMessage, "t1", []string{"old1", "old2"}); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	meta := models.PageMeta{HasMore: true, NextCursor: "c2", Total: 5}
	items := []Item{msgItem("m1", "a"), msgItem("m2", "b")}
	if err := m.MergePage(models.KindMessage, "t1", "", items, meta); err != nil {
		t.Fatalf("merge: %v", err)
	}

	order, _ := st.Order(models.KindMessage, "t1")
	if len(order) != 2 || order[0] != "m1" || order[1] != "m2" {
		t.Fatalf("initial fetch must replace order wholesale, got %v", order)
	}
	got, _ := st.PageMeta(models.KindMessage, "t1")
	if !got.HasMore || got.NextCursor != "c2" || got.Total != 5 {
		t.Fatalf("meta not stored: %+v", got)
	}
}

func TestMergePage_CursorAppends(t *testing.T) {
	st := openTestStore(t)
	m := NewMerger(st)

	page1 := []Item{msgItem("m1", "a"), msgItem("m2", "b")}
	if err := m.MergePage(models.KindMessage, "t1", "", page1, models.PageMeta{HasMore: true, NextCursor: "c2"}); err != nil {
		t.Fatalf("page 1: %v", err)
	}
	page2 := []Item{msgItem("m3", "c"), msgItem("m4", "d")}
	if err := m.MergePage(models.KindMessage, "t1", "c2", page2, models.PageMeta{HasMore: false}); err != nil {
		t.Fatalf("page 2: %v", err)
	}

	order, _ := st.Order(models.KindMessage, "t1")
	want := []string{"m1", "m2", "m3", "m4"}
	if len(order) != len(want) {
		t.Fatalf("order %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order[%d]=%s, want %s", i, order[i], want[i])
		}
	}
	meta, _ := st.PageMeta(models.KindMessage, "t1")
	if meta.HasMore || meta.NextCursor != "" {
		t.Fatalf("trailer not updated: %+v", meta)
	}
}

func TestMergePage_DuplicateRefreshesInPlace(t *testing.T) {
	st := openTestStore(t)
	m := NewMerger(st)

	page1 := []Item{msgItem("m1", "old"), msgItem("m2", "b")}
	if err := m.MergePage(models.KindMessage, "t1", "", page1, models.PageMeta{HasMore: true, NextCursor: "c2"}); err != nil {
		t.Fatalf("page 1: %v", err)
	}
	// m1 reappears on page 2 with fresher content
	page2 := []Item{msgItem("m1", "new"), msgItem("m3", "c")}
	if err := m.MergePage(models.KindMessage, "t1", "c2", page2, models.PageMeta{HasMore: false}); err != nil {
		t.Fatalf("page 2: %v", err)
	}

	order, _ := st.Order(models.KindMessage, "t1")
	want := []string{"m1", "m2", "m3"}
	if len(order) != len(want) {
		t.Fatalf("duplicate must not duplicate order, got %v", order)
	}
	if order[0] != "m1" {
		t.Fatalf("duplicate must keep its position, got %v", order)
	}
	var got models.Message
	if _, err := st.Get(models.KindMessage, "m1", &got); err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "new" {
		t.Fatalf("duplicate must refresh value, got %q", got.Content)
	}
}

func TestMergePage_RejectsBadInput(t *testing.T) {
	st := openTestStore(t)
	m := NewMerger(st)

	// meta invariant: has_more and next_cursor move together
	err := m.MergePage(models.KindMessage, "t1", "", nil, models.PageMeta{HasMore: true})
	if err == nil {
		t.Fatalf("expected meta validation error")
	}
	err = m.MergePage(models.KindMessage, "t1", "", nil, models.PageMeta{NextCursor: "c"})
	if err == nil {
		t.Fatalf("expected meta validation error")
	}

	err = m.MergePage(models.KindMessage, "t1", "", []Item{{ID: "", Value: models.Message{}}}, models.PageMeta{})
	if err == nil {
		t.Fatalf("expected item-without-id error")
	}
	// nothing was written
	if order, _ := st.Order(models.KindMessage, "t1"); order != nil {
		t.Fatalf("failed merge must not write, got %v", order)
	}
}

func TestMergePage_EmptyPage(t *testing.T) {
	st := openTestStore(t)
	m := NewMerger(st)

	if err := m.MergePage(models.KindMessage, "t1", "", nil, models.PageMeta{}); err != nil {
		t.Fatalf("empty initial page: %v", err)
	}
	order, err := st.Order(models.KindMessage, "t1")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if len(order) != 0 {
		t.Fatalf("expected empty collection, got %v", order)
	}
}

func TestDecodeItems(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`{"id":"m1","content":"a"}`),
		json.RawMessage(`{"id":"m2","content":"b"}`),
	}
	items, err := DecodeItems(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 || items[0].ID != "m1" || items[1].ID != "m2" {
		t.Fatalf("items: %+v", items)
	}

	if _, err := DecodeItems([]json.RawMessage{json.RawMessage(`{"content":"no id"}`)}); err == nil {
		t.Fatalf("expected error for item without id")
	}
	if _, err := DecodeItems([]json.RawMessage{json.RawMessage(`not json`)}); err == nil {
		t.Fatalf("expected error for malformed item")
	}
}
