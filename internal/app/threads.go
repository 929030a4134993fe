package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hearth/pkg/ids"
	"hearth/pkg/models"
	"hearth/pkg/optimistic"
	"hearth/pkg/pager"
	"hearth/pkg/store"
	"hearth/pkg/validation"
)

const (
	opThreadCreate  = "threads.create"
	opThreadUpdate  = "threads.update"
	opThreadDelete  = "threads.delete"
	opThreadList    = "threads.list"
	opThreadInvite  = "threads.invite"
	opThreadRespond = "threads.respond"
	opThreadLeave   = "threads.leave"
)

// ThreadAPI is the thread slice surface.
type ThreadAPI struct {
	c *Client
}

// Create opens a thread in the household; the author joins as an accepted
// participant.
func (t *ThreadAPI) Create(ctx context.Context, householdID, title string) (*models.Thread, error) {
	if err := t.c.requireIdentity(); err != nil {
		return nil, err
	}
	now := time.Now().UTC().UnixNano()
	tempID := ids.NewTemp()
	draft := models.Thread{
		ID:        tempID,
		Household: householdID,
		Author:    t.c.userID,
		Title:     title,
		CreatedTS: now,
		UpdatedTS: now,
		Participants: []models.Participant{
			{ID: ids.New(), UserID: t.c.userID, InvitedTS: now, Accepted: true},
		},
	}

	payload, err := t.c.engine.Run(ctx, optimistic.Mutation{
		Key:         opThreadCreate,
		FlightKey:   tempID,
		Touches:     []store.Ref{{Kind: models.KindThread, ID: tempID}},
		Collections: []store.ColRef{{Kind: models.KindThread, Parent: householdID}},
		Speculate: func(s *store.Store) error {
			if err := validation.ValidateThread(draft); err != nil {
				return err
			}
			if err := s.Upsert(models.KindThread, tempID, draft); err != nil {
				return err
			}
			return s.EnsureInOrder(models.KindThread, householdID, tempID)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return t.c.api.Call(ctx, "threads", "create", map[string]any{
				"household": householdID,
				"author":    t.c.userID,
				"title":     title,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			var st models.Thread
			if err := json.Unmarshal(payload, &st); err != nil {
				return fmt.Errorf("decode thread: %w", err)
			}
			if st.ID == "" {
				return fmt.Errorf("server thread without id")
			}
			return s.Substitute(models.KindThread, householdID, tempID, st.ID, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Thread](payload)
}

// Update renames a thread.
func (t *ThreadAPI) Update(ctx context.Context, threadID, title string) (*models.Thread, error) {
	cur, err := t.thread(threadID)
	if err != nil {
		return nil, err
	}
	draft := *cur
	draft.Title = title
	draft.UpdatedTS = time.Now().UTC().UnixNano()

	payload, err := t.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opThreadUpdate,
		FlightKey: threadID,
		Touches:   []store.Ref{{Kind: models.KindThread, ID: threadID}},
		Speculate: func(s *store.Store) error {
			if err := validation.ValidateThread(draft); err != nil {
				return err
			}
			return s.Upsert(models.KindThread, threadID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return t.c.api.Call(ctx, "threads", "update", map[string]string{
				"id":    threadID,
				"title": title,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindThread, cur.Household, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Thread](payload)
}

// Delete soft-deletes the thread.
func (t *ThreadAPI) Delete(ctx context.Context, threadID string) error {
	cur, err := t.thread(threadID)
	if err != nil {
		return err
	}
	draft := *cur
	draft.Deleted = true
	draft.DeletedTS = time.Now().UTC().UnixNano()

	_, err = t.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opThreadDelete,
		FlightKey: threadID,
		Touches:   []store.Ref{{Kind: models.KindThread, ID: threadID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindThread, threadID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return t.c.api.Call(ctx, "threads", "delete", map[string]string{"id": threadID})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			var probe struct {
				ID      string `json:"id"`
				Deleted bool   `json:"deleted"`
			}
			if err := json.Unmarshal(payload, &probe); err != nil || !probe.Deleted {
				return nil
			}
			return upsertPayload(s, models.KindThread, cur.Household, payload)
		},
	})
	return err
}

// Invite adds a household member to the thread in the invited state.
func (t *ThreadAPI) Invite(ctx context.Context, threadID, userID string) (*models.Thread, error) {
	cur, err := t.thread(threadID)
	if err != nil {
		return nil, err
	}
	if _, ok := cur.Participant(userID); ok {
		return nil, fmt.Errorf("user %s already participates in thread %s", userID, threadID)
	}
	draft := *cur
	draft.Participants = append(append([]models.Participant(nil), cur.Participants...), models.Participant{
		ID:        ids.NewTemp(),
		UserID:    userID,
		InvitedTS: time.Now().UTC().UnixNano(),
	})

	payload, err := t.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opThreadInvite,
		FlightKey: threadID + ":" + userID,
		Touches:   []store.Ref{{Kind: models.KindThread, ID: threadID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindThread, threadID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return t.c.api.Call(ctx, "threads", "invite", map[string]string{
				"id":   threadID,
				"user": userID,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindThread, cur.Household, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Thread](payload)
}

// Respond resolves the acting user's thread invitation: accept or reject.
// A resolved invitation is terminal.
func (t *ThreadAPI) Respond(ctx context.Context, threadID string, accept bool) (*models.Thread, error) {
	if err := t.c.requireIdentity(); err != nil {
		return nil, err
	}
	cur, err := t.thread(threadID)
	if err != nil {
		return nil, err
	}
	p, ok := cur.Participant(t.c.userID)
	if !ok {
		return nil, fmt.Errorf("user %s not invited to thread %s", t.c.userID, threadID)
	}
	if p.Accepted || p.Rejected {
		return nil, fmt.Errorf("invitation already resolved")
	}
	p.Accepted = accept
	p.Rejected = !accept
	draft := *cur
	draft.Participants = append([]models.Participant(nil), cur.Participants...)
	draft.SetParticipant(p)

	action := "reject"
	if accept {
		action = "accept"
	}
	payload, err := t.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opThreadRespond,
		FlightKey: threadID,
		Touches:   []store.Ref{{Kind: models.KindThread, ID: threadID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindThread, threadID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return t.c.api.Call(ctx, "threads", action, map[string]string{
				"id":   threadID,
				"user": t.c.userID,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindThread, cur.Household, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Thread](payload)
}

// Leave marks the acting user's departure from an accepted thread.
func (t *ThreadAPI) Leave(ctx context.Context, threadID string) error {
	if err := t.c.requireIdentity(); err != nil {
		return err
	}
	cur, err := t.thread(threadID)
	if err != nil {
		return err
	}
	p, ok := cur.Participant(t.c.userID)
	if !ok || !p.Accepted {
		return fmt.Errorf("user %s is not an accepted participant of thread %s", t.c.userID, threadID)
	}
	p.LeftTS = time.Now().UTC().UnixNano()
	draft := *cur
	draft.Participants = append([]models.Participant(nil), cur.Participants...)
	draft.SetParticipant(p)

	_, err = t.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opThreadLeave,
		FlightKey: threadID,
		Touches:   []store.Ref{{Kind: models.KindThread, ID: threadID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindThread, threadID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return t.c.api.Call(ctx, "threads", "leave", map[string]string{
				"id":   threadID,
				"user": t.c.userID,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindThread, cur.Household, payload)
		},
	})
	return err
}

// List fetches one page of a household's threads and merges it in.
func (t *ThreadAPI) List(ctx context.Context, householdID string, q models.PageQuery) ([]models.Thread, models.PageMeta, error) {
	t.c.tracker.Begin(opThreadList)
	pr, err := t.c.api.List(ctx, "threads", q, map[string]string{"household": householdID})
	if err != nil {
		t.c.tracker.Fail(opThreadList, err.Error())
		return nil, models.PageMeta{}, err
	}
	items, err := pager.DecodeItems(pr.Items)
	if err != nil {
		t.c.tracker.Fail(opThreadList, err.Error())
		return nil, models.PageMeta{}, err
	}
	if err := t.c.merger.MergePage(models.KindThread, householdID, q.Cursor, items, pr.Meta); err != nil {
		t.c.tracker.Fail(opThreadList, err.Error())
		return nil, models.PageMeta{}, err
	}
	t.c.tracker.Succeed(opThreadList)
	out, err := t.Cached(householdID)
	return out, pr.Meta, err
}

// Cached returns the household's threads from the cache, in stored order.
func (t *ThreadAPI) Cached(householdID string) ([]models.Thread, error) {
	raws, err := t.c.store.List(models.KindThread, householdID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Thread, 0, len(raws))
	for _, r := range raws {
		var th models.Thread
		if err := json.Unmarshal(r, &th); err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, nil
}

func (t *ThreadAPI) thread(id string) (*models.Thread, error) {
	var th models.Thread
	ok, err := t.c.store.Get(models.KindThread, id, &th)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("thread %s not cached", id)
	}
	return &th, nil
}
