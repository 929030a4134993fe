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

// Operation keys for the message slice. One record per key: every "add
// reaction" shares a status record regardless of which message it targets.
const (
	opMessageCreate   = "messages.create"
	opMessageUpdate   = "messages.update"
	opMessageDelete   = "messages.delete"
	opMessageList     = "messages.list"
	opMessageMarkRead = "messages.markRead"
	opReactionAdd     = "reactions.add"
	opReactionRemove  = "reactions.remove"
)

// MessageAPI is the message slice surface.
type MessageAPI struct {
	c *Client
}

type createMessageArgs struct {
	Thread      string              `json:"thread"`
	Author      string              `json:"author"`
	Content     string              `json:"content,omitempty"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	Mentions    []models.Mention    `json:"mentions,omitempty"`
}

// Create posts a message optimistically: the speculative record (temporary
// id, zero reactions) is visible in the thread immediately; on success the
// server record replaces it under the server-issued id, in the same list
// position.
func (m *MessageAPI) Create(ctx context.Context, threadID, content string, attachments []models.Attachment, mentionUserIDs []string) (*models.Message, error) {
	if err := m.c.requireIdentity(); err != nil {
		return nil, err
	}
	now := time.Now().UTC().UnixNano()
	tempID := ids.NewTemp()
	mentions := make([]models.Mention, 0, len(mentionUserIDs))
	for _, u := range mentionUserIDs {
		mentions = append(mentions, models.Mention{ID: ids.New(), UserID: u, TS: now})
	}
	draft := models.Message{
		ID:          tempID,
		Thread:      threadID,
		Author:      m.c.userID,
		Content:     content,
		CreatedTS:   now,
		Attachments: attachments,
		Mentions:    mentions,
	}

	payload, err := m.c.engine.Run(ctx, optimistic.Mutation{
		Key:         opMessageCreate,
		FlightKey:   tempID,
		Touches:     []store.Ref{{Kind: models.KindMessage, ID: tempID}},
		Collections: []store.ColRef{{Kind: models.KindMessage, Parent: threadID}},
		Speculate: func(s *store.Store) error {
			if err := validation.ValidateMessage(draft); err != nil {
				return err
			}
			if err := s.Upsert(models.KindMessage, tempID, draft); err != nil {
				return err
			}
			return s.EnsureInOrder(models.KindMessage, threadID, tempID)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return m.c.api.Call(ctx, "messages", "create", createMessageArgs{
				Thread:      threadID,
				Author:      m.c.userID,
				Content:     content,
				Attachments: attachments,
				Mentions:    mentions,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			var sm models.Message
			if err := json.Unmarshal(payload, &sm); err != nil {
				return fmt.Errorf("decode message: %w", err)
			}
			if sm.ID == "" {
				return fmt.Errorf("server message without id")
			}
			return s.Substitute(models.KindMessage, threadID, tempID, sm.ID, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Message](payload)
}

// Update edits message content in place.
func (m *MessageAPI) Update(ctx context.Context, messageID, content string) (*models.Message, error) {
	cur, err := m.message(messageID)
	if err != nil {
		return nil, err
	}
	draft := *cur
	draft.Content = content
	draft.UpdatedTS = time.Now().UTC().UnixNano()

	payload, err := m.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opMessageUpdate,
		FlightKey: messageID,
		Touches:   []store.Ref{{Kind: models.KindMessage, ID: messageID}},
		Speculate: func(s *store.Store) error {
			if err := validation.ValidateMessage(draft); err != nil {
				return err
			}
			return s.Upsert(models.KindMessage, messageID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return m.c.api.Call(ctx, "messages", "update", map[string]string{
				"id":      messageID,
				"content": content,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindMessage, cur.Thread, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Message](payload)
}

// Delete soft-deletes: the record stays listed as a tombstone until the
// retention sweeper reclaims it.
func (m *MessageAPI) Delete(ctx context.Context, messageID string) error {
	cur, err := m.message(messageID)
	if err != nil {
		return err
	}
	draft := *cur
	draft.Deleted = true
	draft.DeletedTS = time.Now().UTC().UnixNano()

	_, err = m.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opMessageDelete,
		FlightKey: messageID,
		Touches:   []store.Ref{{Kind: models.KindMessage, ID: messageID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindMessage, messageID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return m.c.api.Call(ctx, "messages", "delete", map[string]string{"id": messageID})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			// some deployments answer with just the id; keep the tombstone then
			var probe struct {
				ID      string `json:"id"`
				Deleted bool   `json:"deleted"`
			}
			if err := json.Unmarshal(payload, &probe); err != nil || !probe.Deleted {
				return nil
			}
			return upsertPayload(s, models.KindMessage, cur.Thread, payload)
		},
	})
	return err
}

// AddReaction appends the acting user's emoji reaction.
func (m *MessageAPI) AddReaction(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	if err := m.c.requireIdentity(); err != nil {
		return nil, err
	}
	cur, err := m.message(messageID)
	if err != nil {
		return nil, err
	}
	draft := *cur
	draft.Reactions = append(append([]models.Reaction(nil), cur.Reactions...), models.Reaction{
		ID:     ids.NewTemp(),
		UserID: m.c.userID,
		Emoji:  emoji,
	})

	payload, err := m.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opReactionAdd,
		FlightKey: messageID + ":" + emoji,
		Touches:   []store.Ref{{Kind: models.KindMessage, ID: messageID}},
		Speculate: func(s *store.Store) error {
			if cur.HasReaction(m.c.userID, emoji) {
				return fmt.Errorf("already reacted with %s", emoji)
			}
			return s.Upsert(models.KindMessage, messageID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return m.c.api.Call(ctx, "messages", "react", map[string]string{
				"id":    messageID,
				"user":  m.c.userID,
				"emoji": emoji,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindMessage, cur.Thread, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Message](payload)
}

// RemoveReaction drops the acting user's reaction with the emoji.
func (m *MessageAPI) RemoveReaction(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	if err := m.c.requireIdentity(); err != nil {
		return nil, err
	}
	cur, err := m.message(messageID)
	if err != nil {
		return nil, err
	}
	draft := *cur
	kept := make([]models.Reaction, 0, len(cur.Reactions))
	for _, r := range cur.Reactions {
		if r.UserID == m.c.userID && r.Emoji == emoji {
			continue
		}
		kept = append(kept, r)
	}
	draft.Reactions = kept

	payload, err := m.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opReactionRemove,
		FlightKey: messageID + ":" + emoji,
		Touches:   []store.Ref{{Kind: models.KindMessage, ID: messageID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindMessage, messageID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return m.c.api.Call(ctx, "messages", "unreact", map[string]string{
				"id":    messageID,
				"user":  m.c.userID,
				"emoji": emoji,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindMessage, cur.Thread, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Message](payload)
}

// MarkRead records the acting user's read receipt.
func (m *MessageAPI) MarkRead(ctx context.Context, messageID string) error {
	if err := m.c.requireIdentity(); err != nil {
		return err
	}
	cur, err := m.message(messageID)
	if err != nil {
		return err
	}
	draft := *cur
	draft.Reads.ReadBy = append([]string(nil), cur.Reads.ReadBy...)
	draft.Reads.UnreadBy = append([]string(nil), cur.Reads.UnreadBy...)
	draft.MarkRead(m.c.userID)

	_, err = m.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opMessageMarkRead,
		FlightKey: messageID,
		Touches:   []store.Ref{{Kind: models.KindMessage, ID: messageID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindMessage, messageID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return m.c.api.Call(ctx, "messages", "mark-read", map[string]string{
				"id":   messageID,
				"user": m.c.userID,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindMessage, cur.Thread, payload)
		},
	})
	return err
}

// List fetches one page of a thread's messages and merges it into the
// cache. An empty cursor replaces the cached collection.
func (m *MessageAPI) List(ctx context.Context, threadID string, q models.PageQuery) ([]models.Message, models.PageMeta, error) {
	m.c.tracker.Begin(opMessageList)
	pr, err := m.c.api.List(ctx, "messages", q, map[string]string{"thread": threadID})
	if err != nil {
		m.c.tracker.Fail(opMessageList, err.Error())
		return nil, models.PageMeta{}, err
	}
	items, err := pager.DecodeItems(pr.Items)
	if err != nil {
		m.c.tracker.Fail(opMessageList, err.Error())
		return nil, models.PageMeta{}, err
	}
	if err := m.c.merger.MergePage(models.KindMessage, threadID, q.Cursor, items, pr.Meta); err != nil {
		m.c.tracker.Fail(opMessageList, err.Error())
		return nil, models.PageMeta{}, err
	}
	m.c.tracker.Succeed(opMessageList)
	out, err := m.Cached(threadID)
	return out, pr.Meta, err
}

// Cached returns the thread's messages from the cache, in stored order.
func (m *MessageAPI) Cached(threadID string) ([]models.Message, error) {
	raws, err := m.c.store.List(models.KindMessage, threadID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, 0, len(raws))
	for _, r := range raws {
		var msg models.Message
		if err := json.Unmarshal(r, &msg); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, nil
}

func (m *MessageAPI) message(id string) (*models.Message, error) {
	var msg models.Message
	ok, err := m.c.store.Get(models.KindMessage, id, &msg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("message %s not cached", id)
	}
	return &msg, nil
}
