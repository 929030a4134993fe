package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"hearth/pkg/ids"
	"hearth/pkg/models"
	"hearth/pkg/optimistic"
	"hearth/pkg/store"
	"hearth/pkg/validation"
)

const (
	opPollCreate = "polls.create"
	opPollVote   = "polls.vote"
	opPollUnvote = "polls.unvote"
	opPollClose  = "polls.close"
)

// PollAPI is the poll slice surface.
type PollAPI struct {
	c *Client
}

// Create attaches a new poll to a message. Polls live outside any ordered
// collection; they are reached through the message's poll_id, so the
// speculative write also stamps the owning message.
func (p *PollAPI) Create(ctx context.Context, messageID, question string, kind models.PollKind, optionTexts []string, endTS int64) (*models.Poll, error) {
	if err := p.c.requireIdentity(); err != nil {
		return nil, err
	}
	var msg models.Message
	ok, err := p.c.store.Get(models.KindMessage, messageID, &msg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("message %s not cached", messageID)
	}
	if msg.PollID != "" {
		return nil, fmt.Errorf("message %s already carries poll %s", messageID, msg.PollID)
	}

	tempID := ids.NewTemp()
	opts := make([]models.PollOption, 0, len(optionTexts))
	for _, text := range optionTexts {
		opts = append(opts, models.PollOption{ID: ids.New(), Text: text})
	}
	draft := models.Poll{
		ID:       tempID,
		Message:  messageID,
		Question: question,
		Kind:     kind,
		Status:   models.PollOpen,
		EndTS:    endTS,
		Options:  opts,
	}
	draftMsg := msg
	draftMsg.PollID = tempID
	draftMsg.UpdatedTS = time.Now().UTC().UnixNano()

	payload, err := p.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opPollCreate,
		FlightKey: tempID,
		Touches: []store.Ref{
			{Kind: models.KindPoll, ID: tempID},
			{Kind: models.KindMessage, ID: messageID},
		},
		Speculate: func(s *store.Store) error {
			if err := validation.ValidatePoll(draft); err != nil {
				return err
			}
			if err := s.Upsert(models.KindPoll, tempID, draft); err != nil {
				return err
			}
			return s.Upsert(models.KindMessage, messageID, draftMsg)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return p.c.api.Call(ctx, "polls", "create", map[string]any{
				"message":  messageID,
				"question": question,
				"kind":     kind,
				"options":  optionTexts,
				"end_ts":   endTS,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			var sp models.Poll
			if err := json.Unmarshal(payload, &sp); err != nil {
				return fmt.Errorf("decode poll: %w", err)
			}
			if sp.ID == "" {
				return fmt.Errorf("server poll without id")
			}
			// No collection slot to swap; drop the temp record and restamp
			// the message with the server id.
			if err := s.Upsert(models.KindPoll, sp.ID, payload); err != nil {
				return err
			}
			if sp.ID != tempID {
				if err := s.Remove(models.KindPoll, tempID); err != nil {
					return err
				}
			}
			fixed := draftMsg
			fixed.PollID = sp.ID
			return s.Upsert(models.KindMessage, messageID, fixed)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Poll](payload)
}

// Vote records the acting user's vote for an option. On single-choice polls
// any earlier vote by the same user moves to the new option.
func (p *PollAPI) Vote(ctx context.Context, pollID, optionID string, rank int) (*models.Poll, error) {
	if err := p.c.requireIdentity(); err != nil {
		return nil, err
	}
	cur, err := p.poll(pollID)
	if err != nil {
		return nil, err
	}
	if cur.Status == models.PollClosed {
		return nil, fmt.Errorf("poll %s is closed", pollID)
	}
	draft := clonePoll(cur)
	opt := draft.Option(optionID)
	if opt == nil {
		return nil, fmt.Errorf("poll %s has no option %s", pollID, optionID)
	}
	if draft.Kind == models.PollSingle || draft.Kind == models.PollEventDate {
		for i := range draft.Options {
			if draft.Options[i].ID != optionID {
				draft.Options[i].RemoveVote(p.c.userID)
			}
		}
	}
	if !opt.AddVote(models.PollVote{ID: ids.New(), UserID: p.c.userID, Rank: rank}) {
		return nil, fmt.Errorf("user %s already voted for option %s", p.c.userID, optionID)
	}

	payload, err := p.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opPollVote,
		FlightKey: pollID + ":" + optionID,
		Touches:   []store.Ref{{Kind: models.KindPoll, ID: pollID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindPoll, pollID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return p.c.api.Call(ctx, "polls", "vote", map[string]any{
				"id":     pollID,
				"option": optionID,
				"user":   p.c.userID,
				"rank":   rank,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindPoll, "", payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Poll](payload)
}

// Unvote withdraws the acting user's vote from an option.
func (p *PollAPI) Unvote(ctx context.Context, pollID, optionID string) (*models.Poll, error) {
	if err := p.c.requireIdentity(); err != nil {
		return nil, err
	}
	cur, err := p.poll(pollID)
	if err != nil {
		return nil, err
	}
	draft := clonePoll(cur)
	opt := draft.Option(optionID)
	if opt == nil {
		return nil, fmt.Errorf("poll %s has no option %s", pollID, optionID)
	}
	if !opt.RemoveVote(p.c.userID) {
		return nil, fmt.Errorf("user %s has no vote on option %s", p.c.userID, optionID)
	}

	payload, err := p.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opPollUnvote,
		FlightKey: pollID + ":" + optionID,
		Touches:   []store.Ref{{Kind: models.KindPoll, ID: pollID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindPoll, pollID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return p.c.api.Call(ctx, "polls", "unvote", map[string]any{
				"id":     pollID,
				"option": optionID,
				"user":   p.c.userID,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindPoll, "", payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Poll](payload)
}

// Close finalizes the poll; further votes are refused locally and remotely.
func (p *PollAPI) Close(ctx context.Context, pollID string) (*models.Poll, error) {
	cur, err := p.poll(pollID)
	if err != nil {
		return nil, err
	}
	if cur.Status == models.PollClosed {
		return nil, fmt.Errorf("poll %s already closed", pollID)
	}
	draft := clonePoll(cur)
	draft.Status = models.PollClosed

	payload, err := p.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opPollClose,
		FlightKey: pollID,
		Touches:   []store.Ref{{Kind: models.KindPoll, ID: pollID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindPoll, pollID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return p.c.api.Call(ctx, "polls", "close", map[string]string{"id": pollID})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindPoll, "", payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Poll](payload)
}

// Fetch pulls one poll by id from the server and caches it.
func (p *PollAPI) Fetch(ctx context.Context, pollID string) (*models.Poll, error) {
	payload, err := p.c.api.Get(ctx, "polls", pollID)
	if err != nil {
		return nil, err
	}
	if err := upsertPayload(p.c.store, models.KindPoll, "", payload); err != nil {
		return nil, err
	}
	return decodeInto[models.Poll](payload)
}

func (p *PollAPI) poll(id string) (*models.Poll, error) {
	var pl models.Poll
	ok, err := p.c.store.Get(models.KindPoll, id, &pl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("poll %s not cached", id)
	}
	return &pl, nil
}

// clonePoll deep-copies the option and vote slices so a speculative edit
// never aliases the caller's copy.
func clonePoll(p *models.Poll) models.Poll {
	out := *p
	out.Options = make([]models.PollOption, len(p.Options))
	for i, o := range p.Options {
		out.Options[i] = o
		out.Options[i].Votes = append([]models.PollVote(nil), o.Votes...)
	}
	return out
}
