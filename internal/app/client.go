// Package app assembles the sync engine and exposes the per-slice action
// surfaces the UI layer depends on: dispatchable mutations, paginated
// collections, and per-operation status. Nothing above this package touches
// the store directly.
package app

import (
	"context"
	"encoding/json"
	"fmt"

	"hearth/pkg/models"
	"hearth/pkg/optimistic"
	"hearth/pkg/pager"
	"hearth/pkg/realtime"
	"hearth/pkg/single"
	"hearth/pkg/status"
	"hearth/pkg/store"
	"hearth/pkg/transport"
)

// API is the request transport consumed by the client. *transport.Client
// implements it; tests substitute fakes.
type API interface {
	Call(ctx context.Context, resource, action string, params any) (json.RawMessage, error)
	List(ctx context.Context, resource string, q models.PageQuery, filter map[string]string) (*transport.PageResult, error)
	Get(ctx context.Context, resource, id string) (json.RawMessage, error)
	SetToken(token string)
}

// Client is the sync engine façade.
type Client struct {
	store   *store.Store
	tracker *status.Tracker
	flights *single.Group
	engine  *optimistic.Engine
	merger  *pager.Merger
	api     API

	applier *realtime.Applier
	source  realtime.Source

	userID string

	Session    *SessionAPI
	Threads    *ThreadAPI
	Messages   *MessageAPI
	Polls      *PollAPI
	Households *HouseholdAPI
}

func New(st *store.Store, api API) *Client {
	c := &Client{
		store:   st,
		tracker: status.NewTracker(),
		flights: &single.Group{},
		merger:  pager.NewMerger(st),
		api:     api,
		applier: realtime.NewApplier(st),
	}
	c.engine = optimistic.NewEngine(st, c.tracker, c.flights)
	c.Session = &SessionAPI{c: c}
	c.Threads = &ThreadAPI{c: c}
	c.Messages = &MessageAPI{c: c}
	c.Polls = &PollAPI{c: c}
	c.Households = &HouseholdAPI{c: c}
	return c
}

// Store exposes the cache for read-side consumers (views re-read, never
// copy across async boundaries).
func (c *Client) Store() *store.Store { return c.store }

// Tracker exposes per-operation status for UI rendering.
func (c *Client) Tracker() *status.Tracker { return c.tracker }

// Applier exposes the event reconciliation entry point, mainly for wiring
// custom sources.
func (c *Client) Applier() *realtime.Applier { return c.applier }

// SetIdentity records the acting user id used for authored mutations
// (reactions, votes, read receipts).
func (c *Client) SetIdentity(userID string) { c.userID = userID }

// Identity returns the acting user id.
func (c *Client) Identity() string { return c.userID }

// SetSource attaches a push-event source.
func (c *Client) SetSource(src realtime.Source) { c.source = src }

// StartPush drains the attached source into the reconciliation layer until
// ctx is done.
func (c *Client) StartPush(ctx context.Context) error {
	if c.source == nil {
		return fmt.Errorf("no push source attached")
	}
	go realtime.Pump(ctx, c.source, c.applier)
	return nil
}

// Subscribe opens a push subscription for one entity topic.
func (c *Client) Subscribe(kind models.Kind, id string) error {
	if c.source == nil {
		return fmt.Errorf("no push source attached")
	}
	return c.source.Subscribe(models.Topic{Kind: kind, ID: id})
}

// Unsubscribe drops a push subscription.
func (c *Client) Unsubscribe(kind models.Kind, id string) error {
	if c.source == nil {
		return fmt.Errorf("no push source attached")
	}
	return c.source.Unsubscribe(models.Topic{Kind: kind, ID: id})
}

func (c *Client) requireIdentity() error {
	if c.userID == "" {
		return fmt.Errorf("no identity; login first")
	}
	return nil
}

// upsertPayload lands an authoritative server entity through the standard
// write path: whole-value upsert plus collection membership.
func upsertPayload(s *store.Store, kind models.Kind, parent string, payload json.RawMessage) error {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return fmt.Errorf("decode %s payload: %w", kind, err)
	}
	if probe.ID == "" {
		return fmt.Errorf("%s payload without id", kind)
	}
	if err := s.Upsert(kind, probe.ID, payload); err != nil {
		return err
	}
	if parent == "" && kind != models.KindHousehold {
		return nil
	}
	return s.EnsureInOrder(kind, parent, probe.ID)
}

func decodeInto[T any](payload json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &v, nil
}
