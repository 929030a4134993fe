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
	opHouseholdCreate = "households.create"
	opHouseholdUpdate = "households.update"
	opHouseholdList   = "households.list"
	opMemberInvite    = "members.invite"
	opMemberRespond   = "members.respond"
	opMemberSelect    = "members.select"
	opMemberRole      = "members.role"
	opMemberLeave     = "members.leave"
)

// HouseholdAPI is the household and membership slice surface.
type HouseholdAPI struct {
	c *Client
}

// Create registers a household; the acting user becomes its admin member.
func (h *HouseholdAPI) Create(ctx context.Context, name string) (*models.Household, error) {
	if err := h.c.requireIdentity(); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("household name required")
	}
	now := time.Now().UTC().UnixNano()
	tempID := ids.NewTemp()
	tempMemberID := ids.NewTemp()
	draft := models.Household{ID: tempID, Name: name, CreatedTS: now, UpdatedTS: now}
	draftMember := models.Member{
		ID:        tempMemberID,
		Household: tempID,
		UserID:    h.c.userID,
		Role:      models.RoleAdmin,
		Accepted:  true,
	}

	payload, err := h.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opHouseholdCreate,
		FlightKey: tempID,
		Touches: []store.Ref{
			{Kind: models.KindHousehold, ID: tempID},
			{Kind: models.KindMember, ID: tempMemberID},
		},
		Collections: []store.ColRef{
			{Kind: models.KindHousehold, Parent: ""},
			{Kind: models.KindMember, Parent: tempID},
		},
		Speculate: func(s *store.Store) error {
			if err := s.Upsert(models.KindHousehold, tempID, draft); err != nil {
				return err
			}
			if err := s.EnsureInOrder(models.KindHousehold, "", tempID); err != nil {
				return err
			}
			if err := s.Upsert(models.KindMember, tempMemberID, draftMember); err != nil {
				return err
			}
			return s.EnsureInOrder(models.KindMember, tempID, tempMemberID)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return h.c.api.Call(ctx, "households", "create", map[string]string{
				"name": name,
				"user": h.c.userID,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			var sh models.Household
			if err := json.Unmarshal(payload, &sh); err != nil {
				return fmt.Errorf("decode household: %w", err)
			}
			if sh.ID == "" {
				return fmt.Errorf("server household without id")
			}
			if err := s.Substitute(models.KindHousehold, "", tempID, sh.ID, payload); err != nil {
				return err
			}
			// The speculative member collection was keyed by the temp
			// household id; rehome the admin record under the real one.
			fixed := draftMember
			fixed.ID = ids.New()
			fixed.Household = sh.ID
			if err := s.Remove(models.KindMember, tempMemberID); err != nil {
				return err
			}
			if err := s.Upsert(models.KindMember, fixed.ID, fixed); err != nil {
				return err
			}
			return s.EnsureInOrder(models.KindMember, sh.ID, fixed.ID)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Household](payload)
}

// Update renames a household.
func (h *HouseholdAPI) Update(ctx context.Context, householdID, name string) (*models.Household, error) {
	cur, err := h.household(householdID)
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("household name required")
	}
	draft := *cur
	draft.Name = name
	draft.UpdatedTS = time.Now().UTC().UnixNano()

	payload, err := h.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opHouseholdUpdate,
		FlightKey: householdID,
		Touches:   []store.Ref{{Kind: models.KindHousehold, ID: householdID}},
		Speculate: func(s *store.Store) error {
			return s.Upsert(models.KindHousehold, householdID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return h.c.api.Call(ctx, "households", "update", map[string]string{
				"id":   householdID,
				"name": name,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindHousehold, "", payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Household](payload)
}

// Fetch pulls one household by id from the server and caches it.
func (h *HouseholdAPI) Fetch(ctx context.Context, householdID string) (*models.Household, error) {
	payload, err := h.c.api.Get(ctx, "households", householdID)
	if err != nil {
		return nil, err
	}
	if err := upsertPayload(h.c.store, models.KindHousehold, "", payload); err != nil {
		return nil, err
	}
	return decodeInto[models.Household](payload)
}

// List fetches one page of the user's households and merges it in.
func (h *HouseholdAPI) List(ctx context.Context, q models.PageQuery) ([]models.Household, models.PageMeta, error) {
	h.c.tracker.Begin(opHouseholdList)
	pr, err := h.c.api.List(ctx, "households", q, nil)
	if err != nil {
		h.c.tracker.Fail(opHouseholdList, err.Error())
		return nil, models.PageMeta{}, err
	}
	items, err := pager.DecodeItems(pr.Items)
	if err != nil {
		h.c.tracker.Fail(opHouseholdList, err.Error())
		return nil, models.PageMeta{}, err
	}
	if err := h.c.merger.MergePage(models.KindHousehold, "", q.Cursor, items, pr.Meta); err != nil {
		h.c.tracker.Fail(opHouseholdList, err.Error())
		return nil, models.PageMeta{}, err
	}
	h.c.tracker.Succeed(opHouseholdList)
	out, err := h.Cached()
	return out, pr.Meta, err
}

// Cached returns the cached households in stored order.
func (h *HouseholdAPI) Cached() ([]models.Household, error) {
	raws, err := h.c.store.List(models.KindHousehold, "")
	if err != nil {
		return nil, err
	}
	out := make([]models.Household, 0, len(raws))
	for _, r := range raws {
		var hh models.Household
		if err := json.Unmarshal(r, &hh); err != nil {
			return nil, err
		}
		out = append(out, hh)
	}
	return out, nil
}

// Members returns the cached member roster for a household.
func (h *HouseholdAPI) Members(householdID string) ([]models.Member, error) {
	raws, err := h.c.store.List(models.KindMember, householdID)
	if err != nil {
		return nil, err
	}
	out := make([]models.Member, 0, len(raws))
	for _, r := range raws {
		var m models.Member
		if err := json.Unmarshal(r, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Invite adds a user to the household in the invited state.
func (h *HouseholdAPI) Invite(ctx context.Context, householdID, userID, role string) (*models.Member, error) {
	if _, err := h.household(householdID); err != nil {
		return nil, err
	}
	if cur, _ := h.memberOf(householdID, userID); cur != nil {
		return nil, fmt.Errorf("user %s already belongs to household %s", userID, householdID)
	}
	if role == "" {
		role = models.RoleMember
	}
	tempID := ids.NewTemp()
	draft := models.Member{
		ID:        tempID,
		Household: householdID,
		UserID:    userID,
		Role:      role,
		Invited:   true,
	}

	payload, err := h.c.engine.Run(ctx, optimistic.Mutation{
		Key:         opMemberInvite,
		FlightKey:   tempID,
		Touches:     []store.Ref{{Kind: models.KindMember, ID: tempID}},
		Collections: []store.ColRef{{Kind: models.KindMember, Parent: householdID}},
		Speculate: func(s *store.Store) error {
			if err := validation.ValidateMember(draft); err != nil {
				return err
			}
			if err := s.Upsert(models.KindMember, tempID, draft); err != nil {
				return err
			}
			return s.EnsureInOrder(models.KindMember, householdID, tempID)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return h.c.api.Call(ctx, "members", "invite", map[string]string{
				"household": householdID,
				"user":      userID,
				"role":      role,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			var sm models.Member
			if err := json.Unmarshal(payload, &sm); err != nil {
				return fmt.Errorf("decode member: %w", err)
			}
			if sm.ID == "" {
				return fmt.Errorf("server member without id")
			}
			return s.Substitute(models.KindMember, householdID, tempID, sm.ID, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Member](payload)
}

// Respond resolves the acting user's household invitation: accept or reject.
func (h *HouseholdAPI) Respond(ctx context.Context, householdID string, accept bool) (*models.Member, error) {
	if err := h.c.requireIdentity(); err != nil {
		return nil, err
	}
	cur, err := h.memberOf(householdID, h.c.userID)
	if err != nil {
		return nil, err
	}
	if cur.Resolved() {
		return nil, fmt.Errorf("invitation already resolved")
	}
	draft := *cur
	draft.Invited = false
	draft.Accepted = accept
	draft.Rejected = !accept

	action := "reject"
	if accept {
		action = "accept"
	}
	return h.mutateMember(ctx, opMemberRespond, action, draft, map[string]string{
		"id":   cur.ID,
		"user": h.c.userID,
	})
}

// Select marks the household as the acting user's active one. Selection is
// exclusive: any other selected membership of the user is cleared.
func (h *HouseholdAPI) Select(ctx context.Context, householdID string) (*models.Member, error) {
	if err := h.c.requireIdentity(); err != nil {
		return nil, err
	}
	cur, err := h.memberOf(householdID, h.c.userID)
	if err != nil {
		return nil, err
	}
	if !cur.Accepted {
		return nil, fmt.Errorf("membership in household %s not accepted", householdID)
	}
	draft := *cur
	draft.Selected = true

	touches := []store.Ref{{Kind: models.KindMember, ID: cur.ID}}
	others := map[string]models.Member{}
	err = h.c.store.Each(models.KindMember, func(id string, raw []byte) bool {
		var m models.Member
		if err := json.Unmarshal(raw, &m); err != nil {
			return true
		}
		if m.UserID == h.c.userID && m.Selected && m.ID != cur.ID {
			m.Selected = false
			others[id] = m
			touches = append(touches, store.Ref{Kind: models.KindMember, ID: id})
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	payload, err := h.c.engine.Run(ctx, optimistic.Mutation{
		Key:       opMemberSelect,
		FlightKey: cur.ID,
		Touches:   touches,
		Speculate: func(s *store.Store) error {
			if err := validation.ValidateMember(draft); err != nil {
				return err
			}
			for id, m := range others {
				if err := s.Upsert(models.KindMember, id, m); err != nil {
					return err
				}
			}
			return s.Upsert(models.KindMember, cur.ID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return h.c.api.Call(ctx, "members", "select", map[string]string{
				"id":   cur.ID,
				"user": h.c.userID,
			})
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindMember, householdID, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Member](payload)
}

// SetRole changes a member's role.
func (h *HouseholdAPI) SetRole(ctx context.Context, householdID, userID, role string) (*models.Member, error) {
	cur, err := h.memberOf(householdID, userID)
	if err != nil {
		return nil, err
	}
	draft := *cur
	draft.Role = role
	return h.mutateMember(ctx, opMemberRole, "role", draft, map[string]string{
		"id":   cur.ID,
		"role": role,
	})
}

// Leave marks the acting user's departure from the household.
func (h *HouseholdAPI) Leave(ctx context.Context, householdID string) (*models.Member, error) {
	if err := h.c.requireIdentity(); err != nil {
		return nil, err
	}
	cur, err := h.memberOf(householdID, h.c.userID)
	if err != nil {
		return nil, err
	}
	if !cur.Accepted {
		return nil, fmt.Errorf("membership in household %s not accepted", householdID)
	}
	draft := *cur
	draft.Selected = false
	draft.LeftTS = time.Now().UTC().UnixNano()
	return h.mutateMember(ctx, opMemberLeave, "leave", draft, map[string]string{
		"id":   cur.ID,
		"user": h.c.userID,
	})
}

// mutateMember runs the shared single-record member mutation: validated
// speculative upsert, dispatch, whole-value reconcile.
func (h *HouseholdAPI) mutateMember(ctx context.Context, key, action string, draft models.Member, args map[string]string) (*models.Member, error) {
	payload, err := h.c.engine.Run(ctx, optimistic.Mutation{
		Key:       key,
		FlightKey: draft.ID,
		Touches:   []store.Ref{{Kind: models.KindMember, ID: draft.ID}},
		Speculate: func(s *store.Store) error {
			if err := validation.ValidateMember(draft); err != nil {
				return err
			}
			return s.Upsert(models.KindMember, draft.ID, draft)
		},
		Dispatch: func(ctx context.Context) (json.RawMessage, error) {
			return h.c.api.Call(ctx, "members", action, args)
		},
		Reconcile: func(s *store.Store, payload json.RawMessage) error {
			return upsertPayload(s, models.KindMember, draft.Household, payload)
		},
	})
	if err != nil {
		return nil, err
	}
	return decodeInto[models.Member](payload)
}

func (h *HouseholdAPI) household(id string) (*models.Household, error) {
	var hh models.Household
	ok, err := h.c.store.Get(models.KindHousehold, id, &hh)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("household %s not cached", id)
	}
	return &hh, nil
}

func (h *HouseholdAPI) memberOf(householdID, userID string) (*models.Member, error) {
	raws, err := h.c.store.List(models.KindMember, householdID)
	if err != nil {
		return nil, err
	}
	for _, r := range raws {
		var m models.Member
		if err := json.Unmarshal(r, &m); err != nil {
			continue
		}
		if m.UserID == userID {
			return &m, nil
		}
	}
	return nil, fmt.Errorf("user %s has no membership in household %s", userID, householdID)
}
