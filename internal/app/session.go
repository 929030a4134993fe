package app

import (
	"context"
	"encoding/json"
	"fmt"

	"hearth/pkg/logger"
	"hearth/pkg/models"
	"hearth/pkg/pager"
	"hearth/pkg/single"
)

// Operation keys for the session slice.
const (
	opLogin = "session.login"
	opInit  = "session.init"
)

// SessionAPI handles authentication and first-load hydration. Both
// operations are idempotency-sensitive with no natural request id, so they
// run inside the dedupe group: a double click or a re-rendered caller
// attaches to the in-flight request instead of firing twice.
type SessionAPI struct {
	c *Client
}

type loginArgs struct {
	UserAuth string `json:"user_auth"`
	Password string `json:"password"`
}

// LoginResult is the authoritative session the server issues.
type LoginResult struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

// Login authenticates and installs the bearer token and identity.
// Concurrent calls share one request and one result.
func (s *SessionAPI) Login(ctx context.Context, userAuth, password string) (*LoginResult, error) {
	s.c.tracker.Begin(opLogin)
	res, err := single.Do(s.c.flights, opLogin, func() (*LoginResult, error) {
		payload, err := s.c.api.Call(ctx, "auth", "login", loginArgs{UserAuth: userAuth, Password: password})
		if err != nil {
			return nil, err
		}
		var lr LoginResult
		if err := json.Unmarshal(payload, &lr); err != nil {
			return nil, fmt.Errorf("decode login result: %w", err)
		}
		if lr.Token == "" || lr.UserID == "" {
			return nil, fmt.Errorf("login result missing token or user id")
		}
		return &lr, nil
	})
	if err != nil {
		s.c.tracker.Fail(opLogin, err.Error())
		return nil, err
	}
	s.c.api.SetToken(res.Token)
	s.c.userID = res.UserID
	s.c.tracker.Succeed(opLogin)
	logger.Info("session_logged_in", "user", res.UserID)
	return res, nil
}

// Init hydrates the household and membership cache after login. Deduped
// like Login so repeated mount effects fetch once.
func (s *SessionAPI) Init(ctx context.Context) error {
	if err := s.c.requireIdentity(); err != nil {
		return err
	}
	s.c.tracker.Begin(opInit)
	_, err := single.Do(s.c.flights, opInit, func() (struct{}, error) {
		var zero struct{}
		hp, err := s.c.api.List(ctx, "households", models.PageQuery{Limit: 100}, nil)
		if err != nil {
			return zero, err
		}
		items, err := pager.DecodeItems(hp.Items)
		if err != nil {
			return zero, err
		}
		if err := s.c.merger.MergePage(models.KindHousehold, "", "", items, hp.Meta); err != nil {
			return zero, err
		}
		for _, it := range items {
			mp, err := s.c.api.List(ctx, "members", models.PageQuery{Limit: 100}, map[string]string{"household": it.ID})
			if err != nil {
				return zero, err
			}
			mi, err := pager.DecodeItems(mp.Items)
			if err != nil {
				return zero, err
			}
			if err := s.c.merger.MergePage(models.KindMember, it.ID, "", mi, mp.Meta); err != nil {
				return zero, err
			}
		}
		return zero, nil
	})
	if err != nil {
		s.c.tracker.Fail(opInit, err.Error())
		return err
	}
	s.c.tracker.Succeed(opInit)
	logger.Info("session_initialized", "user", s.c.userID)
	return nil
}
