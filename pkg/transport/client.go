// Package transport is the request/response boundary to the server. The
// server is opaque: this package knows URLs, auth headers, and the error
// taxonomy, and nothing about entity semantics.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"hearth/pkg/logger"
	"hearth/pkg/models"

	"golang.org/x/time/rate"
)

// PageResult is the envelope list endpoints return.
type PageResult struct {
	Items []json.RawMessage `json:"items"`
	Meta  models.PageMeta   `json:"meta"`
}

// Client issues calls against the coordination server.
type Client struct {
	baseURL string
	doer    Doer
	token   string

	// readRetries bounds automatic retries for idempotent reads;
	// mutations are never retried here.
	readRetries int
	limiter     *rate.Limiter
}

type Option func(*Client)

// WithDoer swaps the HTTP adapter (net/http by default).
func WithDoer(d Doer) Option {
	return func(c *Client) { c.doer = d }
}

// WithReadRetries sets how many times idempotent reads are retried on
// transient failures.
func WithReadRetries(n int) Option {
	return func(c *Client) { c.readRetries = n }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		doer:        NewHTTPDoer(),
		readRetries: 2,
		// retry pacing: at most 2 retried reads per second, small burst
		limiter: rate.NewLimiter(rate.Limit(2), 2),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetToken attaches the bearer token used on subsequent calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

func (c *Client) header() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

// Call issues a mutating action: POST /v1/<resource>/<action>. The returned
// payload is the authoritative entity (or result envelope) on success; on
// failure the error is always a classified *Error.
func (c *Client) Call(ctx context.Context, resource, action string, params any) (json.RawMessage, error) {
	var body []byte
	if params != nil {
		var err error
		body, err = json.Marshal(params)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Message: fmt.Sprintf("encode params: %v", err)}
		}
	}
	u := fmt.Sprintf("%s/v1/%s/%s", c.baseURL, resource, action)
	status, res, hdr, err := c.doer.Do(ctx, http.MethodPost, u, c.header(), body)
	if err != nil {
		cerr := classifyTransport(err)
		logger.Warn("call_transport_failed", "resource", resource, "action", action, "kind", string(cerr.Kind))
		return nil, cerr
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusAccepted {
		cerr := classifyStatus(status, res, hdr)
		logger.Warn("call_rejected", "resource", resource, "action", action, "status", status, "kind", string(cerr.Kind))
		return nil, cerr
	}
	return json.RawMessage(res), nil
}

// List fetches a page: GET /v1/<resource>?cursor=...&limit=... plus any
// filter params. Idempotent, so transient failures are retried a bounded
// number of times, paced by the client's limiter.
func (c *Client) List(ctx context.Context, resource string, q models.PageQuery, filter map[string]string) (*PageResult, error) {
	vals := url.Values{}
	if q.Cursor != "" {
		vals.Set("cursor", q.Cursor)
	}
	if q.Limit > 0 {
		vals.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Direction != "" {
		vals.Set("direction", q.Direction)
	}
	if q.SortBy != "" {
		vals.Set("sort_by", q.SortBy)
	}
	for k, v := range filter {
		vals.Set(k, v)
	}
	u := fmt.Sprintf("%s/v1/%s?%s", c.baseURL, resource, vals.Encode())

	var last error
	for attempt := 0; attempt <= c.readRetries; attempt++ {
		if attempt > 0 {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, classifyTransport(err)
			}
		}
		status, res, hdr, err := c.doer.Do(ctx, http.MethodGet, u, c.header(), nil)
		if err != nil {
			cerr := classifyTransport(err)
			if cerr.Kind == KindAborted {
				return nil, cerr
			}
			last = cerr
			continue
		}
		if status != http.StatusOK {
			cerr := classifyStatus(status, res, hdr)
			if !cerr.Transient() {
				return nil, cerr
			}
			last = cerr
			continue
		}
		var pr PageResult
		if err := json.Unmarshal(res, &pr); err != nil {
			return nil, &Error{Kind: KindServer, Message: fmt.Sprintf("decode page: %v", err)}
		}
		if err := pr.Meta.Validate(); err != nil {
			return nil, &Error{Kind: KindServer, Message: err.Error()}
		}
		return &pr, nil
	}
	logger.Warn("list_retries_exhausted", "resource", resource, "error", last)
	return nil, last
}
