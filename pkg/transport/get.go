package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Get fetches a single entity: GET /v1/<resource>/<id>. Idempotent, so
// transient failures are retried like List.
func (c *Client) Get(ctx context.Context, resource, id string) (json.RawMessage, error) {
	u := fmt.Sprintf("%s/v1/%s/%s", c.baseURL, resource, id)
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
		return json.RawMessage(res), nil
	}
	return nil, last
}
