package transport

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"time"
)

const (
	defaultHTTPTimeout        = 30 * time.Second
	defaultHTTPConnectTimeout = 5 * time.Second
	defaultHTTPTLSTimeout     = 5 * time.Second
)

// Doer abstracts the HTTP client so the engine can run over net/http or
// fasthttp without the callers knowing which. Both adapters return the raw
// status, body, and response headers; classification happens above.
type Doer interface {
	Do(ctx context.Context, method, url string, header http.Header, body []byte) (int, []byte, http.Header, error)
}

// HTTPDoer is the default net/http adapter with explicit dial and TLS
// timeouts so a stuck connection cannot hang a mutation forever.
type HTTPDoer struct {
	client *http.Client
}

func NewHTTPDoer() *HTTPDoer {
	dialer := &net.Dialer{
		Timeout: defaultHTTPConnectTimeout,
	}
	tr := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: defaultHTTPTLSTimeout,
	}
	return &HTTPDoer{client: &http.Client{Transport: tr, Timeout: defaultHTTPTimeout}}
}

func (d *HTTPDoer) Do(ctx context.Context, method, url string, header http.Header, body []byte) (int, []byte, http.Header, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, nil, nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	res, err := d.client.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer res.Body.Close()
	b, err := io.ReadAll(res.Body)
	if err != nil {
		return 0, nil, nil, err
	}
	return res.StatusCode, b, res.Header, nil
}
