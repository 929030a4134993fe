package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"
)

// FastDoer is the fasthttp adapter. fasthttp has no context plumbing, so
// cancellation is approximated with DoDeadline plus an upfront ctx check.
type FastDoer struct {
	client *fasthttp.Client
}

func NewFastDoer() *FastDoer {
	return &FastDoer{client: &fasthttp.Client{
		ReadTimeout:  defaultHTTPTimeout,
		WriteTimeout: defaultHTTPTimeout,
	}}
}

func (d *FastDoer) Do(ctx context.Context, method, url string, header http.Header, body []byte) (int, []byte, http.Header, error) {
	if err := ctx.Err(); err != nil {
		return 0, nil, nil, err
	}
	req := fasthttp.AcquireRequest()
	res := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(res)

	req.Header.SetMethod(method)
	req.SetRequestURI(url)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.SetBody(body)
	}

	deadline := time.Now().Add(defaultHTTPTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := d.client.DoDeadline(req, res, deadline); err != nil {
		if ctx.Err() != nil {
			return 0, nil, nil, ctx.Err()
		}
		return 0, nil, nil, err
	}
	out := append([]byte(nil), res.Body()...)
	h := make(http.Header)
	res.Header.VisitAll(func(k, v []byte) {
		h.Add(string(k), string(v))
	})
	return res.StatusCode(), out, h, nil
}
