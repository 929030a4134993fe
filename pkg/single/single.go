// Package single deduplicates concurrent requests that have no natural
// idempotency key (login, session init). At most one factory runs per key;
// concurrent callers share the in-flight result. Once the call settles the
// key is released and the next caller starts fresh.
package single

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"
)

var sharedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hearth_dedupe_shared_total",
	Help: "Calls that attached to an already in-flight request, by key.",
}, []string{"key"})

// Group wraps a singleflight group. The zero value is ready to use.
type Group struct {
	sf singleflight.Group
}

// Do runs fn once per concurrent key and hands every caller the same
// result. A panic inside fn propagates to all callers and releases the key
// immediately, so retries are never blocked behind a dead flight.
func (g *Group) Do(key string, fn func() (any, error)) (any, error) {
	v, err, shared := g.sf.Do(key, fn)
	if shared {
		sharedTotal.WithLabelValues(key).Inc()
	}
	return v, err
}

// DoCtx is Do with caller cancellation: a canceled waiter detaches and
// reports ctx.Err() while the flight itself keeps running for the others.
func (g *Group) DoCtx(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	ch := g.sf.DoChan(key, fn)
	select {
	case res := <-ch:
		if res.Shared {
			sharedTotal.WithLabelValues(key).Inc()
		}
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Forget drops the in-flight entry for key so the next Do starts fresh.
func (g *Group) Forget(key string) {
	g.sf.Forget(key)
}

// Do is the typed convenience wrapper around Group.Do.
func Do[T any](g *Group, key string, fn func() (T, error)) (T, error) {
	v, err := g.Do(key, func() (any, error) { return fn() })
	if v == nil {
		var zero T
		return zero, err
	}
	return v.(T), err
}
