// Package status tracks the lifecycle of named logical operations so
// unrelated UI surfaces can render independent loading and error states.
package status

import (
	"sync"

	"hearth/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// State is the lifecycle of one operation key. Transitions follow
// idle -> pending -> (succeeded | failed); pending is never skipped.
type State string

const (
	Idle      State = "idle"
	Pending   State = "pending"
	Succeeded State = "succeeded"
	Failed    State = "failed"
)

var (
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hearth_operations_total",
		Help: "Operation completions by key and outcome.",
	}, []string{"key", "outcome"})
	opsInflight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hearth_operations_inflight",
		Help: "Operations currently pending.",
	})
)

type record struct {
	state State
	err   string
}

// Tracker holds one record per operation key. Keys are namespaced by
// entity kind and action ("messages.create", "polls.vote"), so operations
// of one class share a single record by design: per-entity granularity is
// not guaranteed, only per-operation-class.
type Tracker struct {
	mu   sync.Mutex
	recs map[string]*record
}

func NewTracker() *Tracker {
	return &Tracker{recs: make(map[string]*record)}
}

func (t *Tracker) rec(key string) *record {
	r, ok := t.recs[key]
	if !ok {
		r = &record{state: Idle}
		t.recs[key] = r
	}
	return r
}

// Begin marks the key pending and clears any retained error.
func (t *Tracker) Begin(key string) {
	t.mu.Lock()
	r := t.rec(key)
	if r.state != Pending {
		opsInflight.Inc()
	}
	r.state = Pending
	r.err = ""
	t.mu.Unlock()
}

// Succeed marks the key succeeded. A Succeed with no pending Begin is
// ignored so the no-skip transition invariant holds.
func (t *Tracker) Succeed(key string) {
	t.mu.Lock()
	r := t.rec(key)
	if r.state != Pending {
		t.mu.Unlock()
		logger.Warn("status_succeed_not_pending", "key", key, "state", string(r.state))
		return
	}
	r.state = Succeeded
	t.mu.Unlock()
	opsInflight.Dec()
	opsTotal.WithLabelValues(key, "succeeded").Inc()
}

// Fail marks the key failed and retains msg until the next Begin or Reset.
func (t *Tracker) Fail(key, msg string) {
	t.mu.Lock()
	r := t.rec(key)
	if r.state != Pending {
		t.mu.Unlock()
		logger.Warn("status_fail_not_pending", "key", key, "state", string(r.state))
		return
	}
	r.state = Failed
	r.err = msg
	t.mu.Unlock()
	opsInflight.Dec()
	opsTotal.WithLabelValues(key, "failed").Inc()
}

// Reset returns the key to idle and clears the error.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	r := t.rec(key)
	if r.state == Pending {
		opsInflight.Dec()
	}
	r.state = Idle
	r.err = ""
	t.mu.Unlock()
}

// Get returns the current state and last error message for the key.
func (t *Tracker) Get(key string) (State, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.recs[key]
	if !ok {
		return Idle, ""
	}
	return r.state, r.err
}

// All returns a copy of every known record, for the daemon's status page.
func (t *Tracker) All() map[string]struct {
	State State
	Err   string
} {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]struct {
		State State
		Err   string
	}, len(t.recs))
	for k, r := range t.recs {
		out[k] = struct {
			State State
			Err   string
		}{r.state, r.err}
	}
	return out
}
