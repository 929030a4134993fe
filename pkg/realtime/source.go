package realtime

import (
	"context"

	"hearth/pkg/logger"
	"hearth/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hearth_push_events_total",
	Help: "Push events received by kind and action.",
}, []string{"kind", "action"})

// Source delivers push events for subscribed topics. Delivery is
// at-least-once and unordered; the applier tolerates both.
type Source interface {
	Subscribe(topic models.Topic) error
	Unsubscribe(topic models.Topic) error
	Events() <-chan models.Event
	Close() error
}

// Pump drains src into the applier until ctx is done or the source's
// channel closes. Malformed events are logged and dropped; they must not
// stall the stream.
func Pump(ctx context.Context, src Source, ap *Applier) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-src.Events():
			if !ok {
				logger.Info("push_source_closed")
				return
			}
			eventsTotal.WithLabelValues(string(ev.Kind), string(ev.Action)).Inc()
			if err := ap.Apply(ev); err != nil {
				logger.Warn("event_apply_failed", "kind", string(ev.Kind), "action", string(ev.Action), "error", err)
			}
		}
	}
}
