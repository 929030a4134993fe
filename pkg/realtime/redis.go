package realtime

import (
	"context"
	"encoding/json"

	"hearth/pkg/logger"
	"hearth/pkg/models"

	"github.com/redis/go-redis/v9"
)

// RedisSource receives push events over Redis pub/sub. Deployments that
// already fan out server events through Redis can point the client straight
// at the broker instead of a websocket gateway. Channel names are
// "<prefix><kind>:<id>".
type RedisSource struct {
	client *redis.Client
	prefix string
	sub    *redis.PubSub
	events chan models.Event

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRedisSource(ctx context.Context, addr, prefix string) *RedisSource {
	cctx, cancel := context.WithCancel(ctx)
	s := &RedisSource{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		prefix: prefix,
		events: make(chan models.Event, wsEventsBufferSize),
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	// subscribe with no channels; topics attach via Subscribe
	s.sub = s.client.Subscribe(cctx)
	go s.run()
	return s
}

func (s *RedisSource) channel(topic models.Topic) string {
	return s.prefix + topic.String()
}

func (s *RedisSource) Subscribe(topic models.Topic) error {
	return s.sub.Subscribe(s.ctx, s.channel(topic))
}

func (s *RedisSource) Unsubscribe(topic models.Topic) error {
	return s.sub.Unsubscribe(s.ctx, s.channel(topic))
}

func (s *RedisSource) Events() <-chan models.Event { return s.events }

func (s *RedisSource) Close() error {
	s.cancel()
	_ = s.sub.Close()
	<-s.done
	return s.client.Close()
}

func (s *RedisSource) run() {
	defer close(s.done)
	defer close(s.events)
	ch := s.sub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				logger.Warn("push_bad_frame", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				return
			}
		}
	}
}
