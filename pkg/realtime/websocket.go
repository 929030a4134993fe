package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"hearth/pkg/logger"
	"hearth/pkg/models"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout     = 10 * time.Second
	wsReconnectMin     = time.Second
	wsReconnectMax     = 30 * time.Second
	wsEventsBufferSize = 256
)

// wsControl is the subscribe/unsubscribe frame sent to the push gateway.
type wsControl struct {
	Op    string `json:"op"` // subscribe | unsubscribe
	Topic string `json:"topic"`
}

// WebsocketSource receives push events over a websocket. It reconnects
// with capped backoff and replays the active subscription set after each
// reconnect, which is where at-least-once delivery comes from.
type WebsocketSource struct {
	url    string
	token  string
	events chan models.Event

	mu     sync.Mutex
	conn   *websocket.Conn
	topics map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewWebsocketSource(ctx context.Context, url, token string) *WebsocketSource {
	cctx, cancel := context.WithCancel(ctx)
	s := &WebsocketSource{
		url:    url,
		token:  token,
		events: make(chan models.Event, wsEventsBufferSize),
		topics: make(map[string]struct{}),
		ctx:    cctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *WebsocketSource) Events() <-chan models.Event { return s.events }

func (s *WebsocketSource) Subscribe(topic models.Topic) error {
	s.mu.Lock()
	s.topics[topic.String()] = struct{}{}
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		// sent on next (re)connect
		return nil
	}
	return s.send(conn, wsControl{Op: "subscribe", Topic: topic.String()})
}

func (s *WebsocketSource) Unsubscribe(topic models.Topic) error {
	s.mu.Lock()
	delete(s.topics, topic.String())
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.send(conn, wsControl{Op: "unsubscribe", Topic: topic.String()})
}

func (s *WebsocketSource) Close() error {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
	return nil
}

func (s *WebsocketSource) send(conn *websocket.Conn, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

func (s *WebsocketSource) run() {
	defer close(s.done)
	defer close(s.events)
	backoff := wsReconnectMin
	for {
		if s.ctx.Err() != nil {
			return
		}
		conn, err := s.dial()
		if err != nil {
			logger.Warn("push_dial_failed", "url", s.url, "error", err, "retry_in", backoff.String())
			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return
			}
			backoff = min(backoff*2, wsReconnectMax)
			continue
		}
		backoff = wsReconnectMin
		logger.Info("push_connected", "url", s.url)
		s.readLoop(conn)
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
	}
}

func (s *WebsocketSource) dial() (*websocket.Conn, error) {
	dialer := websocket.DefaultDialer
	header := map[string][]string{}
	if s.token != "" {
		header["Authorization"] = []string{"Bearer " + s.token}
	}
	conn, _, err := dialer.DialContext(s.ctx, s.url, header)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.conn = conn
	replay := make([]string, 0, len(s.topics))
	for t := range s.topics {
		replay = append(replay, t)
	}
	s.mu.Unlock()
	for _, t := range replay {
		if err := s.send(conn, wsControl{Op: "subscribe", Topic: t}); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (s *WebsocketSource) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if s.ctx.Err() == nil {
				logger.Warn("push_read_failed", "error", err)
			}
			return
		}
		var ev models.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("push_bad_frame", "error", err)
			continue
		}
		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}
