// README: Websocket hub bridging Redis pub/sub topics to connected clients.
package realtime

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// Session is one connected websocket client.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

func (s *Session) send(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(envelope{Topic: topic, Data: payload})
}

// Hub tracks which sessions listen to which topics and forwards everything
// published on the Redis channel patterns it watches.
type Hub struct {
	redis *redis.Client
	mu    sync.RWMutex
	subs  map[string]map[*Session]struct{}
}

func NewHub(rdb *redis.Client) *Hub {
	return &Hub{redis: rdb, subs: make(map[string]map[*Session]struct{})}
}

// Attach registers a connection for the given topics and returns its session.
func (h *Hub) Attach(conn *websocket.Conn, topics ...string) *Session {
	s := &Session{conn: conn}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range topics {
		if h.subs[t] == nil {
			h.subs[t] = make(map[*Session]struct{})
		}
		h.subs[t][s] = struct{}{}
	}
	return s
}

// Detach drops the session from every topic.
func (h *Hub) Detach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sessions := range h.subs {
		delete(sessions, s)
	}
}

// Run consumes the Redis pattern subscription until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ps := h.redis.PSubscribe(ctx, "user/*", "ride/*")
	defer ps.Close()
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.fanout(msg.Channel, []byte(msg.Payload))
		}
	}
}

func (h *Hub) fanout(topic string, payload []byte) {
	h.mu.RLock()
	sessions := make([]*Session, 0, len(h.subs[topic]))
	for s := range h.subs[topic] {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()
	for _, s := range sessions {
		if err := s.send(topic, payload); err != nil {
			log.Printf("ws send error on %s: %v", topic, err)
			h.Detach(s)
		}
	}
}
