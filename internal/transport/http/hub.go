package http

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
	"mathquest-engine/internal/domain"
)

const clientBuffer = 32

// client is one websocket connection as seen by the hub. Messages are queued
// on send and written by the connection's writer goroutine.
type client struct {
	id    string
	send  chan []byte
	done  chan struct{}
	once  sync.Once
	rooms map[string]struct{}
}

func newClient(id string) *client {
	return &client{
		id:    id,
		send:  make(chan []byte, clientBuffer),
		done:  make(chan struct{}),
		rooms: make(map[string]struct{}),
	}
}

// enqueue never blocks: a client that cannot keep up loses the message.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		log.Warn().Str("client", c.id).Msg("client send buffer full, dropping message")
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub fans room messages out to the clients connected to this instance.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*client]struct{})}
}

func (h *Hub) join(room string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// leaveAll removes c from every room and returns the rooms it was in.
func (h *Hub) leaveAll(c *client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	left := make([]string, 0, len(c.rooms))
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
		delete(c.rooms, room)
		left = append(left, room)
	}
	return left
}

// Count reports how many local clients are in room.
func (h *Hub) Count(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Deliver queues an encoded event for every local member of room.
func (h *Hub) Deliver(room string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		c.enqueue(payload)
	}
}

// Publish encodes ev and delivers it locally. It satisfies Publisher for
// single-instance deployments.
func (h *Hub) Publish(_ context.Context, room string, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.Deliver(room, payload)
	return nil
}
