package broadcast

import (
	"context"
	"fmt"
	"sync"
)

// LocalHub connects client instances living in the same process. Each
// instance gets its own broker from Tab.
type LocalHub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*localChannel
}

func NewLocalHub() *LocalHub {
	return &LocalHub{rooms: make(map[string]map[string]*localChannel)}
}

// Tab returns a broker for one client instance.
func (h *LocalHub) Tab() *LocalBroker {
	return &LocalBroker{hub: h, origin: newOrigin()}
}

func (h *LocalHub) join(ch *localChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[ch.name]
	if room == nil {
		room = make(map[string]*localChannel)
		h.rooms[ch.name] = room
	}
	room[ch.id] = ch
}

func (h *LocalHub) leave(ch *localChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[ch.name]
	delete(room, ch.id)
	if len(room) == 0 {
		delete(h.rooms, ch.name)
	}
}

func (h *LocalHub) deliver(from *localChannel, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, peer := range h.rooms[from.name] {
		if id == from.id {
			continue
		}
		peer.d.enqueue(msg)
	}
}

// LocalBroker is one instance's view of a LocalHub.
type LocalBroker struct {
	hub    *LocalHub
	origin string

	mu       sync.Mutex
	seq      int
	channels []*localChannel
	closed   bool
}

func (b *LocalBroker) Open(name string) Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return noopChannel{name: name}
	}
	b.seq++
	ch := &localChannel{
		hub:    b.hub,
		name:   name,
		id:     fmt.Sprintf("%s/%d", b.origin, b.seq),
		origin: b.origin,
		d:      newDispatcher(),
	}
	b.hub.join(ch)
	b.channels = append(b.channels, ch)
	return ch
}

func (b *LocalBroker) Close() error {
	b.mu.Lock()
	channels := b.channels
	b.channels = nil
	b.closed = true
	b.mu.Unlock()
	for _, ch := range channels {
		_ = ch.Close()
	}
	return nil
}

type localChannel struct {
	hub    *LocalHub
	name   string
	id     string
	origin string
	d      *dispatcher

	closeOnce sync.Once
}

func (c *localChannel) Name() string { return c.name }

func (c *localChannel) Publish(_ context.Context, msg Message) error {
	if msg.Origin == "" {
		msg.Origin = c.origin
	}
	c.hub.deliver(c, msg)
	return nil
}

func (c *localChannel) Subscribe(handler func(Message)) func() {
	return c.d.subscribe(handler)
}

func (c *localChannel) Close() error {
	c.closeOnce.Do(func() {
		c.hub.leave(c)
		c.d.close()
	})
	return nil
}
