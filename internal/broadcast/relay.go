package broadcast

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

var relayUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// RelayHub is the server side of WSBroker: every frame received on a channel
// is forwarded to every other connection joined to the same channel.
type RelayHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*relayPeer]struct{}
}

func NewRelayHub() *RelayHub {
	return &RelayHub{rooms: make(map[string]map[*relayPeer]struct{})}
}

type relayPeer struct {
	origin  string
	writeCh chan Message
}

// Peers returns the number of connections joined to channel.
func (h *RelayHub) Peers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[channel])
}

func (h *RelayHub) join(channel string, p *relayPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[channel]
	if room == nil {
		room = make(map[*relayPeer]struct{})
		h.rooms[channel] = room
	}
	room[p] = struct{}{}
}

func (h *RelayHub) leave(channel string, p *relayPeer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[channel]
	delete(room, p)
	if len(room) == 0 {
		delete(h.rooms, channel)
	}
}

func (h *RelayHub) fanOut(channel string, from *relayPeer, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for p := range h.rooms[channel] {
		if p == from {
			continue
		}
		pushRelay(p.writeCh, msg)
	}
}

// ServeHTTP upgrades /ws?channel=<name>&origin=<id> connections.
func (h *RelayHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	channel := strings.TrimSpace(r.URL.Query().Get("channel"))
	if channel == "" {
		http.Error(w, "channel is required", http.StatusBadRequest)
		return
	}

	conn, err := relayUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		glog.Warningf("relay: set read deadline failed: %v", err)
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	peer := &relayPeer{
		origin:  strings.TrimSpace(r.URL.Query().Get("origin")),
		writeCh: make(chan Message, 256),
	}
	h.join(channel, peer)
	defer h.leave(channel, peer)
	glog.V(1).Infof("relay: joined channel=%s origin=%s peers=%d", channel, peer.origin, h.Peers(channel))

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-peer.writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		var in Message
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		if in.Origin == "" {
			in.Origin = peer.origin
		}
		h.fanOut(channel, peer, in)
	}
}

// pushRelay never blocks the fan-out: a full peer queue drops its oldest frame.
func pushRelay(writeCh chan Message, out Message) {
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
