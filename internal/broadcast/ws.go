package broadcast

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10
)

// WSBroker opens channels on a RelayHub over websockets, one connection per
// channel. A relay that cannot be reached degrades the channel to a no-op.
type WSBroker struct {
	relayURL    string
	origin      string
	dialer      *websocket.Dialer
	dialTimeout time.Duration

	mu       sync.Mutex
	channels []*wsChannel
}

func NewWSBroker(relayURL string) *WSBroker {
	return &WSBroker{
		relayURL:    strings.TrimSpace(relayURL),
		origin:      newOrigin(),
		dialer:      websocket.DefaultDialer,
		dialTimeout: 5 * time.Second,
	}
}

func (b *WSBroker) Open(name string) Channel {
	ctx, cancel := context.WithTimeout(context.Background(), b.dialTimeout)
	defer cancel()

	target, err := b.channelURL(name)
	if err != nil {
		glog.Warningf("broadcast: relay url invalid, channel %s is local only: %v", name, err)
		return noopChannel{name: name}
	}
	conn, _, err := b.dialer.DialContext(ctx, target, nil)
	if err != nil {
		glog.Warningf("broadcast: relay unavailable, channel %s is local only: %v", name, err)
		return noopChannel{name: name}
	}

	ch := &wsChannel{
		name:   name,
		origin: b.origin,
		conn:   conn,
		d:      newDispatcher(),
		done:   make(chan struct{}),
	}
	go ch.readLoop()

	b.mu.Lock()
	b.channels = append(b.channels, ch)
	b.mu.Unlock()
	glog.V(1).Infof("broadcast: joined relay channel=%s origin=%s", name, b.origin)
	return ch
}

func (b *WSBroker) Close() error {
	b.mu.Lock()
	channels := b.channels
	b.channels = nil
	b.mu.Unlock()
	for _, ch := range channels {
		_ = ch.Close()
	}
	return nil
}

func (b *WSBroker) channelURL(name string) (string, error) {
	if b.relayURL == "" {
		return "", fmt.Errorf("relay url is empty")
	}
	u, err := url.Parse(b.relayURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("channel", name)
	q.Set("origin", b.origin)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsChannel struct {
	name   string
	origin string
	conn   *websocket.Conn
	d      *dispatcher

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *wsChannel) Name() string { return c.name }

func (c *wsChannel) Publish(_ context.Context, msg Message) error {
	if msg.Origin == "" {
		msg.Origin = c.origin
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return nil
	default:
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *wsChannel) Subscribe(handler func(Message)) func() {
	return c.d.subscribe(handler)
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
		c.d.close()
	})
	return err
}

func (c *wsChannel) readLoop() {
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPingHandler(func(data string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
	})
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			select {
			case <-c.done:
			default:
				glog.Warningf("broadcast: relay channel %s closed: %v", c.name, err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		if msg.Origin == c.origin {
			continue
		}
		c.d.enqueue(msg)
	}
}
