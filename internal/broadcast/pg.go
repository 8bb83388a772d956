package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/jackc/pgx/v5"
)

// pg_notify payloads must stay below 8000 bytes.
const pgMaxPayload = 7900

// PGBroker carries channels over Postgres LISTEN/NOTIFY so instances on
// different machines sharing one database see each other's mutations.
type PGBroker struct {
	dsn     string
	origin  string
	connect func(ctx context.Context, dsn string) (*pgx.Conn, error)

	pubMu  sync.Mutex
	pub    *pgx.Conn
	closed bool

	mu       sync.Mutex
	channels []*pgChannel
}

func NewPGBroker(dsn string) *PGBroker {
	return &PGBroker{
		dsn:     strings.TrimSpace(dsn),
		origin:  newOrigin(),
		connect: pgx.Connect,
	}
}

func (b *PGBroker) Open(name string) Channel {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := b.connect(ctx, b.dsn)
	if err != nil {
		glog.Warningf("broadcast: postgres unavailable, channel %s is local only: %v", name, err)
		return noopChannel{name: name}
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{name}.Sanitize()); err != nil {
		_ = conn.Close(ctx)
		glog.Warningf("broadcast: listen %s failed, channel is local only: %v", name, err)
		return noopChannel{name: name}
	}

	listenCtx, stop := context.WithCancel(context.Background())
	ch := &pgChannel{
		broker: b,
		name:   name,
		conn:   conn,
		d:      newDispatcher(),
		stop:   stop,
		done:   make(chan struct{}),
	}
	go ch.listen(listenCtx)

	b.mu.Lock()
	b.channels = append(b.channels, ch)
	b.mu.Unlock()
	return ch
}

func (b *PGBroker) Close() error {
	b.mu.Lock()
	channels := b.channels
	b.channels = nil
	b.mu.Unlock()
	for _, ch := range channels {
		_ = ch.Close()
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	b.closed = true
	if b.pub == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := b.pub.Close(ctx)
	b.pub = nil
	return err
}

// notify publishes on a shared connection that is dialed on first use and
// again after a failed dial or a broken connection.
func (b *PGBroker) notify(ctx context.Context, channel string, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(payload) > pgMaxPayload {
		glog.Warningf("broadcast: dropping %s message on %s, payload %d bytes exceeds notify limit", msg.Op, channel, len(payload))
		return nil
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if b.closed {
		return nil
	}
	if b.pub == nil {
		conn, err := b.connect(ctx, b.dsn)
		if err != nil {
			return fmt.Errorf("connect publisher: %w", err)
		}
		b.pub = conn
	}
	if _, err := b.pub.Exec(ctx, "SELECT pg_notify($1, $2)", channel, string(payload)); err != nil {
		if b.pub.IsClosed() {
			b.pub = nil
		}
		return err
	}
	return nil
}

type pgChannel struct {
	broker *PGBroker
	name   string
	conn   *pgx.Conn
	d      *dispatcher

	stop      context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func (c *pgChannel) Name() string { return c.name }

func (c *pgChannel) Publish(ctx context.Context, msg Message) error {
	if msg.Origin == "" {
		msg.Origin = c.broker.origin
	}
	return c.broker.notify(ctx, c.name, msg)
}

func (c *pgChannel) Subscribe(handler func(Message)) func() {
	return c.d.subscribe(handler)
}

func (c *pgChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.stop()
		<-c.done
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		err = c.conn.Close(ctx)
		c.d.close()
	})
	return err
}

func (c *pgChannel) listen(ctx context.Context) {
	defer close(c.done)
	for {
		n, err := c.conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				glog.Warningf("broadcast: postgres channel %s stopped: %v", c.name, err)
			}
			return
		}
		var msg Message
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
			glog.V(1).Infof("broadcast: skipping malformed payload on %s: %v", c.name, err)
			continue
		}
		if msg.Origin == c.broker.origin {
			continue
		}
		c.d.enqueue(msg)
	}
}
