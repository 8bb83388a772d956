// Package broadcast propagates cache mutations between client instances that
// share a resource type, without going through the API. A Channel is the
// equivalent of a same-origin BroadcastChannel: fire-and-forget, FIFO per
// channel, never echoed back to the publisher, no backlog for late joiners.
package broadcast

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Op is the kind of mutation carried by a Message.
type Op string

const (
	OpAdd    Op = "add"
	OpDelete Op = "del"
	OpUpdate Op = "up"
)

// AuthChannel carries session-wide sign-in/sign-out notifications.
const AuthChannel = "channel:auth"

// ChannelName returns the channel used by one resource type.
func ChannelName(base string) string {
	return "channel:" + strings.TrimSpace(base)
}

// Message is one broadcast mutation. Data holds the entity for add/up and at
// least {"id": ...} for del.
type Message struct {
	Op     Op              `json:"op"`
	Full   bool            `json:"full,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Origin string          `json:"origin,omitempty"`
}

// Channel is one named broadcast endpoint owned by a single client instance.
type Channel interface {
	Name() string
	// Publish sends msg to every other endpoint with the same name.
	Publish(ctx context.Context, msg Message) error
	// Subscribe registers handler for messages from other endpoints. Handlers
	// run one at a time, in receipt order.
	Subscribe(handler func(Message)) (unsubscribe func())
	Close() error
}

// Broker opens channels for one client instance.
type Broker interface {
	Open(name string) Channel
	Close() error
}

func newOrigin() string {
	return ulid.Make().String()
}
