package broadcast

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) snapshot() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func idMessage(op Op, id string) Message {
	raw, _ := json.Marshal(map[string]string{"id": id})
	return Message{Op: op, Data: raw}
}

func TestLocalHubDeliversToPeersOnly(t *testing.T) {
	hub := NewLocalHub()
	a := hub.Tab()
	b := hub.Tab()
	defer a.Close()
	defer b.Close()

	chA := a.Open(ChannelName("workers"))
	chB := b.Open(ChannelName("workers"))
	other := b.Open(ChannelName("environments"))

	var gotA, gotB, gotOther recorder
	chA.Subscribe(gotA.handle)
	chB.Subscribe(gotB.handle)
	other.Subscribe(gotOther.handle)

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, chA.Publish(context.Background(), idMessage(OpAdd, id)))
	}

	require.Eventually(t, func() bool { return len(gotB.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	msgs := gotB.snapshot()
	for i, id := range []string{"1", "2", "3"} {
		assert.JSONEq(t, `{"id":"`+id+`"}`, string(msgs[i].Data), "FIFO order")
		assert.NotEmpty(t, msgs[i].Origin)
	}
	assert.Empty(t, gotA.snapshot(), "publisher must not receive its own message")
	assert.Empty(t, gotOther.snapshot(), "other resource channels must not receive it")
}

func TestLocalChannelCloseStopsDelivery(t *testing.T) {
	hub := NewLocalHub()
	a := hub.Tab()
	b := hub.Tab()
	chA := a.Open("channel:kv")
	chB := b.Open("channel:kv")

	var got recorder
	unsubscribe := chB.Subscribe(got.handle)
	unsubscribe()
	require.NoError(t, chA.Publish(context.Background(), idMessage(OpDelete, "x")))

	require.NoError(t, b.Close())
	require.NoError(t, chA.Publish(context.Background(), idMessage(OpDelete, "y")))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got.snapshot())

	closed := b.Open("channel:kv")
	assert.NoError(t, closed.Publish(context.Background(), idMessage(OpAdd, "z")))
}

func TestNoopBroker(t *testing.T) {
	ch := NoopBroker{}.Open(AuthChannel)
	assert.Equal(t, AuthChannel, ch.Name())
	assert.NoError(t, ch.Publish(context.Background(), Message{Op: OpAdd}))
	ch.Subscribe(func(Message) { t.Fatalf("noop channel delivered a message") })()
	assert.NoError(t, ch.Close())
}

func TestWSBrokerThroughRelay(t *testing.T) {
	hub := NewRelayHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()
	relayURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	a := NewWSBroker(relayURL)
	b := NewWSBroker(relayURL)
	defer a.Close()
	defer b.Close()

	chA := a.Open(ChannelName("databases"))
	chB := b.Open(ChannelName("databases"))
	require.Eventually(t, func() bool { return hub.Peers(ChannelName("databases")) == 2 }, time.Second, 5*time.Millisecond)

	var gotA, gotB recorder
	chA.Subscribe(gotA.handle)
	chB.Subscribe(gotB.handle)

	require.NoError(t, chA.Publish(context.Background(), idMessage(OpAdd, "db-1")))
	require.NoError(t, chA.Publish(context.Background(), idMessage(OpDelete, "db-1")))

	require.Eventually(t, func() bool { return len(gotB.snapshot()) == 2 }, 2*time.Second, 5*time.Millisecond)
	msgs := gotB.snapshot()
	assert.Equal(t, OpAdd, msgs[0].Op)
	assert.Equal(t, OpDelete, msgs[1].Op)
	assert.Empty(t, gotA.snapshot())
}

func TestWSBrokerDegradesWhenRelayMissing(t *testing.T) {
	b := NewWSBroker("ws://127.0.0.1:1/ws")
	b.dialTimeout = 200 * time.Millisecond
	ch := b.Open(ChannelName("storage"))
	_, isNoop := ch.(noopChannel)
	assert.True(t, isNoop)
	assert.NoError(t, ch.Publish(context.Background(), idMessage(OpAdd, "s")))
}

func TestRelayRequiresChannel(t *testing.T) {
	hub := NewRelayHub()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/ws")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 400, resp.StatusCode)
}
