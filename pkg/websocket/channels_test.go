package websocket

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

type testPeer struct {
	id string
	mu sync.Mutex
	n  int
}

func (p *testPeer) GetID() string { return p.id }

func (p *testPeer) Send(Event) error {
	p.mu.Lock()
	p.n++
	p.mu.Unlock()
	return nil
}

func (p *testPeer) sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.n
}

func TestChannelsSubscribeAndBroadcast(t *testing.T) {
	ch := NewChannels()
	a := &testPeer{id: "a"}
	b := &testPeer{id: "b"}
	c := &testPeer{id: "c"}

	ch.Subscribe(a, "code:r1")
	ch.Subscribe(b, "code:r1")
	ch.Subscribe(c, "code:r2")

	ch.Broadcast(Event{Event: EvtCodeChange}, "code:r1", "a")
	assert.Equal(t, 0, a.sent())
	assert.Equal(t, 1, b.sent())
	assert.Equal(t, 0, c.sent())

	ch.Broadcast(Event{Event: EvtCodeChange}, "code:r1", "")
	assert.Equal(t, 1, a.sent())
	assert.Equal(t, 2, b.sent())
}

func TestChannelsUnsubscribeAndDrop(t *testing.T) {
	ch := NewChannels()
	a := &testPeer{id: "a"}
	b := &testPeer{id: "b"}

	ch.Subscribe(a, "code:r1", "code:r2")
	ch.Subscribe(b, "code:r1")
	assert.Len(t, ch.GetSubscribers("code:r1"), 2)

	ch.Unsubscribe(a, "code:r1")
	assert.Len(t, ch.GetSubscribers("code:r1"), 1)
	assert.Len(t, ch.GetSubscribers("code:r2"), 1)

	ch.Drop("code:r1", "code:r2")
	assert.Nil(t, ch.GetSubscribers("code:r1"))
	assert.Nil(t, ch.GetSubscribers("code:r2"))

	// Unsubscribing from an unknown channel is a no-op.
	ch.Unsubscribe(b, "code:r9")
}
