package signal

import (
	"path"
	"sync"
	"testing"
	"time"

	"github.com/gammazero/workerpool"

	"intervu.me/pkg/msgbroker"
	"intervu.me/pkg/websocket"
	"intervu.me/storage"
)

// fakePeer records every event sent to it.
type fakePeer struct {
	id string
	mu sync.Mutex

	events []websocket.Event
	role   string
	roomID string
}

func newFakePeer(id string) *fakePeer {
	return &fakePeer{id: id}
}

func (p *fakePeer) GetID() string {
	return p.id
}

func (p *fakePeer) Send(e websocket.Event) error {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) RecordRole(roomID, role string) {
	p.mu.Lock()
	p.roomID, p.role = roomID, role
	p.mu.Unlock()
}

func (p *fakePeer) count(event string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

func (p *fakePeer) last(event string) (websocket.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Event == event {
			return p.events[i], true
		}
	}
	return websocket.Event{}, false
}

// memBroker is an in-process MessageBroker delivering synchronously, in
// publish order.
type memBroker struct {
	mu       sync.Mutex
	handlers map[string]msgbroker.MessageHandler
}

func newMemBroker() *memBroker {
	return &memBroker{handlers: make(map[string]msgbroker.MessageHandler)}
}

func (b *memBroker) Publish(msg []byte, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for pattern, h := range b.handlers {
		if ok, _ := path.Match(pattern, channel); ok {
			h(&msgbroker.Message{Channel: channel, Data: msg})
		}
	}
	return nil
}

func (b *memBroker) Subscribe(pattern string, cb msgbroker.MessageHandler) error {
	b.mu.Lock()
	b.handlers[pattern] = cb
	b.mu.Unlock()
	return nil
}

func (b *memBroker) Unsubscribe(patterns ...string) error {
	b.mu.Lock()
	for _, p := range patterns {
		delete(b.handlers, p)
	}
	b.mu.Unlock()
	return nil
}

func (b *memBroker) Close() error {
	return nil
}

type runnerFunc func(code, language string) (string, error)

func (f runnerFunc) Run(code, language string) (string, error) {
	return f(code, language)
}

func newTestCoordinator(t *testing.T, run runnerFunc) (*Coordinator, *storage.Store) {
	t.Helper()
	if run == nil {
		run = func(code, language string) (string, error) { return "", nil }
	}
	store := storage.NewStore()
	c := New(store, websocket.NewChannels(), newMemBroker(), workerpool.New(2), run)
	c.JoinCheckDelay = 10 * time.Millisecond
	c.ReadyCheckDelay = 5 * time.Millisecond
	c.SettleDelay = 5 * time.Millisecond
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	return c, store
}

func join(c *Coordinator, p websocket.Peer, roomID, role string) {
	c.Handle(p, websocket.NewEvent(websocket.EvtJoinRoom, websocket.JoinRoom{RoomID: roomID, Role: role}))
}

func ready(c *Coordinator, p websocket.Peer, roomID, role string) {
	c.Handle(p, websocket.NewEvent(websocket.EvtReady, websocket.Ready{RoomID: roomID, Role: role}))
}
