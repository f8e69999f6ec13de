package websocket

import (
	"sync"
)

// Channels tracks which peers are attached to which multicast groups. The
// code-collaboration sub-scope of a room is one such group.
type Channels interface {
	Subscribe(p Peer, channels ...string)
	Unsubscribe(p Peer, channels ...string)
	// Drop removes whole channels, e.g. when the owning room is deleted.
	Drop(channels ...string)
	GetSubscribers(channel string) []Peer
	// Broadcast delivers e to every subscriber of channel except the peer
	// with the given id. Delivery is best-effort; write errors are ignored.
	Broadcast(e Event, channel string, except string)
}

type channels struct {
	sync.Mutex
	storage map[string]map[string]Peer
}

func NewChannels() Channels {
	return &channels{
		storage: make(map[string]map[string]Peer),
	}
}

func (h *channels) Subscribe(p Peer, channels ...string) {
	h.Lock()
	for _, ch := range channels {
		_, exists := h.storage[ch]
		if !exists {
			h.storage[ch] = make(map[string]Peer)
		}
		h.storage[ch][p.GetID()] = p
	}
	h.Unlock()
}

func (h *channels) Unsubscribe(p Peer, channels ...string) {
	h.Lock()
	for _, ch := range channels {
		_, exists := h.storage[ch]
		if exists {
			delete(h.storage[ch], p.GetID())
			if len(h.storage[ch]) == 0 {
				delete(h.storage, ch)
			}
		}
	}
	h.Unlock()
}

func (h *channels) Drop(channels ...string) {
	h.Lock()
	for _, ch := range channels {
		delete(h.storage, ch)
	}
	h.Unlock()
}

func (h *channels) GetSubscribers(channel string) []Peer {
	var result []Peer
	h.Lock()
	subscribers, channelExists := h.storage[channel]
	if channelExists {
		for _, s := range subscribers {
			result = append(result, s)
		}
	}
	h.Unlock()
	return result
}

func (h *channels) Broadcast(e Event, channel string, except string) {
	for _, s := range h.GetSubscribers(channel) {
		if s.GetID() == except {
			continue
		}
		_ = s.Send(e)
	}
}
