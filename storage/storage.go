package storage

import (
	"sync"
	"time"

	"intervu.me/pkg/websocket"
)

// Room holds the call-coordination state of one pairing scope. All fields are
// guarded by the embedded mutex; lock order is always Store before Room.
type Room struct {
	sync.Mutex

	ID string

	Host  websocket.Peer
	Guest websocket.Peer

	HostReady  bool
	GuestReady bool

	// NegotiationStarted latches once an offer has been requested for the
	// current epoch. It is the single source of truth for that question.
	NegotiationStarted bool

	LastActivity time.Time

	// Editors maps connection id to the code-editor profile registered
	// under it. Membership is independent of the call roles.
	Editors map[string]websocket.Participant

	timers  map[*time.Timer]struct{}
	deleted bool
}

func newRoom(id string) *Room {
	return &Room{
		ID:           id,
		LastActivity: time.Now(),
		Editors:      make(map[string]websocket.Participant),
		timers:       make(map[*time.Timer]struct{}),
	}
}

// Touch refreshes the activity timestamp. Call with the lock held.
func (r *Room) Touch() {
	r.LastActivity = time.Now()
}

// Deleted reports whether the room has been removed from its store. Call with
// the lock held; continuations holding a stale pointer must check it before
// mutating anything.
func (r *Room) Deleted() bool {
	return r.deleted
}

// RoleOf returns the call role held by the given connection, or "".
// Call with the lock held.
func (r *Room) RoleOf(peerID string) string {
	if r.Host != nil && r.Host.GetID() == peerID {
		return websocket.RoleHost
	}
	if r.Guest != nil && r.Guest.GetID() == peerID {
		return websocket.RoleGuest
	}
	return ""
}

// Counterpart returns the other occupied call slot relative to the given
// connection, or nil. Call with the lock held.
func (r *Room) Counterpart(peerID string) websocket.Peer {
	switch r.RoleOf(peerID) {
	case websocket.RoleHost:
		return r.Guest
	case websocket.RoleGuest:
		return r.Host
	}
	return nil
}

// Members returns the occupied call slots. Call with the lock held.
func (r *Room) Members() []websocket.Peer {
	var members []websocket.Peer
	if r.Host != nil {
		members = append(members, r.Host)
	}
	if r.Guest != nil {
		members = append(members, r.Guest)
	}
	return members
}

// Vacant reports whether both call slots are free. Call with the lock held.
func (r *Room) Vacant() bool {
	return r.Host == nil && r.Guest == nil
}

// Schedule runs fn after d unless the room is deleted first. Call without
// holding the lock. fn runs outside the lock and must re-check whatever state
// it depends on.
func (r *Room) Schedule(d time.Duration, fn func()) {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		r.Lock()
		if r.deleted {
			r.Unlock()
			return
		}
		delete(r.timers, t)
		r.Unlock()
		fn()
	})
	r.Lock()
	if r.deleted {
		r.Unlock()
		t.Stop()
		return
	}
	r.timers[t] = struct{}{}
	r.Unlock()
}

// markDeleted stops pending continuations. Call with the lock held.
func (r *Room) markDeleted() {
	r.deleted = true
	for t := range r.timers {
		t.Stop()
	}
	r.timers = make(map[*time.Timer]struct{})
}

// Store is the memory-resident room table. Rooms are created lazily by
// join-type events and removed either by lazy GC (both call slots vacant) or
// by the idle reaper.
type Store struct {
	sync.RWMutex
	rooms map[string]*Room
}

func NewStore() *Store {
	return &Store{rooms: make(map[string]*Room)}
}

func (s *Store) Get(id string) (*Room, bool) {
	s.RLock()
	r, ok := s.rooms[id]
	s.RUnlock()
	return r, ok
}

func (s *Store) GetOrCreate(id string) *Room {
	s.Lock()
	r, ok := s.rooms[id]
	if !ok {
		r = newRoom(id)
		s.rooms[id] = r
	}
	s.Unlock()
	return r
}

// Snapshot returns the current rooms. Callers iterating the result must
// re-check Deleted under each room's lock.
func (s *Store) Snapshot() []*Room {
	s.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.RUnlock()
	return rooms
}

func (s *Store) Len() int {
	s.RLock()
	n := len(s.rooms)
	s.RUnlock()
	return n
}

// DeleteIfVacant removes the room when both call slots are free and reports
// whether it did.
func (s *Store) DeleteIfVacant(id string) bool {
	s.Lock()
	defer s.Unlock()
	r, ok := s.rooms[id]
	if !ok {
		return false
	}
	r.Lock()
	vacant := r.Vacant()
	if vacant {
		r.markDeleted()
	}
	r.Unlock()
	if vacant {
		delete(s.rooms, id)
	}
	return vacant
}

// DeleteExpired removes every room whose last activity is older than ttl and
// returns the ids of the removed rooms.
func (s *Store) DeleteExpired(ttl time.Duration) []string {
	deadline := time.Now().Add(-ttl)
	var expired []string
	s.Lock()
	for id, r := range s.rooms {
		r.Lock()
		if r.LastActivity.Before(deadline) {
			r.markDeleted()
			expired = append(expired, id)
		}
		r.Unlock()
	}
	for _, id := range expired {
		delete(s.rooms, id)
	}
	s.Unlock()
	return expired
}
