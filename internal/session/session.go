// Package session tracks live connections, their room memberships and the
// files each connection has already received.
package session

import (
	"sort"
	"sync"
)

// ReleaseFunc is notified after a connection's session has been dropped.
type ReleaseFunc func(connID string)

type clientSession struct {
	rooms    map[string]struct{}
	received map[string]struct{}
}

type Registry struct {
	mu        sync.RWMutex
	sessions  map[string]*clientSession
	rooms     map[string]map[string]struct{}
	listeners []ReleaseFunc
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*clientSession),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// OnRelease registers fn to run after every Release.
func (r *Registry) OnRelease(fn ReleaseFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *Registry) Register(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session(connID)
}

// session returns the session for connID, creating it. Caller holds mu.
func (r *Registry) session(connID string) *clientSession {
	s, ok := r.sessions[connID]
	if !ok {
		s = &clientSession{
			rooms:    make(map[string]struct{}),
			received: make(map[string]struct{}),
		}
		r.sessions[connID] = s
	}
	return s
}

func (r *Registry) HasFile(connID, fileID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return false
	}
	_, ok = s.received[fileID]
	return ok
}

// MarkReceived is a no-op for a connection that has already been released.
func (r *Registry) MarkReceived(connID, fileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[connID]; ok {
		s.received[fileID] = struct{}{}
	}
}

// JoinRoom adds connID to roomID and returns the other members at the time of
// joining, sorted.
func (r *Registry) JoinRoom(connID, roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session(connID).rooms[roomID] = struct{}{}
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	peers := make([]string, 0, len(members))
	for id := range members {
		if id != connID {
			peers = append(peers, id)
		}
	}
	members[connID] = struct{}{}
	sort.Strings(peers)
	return peers
}

// Release drops the session and its room memberships, then calls every
// release listener outside the lock.
func (r *Registry) Release(connID string) {
	r.mu.Lock()
	if s, ok := r.sessions[connID]; ok {
		for roomID := range s.rooms {
			members := r.rooms[roomID]
			delete(members, connID)
			if len(members) == 0 {
				delete(r.rooms, roomID)
			}
		}
		delete(r.sessions, connID)
	}
	listeners := append([]ReleaseFunc(nil), r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(connID)
	}
}

func (r *Registry) Received(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(s.received))
	for id := range s.received {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Members(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
