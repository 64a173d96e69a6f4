package registry

import (
	"sync"
	"time"
)

type entry struct {
	mu        sync.Mutex
	content   string
	rev       uint64
	updatedAt int64
}

// Registry is the in-memory cache of each room's latest content. It carries
// no persistence logic; entries exist only until cleared or the process
// exits. The outer lock guards entry lookup and creation only, so mutations
// of one room never wait on another room's.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*entry
}

func New() *Registry {
	return &Registry{rooms: make(map[string]*entry)}
}

func (r *Registry) room(roomID string, create bool) *entry {
	r.mu.RLock()
	e, ok := r.rooms[roomID]
	r.mu.RUnlock()
	if ok || !create {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.rooms[roomID]; ok {
		return e
	}
	e = &entry{}
	r.rooms[roomID] = e
	return e
}

// SetContent overwrites the room's latest content, creating the entry if the
// room is unknown.
func (r *Registry) SetContent(roomID, content string) {
	e := r.room(roomID, true)
	e.mu.Lock()
	e.content = content
	e.rev++
	e.updatedAt = time.Now().UnixMilli()
	e.mu.Unlock()
}

// GetContent returns the room's current content, or the empty string when
// the room is unknown. An unknown room is not an error.
func (r *Registry) GetContent(roomID string) string {
	content, _, _ := r.Lookup(roomID)
	return content
}

// Lookup returns the room's content, its revision, and whether the room has
// an in-memory entry at all. Callers use ok=false to decide whether to seed
// from durable storage; the revision feeds ClearIf.
func (r *Registry) Lookup(roomID string) (content string, rev uint64, ok bool) {
	e := r.room(roomID, false)
	if e == nil {
		return "", 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content, e.rev, true
}

// LastUpdated returns the room's last-updated timestamp in unix millis.
func (r *Registry) LastUpdated(roomID string) (int64, bool) {
	e := r.room(roomID, false)
	if e == nil {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updatedAt, true
}

// Clear removes the room's in-memory entry. Safe when the room is unknown.
func (r *Registry) Clear(roomID string) {
	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()
}

// ClearIf removes the entry only when its revision still matches rev. A
// flush uses this after a successful write so that content set by a
// participant who rejoined mid-flush is never dropped.
func (r *Registry) ClearIf(roomID string, rev uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	e.mu.Lock()
	current := e.rev
	e.mu.Unlock()
	if current != rev {
		return false
	}
	delete(r.rooms, roomID)
	return true
}

// Len reports how many rooms currently have an in-memory entry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
