package presence

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RoomEmptied signals that a room's participant set transitioned from
// non-empty to empty. Emitted at most once per contiguous occupied-to-empty
// transition.
type RoomEmptied struct {
	RoomID    string
	EmptiedAt int64
}

type room struct {
	mu      sync.Mutex
	members []string
}

func (rm *room) index(participantID string) int {
	for i, m := range rm.members {
		if m == participantID {
			return i
		}
	}
	return -1
}

// Tracker maintains each room's set of currently-joined participants and
// emits RoomEmptied signals. It never persists anything itself; consumers of
// Emptied own the side effects. All mutation of one room is serialized on
// that room's lock; the outer lock guards entry lookup and creation only.
type Tracker struct {
	mu    sync.RWMutex
	rooms map[string]*room

	// Emptied signals are queued, then delivered by a single pump
	// goroutine, so they reach the consumer in emission order no matter
	// how fast rooms churn.
	qmu       sync.Mutex
	queue     []RoomEmptied
	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	emptied   chan RoomEmptied
}

func New() *Tracker {
	t := &Tracker{
		rooms:   make(map[string]*room),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		emptied: make(chan RoomEmptied),
	}
	go t.pump()
	return t
}

// Emptied is the stream of occupied-to-empty transitions.
func (t *Tracker) Emptied() <-chan RoomEmptied {
	return t.emptied
}

// Close stops signal delivery and releases the pump goroutine. Joins and
// leaves after Close still update the participant sets; their emptied
// signals are queued but never delivered. Safe to call more than once.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() { close(t.done) })
}

func (t *Tracker) room(roomID string, create bool) *room {
	t.mu.RLock()
	rm, ok := t.rooms[roomID]
	t.mu.RUnlock()
	if ok || !create {
		return rm
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if rm, ok = t.rooms[roomID]; ok {
		return rm
	}
	rm = &room{}
	t.rooms[roomID] = rm
	return rm
}

// Join adds the participant to the room. Rejoining is a no-op, so replayed
// join events from an at-least-once transport leave the set unchanged.
func (t *Tracker) Join(roomID, participantID string) {
	rm := t.room(roomID, true)
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.index(participantID) >= 0 {
		return
	}
	rm.members = append(rm.members, participantID)
	logrus.WithFields(logrus.Fields{
		"room_id":        roomID,
		"participant_id": participantID,
		"participants":   len(rm.members),
	}).Debug("participant joined")
}

// Leave removes the participant if present and reports whether the set
// changed. The transition to an empty set emits exactly one RoomEmptied
// signal; a leave for an already-absent participant emits nothing.
func (t *Tracker) Leave(roomID, participantID string) bool {
	rm := t.room(roomID, false)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	i := rm.index(participantID)
	if i < 0 {
		rm.mu.Unlock()
		return false
	}
	rm.members = append(rm.members[:i], rm.members[i+1:]...)
	if len(rm.members) == 0 {
		// Queued under the room lock: a rejoin-and-leave racing this
		// leave cannot get its signal ahead of ours.
		t.emit(RoomEmptied{RoomID: roomID, EmptiedAt: time.Now().UnixMilli()})
	}
	rm.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"room_id":        roomID,
		"participant_id": participantID,
	}).Debug("participant left")

	return true
}

// emit appends the signal to the queue and never blocks the presence path.
func (t *Tracker) emit(sig RoomEmptied) {
	t.qmu.Lock()
	t.queue = append(t.queue, sig)
	t.qmu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
}

// pump delivers queued signals one at a time until Close.
func (t *Tracker) pump() {
	for {
		t.qmu.Lock()
		if len(t.queue) == 0 {
			t.qmu.Unlock()
			select {
			case <-t.wake:
				continue
			case <-t.done:
				return
			}
		}
		sig := t.queue[0]
		t.queue = t.queue[1:]
		t.qmu.Unlock()

		select {
		case t.emptied <- sig:
		case <-t.done:
			return
		}
	}
}

// DropParticipant removes the participant from every room it occupies and
// returns the affected room IDs. Used when the transport reports a
// connection gone without an explicit leave, so a vanished participant
// cannot leave a room stuck occupied forever.
func (t *Tracker) DropParticipant(participantID string) []string {
	t.mu.RLock()
	roomIDs := make([]string, 0, len(t.rooms))
	for id := range t.rooms {
		roomIDs = append(roomIDs, id)
	}
	t.mu.RUnlock()

	var left []string
	for _, id := range roomIDs {
		if t.Leave(id, participantID) {
			left = append(left, id)
		}
	}
	return left
}

// Participants returns a copy of the room's participant IDs in join order.
func (t *Tracker) Participants(roomID string) []string {
	rm := t.room(roomID, false)
	if rm == nil {
		return nil
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make([]string, len(rm.members))
	copy(out, rm.members)
	return out
}

// Count returns the room's current participant count.
func (t *Tracker) Count(roomID string) int {
	rm := t.room(roomID, false)
	if rm == nil {
		return 0
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return len(rm.members)
}

// Rooms returns the currently occupied rooms and their participant counts.
func (t *Tracker) Rooms() map[string]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rooms := make(map[string]int, len(t.rooms))
	for id, rm := range t.rooms {
		rm.mu.Lock()
		n := len(rm.members)
		rm.mu.Unlock()
		if n > 0 {
			rooms[id] = n
		}
	}
	return rooms
}
