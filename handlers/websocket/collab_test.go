package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"collabroom-server/coordinator"
	"collabroom-server/core"
	"collabroom-server/presence"
	"collabroom-server/registry"
	"collabroom-server/stores/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	Event   string
	RoomID  string
	Target  string
	Except  string
	Payload any
}

// recordingSender captures outbound events in order.
type recordingSender struct {
	mu     sync.Mutex
	events []sentEvent
}

func (r *recordingSender) Send(event, roomID string, payload any) error {
	r.record(sentEvent{Event: event, RoomID: roomID, Payload: payload})
	return nil
}

func (r *recordingSender) SendExcept(event, roomID, participantID string, payload any) error {
	r.record(sentEvent{Event: event, RoomID: roomID, Except: participantID, Payload: payload})
	return nil
}

func (r *recordingSender) SendToParticipant(event, participantID string, payload any) error {
	r.record(sentEvent{Event: event, Target: participantID, Payload: payload})
	return nil
}

func (r *recordingSender) record(e sentEvent) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSender) all() []sentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sentEvent, len(r.events))
	copy(out, r.events)
	return out
}

func (r *recordingSender) byEvent(event string) []sentEvent {
	var out []sentEvent
	for _, e := range r.all() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	collab  *Collab
	sender  *recordingSender
	tracker *presence.Tracker
	reg     *registry.Registry
	store   core.SnapshotStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sender:  &recordingSender{},
		tracker: presence.New(),
		reg:     registry.New(),
		store:   memory.NewSnapshotStore(),
	}
	f.collab = NewCollab(context.Background(), f.sender, f.tracker, f.reg, f.store)
	return f
}

func TestHandleJoin_TracksAndSendsContent(t *testing.T) {
	f := newFixture(t)

	f.reg.SetContent("r1", "x=1")
	f.collab.HandleJoin("r1", "alice")

	assert.Equal(t, 1, f.tracker.Count("r1"))

	contents := f.sender.byEvent(EventRoomContent)
	require.Len(t, contents, 1)
	assert.Equal(t, "alice", contents[0].Target)
	assert.Equal(t, ContentPayload{RoomID: "r1", Content: "x=1"}, contents[0].Payload)

	changes := f.sender.byEvent(EventRoomUserChange)
	require.Len(t, changes, 1)
	assert.Equal(t, []string{"alice"}, changes[0].Payload)
}

func TestHandleJoin_SeedsFromStore(t *testing.T) {
	f := newFixture(t)

	// A prior process flushed this room; the registry knows nothing.
	_, err := f.store.Append(context.Background(), "r1", "restored")
	require.NoError(t, err)

	f.collab.HandleJoin("r1", "alice")

	assert.Equal(t, "restored", f.reg.GetContent("r1"))
	contents := f.sender.byEvent(EventRoomContent)
	require.Len(t, contents, 1)
	assert.Equal(t, ContentPayload{RoomID: "r1", Content: "restored"}, contents[0].Payload)
}

func TestHandleJoin_UnknownRoomSendsEmptyContent(t *testing.T) {
	f := newFixture(t)

	f.collab.HandleJoin("r1", "alice")

	contents := f.sender.byEvent(EventRoomContent)
	require.Len(t, contents, 1)
	assert.Equal(t, ContentPayload{RoomID: "r1", Content: ""}, contents[0].Payload)
}

func TestHandleJoin_StoreErrorDoesNotBlockJoin(t *testing.T) {
	f := newFixture(t)
	f.collab.store = &erroringStore{}

	f.collab.HandleJoin("r1", "alice")

	// Presence state is independent of persistence failures.
	assert.Equal(t, 1, f.tracker.Count("r1"))
	contents := f.sender.byEvent(EventRoomContent)
	require.Len(t, contents, 1)
	assert.Equal(t, ContentPayload{RoomID: "r1", Content: ""}, contents[0].Payload)
}

type erroringStore struct{}

func (e *erroringStore) Append(ctx context.Context, roomID, content string) (string, error) {
	return "", errors.New("store down")
}

func (e *erroringStore) FetchLatest(ctx context.Context, roomID string) (string, bool, error) {
	return "", false, errors.New("store down")
}

func (e *erroringStore) ListSnapshots(ctx context.Context, roomID string) ([]core.Snapshot, error) {
	return nil, errors.New("store down")
}

func TestHandleContentUpdate_BroadcastsToOthers(t *testing.T) {
	f := newFixture(t)

	f.collab.HandleJoin("r1", "alice")
	f.collab.HandleJoin("r1", "bob")
	f.collab.HandleContentUpdate("r1", "alice", "x=1")

	assert.Equal(t, "x=1", f.reg.GetContent("r1"))

	broadcasts := f.sender.byEvent(EventContentBroadcast)
	require.Len(t, broadcasts, 1)
	assert.Equal(t, "r1", broadcasts[0].RoomID)
	assert.Equal(t, "alice", broadcasts[0].Except)
	assert.Equal(t, ContentPayload{RoomID: "r1", Content: "x=1"}, broadcasts[0].Payload)
}

func TestHandleLeave_NotifiesRemaining(t *testing.T) {
	f := newFixture(t)

	f.collab.HandleJoin("r1", "alice")
	f.collab.HandleJoin("r1", "bob")
	f.collab.HandleLeave("r1", "alice")

	changes := f.sender.byEvent(EventRoomUserChange)
	require.NotEmpty(t, changes)
	last := changes[len(changes)-1]
	assert.Equal(t, []string{"bob"}, last.Payload)
}

func TestHandleLeave_AbsentParticipantIsSilent(t *testing.T) {
	f := newFixture(t)

	f.collab.HandleJoin("r1", "alice")
	before := len(f.sender.all())

	f.collab.HandleLeave("r1", "ghost")
	assert.Len(t, f.sender.all(), before)
}

func TestHandleDisconnect_LeavesAllRooms(t *testing.T) {
	f := newFixture(t)

	f.collab.HandleJoin("r1", "alice")
	f.collab.HandleJoin("r1", "bob")
	f.collab.HandleJoin("r2", "alice")

	f.collab.HandleDisconnect("alice")

	assert.Equal(t, 1, f.tracker.Count("r1"))
	assert.Equal(t, 0, f.tracker.Count("r2"))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

// End-to-end through collab, tracker, coordinator and store: a single
// participant edits and leaves, producing exactly one durable snapshot.
func TestLastLeaveFlushesContent(t *testing.T) {
	f := newFixture(t)

	coord := coordinator.New(f.reg, f.store, f.tracker.Emptied(), time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f.collab.HandleJoin("r1", "alice")
	f.collab.HandleContentUpdate("r1", "alice", "x=1")
	f.collab.HandleLeave("r1", "alice")

	waitFor(t, func() bool { return coord.Flushes() == 1 })

	content, ok, err := f.store.FetchLatest(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x=1", content)

	snapshots, err := f.store.ListSnapshots(context.Background(), "r1")
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)
}

// Disconnect of the last participant behaves exactly like a leave: the room
// flushes.
func TestDisconnectOfLastParticipantFlushes(t *testing.T) {
	f := newFixture(t)

	coord := coordinator.New(f.reg, f.store, f.tracker.Emptied(), time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		coord.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	f.collab.HandleJoin("r1", "alice")
	f.collab.HandleContentUpdate("r1", "alice", "draft")
	f.collab.HandleDisconnect("alice")

	waitFor(t, func() bool { return coord.Flushes() == 1 })

	content, ok, err := f.store.FetchLatest(context.Background(), "r1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "draft", content)
}
