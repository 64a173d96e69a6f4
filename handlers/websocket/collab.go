package websocket

import (
	"context"

	"collabroom-server/core"
	"collabroom-server/presence"
	"collabroom-server/registry"

	"github.com/sirupsen/logrus"
)

// Events emitted back to participants.
const (
	EventRoomContent      = "room-content"
	EventContentBroadcast = "content-broadcast"
	EventRoomUserChange   = "room-user-change"
)

type (
	ContentPayload struct {
		RoomID  string `json:"roomId"`
		Content string `json:"content"`
	}

	// Sender is the outbound half of the transport adapter.
	Sender interface {
		Send(event, roomID string, payload any) error
		SendExcept(event, roomID, participantID string, payload any) error
		SendToParticipant(event, participantID string, payload any) error
	}
)

// Collab applies inbound room events to the presence tracker and content
// registry, seeds a joiner with the room's current content, and fans
// updates out to the other participants. It implements
// transport.EventHandler; durable writes are not its concern — those belong
// to the coordinator listening on the tracker's emptied signals.
type Collab struct {
	ctx      context.Context
	sender   Sender
	tracker  *presence.Tracker
	registry *registry.Registry
	store    core.SnapshotStore
}

func NewCollab(ctx context.Context, sender Sender, tracker *presence.Tracker, reg *registry.Registry, store core.SnapshotStore) *Collab {
	return &Collab{
		ctx:      ctx,
		sender:   sender,
		tracker:  tracker,
		registry: reg,
		store:    store,
	}
}

func (c *Collab) HandleJoin(roomID, participantID string) {
	c.tracker.Join(roomID, participantID)

	content, _, ok := c.registry.Lookup(roomID)
	if !ok {
		// First sight of this room in memory: seed from the last durable
		// snapshot so a participant reopening a flushed room gets its
		// content back.
		stored, found, err := c.store.FetchLatest(c.ctx, roomID)
		if err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Warn("failed to seed room from store")
		} else if found {
			c.registry.SetContent(roomID, stored)
			content = stored
		}
	}

	if err := c.sender.SendToParticipant(EventRoomContent, participantID, ContentPayload{RoomID: roomID, Content: content}); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"room_id":        roomID,
			"participant_id": participantID,
		}).Warn("failed to send room content")
	}

	c.notifyUserChange(roomID)
}

func (c *Collab) HandleLeave(roomID, participantID string) {
	if !c.tracker.Leave(roomID, participantID) {
		return
	}
	c.notifyUserChange(roomID)
}

func (c *Collab) HandleContentUpdate(roomID, participantID, content string) {
	c.registry.SetContent(roomID, content)

	err := c.sender.SendExcept(EventContentBroadcast, roomID, participantID, ContentPayload{RoomID: roomID, Content: content})
	if err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("failed to broadcast content")
	}
}

func (c *Collab) HandleDisconnect(participantID string) {
	// A vanished connection counts as a leave from every room it occupied.
	// Without this, the last participant closing a tab would leave the room
	// occupied forever and its content would never flush.
	for _, roomID := range c.tracker.DropParticipant(participantID) {
		c.notifyUserChange(roomID)
	}
}

func (c *Collab) notifyUserChange(roomID string) {
	participants := c.tracker.Participants(roomID)
	if len(participants) == 0 {
		return
	}
	if err := c.sender.Send(EventRoomUserChange, roomID, participants); err != nil {
		logrus.WithError(err).WithField("room_id", roomID).Warn("failed to send user change")
	}
}
