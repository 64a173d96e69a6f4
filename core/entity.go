package core

import (
	"context"
)

type (
	// Room describes one collaborative session as seen by the HTTP API.
	Room struct {
		ID           string `json:"id"`
		Participants int    `json:"participants"`
		LastActive   int64  `json:"lastActive,omitempty"`
	}

	// Snapshot is one durable, timestamped copy of a room's content.
	// Snapshots are append-only; "latest" means highest CreatedAt, snapshot
	// ID as tiebreak (ULIDs sort chronologically).
	Snapshot struct {
		ID        string `json:"id"`
		RoomID    string `json:"room_id"`
		Content   string `json:"content"`
		CreatedAt int64  `json:"created_at"`
	}

	// SnapshotStore is the durable-store boundary. Append inserts one
	// snapshot and returns its ID. FetchLatest returns the most recent
	// snapshot's content for the room; a room with no snapshots yields
	// ok=false with a nil error, never an error value.
	SnapshotStore interface {
		Append(ctx context.Context, roomID, content string) (string, error)
		FetchLatest(ctx context.Context, roomID string) (content string, ok bool, err error)
		ListSnapshots(ctx context.Context, roomID string) ([]Snapshot, error)
	}
)
