package memory

import (
	"context"
	"sync"

	"collabroom-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type snapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string][]core.Snapshot
}

func NewSnapshotStore() core.SnapshotStore {
	return &snapshotStore{
		snapshots: make(map[string][]core.Snapshot),
	}
}

func (s *snapshotStore) Append(ctx context.Context, roomID, content string) (string, error) {
	snapshot := core.Snapshot{
		ID:        ulid.Make().String(),
		RoomID:    roomID,
		Content:   content,
		CreatedAt: int64(ulid.Now()),
	}

	s.mu.Lock()
	s.snapshots[roomID] = append(s.snapshots[roomID], snapshot)
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"snapshot_id":    snapshot.ID,
		"room_id":        roomID,
		"content_length": len(content),
	}).Info("Snapshot appended")

	return snapshot.ID, nil
}

func (s *snapshotStore) FetchLatest(ctx context.Context, roomID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[roomID]
	if len(list) == 0 {
		logrus.WithField("room_id", roomID).Debug("No snapshots for room")
		return "", false, nil
	}

	// Appends are chronological within a process, so the last entry is the
	// latest.
	return list[len(list)-1].Content, true, nil
}

func (s *snapshotStore) ListSnapshots(ctx context.Context, roomID string) ([]core.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.snapshots[roomID]
	out := make([]core.Snapshot, len(list))
	// Newest first.
	for i, snap := range list {
		out[len(list)-1-i] = snap
	}
	return out, nil
}
