package filesystem

import (
	"context"
	"encoding/base64"
	stdlog "log"
	"os"
	"path/filepath"
	"sort"

	"collabroom-server/core"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type snapshotStore struct {
	basePath string
}

// NewSnapshotStore creates a filesystem-backed snapshot store. Each room gets
// one directory of append-only, ULID-named snapshot files; ULIDs sort
// lexicographically in creation order, so the highest filename is the latest
// snapshot.
func NewSnapshotStore(basePath string) core.SnapshotStore {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		stdlog.Fatalf("failed to create base directory: %v", err)
	}
	return &snapshotStore{basePath: basePath}
}

// roomDir encodes the caller-supplied room ID so path separators and dot
// segments cannot escape the base directory.
func (s *snapshotStore) roomDir(roomID string) string {
	return filepath.Join(s.basePath, base64.RawURLEncoding.EncodeToString([]byte(roomID)))
}

func (s *snapshotStore) Append(ctx context.Context, roomID, content string) (string, error) {
	id := ulid.Make().String()
	dir := s.roomDir(roomID)

	log := logrus.WithFields(logrus.Fields{
		"snapshot_id":    id,
		"room_id":        roomID,
		"content_length": len(content),
	})

	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.WithError(err).Error("Failed to create room directory")
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, id), []byte(content), 0o644); err != nil {
		log.WithError(err).Error("Failed to write snapshot file")
		return "", err
	}

	log.Info("Snapshot appended")
	return id, nil
}

func (s *snapshotStore) FetchLatest(ctx context.Context, roomID string) (string, bool, error) {
	log := logrus.WithField("room_id", roomID)

	names, err := s.snapshotNames(roomID)
	if err != nil {
		log.WithError(err).Error("Failed to read room directory")
		return "", false, err
	}
	if len(names) == 0 {
		log.Debug("No snapshots for room")
		return "", false, nil
	}

	data, err := os.ReadFile(filepath.Join(s.roomDir(roomID), names[0]))
	if err != nil {
		log.WithError(err).Error("Failed to read snapshot file")
		return "", false, err
	}
	return string(data), true, nil
}

func (s *snapshotStore) ListSnapshots(ctx context.Context, roomID string) ([]core.Snapshot, error) {
	log := logrus.WithField("room_id", roomID)

	names, err := s.snapshotNames(roomID)
	if err != nil {
		log.WithError(err).Error("Failed to read room directory")
		return nil, err
	}

	var snapshots []core.Snapshot
	for _, name := range names {
		id, err := ulid.Parse(name)
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.roomDir(roomID), name))
		if err != nil {
			log.WithError(err).Warn("Failed to read snapshot file")
			continue
		}
		snapshots = append(snapshots, core.Snapshot{
			ID:        name,
			RoomID:    roomID,
			Content:   string(data),
			CreatedAt: int64(id.Time()),
		})
	}
	return snapshots, nil
}

// snapshotNames returns the room's snapshot filenames newest first. A room
// with no directory simply has no snapshots.
func (s *snapshotStore) snapshotNames(roomID string) ([]string, error) {
	entries, err := os.ReadDir(s.roomDir(roomID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}
