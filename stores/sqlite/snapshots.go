package sqlite

import (
	"context"
	"database/sql"
	stdlog "log"

	"collabroom-server/core"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type snapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(dataSourceName string) core.SnapshotStore {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		stdlog.Fatal(err)
	}

	sts := `CREATE TABLE IF NOT EXISTS room_snapshots (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_room_snapshots_room
		ON room_snapshots (room_id, created_at DESC);`
	if _, err = db.Exec(sts); err != nil {
		stdlog.Fatal(err)
	}

	return &snapshotStore{db}
}

func (s *snapshotStore) Append(ctx context.Context, roomID, content string) (string, error) {
	id := ulid.Make().String()
	createdAt := int64(ulid.Now())

	log := logrus.WithFields(logrus.Fields{
		"snapshot_id":    id,
		"room_id":        roomID,
		"content_length": len(content),
	})

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO room_snapshots (id, room_id, content, created_at) VALUES (?, ?, ?, ?)",
		id, roomID, content, createdAt)
	if err != nil {
		log.WithError(err).Error("Failed to append snapshot")
		return "", err
	}

	log.Info("Snapshot appended")
	return id, nil
}

func (s *snapshotStore) FetchLatest(ctx context.Context, roomID string) (string, bool, error) {
	log := logrus.WithField("room_id", roomID)

	var content string
	err := s.db.QueryRowContext(ctx,
		"SELECT content FROM room_snapshots WHERE room_id = ? ORDER BY created_at DESC, id DESC LIMIT 1",
		roomID).Scan(&content)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Debug("No snapshots for room")
			return "", false, nil
		}
		log.WithError(err).Error("Failed to fetch latest snapshot")
		return "", false, err
	}

	return content, true, nil
}

func (s *snapshotStore) ListSnapshots(ctx context.Context, roomID string) ([]core.Snapshot, error) {
	log := logrus.WithField("room_id", roomID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, room_id, content, created_at FROM room_snapshots WHERE room_id = ? ORDER BY created_at DESC, id DESC",
		roomID)
	if err != nil {
		log.WithError(err).Error("Failed to list snapshots")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close snapshot rows")
		}
	}()

	var snapshots []core.Snapshot
	for rows.Next() {
		var snapshot core.Snapshot
		if err := rows.Scan(&snapshot.ID, &snapshot.RoomID, &snapshot.Content, &snapshot.CreatedAt); err != nil {
			log.WithError(err).Error("Failed to scan snapshot")
			continue
		}
		snapshots = append(snapshots, snapshot)
	}
	if err := rows.Err(); err != nil {
		log.WithError(err).Error("Failed to iterate snapshots")
		return nil, err
	}

	return snapshots, nil
}
