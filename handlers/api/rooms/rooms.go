package rooms

import (
	"net/http"
	"sort"

	"collabroom-server/core"
	"collabroom-server/presence"
	"collabroom-server/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type ContentResponse struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// HandleList returns the rooms currently known to the process: occupied
// rooms from the presence tracker merged with rooms that still hold
// unflushed content in the registry, busiest first.
func HandleList(tracker *presence.Tracker, reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		occupied := tracker.Rooms()

		roomList := make([]core.Room, 0, len(occupied))
		for id, count := range occupied {
			room := core.Room{ID: id, Participants: count}
			if last, ok := reg.LastUpdated(id); ok {
				room.LastActive = last
			}
			roomList = append(roomList, room)
		}

		sort.Slice(roomList, func(i, j int) bool {
			if roomList[i].Participants == roomList[j].Participants {
				if roomList[i].LastActive == roomList[j].LastActive {
					return roomList[i].ID < roomList[j].ID
				}
				return roomList[i].LastActive > roomList[j].LastActive
			}
			return roomList[i].Participants > roomList[j].Participants
		})

		render.JSON(w, r, roomList)
	}
}

// HandleGetContent returns a room's current content: the in-memory value
// when present, otherwise the latest durable snapshot. An unknown room is
// not an error; it has empty content.
func HandleGetContent(reg *registry.Registry, store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		if content, _, ok := reg.Lookup(roomID); ok {
			render.JSON(w, r, ContentResponse{RoomID: roomID, Content: content, Source: "memory"})
			return
		}

		content, found, err := store.FetchLatest(r.Context(), roomID)
		if err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Error("Failed to fetch latest snapshot")
			http.Error(w, "Failed to fetch room content", http.StatusInternalServerError)
			return
		}
		source := "store"
		if !found {
			source = "none"
		}
		render.JSON(w, r, ContentResponse{RoomID: roomID, Content: content, Source: source})
	}
}

// HandleListSnapshots lists a room's durable snapshots, newest first.
func HandleListSnapshots(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		snapshots, err := store.ListSnapshots(r.Context(), roomID)
		if err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Error("Failed to list snapshots")
			http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
			return
		}

		if snapshots == nil {
			snapshots = []core.Snapshot{}
		}
		render.JSON(w, r, snapshots)
	}
}

// HandleLatestSnapshot returns the most recent durable snapshot's content,
// or 404 when the room has never been flushed.
func HandleLatestSnapshot(store core.SnapshotStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "roomId")

		content, found, err := store.FetchLatest(r.Context(), roomID)
		if err != nil {
			logrus.WithError(err).WithField("room_id", roomID).Error("Failed to fetch latest snapshot")
			http.Error(w, "Failed to fetch latest snapshot", http.StatusInternalServerError)
			return
		}
		if !found {
			http.Error(w, "No snapshots for room", http.StatusNotFound)
			return
		}

		render.JSON(w, r, ContentResponse{RoomID: roomID, Content: content, Source: "store"})
	}
}
