package memory

import (
	"context"
	"strings"
	"sync"
	"testing"
)

func TestNewSnapshotStore(t *testing.T) {
	store := NewSnapshotStore()
	if store == nil {
		t.Fatal("NewSnapshotStore() returned nil")
	}
}

func TestAppend_Success(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	id, err := store.Append(ctx, "r1", "x=1")
	if err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	if id == "" {
		t.Error("Append() returned empty ID")
	}

	// Verify the ID is a valid ULID format (26 characters)
	if len(id) != 26 {
		t.Errorf("Append() returned invalid ID length: got %d, want 26", len(id))
	}
}

func TestAppend_EmptyContent(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	id, err := store.Append(ctx, "r1", "")
	if err != nil {
		t.Fatalf("Append() failed for empty content: %v", err)
	}

	content, ok, err := store.FetchLatest(ctx, "r1")
	if err != nil {
		t.Fatalf("FetchLatest() failed: %v", err)
	}
	if !ok {
		t.Fatal("FetchLatest() reported no snapshot after Append()")
	}
	if content != "" {
		t.Errorf("FetchLatest() content mismatch: got %q, want empty", content)
	}
	if id == "" {
		t.Error("Append() returned empty ID for empty content")
	}
}

func TestAppend_LargeContent(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	largeContent := strings.Repeat("x", 1024*1024)
	if _, err := store.Append(ctx, "r1", largeContent); err != nil {
		t.Fatalf("Append() failed for large content: %v", err)
	}

	content, ok, err := store.FetchLatest(ctx, "r1")
	if err != nil {
		t.Fatalf("FetchLatest() failed: %v", err)
	}
	if !ok {
		t.Fatal("FetchLatest() reported no snapshot")
	}
	if len(content) != len(largeContent) {
		t.Errorf("Retrieved content size mismatch: got %d, want %d", len(content), len(largeContent))
	}
}

func TestFetchLatest_RoundTrip(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "r1", "x=1"); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	content, ok, err := store.FetchLatest(ctx, "r1")
	if err != nil {
		t.Fatalf("FetchLatest() failed: %v", err)
	}
	if !ok {
		t.Fatal("FetchLatest() reported no snapshot")
	}
	if content != "x=1" {
		t.Errorf("FetchLatest() content mismatch: got %q, want %q", content, "x=1")
	}
}

func TestFetchLatest_Absent(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	// A room with no snapshots is absent, not an error.
	content, ok, err := store.FetchLatest(ctx, "r3")
	if err != nil {
		t.Fatalf("FetchLatest() returned error for unknown room: %v", err)
	}
	if ok {
		t.Error("FetchLatest() reported a snapshot for unknown room")
	}
	if content != "" {
		t.Errorf("FetchLatest() content for unknown room: got %q, want empty", content)
	}
}

func TestFetchLatest_ReturnsNewest(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	for _, content := range []string{"v1", "v2", "v3"} {
		if _, err := store.Append(ctx, "r1", content); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	content, ok, err := store.FetchLatest(ctx, "r1")
	if err != nil {
		t.Fatalf("FetchLatest() failed: %v", err)
	}
	if !ok {
		t.Fatal("FetchLatest() reported no snapshot")
	}
	if content != "v3" {
		t.Errorf("FetchLatest() content mismatch: got %q, want %q", content, "v3")
	}
}

func TestListSnapshots_NewestFirst(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	for _, content := range []string{"v1", "v2", "v3"} {
		if _, err := store.Append(ctx, "r1", content); err != nil {
			t.Fatalf("Append() failed: %v", err)
		}
	}

	snapshots, err := store.ListSnapshots(ctx, "r1")
	if err != nil {
		t.Fatalf("ListSnapshots() failed: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("ListSnapshots() length mismatch: got %d, want 3", len(snapshots))
	}
	for i, want := range []string{"v3", "v2", "v1"} {
		if snapshots[i].Content != want {
			t.Errorf("snapshot %d content mismatch: got %q, want %q", i, snapshots[i].Content, want)
		}
		if snapshots[i].RoomID != "r1" {
			t.Errorf("snapshot %d room mismatch: got %q, want %q", i, snapshots[i].RoomID, "r1")
		}
	}
}

func TestListSnapshots_Empty(t *testing.T) {
	store := NewSnapshotStore()

	snapshots, err := store.ListSnapshots(context.Background(), "r1")
	if err != nil {
		t.Fatalf("ListSnapshots() failed: %v", err)
	}
	if len(snapshots) != 0 {
		t.Errorf("ListSnapshots() length mismatch: got %d, want 0", len(snapshots))
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "r1", "one"); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}
	if _, err := store.Append(ctx, "r2", "two"); err != nil {
		t.Fatalf("Append() failed: %v", err)
	}

	content, ok, err := store.FetchLatest(ctx, "r1")
	if err != nil || !ok || content != "one" {
		t.Errorf("FetchLatest(r1) = %q, %v, %v; want %q", content, ok, err, "one")
	}
	content, ok, err = store.FetchLatest(ctx, "r2")
	if err != nil || !ok || content != "two" {
		t.Errorf("FetchLatest(r2) = %q, %v, %v; want %q", content, ok, err, "two")
	}
}

func TestConcurrentAppends(t *testing.T) {
	store := NewSnapshotStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Append(ctx, "r1", "content"); err != nil {
				t.Errorf("Append() failed: %v", err)
			}
		}()
	}
	wg.Wait()

	snapshots, err := store.ListSnapshots(ctx, "r1")
	if err != nil {
		t.Fatalf("ListSnapshots() failed: %v", err)
	}
	if len(snapshots) != 20 {
		t.Errorf("ListSnapshots() length mismatch: got %d, want 20", len(snapshots))
	}
}
