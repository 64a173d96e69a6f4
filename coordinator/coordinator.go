package coordinator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"collabroom-server/core"
	"collabroom-server/presence"
	"collabroom-server/registry"

	"github.com/sirupsen/logrus"
)

const defaultRetryDelay = 250 * time.Millisecond

// Coordinator bridges RoomEmptied signals to durable writes. It reads the
// registry at signal receipt, then appends through the snapshot store off
// the signal loop so a slow store never delays presence processing. Each
// room's flushes are queued and written one at a time in signal order, so
// rapid churn cannot land an older flush after a newer one. A failed write
// is retried once, then surfaced and abandoned with the in-memory content
// left intact so a later emptied signal can flush it again.
type Coordinator struct {
	registry   *registry.Registry
	store      core.SnapshotStore
	signals    <-chan presence.RoomEmptied
	retryDelay time.Duration

	mu       sync.Mutex
	flushers map[string]*roomFlusher
	inflight sync.WaitGroup

	flushes  atomic.Uint64
	failures atomic.Uint64
}

type flushJob struct {
	content string
	rev     uint64
}

// roomFlusher holds one room's pending flushes. active marks a running
// drain goroutine; at most one exists per room.
type roomFlusher struct {
	mu     sync.Mutex
	queue  []flushJob
	active bool
}

func New(reg *registry.Registry, store core.SnapshotStore, signals <-chan presence.RoomEmptied, retryDelay time.Duration) *Coordinator {
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Coordinator{
		registry:   reg,
		store:      store,
		signals:    signals,
		retryDelay: retryDelay,
		flushers:   make(map[string]*roomFlusher),
	}
}

// Run consumes emptied signals until the context is canceled, then waits for
// in-flight flushes to drain.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.inflight.Wait()
			return
		case sig := <-c.signals:
			// Reading here, on the signal path, keeps the read
			// happens-after the leave that emptied the room. An empty
			// string is still flushed: an empty room may legitimately
			// hold empty content.
			content, rev, _ := c.registry.Lookup(sig.RoomID)
			c.enqueue(ctx, sig.RoomID, flushJob{content: content, rev: rev})
		}
	}
}

func (c *Coordinator) flusher(roomID string) *roomFlusher {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flushers[roomID]
	if !ok {
		f = &roomFlusher{}
		c.flushers[roomID] = f
	}
	return f
}

// enqueue appends the job to the room's queue and starts a drain goroutine
// if none is running. Called only from the Run loop, so queue order is
// signal order.
func (c *Coordinator) enqueue(ctx context.Context, roomID string, job flushJob) {
	f := c.flusher(roomID)
	f.mu.Lock()
	f.queue = append(f.queue, job)
	if f.active {
		f.mu.Unlock()
		return
	}
	f.active = true
	f.mu.Unlock()

	c.inflight.Add(1)
	go c.drain(ctx, roomID, f)
}

func (c *Coordinator) drain(ctx context.Context, roomID string, f *roomFlusher) {
	defer c.inflight.Done()
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.active = false
			f.mu.Unlock()
			return
		}
		job := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		c.flush(ctx, roomID, job.content, job.rev)
	}
}

func (c *Coordinator) flush(ctx context.Context, roomID, content string, rev uint64) {
	log := logrus.WithFields(logrus.Fields{
		"room_id":        roomID,
		"content_length": len(content),
	})

	// A flush started before shutdown is allowed to finish; only the retry
	// delay is cut short by cancellation.
	wctx := context.WithoutCancel(ctx)

	id, err := c.store.Append(wctx, roomID, content)
	if err != nil {
		log.WithError(err).Warn("snapshot append failed, retrying once")
		select {
		case <-ctx.Done():
		case <-time.After(c.retryDelay):
		}
		id, err = c.store.Append(wctx, roomID, content)
	}
	if err != nil {
		// Content stays in the registry so the next emptied signal for
		// this room gets another chance to flush it.
		c.failures.Add(1)
		log.WithError(err).Error("snapshot append failed, giving up until next emptied signal")
		return
	}

	c.flushes.Add(1)
	if c.registry.ClearIf(roomID, rev) {
		log = log.WithField("cleared", true)
	}
	log.WithField("snapshot_id", id).Info("room content flushed")
}

// Flushes reports how many flushes completed successfully.
func (c *Coordinator) Flushes() uint64 { return c.flushes.Load() }

// Failures reports how many flushes were abandoned after the bounded retry.
func (c *Coordinator) Failures() uint64 { return c.failures.Load() }
