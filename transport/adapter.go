package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// ErrNotConnected is returned by Send when the adapter has no live
// transport endpoint.
var ErrNotConnected = errors.New("transport: not connected")

// EventHandler receives the typed inbound events the adapter extracts from
// the wire. Handlers must tolerate duplicate events: the transport delivers
// at-least-once.
type EventHandler interface {
	HandleJoin(roomID, participantID string)
	HandleLeave(roomID, participantID string)
	HandleContentUpdate(roomID, participantID, content string)
	HandleDisconnect(participantID string)
}

// Options bound the connect/reconnect retry loop.
type Options struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	return o
}

// Adapter owns the single process-wide Socket.IO endpoint. Connect is
// idempotent and retries with bounded exponential backoff; Disconnect is
// safe to call when already disconnected. Outbound sends are ordered per
// room by the underlying transport; nothing is guaranteed across rooms.
type Adapter struct {
	opts    Options
	handler EventHandler
	onDown  func(error)

	// dial builds the underlying endpoint; replaced in tests.
	dial func() (*socketio.Server, error)

	mu           sync.Mutex
	srv          *socketio.Server
	srvHandler   http.Handler
	participants map[string]socketio.SocketId
	sockets      map[socketio.SocketId]string
}

func New(opts Options) *Adapter {
	return &Adapter{
		opts:         opts.withDefaults(),
		dial:         newSocketServer,
		participants: make(map[string]socketio.SocketId),
		sockets:      make(map[socketio.SocketId]string),
	}
}

// SetHandler registers the consumer of inbound events. Must be called
// before Connect.
func (a *Adapter) SetHandler(h EventHandler) {
	a.mu.Lock()
	a.handler = h
	a.mu.Unlock()
}

// OnDown registers a callback fired when the connect retry budget is
// exhausted.
func (a *Adapter) OnDown(fn func(error)) {
	a.mu.Lock()
	a.onDown = fn
	a.mu.Unlock()
}

// Connect establishes the endpoint. Calling it while connected is a no-op.
// Transient failures are retried with exponential backoff starting at
// InitialDelay, up to MaxAttempts total attempts.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.srv != nil {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	delay := a.opts.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= a.opts.MaxAttempts; attempt++ {
		srv, err := a.dial()
		if err == nil {
			// Initialize the engine eagerly: Close dereferences it, and
			// ServeHandler is what creates it. Without this, tearing down
			// an endpoint that never served a request would crash.
			handler := srv.ServeHandler(nil)

			a.mu.Lock()
			if a.srv == nil {
				a.bind(srv)
				a.srv = srv
				a.srvHandler = handler
				a.mu.Unlock()
				logrus.WithField("attempt", attempt).Info("transport connected")
				return nil
			}
			// Someone else connected while we were dialing.
			a.mu.Unlock()
			srv.Close(nil)
			return nil
		}

		lastErr = err
		logrus.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": a.opts.MaxAttempts,
		}).Warn("transport connect failed")

		if attempt == a.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	a.mu.Lock()
	down := a.onDown
	a.mu.Unlock()
	if down != nil {
		down(lastErr)
	}
	return fmt.Errorf("transport: connect failed after %d attempts: %w", a.opts.MaxAttempts, lastErr)
}

// Disconnect tears the endpoint down. Safe when already disconnected.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	srv := a.srv
	a.srv = nil
	a.srvHandler = nil
	a.participants = make(map[string]socketio.SocketId)
	a.sockets = make(map[socketio.SocketId]string)
	a.mu.Unlock()

	if srv != nil {
		srv.Close(nil)
		logrus.Info("transport disconnected")
	}
}

// Reconnect drops the current endpoint and dials again with the same
// bounded backoff as Connect.
func (a *Adapter) Reconnect(ctx context.Context) error {
	a.Disconnect()
	return a.Connect(ctx)
}

func (a *Adapter) server() *socketio.Server {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.srv
}

// Send emits the event to every participant in the room.
func (a *Adapter) Send(event, roomID string, payload any) error {
	srv := a.server()
	if srv == nil {
		return ErrNotConnected
	}
	return srv.To(socketio.Room(roomID)).Emit(event, payload)
}

// SendExcept emits the event to the room, excluding one participant
// (typically the sender of the update being fanned out).
func (a *Adapter) SendExcept(event, roomID, participantID string, payload any) error {
	srv := a.server()
	if srv == nil {
		return ErrNotConnected
	}

	a.mu.Lock()
	sid, ok := a.participants[participantID]
	a.mu.Unlock()
	if !ok {
		return srv.To(socketio.Room(roomID)).Emit(event, payload)
	}
	return srv.To(socketio.Room(roomID)).Except(socketio.Room(sid)).Emit(event, payload)
}

// SendToParticipant emits the event to a single participant.
func (a *Adapter) SendToParticipant(event, participantID string, payload any) error {
	srv := a.server()
	if srv == nil {
		return ErrNotConnected
	}

	a.mu.Lock()
	sid, ok := a.participants[participantID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: unknown participant %s", participantID)
	}
	return srv.To(socketio.Room(sid)).Emit(event, payload)
}

// Handler returns the HTTP handler to mount at the socket path. It resolves
// the endpoint per request so a reconnect swaps in transparently.
func (a *Adapter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.mu.Lock()
		handler := a.srvHandler
		a.mu.Unlock()
		if handler == nil {
			http.Error(w, "transport unavailable", http.StatusServiceUnavailable)
			return
		}
		handler.ServeHTTP(w, r)
	})
}

func newSocketServer() (*socketio.Server, error) {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	localhostOrigin := regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)
	opts.SetCors(&types.Cors{
		Origin:      []any{localhostOrigin},
		Credentials: true,
	})
	return socketio.NewServer(nil, opts), nil
}

// bind wires the Socket.IO events onto the typed handler. Called with a.mu
// held; the event callbacks themselves run later, without the lock.
func (a *Adapter) bind(srv *socketio.Server) {
	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("join", func(datas ...any) {
			roomID, participantID := roomAndParticipant(socket, datas)
			if roomID == "" {
				logrus.Warn("join without room id ignored")
				return
			}

			socket.Join(socketio.Room(roomID))
			a.track(participantID, socket.Id())
			logrus.WithFields(logrus.Fields{
				"room_id":        roomID,
				"participant_id": participantID,
			}).Debug("join received")

			if h := a.eventHandler(); h != nil {
				h.HandleJoin(roomID, participantID)
			}
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("leave", func(datas ...any) {
			roomID, participantID := roomAndParticipant(socket, datas)
			if roomID == "" {
				logrus.Warn("leave without room id ignored")
				return
			}

			socket.Leave(socketio.Room(roomID))
			if h := a.eventHandler(); h != nil {
				h.HandleLeave(roomID, participantID)
			}
		})

		//nolint:errcheck // Socket.IO event handlers do not return useful errors
		socket.On("content-update", func(datas ...any) {
			m := payloadMap(datas)
			roomID := stringField(m, "roomId")
			if roomID == "" {
				logrus.Warn("content-update without room id ignored")
				return
			}
			content := stringField(m, "content")

			participantID := a.participantFor(socket.Id())
			if h := a.eventHandler(); h != nil {
				h.HandleContentUpdate(roomID, participantID, content)
			}
		})

		socket.On("disconnecting", func(datas ...any) {
			participantID := a.untrack(socket.Id())
			if participantID == "" {
				return
			}
			logrus.WithField("participant_id", participantID).Debug("participant disconnecting")
			if h := a.eventHandler(); h != nil {
				h.HandleDisconnect(participantID)
			}
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
		})
	})
}

func (a *Adapter) eventHandler() EventHandler {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.handler
}

func (a *Adapter) track(participantID string, sid socketio.SocketId) {
	a.mu.Lock()
	a.participants[participantID] = sid
	a.sockets[sid] = participantID
	a.mu.Unlock()
}

func (a *Adapter) untrack(sid socketio.SocketId) string {
	a.mu.Lock()
	defer a.mu.Unlock()

	participantID, ok := a.sockets[sid]
	if !ok {
		return ""
	}
	delete(a.sockets, sid)
	if a.participants[participantID] == sid {
		delete(a.participants, participantID)
	}
	return participantID
}

func (a *Adapter) participantFor(sid socketio.SocketId) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sockets[sid]
}

func payloadMap(datas []any) map[string]any {
	for _, d := range datas {
		if m, ok := d.(map[string]any); ok {
			return m
		}
	}
	return nil
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

// roomAndParticipant extracts the room and participant IDs from a join or
// leave payload, falling back to the socket ID when the client sent no
// participant ID.
func roomAndParticipant(socket *socketio.Socket, datas []any) (string, string) {
	m := payloadMap(datas)
	roomID := stringField(m, "roomId")
	participantID := stringField(m, "participantId")
	if participantID == "" {
		participantID = string(socket.Id())
	}
	return roomID, participantID
}
