// Package rooms is the in-memory room registry and fan-out engine. A room
// is the set of connections subscribed to one project's events; a project
// with no subscribers has no entry at all.
package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/collabmate/collabmate/db/models"
	"github.com/collabmate/collabmate/internal/guard"
)

var ErrConnClosed = errors.New("connection closed")

// Conn is a live subscriber connection.
//
// Send must not block: an implementation that cannot accept the message
// right now returns an error and the message is dropped for that
// connection only. Done must be closed before OnDisconnect is called for
// the connection.
type Conn interface {
	ID() string
	Send(message []byte) error
	Done() <-chan struct{}
}

type Registry interface {
	// Subscribe authorizes the caller for the project and adds conn to its
	// room. Re-subscribing is a no-op.
	Subscribe(ctx context.Context, conn Conn, projectID, callerID string) error
	// Unsubscribe removes conn from the room if present.
	Unsubscribe(conn Conn, projectID string)
	// OnDisconnect removes conn from every room.
	OnDisconnect(conn Conn)
	// Broadcast hands event to every connection currently in the room and
	// returns how many accepted it.
	Broadcast(projectID string, event models.Event) int
}

// Hub is the registry implementation. Construct one per server (or per
// test); it also exposes read-only introspection for status reporting.
type Hub struct {
	logger *slog.Logger
	guard  guard.Guard

	mu    sync.Mutex
	rooms map[string]map[Conn]struct{} // absent key means empty room
	conns map[Conn]map[string]struct{}
}

var _ Registry = &Hub{}

func New(logger *slog.Logger, g guard.Guard) *Hub {
	return &Hub{
		logger: logger,
		guard:  g,
		rooms:  make(map[string]map[Conn]struct{}),
		conns:  make(map[Conn]map[string]struct{}),
	}
}

func isDone(conn Conn) bool {
	select {
	case <-conn.Done():
		return true
	default:
		return false
	}
}

func (h *Hub) Subscribe(ctx context.Context, conn Conn, projectID, callerID string) error {
	if isDone(conn) {
		return ErrConnClosed
	}

	// The guard may suspend on a store lookup; the lock is not held across it.
	if _, err := h.guard.AuthorizeProjectAccess(ctx, projectID, callerID); err != nil {
		h.logger.Info("Subscribe rejected", "conn", conn.ID(), "project", projectID, "caller", callerID, "error", err)
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// A disconnect that ran while the guard was working must win.
	if isDone(conn) {
		return ErrConnClosed
	}

	room, ok := h.rooms[projectID]
	if !ok {
		room = make(map[Conn]struct{})
		h.rooms[projectID] = room
		h.logger.Debug("Room created", "project", projectID)
	}
	if _, already := room[conn]; already {
		return nil
	}
	room[conn] = struct{}{}

	joined, ok := h.conns[conn]
	if !ok {
		joined = make(map[string]struct{})
		h.conns[conn] = joined
	}
	joined[projectID] = struct{}{}

	h.logger.Info("Subscriber added", "conn", conn.ID(), "project", projectID, "subscribers", len(room))
	return nil
}

func (h *Hub) Unsubscribe(conn Conn, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(conn, projectID)
}

func (h *Hub) OnDisconnect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for projectID := range h.conns[conn] {
		h.removeLocked(conn, projectID)
	}
	delete(h.conns, conn)
}

func (h *Hub) removeLocked(conn Conn, projectID string) {
	room, ok := h.rooms[projectID]
	if !ok {
		return
	}
	if _, ok := room[conn]; !ok {
		return
	}
	delete(room, conn)
	h.logger.Info("Subscriber removed", "conn", conn.ID(), "project", projectID, "subscribers", len(room))

	if len(room) == 0 {
		delete(h.rooms, projectID)
		h.logger.Debug("No more subscribers for project, removing room", "project", projectID)
	}

	if joined, ok := h.conns[conn]; ok {
		delete(joined, projectID)
		if len(joined) == 0 {
			delete(h.conns, conn)
		}
	}
}

// Broadcast serializes with every other registry operation, so two
// broadcasts to the same room reach each connection in call order.
func (h *Hub) Broadcast(projectID string, event models.Event) int {
	message, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("Failed to marshal event for fan-out", "project", projectID, "type", event.Type, "error", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[projectID]
	if !ok {
		h.logger.Debug("No subscribers for project", "project", projectID, "type", event.Type)
		return 0
	}

	delivered := 0
	for conn := range room {
		if err := conn.Send(message); err != nil {
			h.logger.Warn("Event not delivered to subscriber", "conn", conn.ID(), "project", projectID, "type", event.Type, "error", err)
			continue
		}
		delivered++
	}
	h.logger.Debug("Event fanned out", "project", projectID, "type", event.Type, "subscribers", len(room), "delivered", delivered)
	return delivered
}

func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (h *Hub) Subscribers(projectID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[projectID])
}

// RoomsOf lists the projects conn is subscribed to, sorted.
func (h *Hub) RoomsOf(conn Conn) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns[conn]))
	for projectID := range h.conns[conn] {
		out = append(out, projectID)
	}
	sort.Strings(out)
	return out
}
