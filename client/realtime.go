package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/collabmate/collabmate/db/models"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	eventBufferSize  = 64
)

var (
	ErrJoinDenied     = errors.New("join denied")
	ErrRealtimeClosed = errors.New("realtime connection closed")
)

type frame struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId,omitempty"`

	// error frames
	Event   string `json:"event,omitempty"`
	Message string `json:"message,omitempty"`

	// event frames
	ID         string          `json:"id,omitempty"`
	Room       string          `json:"room,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurredAt,omitempty"`
}

type ackKey struct {
	request   string
	projectID string
}

// Realtime is one websocket connection to the project rooms. Join and
// Leave wait for the server's acknowledgement; events arrive on Events.
type Realtime struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[ackKey][]chan error

	events    chan models.Event
	done      chan struct{}
	closeOnce sync.Once
	err       error
}

// Realtime opens the websocket. The caller must Close it.
func (c *Client) Realtime(ctx context.Context) (*Realtime, error) {
	if c.token == "" {
		return nil, ErrUnauthorized
	}

	wsScheme := "ws"
	if c.baseURL.Scheme == "https" {
		wsScheme = "wss"
	}
	wsURL := url.URL{Scheme: wsScheme, Host: c.baseURL.Host, Path: "/ws"}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.token)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL.String(), header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("websocket handshake failed: %v", err)}
		}
		return nil, fmt.Errorf("failed to dial websocket %s: %w", wsURL.String(), err)
	}

	rt := &Realtime{
		conn:    conn,
		logger:  c.logger.With("conn", "realtime"),
		pending: make(map[ackKey][]chan error),
		events:  make(chan models.Event, eventBufferSize),
		done:    make(chan struct{}),
	}
	go rt.readLoop()
	return rt, nil
}

// Events delivers room events in arrival order. It is closed when the
// connection ends. Events are dropped while the buffer is full.
func (rt *Realtime) Events() <-chan models.Event { return rt.events }

// Done is closed when the connection ends; Err then reports why.
func (rt *Realtime) Done() <-chan struct{} { return rt.done }

func (rt *Realtime) Err() error {
	select {
	case <-rt.done:
		return rt.err
	default:
		return nil
	}
}

// Join subscribes to a project's room. A refusal wraps ErrJoinDenied.
func (rt *Realtime) Join(ctx context.Context, projectID string) error {
	return rt.request(ctx, "joinProject", projectID)
}

func (rt *Realtime) Leave(ctx context.Context, projectID string) error {
	return rt.request(ctx, "leaveProject", projectID)
}

func (rt *Realtime) Close() error {
	rt.writeMu.Lock()
	rt.conn.SetWriteDeadline(time.Now().Add(writeWait))
	rt.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	rt.writeMu.Unlock()

	rt.conn.Close()
	<-rt.done
	return nil
}

func (rt *Realtime) request(ctx context.Context, kind, projectID string) error {
	key := ackKey{request: kind, projectID: projectID}
	ack := make(chan error, 1)

	rt.mu.Lock()
	select {
	case <-rt.done:
		rt.mu.Unlock()
		return ErrRealtimeClosed
	default:
	}
	rt.pending[key] = append(rt.pending[key], ack)
	rt.mu.Unlock()

	if err := rt.write(frame{Type: kind, ProjectID: projectID}); err != nil {
		rt.forget(key, ack)
		return err
	}

	select {
	case err := <-ack:
		return err
	case <-ctx.Done():
		rt.forget(key, ack)
		return ctx.Err()
	}
}

func (rt *Realtime) write(f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()
	rt.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return rt.conn.WriteMessage(websocket.TextMessage, data)
}

func (rt *Realtime) forget(key ackKey, ack chan error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	waiters := rt.pending[key]
	for i, w := range waiters {
		if w == ack {
			rt.pending[key] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(rt.pending[key]) == 0 {
		delete(rt.pending, key)
	}
}

// resolve completes the oldest waiter for key. The server answers frames
// in the order it reads them.
func (rt *Realtime) resolve(key ackKey, result error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	waiters := rt.pending[key]
	if len(waiters) == 0 {
		rt.logger.Debug("Unsolicited acknowledgement", "type", key.request, "project", key.projectID)
		return
	}
	waiters[0] <- result
	if len(waiters) == 1 {
		delete(rt.pending, key)
		return
	}
	rt.pending[key] = waiters[1:]
}

func (rt *Realtime) readLoop() {
	defer rt.finish()

	for {
		_, data, err := rt.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				rt.err = ErrRealtimeClosed
			} else {
				rt.err = err
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			rt.logger.Warn("Dropping malformed frame", "error", err)
			continue
		}

		switch f.Type {
		case "joinedProject":
			rt.resolve(ackKey{"joinProject", f.ProjectID}, nil)
		case "leftProject":
			rt.resolve(ackKey{"leaveProject", f.ProjectID}, nil)
		case "error":
			if f.Event == "" {
				rt.logger.Warn("Server rejected a frame", "message", f.Message)
				continue
			}
			rt.resolve(ackKey{f.Event, f.ProjectID}, fmt.Errorf("%w: %s", ErrJoinDenied, f.Message))
		default:
			event := models.Event{
				ID:         f.ID,
				Type:       f.Type,
				Room:       f.Room,
				Payload:    f.Payload,
				OccurredAt: f.OccurredAt,
			}
			select {
			case rt.events <- event:
			default:
				rt.logger.Warn("Event buffer full, dropping event", "type", event.Type, "project", event.Room)
			}
		}
	}
}

// finish runs once, on the read goroutine, after the socket is gone.
func (rt *Realtime) finish() {
	rt.closeOnce.Do(func() {
		rt.conn.Close()

		rt.mu.Lock()
		close(rt.done)
		for key, waiters := range rt.pending {
			for _, w := range waiters {
				w <- ErrRealtimeClosed
			}
			delete(rt.pending, key)
		}
		rt.mu.Unlock()

		close(rt.events)
	})
}
