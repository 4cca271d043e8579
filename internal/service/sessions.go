package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/collabmate/collabmate/internal/auth"
	"github.com/collabmate/collabmate/internal/guard"
	"github.com/collabmate/collabmate/internal/lifecycle"
	"github.com/collabmate/collabmate/internal/rooms"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait         = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod       = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	subscribeTimeout = 5 * time.Second     // Upper bound on the membership lookup for one join.
	controlBuffer    = 8                   // Queued replies to join/leave frames.
)

const (
	frameJoinProject   = "joinProject"
	frameLeaveProject  = "leaveProject"
	frameJoinedProject = "joinedProject"
	frameLeftProject   = "leftProject"
	frameError         = "error"
)

var errSendBufferFull = errors.New("send buffer full")

type clientFrame struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

type serverFrame struct {
	Type      string `json:"type"`
	Event     string `json:"event,omitempty"`
	ProjectID string `json:"projectId,omitempty"`
	Message   string `json:"message,omitempty"`
}

// A session is one authenticated websocket connection. It satisfies
// rooms.Conn; all writes to the socket happen in writePump. Room events
// go through send and may be dropped when it is full; replies to the
// client's own frames go through control and are never dropped.
type session struct {
	id      string
	conn    *websocket.Conn
	caller  auth.Identity
	send    chan []byte
	control chan []byte
	done    chan struct{}
	once    sync.Once
	service *Service
}

var _ rooms.Conn = &session{}

func (s *session) ID() string { return s.id }

func (s *session) Done() <-chan struct{} { return s.done }

// Send queues message without blocking. The send channel is never closed,
// so a late broadcast racing a disconnect cannot panic.
func (s *session) Send(message []byte) error {
	select {
	case <-s.done:
		return rooms.ErrConnClosed
	default:
	}
	select {
	case s.send <- message:
		return nil
	default:
		return errSendBufferFull
	}
}

func (s *session) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// reply queues a control frame. It is only called from readPump, so
// blocking here pushes back on a client that stops reading its socket.
func (s *session) reply(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	select {
	case s.control <- data:
	case <-s.done:
		s.service.logger.Debug("Reply after close", "session", s.id, "type", frame.Type)
	}
}

func (s *Service) wsHandler(w http.ResponseWriter, r *http.Request) {
	token := auth.FromHeader(r)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		writeMessage(w, http.StatusUnauthorized, "No token provided")
		return
	}
	caller, err := s.tokens.Verify(token)
	if err != nil {
		s.logger.Debug("WebSocket token rejected", "remote_addr", r.RemoteAddr, "error", err)
		writeMessage(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	s.sessionsLock.Lock()
	if s.sessionsClosed || s.activeWsConnections >= s.cfg.Sessions.MaxConnections {
		s.sessionsLock.Unlock()
		s.logger.Warn("Max WebSocket connections reached, rejecting new connection", "max", s.cfg.Sessions.MaxConnections)
		writeMessage(w, http.StatusServiceUnavailable, "Too many connections")
		return
	}
	s.sessionsLock.Unlock()

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", "error", err)
		return
	}

	sess := &session{
		id:      uuid.NewString(),
		conn:    conn,
		caller:  caller,
		send:    make(chan []byte, s.cfg.Sessions.SendBufferSize),
		control: make(chan []byte, controlBuffer),
		done:    make(chan struct{}),
		service: s,
	}
	if !s.registerSession(sess) {
		sess.close()
		return
	}
	s.logger.Info("WebSocket connection upgraded", "session", sess.id, "user", caller.ID, "remote_addr", conn.RemoteAddr().String())

	lifecycle.Go(s.logger, "ws-write", sess.writePump)
	lifecycle.Go(s.logger, "ws-read", sess.readPump)
}

func (s *Service) registerSession(sess *session) bool {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	if s.sessionsClosed || s.activeWsConnections >= s.cfg.Sessions.MaxConnections {
		s.logger.Warn("Session rejected after upgrade", "session", sess.id, "active", s.activeWsConnections)
		return false
	}
	s.sessions[sess] = struct{}{}
	s.activeWsConnections++
	return true
}

func (s *Service) unregisterSession(sess *session) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	if _, ok := s.sessions[sess]; ok {
		delete(s.sessions, sess)
		s.activeWsConnections--
	}
}

func (s *Service) connectionCount() int {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	return s.activeWsConnections
}

// readPump owns the read side of the connection. Its exit is the single
// point where the session leaves every room.
func (s *session) readPump() {
	logger := s.service.logger
	defer func() {
		s.close()
		s.service.hub.OnDisconnect(s)
		s.service.unregisterSession(s)
		logger.Info("WebSocket session finished", "session", s.id, "user", s.caller.ID)
	}()

	s.conn.SetReadLimit(s.service.cfg.Sessions.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logger.Warn("WebSocket read error", "session", s.id, "error", err)
			} else {
				logger.Debug("WebSocket connection closed", "session", s.id, "error", err)
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			s.reply(serverFrame{Type: frameError, Message: "Invalid message"})
			continue
		}
		if !s.handle(frame) {
			return
		}
	}
}

// handle applies one control frame. It returns false once the connection
// is known to be closed.
func (s *session) handle(frame clientFrame) bool {
	switch frame.Type {
	case frameJoinProject:
		ctx, cancel := context.WithTimeout(s.service.appCtx, subscribeTimeout)
		err := s.service.hub.Subscribe(ctx, s, frame.ProjectID, s.caller.ID)
		cancel()
		if errors.Is(err, rooms.ErrConnClosed) {
			return false
		}
		if err != nil {
			if !errors.Is(err, guard.ErrDenied) {
				s.service.logger.Warn("Join failed", "session", s.id, "project", frame.ProjectID, "error", err)
			}
			// Every failure looks the same to the client, so it cannot
			// learn which projects exist.
			s.reply(serverFrame{Type: frameError, Event: frameJoinProject, ProjectID: frame.ProjectID, Message: "Not authorized"})
			return true
		}
		s.reply(serverFrame{Type: frameJoinedProject, ProjectID: frame.ProjectID})
	case frameLeaveProject:
		s.service.hub.Unsubscribe(s, frame.ProjectID)
		s.reply(serverFrame{Type: frameLeftProject, ProjectID: frame.ProjectID})
	default:
		s.reply(serverFrame{Type: frameError, Event: frame.Type, Message: "Unknown message type"})
	}
	return true
}

// writePump is the only writer on the connection.
func (s *session) writePump() {
	logger := s.service.logger
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case message := <-s.control:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("WebSocket write error", "session", s.id, "error", err)
				return
			}
		case message := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("WebSocket write error", "session", s.id, "error", err)
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Debug("WebSocket ping write error", "session", s.id, "error", err)
				return
			}
		case <-s.done:
			return
		case <-s.service.appCtx.Done():
			return
		}
	}
}
