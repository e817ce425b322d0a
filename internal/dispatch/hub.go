// Package dispatch delivers realtime ride events to riders, captains and the
// admin dashboard over websocket sessions.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
	sendBuffer     = 64
)

const AdminRoom = "admin-room"

func UserRoom(id string) string    { return "user:" + id }
func CaptainRoom(id string) string { return "captain:" + id }

// RoomFor returns the targeted room of an actor; admins share AdminRoom.
func RoomFor(a models.Actor) string {
	switch a.Role {
	case models.RoleUser:
		return UserRoom(a.ID)
	case models.RoleCaptain:
		return CaptainRoom(a.ID)
	}
	return AdminRoom
}

// Envelope is the wire shape of every event.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinRequest binds a connection to the authenticated actor.
type JoinRequest struct {
	UserID string      `json:"userId"`
	Role   models.Role `json:"role"`
}

// Handler processes an inbound event from a joined session. A returned
// error is reported back to the session as an "error" event.
type Handler func(ctx context.Context, s *Session, event string, data json.RawMessage) error

var ErrNotJoined = errors.New("join before sending events")

// Session is one live connection.
type Session struct {
	ID    string
	Actor models.Actor

	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc
	limiter *rate.Limiter
	joined  atomic.Bool
}

func newSession(ctx context.Context, conn *websocket.Conn, actor models.Actor, broadcastEvery time.Duration) *Session {
	ctx, cancel := context.WithCancel(ctx)
	return &Session{
		ID:      uuid.NewString(),
		Actor:   actor,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		limiter: rate.NewLimiter(rate.Every(broadcastEvery), 1),
	}
}

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context { return s.ctx }

// AllowBroadcast throttles location fan-out originating from this session.
func (s *Session) AllowBroadcast() bool { return s.limiter.Allow() }

// Send queues an event for this session only. It never blocks.
func (s *Session) Send(event string, data any) bool {
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		return false
	}
	return s.enqueue(b)
}

func (s *Session) enqueue(b []byte) bool {
	if s.ctx.Err() != nil {
		return false
	}
	select {
	case s.send <- b:
		return true
	default:
		return false
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case <-s.ctx.Done():
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.cancel()
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.cancel()
				return
			}
		}
	}
}

// Hub owns the live-session directory: at most one session per rider or
// captain, any number of admin sessions.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]*Session
	admins   map[string]*Session
	handler  Handler
	onJoin   []func(*Session)
	onLeave  []func(*Session)
	logger   *slog.Logger
	throttle time.Duration
}

// NewHub builds a hub. throttle is the minimum spacing of location
// broadcasts per session.
func NewHub(logger *slog.Logger, throttle time.Duration) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if throttle <= 0 {
		throttle = 10 * time.Second
	}
	return &Hub{
		rooms:    make(map[string]*Session),
		admins:   make(map[string]*Session),
		logger:   logger,
		throttle: throttle,
	}
}

func (h *Hub) SetHandler(fn Handler) { h.handler = fn }

// OnJoin registers fn to run after a session joins. Hooks must be added before serving.
func (h *Hub) OnJoin(fn func(*Session)) { h.onJoin = append(h.onJoin, fn) }

// OnLeave registers fn to run after a joined session ends.
func (h *Hub) OnLeave(fn func(*Session)) { h.onLeave = append(h.onLeave, fn) }

// Serve runs the session for conn until it drops. It blocks.
func (h *Hub) Serve(ctx context.Context, conn *websocket.Conn, actor models.Actor) {
	s := newSession(ctx, conn, actor, h.throttle)
	go s.writePump()
	defer h.leave(s)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("ws read error", "session", s.ID, "error", err)
			}
			return
		}
		var in inbound
		if err := json.Unmarshal(msg, &in); err != nil {
			s.Send(models.EventError, map[string]string{"message": "malformed message"})
			continue
		}
		h.dispatch(s, in)
	}
}

func (h *Hub) dispatch(s *Session, in inbound) {
	if in.Event == models.EventJoin {
		if err := h.join(s, in.Data); err != nil {
			s.Send(models.EventError, map[string]string{"message": err.Error()})
		}
		return
	}
	if !s.joined.Load() {
		s.Send(models.EventError, map[string]string{"message": ErrNotJoined.Error()})
		return
	}
	if h.handler == nil {
		return
	}
	if err := h.handler(s.ctx, s, in.Event, in.Data); err != nil {
		h.logger.Debug("ws event failed", "session", s.ID, "event", in.Event, "error", err)
		s.Send(models.EventError, map[string]string{"message": err.Error()})
	}
}

func (h *Hub) join(s *Session, data json.RawMessage) error {
	var req JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New("invalid join payload")
	}
	if req.UserID != s.Actor.ID || req.Role != s.Actor.Role {
		return errors.New("join identity does not match the authenticated actor")
	}
	if s.joined.Swap(true) {
		return nil
	}

	var replaced *Session
	h.mu.Lock()
	if s.Actor.Role == models.RoleAdmin {
		h.admins[s.ID] = s
	} else {
		room := RoomFor(s.Actor)
		replaced = h.rooms[room]
		h.rooms[room] = s
	}
	h.mu.Unlock()

	if replaced != nil {
		replaced.cancel()
	}
	observability.SessionsActive.WithLabelValues(string(s.Actor.Role)).Inc()
	h.logger.Info("ws joined", "session", s.ID, "actor", s.Actor.ID, "role", s.Actor.Role)
	for _, fn := range h.onJoin {
		fn(s)
	}
	return nil
}

func (h *Hub) leave(s *Session) {
	s.cancel()
	if !s.joined.Load() {
		return
	}
	h.mu.Lock()
	if s.Actor.Role == models.RoleAdmin {
		delete(h.admins, s.ID)
	} else if room := RoomFor(s.Actor); h.rooms[room] == s {
		delete(h.rooms, room)
	}
	h.mu.Unlock()

	observability.SessionsActive.WithLabelValues(string(s.Actor.Role)).Dec()
	h.logger.Info("ws left", "session", s.ID, "actor", s.Actor.ID, "role", s.Actor.Role)
	for _, fn := range h.onLeave {
		fn(s)
	}
}

// Emit delivers an event to a room. Delivery is best effort: a missing
// session or a full buffer drops the event.
func (h *Hub) Emit(room, event string, data any) {
	b, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		h.logger.Error("ws marshal failed", "event", event, "error", err)
		return
	}
	h.mu.RLock()
	var targets []*Session
	if room == AdminRoom {
		targets = make([]*Session, 0, len(h.admins))
		for _, s := range h.admins {
			targets = append(targets, s)
		}
	} else if s, ok := h.rooms[room]; ok {
		targets = []*Session{s}
	}
	h.mu.RUnlock()

	if len(targets) == 0 && room != AdminRoom {
		observability.NotificationsTotal.WithLabelValues(event, "no_session").Inc()
		h.logger.Debug("ws no session", "room", room, "event", event)
		return
	}
	for _, s := range targets {
		if s.enqueue(b) {
			observability.NotificationsTotal.WithLabelValues(event, "delivered").Inc()
		} else {
			observability.NotificationsTotal.WithLabelValues(event, "dropped").Inc()
			h.logger.Warn("ws send buffer full", "session", s.ID, "event", event)
		}
	}
}

func (h *Hub) ToUser(userID, event string, data any) { h.Emit(UserRoom(userID), event, data) }

func (h *Hub) ToCaptain(captainID, event string, data any) {
	h.Emit(CaptainRoom(captainID), event, data)
}

func (h *Hub) ToAdmins(event string, data any) { h.Emit(AdminRoom, event, data) }

// Connected reports whether the rider or captain has a live joined session.
func (h *Hub) Connected(a models.Actor) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if a.Role == models.RoleAdmin {
		for _, s := range h.admins {
			if s.Actor.ID == a.ID {
				return true
			}
		}
		return false
	}
	_, ok := h.rooms[RoomFor(a)]
	return ok
}
