package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/ride-hailing/internal/models"
)

func newHubServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		actor := models.Actor{ID: r.URL.Query().Get("id"), Role: models.Role(r.URL.Query().Get("role"))}
		h.Serve(context.Background(), conn, actor)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, id string, role models.Role) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?id=" + id + "&role=" + string(role)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(Envelope{Event: event, Data: data}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func next(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg received
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestJoinAndTargetedDelivery(t *testing.T) {
	h := NewHub(nil, time.Second)
	srv := newHubServer(t, h)
	rider := models.Actor{ID: "u1", Role: models.RoleUser}

	conn := dial(t, srv, "u1", models.RoleUser)
	send(t, conn, models.EventJoin, JoinRequest{UserID: "u1", Role: models.RoleUser})
	waitFor(t, func() bool { return h.Connected(rider) })

	h.ToUser("u1", models.EventRideConfirmed, map[string]string{"rideId": "r1"})
	msg := next(t, conn)
	if msg.Event != models.EventRideConfirmed || !strings.Contains(string(msg.Data), `"r1"`) {
		t.Fatalf("unexpected message %s %s", msg.Event, msg.Data)
	}
}

func TestEventsBeforeJoinAreRejected(t *testing.T) {
	h := NewHub(nil, time.Second)
	var handled atomic.Int32
	h.SetHandler(func(context.Context, *Session, string, json.RawMessage) error {
		handled.Add(1)
		return nil
	})
	srv := newHubServer(t, h)
	conn := dial(t, srv, "c1", models.RoleCaptain)

	send(t, conn, models.EventCaptainLocation, map[string]any{})
	if msg := next(t, conn); msg.Event != models.EventError {
		t.Fatalf("expected error event, got %s", msg.Event)
	}
	send(t, conn, models.EventJoin, JoinRequest{UserID: "someone-else", Role: models.RoleCaptain})
	if msg := next(t, conn); msg.Event != models.EventError {
		t.Fatalf("expected error for mismatched join, got %s", msg.Event)
	}
	if handled.Load() != 0 {
		t.Fatal("handler ran for an unjoined session")
	}
}

func TestReconnectReplacesSessionAndHooksRun(t *testing.T) {
	h := NewHub(nil, time.Second)
	var joins, leaves atomic.Int32
	h.OnJoin(func(*Session) { joins.Add(1) })
	h.OnLeave(func(*Session) { leaves.Add(1) })
	srv := newHubServer(t, h)
	captain := models.Actor{ID: "c1", Role: models.RoleCaptain}

	first := dial(t, srv, "c1", models.RoleCaptain)
	send(t, first, models.EventJoin, JoinRequest{UserID: "c1", Role: models.RoleCaptain})
	waitFor(t, func() bool { return joins.Load() == 1 })

	second := dial(t, srv, "c1", models.RoleCaptain)
	send(t, second, models.EventJoin, JoinRequest{UserID: "c1", Role: models.RoleCaptain})
	waitFor(t, func() bool { return joins.Load() == 2 && leaves.Load() == 1 })

	if !h.Connected(captain) {
		t.Fatal("replacement session should stay registered")
	}
	h.ToCaptain("c1", models.EventRideRequest, map[string]string{"rideId": "r9"})
	if msg := next(t, second); msg.Event != models.EventRideRequest {
		t.Fatalf("unexpected event %s", msg.Event)
	}

	_ = second.Close()
	waitFor(t, func() bool { return !h.Connected(captain) })
	if leaves.Load() != 2 {
		t.Fatalf("expected 2 leaves, got %d", leaves.Load())
	}
}

func TestAdminBroadcast(t *testing.T) {
	h := NewHub(nil, time.Second)
	srv := newHubServer(t, h)
	a1 := dial(t, srv, "a1", models.RoleAdmin)
	a2 := dial(t, srv, "a2", models.RoleAdmin)
	send(t, a1, models.EventJoin, JoinRequest{UserID: "a1", Role: models.RoleAdmin})
	send(t, a2, models.EventJoin, JoinRequest{UserID: "a2", Role: models.RoleAdmin})
	waitFor(t, func() bool {
		return h.Connected(models.Actor{ID: "a1", Role: models.RoleAdmin}) && h.Connected(models.Actor{ID: "a2", Role: models.RoleAdmin})
	})

	h.ToAdmins(models.EventServiceStatusChanged, map[string]any{"serviceName": "Car", "isActive": false})
	for _, c := range []*websocket.Conn{a1, a2} {
		if msg := next(t, c); msg.Event != models.EventServiceStatusChanged {
			t.Fatalf("unexpected event %s", msg.Event)
		}
	}
}

func TestEmitWithoutSessionIsDropped(t *testing.T) {
	h := NewHub(nil, time.Second)
	h.ToUser("ghost", models.EventRideEnded, nil)
	h.ToAdmins(models.EventNewBooking, nil)
}

func TestHandlerErrorsAreReported(t *testing.T) {
	h := NewHub(nil, time.Second)
	h.SetHandler(func(_ context.Context, s *Session, event string, _ json.RawMessage) error {
		if event == "boom" {
			return context.DeadlineExceeded
		}
		s.Send("pong", nil)
		return nil
	})
	srv := newHubServer(t, h)
	conn := dial(t, srv, "u1", models.RoleUser)
	send(t, conn, models.EventJoin, JoinRequest{UserID: "u1", Role: models.RoleUser})
	send(t, conn, "ping", nil)
	if msg := next(t, conn); msg.Event != "pong" {
		t.Fatalf("unexpected event %s", msg.Event)
	}
	send(t, conn, "boom", nil)
	if msg := next(t, conn); msg.Event != models.EventError {
		t.Fatalf("unexpected event %s", msg.Event)
	}
}
