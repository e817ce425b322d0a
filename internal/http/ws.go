package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/models"
)

// Browser clients are served from a separate origin; the token check in
// authorize is the gate.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, r, apperr.New(apperr.ExternalServiceUnavailable, "realtime channel disabled"))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	s.hub.Serve(r.Context(), conn, actorFrom(r.Context()))
}

type locationMessage struct {
	RideID   string       `json:"rideId"`
	Location models.Coord `json:"location"`
}

type resolicitMessage struct {
	RideID       string       `json:"rideId"`
	UserLocation models.Coord `json:"userLocation"`
}

// handleSocketEvent routes inbound realtime events from joined sessions.
func (s *Server) handleSocketEvent(ctx context.Context, sess *dispatch.Session, event string, data json.RawMessage) error {
	switch event {
	case models.EventCaptainLocation:
		if sess.Actor.Role != models.RoleCaptain {
			return errors.New("only captains share their location")
		}
		var m locationMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return errors.New("invalid location payload")
		}
		return s.clientError(s.captains.ShareLocation(ctx, sess.Actor.ID, m.RideID, m.Location, sess))

	case models.EventRideRequest:
		if sess.Actor.Role != models.RoleUser {
			return errors.New("only riders can request captains")
		}
		var m resolicitMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return errors.New("invalid ride request payload")
		}
		_, err := s.matcher.Resolicit(ctx, sess.Actor.ID, m.RideID, m.UserLocation)
		return s.clientError(err)
	}
	return fmt.Errorf("unsupported event %q", event)
}

// clientError trims err to what a socket client may see.
func (s *Server) clientError(err error) error {
	if err == nil {
		return nil
	}
	var e *apperr.Error
	if errors.As(err, &e) && e.Kind != apperr.Internal && e.Message != "" {
		return errors.New(e.Message)
	}
	s.logger.Error("ws event failed", "error", err)
	return errors.New("internal error")
}
