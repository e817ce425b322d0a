package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/example/ride-hailing/internal/apperr"
)

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.admin.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRecentBookings(w http.ResponseWriter, r *http.Request) {
	list, err := s.admin.RecentBookings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	list, err := s.admin.Services(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type toggleServiceRequest struct {
	ServiceName string `json:"serviceName"`
	IsActive    *bool  `json:"isActive"`
}

func (s *Server) handleToggleService(w http.ResponseWriter, r *http.Request) {
	var req toggleServiceRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.IsActive == nil {
		s.writeError(w, r, apperr.Invalid(map[string]string{"isActive": "required"}))
		return
	}
	res, err := s.admin.ToggleService(r.Context(), req.ServiceName, *req.IsActive)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleScheduledRides(w http.ResponseWriter, r *http.Request) {
	list, err := s.matcher.ScheduledRides(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type assignRequest struct {
	CaptainID string `json:"captainId"`
}

func (s *Server) handleAssignCaptain(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.matcher.AssignCaptain(r.Context(), mux.Vars(r)["id"], req.CaptainID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

// handleAvailableCaptains takes the reference time as RFC 3339 in ?time=.
func (s *Server) handleAvailableCaptains(w http.ResponseWriter, r *http.Request) {
	at, err := time.Parse(time.RFC3339, r.URL.Query().Get("time"))
	if err != nil {
		s.writeError(w, r, apperr.Invalid(map[string]string{"time": "must be an RFC 3339 timestamp"}))
		return
	}
	list, err := s.matcher.AvailableCaptains(r.Context(), at)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := s.admin.Users(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.admin.User(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleToggleUser(w http.ResponseWriter, r *http.Request) {
	res, err := s.admin.ToggleUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleListCaptains(w http.ResponseWriter, r *http.Request) {
	list, err := s.admin.Captains(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetCaptain(w http.ResponseWriter, r *http.Request) {
	c, err := s.admin.Captain(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleToggleCaptain(w http.ResponseWriter, r *http.Request) {
	res, err := s.admin.ToggleCaptain(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
