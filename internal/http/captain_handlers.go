package httpapi

import (
	"net/http"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/models"
)

type statusRequest struct {
	IsOnline *bool `json:"isOnline"`
}

func (s *Server) handleCaptainStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.IsOnline == nil {
		s.writeError(w, r, apperr.Invalid(map[string]string{"isOnline": "required"}))
		return
	}
	c, err := s.captains.SetOnline(r.Context(), actorFrom(r.Context()).ID, *req.IsOnline)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleCaptainStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.captains.Stats(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleCaptainLocation(w http.ResponseWriter, r *http.Request) {
	var loc models.Coord
	if !s.decode(w, r, &loc) {
		return
	}
	if _, err := s.captains.RecordLocation(r.Context(), actorFrom(r.Context()).ID, loc); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCaptainHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.rides.CaptainHistory(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
