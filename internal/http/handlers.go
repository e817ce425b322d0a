package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-hailing/internal/admin"
	"github.com/example/ride-hailing/internal/captains"
	"github.com/example/ride-hailing/internal/dispatch"
	"github.com/example/ride-hailing/internal/matcher"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/rides"
)

// Deps are the services the API fronts.
type Deps struct {
	Matcher  *matcher.Service
	Rides    *rides.Service
	Captains *captains.Service
	Admin    *admin.Service
	Hub      *dispatch.Hub
	Auth     *Authenticator
	Logger   *slog.Logger
	// Ready reports whether backing stores are reachable.
	Ready func(context.Context) error
}

type Server struct {
	matcher  *matcher.Service
	rides    *rides.Service
	captains *captains.Service
	admin    *admin.Service
	hub      *dispatch.Hub
	auth     *Authenticator
	logger   *slog.Logger
	ready    func(context.Context) error
	mux      *mux.Router
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		matcher:  d.Matcher,
		rides:    d.Rides,
		captains: d.Captains,
		admin:    d.Admin,
		hub:      d.Hub,
		auth:     d.Auth,
		logger:   logger,
		ready:    d.Ready,
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	if s.hub != nil {
		s.hub.SetHandler(s.handleSocketEvent)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	user, captain, operator := models.RoleUser, models.RoleCaptain, models.RoleAdmin

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.authorize(s.handleWS))

	r := s.mux.PathPrefix("/rides").Subrouter()
	r.HandleFunc("/create", s.authorize(s.handleCreateRide, user)).Methods("POST")
	r.HandleFunc("/get-fare", s.authorize(s.handleGetFare, user)).Methods("GET")
	r.HandleFunc("/confirm", s.authorize(s.handleConfirm, captain)).Methods("POST")
	r.HandleFunc("/start-ride", s.authorize(s.handleStart, captain)).Methods("POST")
	r.HandleFunc("/end-ride", s.authorize(s.handleEnd, captain)).Methods("POST")
	r.HandleFunc("/cancel", s.authorize(s.handleCancel, user, captain)).Methods("POST")
	r.HandleFunc("/history", s.authorize(s.handleUserHistory, user)).Methods("GET")
	r.HandleFunc("/payment/order", s.authorize(s.handleCreateOrder, user)).Methods("POST")
	r.HandleFunc("/payment/verify", s.authorize(s.handleVerifyPayment, user)).Methods("POST")
	r.HandleFunc("/feedback", s.authorize(s.handleFeedback, user)).Methods("POST")
	r.HandleFunc("/{id}/status", s.authorize(s.handleRideStatus, user, captain, operator)).Methods("GET")

	c := s.mux.PathPrefix("/captains").Subrouter()
	c.HandleFunc("/status", s.authorize(s.handleCaptainStatus, captain)).Methods("PATCH")
	c.HandleFunc("/stats", s.authorize(s.handleCaptainStats, captain)).Methods("GET")
	c.HandleFunc("/location", s.authorize(s.handleCaptainLocation, captain)).Methods("POST")
	c.HandleFunc("/rides/history", s.authorize(s.handleCaptainHistory, captain)).Methods("GET")

	a := s.mux.PathPrefix("/admin").Subrouter()
	a.HandleFunc("/stats", s.authorize(s.handleAdminStats, operator)).Methods("GET")
	a.HandleFunc("/recent-bookings", s.authorize(s.handleRecentBookings, operator)).Methods("GET")
	a.HandleFunc("/services", s.authorize(s.handleServices, operator)).Methods("GET")
	a.HandleFunc("/services/toggle", s.authorize(s.handleToggleService, operator)).Methods("PATCH")
	a.HandleFunc("/scheduled-rides", s.authorize(s.handleScheduledRides, operator)).Methods("GET")
	a.HandleFunc("/scheduled-rides/{id}/assign", s.authorize(s.handleAssignCaptain, operator)).Methods("POST")
	a.HandleFunc("/available-captains", s.authorize(s.handleAvailableCaptains, operator)).Methods("GET")
	a.HandleFunc("/users", s.authorize(s.handleListUsers, operator)).Methods("GET")
	a.HandleFunc("/users/{id}", s.authorize(s.handleGetUser, operator)).Methods("GET")
	a.HandleFunc("/users/{id}/toggle", s.authorize(s.handleToggleUser, operator)).Methods("PATCH")
	a.HandleFunc("/captains", s.authorize(s.handleListCaptains, operator)).Methods("GET")
	a.HandleFunc("/captains/{id}", s.authorize(s.handleGetCaptain, operator)).Methods("GET")
	a.HandleFunc("/captains/{id}/toggle", s.authorize(s.handleToggleCaptain, operator)).Methods("PATCH")
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Message: "not ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type rideRef struct {
	RideID string `json:"rideId"`
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	var req matcher.CreateRideRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.matcher.CreateRide(r.Context(), actorFrom(r.Context()).ID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleGetFare(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	est, err := s.matcher.GetFare(r.Context(), q.Get("pickup"), q.Get("destination"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req rideRef
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.rides.Confirm(r.Context(), actorFrom(r.Context()).ID, req.RideID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

type startRequest struct {
	RideID string `json:"rideId"`
	OTP    string `json:"otp"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.rides.Start(r.Context(), actorFrom(r.Context()).ID, req.RideID, req.OTP)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req rideRef
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.rides.End(r.Context(), actorFrom(r.Context()).ID, req.RideID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req rideRef
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.rides.Cancel(r.Context(), actorFrom(r.Context()), req.RideID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleRideStatus(w http.ResponseWriter, r *http.Request) {
	view, err := s.rides.Status(r.Context(), actorFrom(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleUserHistory(w http.ResponseWriter, r *http.Request) {
	list, err := s.rides.UserHistory(r.Context(), actorFrom(r.Context()).ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req rideRef
	if !s.decode(w, r, &req) {
		return
	}
	order, err := s.rides.CreatePaymentOrder(r.Context(), actorFrom(r.Context()).ID, req.RideID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req rides.VerifyPaymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.rides.VerifyPayment(r.Context(), actorFrom(r.Context()).ID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req rides.FeedbackRequest
	if !s.decode(w, r, &req) {
		return
	}
	ride, err := s.rides.SubmitFeedback(r.Context(), actorFrom(r.Context()).ID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ride)
}
