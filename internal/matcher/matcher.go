// Package matcher creates rides and finds captains for them: pricing,
// pool merging, nearby dispatch and admin assignment of scheduled rides.
package matcher

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/fare"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/storage"
)

type Notifier interface {
	ToUser(userID, event string, data any)
	ToCaptain(captainID, event string, data any)
}

// Presence reports live realtime sessions.
type Presence interface {
	Connected(a models.Actor) bool
}

// AdminFeed pushes booking and stats updates to the admin room.
type AdminFeed interface {
	AnnounceBooking(ctx context.Context, r *models.Ride)
	BroadcastServiceStats(ctx context.Context)
}

type EventPublisher interface {
	PublishRideEvent(ctx context.Context, ev models.RideEvent) error
}

type Config struct {
	DispatchRadiusKm    float64
	ResolicitRadiusKm   float64
	IntercityThresholdM float64
	PoolDetourBudget    time.Duration
	// PoolMaxLegs caps riders per pooled ride; 0 means unlimited.
	PoolMaxLegs int
	// SpeedMps ranks candidates by straight-line ETA.
	SpeedMps float64
}

func DefaultConfig() Config {
	return Config{
		DispatchRadiusKm:    2,
		ResolicitRadiusKm:   5,
		IntercityThresholdM: 50000,
		PoolDetourBudget:    10 * time.Minute,
		SpeedMps:            10,
	}
}

type Service struct {
	Store    storage.Store
	Geo      geo.Lookup
	Index    geo.Index
	Notifier Notifier
	Presence Presence  // optional
	Admin    AdminFeed // optional
	Events   EventPublisher
	Logger   *slog.Logger
	Config   Config
	Now      func() time.Time
}

type CreateRideRequest struct {
	Pickup        string     `json:"pickup"`
	Destination   string     `json:"destination"`
	VehicleType   string     `json:"vehicleType"`
	ServiceType   string     `json:"serviceType"`
	ScheduledTime *time.Time `json:"scheduledTime,omitempty"`
}

type CreateRideResult struct {
	Ride             *models.Ride `json:"ride"`
	Merged           bool         `json:"merged"`
	CaptainsNotified int          `json:"captainsNotified"`
	Message          string       `json:"message,omitempty"`
}

type FareEstimate struct {
	Fare     fare.Quote `json:"fare"`
	Distance float64    `json:"distance"`
	Duration float64    `json:"duration"`
}

// GetFare quotes every vehicle class for a pickup/destination pair.
func (s *Service) GetFare(ctx context.Context, pickup, destination string) (FareEstimate, error) {
	fields := map[string]string{}
	checkAddress(fields, "pickup", pickup)
	checkAddress(fields, "destination", destination)
	if len(fields) > 0 {
		return FareEstimate{}, apperr.Invalid(fields)
	}
	route, err := s.Geo.DistanceAndDuration(ctx, pickup, destination)
	if err != nil {
		return FareEstimate{}, s.routeFailure(err)
	}
	return FareEstimate{
		Fare:     fare.QuoteAll(route.DistanceMeters, route.DurationSeconds),
		Distance: route.DistanceMeters,
		Duration: route.DurationSeconds,
	}, nil
}

// CreateRide prices and stores a ride for userID, merging it into a pending
// pooled ride when one fits, then solicits nearby captains unless it is scheduled.
func (s *Service) CreateRide(ctx context.Context, userID string, req CreateRideRequest) (*CreateRideResult, error) {
	start := time.Now()
	defer func() { observability.MatchLatency.Observe(time.Since(start).Seconds()) }()

	vehicle, service, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	user, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return nil, notFound(err, "user not found")
	}
	if !user.IsActive {
		return nil, apperr.New(apperr.AccountDeactivated, "your account has been deactivated")
	}

	route, err := s.Geo.DistanceAndDuration(ctx, req.Pickup, req.Destination)
	if err != nil {
		return nil, s.routeFailure(err)
	}
	pickupC, err := s.Geo.ResolveCoordinates(ctx, req.Pickup)
	if err != nil {
		return nil, s.coordFailure("pickup", err)
	}
	destC, err := s.Geo.ResolveCoordinates(ctx, req.Destination)
	if err != nil {
		return nil, s.coordFailure("destination", err)
	}

	if service == models.ServiceSolo && route.DistanceMeters > s.Config.IntercityThresholdM {
		service = models.ServiceIntercity
	}

	var (
		ride   *models.Ride
		merged bool
	)
	if service == models.ServiceTaxiPool {
		leg := models.Leg{
			UserID:                 userID,
			FareShare:              fare.PoolShare(vehicle, route.DistanceMeters, route.DurationSeconds),
			Pickup:                 req.Pickup,
			Destination:            req.Destination,
			PickupCoordinates:      pickupC,
			DestinationCoordinates: destC,
		}
		ride, merged, err = s.joinPool(ctx, leg, vehicle, route)
	} else {
		ride, err = s.newRide(ctx, userID, req, vehicle, service, route, pickupC, destC)
	}
	if err != nil {
		return nil, err
	}

	res := &CreateRideResult{Ride: ride, Merged: merged}
	log := s.logger().With("ride_id", ride.ID, "user_id", userID, "service_type", ride.ServiceType)
	if merged {
		log.Info("pool leg merged", "legs", len(ride.Legs), "fare", ride.Fare)
	} else {
		observability.RidesCreated.WithLabelValues(string(ride.ServiceType), string(ride.VehicleType)).Inc()
		log.Info("ride created", "fare", ride.Fare, "scheduled", ride.IsScheduled)
	}
	s.publish(ctx, "ride.created", ride, userID)

	if ride.IsScheduled {
		res.Message = "Ride scheduled. A captain will be assigned before pickup."
	} else {
		res.CaptainsNotified = s.dispatch(ctx, ride, pickupC, s.Config.DispatchRadiusKm)
		if res.CaptainsNotified == 0 {
			res.Message = "No captains nearby right now. Your ride stays pending."
		}
	}

	if s.Admin != nil {
		s.Admin.AnnounceBooking(ctx, ride)
		s.Admin.BroadcastServiceStats(ctx)
	}
	return res, nil
}

func (s *Service) newRide(ctx context.Context, userID string, req CreateRideRequest, vehicle models.VehicleType, service models.ServiceType, route geo.Route, pickupC, destC models.Coord) (*models.Ride, error) {
	otp, err := NewOTP()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not generate otp", err)
	}
	now := s.now()
	r := &models.Ride{
		ID:                     uuid.NewString(),
		UserID:                 userID,
		Pickup:                 req.Pickup,
		Destination:            req.Destination,
		PickupCoordinates:      pickupC,
		DestinationCoordinates: destC,
		Fare:                   fare.Calculate(vehicle, route.DistanceMeters, route.DurationSeconds),
		VehicleType:            vehicle,
		ServiceType:            service,
		Distance:               route.DistanceMeters,
		Duration:               route.DurationSeconds,
		Status:                 models.StatusPending,
		PaymentStatus:          models.PaymentPending,
		OTP:                    otp,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if req.ScheduledTime != nil {
		t := *req.ScheduledTime
		r.IsScheduled = true
		r.ScheduledTime = &t
	}
	if err := s.Store.CreateRide(ctx, r); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not save ride", err)
	}
	return r, nil
}

func (s *Service) validate(req CreateRideRequest) (models.VehicleType, models.ServiceType, error) {
	fields := map[string]string{}
	checkAddress(fields, "pickup", req.Pickup)
	checkAddress(fields, "destination", req.Destination)
	vehicle, ok := models.ParseVehicleType(req.VehicleType)
	if !ok {
		fields["vehicleType"] = "must be one of auto, car, motorcycle"
	}
	service, ok := models.ParseServiceType(req.ServiceType)
	if !ok {
		fields["serviceType"] = "must be one of solo, intercity, taxiBooking, taxiPool"
	}
	if req.ScheduledTime != nil {
		switch {
		case !req.ScheduledTime.After(s.now()):
			fields["scheduledTime"] = "must be in the future"
		case service == models.ServiceTaxiPool:
			fields["scheduledTime"] = "pooled rides cannot be scheduled"
		}
	}
	if len(fields) > 0 {
		return "", "", apperr.Invalid(fields)
	}
	return vehicle, service, nil
}

func checkAddress(fields map[string]string, name, v string) {
	if len(strings.TrimSpace(v)) < 3 {
		fields[name] = "must be at least 3 characters"
	}
}

func (s *Service) routeFailure(err error) error {
	observability.GeoErrors.WithLabelValues("distance").Inc()
	if errors.Is(err, geo.ErrNoResult) {
		return apperr.Wrap(apperr.GeoResolutionFailed, "no route between pickup and destination", err)
	}
	return apperr.Wrap(apperr.ExternalServiceUnavailable, "maps provider unavailable", err)
}

func (s *Service) coordFailure(which string, err error) error {
	observability.GeoErrors.WithLabelValues("geocode").Inc()
	return apperr.Wrap(apperr.GeoResolutionFailed, "could not resolve "+which+" address", err)
}

// publish records a lifecycle event; the stream is advisory so failures only log.
func (s *Service) publish(ctx context.Context, typ string, r *models.Ride, actor string) {
	if s.Events == nil {
		return
	}
	ev := models.RideEvent{
		Type:        typ,
		RideID:      r.ID,
		Status:      r.Status,
		ServiceType: r.ServiceType,
		VehicleType: r.VehicleType,
		CaptainID:   r.CaptainID,
		Riders:      r.Riders(),
		Fare:        r.Fare,
		Actor:       actor,
		At:          s.now(),
	}
	if err := s.Events.PublishRideEvent(ctx, ev); err != nil {
		s.logger().Warn("ride event publish failed", "ride_id", r.ID, "type", typ, "error", err)
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func notFound(err error, msg string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, msg, err)
	}
	return apperr.Wrap(apperr.Internal, "storage unavailable", err)
}
