// Package rides drives a ride through its lifecycle:
// pending, accepted, ongoing and completed, or cancelled.
// Every transition is a conditional store update so concurrent requests on
// one ride cannot both apply.
package rides

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/payments"
	"github.com/example/ride-hailing/internal/storage"
)

type Notifier interface {
	ToUser(userID, event string, data any)
	ToCaptain(captainID, event string, data any)
	ToAdmins(event string, data any)
}

type StatsFeed interface {
	BroadcastServiceStats(ctx context.Context)
}

type EventPublisher interface {
	PublishRideEvent(ctx context.Context, ev models.RideEvent) error
}

type Service struct {
	Store    storage.Store
	Gateway  payments.Gateway
	Signer   *payments.Signer
	Currency string
	Notifier Notifier
	Stats    StatsFeed      // optional
	Events   EventPublisher // optional
	Logger   *slog.Logger
	Now      func() time.Time
}

type RideConfirmedEvent struct {
	Ride            models.RideWithOTP `json:"ride"`
	Captain         *models.Captain    `json:"captain"`
	CaptainLocation *models.Coord      `json:"captainLocation,omitempty"`
}

type RideCancelledEvent struct {
	RideID      string      `json:"rideId"`
	CancelledBy models.Role `json:"cancelledBy"`
}

type RideCompletedEvent struct {
	RideID            string  `json:"rideId"`
	CaptainID         string  `json:"captainId"`
	Fare              float64 `json:"fare"`
	CaptainTotalRides int     `json:"captainTotalRides"`
}

// StatusView is what a participant sees when polling a ride.
type StatusView struct {
	RideID                 string               `json:"rideId"`
	Status                 models.RideStatus    `json:"status"`
	PaymentStatus          models.PaymentStatus `json:"paymentStatus"`
	CaptainID              string               `json:"captain,omitempty"`
	PickupCoordinates      models.Coord         `json:"pickupCoordinates"`
	DestinationCoordinates models.Coord         `json:"destinationCoordinates"`
}

var active = []models.RideStatus{models.StatusPending, models.StatusAccepted, models.StatusOngoing}

// Confirm binds the captain to a pending ride. A scheduled ride already
// assigned by an admin can only be confirmed by that captain.
func (s *Service) Confirm(ctx context.Context, captainID, rideID string) (ride *models.Ride, err error) {
	defer s.record("confirm", &err)

	c, err := s.Store.GetCaptain(ctx, captainID)
	if err != nil {
		return nil, storeErr(err, "captain not found")
	}
	if !c.IsActive {
		return nil, apperr.New(apperr.AccountDeactivated, "your account has been deactivated")
	}
	ride, err = s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status != models.StatusPending {
		return nil, apperr.New(apperr.IllegalStateTransition, "ride is no longer available")
	}
	if ride.VehicleType != "" && ride.VehicleType != c.Vehicle.VehicleType {
		return nil, apperr.New(apperr.Forbidden, "ride requires a different vehicle class")
	}
	cond := storage.RideCond{Statuses: []models.RideStatus{models.StatusPending}, Unassigned: true}
	if ride.CaptainID != "" {
		if ride.CaptainID != captainID {
			return nil, apperr.New(apperr.Forbidden, "ride is assigned to another captain")
		}
		cond = storage.RideCond{Statuses: []models.RideStatus{models.StatusPending}, CaptainID: captainID}
	}

	ride, err = s.transition(ctx, rideID, cond,
		storage.RideChange{Status: models.StatusAccepted, CaptainID: captainID},
		"ride is no longer available")
	if err != nil {
		return nil, err
	}

	ev := RideConfirmedEvent{Ride: models.RideWithOTP{Ride: ride, OTP: ride.OTP}, Captain: c, CaptainLocation: c.Location}
	for _, id := range ride.Riders() {
		s.Notifier.ToUser(id, models.EventRideConfirmed, ev)
	}
	s.after(ctx, "ride.confirmed", ride, captainID)
	return ride, nil
}

// Start moves an accepted ride to ongoing once the rider's OTP matches.
func (s *Service) Start(ctx context.Context, captainID, rideID, otp string) (ride *models.Ride, err error) {
	defer s.record("start", &err)

	if otp == "" {
		return nil, apperr.Invalid(map[string]string{"otp": "is required"})
	}
	ride, err = s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.CaptainID != captainID {
		return nil, apperr.New(apperr.Forbidden, "ride is assigned to another captain")
	}
	if ride.Status != models.StatusAccepted {
		return nil, apperr.New(apperr.IllegalStateTransition, "ride not accepted")
	}
	if subtle.ConstantTimeCompare([]byte(otp), []byte(ride.OTP)) != 1 {
		return nil, apperr.New(apperr.InvalidOTP, "invalid OTP")
	}

	ride, err = s.transition(ctx, rideID,
		storage.RideCond{Statuses: []models.RideStatus{models.StatusAccepted}, CaptainID: captainID},
		storage.RideChange{Status: models.StatusOngoing},
		"ride not accepted")
	if err != nil {
		return nil, err
	}
	for _, id := range ride.Riders() {
		s.Notifier.ToUser(id, models.EventRideStarted, ride)
	}
	s.after(ctx, "ride.started", ride, captainID)
	return ride, nil
}

// End completes an ongoing ride. The captain and every rider are credited in
// the same store update as the status change.
func (s *Service) End(ctx context.Context, captainID, rideID string) (ride *models.Ride, err error) {
	defer s.record("end", &err)

	ride, err = s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.CaptainID != captainID {
		return nil, apperr.New(apperr.Forbidden, "ride is assigned to another captain")
	}
	now := s.now()
	ride, err = s.transition(ctx, rideID,
		storage.RideCond{Statuses: []models.RideStatus{models.StatusOngoing}, CaptainID: captainID},
		storage.RideChange{Status: models.StatusCompleted, CreditDay: now},
		"ride is not ongoing")
	if err != nil {
		return nil, err
	}

	for _, id := range ride.Riders() {
		s.Notifier.ToUser(id, models.EventRideEnded, ride)
	}
	s.Notifier.ToCaptain(captainID, models.EventRideEnded, ride)
	ev := RideCompletedEvent{RideID: ride.ID, CaptainID: captainID, Fare: ride.Fare}
	if c, err := s.Store.GetCaptain(ctx, captainID); err != nil {
		s.logger().Warn("captain reload failed", "captain_id", captainID, "error", err)
	} else {
		ev.CaptainTotalRides = c.TotalRides
		s.Notifier.ToCaptain(captainID, models.EventStatsUpdated, models.StatsFor(c, now))
	}
	s.Notifier.ToAdmins(models.EventRideCompleted, ev)
	s.after(ctx, "ride.completed", ride, captainID)
	return ride, nil
}

// Cancel stops a ride that is not finished and not paid. Any rider on the
// ride or its captain may cancel.
func (s *Service) Cancel(ctx context.Context, actor models.Actor, rideID string) (ride *models.Ride, err error) {
	defer s.record("cancel", &err)

	ride, err = s.load(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !participant(ride, actor) {
		return nil, apperr.New(apperr.Forbidden, "not a participant of this ride")
	}
	if ride.PaymentStatus == models.PaymentCompleted {
		return nil, apperr.New(apperr.IllegalStateTransition, "ride is already paid")
	}
	ride, err = s.transition(ctx, rideID,
		storage.RideCond{Statuses: active, PaymentPending: true},
		storage.RideChange{Status: models.StatusCancelled},
		"ride can no longer be cancelled")
	if err != nil {
		return nil, err
	}

	if ride.OrderID != "" && s.Gateway != nil {
		if err := s.Gateway.CancelOrder(ctx, ride.OrderID); err != nil {
			s.logger().Warn("payment order cancel failed", "ride_id", ride.ID, "order_id", ride.OrderID, "error", err)
		}
	}

	ev := RideCancelledEvent{RideID: ride.ID, CancelledBy: actor.Role}
	for _, id := range ride.Riders() {
		s.Notifier.ToUser(id, models.EventRideCancelled, ev)
	}
	if ride.CaptainID != "" {
		s.Notifier.ToCaptain(ride.CaptainID, models.EventRideCancelled, ev)
	}
	s.after(ctx, "ride.cancelled", ride, actor.ID)
	return ride, nil
}

// Status reports a ride's progress to a participant or an admin.
func (s *Service) Status(ctx context.Context, actor models.Actor, rideID string) (StatusView, error) {
	r, err := s.load(ctx, rideID)
	if err != nil {
		return StatusView{}, err
	}
	if actor.Role != models.RoleAdmin && !participant(r, actor) {
		return StatusView{}, apperr.New(apperr.Forbidden, "not a participant of this ride")
	}
	return StatusView{
		RideID:                 r.ID,
		Status:                 r.Status,
		PaymentStatus:          r.PaymentStatus,
		CaptainID:              r.CaptainID,
		PickupCoordinates:      r.PickupCoordinates,
		DestinationCoordinates: r.DestinationCoordinates,
	}, nil
}

// UserHistory lists a rider's rides, newest first.
func (s *Service) UserHistory(ctx context.Context, userID string) ([]*models.Ride, error) {
	rides, err := s.Store.ListRides(ctx, storage.RideFilter{RiderID: userID})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not list rides", err)
	}
	return rides, nil
}

// CaptainHistory lists a captain's rides, newest first.
func (s *Service) CaptainHistory(ctx context.Context, captainID string) ([]*models.Ride, error) {
	rides, err := s.Store.ListRides(ctx, storage.RideFilter{CaptainID: captainID})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not list rides", err)
	}
	return rides, nil
}

func (s *Service) load(ctx context.Context, rideID string) (*models.Ride, error) {
	if rideID == "" {
		return nil, apperr.Invalid(map[string]string{"rideId": "is required"})
	}
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, storeErr(err, "ride not found")
	}
	return r, nil
}

// transition applies a conditional update; a failed condition means another
// request changed the ride first.
func (s *Service) transition(ctx context.Context, rideID string, cond storage.RideCond, ch storage.RideChange, conflictMsg string) (*models.Ride, error) {
	r, err := s.Store.UpdateRide(ctx, rideID, cond, ch)
	if errors.Is(err, storage.ErrConflict) {
		return nil, apperr.Wrap(apperr.IllegalStateTransition, conflictMsg, err)
	}
	if err != nil {
		return nil, storeErr(err, "ride not found")
	}
	return r, nil
}

// after runs the shared side effects of a successful transition.
func (s *Service) after(ctx context.Context, typ string, r *models.Ride, actor string) {
	s.logger().Info("ride transition", "ride_id", r.ID, "type", typ, "status", r.Status, "actor", actor)
	if s.Events != nil {
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
	if s.Stats != nil {
		s.Stats.BroadcastServiceStats(ctx)
	}
}

func (s *Service) record(transition string, err *error) {
	observability.Transitions.WithLabelValues(transition, observability.Result(*err)).Inc()
}

func participant(r *models.Ride, a models.Actor) bool {
	switch a.Role {
	case models.RoleUser:
		return r.HasRider(a.ID)
	case models.RoleCaptain:
		return r.CaptainID != "" && r.CaptainID == a.ID
	}
	return false
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

func storeErr(err error, msg string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, msg, err)
	}
	return apperr.Wrap(apperr.Internal, "storage unavailable", err)
}
