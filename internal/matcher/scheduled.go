package matcher

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/storage"
)

// A captain is busy from 30 minutes before to 2 hours after any accepted or
// ongoing ride's reference time.
const (
	conflictBefore = 30 * time.Minute
	conflictAfter  = 2 * time.Hour
)

type ScheduledRequestEvent struct {
	RideID        string       `json:"rideId"`
	Pickup        string       `json:"pickup"`
	Destination   string       `json:"destination"`
	Fare          float64      `json:"fare"`
	UserID        string       `json:"userId"`
	UserLocation  models.Coord `json:"userLocation"`
	ScheduledTime *time.Time   `json:"scheduledTime,omitempty"`
}

type CaptainAssignedEvent struct {
	RideID      string         `json:"rideId"`
	Message     string         `json:"message"`
	CaptainID   string         `json:"captainId"`
	CaptainName string         `json:"captainName"`
	Vehicle     models.Vehicle `json:"vehicle"`
}

// ScheduledRides lists scheduled rides still waiting for a captain, soonest first.
func (s *Service) ScheduledRides(ctx context.Context) ([]*models.Ride, error) {
	rides, err := s.Store.ListRides(ctx, storage.RideFilter{
		Statuses:  []models.RideStatus{models.StatusPending},
		Scheduled: true,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not list scheduled rides", err)
	}
	out := rides[:0]
	for _, r := range rides {
		if r.CaptainID == "" {
			out = append(out, r)
		}
	}
	sortByReference(out)
	return out, nil
}

// AvailableCaptains lists active captains with no conflicting ride around at.
func (s *Service) AvailableCaptains(ctx context.Context, at time.Time) ([]*models.Captain, error) {
	if at.IsZero() {
		return nil, apperr.Invalid(map[string]string{"scheduledTime": "is required"})
	}
	caps, err := s.Store.ListCaptains(ctx, storage.CaptainFilter{ActiveOnly: true})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not list captains", err)
	}
	busy, err := s.busyCaptains(ctx, at)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Captain, 0, len(caps))
	for _, c := range caps {
		if !busy[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

// AssignCaptain binds a captain to a scheduled pending ride and tells both sides.
func (s *Service) AssignCaptain(ctx context.Context, rideID, captainID string) (*models.Ride, error) {
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return nil, notFound(err, "ride not found")
	}
	if !r.IsScheduled || r.Status != models.StatusPending || r.CaptainID != "" {
		return nil, apperr.New(apperr.IllegalStateTransition, "scheduled ride not found or already assigned")
	}
	c, err := s.Store.GetCaptain(ctx, captainID)
	if err != nil {
		return nil, notFound(err, "captain not found")
	}
	if !c.IsActive {
		return nil, apperr.New(apperr.AccountDeactivated, "captain account is deactivated")
	}
	if c.Vehicle.VehicleType != r.VehicleType {
		return nil, apperr.Invalid(map[string]string{"captainId": "captain drives a different vehicle class"})
	}
	busy, err := s.busyCaptains(ctx, r.ReferenceTime())
	if err != nil {
		return nil, err
	}
	if busy[c.ID] {
		return nil, apperr.New(apperr.IllegalStateTransition, "captain is not available at the scheduled time")
	}

	r, err = s.Store.UpdateRide(ctx, rideID,
		storage.RideCond{Statuses: []models.RideStatus{models.StatusPending}, Scheduled: true, Unassigned: true},
		storage.RideChange{CaptainID: captainID},
	)
	if errors.Is(err, storage.ErrConflict) {
		return nil, apperr.Wrap(apperr.IllegalStateTransition, "scheduled ride not found or already assigned", err)
	}
	if err != nil {
		return nil, notFound(err, "ride not found")
	}

	riders := r.Riders()
	var first string
	if len(riders) > 0 {
		first = riders[0]
	}
	s.Notifier.ToCaptain(c.ID, models.EventRideRequest, ScheduledRequestEvent{
		RideID:        r.ID,
		Pickup:        r.Pickup,
		Destination:   r.Destination,
		Fare:          r.Fare,
		UserID:        first,
		UserLocation:  r.PickupCoordinates,
		ScheduledTime: r.ScheduledTime,
	})
	assigned := CaptainAssignedEvent{
		RideID:      r.ID,
		Message:     "A captain has been assigned to your scheduled ride",
		CaptainID:   c.ID,
		CaptainName: captainName(c),
		Vehicle:     c.Vehicle,
	}
	for _, id := range riders {
		s.Notifier.ToUser(id, models.EventCaptainAssigned, assigned)
	}

	s.logger().Info("scheduled ride assigned", "ride_id", r.ID, "captain_id", c.ID)
	s.publish(ctx, "ride.assigned", r, "admin")
	if s.Admin != nil {
		s.Admin.BroadcastServiceStats(ctx)
	}
	return r, nil
}

// busyCaptains returns captains holding an accepted or ongoing ride whose
// scheduled or creation time falls inside the window around at.
func (s *Service) busyCaptains(ctx context.Context, at time.Time) (map[string]bool, error) {
	rides, err := s.Store.ListRides(ctx, storage.RideFilter{
		Statuses: []models.RideStatus{models.StatusAccepted, models.StatusOngoing},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not list active rides", err)
	}
	from, to := at.Add(-conflictBefore), at.Add(conflictAfter)
	busy := make(map[string]bool)
	for _, r := range rides {
		if r.CaptainID == "" {
			continue
		}
		if (r.ScheduledTime != nil && within(*r.ScheduledTime, from, to)) || within(r.CreatedAt, from, to) {
			busy[r.CaptainID] = true
		}
	}
	return busy, nil
}

func within(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func captainName(c *models.Captain) string {
	if c.Fullname.Firstname == "" {
		return "Unknown"
	}
	return c.Fullname.String()
}

func sortByReference(rides []*models.Ride) {
	sort.SliceStable(rides, func(i, j int) bool {
		return rides[i].ReferenceTime().Before(rides[j].ReferenceTime())
	})
}
