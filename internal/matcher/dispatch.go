package matcher

import (
	"context"
	"sort"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/storage"
)

// RideRequestEvent is pushed to each candidate captain.
type RideRequestEvent struct {
	RideID       string        `json:"rideId"`
	Ride         *models.Ride  `json:"ride,omitempty"`
	UserLocation *models.Coord `json:"userLocation,omitempty"`
	Pickup       string        `json:"pickup"`
	Destination  string        `json:"destination"`
	Fare         float64       `json:"fare"`
}

// candidates returns online, active captains of the ride's class within
// radiusKm of at, best first. When live is set only captains with a joined
// realtime session are kept.
func (s *Service) candidates(ctx context.Context, r *models.Ride, at models.Coord, radiusKm float64, live bool) ([]*models.Captain, error) {
	ids, err := s.Index.Nearby(ctx, at, radiusKm)
	if err != nil {
		observability.GeoErrors.WithLabelValues("nearby").Inc()
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	caps, err := s.Store.ListCaptains(ctx, storage.CaptainFilter{
		IDs:         ids,
		VehicleType: r.VehicleType,
		OnlineOnly:  true,
		ActiveOnly:  true,
	})
	if err != nil {
		return nil, err
	}
	if live && s.Presence != nil {
		kept := caps[:0]
		for _, c := range caps {
			if s.Presence.Connected(models.Actor{ID: c.ID, Role: models.RoleCaptain}) {
				kept = append(kept, c)
			}
		}
		caps = kept
	}
	s.rank(caps, at)
	return caps, nil
}

// rank orders captains by cost = eta + 30*(5-rating), so nearer and better
// rated captains see the request first.
func (s *Service) rank(caps []*models.Captain, at models.Coord) {
	speed := s.Config.SpeedMps
	if speed <= 0 {
		speed = 10
	}
	cost := make(map[string]float64, len(caps))
	for _, c := range caps {
		var etaSec float64
		if c.Location != nil {
			etaSec = geo.Haversine(c.Location.Lat, c.Location.Lng, at.Lat, at.Lng) / speed
		}
		cost[c.ID] = etaSec + 30.0*(5.0-c.Rating)
	}
	sort.SliceStable(caps, func(i, j int) bool { return cost[caps[i].ID] < cost[caps[j].ID] })
}

// dispatch pushes the ride to every candidate near at and returns how many
// captains were notified. Lookup failures degrade to zero candidates.
func (s *Service) dispatch(ctx context.Context, r *models.Ride, at models.Coord, radiusKm float64) int {
	caps, err := s.candidates(ctx, r, at, radiusKm, false)
	if err != nil {
		s.logger().Warn("captain search failed", "ride_id", r.ID, "error", err)
		return 0
	}
	ev := RideRequestEvent{
		RideID:      r.ID,
		Ride:        r,
		Pickup:      r.Pickup,
		Destination: r.Destination,
		Fare:        r.Fare,
	}
	for _, c := range caps {
		s.Notifier.ToCaptain(c.ID, models.EventRideRequest, ev)
	}
	observability.DispatchCandidates.Observe(float64(len(caps)))
	s.logger().Info("ride dispatched", "ride_id", r.ID, "candidates", len(caps), "radius_km", radiusKm)
	return len(caps)
}

// Resolicit searches the wider radius around the rider's live location for a
// still pending, unscheduled ride. It returns the number of captains notified;
// when none are found the rider is told so.
func (s *Service) Resolicit(ctx context.Context, userID, rideID string, loc models.Coord) (int, error) {
	if !geo.ValidCoord(loc) {
		return 0, apperr.Invalid(map[string]string{"userLocation": "invalid coordinates"})
	}
	r, err := s.Store.GetRide(ctx, rideID)
	if err != nil {
		return 0, notFound(err, "ride not found")
	}
	if !r.HasRider(userID) {
		return 0, apperr.New(apperr.Forbidden, "not a rider on this ride")
	}
	if r.Status != models.StatusPending {
		return 0, apperr.New(apperr.IllegalStateTransition, "ride is no longer pending")
	}
	user, err := s.Store.GetUser(ctx, userID)
	if err != nil {
		return 0, notFound(err, "user not found")
	}
	if !user.IsActive {
		return 0, apperr.New(apperr.AccountDeactivated, "your account has been deactivated")
	}
	if r.IsScheduled {
		return 0, nil
	}

	caps, err := s.candidates(ctx, r, loc, s.Config.ResolicitRadiusKm, true)
	if err != nil {
		return 0, apperr.Wrap(apperr.ExternalServiceUnavailable, "captain search failed", err)
	}
	if len(caps) == 0 {
		s.Notifier.ToUser(userID, models.EventNoCaptainsAvailable, map[string]string{"rideId": r.ID})
		return 0, nil
	}
	ev := RideRequestEvent{
		RideID:       r.ID,
		UserLocation: &loc,
		Pickup:       r.Pickup,
		Destination:  r.Destination,
		Fare:         r.Fare,
	}
	for _, c := range caps {
		s.Notifier.ToCaptain(c.ID, models.EventRideRequest, ev)
	}
	observability.DispatchCandidates.Observe(float64(len(caps)))
	return len(caps), nil
}
