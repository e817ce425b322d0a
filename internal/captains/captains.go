// Package captains manages captain availability, location and daily stats.
package captains

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/storage"
)

// moveThreshold is the smallest coordinate change, in degrees, worth storing.
const moveThreshold = 0.0001

type Notifier interface {
	ToUser(userID, event string, data any)
	ToCaptain(captainID, event string, data any)
}

type LocationPublisher interface {
	PublishLocation(ctx context.Context, loc models.CaptainLocation) error
}

type StatsFeed interface {
	BroadcastServiceStats(ctx context.Context)
}

// Throttle gates rider-facing location broadcasts.
type Throttle interface {
	AllowBroadcast() bool
}

type Service struct {
	Store           storage.Store
	Index           geo.Index
	Notifier        Notifier
	Locations       LocationPublisher // optional
	Feed            StatsFeed         // optional
	Logger          *slog.Logger
	AccrualInterval time.Duration
	Now             func() time.Time
}

// LocationEvent is forwarded to the riders of the captain's active ride.
type LocationEvent struct {
	RideID          string       `json:"rideId"`
	CaptainLocation models.Coord `json:"captainLocation"`
}

// SetOnline flips a captain's availability. Going online is refused for
// deactivated captains and when every category for their vehicle is disabled;
// the store checks both in the same write.
func (s *Service) SetOnline(ctx context.Context, captainID string, online bool) (*models.Captain, error) {
	c, err := s.Store.GetCaptain(ctx, captainID)
	if err != nil {
		return nil, storeErr(err, "captain not found")
	}

	updated, err := s.Store.SetCaptainOnline(ctx, captainID, online)
	switch {
	case errors.Is(err, storage.ErrInactive):
		return nil, apperr.Wrap(apperr.AccountDeactivated, "your account has been deactivated", err)
	case errors.Is(err, storage.ErrServiceDisabled):
		return nil, apperr.Wrap(apperr.Forbidden, "service for your vehicle type is currently disabled", err)
	case err != nil:
		return nil, storeErr(err, "captain not found")
	}
	if c.IsOnline != online {
		g := observability.CaptainsOnline.WithLabelValues(string(c.Vehicle.VehicleType))
		if online {
			g.Inc()
		} else {
			g.Dec()
		}
	}
	switch {
	case online && updated.Location != nil:
		if err := s.Index.Upsert(ctx, captainID, *updated.Location); err != nil {
			observability.GeoErrors.WithLabelValues("index").Inc()
			s.logger().Warn("geo index upsert failed", "captain_id", captainID, "error", err)
		}
	case !online:
		if err := s.Index.Remove(ctx, captainID); err != nil {
			observability.GeoErrors.WithLabelValues("index").Inc()
			s.logger().Warn("geo index remove failed", "captain_id", captainID, "error", err)
		}
	}
	s.publish(ctx, updated)
	s.logger().Info("captain availability changed", "captain_id", captainID, "online", online)
	if s.Feed != nil {
		s.Feed.BroadcastServiceStats(ctx)
	}
	return updated, nil
}

// Stats returns today's activity for the captain.
func (s *Service) Stats(ctx context.Context, captainID string) (models.CaptainStats, error) {
	c, err := s.Store.GetCaptain(ctx, captainID)
	if err != nil {
		return models.CaptainStats{}, storeErr(err, "captain not found")
	}
	return models.StatsFor(c, s.now()), nil
}

// RecordLocation stores a captain position. Moves under the threshold are
// ignored; the returned flag reports whether anything was written.
func (s *Service) RecordLocation(ctx context.Context, captainID string, loc models.Coord) (bool, error) {
	if !geo.ValidCoord(loc) {
		return false, apperr.Invalid(map[string]string{"location": "invalid coordinates"})
	}
	c, err := s.Store.GetCaptain(ctx, captainID)
	if err != nil {
		return false, storeErr(err, "captain not found")
	}
	if c.Location != nil && !geo.Moved(*c.Location, loc, moveThreshold) {
		return false, nil
	}
	if err := s.Store.UpdateCaptainLocation(ctx, captainID, loc); err != nil {
		return false, storeErr(err, "captain not found")
	}
	// Offline captains stay out of the radius index until they go online.
	if c.IsOnline {
		if err := s.Index.Upsert(ctx, captainID, loc); err != nil {
			observability.GeoErrors.WithLabelValues("index").Inc()
			s.logger().Warn("geo index upsert failed", "captain_id", captainID, "error", err)
		}
	}
	c.Location = &loc
	s.publish(ctx, c)
	return true, nil
}

// ShareLocation records the position and forwards it to the riders of the
// captain's accepted or ongoing ride when the throttle allows.
func (s *Service) ShareLocation(ctx context.Context, captainID, rideID string, loc models.Coord, t Throttle) error {
	if _, err := s.RecordLocation(ctx, captainID, loc); err != nil {
		return err
	}
	ride, err := s.activeRide(ctx, captainID, rideID)
	if err != nil || ride == nil {
		return err
	}
	if t != nil && !t.AllowBroadcast() {
		return nil
	}
	ev := LocationEvent{RideID: ride.ID, CaptainLocation: loc}
	for _, id := range ride.Riders() {
		s.Notifier.ToUser(id, models.EventCaptainLocation, ev)
	}
	return nil
}

func (s *Service) activeRide(ctx context.Context, captainID, rideID string) (*models.Ride, error) {
	active := []models.RideStatus{models.StatusAccepted, models.StatusOngoing}
	if rideID != "" {
		r, err := s.Store.GetRide(ctx, rideID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.Internal, "storage unavailable", err)
		}
		if r.CaptainID != captainID || (r.Status != models.StatusAccepted && r.Status != models.StatusOngoing) {
			return nil, nil
		}
		return r, nil
	}
	rides, err := s.Store.ListRides(ctx, storage.RideFilter{CaptainID: captainID, Statuses: active, Limit: 1})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "storage unavailable", err)
	}
	if len(rides) == 0 {
		return nil, nil
	}
	return rides[0], nil
}

func (s *Service) publish(ctx context.Context, c *models.Captain) {
	if s.Locations == nil || c.Location == nil {
		return
	}
	msg := models.CaptainLocation{
		CaptainID:   c.ID,
		Location:    *c.Location,
		VehicleType: c.Vehicle.VehicleType,
		IsOnline:    c.IsOnline,
		Rating:      c.Rating,
		At:          s.now(),
	}
	if err := s.Locations.PublishLocation(ctx, msg); err != nil {
		s.logger().Warn("location publish failed", "captain_id", c.ID, "error", err)
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

func storeErr(err error, msg string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrap(apperr.NotFound, msg, err)
	}
	return apperr.Wrap(apperr.Internal, "storage unavailable", err)
}
