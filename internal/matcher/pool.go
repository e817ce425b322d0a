package matcher

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/storage"
)

// joinPool appends leg to the oldest pending pooled ride of the same class
// whose added detour fits the budget, or opens a new pooled ride.
func (s *Service) joinPool(ctx context.Context, leg models.Leg, vehicle models.VehicleType, route geo.Route) (*models.Ride, bool, error) {
	pending, err := s.Store.ListRides(ctx, storage.RideFilter{
		Statuses:    []models.RideStatus{models.StatusPending},
		ServiceType: models.ServiceTaxiPool,
		VehicleType: vehicle,
	})
	if err != nil {
		return nil, false, apperr.Wrap(apperr.Internal, "could not list pooled rides", err)
	}

	// ListRides is newest first; walk oldest first so earlier riders fill up first.
	for i := len(pending) - 1; i >= 0; i-- {
		cand := pending[i]
		if cand.HasRider(leg.UserID) || cand.CaptainID != "" {
			continue
		}
		if s.Config.PoolMaxLegs > 0 && len(cand.Legs) >= s.Config.PoolMaxLegs {
			continue
		}
		detour, err := s.detour(ctx, cand, leg.Pickup, route)
		if err != nil {
			s.logger().Warn("pool detour lookup failed", "ride_id", cand.ID, "error", err)
			continue
		}
		if detour > s.Config.PoolDetourBudget {
			continue
		}
		merged, err := s.Store.AppendLeg(ctx, cand.ID, leg, s.Config.PoolMaxLegs)
		if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
			// Taken, filled or cancelled since the listing; try the next one.
			continue
		}
		if err != nil {
			return nil, false, apperr.Wrap(apperr.Internal, "could not join pooled ride", err)
		}
		observability.PoolMerges.Inc()
		return merged, true, nil
	}

	r, err := s.newPoolRide(ctx, leg, vehicle, route)
	return r, false, err
}

// detour sums, over every existing leg, the drive from that leg's destination
// to the new pickup plus the new leg's own route.
func (s *Service) detour(ctx context.Context, r *models.Ride, pickup string, route geo.Route) (time.Duration, error) {
	var total float64
	for _, l := range r.Legs {
		toPickup, err := s.Geo.DistanceAndDuration(ctx, l.Destination, pickup)
		if err != nil {
			observability.GeoErrors.WithLabelValues("detour").Inc()
			return 0, err
		}
		total += toPickup.DurationSeconds + route.DurationSeconds
	}
	return time.Duration(total * float64(time.Second)), nil
}

func (s *Service) newPoolRide(ctx context.Context, leg models.Leg, vehicle models.VehicleType, route geo.Route) (*models.Ride, error) {
	otp, err := NewOTP()
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not generate otp", err)
	}
	now := s.now()
	r := &models.Ride{
		ID:                     uuid.NewString(),
		Legs:                   []models.Leg{leg},
		Pickup:                 leg.Pickup,
		Destination:            leg.Destination,
		PickupCoordinates:      leg.PickupCoordinates,
		DestinationCoordinates: leg.DestinationCoordinates,
		Fare:                   leg.FareShare,
		VehicleType:            vehicle,
		ServiceType:            models.ServiceTaxiPool,
		Distance:               route.DistanceMeters,
		Duration:               route.DurationSeconds,
		Status:                 models.StatusPending,
		PaymentStatus:          models.PaymentPending,
		OTP:                    otp,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := s.Store.CreateRide(ctx, r); err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not save ride", err)
	}
	return r, nil
}
