package admin

import (
	"context"
	"strings"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/storage"
)

const recentBookings = 5

// ServiceStats is the derived view of one category. It is recomputed from
// rides, captains and services on every read.
type ServiceStats struct {
	Name          string  `json:"name"`
	Bookings      int     `json:"bookings"`
	Revenue       float64 `json:"revenue"`
	ActiveDrivers int     `json:"activeDrivers"`
	IsActive      bool    `json:"isActive"`
}

type Stats struct {
	TotalRevenue   float64                 `json:"totalRevenue"`
	CompleteRides  int                     `json:"completeRides"`
	CancelledRides int                     `json:"cancelledRides"`
	TotalRides     int                     `json:"totalRides"`
	TotalCaptains  int                     `json:"totalCaptains"`
	TotalUsers     int                     `json:"totalUsers"`
	ActiveRides    int                     `json:"activeRides"`
	Services       map[string]ServiceStats `json:"services"`
}

type snapshot struct {
	rides    []*models.Ride
	captains []*models.Captain
	services []models.Service
}

func (s *Service) snapshot(ctx context.Context) (snapshot, error) {
	var (
		snap snapshot
		err  error
	)
	if snap.rides, err = s.Store.ListRides(ctx, storage.RideFilter{}); err != nil {
		return snap, apperr.Wrap(apperr.Internal, "could not list rides", err)
	}
	if snap.captains, err = s.Store.ListCaptains(ctx, storage.CaptainFilter{}); err != nil {
		return snap, apperr.Wrap(apperr.Internal, "could not list captains", err)
	}
	if snap.services, err = s.Store.ListServices(ctx); err != nil {
		return snap, apperr.Wrap(apperr.Internal, "could not list services", err)
	}
	return snap, nil
}

func (snap snapshot) serviceStats() []ServiceStats {
	active := make(map[string]bool, len(snap.services))
	for _, svc := range snap.services {
		active[svc.Name] = svc.IsActive
	}
	online := make(map[models.VehicleType]int)
	for _, c := range snap.captains {
		if c.IsOnline {
			online[c.Vehicle.VehicleType]++
		}
	}

	out := make([]ServiceStats, 0, len(models.Categories))
	for _, name := range models.Categories {
		st := ServiceStats{Name: name, IsActive: true}
		if v, ok := active[name]; ok {
			st.IsActive = v
		}
		for _, r := range snap.rides {
			if !models.MatchesCategory(r, name) {
				continue
			}
			st.Bookings++
			if paid(r) {
				st.Revenue += r.Fare
			}
		}
		v, _ := models.CategoryVehicle(name)
		st.ActiveDrivers = online[v]
		out = append(out, st)
	}
	return out
}

// ServiceStats recomputes the per-category view.
func (s *Service) ServiceStats(ctx context.Context) ([]ServiceStats, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.serviceStats(), nil
}

// BroadcastServiceStats pushes a fresh per-category view to the admin room.
// Failures are logged; the view is rebuilt on the next change anyway.
func (s *Service) BroadcastServiceStats(ctx context.Context) {
	stats, err := s.ServiceStats(ctx)
	if err != nil {
		s.logger().Warn("service stats broadcast failed", "error", err)
		return
	}
	s.Notifier.ToAdmins(models.EventServiceStatsUpdate, stats)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return Stats{}, err
	}
	users, err := s.Store.ListUsers(ctx)
	if err != nil {
		return Stats{}, apperr.Wrap(apperr.Internal, "could not list users", err)
	}

	st := Stats{
		TotalRides:    len(snap.rides),
		TotalCaptains: len(snap.captains),
		TotalUsers:    len(users),
		Services:      make(map[string]ServiceStats, len(models.Categories)),
	}
	for _, r := range snap.rides {
		switch r.Status {
		case models.StatusCompleted:
			st.CompleteRides++
		case models.StatusCancelled:
			st.CancelledRides++
		case models.StatusOngoing:
			st.ActiveRides++
		}
		if paid(r) {
			st.TotalRevenue += r.Fare
		}
	}
	for _, svc := range snap.serviceStats() {
		st.Services[models.StatsKey[svc.Name]] = svc
	}
	return st, nil
}

// RecentBookings summarizes the newest rides.
func (s *Service) RecentBookings(ctx context.Context) ([]models.BookingSummary, error) {
	rides, err := s.Store.ListRides(ctx, storage.RideFilter{Limit: recentBookings})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not list rides", err)
	}
	out := make([]models.BookingSummary, 0, len(rides))
	for _, r := range rides {
		out = append(out, s.Summary(ctx, r))
	}
	return out, nil
}

// Summary renders a ride for operators. Missing names fall back to
// placeholders rather than failing the view.
func (s *Service) Summary(ctx context.Context, r *models.Ride) models.BookingSummary {
	customer := "Unknown"
	if riders := r.Riders(); len(riders) > 0 {
		if u, err := s.Store.GetUser(ctx, riders[0]); err == nil && u.Fullname.Firstname != "" {
			customer = u.Fullname.String()
		}
	}
	driver := "Not Assigned"
	if r.CaptainID != "" {
		driver = "Unknown"
		if c, err := s.Store.GetCaptain(ctx, r.CaptainID); err == nil && c.Fullname.Firstname != "" {
			driver = c.Fullname.String()
		}
	}
	return models.BookingSummary{
		ID:       r.ID,
		Service:  models.ServiceLabel(r),
		Customer: customer,
		Driver:   driver,
		Status:   capitalize(string(r.Status)),
		Fare:     r.Fare,
		Date:     r.CreatedAt,
	}
}

// AnnounceBooking tells the admin room about a new ride.
func (s *Service) AnnounceBooking(ctx context.Context, r *models.Ride) {
	s.Notifier.ToAdmins(models.EventNewBooking, s.Summary(ctx, r))
}

func paid(r *models.Ride) bool {
	return r.Status == models.StatusCompleted && r.PaymentStatus == models.PaymentCompleted
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
