package admin

import (
	"context"
	"fmt"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/storage"
)

type AccountSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	TotalRides int    `json:"totalRides"`
	IsActive   bool   `json:"isActive"`
}

type AccountToggle struct {
	Message string         `json:"message"`
	Account AccountSummary `json:"account"`
}

type StatusChangedEvent struct {
	IsActive bool   `json:"isActive"`
	Message  string `json:"message"`
}

func (s *Service) Captains(ctx context.Context) ([]*models.Captain, error) {
	out, err := s.Store.ListCaptains(ctx, storage.CaptainFilter{})
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not list captains", err)
	}
	return out, nil
}

func (s *Service) Captain(ctx context.Context, id string) (*models.Captain, error) {
	c, err := s.Store.GetCaptain(ctx, id)
	if err != nil {
		return nil, storeErr(err, "captain not found")
	}
	return c, nil
}

func (s *Service) Users(ctx context.Context) ([]*models.User, error) {
	out, err := s.Store.ListUsers(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not list users", err)
	}
	return out, nil
}

func (s *Service) User(ctx context.Context, id string) (*models.User, error) {
	u, err := s.Store.GetUser(ctx, id)
	if err != nil {
		return nil, storeErr(err, "user not found")
	}
	return u, nil
}

// ToggleUser flips a rider's active flag. Inactive riders cannot create rides.
func (s *Service) ToggleUser(ctx context.Context, id string) (AccountToggle, error) {
	u, err := s.Store.ToggleUserActive(ctx, id)
	if err != nil {
		return AccountToggle{}, storeErr(err, "user not found")
	}
	if !u.IsActive {
		s.Notifier.ToUser(u.ID, models.EventStatusChanged, StatusChangedEvent{
			IsActive: false,
			Message:  "Your account has been deactivated by an admin. You cannot create rides.",
		})
	}
	s.logger().Info("user status toggled", "user_id", u.ID, "active", u.IsActive)
	return AccountToggle{
		Message: fmt.Sprintf("%s is now %s", orDefault(u.Fullname.Firstname, "User"), activeWord(u.IsActive)),
		Account: AccountSummary{ID: u.ID, Name: u.Fullname.String(), Email: u.Email, TotalRides: u.TotalRides, IsActive: u.IsActive},
	}, nil
}

// ToggleCaptain flips a captain's active flag; deactivation also takes the
// captain offline.
func (s *Service) ToggleCaptain(ctx context.Context, id string) (AccountToggle, error) {
	before, err := s.Store.GetCaptain(ctx, id)
	if err != nil {
		return AccountToggle{}, storeErr(err, "captain not found")
	}
	c, err := s.Store.ToggleCaptainActive(ctx, id)
	if err != nil {
		return AccountToggle{}, storeErr(err, "captain not found")
	}
	if !c.IsActive {
		if before.IsOnline {
			observability.CaptainsOnline.WithLabelValues(string(c.Vehicle.VehicleType)).Dec()
		}
		s.unindex(ctx, c.ID)
		s.Notifier.ToCaptain(c.ID, models.EventStatusChanged, StatusChangedEvent{
			IsActive: false,
			Message:  "Your account has been deactivated by an admin.",
		})
	}
	s.logger().Info("captain status toggled", "captain_id", c.ID, "active", c.IsActive)
	s.BroadcastServiceStats(ctx)
	return AccountToggle{
		Message: fmt.Sprintf("%s is now %s", orDefault(c.Fullname.Firstname, "Captain"), activeWord(c.IsActive)),
		Account: AccountSummary{ID: c.ID, Name: c.Fullname.String(), Email: c.Email, TotalRides: c.TotalRides, IsActive: c.IsActive},
	}, nil
}

func activeWord(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
