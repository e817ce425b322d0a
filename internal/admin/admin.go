// Package admin holds the operator-facing views and switches: service
// category toggles, account toggles and the aggregate stats pushed to the admin room.
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/observability"
	"github.com/example/ride-hailing/internal/storage"
)

type Notifier interface {
	ToUser(userID, event string, data any)
	ToCaptain(captainID, event string, data any)
	ToAdmins(event string, data any)
}

type Service struct {
	Store    storage.Store
	Notifier Notifier
	Index    geo.Index // optional; offlined captains are dropped from it
	Logger   *slog.Logger
}

type ToggleResult struct {
	Message          string         `json:"message"`
	Service          models.Service `json:"service"`
	AffectedCaptains int            `json:"affectedCaptains"`
}

type StatusUpdateEvent struct {
	IsOnline bool   `json:"isOnline"`
	Message  string `json:"message"`
}

type ServiceStatusEvent struct {
	ServiceName string `json:"serviceName"`
	IsActive    bool   `json:"isActive"`
}

// ToggleService enables or disables a service category. Disabling forces
// every online captain of the category's vehicle class offline.
func (s *Service) ToggleService(ctx context.Context, name string, active bool) (ToggleResult, error) {
	vehicle, ok := models.CategoryVehicle(name)
	if !ok {
		return ToggleResult{}, apperr.Invalid(map[string]string{"serviceName": "unknown service"})
	}
	svc, err := s.Store.SetServiceActive(ctx, name, active)
	if err != nil {
		return ToggleResult{}, apperr.Wrap(apperr.Internal, "could not update service", err)
	}

	var affected []string
	if !active {
		affected, err = s.Store.ForceOffline(ctx, []models.VehicleType{vehicle})
		if err != nil {
			return ToggleResult{}, apperr.Wrap(apperr.Internal, "could not take captains offline", err)
		}
		msg := fmt.Sprintf("Service %s has been disabled by the admin. You are now offline.", name)
		for _, id := range affected {
			s.unindex(ctx, id)
			s.Notifier.ToCaptain(id, models.EventStatusUpdate, StatusUpdateEvent{IsOnline: false, Message: msg})
		}
		observability.ForcedOffline.Add(float64(len(affected)))
		observability.CaptainsOnline.WithLabelValues(string(vehicle)).Sub(float64(len(affected)))
	}

	s.Notifier.ToAdmins(models.EventServiceStatusChanged, ServiceStatusEvent{ServiceName: name, IsActive: active})
	s.logger().Info("service toggled", "service", name, "active", active, "affected_captains", len(affected))
	s.BroadcastServiceStats(ctx)

	state := "inactive"
	if active {
		state = "active"
	}
	return ToggleResult{
		Message:          fmt.Sprintf("Service %s is now %s", name, state),
		Service:          svc,
		AffectedCaptains: len(affected),
	}, nil
}

func (s *Service) Services(ctx context.Context) ([]models.Service, error) {
	out, err := s.Store.ListServices(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.Internal, "could not list services", err)
	}
	return out, nil
}

// unindex drops an offline captain from the radius index.
func (s *Service) unindex(ctx context.Context, captainID string) {
	if s.Index == nil {
		return
	}
	if err := s.Index.Remove(ctx, captainID); err != nil {
		observability.GeoErrors.WithLabelValues("index").Inc()
		s.logger().Warn("geo index remove failed", "captain_id", captainID, "error", err)
	}
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
