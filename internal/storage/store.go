package storage

import (
	"context"
	"errors"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

var (
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict means the record exists but did not satisfy the update condition.
	ErrConflict = errors.New("storage: condition not met")
	// ErrInactive and ErrServiceDisabled refuse a captain going online.
	ErrInactive        = errors.New("storage: captain deactivated")
	ErrServiceDisabled = errors.New("storage: every category for the vehicle is disabled")
)

// RideCond is the guard a conditional ride update must satisfy atomically.
// Zero fields are not checked.
type RideCond struct {
	Statuses       []models.RideStatus
	CaptainID      string
	RiderID        string
	PaymentPending bool
	Unassigned     bool
	Scheduled      bool
	FeedbackOpen   bool
}

func (c RideCond) Match(r *models.Ride) bool {
	if len(c.Statuses) > 0 && !hasStatus(c.Statuses, r.Status) {
		return false
	}
	if c.CaptainID != "" && r.CaptainID != c.CaptainID {
		return false
	}
	if c.RiderID != "" && !r.HasRider(c.RiderID) {
		return false
	}
	if c.PaymentPending && r.PaymentStatus == models.PaymentCompleted {
		return false
	}
	if c.Unassigned && r.CaptainID != "" {
		return false
	}
	if c.Scheduled && !r.IsScheduled {
		return false
	}
	if c.FeedbackOpen && r.FeedbackSubmitted {
		return false
	}
	return true
}

// RideChange lists the fields an update writes. Zero fields are left alone.
//
// CreditDay and Feedback also touch the ride's participants in the same step:
// a non-zero CreditDay books a completed trip worth the fare on the captain's
// stats for that day and bumps every rider's ride count; Feedback folds its
// rating into the captain's average.
type RideChange struct {
	Status        models.RideStatus
	CaptainID     string
	PaymentStatus models.PaymentStatus
	OrderID       string
	PaymentID     string
	Signature     string
	Feedback      *Feedback
	CreditDay     time.Time
}

type Feedback struct {
	Rating  int
	Comment string
}

func (ch RideChange) Apply(r *models.Ride, now time.Time) {
	if ch.Status != "" {
		r.Status = ch.Status
	}
	if ch.CaptainID != "" {
		r.CaptainID = ch.CaptainID
	}
	if ch.PaymentStatus != "" {
		r.PaymentStatus = ch.PaymentStatus
	}
	if ch.OrderID != "" {
		r.OrderID = ch.OrderID
	}
	if ch.PaymentID != "" {
		r.PaymentID = ch.PaymentID
	}
	if ch.Signature != "" {
		r.Signature = ch.Signature
	}
	if ch.Feedback != nil {
		r.FeedbackSubmitted = true
		r.FeedbackRating = ch.Feedback.Rating
		r.FeedbackComment = ch.Feedback.Comment
	}
	r.UpdatedAt = now
}

// RideFilter selects rides for listing; results are newest first.
type RideFilter struct {
	RiderID     string
	CaptainID   string
	Statuses    []models.RideStatus
	ServiceType models.ServiceType
	VehicleType models.VehicleType
	Scheduled   bool
	Limit       int
}

func (f RideFilter) Match(r *models.Ride) bool {
	if f.RiderID != "" && !r.HasRider(f.RiderID) {
		return false
	}
	if f.CaptainID != "" && r.CaptainID != f.CaptainID {
		return false
	}
	if len(f.Statuses) > 0 && !hasStatus(f.Statuses, r.Status) {
		return false
	}
	if f.ServiceType != "" && r.ServiceType != f.ServiceType {
		return false
	}
	if f.VehicleType != "" && r.VehicleType != f.VehicleType {
		return false
	}
	if f.Scheduled && !r.IsScheduled {
		return false
	}
	return true
}

type RideStore interface {
	CreateRide(ctx context.Context, r *models.Ride) error
	GetRide(ctx context.Context, id string) (*models.Ride, error)
	ListRides(ctx context.Context, f RideFilter) ([]*models.Ride, error)
	// UpdateRide applies ch only if the ride currently satisfies cond.
	UpdateRide(ctx context.Context, id string, cond RideCond, ch RideChange) (*models.Ride, error)
	// AppendLeg adds a leg to a pending pooled ride and adds its share to the
	// fare in one step. maxLegs <= 0 means unlimited.
	AppendLeg(ctx context.Context, rideID string, leg models.Leg, maxLegs int) (*models.Ride, error)
}

type CaptainFilter struct {
	IDs         []string
	VehicleType models.VehicleType
	OnlineOnly  bool
	ActiveOnly  bool
}

func (f CaptainFilter) Match(c *models.Captain) bool {
	if len(f.IDs) > 0 {
		found := false
		for _, id := range f.IDs {
			if id == c.ID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.VehicleType != "" && c.Vehicle.VehicleType != f.VehicleType {
		return false
	}
	if f.OnlineOnly && !c.IsOnline {
		return false
	}
	if f.ActiveOnly && !c.IsActive {
		return false
	}
	return true
}

type CaptainStore interface {
	GetCaptain(ctx context.Context, id string) (*models.Captain, error)
	ListCaptains(ctx context.Context, f CaptainFilter) ([]*models.Captain, error)
	// SetCaptainOnline flips availability. Going online is checked in the same
	// step as the write: it fails with ErrInactive for a deactivated captain and
	// ErrServiceDisabled when every category for the vehicle is disabled.
	SetCaptainOnline(ctx context.Context, id string, online bool) (*models.Captain, error)
	// ToggleCaptainActive flips the active flag; deactivation also takes the captain offline.
	ToggleCaptainActive(ctx context.Context, id string) (*models.Captain, error)
	// ForceOffline takes every online captain of the given classes offline and
	// returns the affected ids.
	ForceOffline(ctx context.Context, vehicles []models.VehicleType) ([]string, error)
	UpdateCaptainLocation(ctx context.Context, id string, loc models.Coord) error
	AddHoursOnline(ctx context.Context, id string, day time.Time, hours float64) (*models.Captain, error)
}

type UserStore interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]*models.User, error)
	ToggleUserActive(ctx context.Context, id string) (*models.User, error)
}

type ServiceStore interface {
	ListServices(ctx context.Context) ([]models.Service, error)
	SetServiceActive(ctx context.Context, name string, active bool) (models.Service, error)
}

// Store bundles every persistence concern of the ride core.
type Store interface {
	RideStore
	CaptainStore
	UserStore
	ServiceStore
}

func hasStatus(set []models.RideStatus, s models.RideStatus) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func defaultServices() []models.Service {
	out := make([]models.Service, 0, len(models.Categories))
	for _, name := range models.Categories {
		out = append(out, models.Service{Name: name, IsActive: true})
	}
	return out
}
