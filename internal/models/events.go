package models

import "time"

// Realtime event names.
const (
	EventRideRequest          = "ride-request"
	EventRideConfirmed        = "ride-confirmed"
	EventRideStarted          = "ride-started"
	EventRideEnded            = "ride-ended"
	EventRideCancelled        = "ride-cancelled"
	EventRideCompleted        = "ride-completed"
	EventPaymentCompleted     = "payment-completed"
	EventCaptainLocation      = "captain-location-update"
	EventStatsUpdated         = "stats-updated"
	EventStatusUpdate         = "status-update"
	EventStatusChanged        = "status-changed"
	EventCaptainAssigned      = "captain-assigned"
	EventNoCaptainsAvailable  = "no-captains-available"
	EventNewBooking           = "new-booking"
	EventServiceStatsUpdate   = "service-stats-update"
	EventServiceStatusChanged = "service-status-changed"
	EventJoin                 = "join"
	EventError                = "error"
)

// BookingSummary is the admin-facing view of one ride.
type BookingSummary struct {
	ID       string    `json:"id"`
	Service  string    `json:"service"`
	Customer string    `json:"customer"`
	Driver   string    `json:"driver"`
	Status   string    `json:"status"`
	Fare     float64   `json:"fare"`
	Date     time.Time `json:"date"`
}

// CaptainStats is today's activity for one captain.
type CaptainStats struct {
	EarningsToday float64 `json:"earningsToday"`
	HoursOnline   float64 `json:"hoursOnline"`
	TripsToday    int     `json:"tripsToday"`
	Rating        float64 `json:"rating"`
}

func StatsFor(c *Captain, now time.Time) CaptainStats {
	s := c.StatFor(now)
	return CaptainStats{
		EarningsToday: s.Earnings,
		HoursOnline:   s.HoursOnline,
		TripsToday:    s.TripsCompleted,
		Rating:        c.Rating,
	}
}

// RideEvent is a lifecycle record published to the ride event stream.
type RideEvent struct {
	Type        string      `json:"type"`
	RideID      string      `json:"rideId"`
	Status      RideStatus  `json:"status"`
	ServiceType ServiceType `json:"serviceType"`
	VehicleType VehicleType `json:"vehicleType"`
	CaptainID   string      `json:"captainId,omitempty"`
	Riders      []string    `json:"riders,omitempty"`
	Fare        float64     `json:"fare"`
	Actor       string      `json:"actor,omitempty"`
	At          time.Time   `json:"at"`
}

// CaptainLocation is the message carried on the captain location stream.
type CaptainLocation struct {
	CaptainID   string      `json:"captainId"`
	Location    Coord       `json:"location"`
	VehicleType VehicleType `json:"vehicleType,omitempty"`
	IsOnline    bool        `json:"isOnline"`
	Rating      float64     `json:"rating"`
	At          time.Time   `json:"at"`
}
