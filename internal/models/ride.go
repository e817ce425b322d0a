package models

import "time"

// Leg is one rider's share of a pooled ride.
type Leg struct {
	UserID                 string  `json:"userId"`
	FareShare              float64 `json:"fareShare"`
	Pickup                 string  `json:"pickup"`
	Destination            string  `json:"destination"`
	PickupCoordinates      Coord   `json:"pickupCoordinates"`
	DestinationCoordinates Coord   `json:"destinationCoordinates"`
}

type Ride struct {
	ID        string `json:"_id"`
	UserID    string `json:"user,omitempty"`
	Legs      []Leg  `json:"users,omitempty"`
	CaptainID string `json:"captain,omitempty"`

	Pickup                 string `json:"pickup"`
	Destination            string `json:"destination"`
	PickupCoordinates      Coord  `json:"pickupCoordinates"`
	DestinationCoordinates Coord  `json:"destinationCoordinates"`

	Fare        float64     `json:"fare"`
	VehicleType VehicleType `json:"vehicleType"`
	ServiceType ServiceType `json:"serviceType"`
	Distance    float64     `json:"distance"`
	Duration    float64     `json:"duration"`

	Status        RideStatus    `json:"status"`
	PaymentStatus PaymentStatus `json:"paymentStatus"`
	OrderID       string        `json:"orderId,omitempty"`
	PaymentID     string        `json:"paymentID,omitempty"`
	Signature     string        `json:"signature,omitempty"`
	OTP           string        `json:"-"`

	IsScheduled   bool       `json:"isScheduled"`
	ScheduledTime *time.Time `json:"scheduledTime,omitempty"`

	FeedbackSubmitted bool   `json:"feedbackSubmitted"`
	FeedbackRating    int    `json:"feedbackRating,omitempty"`
	FeedbackComment   string `json:"feedbackComment,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r *Ride) Pooled() bool { return r.ServiceType == ServiceTaxiPool }

// Riders returns every rider on the ride: the solo rider or each leg's rider.
func (r *Ride) Riders() []string {
	if !r.Pooled() {
		if r.UserID == "" {
			return nil
		}
		return []string{r.UserID}
	}
	out := make([]string, 0, len(r.Legs))
	seen := make(map[string]bool, len(r.Legs))
	for _, l := range r.Legs {
		if !seen[l.UserID] {
			seen[l.UserID] = true
			out = append(out, l.UserID)
		}
	}
	return out
}

func (r *Ride) HasRider(userID string) bool {
	for _, id := range r.Riders() {
		if id == userID {
			return true
		}
	}
	return false
}

// ReferenceTime is the scheduled time when present, otherwise the creation time.
func (r *Ride) ReferenceTime() time.Time {
	if r.ScheduledTime != nil {
		return *r.ScheduledTime
	}
	return r.CreatedAt
}

// Clone returns a deep copy safe to hand out of a store.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	if r.Legs != nil {
		c.Legs = append([]Leg(nil), r.Legs...)
	}
	if r.ScheduledTime != nil {
		t := *r.ScheduledTime
		c.ScheduledTime = &t
	}
	return &c
}

// RideWithOTP exposes the OTP; it is only sent to the ride's riders on confirmation.
type RideWithOTP struct {
	*Ride
	OTP string `json:"otp"`
}
