package models

import (
	"strings"
	"time"
)

// Fullname mirrors the name layout shared with the registration service.
type Fullname struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname,omitempty"`
}

func (f Fullname) String() string {
	return strings.TrimSpace(f.Firstname + " " + f.Lastname)
}

type Vehicle struct {
	Color       string      `json:"color,omitempty"`
	Plate       string      `json:"plate"`
	Capacity    int         `json:"capacity"`
	VehicleType VehicleType `json:"vehicleType"`
}

// DailyStat is one calendar day of captain activity.
type DailyStat struct {
	Date           time.Time `json:"date"`
	Earnings       float64   `json:"earnings"`
	HoursOnline    float64   `json:"hoursOnline"`
	TripsCompleted int       `json:"tripsCompleted"`
}

// MaxDailyStats caps the per-captain history; older days are evicted.
const MaxDailyStats = 30

type Captain struct {
	ID          string      `json:"_id"`
	Fullname    Fullname    `json:"fullname"`
	Email       string      `json:"email"`
	Vehicle     Vehicle     `json:"vehicle"`
	Location    *Coord      `json:"location,omitempty"`
	IsOnline    bool        `json:"isOnline"`
	IsActive    bool        `json:"isActive"`
	Rating      float64     `json:"rating"`
	RatingCount int         `json:"ratingCount"`
	TotalRides  int         `json:"totalRides"`
	DailyStats  []DailyStat `json:"dailyStats"`
	CreatedAt   time.Time   `json:"createdAt"`
}

// StatFor returns the stats bucket for day, or a zero bucket.
func (c *Captain) StatFor(day time.Time) DailyStat {
	day = Day(day)
	for _, s := range c.DailyStats {
		if SameDay(s.Date, day) {
			return s
		}
	}
	return DailyStat{Date: day}
}

// UpsertDailyStat applies fn to the bucket for day, creating it when absent.
// Buckets stay ordered newest first and are capped at MaxDailyStats.
func (c *Captain) UpsertDailyStat(day time.Time, fn func(*DailyStat)) {
	day = Day(day)
	for i := range c.DailyStats {
		if SameDay(c.DailyStats[i].Date, day) {
			fn(&c.DailyStats[i])
			return
		}
	}
	s := DailyStat{Date: day}
	fn(&s)
	stats := append(c.DailyStats, s)
	for i := len(stats) - 1; i > 0 && stats[i].Date.After(stats[i-1].Date); i-- {
		stats[i], stats[i-1] = stats[i-1], stats[i]
	}
	if len(stats) > MaxDailyStats {
		stats = stats[:MaxDailyStats]
	}
	c.DailyStats = stats
}

func (c *Captain) Clone() *Captain {
	if c == nil {
		return nil
	}
	out := *c
	if c.Location != nil {
		loc := *c.Location
		out.Location = &loc
	}
	out.DailyStats = append([]DailyStat(nil), c.DailyStats...)
	return &out
}

type User struct {
	ID          string    `json:"_id"`
	Fullname    Fullname  `json:"fullname"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	IsActive    bool      `json:"isActive"`
	TotalRides  int       `json:"totalRides"`
	CreatedAt   time.Time `json:"createdAt"`
}
