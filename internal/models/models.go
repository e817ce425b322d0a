package models

import (
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// VehicleType is the vehicle class a captain drives and a ride requests.
type VehicleType string

const (
	VehicleAuto       VehicleType = "auto"
	VehicleCar        VehicleType = "car"
	VehicleMotorcycle VehicleType = "motorcycle"
)

// VehicleTypes lists every vehicle class in fare-quote order.
var VehicleTypes = []VehicleType{VehicleAuto, VehicleCar, VehicleMotorcycle}

// ParseVehicleType accepts the three classes plus the legacy "moto" alias.
func ParseVehicleType(s string) (VehicleType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto":
		return VehicleAuto, true
	case "car":
		return VehicleCar, true
	case "motorcycle", "moto":
		return VehicleMotorcycle, true
	}
	return "", false
}

type ServiceType string

const (
	ServiceSolo        ServiceType = "solo"
	ServiceIntercity   ServiceType = "intercity"
	ServiceTaxiBooking ServiceType = "taxiBooking"
	ServiceTaxiPool    ServiceType = "taxiPool"
)

func ParseServiceType(s string) (ServiceType, bool) {
	switch ServiceType(strings.TrimSpace(s)) {
	case "":
		return ServiceSolo, true
	case ServiceSolo, ServiceIntercity, ServiceTaxiBooking, ServiceTaxiPool:
		return ServiceType(strings.TrimSpace(s)), true
	}
	return "", false
}

type RideStatus string

const (
	StatusPending   RideStatus = "pending"
	StatusAccepted  RideStatus = "accepted"
	StatusOngoing   RideStatus = "ongoing"
	StatusCompleted RideStatus = "completed"
	StatusCancelled RideStatus = "cancelled"
)

// Terminal reports whether no further transition can leave the status.
func (s RideStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
)

// Role identifies the kind of authenticated actor.
type Role string

const (
	RoleUser    Role = "user"
	RoleCaptain Role = "captain"
	RoleAdmin   Role = "admin"
)

// Actor is the authenticated identity supplied to every protected operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Day truncates t to the start of its calendar day in t's location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// SameDay compares calendar dates, ignoring location. Dates read back from
// storage come in UTC while callers use local time.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
