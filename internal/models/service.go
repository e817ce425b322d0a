package models

// Service category names are shared with the admin and reporting surface.
const (
	CategoryBikeRide    = "Bike Ride"
	CategoryCar         = "Car"
	CategoryTaxiRide    = "Taxi Ride"
	CategoryIntercity   = "Intercity"
	CategoryTaxiBooking = "Taxi Booking"
	CategoryTaxiPool    = "Taxi Pool"
)

// Categories lists the six service categories in display order.
var Categories = []string{
	CategoryBikeRide,
	CategoryCar,
	CategoryTaxiRide,
	CategoryIntercity,
	CategoryTaxiBooking,
	CategoryTaxiPool,
}

var categoryVehicle = map[string]VehicleType{
	CategoryBikeRide:    VehicleMotorcycle,
	CategoryCar:         VehicleCar,
	CategoryTaxiRide:    VehicleAuto,
	CategoryIntercity:   VehicleCar,
	CategoryTaxiBooking: VehicleAuto,
	CategoryTaxiPool:    VehicleAuto,
}

// StatsKey is the key each category uses in the admin stats payload.
var StatsKey = map[string]string{
	CategoryBikeRide:    "bikeRide",
	CategoryCar:         "car",
	CategoryTaxiRide:    "taxiRide",
	CategoryIntercity:   "intercity",
	CategoryTaxiBooking: "taxiBooking",
	CategoryTaxiPool:    "taxiPool",
}

type Service struct {
	Name     string `json:"name"`
	IsActive bool   `json:"isActive"`
}

func IsCategory(name string) bool {
	_, ok := categoryVehicle[name]
	return ok
}

// CategoryVehicle maps a category to the vehicle class serving it.
func CategoryVehicle(name string) (VehicleType, bool) {
	v, ok := categoryVehicle[name]
	return v, ok
}

// CategoriesFor lists every category served by vehicle class v.
func CategoriesFor(v VehicleType) []string {
	var out []string
	for _, name := range Categories {
		if categoryVehicle[name] == v {
			out = append(out, name)
		}
	}
	return out
}

// VehicleBlocked reports whether every category served by v is disabled.
func VehicleBlocked(v VehicleType, services []Service) bool {
	active := make(map[string]bool, len(services))
	for _, s := range services {
		active[s.Name] = s.IsActive
	}
	cats := CategoriesFor(v)
	if len(cats) == 0 {
		return false
	}
	for _, name := range cats {
		isActive, known := active[name]
		if !known || isActive {
			return false
		}
	}
	return true
}

// MatchesCategory reports whether ride counts as a booking for the category.
func MatchesCategory(r *Ride, category string) bool {
	switch category {
	case CategoryBikeRide:
		return r.VehicleType == VehicleMotorcycle
	case CategoryCar:
		return r.VehicleType == VehicleCar
	case CategoryTaxiRide:
		return r.VehicleType == VehicleAuto
	case CategoryIntercity:
		return r.ServiceType == ServiceIntercity
	case CategoryTaxiBooking:
		return r.ServiceType == ServiceTaxiBooking
	case CategoryTaxiPool:
		return r.ServiceType == ServiceTaxiPool
	}
	return false
}

// ServiceLabel is the human-readable service shown for a booking.
func ServiceLabel(r *Ride) string {
	switch {
	case r.ServiceType == ServiceTaxiPool:
		return CategoryTaxiPool
	case r.ServiceType == ServiceIntercity:
		return CategoryIntercity
	case r.ServiceType == ServiceTaxiBooking:
		return CategoryTaxiBooking
	case r.VehicleType == VehicleMotorcycle:
		return CategoryBikeRide
	case r.VehicleType == VehicleCar:
		return CategoryCar
	}
	return CategoryTaxiRide
}
