// Package fare prices rides from route distance and duration.
package fare

import (
	"math"

	"github.com/example/ride-hailing/internal/models"
)

type Rate struct {
	Base      float64
	PerKm     float64
	PerMinute float64
}

var Rates = map[models.VehicleType]Rate{
	models.VehicleAuto:       {Base: 30, PerKm: 10, PerMinute: 2},
	models.VehicleCar:        {Base: 50, PerKm: 15, PerMinute: 3},
	models.VehicleMotorcycle: {Base: 20, PerKm: 8, PerMinute: 1.5},
}

// PoolDiscount is the fraction of the solo fare charged for a pooled leg.
const PoolDiscount = 0.7

// Quote holds the fare for each vehicle class.
type Quote map[models.VehicleType]float64

// Calculate returns the fare rounded to the nearest currency unit.
// Unknown vehicle classes price at zero.
func Calculate(v models.VehicleType, distanceM, durationS float64) float64 {
	r, ok := Rates[v]
	if !ok {
		return 0
	}
	return math.Round(r.Base + r.PerKm*(distanceM/1000) + r.PerMinute*(durationS/60))
}

func QuoteAll(distanceM, durationS float64) Quote {
	q := make(Quote, len(models.VehicleTypes))
	for _, v := range models.VehicleTypes {
		q[v] = Calculate(v, distanceM, durationS)
	}
	return q
}

// PoolShare prices a pooled leg, kept to two decimal places.
func PoolShare(v models.VehicleType, distanceM, durationS float64) float64 {
	return math.Round(PoolDiscount*Calculate(v, distanceM, durationS)*100) / 100
}

// MinorUnits converts a fare into the smallest currency unit.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
