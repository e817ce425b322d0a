package geo

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/example/ride-hailing/internal/models"
)

// ErrNoResult means the provider answered but could not resolve the request.
var ErrNoResult = errors.New("geo: no result")

// Route is the driving distance and duration between two addresses.
type Route struct {
	DistanceMeters  float64 `json:"distance"`
	DurationSeconds float64 `json:"duration"`
}

// Lookup resolves addresses and routes against an external maps provider.
type Lookup interface {
	ResolveCoordinates(ctx context.Context, address string) (models.Coord, error)
	DistanceAndDuration(ctx context.Context, origin, destination string) (Route, error)
}

// Index answers nearby-captain radius queries.
type Index interface {
	Upsert(ctx context.Context, captainID string, loc models.Coord) error
	Remove(ctx context.Context, captainID string) error
	Nearby(ctx context.Context, loc models.Coord, radiusKm float64) ([]string, error)
}

// MemoryIndex is an in-process Index for single-node runs and tests.
type MemoryIndex struct {
	mu       sync.RWMutex
	captains map[string]models.Coord
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{captains: make(map[string]models.Coord)}
}

func (g *MemoryIndex) Upsert(_ context.Context, captainID string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captains[captainID] = loc
	return nil
}

func (g *MemoryIndex) Remove(_ context.Context, captainID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.captains, captainID)
	return nil
}

// Nearby scans every captain; results are ordered nearest first.
func (g *MemoryIndex) Nearby(_ context.Context, loc models.Coord, radiusKm float64) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		id   string
		dist float64
	}
	limit := radiusKm * 1000
	arr := make([]pair, 0, len(g.captains))
	for id, c := range g.captains {
		if d := Haversine(loc.Lat, loc.Lng, c.Lat, c.Lng); d <= limit {
			arr = append(arr, pair{id, d})
		}
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	out := make([]string, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.id)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Moved reports whether b differs from a by at least threshold degrees on either axis.
func Moved(a, b models.Coord, threshold float64) bool {
	return math.Abs(a.Lat-b.Lat) >= threshold || math.Abs(a.Lng-b.Lng) >= threshold
}

// ValidCoord reports whether c is a real latitude/longitude pair.
func ValidCoord(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}
