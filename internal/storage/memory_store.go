package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// MemoryStore keeps every record in process. A single lock makes each
// conditional update atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	rides    map[string]*rideRecord
	captains map[string]*models.Captain
	users    map[string]*models.User
	services []models.Service
	seq      int64
	now      func() time.Time
}

type rideRecord struct {
	ride *models.Ride
	seq  int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[string]*rideRecord),
		captains: make(map[string]*models.Captain),
		users:    make(map[string]*models.User),
		services: defaultServices(),
		now:      time.Now,
	}
}

// PutCaptain inserts or replaces a captain. Registration lives outside the
// ride core, so this is how captains reach an in-memory deployment.
func (m *MemoryStore) PutCaptain(c *models.Captain) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captains[c.ID] = c.Clone()
}

func (m *MemoryStore) PutUser(u *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *u
	m.users[u.ID] = &cp
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.rides[r.ID] = &rideRecord{ride: r.Clone(), seq: m.seq}
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.ride.Clone(), nil
}

func (m *MemoryStore) ListRides(_ context.Context, f RideFilter) ([]*models.Ride, error) {
	m.mu.RLock()
	recs := make([]*rideRecord, 0, len(m.rides))
	for _, rec := range m.rides {
		if f.Match(rec.ride) {
			recs = append(recs, &rideRecord{ride: rec.ride.Clone(), seq: rec.seq})
		}
	}
	m.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.ride.CreatedAt.Equal(b.ride.CreatedAt) {
			return a.ride.CreatedAt.After(b.ride.CreatedAt)
		}
		return a.seq > b.seq
	})
	if f.Limit > 0 && len(recs) > f.Limit {
		recs = recs[:f.Limit]
	}
	out := make([]*models.Ride, len(recs))
	for i, rec := range recs {
		out[i] = rec.ride
	}
	return out, nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, id string, cond RideCond, ch RideChange) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !cond.Match(rec.ride) {
		return nil, ErrConflict
	}
	r := rec.ride
	ch.Apply(r, m.now())
	if c, ok := m.captains[r.CaptainID]; ok {
		if !ch.CreditDay.IsZero() {
			c.TotalRides++
			c.UpsertDailyStat(ch.CreditDay, func(s *models.DailyStat) {
				s.Earnings += r.Fare
				s.TripsCompleted++
			})
		}
		if ch.Feedback != nil {
			n := float64(c.RatingCount)
			c.Rating = (c.Rating*n + float64(ch.Feedback.Rating)) / (n + 1)
			c.RatingCount++
		}
	}
	if !ch.CreditDay.IsZero() {
		for _, id := range r.Riders() {
			if u, ok := m.users[id]; ok {
				u.TotalRides++
			}
		}
	}
	return r.Clone(), nil
}

func (m *MemoryStore) AppendLeg(_ context.Context, rideID string, leg models.Leg, maxLegs int) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rides[rideID]
	if !ok {
		return nil, ErrNotFound
	}
	r := rec.ride
	if r.Status != models.StatusPending || !r.Pooled() || (maxLegs > 0 && len(r.Legs) >= maxLegs) {
		return nil, ErrConflict
	}
	r.Legs = append(r.Legs, leg)
	r.Fare += leg.FareShare
	r.UpdatedAt = m.now()
	return r.Clone(), nil
}

func (m *MemoryStore) GetCaptain(_ context.Context, id string) (*models.Captain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.captains[id]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) ListCaptains(_ context.Context, f CaptainFilter) ([]*models.Captain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Captain, 0, len(m.captains))
	for _, c := range m.captains {
		if f.Match(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) SetCaptainOnline(_ context.Context, id string, online bool) (*models.Captain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.captains[id]
	if !ok {
		return nil, ErrNotFound
	}
	if online {
		if !c.IsActive {
			return nil, ErrInactive
		}
		if models.VehicleBlocked(c.Vehicle.VehicleType, m.services) {
			return nil, ErrServiceDisabled
		}
	}
	c.IsOnline = online
	return c.Clone(), nil
}

func (m *MemoryStore) ToggleCaptainActive(_ context.Context, id string) (*models.Captain, error) {
	return m.mutateCaptain(id, func(c *models.Captain) {
		c.IsActive = !c.IsActive
		if !c.IsActive {
			c.IsOnline = false
		}
	})
}

func (m *MemoryStore) ForceOffline(_ context.Context, vehicles []models.VehicleType) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, c := range m.captains {
		if !c.IsOnline {
			continue
		}
		for _, v := range vehicles {
			if c.Vehicle.VehicleType == v {
				c.IsOnline = false
				ids = append(ids, c.ID)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) UpdateCaptainLocation(_ context.Context, id string, loc models.Coord) error {
	_, err := m.mutateCaptain(id, func(c *models.Captain) { c.Location = &loc })
	return err
}

func (m *MemoryStore) AddHoursOnline(_ context.Context, id string, day time.Time, hours float64) (*models.Captain, error) {
	return m.mutateCaptain(id, func(c *models.Captain) {
		c.UpsertDailyStat(day, func(s *models.DailyStat) { s.HoursOnline += hours })
	})
}

func (m *MemoryStore) mutateCaptain(id string, fn func(*models.Captain)) (*models.Captain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.captains[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(c)
	return c.Clone(), nil
}

func (m *MemoryStore) GetUser(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		cp := *u
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ToggleUserActive(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	u.IsActive = !u.IsActive
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) ListServices(_ context.Context) ([]models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.Service(nil), m.services...), nil
}

func (m *MemoryStore) SetServiceActive(_ context.Context, name string, active bool) (models.Service, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.services {
		if m.services[i].Name == name {
			m.services[i].IsActive = active
			return m.services[i], nil
		}
	}
	return models.Service{}, ErrNotFound
}
