package matcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/storage"
)

type fakeLookup struct {
	coords map[string]models.Coord
	routes map[string]geo.Route
	def    geo.Route
}

func (f *fakeLookup) ResolveCoordinates(_ context.Context, addr string) (models.Coord, error) {
	c, ok := f.coords[addr]
	if !ok {
		return models.Coord{}, geo.ErrNoResult
	}
	return c, nil
}

func (f *fakeLookup) DistanceAndDuration(_ context.Context, o, d string) (geo.Route, error) {
	if r, ok := f.routes[o+"|"+d]; ok {
		return r, nil
	}
	return f.def, nil
}

type sent struct {
	to    string
	event string
	data  any
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) ToUser(id, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{"user:" + id, event, data})
}

func (r *recorder) ToCaptain(id, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{"captain:" + id, event, data})
}

func (r *recorder) to(target, event string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, s := range r.sent {
		if s.to == target && s.event == event {
			out = append(out, s)
		}
	}
	return out
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sent {
		if s.event == event {
			n++
		}
	}
	return n
}

type adminFeed struct{ bookings, stats int }

func (a *adminFeed) AnnounceBooking(context.Context, *models.Ride) { a.bookings++ }
func (a *adminFeed) BroadcastServiceStats(context.Context)         { a.stats++ }

type online map[string]bool

func (o online) Connected(a models.Actor) bool { return o[a.ID] }

var center = models.Coord{Lat: 12.9716, Lng: 77.5946}

type fixture struct {
	svc    *Service
	store  *storage.MemoryStore
	index  *geo.MemoryIndex
	lookup *fakeLookup
	notes  *recorder
	admin  *adminFeed
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: storage.NewMemoryStore(),
		index: geo.NewMemoryIndex(),
		lookup: &fakeLookup{
			coords: map[string]models.Coord{
				"MG Road":       center,
				"Indiranagar":   {Lat: 12.9784, Lng: 77.6408},
				"Koramangala":   {Lat: 12.9352, Lng: 77.6245},
				"Whitefield":    {Lat: 12.9698, Lng: 77.7500},
				"Mysore Palace": {Lat: 12.3052, Lng: 76.6552},
			},
			routes: map[string]geo.Route{},
			def:    geo.Route{DistanceMeters: 5000, DurationSeconds: 600},
		},
		notes: &recorder{},
		admin: &adminFeed{},
		now:   time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}
	f.svc = &Service{
		Store:    f.store,
		Geo:      f.lookup,
		Index:    f.index,
		Notifier: f.notes,
		Admin:    f.admin,
		Config:   DefaultConfig(),
		Now:      func() time.Time { return f.now },
	}
	f.store.PutUser(&models.User{ID: "u1", Fullname: models.Fullname{Firstname: "Asha"}, IsActive: true})
	f.store.PutUser(&models.User{ID: "u2", Fullname: models.Fullname{Firstname: "Ravi"}, IsActive: true})
	return f
}

func (f *fixture) captain(t *testing.T, id string, v models.VehicleType, at models.Coord, isOnline bool) {
	t.Helper()
	loc := at
	f.store.PutCaptain(&models.Captain{
		ID:       id,
		Fullname: models.Fullname{Firstname: "Cap", Lastname: id},
		Vehicle:  models.Vehicle{Plate: "KA01" + id, Capacity: 4, VehicleType: v},
		Location: &loc,
		IsOnline: isOnline,
		IsActive: true,
		Rating:   4.5,
	})
	if err := f.index.Upsert(context.Background(), id, at); err != nil {
		t.Fatal(err)
	}
}

func TestCreateRidePromotesLongSoloToIntercity(t *testing.T) {
	f := newFixture(t)
	f.lookup.routes["MG Road|Mysore Palace"] = geo.Route{DistanceMeters: 60000, DurationSeconds: 3600}

	res, err := f.svc.CreateRide(context.Background(), "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Mysore Palace", VehicleType: "car",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Ride.ServiceType != models.ServiceIntercity {
		t.Fatalf("expected intercity, got %s", res.Ride.ServiceType)
	}
	if res.Ride.Fare != 1130 {
		t.Fatalf("expected fare 1130, got %v", res.Ride.Fare)
	}
	if len(res.Ride.OTP) != 6 {
		t.Fatalf("expected 6 digit otp, got %q", res.Ride.OTP)
	}
	if f.admin.bookings != 1 || f.admin.stats != 1 {
		t.Fatalf("expected admin feed updates, got %+v", f.admin)
	}
}

func TestCreateRideKeepsShortSoloAsSolo(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateRide(context.Background(), "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "moto",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Ride.ServiceType != models.ServiceSolo || res.Ride.VehicleType != models.VehicleMotorcycle {
		t.Fatalf("unexpected ride %+v", res.Ride)
	}
}

func TestPoolMergesWithinDetourBudget(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.CreateRide(ctx, "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "auto", ServiceType: "taxiPool",
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.Merged || first.Ride.Fare != 70 {
		t.Fatalf("unexpected first pool ride %+v", first.Ride)
	}

	// 3 minutes to reach the new pickup plus the 5 minute leg: 8 minutes.
	f.lookup.routes["Indiranagar|Koramangala"] = geo.Route{DistanceMeters: 3000, DurationSeconds: 180}
	f.lookup.routes["Koramangala|Whitefield"] = geo.Route{DistanceMeters: 5000, DurationSeconds: 300}

	second, err := f.svc.CreateRide(ctx, "u2", CreateRideRequest{
		Pickup: "Koramangala", Destination: "Whitefield", VehicleType: "auto", ServiceType: "taxiPool",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Merged || second.Ride.ID != first.Ride.ID {
		t.Fatalf("expected merge into %s, got %+v", first.Ride.ID, second)
	}
	if len(second.Ride.Legs) != 2 {
		t.Fatalf("expected 2 legs, got %d", len(second.Ride.Legs))
	}
	if second.Ride.Fare != 133 {
		t.Fatalf("expected fare 70+63=133, got %v", second.Ride.Fare)
	}
}

func TestPoolOverBudgetCreatesNewRide(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.CreateRide(ctx, "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "auto", ServiceType: "taxiPool",
	})
	if err != nil {
		t.Fatal(err)
	}

	// 10 minutes to reach the new pickup plus 5 minutes of leg: 15 minutes.
	f.lookup.routes["Indiranagar|Koramangala"] = geo.Route{DistanceMeters: 8000, DurationSeconds: 600}
	f.lookup.routes["Koramangala|Whitefield"] = geo.Route{DistanceMeters: 5000, DurationSeconds: 300}

	second, err := f.svc.CreateRide(ctx, "u2", CreateRideRequest{
		Pickup: "Koramangala", Destination: "Whitefield", VehicleType: "auto", ServiceType: "taxiPool",
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.Merged || second.Ride.ID == first.Ride.ID {
		t.Fatal("expected a new pooled ride")
	}
	if len(second.Ride.Legs) != 1 || second.Ride.Fare != 63 {
		t.Fatalf("unexpected new pool ride %+v", second.Ride)
	}
}

func TestPoolRespectsMaxLegs(t *testing.T) {
	f := newFixture(t)
	f.svc.Config.PoolMaxLegs = 1
	f.svc.Config.PoolDetourBudget = time.Hour
	ctx := context.Background()
	req := CreateRideRequest{Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "auto", ServiceType: "taxiPool"}
	if _, err := f.svc.CreateRide(ctx, "u1", req); err != nil {
		t.Fatal(err)
	}
	res, err := f.svc.CreateRide(ctx, "u2", req)
	if err != nil {
		t.Fatal(err)
	}
	if res.Merged {
		t.Fatal("expected no merge into a full ride")
	}
}

func TestCreateRideRejectsInactiveRider(t *testing.T) {
	f := newFixture(t)
	f.store.PutUser(&models.User{ID: "u3", IsActive: false})

	_, err := f.svc.CreateRide(context.Background(), "u3", CreateRideRequest{
		Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "car",
	})
	if !apperr.Is(err, apperr.AccountDeactivated) {
		t.Fatalf("expected AccountDeactivated, got %v", err)
	}
}

func TestCreateRideGeoFailureStoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.CreateRide(ctx, "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Nowhere Street", VehicleType: "car",
	})
	if !apperr.Is(err, apperr.GeoResolutionFailed) {
		t.Fatalf("expected GeoResolutionFailed, got %v", err)
	}
	rides, _ := f.store.ListRides(ctx, storage.RideFilter{})
	if len(rides) != 0 {
		t.Fatalf("expected no rides, got %d", len(rides))
	}
}

func TestCreateRideValidation(t *testing.T) {
	f := newFixture(t)
	past := f.now.Add(-time.Hour)
	_, err := f.svc.CreateRide(context.Background(), "u1", CreateRideRequest{
		Pickup: "MG", Destination: "Indiranagar", VehicleType: "bus", ServiceType: "shuttle", ScheduledTime: &past,
	})
	if !apperr.Is(err, apperr.ValidationFailed) {
		t.Fatalf("expected ValidationFailed, got %v", err)
	}
	e := err.(*apperr.Error)
	for _, field := range []string{"pickup", "vehicleType", "serviceType", "scheduledTime"} {
		if _, ok := e.Fields[field]; !ok {
			t.Fatalf("expected %s in %v", field, e.Fields)
		}
	}
}

func TestCreateRideDispatchesOnlyMatchingCaptains(t *testing.T) {
	f := newFixture(t)
	near := models.Coord{Lat: center.Lat + 0.005, Lng: center.Lng}
	far := models.Coord{Lat: center.Lat + 0.1, Lng: center.Lng}
	f.captain(t, "c1", models.VehicleCar, near, true)
	f.captain(t, "c2", models.VehicleAuto, near, true)
	f.captain(t, "c3", models.VehicleCar, near, false)
	f.captain(t, "c4", models.VehicleCar, far, true)

	res, err := f.svc.CreateRide(context.Background(), "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "car",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.CaptainsNotified != 1 {
		t.Fatalf("expected 1 captain notified, got %d", res.CaptainsNotified)
	}
	got := f.notes.to("captain:c1", models.EventRideRequest)
	if len(got) != 1 {
		t.Fatalf("expected ride-request to c1, got %+v", f.notes.sent)
	}
	ev := got[0].data.(RideRequestEvent)
	if ev.RideID != res.Ride.ID || ev.Fare != 155 {
		t.Fatalf("unexpected payload %+v", ev)
	}
}

func TestCreateRideWithoutCaptainsStaysPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.CreateRide(ctx, "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "car",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.CaptainsNotified != 0 || res.Message == "" {
		t.Fatalf("expected a no-captains message, got %+v", res)
	}
	stored, err := f.store.GetRide(ctx, res.Ride.ID)
	if err != nil || stored.Status != models.StatusPending {
		t.Fatalf("expected stored pending ride, got %+v err=%v", stored, err)
	}
}

func TestScheduledRideSkipsDispatch(t *testing.T) {
	f := newFixture(t)
	f.captain(t, "c1", models.VehicleCar, center, true)
	at := f.now.Add(3 * time.Hour)

	res, err := f.svc.CreateRide(context.Background(), "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "car", ScheduledTime: &at,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Ride.IsScheduled || res.CaptainsNotified != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if n := f.notes.count(models.EventRideRequest); n != 0 {
		t.Fatalf("expected no ride-request, got %d", n)
	}
	if f.admin.bookings != 1 {
		t.Fatal("expected admin to hear about the scheduled booking")
	}
}

func TestAssignCaptainChecksConflictWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.captain(t, "c1", models.VehicleCar, center, true)

	busy := &models.Ride{
		ID: "busy", UserID: "u2", CaptainID: "c1", VehicleType: models.VehicleCar,
		Status: models.StatusAccepted, CreatedAt: f.now,
	}
	if err := f.store.CreateRide(ctx, busy); err != nil {
		t.Fatal(err)
	}

	// The busy ride was created now, so a pickup 20 minutes out overlaps it.
	soon := f.now.Add(20 * time.Minute)
	later := f.now.Add(3 * time.Hour)
	clash, err := f.svc.CreateRide(ctx, "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "car", ScheduledTime: &soon,
	})
	if err != nil {
		t.Fatal(err)
	}
	free, err := f.svc.CreateRide(ctx, "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "car", ScheduledTime: &later,
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.AssignCaptain(ctx, clash.Ride.ID, "c1"); !apperr.Is(err, apperr.IllegalStateTransition) {
		t.Fatalf("expected conflict, got %v", err)
	}
	r, err := f.svc.AssignCaptain(ctx, free.Ride.ID, "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.CaptainID != "c1" || r.Status != models.StatusPending {
		t.Fatalf("unexpected assigned ride %+v", r)
	}
	if len(f.notes.to("user:u1", models.EventCaptainAssigned)) != 1 {
		t.Fatal("expected captain-assigned to rider")
	}
	if len(f.notes.to("captain:c1", models.EventRideRequest)) != 1 {
		t.Fatal("expected ride-request to assigned captain")
	}
	if _, err := f.svc.AssignCaptain(ctx, free.Ride.ID, "c1"); !apperr.Is(err, apperr.IllegalStateTransition) {
		t.Fatalf("expected second assignment to fail, got %v", err)
	}

	scheduled, err := f.svc.ScheduledRides(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(scheduled) != 1 || scheduled[0].ID != clash.Ride.ID {
		t.Fatalf("expected only the unassigned ride, got %d", len(scheduled))
	}
}

func TestAvailableCaptains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.captain(t, "c1", models.VehicleCar, center, true)
	f.captain(t, "c2", models.VehicleCar, center, true)
	_ = f.store.CreateRide(ctx, &models.Ride{
		ID: "busy", UserID: "u2", CaptainID: "c1", Status: models.StatusOngoing, CreatedAt: f.now,
	})

	caps, err := f.svc.AvailableCaptains(ctx, f.now.Add(15*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(caps) != 1 || caps[0].ID != "c2" {
		t.Fatalf("expected only c2, got %d captains", len(caps))
	}
	caps, _ = f.svc.AvailableCaptains(ctx, f.now.Add(3*time.Hour))
	if len(caps) != 2 {
		t.Fatalf("expected both captains outside the window, got %d", len(caps))
	}
}

func TestResolicitFiltersToLiveCaptains(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.svc.CreateRide(ctx, "u1", CreateRideRequest{
		Pickup: "MG Road", Destination: "Indiranagar", VehicleType: "car",
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := f.svc.Resolicit(ctx, "u1", res.Ride.ID, center)
	if err != nil || n != 0 {
		t.Fatalf("expected no captains, got %d err=%v", n, err)
	}
	if len(f.notes.to("user:u1", models.EventNoCaptainsAvailable)) != 1 {
		t.Fatal("expected no-captains-available to rider")
	}

	wider := models.Coord{Lat: center.Lat + 0.03, Lng: center.Lng}
	f.captain(t, "c1", models.VehicleCar, wider, true)
	f.captain(t, "c2", models.VehicleCar, wider, true)
	f.svc.Presence = online{"c1": true}

	n, err = f.svc.Resolicit(ctx, "u1", res.Ride.ID, center)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 live captain, got %d err=%v", n, err)
	}
	if len(f.notes.to("captain:c1", models.EventRideRequest)) != 1 {
		t.Fatal("expected ride-request to c1")
	}

	if _, err := f.svc.Resolicit(ctx, "u2", res.Ride.ID, center); !apperr.Is(err, apperr.Forbidden) {
		t.Fatalf("expected Forbidden for another rider, got %v", err)
	}
}

func TestGetFareQuotesAllClasses(t *testing.T) {
	f := newFixture(t)
	est, err := f.svc.GetFare(context.Background(), "MG Road", "Indiranagar")
	if err != nil {
		t.Fatal(err)
	}
	if est.Fare[models.VehicleAuto] != 100 || est.Fare[models.VehicleCar] != 155 || est.Fare[models.VehicleMotorcycle] != 75 {
		t.Fatalf("unexpected quote %v", est.Fare)
	}
}

func TestNewOTPRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		otp, err := NewOTP()
		if err != nil {
			t.Fatal(err)
		}
		if len(otp) != 6 || otp[0] == '0' {
			t.Fatalf("bad otp %q", otp)
		}
	}
}
