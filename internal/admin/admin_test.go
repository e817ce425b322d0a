package admin

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-hailing/internal/apperr"
	"github.com/example/ride-hailing/internal/geo"
	"github.com/example/ride-hailing/internal/models"
	"github.com/example/ride-hailing/internal/storage"
)

type sent struct {
	to    string
	event string
	data  any
}

type recorder struct {
	mu   sync.Mutex
	sent []sent
}

func (r *recorder) push(to, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sent{to: to, event: event, data: data})
}

func (r *recorder) ToUser(id, event string, data any)    { r.push("user:"+id, event, data) }
func (r *recorder) ToCaptain(id, event string, data any) { r.push("captain:"+id, event, data) }
func (r *recorder) ToAdmins(event string, data any)      { r.push("admins", event, data) }

func (r *recorder) find(to, event string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sent
	for _, s := range r.sent {
		if s.to == to && s.event == event {
			out = append(out, s)
		}
	}
	return out
}

func newService() (*Service, *storage.MemoryStore, *recorder) {
	store := storage.NewMemoryStore()
	notes := &recorder{}
	return &Service{Store: store, Notifier: notes, Index: geo.NewMemoryIndex()}, store, notes
}

func putCaptain(store *storage.MemoryStore, id string, v models.VehicleType, online bool) {
	store.PutCaptain(&models.Captain{
		ID:       id,
		Fullname: models.Fullname{Firstname: "Cap", Lastname: id},
		Vehicle:  models.Vehicle{VehicleType: v},
		IsActive: true,
		IsOnline: online,
	})
}

var depot = models.Coord{Lat: 12.97, Lng: 77.59}

// indexed reports whether the captain is in the service's radius index.
func indexed(t *testing.T, svc *Service, id string) bool {
	t.Helper()
	ids, err := svc.Index.Nearby(context.Background(), depot, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, got := range ids {
		if got == id {
			return true
		}
	}
	return false
}

func TestDisableServiceOfflinesMatchingClass(t *testing.T) {
	svc, store, notes := newService()
	putCaptain(store, "m1", models.VehicleMotorcycle, true)
	putCaptain(store, "m2", models.VehicleMotorcycle, false)
	putCaptain(store, "c1", models.VehicleCar, true)
	_ = svc.Index.Upsert(context.Background(), "m1", depot)
	_ = svc.Index.Upsert(context.Background(), "c1", depot)

	res, err := svc.ToggleService(context.Background(), models.CategoryBikeRide, false)
	if err != nil {
		t.Fatalf("ToggleService: %v", err)
	}
	if res.AffectedCaptains != 1 || res.Service.IsActive {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Message != "Service Bike Ride is now inactive" {
		t.Fatalf("message = %q", res.Message)
	}

	m1, _ := store.GetCaptain(context.Background(), "m1")
	c1, _ := store.GetCaptain(context.Background(), "c1")
	if m1.IsOnline || !c1.IsOnline {
		t.Fatalf("online flags m1=%v c1=%v", m1.IsOnline, c1.IsOnline)
	}
	if indexed(t, svc, "m1") || !indexed(t, svc, "c1") {
		t.Fatal("only the offlined captain should leave the geo index")
	}

	got := notes.find("captain:m1", models.EventStatusUpdate)
	if len(got) != 1 {
		t.Fatalf("expected one status-update to m1, got %d", len(got))
	}
	ev := got[0].data.(StatusUpdateEvent)
	if ev.IsOnline || ev.Message != "Service Bike Ride has been disabled by the admin. You are now offline." {
		t.Fatalf("unexpected event %+v", ev)
	}
	if len(notes.find("captain:m2", models.EventStatusUpdate)) != 0 {
		t.Fatal("offline captain should not be notified")
	}
	if len(notes.find("captain:c1", models.EventStatusUpdate)) != 0 {
		t.Fatal("car captain should not be notified")
	}
	changed := notes.find("admins", models.EventServiceStatusChanged)
	if len(changed) != 1 || changed[0].data.(ServiceStatusEvent) != (ServiceStatusEvent{ServiceName: models.CategoryBikeRide}) {
		t.Fatalf("unexpected admin events %+v", changed)
	}
	if len(notes.find("admins", models.EventServiceStatsUpdate)) != 1 {
		t.Fatal("expected a stats broadcast")
	}
}

func TestEnableServiceLeavesCaptainsAlone(t *testing.T) {
	svc, store, notes := newService()
	putCaptain(store, "a1", models.VehicleAuto, false)

	res, err := svc.ToggleService(context.Background(), models.CategoryTaxiPool, true)
	if err != nil {
		t.Fatalf("ToggleService: %v", err)
	}
	if res.AffectedCaptains != 0 || !res.Service.IsActive {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(notes.find("captain:a1", models.EventStatusUpdate)) != 0 {
		t.Fatal("enabling must not notify captains")
	}
	if len(notes.find("admins", models.EventServiceStatusChanged)) != 1 {
		t.Fatal("expected service-status-changed")
	}
}

func TestToggleUnknownService(t *testing.T) {
	svc, _, _ := newService()
	_, err := svc.ToggleService(context.Background(), "Helicopter", false)
	if !apperr.Is(err, apperr.ValidationFailed) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStatsCountsOnlyPaidCompletedRevenue(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()
	putCaptain(store, "c1", models.VehicleCar, true)
	putCaptain(store, "m1", models.VehicleMotorcycle, false)
	store.PutUser(&models.User{ID: "u1", IsActive: true})

	rides := []*models.Ride{
		{ID: "r1", VehicleType: models.VehicleCar, ServiceType: models.ServiceSolo, Fare: 100, Status: models.StatusCompleted, PaymentStatus: models.PaymentCompleted},
		{ID: "r2", VehicleType: models.VehicleCar, ServiceType: models.ServiceSolo, Fare: 80, Status: models.StatusCompleted, PaymentStatus: models.PaymentPending},
		{ID: "r3", VehicleType: models.VehicleCar, ServiceType: models.ServiceIntercity, Fare: 900, Status: models.StatusOngoing, PaymentStatus: models.PaymentPending},
		{ID: "r4", VehicleType: models.VehicleMotorcycle, ServiceType: models.ServiceSolo, Fare: 40, Status: models.StatusCancelled, PaymentStatus: models.PaymentPending},
	}
	for _, r := range rides {
		if err := store.CreateRide(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := store.SetServiceActive(ctx, models.CategoryIntercity, false); err != nil {
		t.Fatal(err)
	}

	st, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.TotalRevenue != 100 {
		t.Fatalf("revenue = %v, want 100", st.TotalRevenue)
	}
	if st.TotalRides != 4 || st.CompleteRides != 2 || st.CancelledRides != 1 || st.ActiveRides != 1 {
		t.Fatalf("unexpected counts %+v", st)
	}
	if st.TotalCaptains != 2 || st.TotalUsers != 1 {
		t.Fatalf("unexpected totals %+v", st)
	}

	car := st.Services["car"]
	if car.Bookings != 3 || car.Revenue != 100 || car.ActiveDrivers != 1 || !car.IsActive {
		t.Fatalf("car stats %+v", car)
	}
	inter := st.Services["intercity"]
	if inter.Bookings != 1 || inter.Revenue != 0 || inter.IsActive {
		t.Fatalf("intercity stats %+v", inter)
	}
	bike := st.Services["bikeRide"]
	if bike.Bookings != 1 || bike.ActiveDrivers != 0 {
		t.Fatalf("bike stats %+v", bike)
	}
	if len(st.Services) != len(models.Categories) {
		t.Fatalf("expected %d categories, got %d", len(models.Categories), len(st.Services))
	}
}

func TestRecentBookingsDefaults(t *testing.T) {
	svc, store, _ := newService()
	ctx := context.Background()
	store.PutUser(&models.User{ID: "u1", Fullname: models.Fullname{Firstname: "Asha", Lastname: "Rao"}, IsActive: true})
	putCaptain(store, "c1", models.VehicleCar, true)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 7; i++ {
		r := &models.Ride{
			ID:          fmt.Sprintf("r%d", i),
			UserID:      "u1",
			VehicleType: models.VehicleMotorcycle,
			ServiceType: models.ServiceSolo,
			Status:      models.StatusPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		if i == 6 {
			r.UserID = "ghost"
			r.CaptainID = "c1"
			r.Status = models.StatusAccepted
		}
		if err := store.CreateRide(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := svc.RecentBookings(ctx)
	if err != nil {
		t.Fatalf("RecentBookings: %v", err)
	}
	if len(got) != 5 {
		t.Fatalf("expected 5 bookings, got %d", len(got))
	}
	newest := got[0]
	if newest.ID != "r6" || newest.Customer != "Unknown" || newest.Driver != "Cap c1" || newest.Status != "Accepted" {
		t.Fatalf("unexpected newest %+v", newest)
	}
	if got[1].Customer != "Asha Rao" || got[1].Driver != "Not Assigned" || got[1].Service != models.CategoryBikeRide {
		t.Fatalf("unexpected summary %+v", got[1])
	}
}

func TestToggleUserNotifiesOnDeactivation(t *testing.T) {
	svc, store, notes := newService()
	store.PutUser(&models.User{ID: "u1", Fullname: models.Fullname{Firstname: "Asha"}, Email: "a@x.io", IsActive: true})

	res, err := svc.ToggleUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ToggleUser: %v", err)
	}
	if res.Message != "Asha is now inactive" || res.Account.IsActive {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(notes.find("user:u1", models.EventStatusChanged)) != 1 {
		t.Fatal("expected status-changed")
	}

	res, err = svc.ToggleUser(context.Background(), "u1")
	if err != nil || !res.Account.IsActive {
		t.Fatalf("reactivate: %+v %v", res, err)
	}
	if len(notes.find("user:u1", models.EventStatusChanged)) != 1 {
		t.Fatal("reactivation should not notify")
	}

	if _, err := svc.ToggleUser(context.Background(), "nobody"); !apperr.Is(err, apperr.NotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestToggleCaptainTakesOffline(t *testing.T) {
	svc, store, notes := newService()
	putCaptain(store, "c1", models.VehicleCar, true)
	_ = svc.Index.Upsert(context.Background(), "c1", depot)

	res, err := svc.ToggleCaptain(context.Background(), "c1")
	if err != nil {
		t.Fatalf("ToggleCaptain: %v", err)
	}
	if res.Account.IsActive || res.Message != "Cap is now inactive" {
		t.Fatalf("unexpected result %+v", res)
	}
	c, _ := store.GetCaptain(context.Background(), "c1")
	if c.IsOnline || indexed(t, svc, "c1") {
		t.Fatal("deactivated captain must be offline and out of the geo index")
	}
	if len(notes.find("captain:c1", models.EventStatusChanged)) != 1 {
		t.Fatal("expected status-changed")
	}
}

func TestAnnounceBooking(t *testing.T) {
	svc, _, notes := newService()
	svc.AnnounceBooking(context.Background(), &models.Ride{ID: "r9", ServiceType: models.ServiceTaxiPool, Status: models.StatusPending})
	got := notes.find("admins", models.EventNewBooking)
	if len(got) != 1 {
		t.Fatalf("expected one new-booking, got %d", len(got))
	}
	b := got[0].data.(models.BookingSummary)
	if b.Service != models.CategoryTaxiPool || b.Customer != "Unknown" || b.Status != "Pending" {
		t.Fatalf("unexpected summary %+v", b)
	}
}
