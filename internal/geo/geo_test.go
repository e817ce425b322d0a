package geo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

func TestHaversineZero(t *testing.T) {
	if d := Haversine(12.97, 77.59, 12.97, 77.59); d != 0 {
		t.Fatalf("expected 0, got %v", d)
	}
}

func TestMemoryIndexNearbyRespectsRadius(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	origin := models.Coord{Lat: 12.9716, Lng: 77.5946}
	_ = idx.Upsert(ctx, "near", models.Coord{Lat: 12.9800, Lng: 77.5946})  // ~0.9 km
	_ = idx.Upsert(ctx, "mid", models.Coord{Lat: 13.0000, Lng: 77.5946})   // ~3.2 km
	_ = idx.Upsert(ctx, "far", models.Coord{Lat: 13.1000, Lng: 77.5946})   // ~14 km

	got, err := idx.Nearby(ctx, origin, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != "near" {
		t.Fatalf("2km: got %v", got)
	}
	got, _ = idx.Nearby(ctx, origin, 5)
	if len(got) != 2 || got[0] != "near" || got[1] != "mid" {
		t.Fatalf("5km: got %v", got)
	}
	_ = idx.Remove(ctx, "near")
	got, _ = idx.Nearby(ctx, origin, 2)
	if len(got) != 0 {
		t.Fatalf("expected removal, got %v", got)
	}
}

func TestMoved(t *testing.T) {
	a := models.Coord{Lat: 10, Lng: 10}
	if Moved(a, models.Coord{Lat: 10.00005, Lng: 10}, 0.0001) {
		t.Fatal("sub-threshold move reported")
	}
	if !Moved(a, models.Coord{Lat: 10, Lng: 10.0002}, 0.0001) {
		t.Fatal("move not reported")
	}
}

func TestMapsClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Path {
		case "/maps/api/geocode/json":
			if r.URL.Query().Get("address") == "nowhere" {
				fmt.Fprint(w, `{"status":"ZERO_RESULTS","results":[]}`)
				return
			}
			fmt.Fprint(w, `{"status":"OK","results":[{"geometry":{"location":{"lat":12.5,"lng":77.25}}}]}`)
		case "/maps/api/distancematrix/json":
			fmt.Fprint(w, `{"status":"OK","rows":[{"elements":[{"status":"OK","distance":{"value":5000},"duration":{"value":900}}]}]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewMapsClient(srv.URL, "k")
	ctx := context.Background()

	loc, err := c.ResolveCoordinates(ctx, "MG Road")
	if err != nil {
		t.Fatal(err)
	}
	if loc.Lat != 12.5 || loc.Lng != 77.25 {
		t.Fatalf("unexpected coord %+v", loc)
	}
	if _, err := c.ResolveCoordinates(ctx, "nowhere"); !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
	rt, err := c.DistanceAndDuration(ctx, "a", "b")
	if err != nil {
		t.Fatal(err)
	}
	if rt.DistanceMeters != 5000 || rt.DurationSeconds != 900 {
		t.Fatalf("unexpected route %+v", rt)
	}

	bad := NewMapsClient(srv.URL, "wrong")
	if _, err := bad.DistanceAndDuration(ctx, "a", "b"); err == nil || errors.Is(err, ErrNoResult) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

type countingLookup struct{ routes, coords int }

func (c *countingLookup) ResolveCoordinates(context.Context, string) (models.Coord, error) {
	c.coords++
	return models.Coord{Lat: 1, Lng: 2}, nil
}

func (c *countingLookup) DistanceAndDuration(context.Context, string, string) (Route, error) {
	c.routes++
	return Route{DistanceMeters: 1000, DurationSeconds: 60}, nil
}

func TestCachedLookup(t *testing.T) {
	inner := &countingLookup{}
	c := NewCachedLookup(inner, time.Minute, 0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = c.DistanceAndDuration(ctx, "A  street", "B")
		_, _ = c.ResolveCoordinates(ctx, "a street")
	}
	_, _ = c.DistanceAndDuration(ctx, "a street", "b")
	if inner.routes != 1 || inner.coords != 1 {
		t.Fatalf("expected one call each, got routes=%d coords=%d", inner.routes, inner.coords)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache[int](time.Millisecond, 0)
	c.Set("k", 1)
	time.Sleep(5 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expiry")
	}
}

func TestCacheStaysWithinSize(t *testing.T) {
	c := NewCache[int](time.Hour, 3)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("addr-%d", i), i)
		time.Sleep(time.Millisecond)
	}
	if c.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", c.Len())
	}
	if _, ok := c.Get("addr-0"); ok {
		t.Fatal("oldest entry should have been evicted")
	}
	if v, ok := c.Get("addr-9"); !ok || v != 9 {
		t.Fatalf("newest entry missing: %v %v", v, ok)
	}
}

func TestCacheSweepsExpiredBeforeEvicting(t *testing.T) {
	c := NewCache[int](5*time.Millisecond, 2)
	c.Set("stale-a", 1)
	c.Set("stale-b", 2)
	time.Sleep(10 * time.Millisecond)
	c.Set("fresh", 3)
	if c.Len() != 1 {
		t.Fatalf("expected expired entries swept, got %d entries", c.Len())
	}
}
