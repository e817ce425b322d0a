package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/example/ride-hailing/internal/models"
)

// MapsClient performs geocoding and distance lookups against a Google Maps
// compatible HTTP API.
type MapsClient struct {
	Endpoint string
	APIKey   string
	Client   *http.Client
}

func NewMapsClient(endpoint, apiKey string) *MapsClient {
	return &MapsClient{Endpoint: endpoint, APIKey: apiKey, Client: &http.Client{Timeout: 5 * time.Second}}
}

func (m *MapsClient) ResolveCoordinates(ctx context.Context, address string) (models.Coord, error) {
	q := url.Values{"address": {address}, "key": {m.APIKey}}
	var out struct {
		Status  string `json:"status"`
		Results []struct {
			Geometry struct {
				Location struct {
					Lat float64 `json:"lat"`
					Lng float64 `json:"lng"`
				} `json:"location"`
			} `json:"geometry"`
		} `json:"results"`
	}
	if err := m.get(ctx, "/maps/api/geocode/json", q, &out); err != nil {
		return models.Coord{}, err
	}
	if out.Status == "ZERO_RESULTS" || (out.Status == "OK" && len(out.Results) == 0) {
		return models.Coord{}, fmt.Errorf("geocode %q: %w", address, ErrNoResult)
	}
	if out.Status != "OK" {
		return models.Coord{}, fmt.Errorf("geocode %q: provider status %s", address, out.Status)
	}
	loc := out.Results[0].Geometry.Location
	return models.Coord{Lat: loc.Lat, Lng: loc.Lng}, nil
}

func (m *MapsClient) DistanceAndDuration(ctx context.Context, origin, destination string) (Route, error) {
	q := url.Values{"origins": {origin}, "destinations": {destination}, "key": {m.APIKey}}
	var out struct {
		Status string `json:"status"`
		Rows   []struct {
			Elements []struct {
				Status   string `json:"status"`
				Distance struct {
					Value float64 `json:"value"`
				} `json:"distance"`
				Duration struct {
					Value float64 `json:"value"`
				} `json:"duration"`
			} `json:"elements"`
		} `json:"rows"`
	}
	if err := m.get(ctx, "/maps/api/distancematrix/json", q, &out); err != nil {
		return Route{}, err
	}
	if out.Status != "OK" {
		return Route{}, fmt.Errorf("distance matrix: provider status %s", out.Status)
	}
	if len(out.Rows) == 0 || len(out.Rows[0].Elements) == 0 || out.Rows[0].Elements[0].Status != "OK" {
		return Route{}, fmt.Errorf("route %q -> %q: %w", origin, destination, ErrNoResult)
	}
	el := out.Rows[0].Elements[0]
	return Route{DistanceMeters: el.Distance.Value, DurationSeconds: el.Duration.Value}, nil
}

func (m *MapsClient) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.Endpoint+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("maps %s: http %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
