// Package weather looks up current conditions for a free-form
// location string via the Open-Meteo geocoding and forecast APIs.
// Both endpoints are keyless; the budget ledger still meters calls
// because the lookup is two network round-trips per request.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/valetlabs/valet/internal/httpkit"
)

// Conditions is a normalized current-weather reading.
type Conditions struct {
	Location string  `json:"location"` // resolved place name
	TempC    float64 `json:"temp_c"`
	WindKmh  float64 `json:"wind_kmh"`
	Summary  string  `json:"summary"`
}

// Line renders conditions as a single digest line.
func (c *Conditions) Line() string {
	return fmt.Sprintf("%s: %s, %.0f°C, wind %.0f km/h",
		c.Location, c.Summary, c.TempC, c.WindKmh)
}

// Source is the weather collaborator interface the capabilities and
// watchers depend on.
type Source interface {
	Current(ctx context.Context, location string) (*Conditions, error)
}

// Client implements Source against Open-Meteo.
type Client struct {
	geocodeURL  string
	forecastURL string
	httpClient  *http.Client
}

// NewClient creates an Open-Meteo client.
func NewClient() *Client {
	return &Client{
		geocodeURL:  "https://geocoding-api.open-meteo.com",
		forecastURL: "https://api.open-meteo.com",
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15 * time.Second),
		),
	}
}

type geocodeResponse struct {
	Results []struct {
		Name      string  `json:"name"`
		Admin1    string  `json:"admin1"`
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"results"`
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

// Current geocodes the location and fetches current conditions.
func (c *Client) Current(ctx context.Context, location string) (*Conditions, error) {
	if location == "" {
		return nil, fmt.Errorf("weather: location is required")
	}

	name, lat, lon, err := c.geocode(ctx, location)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"latitude":  {fmt.Sprintf("%.4f", lat)},
		"longitude": {fmt.Sprintf("%.4f", lon)},
		"current":   {"temperature_2m,wind_speed_10m,weather_code"},
	}
	reqURL := c.forecastURL + "/v1/forecast?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("weather: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("weather: HTTP %d: %s", resp.StatusCode, body)
	}

	var fr forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&fr); err != nil {
		return nil, fmt.Errorf("weather: decode forecast: %w", err)
	}

	return &Conditions{
		Location: name,
		TempC:    fr.Current.Temperature,
		WindKmh:  fr.Current.WindSpeed,
		Summary:  codeSummary(fr.Current.WeatherCode),
	}, nil
}

func (c *Client) geocode(ctx context.Context, location string) (string, float64, float64, error) {
	params := url.Values{
		"name":  {location},
		"count": {"1"},
	}
	reqURL := c.geocodeURL + "/v1/search?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", 0, 0, fmt.Errorf("weather: build geocode request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("weather: geocode failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return "", 0, 0, fmt.Errorf("weather: geocode HTTP %d: %s", resp.StatusCode, body)
	}

	var gr geocodeResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return "", 0, 0, fmt.Errorf("weather: decode geocode: %w", err)
	}
	if len(gr.Results) == 0 {
		return "", 0, 0, fmt.Errorf("weather: no match for %q", location)
	}

	r := gr.Results[0]
	name := r.Name
	if r.Admin1 != "" {
		name = r.Name + ", " + r.Admin1
	}
	return name, r.Latitude, r.Longitude, nil
}

// codeSummary maps WMO weather codes to short phrases. Unknown codes
// degrade to a neutral word rather than an error.
func codeSummary(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "foggy"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "showers"
	case code <= 86:
		return "snow showers"
	case code <= 99:
		return "thunderstorms"
	default:
		return "unsettled"
	}
}
