package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/teslashibe/go-live/internal/httpc"
)

// DefaultLocatorURL is an IP geolocation endpoint returning JSON.
const DefaultLocatorURL = "https://ipapi.co/json/"

// Locator resolves a coarse location hint for the system preamble.
type Locator interface {
	Locate(ctx context.Context) (string, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (string, error)

// Locate calls f.
func (f LocatorFunc) Locate(ctx context.Context) (string, error) {
	return f(ctx)
}

// HTTPLocator looks up the public IP's city through a geolocation API.
type HTTPLocator struct {
	URL    string
	Client *http.Client
}

// NewHTTPLocator returns a locator using the shared HTTP client.
func NewHTTPLocator() *HTTPLocator {
	return &HTTPLocator{URL: DefaultLocatorURL, Client: httpc.Client}
}

type geoResponse struct {
	City    string `json:"city"`
	Region  string `json:"region"`
	Country string `json:"country_name"`
	Error   bool   `json:"error"`
	Reason  string `json:"reason"`
}

// Locate returns "City, Region, Country" with empty parts omitted.
func (l *HTTPLocator) Locate(ctx context.Context) (string, error) {
	client := l.Client
	if client == nil {
		client = httpc.Client
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return "", fmt.Errorf("session: locate: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("session: locate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("session: locate: status %d", resp.StatusCode)
	}

	var geo geoResponse
	if err := json.NewDecoder(resp.Body).Decode(&geo); err != nil {
		return "", fmt.Errorf("session: locate: decode: %w", err)
	}
	if geo.Error {
		return "", fmt.Errorf("session: locate: %s", geo.Reason)
	}

	var parts []string
	for _, p := range []string{geo.City, geo.Region, geo.Country} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("session: locate: empty location")
	}
	return strings.Join(parts, ", "), nil
}
