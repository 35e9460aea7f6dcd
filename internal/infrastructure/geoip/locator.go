// Package geoip approximates the device position from an IP geolocation
// service. It is the coarse fallback behind TriggerDeviceLocation when no
// platform fix is available.
package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quickdash/storefront-core/internal/core/domain"
)

const requestTimeout = 5 * time.Second

// Locator implements ports.DeviceLocator over an ip-api style JSON endpoint.
type Locator struct {
	endpoint string
	http     *http.Client
}

func NewLocator(endpoint string) *Locator {
	return &Locator{
		endpoint: endpoint,
		http:     &http.Client{Timeout: requestTimeout},
	}
}

type lookupResponse struct {
	Status string  `json:"status"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
}

// Current returns the coordinate reported for the caller's public IP.
func (l *Locator) Current(ctx context.Context) (domain.Coordinates, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint, nil)
	if err != nil {
		return domain.Coordinates{}, err
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return domain.Coordinates{}, fmt.Errorf("geoip lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Coordinates{}, fmt.Errorf("geoip lookup: status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.Coordinates{}, fmt.Errorf("geoip lookup: decode: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return domain.Coordinates{}, fmt.Errorf("geoip lookup: status %q", body.Status)
	}

	return domain.Coordinates{Lat: body.Lat, Lng: body.Lon}, nil
}
