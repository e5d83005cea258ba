// Package geocode turns postal addresses into pin coordinates: a Mapbox
// forward-geocoding client plus the spreadsheet ingestion that feeds it.
package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"
)

const defaultBaseURL = "https://api.mapbox.com"

// ErrNoMatch means the geocoder answered but found nothing for the address.
var ErrNoMatch = errors.New("address not found")

// Client geocodes single addresses against the Mapbox places API.
type Client struct {
	BaseURL string
	Token   string
	Country string
	HTTP    *http.Client
}

func NewClient(token string) *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		Token:   token,
		Country: "jp",
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Result is one resolved address.
type Result struct {
	Lat         float64
	Lng         float64
	FullAddress string
}

type placesResponse struct {
	Features []struct {
		Center    [2]float64 `json:"center"`
		PlaceName string     `json:"place_name"`
	} `json:"features"`
}

// Geocode resolves one address to coordinates, taking the first match.
func (c *Client) Geocode(ctx context.Context, address string) (Result, error) {
	if c.Token == "" {
		return Result{}, errors.New("mapbox token not configured")
	}

	endpoint := fmt.Sprintf("%s/geocoding/v5/mapbox.places/%s.json", c.BaseURL, url.PathEscape(address))
	q := url.Values{}
	q.Set("access_token", c.Token)
	q.Set("limit", "1")
	if c.Country != "" {
		q.Set("country", c.Country)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build geocode request: %w", err)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("geocode %q: %w", address, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("geocode %q: status %d", address, resp.StatusCode)
	}

	var body placesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("decode geocode response: %w", err)
	}
	if len(body.Features) == 0 {
		return Result{}, fmt.Errorf("geocode %q: %w", address, ErrNoMatch)
	}

	feature := body.Features[0]
	// Mapbox centers are [lng, lat].
	return Result{
		Lat:         feature.Center[1],
		Lng:         feature.Center[0],
		FullAddress: feature.PlaceName,
	}, nil
}

// BatchEntry is one address's outcome in a batch. A failed lookup keeps the
// source address and the (0,0) placeholder coordinates, so the batch's length
// always matches the input list and counts stay reconcilable.
type BatchEntry struct {
	Address     string
	Lat         float64
	Lng         float64
	FullAddress string
	Failed      bool
}

// GeocodeAll resolves addresses sequentially, sleeping delay between calls to
// stay under the provider's rate limit. Individual failures never abort the
// batch. Cancelling the context stops the remaining lookups; entries not yet
// attempted come back as failed placeholders.
func (c *Client) GeocodeAll(ctx context.Context, addresses []string, delay time.Duration) []BatchEntry {
	entries := make([]BatchEntry, len(addresses))
	cancelled := false
	for i, address := range addresses {
		entries[i] = BatchEntry{Address: address, Failed: true}
		if cancelled {
			continue
		}
		if i > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				cancelled = true
				continue
			case <-time.After(delay):
			}
		}

		result, err := c.Geocode(ctx, address)
		if err != nil {
			if ctx.Err() != nil {
				cancelled = true
			}
			log.Printf("geocode: address %q failed, keeping placeholder: %v", address, err)
			continue
		}
		entries[i] = BatchEntry{
			Address:     address,
			Lat:         result.Lat,
			Lng:         result.Lng,
			FullAddress: result.FullAddress,
		}
	}
	return entries
}
