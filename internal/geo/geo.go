// Package geo resolves a client's country from its IP address with a
// locale-based fallback. Lookups go to free geolocation HTTP APIs tried in
// order; every failure path degrades instead of surfacing an error.
package geo

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Detection methods and confidence levels recorded on the user document.
const (
	MethodIPGeolocation  = "ip_geolocation"
	MethodLocaleFallback = "locale_fallback"
	MethodFailed         = "failed"

	ConfidenceHigh = "high"
	ConfidenceLow  = "low"
	ConfidenceNone = "none"
)

// Provider describes one geolocation HTTP API. URL contains an {ip}
// placeholder; CountryField names the JSON field carrying the country.
type Provider struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	CountryField string `yaml:"country_field"`
}

// DefaultProviders returns the built-in lookup chain.
func DefaultProviders() []Provider {
	return []Provider{
		{Name: "ipapi.co", URL: "https://ipapi.co/{ip}/json/", CountryField: "country_name"},
		{Name: "ip-api.com", URL: "http://ip-api.com/json/{ip}", CountryField: "country"},
	}
}

// Location is the resolution result stored as the user's location metadata.
type Location struct {
	Country         string
	DetectionMethod string
	Confidence      string
	IPCountry       string
	ClientCountry   string
}

// Resolver runs the hybrid country detection: IP lookup first, client locale
// hint second.
type Resolver struct {
	client    *http.Client
	providers []Provider
	demoIP    string
	log       zerolog.Logger
}

// NewResolver builds a resolver. Lookup requests share a short timeout so a
// slow provider cannot stall ingestion.
func NewResolver(providers []Provider, demoIP string, log zerolog.Logger) *Resolver {
	if len(providers) == 0 {
		providers = DefaultProviders()
	}
	return &Resolver{
		client:    &http.Client{Timeout: 3 * time.Second},
		providers: providers,
		demoIP:    demoIP,
		log:       log.With().Str("component", "geo").Logger(),
	}
}

// Resolve determines the country for ip, falling back to the client-supplied
// locale country when every provider fails. It never returns an error.
func (r *Resolver) Resolve(ctx context.Context, ip, clientCountry string) Location {
	ipCountry := r.countryFromIP(ctx, r.normalizeIP(ip))
	if ipCountry != "" {
		return Location{
			Country:         ipCountry,
			DetectionMethod: MethodIPGeolocation,
			Confidence:      ConfidenceHigh,
			IPCountry:       ipCountry,
			ClientCountry:   clientCountry,
		}
	}
	if clientCountry != "" && clientCountry != "Unknown" {
		return Location{
			Country:         clientCountry,
			DetectionMethod: MethodLocaleFallback,
			Confidence:      ConfidenceLow,
			ClientCountry:   clientCountry,
		}
	}
	return Location{
		Country:         "Unknown",
		DetectionMethod: MethodFailed,
		Confidence:      ConfidenceNone,
		ClientCountry:   clientCountry,
	}
}

// normalizeIP swaps loopback and empty addresses for the demo IP so local
// development still resolves to a real country.
func (r *Resolver) normalizeIP(ip string) string {
	switch ip {
	case "", "127.0.0.1", "::1", "localhost":
		return r.demoIP
	}
	return ip
}

func (r *Resolver) countryFromIP(ctx context.Context, ip string) string {
	if ip == "" {
		return ""
	}
	for _, p := range r.providers {
		country, err := r.lookup(ctx, p, ip)
		if err != nil {
			r.log.Debug().Err(err).Str("provider", p.Name).Str("ip", ip).Msg("geolocation lookup failed")
			continue
		}
		if country != "" {
			return country
		}
	}
	return ""
}

func (r *Resolver) lookup(ctx context.Context, p Provider, ip string) (string, error) {
	url := strings.ReplaceAll(p.URL, "{ip}", ip)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%s returned status %d", p.Name, resp.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	country, _ := payload[p.CountryField].(string)
	if country == "" || country == "Unknown" || len(country) <= 1 {
		return "", nil
	}
	return country, nil
}
