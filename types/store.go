// Package types defines core domain types for the Prospect harvester.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Store is the canonical normalized record emitted for every retailer
// location, regardless of how it was discovered or extracted.
type Store struct {
	// StoreID is the retailer-unique identifier, stable across runs
	// when the retailer exposes one.
	StoreID string `json:"store_id" yaml:"store_id"`
	// Name is the display name of the location.
	Name string `json:"name" yaml:"name"`
	// StreetAddress is the street line of the address.
	StreetAddress string `json:"street_address" yaml:"street_address"`
	City          string `json:"city" yaml:"city"`
	// State is a 2-letter region code.
	State      string `json:"state" yaml:"state"`
	PostalCode string `json:"postal_code" yaml:"postal_code"`
	// Country is an ISO-2 country code.
	Country string `json:"country" yaml:"country"`
	// Latitude and Longitude are nil when the retailer does not expose
	// coordinates for this location.
	Latitude  *float64 `json:"latitude" yaml:"latitude"`
	Longitude *float64 `json:"longitude" yaml:"longitude"`
	// Phone is free-form (digits plus punctuation).
	Phone string `json:"phone" yaml:"phone"`
	// URL is the absolute URL of the source page.
	URL string `json:"url" yaml:"url"`
	// ScrapedAt is set by the pipeline, never by a parser.
	ScrapedAt time.Time `json:"scraped_at" yaml:"scraped_at"`
	// Attributes holds retailer-specific extras (hours, services,
	// store_type, ...).
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are set.
func (s *Store) HasCoordinates() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// HasAddress reports whether the street-level address triple is present.
func (s *Store) HasAddress() bool {
	return s.StreetAddress != "" && s.City != "" && s.State != ""
}

// Validate checks the canonical-record invariants: store_id, name and
// scraped_at are required, the record carries either a full address or
// coordinates, and coordinates (when present) are numerically valid.
func (s *Store) Validate() error {
	if s.StoreID == "" {
		return fmt.Errorf("store_id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.ScrapedAt.IsZero() {
		return fmt.Errorf("scraped_at is required")
	}
	if !s.HasAddress() && !s.HasCoordinates() {
		return fmt.Errorf("store %q requires street_address+city+state or latitude+longitude", s.StoreID)
	}
	if s.Latitude != nil {
		if *s.Latitude < -90 || *s.Latitude > 90 {
			return fmt.Errorf("latitude %v out of range [-90, 90]", *s.Latitude)
		}
	}
	if s.Longitude != nil {
		if *s.Longitude < -180 || *s.Longitude > 180 {
			return fmt.Errorf("longitude %v out of range [-180, 180]", *s.Longitude)
		}
	}
	if s.State != "" && len(s.State) != 2 {
		return fmt.Errorf("state %q must be a 2-letter region code", s.State)
	}
	if s.Country != "" && len(s.Country) != 2 {
		return fmt.Errorf("country %q must be ISO-2", s.Country)
	}
	return nil
}

// formulaPrefixes are the characters that make a spreadsheet cell
// executable when a CSV/XLSX export is opened in Excel or Sheets.
const formulaPrefixes = "=+-@\t\r"

// SanitizeField neutralizes spreadsheet-formula injection by prefixing
// dangerous leading characters with a single quote. Negative numerics
// (a leading '-' followed by a digit) are left untouched.
func SanitizeField(v string) string {
	if v == "" {
		return v
	}
	if !strings.ContainsRune(formulaPrefixes, rune(v[0])) {
		return v
	}
	// Negative numbers are legitimate values, not formulas.
	if v[0] == '-' && len(v) > 1 && v[1] >= '0' && v[1] <= '9' {
		return v
	}
	return "'" + v
}

// Sanitize applies SanitizeField to every string field of the store,
// including string-typed attribute values. Mutates the receiver.
func (s *Store) Sanitize() {
	s.StoreID = SanitizeField(s.StoreID)
	s.Name = SanitizeField(s.Name)
	s.StreetAddress = SanitizeField(s.StreetAddress)
	s.City = SanitizeField(s.City)
	s.State = SanitizeField(s.State)
	s.PostalCode = SanitizeField(s.PostalCode)
	s.Country = SanitizeField(s.Country)
	s.Phone = SanitizeField(s.Phone)
	s.URL = SanitizeField(s.URL)
	for k, v := range s.Attributes {
		if sv, ok := v.(string); ok {
			s.Attributes[k] = SanitizeField(sv)
		}
	}
}

// Clone returns a deep copy of the store. The change detector relies on
// this to never mutate its inputs.
func (s *Store) Clone() *Store {
	out := *s
	if s.Latitude != nil {
		lat := *s.Latitude
		out.Latitude = &lat
	}
	if s.Longitude != nil {
		lng := *s.Longitude
		out.Longitude = &lng
	}
	if s.Attributes != nil {
		out.Attributes = make(map[string]any, len(s.Attributes))
		for k, v := range s.Attributes {
			out.Attributes[k] = v
		}
	}
	return &out
}
