package types

import (
	"testing"
	"time"
)

func validStore() *Store {
	lat, lng := 40.7128, -74.0060
	return &Store{
		StoreID:       "nyc-001",
		Name:          "Midtown Flagship",
		StreetAddress: "350 5th Ave",
		City:          "New York",
		State:         "NY",
		PostalCode:    "10118",
		Country:       "US",
		Latitude:      &lat,
		Longitude:     &lng,
		Phone:         "555-0100",
		URL:           "https://example.com/stores/nyc-001",
		ScrapedAt:     time.Now().UTC(),
	}
}

func TestStoreValidate_OK(t *testing.T) {
	if err := validStore().Validate(); err != nil {
		t.Fatalf("valid store rejected: %v", err)
	}
}

func TestStoreValidate_MissingRequired(t *testing.T) {
	s := validStore()
	s.Name = ""
	if err := s.Validate(); err == nil {
		t.Error("store without name should be rejected")
	}

	s = validStore()
	s.StoreID = ""
	if err := s.Validate(); err == nil {
		t.Error("store without store_id should be rejected")
	}

	s = validStore()
	s.ScrapedAt = time.Time{}
	if err := s.Validate(); err == nil {
		t.Error("store without scraped_at should be rejected")
	}
}

func TestStoreValidate_AddressOrCoordinates(t *testing.T) {
	// Coordinates only is acceptable.
	s := validStore()
	s.StreetAddress = ""
	if err := s.Validate(); err != nil {
		t.Errorf("coordinates-only store rejected: %v", err)
	}

	// Address only is acceptable.
	s = validStore()
	s.Latitude = nil
	s.Longitude = nil
	if err := s.Validate(); err != nil {
		t.Errorf("address-only store rejected: %v", err)
	}

	// Neither is not.
	s = validStore()
	s.StreetAddress = ""
	s.Latitude = nil
	s.Longitude = nil
	if err := s.Validate(); err == nil {
		t.Error("store with neither address nor coordinates should be rejected")
	}
}

func TestStoreValidate_CoordinateRange(t *testing.T) {
	s := validStore()
	bad := 91.0
	s.Latitude = &bad
	if err := s.Validate(); err == nil {
		t.Error("latitude 91 should be rejected")
	}

	s = validStore()
	badLng := -181.0
	s.Longitude = &badLng
	if err := s.Validate(); err == nil {
		t.Error("longitude -181 should be rejected")
	}
}

func TestSanitizeField(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"=cmd()", "'=cmd()"},
		{"+1", "'+1"},
		{"@import", "'@import"},
		{"\tleading tab", "'\tleading tab"},
		{"-5.2", "-5.2"},  // negative numeric passes through
		{"-cmd", "'-cmd"}, // minus followed by non-digit is suspect
		{"Plain Name", "Plain Name"},
		{"", ""},
	}
	for _, c := range cases {
		if got := SanitizeField(c.in); got != c.want {
			t.Errorf("SanitizeField(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestStoreSanitize_Attributes(t *testing.T) {
	s := validStore()
	s.Attributes = map[string]any{
		"hours":    "=HYPERLINK(...)",
		"services": []string{"pickup"},
	}
	s.Sanitize()
	if s.Attributes["hours"] != "'=HYPERLINK(...)" {
		t.Errorf("attribute not sanitized: %v", s.Attributes["hours"])
	}
}

func TestStoreClone_Independent(t *testing.T) {
	s := validStore()
	s.Attributes = map[string]any{"hours": "9-5"}
	c := s.Clone()

	c.Name = "Changed"
	*c.Latitude = 0
	c.Attributes["hours"] = "closed"

	if s.Name == "Changed" {
		t.Error("clone shares Name with original")
	}
	if *s.Latitude == 0 {
		t.Error("clone shares Latitude pointer with original")
	}
	if s.Attributes["hours"] == "closed" {
		t.Error("clone shares Attributes map with original")
	}
}

func TestNewRunID_Format(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	id := NewRunID("verizon", now)
	const wantPrefix = "verizon_20260314_092653_"
	if len(id) != len(wantPrefix)+4 {
		t.Errorf("run id %q has unexpected length", id)
	}
	if id[:len(wantPrefix)] != wantPrefix {
		t.Errorf("run id %q missing prefix %q", id, wantPrefix)
	}
}

func TestRunOptionsValidate_RenderJS(t *testing.T) {
	o := &RunOptions{RenderJS: true, ProxyMode: ProxyDirect}
	if err := o.Validate(); err == nil {
		t.Error("render_js with direct proxy should be rejected")
	}
	o = &RunOptions{RenderJS: true, ProxyMode: ProxyScraperAPI}
	if err := o.Validate(); err != nil {
		t.Errorf("render_js with web_scraper_api rejected: %v", err)
	}
}

func TestRetailerConfigValidate(t *testing.T) {
	cfg := &RetailerConfig{
		Name:            "verizon",
		Enabled:         true,
		BaseURL:         "https://www.verizon.com",
		DiscoveryMethod: DiscoverySitemap,
		SitemapURL:      "https://www.verizon.com/sitemap_stores.xml",
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := *cfg
	bad.DiscoveryMethod = "rss"
	if err := bad.Validate(); err == nil {
		t.Error("invalid discovery_method accepted")
	}

	bad = *cfg
	bad.RenderJS = true
	if err := bad.Validate(); err == nil {
		t.Error("render_js without web_scraper_api accepted")
	}

	bad = *cfg
	bad.SitemapURL = ""
	if err := bad.Validate(); err == nil {
		t.Error("sitemap discovery without sitemap_url accepted")
	}
}
