package scraper

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	jsoniter "github.com/json-iterator/go"

	"github.com/pithecene-io/prospect/types"
)

// Parser turns one fetched body into store records. Page-oriented kinds
// get one store page per call; locator_api gets one API response per
// call and may return many stores.
type Parser interface {
	Parse(url string, body []byte) ([]types.Store, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(url string, body []byte) ([]types.Store, error)

// Parse implements Parser.
func (f ParserFunc) Parse(url string, body []byte) ([]types.Store, error) {
	return f(url, body)
}

// defaultParser picks the fallback parser when the registry has no
// bespoke one: JSON-LD for page kinds, nothing for locator_api (API
// schemas vary too much for a generic mapping).
func defaultParser(cfg *types.RetailerConfig) Parser {
	if p, ok := Lookup(cfg.Name); ok {
		return p
	}
	if cfg.DiscoveryMethod == types.DiscoveryLocatorAPI {
		return nil
	}
	return JSONLDParser{}
}

// JSONLDParser extracts schema.org LocalBusiness/Store markup from
// <script type="application/ld+json"> blocks. Most retailer store pages
// carry this for SEO, which makes it a workable default when no bespoke
// parser is registered.
type JSONLDParser struct{}

// storeTypes are the schema.org @type values that denote a physical
// location.
var storeTypes = map[string]bool{
	"LocalBusiness":      true,
	"Store":              true,
	"GroceryStore":       true,
	"ClothingStore":      true,
	"Restaurant":         true,
	"FastFoodRestaurant": true,
	"Pharmacy":           true,
	"AutoPartsStore":     true,
	"MobilePhoneStore":   true,
}

var jsonld = jsoniter.ConfigCompatibleWithStandardLibrary

// Parse implements Parser. Pages without store markup return ErrSkip so
// region landing pages caught by a loose url_pattern drop out cleanly.
func (JSONLDParser) Parse(pageURL string, body []byte) ([]types.Store, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	var found *types.Store
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var raw map[string]any
		if err := jsonld.UnmarshalFromString(sel.Text(), &raw); err != nil {
			return true
		}
		if st := storeFromJSONLD(raw, pageURL); st != nil {
			found = st
			return false
		}
		return true
	})

	if found == nil {
		return nil, ErrSkip
	}
	return []types.Store{*found}, nil
}

// storeFromJSONLD maps one JSON-LD object to a Store, or nil when the
// object is not a store type.
func storeFromJSONLD(raw map[string]any, pageURL string) *types.Store {
	typ, _ := raw["@type"].(string)
	if !storeTypes[typ] {
		return nil
	}

	st := &types.Store{
		Name:  str(raw["name"]),
		Phone: str(raw["telephone"]),
		URL:   pageURL,
	}
	if id := str(raw["branchCode"]); id != "" {
		st.StoreID = id
	} else if id := str(raw["@id"]); id != "" {
		st.StoreID = id
	} else {
		st.StoreID = storeIDFromURL(pageURL)
	}

	if addr, ok := raw["address"].(map[string]any); ok {
		st.StreetAddress = str(addr["streetAddress"])
		st.City = str(addr["addressLocality"])
		st.State = str(addr["addressRegion"])
		st.PostalCode = str(addr["postalCode"])
		st.Country = str(addr["addressCountry"])
	}
	if geo, ok := raw["geo"].(map[string]any); ok {
		if lat, ok := num(geo["latitude"]); ok {
			st.Latitude = &lat
		}
		if lng, ok := num(geo["longitude"]); ok {
			st.Longitude = &lng
		}
	}
	if hours, ok := raw["openingHours"]; ok {
		st.Attributes = map[string]any{"hours": fmt.Sprint(hours)}
	}
	return st
}

// storeIDFromURL falls back to the last path segment as the store id.
func storeIDFromURL(pageURL string) string {
	trimmed := strings.TrimRight(pageURL, "/")
	if i := strings.LastIndex(trimmed, "/"); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

func str(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func num(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}
