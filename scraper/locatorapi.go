package scraper

import (
	"context"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"

	"github.com/pithecene-io/prospect/types"
)

// Default grid bounds cover the continental US. A 2.5 degree step with
// a 150 mile radius over-covers every cell, so overlap is expected and
// the harvester dedupes by store id.
const (
	gridLatMin = 24.5
	gridLatMax = 49.5
	gridLngMin = -125.0
	gridLngMax = -66.5
	gridStep   = 2.5
	gridRadius = 150
)

// locatorAPIKind harvests from a retailer's store-locator JSON
// endpoint by POSTing a plan of geographic queries. Work items are the
// query payloads themselves; extraction parses each response batch.
type locatorAPIKind struct{}

func (k *locatorAPIKind) Name() string { return string(types.DiscoveryLocatorAPI) }

func (k *locatorAPIKind) Discover(_ context.Context, s *Session) ([]string, error) {
	if len(s.Config.LocatorQueries) > 0 {
		return append([]string(nil), s.Config.LocatorQueries...), nil
	}
	return defaultGridQueries(), nil
}

func (k *locatorAPIKind) Extract(ctx context.Context, s *Session, query string) ([]types.Store, error) {
	if s.Parser == nil {
		return nil, fmt.Errorf("locator_api requires a registered parser for retailer %q", s.Config.Name)
	}

	resp, err := s.Pipeline.Post(ctx, s.Config.LocatorEndpoint, []byte(query))
	if err != nil {
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Some locators 404 on empty result areas.
		return nil, ErrSkip
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("locator query returned %d", resp.StatusCode)
	}
	return s.Parser.Parse(s.Config.LocatorEndpoint, resp.Content)
}

var locatorJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultGridQueries builds the fallback query plan: one JSON payload
// per grid cell.
func defaultGridQueries() []string {
	var queries []string
	for lat := gridLatMin; lat <= gridLatMax; lat += gridStep {
		for lng := gridLngMin; lng <= gridLngMax; lng += gridStep {
			payload, _ := locatorJSON.MarshalToString(map[string]any{
				"latitude":     lat,
				"longitude":    lng,
				"radius_miles": gridRadius,
			})
			queries = append(queries, payload)
		}
	}
	return queries
}
