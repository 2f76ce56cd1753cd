package export

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/pithecene-io/prospect/types"
)

// renderGeoJSON emits a FeatureCollection of Point features. Stores
// without coordinates have no geometry to offer and are left out; the
// JSON export is the complete record.
func renderGeoJSON(stores []types.Store) ([]byte, error) {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}

	for i := range stores {
		s := &stores[i]
		if !s.HasCoordinates() {
			continue
		}

		props := map[string]any{
			"store_id":       s.StoreID,
			"name":           s.Name,
			"street_address": s.StreetAddress,
			"city":           s.City,
			"state":          s.State,
			"postal_code":    s.PostalCode,
			"phone":          s.Phone,
			"url":            s.URL,
		}
		for k, v := range s.Attributes {
			props[k] = v
		}

		point := geom.NewPointFlat(geom.XY, []float64{*s.Longitude, *s.Latitude})
		fc.Features = append(fc.Features, &geojson.Feature{
			ID:         s.StoreID,
			Geometry:   point,
			Properties: props,
		})
	}

	return fc.MarshalJSON()
}
