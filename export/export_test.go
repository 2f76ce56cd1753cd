package export

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pithecene-io/prospect/types"
)

func sampleStores() []types.Store {
	lat, lng := 30.2672, -97.7431
	return []types.Store{
		{
			StoreID:       "1001",
			Name:          "Acme Downtown",
			StreetAddress: "100 Congress Ave",
			City:          "Austin",
			State:         "TX",
			PostalCode:    "78701",
			Country:       "US",
			Latitude:      &lat,
			Longitude:     &lng,
			Phone:         "512-555-0100",
			URL:           "https://acme.example/stores/1001",
			ScrapedAt:     time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
			Attributes:    map[string]any{"hours": "9-5", "services": "pickup"},
		},
		{
			StoreID:       "1002",
			Name:          "=SUM(A1:A9)",
			StreetAddress: "200 Oak Ave",
			City:          "Dallas",
			State:         "TX",
			ScrapedAt:     time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
		},
	}
}

func TestFieldnames_CanonicalPlusSortedAttrs(t *testing.T) {
	fields := Fieldnames(sampleStores())

	if fields[0] != "store_id" || fields[1] != "name" {
		t.Errorf("canonical prefix broken: %v", fields[:2])
	}
	tail := fields[len(canonicalFields):]
	if len(tail) != 2 || tail[0] != "hours" || tail[1] != "services" {
		t.Errorf("attribute columns = %v, want [hours services]", tail)
	}
}

func TestFieldnames_SamplesFirstHundred(t *testing.T) {
	stores := make([]types.Store, fieldnameSample+1)
	stores[fieldnameSample].Attributes = map[string]any{"beyond_sample": true}

	for _, f := range Fieldnames(stores) {
		if f == "beyond_sample" {
			t.Error("attribute beyond the sample window leaked into the header")
		}
	}
}

func TestCSV_SanitizesFormulas(t *testing.T) {
	data, err := renderCSV(sampleStores())
	if err != nil {
		t.Fatalf("renderCSV: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("rows = %d, want header + 2", len(records))
	}
	if records[2][1] != "'=SUM(A1:A9)" {
		t.Errorf("formula not neutralized: %q", records[2][1])
	}
	// Sanitization happens on a copy, never the caller's slice.
	if sampleStores()[1].Name != "=SUM(A1:A9)" {
		t.Error("source store mutated")
	}
}

func TestWrite_RotatesLatestToPrevious(t *testing.T) {
	dir := t.TempDir()
	e := New(dir)

	first := sampleStores()[:1]
	if _, err := e.Write(first, []string{FormatJSON}); err != nil {
		t.Fatalf("first Write: %v", err)
	}
	second := sampleStores()
	if _, err := e.Write(second, []string{FormatJSON}); err != nil {
		t.Fatalf("second Write: %v", err)
	}

	prev, err := os.ReadFile(filepath.Join(dir, "output", "stores_previous.json"))
	if err != nil {
		t.Fatalf("previous snapshot missing: %v", err)
	}
	var prevStores []types.Store
	if err := json.Unmarshal(prev, &prevStores); err != nil {
		t.Fatalf("parse previous: %v", err)
	}
	if len(prevStores) != 1 {
		t.Errorf("previous = %d stores, want the first run's 1", len(prevStores))
	}

	latest, err := e.LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if len(latest) != 2 {
		t.Errorf("latest = %d stores, want 2", len(latest))
	}
}

func TestLoadLatest_NoSnapshot(t *testing.T) {
	stores, err := New(t.TempDir()).LoadLatest()
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if stores != nil {
		t.Error("expected nil on first run")
	}
}

func TestWrite_RejectsUnknownFormat(t *testing.T) {
	if _, err := New(t.TempDir()).Write(sampleStores(), []string{"parquet"}); err == nil {
		t.Error("unknown format should be rejected")
	}
}

func TestGeoJSON_OnlyStoresWithCoordinates(t *testing.T) {
	data, err := renderGeoJSON(sampleStores())
	if err != nil {
		t.Fatalf("renderGeoJSON: %v", err)
	}

	var fc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		t.Fatalf("parse geojson: %v", err)
	}
	if fc.Type != "FeatureCollection" {
		t.Errorf("type = %q", fc.Type)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("features = %d, want 1 (store without coordinates skipped)", len(fc.Features))
	}
	coords := fc.Features[0].Geometry.Coordinates
	if coords[0] != -97.7431 || coords[1] != 30.2672 {
		t.Errorf("coordinates = %v, want [lng lat]", coords)
	}
	if fc.Features[0].Properties["name"] != "Acme Downtown" {
		t.Errorf("properties = %v", fc.Features[0].Properties)
	}
}

func TestJSONL_OneObjectPerLine(t *testing.T) {
	data, err := renderJSONL(sampleStores())
	if err != nil {
		t.Fatalf("renderJSONL: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	var st types.Store
	if err := json.Unmarshal([]byte(lines[0]), &st); err != nil {
		t.Fatalf("line 0 not valid json: %v", err)
	}
	if st.StoreID != "1001" {
		t.Errorf("store_id = %q", st.StoreID)
	}
}

func TestXLSX_RoundTrips(t *testing.T) {
	data, err := renderXLSX(sampleStores())
	if err != nil {
		t.Fatalf("renderXLSX: %v", err)
	}
	// An xlsx file is a zip archive; PK is enough of a smoke check
	// without re-parsing the workbook.
	if len(data) < 4 || data[0] != 'P' || data[1] != 'K' {
		t.Error("output is not a zip container")
	}
}

func TestWriteChanges_DatedFile(t *testing.T) {
	dir := t.TempDir()
	report := &types.ChangeReport{
		New:          sampleStores()[:1],
		TotalCurrent: 2,
	}

	path, err := WriteChanges(dir, report, time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("WriteChanges: %v", err)
	}
	if filepath.Base(path) != "changes_2026-08-25.json" {
		t.Errorf("path = %s", path)
	}

	got, err := LoadChanges(dir, time.Date(2026, 8, 25, 1, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("LoadChanges: %v", err)
	}
	if len(got.New) != 1 || got.TotalCurrent != 2 {
		t.Errorf("report = %+v", got)
	}
}
