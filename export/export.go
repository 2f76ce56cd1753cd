// Package export renders store snapshots to the supported output
// formats and maintains the latest/previous rotation under
// data/{retailer}/output/.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/pithecene-io/prospect/iox"
	"github.com/pithecene-io/prospect/types"
)

// Supported output formats.
const (
	FormatCSV     = "csv"
	FormatJSON    = "json"
	FormatJSONL   = "jsonl"
	FormatGeoJSON = "geojson"
	FormatXLSX    = "xlsx"
)

// DefaultFormats is what a run exports when the config does not say.
var DefaultFormats = []string{FormatCSV, FormatJSON}

// ValidFormat reports whether f is a supported format name.
func ValidFormat(f string) bool {
	switch f {
	case FormatCSV, FormatJSON, FormatJSONL, FormatGeoJSON, FormatXLSX:
		return true
	}
	return false
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// canonicalFields is the fixed column prefix for tabular formats.
var canonicalFields = []string{
	"store_id", "name", "street_address", "city", "state", "postal_code",
	"country", "latitude", "longitude", "phone", "url", "scraped_at",
}

// fieldnameSample bounds how many stores contribute attribute columns.
const fieldnameSample = 100

// Fieldnames returns the tabular header: the canonical columns followed
// by the sorted union of attribute keys across the first hundred
// stores. Sampling keeps the header stable and cheap on large chains.
func Fieldnames(stores []types.Store) []string {
	attrs := map[string]struct{}{}
	n := len(stores)
	if n > fieldnameSample {
		n = fieldnameSample
	}
	for i := 0; i < n; i++ {
		for k := range stores[i].Attributes {
			attrs[k] = struct{}{}
		}
	}

	extra := make([]string, 0, len(attrs))
	for k := range attrs {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append(append([]string(nil), canonicalFields...), extra...)
}

// row renders one store against the header. Spreadsheet-bound values
// are sanitized by the caller before this point.
func row(s *types.Store, fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		switch f {
		case "store_id":
			out[i] = s.StoreID
		case "name":
			out[i] = s.Name
		case "street_address":
			out[i] = s.StreetAddress
		case "city":
			out[i] = s.City
		case "state":
			out[i] = s.State
		case "postal_code":
			out[i] = s.PostalCode
		case "country":
			out[i] = s.Country
		case "latitude":
			if s.Latitude != nil {
				out[i] = strconv.FormatFloat(*s.Latitude, 'f', -1, 64)
			}
		case "longitude":
			if s.Longitude != nil {
				out[i] = strconv.FormatFloat(*s.Longitude, 'f', -1, 64)
			}
		case "phone":
			out[i] = s.Phone
		case "url":
			out[i] = s.URL
		case "scraped_at":
			out[i] = s.ScrapedAt.UTC().Format(time.RFC3339)
		default:
			if v, ok := s.Attributes[f]; ok {
				out[i] = fmt.Sprint(v)
			}
		}
	}
	return out
}

// Exporter writes one retailer's export files.
type Exporter struct {
	dir string
}

// New creates an exporter for data/{retailer}/output.
func New(retailerDir string) *Exporter {
	return &Exporter{dir: filepath.Join(retailerDir, "output")}
}

// latestPath returns output/stores_latest.{ext}.
func (e *Exporter) latestPath(format string) string {
	return filepath.Join(e.dir, "stores_latest."+format)
}

// Write renders stores in each requested format, rotating the previous
// latest file to stores_previous first. Returns the written paths.
func (e *Exporter) Write(stores []types.Store, formats []string) ([]string, error) {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	for _, f := range formats {
		if !ValidFormat(f) {
			return nil, fmt.Errorf("unsupported export format %q", f)
		}
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, err
	}

	var paths []string
	for _, format := range formats {
		latest := e.latestPath(format)
		previous := filepath.Join(e.dir, "stores_previous."+format)
		if _, err := os.Stat(latest); err == nil {
			if err := os.Rename(latest, previous); err != nil {
				return nil, fmt.Errorf("rotate %s export: %w", format, err)
			}
		}

		data, err := e.render(stores, format)
		if err != nil {
			return nil, err
		}
		if err := iox.WriteFileAtomic(latest, data, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, latest)
	}
	return paths, nil
}

func (e *Exporter) render(stores []types.Store, format string) ([]byte, error) {
	switch format {
	case FormatCSV:
		return renderCSV(stores)
	case FormatJSON:
		return json.MarshalIndent(stores, "", "  ")
	case FormatJSONL:
		return renderJSONL(stores)
	case FormatGeoJSON:
		return renderGeoJSON(stores)
	case FormatXLSX:
		return renderXLSX(stores)
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// renderCSV writes the tabular snapshot with formula-injection
// sanitization applied to every cell.
func renderCSV(stores []types.Store) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	fields := Fieldnames(stores)
	if err := w.Write(fields); err != nil {
		return nil, err
	}
	for i := range stores {
		clean := stores[i].Clone()
		clean.Sanitize()
		if err := w.Write(row(clean, fields)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderJSONL(stores []types.Store) ([]byte, error) {
	var buf bytes.Buffer
	for i := range stores {
		line, err := json.Marshal(&stores[i])
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// LoadLatest reads the previous run's JSON snapshot for change
// detection. Returns (nil, nil) when no snapshot exists yet.
func (e *Exporter) LoadLatest() ([]types.Store, error) {
	data, err := os.ReadFile(e.latestPath(FormatJSON))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var stores []types.Store
	if err := json.Unmarshal(data, &stores); err != nil {
		return nil, fmt.Errorf("corrupt snapshot %s: %w", e.latestPath(FormatJSON), err)
	}
	return stores, nil
}
