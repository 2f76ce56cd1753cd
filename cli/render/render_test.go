package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pithecene-io/prospect/types"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{"json lowercase", "json", FormatJSON, false},
		{"json uppercase", "JSON", FormatJSON, false},
		{"table", "table", FormatTable, false},
		{"yaml", "yaml", FormatYAML, false},
		{"empty", "", "", false},
		{"invalid", "xml", "", true},
		{"csv is an export format, not an output format", "csv", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestRenderer_JSON(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatJSON, false, &buf)

	data := map[string]string{"retailer": "acme"}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, `"retailer"`) || !strings.Contains(got, `"acme"`) {
		t.Errorf("JSON output missing expected content: %s", got)
	}
}

func TestRenderer_YAML(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatYAML, false, &buf)

	data := map[string]string{"retailer": "acme"}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if got := buf.String(); !strings.Contains(got, "retailer:") || !strings.Contains(got, "acme") {
		t.Errorf("YAML output missing expected content: %s", got)
	}
}

func TestRenderer_Table_Struct(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	data := struct {
		Retailer string `json:"retailer"`
		Stores   int    `json:"stores"`
	}{Retailer: "acme", Stores: 42}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "retailer:") || !strings.Contains(got, "acme") {
		t.Errorf("table missing field row: %s", got)
	}
	if !strings.Contains(got, "42") {
		t.Errorf("table missing value: %s", got)
	}
}

func TestRenderer_Table_Slice(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	data := []types.LedgerEntry{
		{Retailer: "acme", RunID: "acme_1", Status: types.StatusComplete, StoresFound: 12},
		{Retailer: "globex", RunID: "globex_1", Status: types.StatusFailed},
	}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	got := buf.String()
	if !strings.Contains(got, "retailer") || !strings.Contains(got, "run_id") {
		t.Errorf("header row missing json tag names: %s", got)
	}
	if !strings.Contains(got, "acme_1") || !strings.Contains(got, "globex_1") {
		t.Errorf("data rows missing: %s", got)
	}
}

func TestRenderer_Table_Empty(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	if err := r.Render([]types.LedgerEntry{}); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(buf.String(), "(no results)") {
		t.Errorf("empty slice output: %s", buf.String())
	}
}

func TestRenderer_Table_NoColorPlainStatus(t *testing.T) {
	var buf bytes.Buffer
	r := NewRendererWithWriter(FormatTable, true, &buf)

	data := map[string]string{"status": "failed"}
	if err := r.Render(data); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	// With color off the status cell is the bare word, no escape codes.
	if got := buf.String(); !strings.Contains(got, "failed") || strings.Contains(got, "\x1b[") {
		t.Errorf("no-color output contains styling: %q", got)
	}
}
