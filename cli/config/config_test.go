package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pithecene-io/prospect/types"
)

const validYAML = `
data_dir: /var/lib/prospect
concurrency: 4
export_formats: [csv, json]
credentials:
  proxy_host: proxy.example:7777
  username: ${PROSPECT_PROXY_USER}
  password: ${PROSPECT_PROXY_PASS}
retailers:
  acme:
    enabled: true
    group: hardware
    base_url: https://acme.example
    discovery_method: sitemap
    sitemap_url: https://acme.example/sitemap.xml
    url_pattern: '/stores/\d+$'
    proxy_mode: direct
  globex:
    enabled: false
    base_url: https://globex.example
    discovery_method: locator_api
    locator_endpoint: https://globex.example/api/stores
    proxy_mode: direct
  initech:
    enabled: true
    group: software
    base_url: https://initech.example
    discovery_method: html_crawl
    crawl_seed_url: https://initech.example/locations
    url_pattern: '/stores/\d+$'
    proxy_mode: direct
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prospect.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("PROSPECT_PROXY_USER", "alice")
	t.Setenv("PROSPECT_PROXY_PASS", "s3cret")

	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Credentials.Username != "alice" || cfg.Credentials.Password != "s3cret" {
		t.Errorf("env expansion broken: %+v", cfg.Credentials)
	}
	if cfg.Concurrency != 4 {
		t.Errorf("concurrency = %d", cfg.Concurrency)
	}

	acme, ok := cfg.Retailer("acme")
	if !ok {
		t.Fatal("acme missing")
	}
	if acme.Name != "acme" {
		t.Errorf("retailer name not pushed down: %q", acme.Name)
	}
	if acme.ParallelWorkers != 2 {
		t.Errorf("retailer defaults not applied: workers = %d", acme.ParallelWorkers)
	}
	if cfg.Server.Listen != "127.0.0.1:8600" {
		t.Errorf("server defaults not applied: %q", cfg.Server.Listen)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file should error")
	}
}

func TestParse_RejectsInvalidConfigWhole(t *testing.T) {
	bad := strings.Replace(validYAML, "discovery_method: sitemap\n", "discovery_method: carrier_pigeon\n", 1)
	_, err := Parse([]byte(bad))
	if err == nil {
		t.Fatal("invalid discovery method should fail validation")
	}
	if !strings.Contains(err.Error(), "acme") {
		t.Errorf("error should name the retailer: %v", err)
	}
}

func TestProblems_CollectsAllIssues(t *testing.T) {
	cfg := &Config{
		Concurrency:   99,
		ExportFormats: []string{"parquet"},
		Adapter:       AdapterConfig{Type: "carrier_pigeon"},
		Retailers: map[string]*types.RetailerConfig{
			"acme": {Name: "acme"},
		},
	}
	problems := cfg.Problems()
	if len(problems) < 4 {
		t.Errorf("problems = %v, want every issue reported", problems)
	}
}

func TestValidate_ReturnsPerFieldProblems(t *testing.T) {
	bad := strings.Replace(validYAML, "concurrency: 4", "concurrency: 99", 1)
	bad = strings.Replace(bad, "export_formats: [csv, json]", "export_formats: [parquet]", 1)

	_, err := Parse([]byte(bad))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %T, want *ValidationError", err)
	}
	if len(verr.Problems) != 2 {
		t.Fatalf("problems = %v, want one entry per field", verr.Problems)
	}
	for _, want := range []string{"parquet", "concurrency"} {
		found := false
		for _, p := range verr.Problems {
			if strings.Contains(p, want) {
				found = true
			}
		}
		if !found {
			t.Errorf("no problem mentions %q: %v", want, verr.Problems)
		}
	}
}

func TestSelect(t *testing.T) {
	t.Setenv("PROSPECT_PROXY_USER", "u")
	t.Setenv("PROSPECT_PROXY_PASS", "p")
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// --all takes enabled retailers only.
	got, err := cfg.Select(true, nil, "", nil)
	if err != nil {
		t.Fatalf("Select all: %v", err)
	}
	if len(got) != 2 || got[0] != "acme" || got[1] != "initech" {
		t.Errorf("all = %v", got)
	}

	// Explicit name selects even a disabled retailer.
	got, err = cfg.Select(false, []string{"globex"}, "", nil)
	if err != nil {
		t.Fatalf("Select explicit: %v", err)
	}
	if len(got) != 1 || got[0] != "globex" {
		t.Errorf("explicit = %v", got)
	}

	// Group filter.
	got, err = cfg.Select(false, nil, "hardware", nil)
	if err != nil {
		t.Fatalf("Select group: %v", err)
	}
	if len(got) != 1 || got[0] != "acme" {
		t.Errorf("group = %v", got)
	}

	// Exclusion applies last.
	got, err = cfg.Select(true, nil, "", []string{"acme"})
	if err != nil {
		t.Fatalf("Select exclude: %v", err)
	}
	if len(got) != 1 || got[0] != "initech" {
		t.Errorf("exclude = %v", got)
	}

	if _, err := cfg.Select(false, []string{"unknown"}, "", nil); err == nil {
		t.Error("unknown retailer should error")
	}
	if _, err := cfg.Select(false, nil, "", nil); err == nil {
		t.Error("empty selection should error")
	}
}

func TestSave_ValidatesBeforeTouchingDisk(t *testing.T) {
	t.Setenv("PROSPECT_PROXY_USER", "u")
	t.Setenv("PROSPECT_PROXY_PASS", "p")
	path := writeConfig(t, validYAML)

	_, err := Save(path, []byte("retailers:\n  broken:\n    base_url: ''\n"))
	if err == nil {
		t.Fatal("invalid config should be rejected")
	}

	// The live file and its absence of a backup prove nothing was touched.
	data, readErr := os.ReadFile(path)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if string(data) != validYAML {
		t.Error("live config modified by failed save")
	}
	if _, statErr := os.Stat(filepath.Join(filepath.Dir(path), "backups")); statErr == nil {
		t.Error("backup written before validation passed")
	}
}

func TestSave_BacksUpThenReplaces(t *testing.T) {
	t.Setenv("PROSPECT_PROXY_USER", "u")
	t.Setenv("PROSPECT_PROXY_PASS", "p")
	path := writeConfig(t, validYAML)

	updated := strings.Replace(validYAML, "concurrency: 4", "concurrency: 8", 1)
	cfg, err := Save(path, []byte(updated))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("returned config concurrency = %d", cfg.Concurrency)
	}

	backups, err := os.ReadDir(filepath.Join(filepath.Dir(path), "backups"))
	if err != nil || len(backups) != 1 {
		t.Fatalf("expected one backup: %v (%d)", err, len(backups))
	}
	backup, err := os.ReadFile(filepath.Join(filepath.Dir(path), "backups", backups[0].Name()))
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != validYAML {
		t.Error("backup is not the pre-save contents")
	}

	live, _ := os.ReadFile(path)
	if string(live) != updated {
		t.Error("live config not replaced")
	}
}

func TestDuration_Parses(t *testing.T) {
	cfg, err := Parse([]byte("server:\n  stop_timeout: 45s\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Server.StopTimeout.Duration.Seconds() != 45 {
		t.Errorf("stop_timeout = %v", cfg.Server.StopTimeout)
	}

	if _, err := Parse([]byte("server:\n  stop_timeout: nonsense\n")); err == nil {
		t.Error("bad duration should fail")
	}
}
