package cmd

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v2"
)

const cmdTestYAML = `
data_dir: %s
log_dir: %s
retailers:
  acme:
    enabled: true
    base_url: https://acme.example
    discovery_method: sitemap
    sitemap_url: https://acme.example/sitemap.xml
    proxy_mode: direct
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	content = strings.ReplaceAll(content, "%s", t.TempDir())
	path := filepath.Join(t.TempDir(), "prospect.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// newStoreServer serves a sitemap of n JSON-LD store pages.
func newStoreServer(t *testing.T, n int) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/sitemap.xml":
			var b strings.Builder
			b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset>`)
			for i := 1; i <= n; i++ {
				fmt.Fprintf(&b, "<url><loc>%s/stores/%d</loc></url>", srv.URL, i)
			}
			b.WriteString(`</urlset>`)
			_, _ = io.WriteString(w, b.String())
		case strings.HasPrefix(r.URL.Path, "/stores/"):
			var id int
			fmt.Sscanf(r.URL.Path, "/stores/%d", &id)
			fmt.Fprintf(w, `<html><script type="application/ld+json">
{"@type": "Store", "name": "Store %d", "branchCode": "%d",
 "address": {"streetAddress": "%d Main St", "addressLocality": "Austin",
 "addressRegion": "TX"}}
</script></html>`, id, id, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// scrapableYAML builds a config pointing acme at a local store server.
func scrapableYAML(base string) string {
	return fmt.Sprintf(`
data_dir: %%s
log_dir: %%s
retailers:
  acme:
    enabled: true
    base_url: %s
    discovery_method: sitemap
    sitemap_url: %s/sitemap.xml
    url_pattern: '/stores/\d+$'
    proxy_mode: direct
`, base, base)
}

// runApp executes the CLI without letting exit-coded errors kill the
// test process.
func runApp(t *testing.T, args ...string) error {
	t.Helper()
	app := NewApp()
	app.ExitErrHandler = func(*cli.Context, error) {}
	return app.Run(append([]string{"prospect"}, args...))
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var coder cli.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	return -1
}

func TestConfigValidate_ValidConfig(t *testing.T) {
	path := writeTestConfig(t, cmdTestYAML)
	if err := runApp(t, "config", "validate", "--config", path, "--format", "json"); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestConfigValidate_InvalidConfig(t *testing.T) {
	path := writeTestConfig(t, strings.Replace(cmdTestYAML,
		"discovery_method: sitemap", "discovery_method: smoke_signals", 1))
	err := runApp(t, "config", "validate", "--config", path, "--format", "json")
	if exitCode(err) != exitConfigError {
		t.Errorf("exit = %d, want %d", exitCode(err), exitConfigError)
	}
}

func TestConfigValidate_MissingFile(t *testing.T) {
	err := runApp(t, "config", "validate", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	if exitCode(err) != exitConfigError {
		t.Errorf("exit = %d, want %d", exitCode(err), exitConfigError)
	}
}

func TestRun_ValidatePassesOnScrapableRetailer(t *testing.T) {
	srv := newStoreServer(t, 5)
	path := writeTestConfig(t, scrapableYAML(srv.URL))
	if err := runApp(t, "run", "--config", path, "--all", "--validate", "--format", "json"); err != nil {
		t.Errorf("run --validate: %v", err)
	}
}

func TestRun_ValidateFailsWithoutStores(t *testing.T) {
	srv := newStoreServer(t, 0)
	path := writeTestConfig(t, scrapableYAML(srv.URL))
	err := runApp(t, "run", "--config", path, "--all", "--validate", "--format", "json")
	if exitCode(err) != exitRunFailure {
		t.Errorf("exit = %d, want %d", exitCode(err), exitRunFailure)
	}
}

func TestRun_NoSelection(t *testing.T) {
	path := writeTestConfig(t, cmdTestYAML)
	err := runApp(t, "run", "--config", path, "--format", "json")
	if exitCode(err) != exitBadArgs {
		t.Errorf("exit = %d, want %d", exitCode(err), exitBadArgs)
	}
}

func TestRun_UnknownRetailer(t *testing.T) {
	path := writeTestConfig(t, cmdTestYAML)
	err := runApp(t, "run", "--config", path, "--retailer", "nope", "--validate")
	if exitCode(err) != exitBadArgs {
		t.Errorf("exit = %d, want %d", exitCode(err), exitBadArgs)
	}
}

func TestRun_RenderJSRequiresScraperAPI(t *testing.T) {
	path := writeTestConfig(t, cmdTestYAML)
	err := runApp(t, "run", "--config", path, "--all", "--render-js", "--validate")
	if exitCode(err) != exitBadArgs {
		t.Errorf("exit = %d, want %d", exitCode(err), exitBadArgs)
	}
}

func TestStatus_ListsRetailers(t *testing.T) {
	path := writeTestConfig(t, cmdTestYAML)
	if err := runApp(t, "status", "--config", path, "--format", "json"); err != nil {
		t.Errorf("status: %v", err)
	}
}

func TestRuns_RequiresRetailerArg(t *testing.T) {
	path := writeTestConfig(t, cmdTestYAML)
	err := runApp(t, "runs", "--config", path)
	if exitCode(err) != exitBadArgs {
		t.Errorf("exit = %d, want %d", exitCode(err), exitBadArgs)
	}
}

func TestExport_NoSnapshot(t *testing.T) {
	path := writeTestConfig(t, cmdTestYAML)
	err := runApp(t, "export", "--config", path, "acme")
	if exitCode(err) != exitRunFailure {
		t.Errorf("exit = %d, want %d", exitCode(err), exitRunFailure)
	}
}

func TestVersion(t *testing.T) {
	if err := runApp(t, "version", "--format", "json"); err != nil {
		t.Errorf("version: %v", err)
	}
}
