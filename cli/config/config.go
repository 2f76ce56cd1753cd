package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pithecene-io/prospect/export"
	"github.com/pithecene-io/prospect/types"
	"github.com/pithecene-io/prospect/upload"
)

// Config represents a prospect.yaml configuration file. CLI flags
// always override config values.
type Config struct {
	// DataDir is the root of the on-disk layout (default "data").
	DataDir string `yaml:"data_dir"`
	// LogDir holds the process-wide rotating log (default "logs").
	LogDir string `yaml:"log_dir"`
	// LogLevel is the process-wide log level.
	LogLevel string `yaml:"log_level"`
	// Concurrency bounds how many retailers harvest at once.
	Concurrency int `yaml:"concurrency"`
	// ExportFormats is the default format list for runs.
	ExportFormats []string `yaml:"export_formats"`

	// Credentials are the global proxy/API credentials; retailer and
	// CLI-level values override them.
	Credentials CredentialsConfig `yaml:"credentials"`

	// Retailers is keyed by retailer name.
	Retailers map[string]*types.RetailerConfig `yaml:"retailers"`

	Adapter AdapterConfig `yaml:"adapter"`
	Upload  upload.Config `yaml:"upload"`
	Server  ServerConfig  `yaml:"server"`
}

// CredentialsConfig holds the global outbound credentials. Values are
// normally ${ENV} references expanded at load time.
type CredentialsConfig struct {
	// ProxyHost is the residential proxy endpoint (host:port).
	ProxyHost string `yaml:"proxy_host"`
	// Username/Password authenticate residential proxy requests.
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// APIEndpoint and the API pair serve web_scraper_api mode.
	APIEndpoint string `yaml:"api_endpoint"`
	APIUsername string `yaml:"api_username"`
	APIPassword string `yaml:"api_password"`
}

// AdapterConfig selects and configures the run-completed notifier.
type AdapterConfig struct {
	// Type is "", "redis", or "webhook". Empty disables notifications.
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// Run manager execution models.
const (
	// RunModeTask runs each harvest as a goroutine of the daemon.
	RunModeTask = "task"
	// RunModeProcess runs each harvest as a child process, isolating a
	// crashing retailer run from the daemon.
	RunModeProcess = "process"
)

// ServerConfig configures the control API.
type ServerConfig struct {
	// Listen is the bind address (default "127.0.0.1:8600").
	Listen string `yaml:"listen"`
	// RunMode is "task" or "process".
	RunMode string `yaml:"run_mode"`
	// RateLimit is requests per second per client IP.
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the per-IP burst allowance.
	RateBurst int `yaml:"rate_burst"`
	// StopTimeout is how long a stop request waits for a run to yield.
	StopTimeout Duration `yaml:"stop_timeout"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration back as a string.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.Duration.String(), nil
}

// ApplyDefaults fills process-level defaults and pushes names and
// per-retailer defaults down into the retailer blocks. DATA_DIR,
// LOG_LEVEL, and PROXY_MODE from the environment fill values the file
// leaves unset.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = os.Getenv("DATA_DIR")
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
	if c.LogLevel == "" {
		c.LogLevel = os.Getenv("LOG_LEVEL")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Concurrency == 0 {
		c.Concurrency = 6
	}
	if len(c.ExportFormats) == 0 {
		c.ExportFormats = append([]string(nil), export.DefaultFormats...)
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8600"
	}
	if c.Server.RunMode == "" {
		c.Server.RunMode = RunModeTask
	}
	if c.Server.RateLimit == 0 {
		c.Server.RateLimit = 10
	}
	if c.Server.RateBurst == 0 {
		c.Server.RateBurst = 20
	}
	if c.Server.StopTimeout.Duration == 0 {
		c.Server.StopTimeout.Duration = 30 * time.Second
	}
	for name, rc := range c.Retailers {
		if rc == nil {
			continue
		}
		if rc.Name == "" {
			rc.Name = name
		}
		if rc.ProxyMode == "" {
			rc.ProxyMode = types.ProxyMode(os.Getenv("PROXY_MODE"))
		}
		rc.ApplyDefaults()
	}
}

// Problems validates the whole configuration and returns every issue
// found, so an operator fixes one round trip, not one field at a time.
// An empty slice means the config is valid.
func (c *Config) Problems() []string {
	var problems []string

	for _, f := range c.ExportFormats {
		if !export.ValidFormat(f) {
			problems = append(problems, fmt.Sprintf("export_formats: unsupported format %q", f))
		}
	}
	if c.Concurrency < 1 || c.Concurrency > 32 {
		problems = append(problems, fmt.Sprintf("concurrency %d out of range [1, 32]", c.Concurrency))
	}

	switch c.Server.RunMode {
	case "", RunModeTask, RunModeProcess:
	default:
		problems = append(problems, fmt.Sprintf("server: unknown run_mode %q", c.Server.RunMode))
	}

	switch c.Adapter.Type {
	case "", "redis", "webhook":
		if c.Adapter.Type != "" && c.Adapter.URL == "" {
			problems = append(problems, fmt.Sprintf("adapter: type %q requires a url", c.Adapter.Type))
		}
	default:
		problems = append(problems, fmt.Sprintf("adapter: unknown type %q", c.Adapter.Type))
	}

	if err := c.Upload.Validate(); err != nil {
		problems = append(problems, "upload: "+err.Error())
	}

	for _, name := range c.RetailerNames() {
		rc := c.Retailers[name]
		if rc == nil {
			problems = append(problems, fmt.Sprintf("retailer %q: empty block", name))
			continue
		}
		if err := rc.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("retailer %q: %v", name, err))
		}
	}
	return problems
}

// ValidationError carries every problem found in a configuration, one
// entry per field, so callers can render them individually.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration:\n  " + strings.Join(e.Problems, "\n  ")
}

// Validate returns a *ValidationError aggregating every problem, or
// nil when the config is valid.
func (c *Config) Validate() error {
	problems := c.Problems()
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Problems: problems}
}

// RetailerNames returns all retailer names sorted, for deterministic
// iteration and output.
func (c *Config) RetailerNames() []string {
	names := make([]string, 0, len(c.Retailers))
	for name := range c.Retailers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Retailer looks up one retailer block.
func (c *Config) Retailer(name string) (*types.RetailerConfig, bool) {
	rc, ok := c.Retailers[name]
	return rc, ok && rc != nil
}

// Select resolves the run target set: --all takes every enabled
// retailer, --group filters by group, and explicit names are taken
// as-is (enabled or not, the operator asked). Exclusions apply last.
func (c *Config) Select(all bool, names []string, group string, exclude []string) ([]string, error) {
	excluded := make(map[string]struct{}, len(exclude))
	for _, name := range exclude {
		excluded[name] = struct{}{}
	}

	var selected []string
	switch {
	case len(names) > 0:
		for _, name := range names {
			if _, ok := c.Retailer(name); !ok {
				return nil, fmt.Errorf("unknown retailer %q", name)
			}
			selected = append(selected, name)
		}
	case all || group != "":
		for _, name := range c.RetailerNames() {
			rc := c.Retailers[name]
			if !rc.Enabled {
				continue
			}
			if group != "" && rc.Group != group {
				continue
			}
			selected = append(selected, name)
		}
	default:
		return nil, fmt.Errorf("no retailers selected: pass --retailer, --group, or --all")
	}

	var out []string
	for _, name := range selected {
		if _, skip := excluded[name]; !skip {
			out = append(out, name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("selection matched no retailers")
	}
	return out, nil
}
