package api

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/prospect/cli/config"
	"github.com/pithecene-io/prospect/export"
	"github.com/pithecene-io/prospect/runmgr"
	"github.com/pithecene-io/prospect/runtrack"
	"github.com/pithecene-io/prospect/types"
)

// runIDPattern matches well-formed run ids. Anything else in the logs
// path is rejected before touching the filesystem.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-:.]+$`)

const redacted = "[redacted]"

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleCSRFToken(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"csrf_token": s.csrfToken})
}

// retailerSummary is one retailer's entry in the global status.
type retailerSummary struct {
	Retailer string           `json:"retailer"`
	Enabled  bool             `json:"enabled"`
	Running  bool             `json:"running"`
	LastRun  *types.RunRecord `json:"last_run,omitempty"`
}

func (s *Server) handleStatus(c echo.Context) error {
	cfg := s.config()
	active := s.mgr.Status()
	if active == nil {
		active = []runmgr.ActiveStatus{}
	}

	retailers := make([]retailerSummary, 0, len(cfg.Retailers))
	for _, name := range cfg.RetailerNames() {
		rc, ok := cfg.Retailer(name)
		if !ok {
			continue
		}
		summary := retailerSummary{
			Retailer: name,
			Enabled:  rc.Enabled,
			Running:  s.mgr.Running(name),
		}
		if runs, err := runtrack.ListRuns(filepath.Join(cfg.DataDir, name)); err == nil && len(runs) > 0 {
			summary.LastRun = &runs[0]
		}
		retailers = append(retailers, summary)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"active":    active,
		"retailers": retailers,
	})
}

func (s *Server) handleRetailerStatus(c echo.Context) error {
	cfg := s.config()
	retailer := c.Param("retailer")
	rc, ok := cfg.Retailer(retailer)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown retailer "+retailer)
	}

	out := map[string]any{
		"retailer": retailer,
		"enabled":  rc.Enabled,
		"running":  s.mgr.Running(retailer),
	}
	runs, err := runtrack.ListRuns(filepath.Join(cfg.DataDir, retailer))
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		out["last_run"] = runs[0]
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRuns(c echo.Context) error {
	cfg := s.config()
	retailer := c.Param("retailer")
	if _, ok := cfg.Retailer(retailer); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown retailer "+retailer)
	}
	runs, err := runtrack.ListRuns(filepath.Join(cfg.DataDir, retailer))
	if err != nil {
		return err
	}
	if limit := c.QueryParam("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		if n < len(runs) {
			runs = runs[:n]
		}
	}
	if runs == nil {
		runs = []types.RunRecord{}
	}
	return c.JSON(http.StatusOK, map[string]any{"retailer": retailer, "runs": runs})
}

func (s *Server) handleLogs(c echo.Context) error {
	cfg := s.config()
	retailer := c.Param("retailer")
	runID := c.Param("run_id")
	if _, ok := cfg.Retailer(retailer); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown retailer "+retailer)
	}
	if !runIDPattern.MatchString(runID) || strings.Contains(runID, "..") {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}

	logDir := filepath.Join(cfg.DataDir, retailer, "logs")
	path := filepath.Join(logDir, runID+".log")
	// Confinement check on the cleaned path, not just the pattern.
	if rel, err := filepath.Rel(logDir, path); err != nil || strings.HasPrefix(rel, "..") {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return echo.NewHTTPError(http.StatusNotFound, "no log for run "+runID)
		}
		return err
	}

	// A byte offset lets pollers resume where the previous poll ended.
	if offset := c.QueryParam("offset"); offset != "" {
		n, err := strconv.ParseInt(offset, 10, 64)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "offset must be a non-negative integer")
		}
		if n > int64(len(data)) {
			n = int64(len(data))
		}
		data = data[n:]
	}

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	total := len(lines)
	if tail := c.QueryParam("tail"); tail != "" {
		n, err := strconv.Atoi(tail)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "tail must be a positive integer")
		}
		if n < len(lines) {
			lines = lines[len(lines)-n:]
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"retailer":    retailer,
		"run_id":      runID,
		"content":     strings.Join(lines, "\n"),
		"lines":       len(lines),
		"total_lines": total,
		"is_active":   s.mgr.Running(retailer),
	})
}

// handleGetConfig returns the live configuration with every credential
// value blanked. Secrets go in, never out.
func (s *Server) handleGetConfig(c echo.Context) error {
	cfg := s.config()
	clean := *cfg
	clean.Credentials = redactCredentials(cfg.Credentials)

	data, err := yaml.Marshal(&clean)
	if err != nil {
		return err
	}
	return c.Blob(http.StatusOK, "application/yaml", data)
}

func redactCredentials(in config.CredentialsConfig) config.CredentialsConfig {
	out := in
	for _, v := range []*string{&out.Username, &out.Password, &out.APIUsername, &out.APIPassword} {
		if *v != "" {
			*v = redacted
		}
	}
	return out
}

type configUpdateRequest struct {
	Content string `json:"content"`
}

// handleUpdateConfig validates and installs a new config file. The
// save path backs up the current file first; an invalid upload changes
// nothing on disk or in memory.
func (s *Server) handleUpdateConfig(c echo.Context) error {
	var req configUpdateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content must be the new YAML configuration")
	}

	cfg, err := config.Save(s.cfgPath, []byte(req.Content))
	if err != nil {
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, map[string]any{
				"error":   "invalid configuration",
				"details": verr.Problems,
			})
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Info("configuration replaced", map[string]any{"path": s.cfgPath})
	return c.JSON(http.StatusOK, map[string]string{"status": "saved"})
}

type startRequest struct {
	Retailer string `json:"retailer"`
	types.RunOptions
}

func (s *Server) handleStart(c echo.Context) error {
	var req startRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	cfg := s.config()
	if _, ok := cfg.Retailer(req.Retailer); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown retailer "+req.Retailer)
	}
	if err := req.RunOptions.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	runID, err := s.mgr.Start(req.Retailer, req.RunOptions)
	if err != nil {
		if errors.Is(err, runmgr.ErrAlreadyRunning) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "started", "run_id": runID})
}

type stopRequest struct {
	Retailer string `json:"retailer"`
	// Timeout in seconds; zero means the configured default.
	Timeout float64 `json:"timeout,omitempty"`
}

func (s *Server) handleStop(c echo.Context) error {
	var req stopRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}

	timeout := s.config().Server.StopTimeout.Duration
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}
	err := s.mgr.Stop(req.Retailer, timeout)
	if err != nil {
		if errors.Is(err, runmgr.ErrNotRunning) {
			return echo.NewHTTPError(http.StatusNotFound, "no active run for "+req.Retailer)
		}
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "stopped"})
}

type restartRequest struct {
	Retailer string `json:"retailer"`
	// Timeout in seconds for the stop phase; zero means the default.
	Timeout float64 `json:"timeout,omitempty"`
	// Proxy overrides the transport mode of the restarted run.
	Proxy types.ProxyMode `json:"proxy,omitempty"`
}

func (s *Server) handleRestart(c echo.Context) error {
	var req restartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	cfg := s.config()
	if _, ok := cfg.Retailer(req.Retailer); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown retailer "+req.Retailer)
	}

	timeout := cfg.Server.StopTimeout.Duration
	if req.Timeout > 0 {
		timeout = time.Duration(req.Timeout * float64(time.Second))
	}
	runID, err := s.mgr.Restart(req.Retailer, timeout, req.Proxy)
	if err != nil {
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "restarted", "run_id": runID})
}

func (s *Server) handleExport(c echo.Context) error {
	cfg := s.config()
	retailer := c.Param("retailer")
	format := c.Param("format")
	if _, ok := cfg.Retailer(retailer); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown retailer "+retailer)
	}
	if !export.ValidFormat(format) {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported format "+format)
	}

	path := filepath.Join(cfg.DataDir, retailer, "output", "stores_latest."+format)
	if _, err := os.Stat(path); err != nil {
		return echo.NewHTTPError(http.StatusNotFound,
			fmt.Sprintf("no %s export for %s", format, retailer))
	}
	return c.Attachment(path, retailer+"_stores."+format)
}

type multiExportRequest struct {
	Retailers []string `json:"retailers"`
	Format    string   `json:"format"`
	// Combine merges every retailer's stores into one file instead of
	// a zip bundle of per-retailer files.
	Combine bool `json:"combine,omitempty"`
}

// handleExportMulti bundles the latest export of several retailers into
// one zip download, or one combined file. Retailers without an export
// are skipped and named in the response header.
func (s *Server) handleExportMulti(c echo.Context) error {
	var req multiExportRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.Format == "" {
		req.Format = export.FormatCSV
	}
	if !export.ValidFormat(req.Format) {
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported format "+req.Format)
	}
	if len(req.Retailers) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no retailers requested")
	}

	cfg := s.config()
	if req.Combine {
		return s.exportCombined(c, cfg, req)
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	var missing []string
	bundled := 0

	for _, retailer := range req.Retailers {
		if _, ok := cfg.Retailer(retailer); !ok {
			return echo.NewHTTPError(http.StatusNotFound, "unknown retailer "+retailer)
		}
		path := filepath.Join(cfg.DataDir, retailer, "output", "stores_latest."+req.Format)
		data, err := os.ReadFile(path)
		if err != nil {
			missing = append(missing, retailer)
			continue
		}
		f, err := zw.Create(retailer + "_stores." + req.Format)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			return err
		}
		bundled++
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if bundled == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no exports available for requested retailers")
	}

	if len(missing) > 0 {
		c.Response().Header().Set("X-Missing-Retailers", strings.Join(missing, ","))
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="stores_export.zip"`)
	return c.Blob(http.StatusOK, "application/zip", buf.Bytes())
}

// exportCombined re-renders the union of the requested snapshots into a
// single file of the requested format.
func (s *Server) exportCombined(c echo.Context, cfg *config.Config, req multiExportRequest) error {
	var combined []types.Store
	var missing []string
	for _, retailer := range req.Retailers {
		if _, ok := cfg.Retailer(retailer); !ok {
			return echo.NewHTTPError(http.StatusNotFound, "unknown retailer "+retailer)
		}
		stores, err := export.New(filepath.Join(cfg.DataDir, retailer)).LoadLatest()
		if err != nil || len(stores) == 0 {
			missing = append(missing, retailer)
			continue
		}
		combined = append(combined, stores...)
	}
	if len(combined) == 0 {
		return echo.NewHTTPError(http.StatusNotFound, "no exports available for requested retailers")
	}

	tmp, err := os.MkdirTemp("", "prospect-export-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)
	paths, err := export.New(tmp).Write(combined, []string{req.Format})
	if err != nil {
		return err
	}

	if len(missing) > 0 {
		c.Response().Header().Set("X-Missing-Retailers", strings.Join(missing, ","))
	}
	return c.Attachment(paths[0], "stores_combined."+req.Format)
}

func (s *Server) config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}
