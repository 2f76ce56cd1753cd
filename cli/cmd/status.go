package cmd

import (
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/prospect/cli/config"
	"github.com/pithecene-io/prospect/cli/render"
	"github.com/pithecene-io/prospect/runtrack"
	"github.com/pithecene-io/prospect/types"
)

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show per-retailer harvest status from run history",
		Flags:  ReadOnlyFlags(),
		Action: statusAction,
	}
}

// statusRow is one retailer's line in the status listing.
type statusRow struct {
	Retailer string `json:"retailer"`
	Enabled  bool   `json:"enabled"`
	Status   string `json:"status"`
	LastRun  string `json:"last_run,omitempty"`
	Stores   int    `json:"stores"`
	Errors   int    `json:"errors"`
}

func statusAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitBadArgs)
	}

	var rows []statusRow
	for _, name := range cfg.RetailerNames() {
		rc := cfg.Retailers[name]
		row := statusRow{Retailer: name, Enabled: rc.Enabled, Status: "never run"}

		runs, err := runtrack.ListRuns(filepath.Join(cfg.DataDir, name))
		if err == nil && len(runs) > 0 {
			last := runs[0]
			row.Status = string(last.Status)
			row.LastRun = last.StartedAt.UTC().Format(time.RFC3339)
			row.Stores = last.Stats.StoresScraped
			row.Errors = last.Stats.Errors
		}
		rows = append(rows, row)
	}
	return r.Render(rows)
}

// RunsCommand returns the runs command, listing run history for one retailer.
func RunsCommand() *cli.Command {
	return &cli.Command{
		Name:      "runs",
		Usage:     "List run history for a retailer",
		ArgsUsage: "<retailer>",
		Flags:     ReadOnlyFlags(),
		Action:    runsAction,
	}
}

// runRow is one run in the history listing.
type runRow struct {
	RunID    string  `json:"run_id"`
	Status   string  `json:"status"`
	Started  string  `json:"started"`
	Duration float64 `json:"duration_seconds"`
	Stores   int     `json:"stores"`
	Requests int     `json:"requests"`
	Errors   int     `json:"errors"`
}

func runsAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	retailer := c.Args().First()
	if retailer == "" {
		return cli.Exit("usage: prospect runs <retailer>", exitBadArgs)
	}
	if _, ok := cfg.Retailer(retailer); !ok {
		return cli.Exit("unknown retailer "+retailer, exitBadArgs)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitBadArgs)
	}

	runs, err := runtrack.ListRuns(filepath.Join(cfg.DataDir, retailer))
	if err != nil {
		return err
	}
	rows := make([]runRow, 0, len(runs))
	for _, rec := range runs {
		rows = append(rows, runRow{
			RunID:    rec.RunID,
			Status:   string(rec.Status),
			Started:  rec.StartedAt.UTC().Format(time.RFC3339),
			Duration: rec.Stats.DurationSeconds,
			Stores:   rec.Stats.StoresScraped,
			Requests: rec.Stats.RequestsMade,
			Errors:   rec.Stats.Errors,
		})
	}
	return r.Render(rows)
}

// VersionCommand returns the version command.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Flags: []cli.Flag{FormatFlag, NoColorFlag},
		Action: func(c *cli.Context) error {
			r, err := render.NewRenderer(c)
			if err != nil {
				return err
			}
			return r.Render(map[string]string{"version": types.Version})
		},
	}
}
