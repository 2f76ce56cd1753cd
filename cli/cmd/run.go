package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/prospect/cli/config"
	"github.com/pithecene-io/prospect/cli/render"
	"github.com/pithecene-io/prospect/log"
	"github.com/pithecene-io/prospect/orchestrator"
	"github.com/pithecene-io/prospect/types"
	"github.com/pithecene-io/prospect/upload"
)

// Exit codes.
const (
	exitSuccess     = 0
	exitRunFailure  = 1
	exitBadArgs     = 2
	exitConfigError = 3
)

// RunCommand returns the run command, the only command that scrapes.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Harvest store locations for the selected retailers",
		Flags: []cli.Flag{
			ConfigFlag,
			FormatFlag,
			NoColorFlag,
			// Selection flags
			&cli.StringSliceFlag{
				Name:    "retailer",
				Aliases: []string{"r"},
				Usage:   "Retailer to harvest (repeatable; selects even disabled retailers)",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Harvest every enabled retailer",
			},
			&cli.StringFlag{
				Name:  "group",
				Usage: "Harvest every enabled retailer in a group",
			},
			&cli.StringSliceFlag{
				Name:  "exclude",
				Usage: "Retailers to skip (applied after selection)",
			},
			// Run behavior flags
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Resume from the last checkpoint",
			},
			&cli.BoolFlag{
				Name:  "incremental",
				Usage: "Only fetch stores missing from the previous snapshot",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Cap the number of stores per retailer (0 = no cap)",
			},
			&cli.BoolFlag{
				Name:  "test",
				Usage: "Test mode: harvest at most 10 stores per retailer",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Use an exact run id (single retailer only; set by the serve supervisor)",
			},
			// Proxy flags
			&cli.StringFlag{
				Name:  "proxy",
				Usage: "Proxy mode override: direct, residential, web_scraper_api",
			},
			&cli.BoolFlag{
				Name:  "render-js",
				Usage: "Render JavaScript (web_scraper_api mode only)",
			},
			&cli.StringFlag{
				Name:  "proxy-country",
				Usage: "Two-letter proxy exit country override",
			},
			// Credential overrides
			&cli.StringFlag{
				Name:    "username",
				Usage:   "Proxy/API username override",
				EnvVars: []string{"PROSPECT_USERNAME"},
			},
			&cli.StringFlag{
				Name:    "password",
				Usage:   "Proxy/API password override",
				EnvVars: []string{"PROSPECT_PASSWORD"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Raise the log level to debug",
			},
			&cli.BoolFlag{
				Name:  "validate",
				Usage: "Prove each selected retailer with a capped harvest; no data is written",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if c.Bool("verbose") {
		cfg.LogLevel = "debug"
	}

	retailers, err := cfg.Select(c.Bool("all"), c.StringSlice("retailer"), c.String("group"), c.StringSlice("exclude"))
	if err != nil {
		return cli.Exit(err.Error(), exitBadArgs)
	}

	opts := types.RunOptions{
		Resume:       c.Bool("resume"),
		Incremental:  c.Bool("incremental"),
		Limit:        c.Int("limit"),
		Test:         c.Bool("test"),
		ProxyMode:    types.ProxyMode(c.String("proxy")),
		RenderJS:     c.Bool("render-js"),
		ProxyCountry: c.String("proxy-country"),
	}
	if err := opts.Validate(); err != nil {
		return cli.Exit(err.Error(), exitBadArgs)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitBadArgs)
	}

	runID := c.String("run-id")
	if runID != "" && len(retailers) != 1 {
		return cli.Exit("--run-id requires exactly one retailer", exitBadArgs)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	o, err := buildOrchestrator(ctx, cfg, c.String("username"), c.String("password"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	if c.Bool("validate") {
		outcomes := make([]orchestrator.ValidationOutcome, 0, len(retailers))
		failed := false
		for _, retailer := range retailers {
			out := o.ValidateRetailer(ctx, retailer)
			if !out.Passed {
				failed = true
			}
			outcomes = append(outcomes, out)
		}
		if err := r.Render(outcomes); err != nil {
			return err
		}
		if failed {
			return cli.Exit("", exitRunFailure)
		}
		return nil
	}

	var summary *orchestrator.Summary
	if runID != "" {
		res := o.RunRetailer(ctx, retailers[0], runID, opts)
		summary = &orchestrator.Summary{Results: []orchestrator.RetailerResult{res}}
		if res.Err != nil {
			summary.Failed = 1
		} else {
			summary.Succeeded = 1
		}
	} else {
		summary = o.RunMany(ctx, retailers, opts)
	}

	if err := r.Render(summaryRows(summary)); err != nil {
		return err
	}
	if !summary.AllSucceeded() {
		return cli.Exit("", exitRunFailure)
	}
	return nil
}

// buildOrchestrator wires the optional uploader and notifier from config.
func buildOrchestrator(ctx context.Context, cfg *config.Config, username, password string) (*orchestrator.Orchestrator, error) {
	opts := []orchestrator.Option{
		orchestrator.WithCLICredentials(orchestrator.CLICredentials{
			Username: username,
			Password: password,
		}),
	}

	if cfg.Upload.Enabled {
		uploader, err := upload.New(ctx, cfg.Upload, log.NewLogger("", "", log.ParseLevel(cfg.LogLevel)))
		if err != nil {
			return nil, fmt.Errorf("upload: %w", err)
		}
		opts = append(opts, orchestrator.WithUploader(uploader))
	}

	notifier, err := orchestrator.NewNotifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("adapter: %w", err)
	}
	if notifier != nil {
		opts = append(opts, orchestrator.WithNotifier(notifier))
	}

	return orchestrator.New(cfg, opts...), nil
}

// summaryRow is one retailer's outcome in the run summary output.
type summaryRow struct {
	Retailer string `json:"retailer"`
	RunID    string `json:"run_id"`
	Status   string `json:"status"`
	Stores   int    `json:"stores"`
	New      int    `json:"new"`
	Closed   int    `json:"closed"`
	Modified int    `json:"modified"`
	Error    string `json:"error,omitempty"`
}

func summaryRows(summary *orchestrator.Summary) []summaryRow {
	rows := make([]summaryRow, 0, len(summary.Results))
	for _, res := range summary.Results {
		row := summaryRow{
			Retailer: res.Retailer,
			RunID:    res.RunID,
			Status:   "complete",
			Stores:   res.Stats.StoresScraped,
		}
		if res.Report != nil {
			row.New = len(res.Report.New)
			row.Closed = len(res.Report.Closed)
			row.Modified = len(res.Report.Modified)
		}
		if res.Err != nil {
			row.Status = "failed"
			row.Error = res.Err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}
