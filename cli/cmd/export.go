package cmd

import (
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/prospect/cli/config"
	"github.com/pithecene-io/prospect/cli/render"
	"github.com/pithecene-io/prospect/export"
)

// ExportCommand returns the export command: re-render the latest
// snapshot into additional formats without scraping.
func ExportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Re-export the latest snapshot in the requested formats",
		ArgsUsage: "<retailer>",
		Flags: []cli.Flag{
			ConfigFlag,
			FormatFlag,
			NoColorFlag,
			&cli.StringSliceFlag{
				Name:  "export-format",
				Usage: "Formats to write: csv, json, jsonl, geojson, xlsx (repeatable)",
			},
		},
		Action: exportAction,
	}
}

func exportAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	retailer := c.Args().First()
	if retailer == "" {
		return cli.Exit("usage: prospect export <retailer>", exitBadArgs)
	}
	if _, ok := cfg.Retailer(retailer); !ok {
		return cli.Exit("unknown retailer "+retailer, exitBadArgs)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitBadArgs)
	}

	formats := c.StringSlice("export-format")
	if len(formats) == 0 {
		formats = cfg.ExportFormats
	}

	exporter := export.New(filepath.Join(cfg.DataDir, retailer))
	stores, err := exporter.LoadLatest()
	if err != nil {
		return cli.Exit(err.Error(), exitRunFailure)
	}
	if stores == nil {
		return cli.Exit("no snapshot for "+retailer+"; run a harvest first", exitRunFailure)
	}

	paths, err := exporter.Write(stores, formats)
	if err != nil {
		return cli.Exit(err.Error(), exitRunFailure)
	}
	return r.Render(map[string]any{
		"retailer": retailer,
		"stores":   len(stores),
		"files":    paths,
	})
}
