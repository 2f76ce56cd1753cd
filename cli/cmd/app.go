package cmd

import (
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/prospect/types"
)

// NewApp assembles the prospect CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "prospect",
		Usage:   "Multi-retailer store location harvester",
		Version: types.Version,
		Commands: []*cli.Command{
			RunCommand(),
			ServeCommand(),
			StatusCommand(),
			RunsCommand(),
			ExportCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
	}
}
