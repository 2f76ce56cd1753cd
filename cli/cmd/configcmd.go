package cmd

import (
	"errors"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/prospect/cli/config"
	"github.com/pithecene-io/prospect/cli/render"
)

// ConfigCommand returns the config command group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect and validate configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "validate",
				Usage:  "Validate the config file and report every problem",
				Flags:  ReadOnlyFlags(),
				Action: configValidateAction,
			},
			{
				Name:   "retailers",
				Usage:  "List configured retailers",
				Flags:  ReadOnlyFlags(),
				Action: configRetailersAction,
			},
		},
	}
}

func configValidateAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitBadArgs)
	}

	path := c.String("config")
	data, err := os.ReadFile(path)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}

	cfg, err := config.Parse(data)
	if err != nil {
		out := map[string]any{
			"status": "invalid",
			"error":  err.Error(),
		}
		// Validation failures carry the per-field list; surface it
		// whole so the operator fixes one round trip.
		var verr *config.ValidationError
		if errors.As(err, &verr) {
			out["problems"] = verr.Problems
		}
		if rerr := r.Render(out); rerr != nil {
			return rerr
		}
		return cli.Exit("", exitConfigError)
	}

	return r.Render(map[string]any{
		"status":    "valid",
		"retailers": len(cfg.Retailers),
	})
}

// retailerRow is one retailer in the listing.
type retailerRow struct {
	Retailer  string `json:"retailer"`
	Status    string `json:"status"`
	Group     string `json:"group,omitempty"`
	Discovery string `json:"discovery"`
	Proxy     string `json:"proxy"`
}

func configRetailersAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), exitBadArgs)
	}

	var rows []retailerRow
	for _, name := range cfg.RetailerNames() {
		rc := cfg.Retailers[name]
		status := "disabled"
		if rc.Enabled {
			status = "enabled"
		}
		rows = append(rows, retailerRow{
			Retailer:  name,
			Status:    status,
			Group:     rc.Group,
			Discovery: string(rc.DiscoveryMethod),
			Proxy:     string(rc.ProxyMode),
		})
	}
	return r.Render(rows)
}
