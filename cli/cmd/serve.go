package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/prospect/api"
	"github.com/pithecene-io/prospect/cli/config"
	"github.com/pithecene-io/prospect/log"
	"github.com/pithecene-io/prospect/runmgr"
)

// ServeCommand returns the serve command: the control API plus the
// in-process run supervisor.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the control API server",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Bind address override (default from config)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfgPath := c.String("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	if listen := c.String("listen"); listen != "" {
		cfg.Server.Listen = listen
	}

	logger := log.NewLogger("", "", log.ParseLevel(cfg.LogLevel)).
		Tee(log.Setup(filepath.Join(cfg.LogDir, "scraper.log")), log.ParseLevel(cfg.LogLevel))

	// Runs left "running" by a dead process are failed before anything
	// else can read them as live.
	recovered, err := runmgr.RecoverStale(cfg.DataDir, logger)
	if err != nil {
		logger.Warn("stale run recovery incomplete", map[string]any{"error": err.Error()})
	}
	if recovered > 0 {
		logger.Info("recovered stale runs", map[string]any{"count": recovered})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runFn runmgr.RunFunc
	if cfg.Server.RunMode == config.RunModeProcess {
		bin, err := os.Executable()
		if err != nil {
			return cli.Exit("resolve executable: "+err.Error(), exitConfigError)
		}
		spawner := &runmgr.Spawner{
			Binary:     bin,
			ConfigPath: cfgPath,
			StopGrace:  cfg.Server.StopTimeout.Duration,
		}
		runFn = spawner.Run
	} else {
		o, err := buildOrchestrator(ctx, cfg, "", "")
		if err != nil {
			return cli.Exit(err.Error(), exitConfigError)
		}
		runFn = o.RunFunc()
	}
	mgr := runmgr.New(runFn, logger)
	srv := api.New(cfgPath, cfg, mgr, logger)

	logger.Info("csrf token issued", map[string]any{"token": srv.CSRFToken()})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down", nil)
		mgr.StopAll(cfg.Server.StopTimeout.Duration)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()

	return srv.Start()
}
