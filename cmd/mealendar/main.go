package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"mealendar/internal/config"
	appLog "mealendar/internal/log"
)

const version = "0.1.0"

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := rootCommand().Run(ctx, os.Args); err != nil {
		appLog.Error("command failed", err)
		os.Exit(1)
	}
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:    "mealendar",
		Usage:   "calendar dashboard with an event map and a schedule assistant",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "/etc/mealendar/config.yaml",
				Usage:   "path to config file (.yaml or .toml)",
				Sources: cli.EnvVars("MEALENDAR_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			dayCommand(),
			snapshotCommand(),
			hashPasswordCommand(),
		},
		// Without a subcommand the server runs.
		Action: runServe,
	}
}

// loadConfig reads the config file named by --config, overlays secrets
// from the environment and configures logging.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	conf, err := config.Load(path)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", path)
		return nil, err
	}
	conf.ApplyEnv(os.Getenv)
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	level := appLog.ParseLevel(conf.LogLevel)
	if cmd.Bool("debug") {
		level = appLog.LevelDebug
	}
	appLog.SetLevel(level)
	return conf, nil
}
