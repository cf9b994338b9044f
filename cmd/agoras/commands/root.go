package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/agoras-social/agoras/internal/app"
	"github.com/agoras-social/agoras/internal/credential"
	"github.com/agoras-social/agoras/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string, version, commit string) error {
	platformCommands := make([]*cli.Command, 0, len(credential.Platforms()))
	for _, platform := range credential.Platforms() {
		platformCommands = append(platformCommands, platformCommand(platform))
	}

	cmd := &cli.Command{
		Name:    "agoras",
		Usage:   "Post to social platforms from feeds, sheets or the command line",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.BoolFlag{
				Name:    "headless",
				Usage:   "resolve all credentials from environment variables (CI mode)",
				Sources: cli.EnvVars("AGORAS_HEADLESS"),
			},
			&cli.StringFlag{
				Name:  "store--dir",
				Usage: "credential store directory",
			},
			&cli.StringFlag{
				Name:  "store--key-storage",
				Usage: "encryption key backend (file|keyring)",
			},
			&cli.StringFlag{
				Name:  "store--key-file",
				Usage: "encryption key path for the file backend",
			},
		},
		Commands: platformCommands,
	}

	return cmd.Run(ctx, args)
}

// setup loads config, installs logging and wires the application.
func setup(cmd *cli.Command) (*app.App, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat)); err != nil {
		return nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create app: %w", err)
	}

	return application, nil
}
