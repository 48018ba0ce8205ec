package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/phrazzld/mediascribe/internal/config"
	"github.com/phrazzld/mediascribe/internal/platform/logger"
)

// cli carries state shared by every subcommand once the root pre-run has
// loaded configuration and set up logging.
type cli struct {
	configFile string

	cfg      *config.Config
	logger   *slog.Logger
	closeLog func() error
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:          "mediascribe",
		Short:        "Extract text from note images and videos",
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return c.initialize()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.closeLog != nil {
				return c.closeLog()
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.configFile, "config", "c", "", "Path to a YAML config file (default ./config.yaml)")

	rootCmd.AddCommand(
		serveCommand(c),
		processFileCommand(c),
		updateFileCommand(c),
		tasksCommand(c),
		notesCommand(c),
		migrateCommand(c),
	)
	return rootCmd
}

func (c *cli) initialize() error {
	cfg, err := config.Load(c.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, closeLog, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	c.cfg, c.logger, c.closeLog = cfg, log, closeLog
	log.Debug("configuration loaded",
		"database_driver", cfg.Database.Driver,
		"default_engine", cfg.Task.DefaultEngine,
		"max_workers", cfg.Task.MaxWorkers)
	return nil
}

// withApp builds the application for the duration of fn.
func (c *cli) withApp(ctx context.Context, fn func(ctx context.Context, app *application) error) error {
	if err := ensureDirs(c.cfg); err != nil {
		return err
	}
	app, err := newApplication(ctx, c.cfg, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()
	return fn(ctx, app)
}
