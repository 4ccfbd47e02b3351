package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rendis/waypoint/internal/logging"
)

// cli carries state shared by every subcommand.
type cli struct {
	v          *viper.Viper
	configPath string
	cfg        Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}

	root := &cobra.Command{
		Use:           "waypoint",
		Short:         "Waypoint runs resumable place/transition workflows",
		Long:          `Waypoint drives keyed workflow instances through declared places, checkpointing every step so runs resume where they stopped.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(c.v, c.configPath)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ./waypoint.yaml or ~/.waypoint/waypoint.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("workflows", "", "directory of workflow definitions")
	flags.String("store", "", "store backend: libsql, redis or memory")
	_ = c.v.BindPFlag("log_level", flags.Lookup("log-level"))
	_ = c.v.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = c.v.BindPFlag("workflows_dir", flags.Lookup("workflows"))
	_ = c.v.BindPFlag("store", flags.Lookup("store"))

	root.AddCommand(
		newServeCmd(c),
		newRunCmd(c),
		newInspectCmd(c),
		newValidateCmd(c),
		newDiagramCmd(c),
		newMCPCmd(c),
		newVersionCmd(),
	)
	return root
}

// open wires the application for commands that need the engine.
func (c *cli) open(ctx context.Context) (*app, error) {
	return newApp(ctx, c.cfg, c.logger)
}
