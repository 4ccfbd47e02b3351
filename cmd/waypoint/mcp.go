package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/pkg/mcp"
)

func newMCPCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the engine as MCP tools over stdio",
		Long:  `Starts a Model Context Protocol server on stdin/stdout. Logs go to stderr so they never corrupt the protocol stream.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(mcp.ServerDeps{
				Engine:    a.processor,
				Workflows: a.workflows,
				Hub:       a.hub,
				Logger:    c.logger,
			})
			c.logger.Info("mcp server listening on stdio", "workflows", len(a.workflows.Names()))
			return srv.Serve(ctx)
		},
	}
}
