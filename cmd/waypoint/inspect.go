package main

import (
	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/store"
)

func newInspectCmd(c *cli) *cobra.Command {
	var withEvents bool
	cmd := &cobra.Command{
		Use:   "inspect <key>",
		Short: "Print the stored view of an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.processor.Inspect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !withEvents {
				return printJSON(cmd.OutOrStdout(), view)
			}
			events, err := a.processor.Events(cmd.Context(), args[0], 0)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				Instance any            `json:"instance"`
				Events   []*store.Event `json:"events"`
			}{view, events})
		},
	}
	cmd.Flags().BoolVar(&withEvents, "events", false, "include the instance's event log")
	return cmd
}
