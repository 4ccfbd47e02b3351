package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/diagram"
)

func newDiagramCmd(c *cli) *cobra.Command {
	var key, format, out string
	cmd := &cobra.Command{
		Use:   "diagram <workflow>",
		Short: "Render a workflow as ASCII, Mermaid or an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := c.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			blk, err := a.workflows.Workflow(args[0])
			if err != nil {
				return err
			}
			var overlay *diagram.Overlay
			if key != "" {
				view, err := a.processor.Inspect(ctx, key)
				if err != nil {
					return err
				}
				visited, err := a.processor.Visited(ctx, key)
				if err != nil {
					return err
				}
				overlay = &diagram.Overlay{Place: view.Place, Visited: visited}
			}
			model, err := diagram.Build(blk.Definition, overlay)
			if err != nil {
				return err
			}

			var data []byte
			switch format {
			case "ascii":
				data = []byte(diagram.RenderASCII(model))
			case "mermaid":
				data = []byte(diagram.RenderMermaid(model))
			case "png", "svg", "dot":
				if out == "" && format == "png" {
					return fmt.Errorf("png output needs --out")
				}
				data, err = diagram.RenderImage(ctx, model, diagram.Format(format))
				if err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown format %q (want ascii, mermaid, png, svg or dot)", format)
			}

			if out == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("write diagram: %w", err)
			}
			c.logger.Info("diagram written", "workflow", args[0], "format", format, "path", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "highlight the current and visited places of this instance")
	cmd.Flags().StringVarP(&format, "format", "f", "ascii", "ascii, mermaid, png, svg or dot")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to this file instead of stdout")
	return cmd
}
