package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rendis/waypoint/internal/engine"
)

type runOptions struct {
	args       string
	argsFile   string
	context    string
	transition string
}

func newRunCmd(c *cli) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run <workflow> <key>",
		Short: "Run one workflow instance and print the result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.RunRequest{Workflow: args[0], Key: args[1], Transition: opts.transition}
			var err error
			if req.Args, err = opts.decodeArgs(); err != nil {
				return err
			}
			if req.Context, err = decodeObject("--context", []byte(opts.context)); err != nil {
				return err
			}

			a, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.processor.Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().StringVar(&opts.args, "args", "", "run arguments as a JSON object")
	cmd.Flags().StringVar(&opts.argsFile, "args-file", "", "read run arguments from a JSON or YAML file")
	cmd.Flags().StringVar(&opts.context, "context", "", "execution context as a JSON object")
	cmd.Flags().StringVar(&opts.transition, "transition", "", "request this transition for the run")
	cmd.MarkFlagsMutuallyExclusive("args", "args-file")
	return cmd
}

func (o runOptions) decodeArgs() (map[string]any, error) {
	if o.argsFile == "" {
		return decodeObject("--args", []byte(o.args))
	}
	data, err := os.ReadFile(o.argsFile)
	if err != nil {
		return nil, fmt.Errorf("read args file: %w", err)
	}
	return decodeObject(o.argsFile, data)
}

// decodeObject parses a JSON or YAML object. Empty input yields nil.
func decodeObject(source string, data []byte) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: expected an object: %w", source, err)
	}
	return out, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
