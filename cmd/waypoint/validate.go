package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rendis/waypoint/internal/registry"
	"github.com/rendis/waypoint/internal/tools"
	"github.com/rendis/waypoint/internal/validation"
	"github.com/rendis/waypoint/pkg/schema"
)

// fileReport is the validation outcome of one definition file.
type fileReport struct {
	Path     string                   `json:"path"`
	Workflow string                   `json:"workflow,omitempty"`
	Result   *schema.ValidationResult `json:"result"`
}

func newValidateCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "validate [file|dir]...",
		Short: "Validate workflow definitions without running them",
		Long:  `Validates each definition file, or every definition under each directory. With no arguments the configured workflows directory is checked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{c.cfg.WorkflowsDir}
			}
			reports, err := validatePaths(args)
			if err != nil {
				return err
			}
			if asJSON {
				if err := printJSON(cmd.OutOrStdout(), reports); err != nil {
					return err
				}
			} else {
				printReports(cmd.OutOrStdout(), reports)
			}
			for _, r := range reports {
				if !r.Result.Valid() {
					return errors.New("validation failed")
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print reports as JSON")
	return cmd
}

// validatePaths expands directories and validates every file found against
// the built-in tool set.
func validatePaths(paths []string) ([]fileReport, error) {
	treg := tools.NewRegistry()
	wv, err := validation.NewWorkflowValidator(treg)
	if err != nil {
		return nil, err
	}
	if err := tools.RegisterBuiltins(treg, wv.Schemas()); err != nil {
		return nil, err
	}
	// Only the name matters here; validation never runs children.
	if err := tools.RegisterFanout(treg, nil, 1, wv.Schemas()); err != nil {
		return nil, err
	}

	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("validate %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := registry.DefinitionFiles(p)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	reports := make([]fileReport, 0, len(files))
	for _, f := range files {
		reports = append(reports, validateFile(wv, f))
	}
	return reports, nil
}

func validateFile(wv *validation.WorkflowValidator, path string) fileReport {
	report := fileReport{Path: path, Result: &schema.ValidationResult{}}
	data, err := os.ReadFile(path)
	if err != nil {
		report.Result.AddError("/", schema.ErrCodeNotFound, err.Error())
		return report
	}
	def, err := registry.ParseDefinition(data, filepath.Ext(path))
	if err != nil {
		report.Result.AddError("/", schema.CodeOf(err), err.Error())
		return report
	}
	report.Workflow = def.Name
	report.Result = wv.Validate(def)
	return report
}

func printReports(w io.Writer, reports []fileReport) {
	for _, r := range reports {
		status := "ok"
		if !r.Result.Valid() {
			status = "FAIL"
		}
		fmt.Fprintf(w, "%-4s %s", status, r.Path)
		if r.Workflow != "" {
			fmt.Fprintf(w, " (%s)", r.Workflow)
		}
		fmt.Fprintln(w)
		for _, e := range r.Result.Errors {
			fmt.Fprintf(w, "  error   %s [%s] %s\n", e.Path, e.Code, e.Message)
		}
		for _, wr := range r.Result.Warnings {
			fmt.Fprintf(w, "  warning %s [%s] %s\n", wr.Path, wr.Code, wr.Message)
		}
	}
}
