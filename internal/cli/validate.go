package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwell-app/draftsync/internal/scenario"
	"github.com/inkwell-app/draftsync/internal/schema"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Schema string // optional CUE template path
}

// ValidateResult holds the validation verdict.
type ValidateResult struct {
	Scenario   string             `json:"scenario"`
	Steps      int                `json:"steps"`
	Template   string             `json:"template,omitempty"`
	Violations []schema.Violation `json:"violations,omitempty"`
	Valid      bool               `json:"valid"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <scenario.yaml>",
		Short: "Validate a scenario and, optionally, its final draft",
		Long: `Validate a scenario file structurally. With --schema, the scenario is
also executed and its final draft checked against a CUE document template.

Exit codes:
  0 - Scenario (and draft, if --schema given) is valid
  1 - Validation failed
  2 - Command error (file not found, parse error, etc.)

Examples:
  draftsync validate scenarios/dedup.yaml
  draftsync validate scenarios/brief.yaml --schema templates/project_brief.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE document template to validate the final draft against")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command, path string) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sc, err := scenario.LoadFile(path)
	if err != nil {
		return WrapExitError(ExitFailure, "scenario is invalid", err)
	}

	result := ValidateResult{
		Scenario: sc.Name,
		Steps:    len(sc.Steps),
		Valid:    true,
	}

	if opts.Schema != "" {
		tmpl, err := schema.CompileFile(opts.Schema)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to compile template", err)
		}
		result.Template = tmpl.Name

		runResult, err := scenario.Run(sc)
		if err != nil {
			return WrapExitError(ExitCommandError, "scenario execution failed", err)
		}

		result.Violations = tmpl.Validate(runResult.Final.Draft.Fields)
		result.Valid = len(result.Violations) == 0
	}

	if opts.Format == "json" {
		if err := out.Success(result); err != nil {
			return WrapExitError(ExitCommandError, "failed to encode output", err)
		}
	} else {
		if result.Valid {
			fmt.Fprintf(cmd.OutOrStdout(), "scenario %s: valid (%d steps)\n", result.Scenario, result.Steps)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "scenario %s: draft violates template %s\n", result.Scenario, result.Template)
			for _, v := range result.Violations {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", v)
			}
		}
	}

	if !result.Valid {
		return NewExitError(ExitFailure, fmt.Sprintf("%d violation(s)", len(result.Violations)))
	}
	return nil
}
