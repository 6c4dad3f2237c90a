package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkwell-app/draftsync/internal/idgen"
	"github.com/inkwell-app/draftsync/internal/recorder"
	"github.com/inkwell-app/draftsync/internal/scenario"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Record string // optional path to a recording database
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scripted scenario against a fresh engine",
		Long: `Run a YAML scenario against a fresh sync engine and print the final
session snapshot. Scenario assertions, if present, are evaluated.

Exit codes:
  0 - Scenario ran and all assertions passed
  1 - One or more assertions failed
  2 - Command error (scenario not found, parse error, etc.)

Examples:
  draftsync run scenarios/dedup.yaml
  draftsync run scenarios/gap_skip.yaml --record ./sessions.db
  draftsync run scenarios/dedup.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Record, "record", "", "record the session to a SQLite database")

	return cmd
}

func runRun(opts *RunOptions, cmd *cobra.Command, path string) error {
	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	sc, err := scenario.LoadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	out.VerboseLog("running scenario %s (%d steps)", sc.Name, len(sc.Steps))

	result, err := scenario.Run(sc)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario execution failed", err)
	}

	if opts.Record != "" {
		if err := recordSession(cmd.Context(), opts.Record, result); err != nil {
			return WrapExitError(ExitCommandError, "failed to record session", err)
		}
		out.VerboseLog("session recorded to %s", opts.Record)
	}

	snap := scenario.BuildSnapshot(result)
	if opts.Format == "json" {
		if err := out.Success(snap); err != nil {
			return WrapExitError(ExitCommandError, "failed to encode output", err)
		}
	} else {
		data, err := snap.MarshalIndent()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode output", err)
		}
		fmt.Fprint(cmd.OutOrStdout(), string(data))
	}

	failures := scenario.EvaluateAssertions(result, sc.Assertions)
	if len(failures) > 0 {
		for _, failure := range failures {
			fmt.Fprintln(cmd.ErrOrStderr(), "FAIL:", failure)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d assertion(s) failed", len(failures)))
	}

	return nil
}

// recordSession persists the run's oplog and telemetry for later trace and
// replay commands.
func recordSession(ctx context.Context, dbPath string, result *scenario.Result) error {
	if ctx == nil {
		ctx = context.Background()
	}

	rec, err := recorder.Open(dbPath)
	if err != nil {
		return err
	}
	defer rec.Close()

	sessionID := fmt.Sprintf("%s-%s", result.Scenario, idgen.Default{}.TurnID())
	if err := rec.BeginSession(ctx, recorder.SessionRecord{
		ID:        sessionID,
		Scenario:  result.Scenario,
		StartedAt: time.Now().UTC(),
	}); err != nil {
		return err
	}
	if err := rec.RecordOplog(ctx, sessionID, result.Final.Oplog); err != nil {
		return err
	}
	if err := rec.RecordEvents(ctx, sessionID, result.Telemetry); err != nil {
		return err
	}
	return rec.FinishSession(ctx, sessionID, result.Final.Draft.Version, result.Final.Draft.Fields)
}
