package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inkwell-app/draftsync/internal/recorder"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string // optional - list sessions when empty
}

// TraceResult holds one session's recorded history.
type TraceResult struct {
	Session recorder.SessionRecord `json:"session"`
	Oplog   []TracePatch           `json:"oplog"`
	Events  []TraceEvent           `json:"events"`
}

// TracePatch is one oplog entry in trace output.
type TracePatch struct {
	Position int            `json:"position"`
	PatchID  string         `json:"patch_id"`
	Version  int64          `json:"version"`
	Fields   map[string]any `json:"fields"`
}

// TraceEvent is one telemetry entry in trace output.
type TraceEvent struct {
	Position int               `json:"position"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect recorded sessions",
		Long: `Inspect a recording database: list sessions, or dump one session's
applied-patch oplog and telemetry events in order.

Examples:
  draftsync trace --db ./sessions.db
  draftsync trace --db ./sessions.db --session dedup-voice-echo-0190...
  draftsync trace --db ./sessions.db --session ... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to recording database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session id to dump (lists sessions when omitted)")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	rec, err := recorder.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open recording database", err)
	}
	defer rec.Close()

	if opts.Session == "" {
		sessions, err := rec.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
		if opts.Format == "json" {
			return out.Success(sessions)
		}
		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no recorded sessions")
			return nil
		}
		for _, s := range sessions {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  scenario=%s  started=%s  final_version=%d\n",
				s.ID, s.Scenario, s.StartedAt.Format("2006-01-02T15:04:05Z07:00"), s.FinalVersion)
		}
		return nil
	}

	session, err := rec.ReadSession(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read session", err)
	}
	oplog, err := rec.ReadOplog(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read oplog", err)
	}
	events, err := rec.ReadEvents(ctx, opts.Session)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read events", err)
	}

	result := TraceResult{Session: session, Oplog: []TracePatch{}, Events: []TraceEvent{}}
	for i, p := range oplog {
		result.Oplog = append(result.Oplog, TracePatch{
			Position: i,
			PatchID:  p.ID,
			Version:  p.Version,
			Fields:   p.Fields,
		})
	}
	for i, ev := range events {
		result.Events = append(result.Events, TraceEvent{
			Position: i,
			Name:     ev.Name,
			Metadata: ev.Metadata,
		})
	}

	if opts.Format == "json" {
		return out.Success(result)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "session %s (scenario %s)\n", session.ID, session.Scenario)
	fmt.Fprintf(cmd.OutOrStdout(), "oplog (%d patches):\n", len(result.Oplog))
	for _, p := range result.Oplog {
		fmt.Fprintf(cmd.OutOrStdout(), "  %3d  %s  fields=%v\n", p.Position, p.PatchID, p.Fields)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "telemetry (%d events):\n", len(result.Events))
	for _, ev := range result.Events {
		fmt.Fprintf(cmd.OutOrStdout(), "  %3d  %s  %v\n", ev.Position, ev.Name, ev.Metadata)
	}
	return nil
}
