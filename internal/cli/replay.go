package cli

import (
	"context"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/inkwell-app/draftsync/internal/engine"
	"github.com/inkwell-app/draftsync/internal/recorder"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string // optional - specific session only
}

// ReplaySessionResult holds the replay verdict for a single session.
type ReplaySessionResult struct {
	SessionID     string `json:"session_id"`
	Patches       int    `json:"patches"`
	FinalVersion  int64  `json:"final_version"`
	Deterministic bool   `json:"deterministic"`
}

// ReplayResult holds the overall replay verdict.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay recorded oplogs and verify determinism",
		Long: `Re-drive each recorded session's oplog through a fresh engine and
verify the resulting draft matches the recorded final draft.

Exit codes:
  0 - All sessions replay deterministically
  1 - Replay mismatch detected
  2 - Command error (database not found, etc.)

Examples:
  draftsync replay --db ./sessions.db
  draftsync replay --db ./sessions.db --session dedup-voice-echo-0190...
  draftsync replay --db ./sessions.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to recording database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
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

	var sessions []recorder.SessionRecord
	if opts.Session != "" {
		session, err := rec.ReadSession(ctx, opts.Session)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read session", err)
		}
		sessions = []recorder.SessionRecord{session}
	} else {
		sessions, err = rec.ListSessions(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list sessions", err)
		}
	}

	result := ReplayResult{Sessions: []ReplaySessionResult{}, AllDeterministic: true}
	for _, session := range sessions {
		oplog, err := rec.ReadOplog(ctx, session.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read oplog", err)
		}

		replayed := replayOplog(oplog)
		ok := replayed.Version == session.FinalVersion &&
			fieldsEqual(replayed.Fields, session.FinalFields)

		out.VerboseLog("session %s: %d patches, deterministic=%v", session.ID, len(oplog), ok)

		result.Sessions = append(result.Sessions, ReplaySessionResult{
			SessionID:     session.ID,
			Patches:       len(oplog),
			FinalVersion:  replayed.Version,
			Deterministic: ok,
		})
		if !ok {
			result.AllDeterministic = false
		}
	}
	result.TotalSessions = len(result.Sessions)

	if err := out.Success(result); err != nil {
		return WrapExitError(ExitCommandError, "failed to encode output", err)
	}
	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "replay mismatch detected")
	}
	return nil
}

// replayOplog re-drives recorded patches, in recorded order, through a
// fresh engine as one sequenced global stream.
func replayOplog(oplog []engine.Patch) engine.Draft {
	eng := engine.New()
	for i, p := range oplog {
		eng.ApplyPatch(p, engine.Delivery{Seq: int64(i), Sequenced: true})
	}
	return eng.Draft()
}

// fieldsEqual compares field maps modulo JSON round-trip widening: the
// recorded map comes back from SQLite with float64 numbers.
func fieldsEqual(replayed, recorded map[string]any) bool {
	if len(replayed) != len(recorded) {
		return false
	}
	for name, rv := range replayed {
		cv, ok := recorded[name]
		if !ok {
			return false
		}
		if !valueEqualLoose(rv, cv) {
			return false
		}
	}
	return true
}

func valueEqualLoose(a, b any) bool {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			return af == bf
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
