package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-app/draftsync/internal/engine"
	"github.com/inkwell-app/draftsync/internal/recorder"
	"github.com/inkwell-app/draftsync/internal/testutil"
)

// seedSession records a session whose final draft does (or does not) match
// what replaying its oplog produces.
func seedSession(t *testing.T, dbPath, sessionID string, finalVersion int64, finalFields map[string]any) {
	t.Helper()
	rec, err := recorder.Open(dbPath)
	require.NoError(t, err)
	defer rec.Close()

	ctx := context.Background()
	require.NoError(t, rec.BeginSession(ctx, recorder.SessionRecord{
		ID: sessionID, Scenario: "seeded", StartedAt: testutil.Epoch,
	}))
	oplog := []engine.Patch{
		{ID: "p1", Version: 1, Fields: map[string]any{"title": "first"}, AppliedAt: testutil.Epoch},
		{ID: "p2", Version: 2, Fields: map[string]any{"summary": "second"}, AppliedAt: testutil.Epoch},
	}
	require.NoError(t, rec.RecordOplog(ctx, sessionID, oplog))
	require.NoError(t, rec.FinishSession(ctx, sessionID, finalVersion, finalFields))
}

func TestReplay_RequiresDatabaseFlag(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db")
}

func TestReplay_Deterministic(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	seedSession(t, dbPath, "s1", 2, map[string]any{"title": "first", "summary": "second"})

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result ReplayResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.True(t, result.AllDeterministic)
	require.Len(t, result.Sessions, 1)
	assert.Equal(t, 2, result.Sessions[0].Patches)
	assert.Equal(t, int64(2), result.Sessions[0].FinalVersion)
}

func TestReplay_MismatchFails(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	seedSession(t, dbPath, "s1", 5, map[string]any{"title": "first", "summary": "second"})

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestReplay_SpecificSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	seedSession(t, dbPath, "s1", 2, map[string]any{"title": "first", "summary": "second"})

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--session", "s1"})

	err := cmd.Execute()
	require.NoError(t, err)
}

func TestReplay_UnknownSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	seedSession(t, dbPath, "s1", 2, map[string]any{"title": "first", "summary": "second"})

	buf := &bytes.Buffer{}
	cmd := NewReplayCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--session", "missing"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
