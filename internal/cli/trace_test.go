package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-app/draftsync/internal/recorder"
	"github.com/inkwell-app/draftsync/internal/telemetry"
	"github.com/inkwell-app/draftsync/internal/testutil"
)

func TestTrace_ListsSessions(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	seedSession(t, dbPath, "s1", 2, map[string]any{"title": "first"})

	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "s1")
	assert.Contains(t, buf.String(), "scenario=seeded")
}

func TestTrace_EmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")

	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath})

	err := cmd.Execute()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "no recorded sessions")
}

func TestTrace_DumpsSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	seedSession(t, dbPath, "s1", 2, map[string]any{"title": "first"})

	rec, err := recorder.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, rec.RecordEvents(context.Background(), "s1", []telemetry.Event{
		telemetry.Counter(telemetry.CounterPatchApplied, testutil.Epoch, map[string]string{"patch_id": "p1"}),
	}))
	require.NoError(t, rec.Close())

	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: "json"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--session", "s1"})

	err = cmd.Execute()
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var result TraceResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, "s1", result.Session.ID)
	require.Len(t, result.Oplog, 2)
	assert.Equal(t, "p1", result.Oplog[0].PatchID)
	require.Len(t, result.Events, 1)
	assert.Equal(t, telemetry.CounterPatchApplied, result.Events[0].Name)
}

func TestTrace_UnknownSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	seedSession(t, dbPath, "s1", 2, map[string]any{"title": "first"})

	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--db", dbPath, "--session", "missing"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
