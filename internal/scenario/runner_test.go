package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-app/draftsync/internal/engine"
	"github.com/inkwell-app/draftsync/internal/testutil"
)

func seqPtr(n int64) *int64 { return &n }

func TestRun_MinimalTurn(t *testing.T) {
	sc := &Scenario{
		Name: "minimal",
		Steps: []Step{
			{Ingest: &IngestStep{ID: "ev-1", TurnID: "t1", Source: "user", Stage: "final", Content: "hello"}},
			{SubmitFinal: &SubmitFinalStep{TurnID: "t1"}},
		},
	}

	result, err := Run(sc)
	require.NoError(t, err)
	assert.Equal(t, "minimal", result.Scenario)

	turn := result.Final.Turn("t1")
	require.NotNil(t, turn)
	assert.Equal(t, engine.TurnFinalized, turn.Status)
	assert.Len(t, result.Final.Buffers.Final, 1)
	assert.Empty(t, result.Telemetry)
}

func TestRun_ClockAdvancesDriveWindows(t *testing.T) {
	sc := &Scenario{
		Name:   "gap",
		Policy: "concurrent",
		Steps: []Step{
			{BeginAgentTurn: &BeginAgentTurnStep{TurnID: "t-agent"}},
			{ApplyPatch: &ApplyPatchStep{PatchID: "p1", TurnID: "t-agent", Seq: seqPtr(1), Fields: map[string]any{"title": "late"}}},
			{Advance: "1s"},
			{ApplyPatch: &ApplyPatchStep{PatchID: "p2", TurnID: "t-agent", Seq: seqPtr(2), Fields: map[string]any{"body": "later"}}},
		},
	}

	result, err := Run(sc)
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Final.Draft.Version)

	names := make([]string, 0, len(result.Telemetry))
	for _, ev := range result.Telemetry {
		names = append(names, ev.Name)
	}
	assert.Contains(t, names, "patch_gap")
}

func TestRun_DeterministicAcrossRuns(t *testing.T) {
	sc := &Scenario{
		Name: "repeat",
		Steps: []Step{
			{Ingest: &IngestStep{TurnID: "t1", Source: "voice", Stage: "preview", Content: "dictating"}},
			{Advance: "100ms"},
			{SubmitFinal: &SubmitFinalStep{}},
		},
	}

	first, err := Run(sc)
	require.NoError(t, err)
	second, err := Run(sc)
	require.NoError(t, err)

	a, err := BuildSnapshot(first).MarshalIndent()
	require.NoError(t, err)
	b, err := BuildSnapshot(second).MarshalIndent()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_FailsOnEmptyStep(t *testing.T) {
	sc := &Scenario{Name: "broken", Steps: []Step{{}}}

	_, err := Run(sc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "steps[0]")
}

func TestEvaluateAssertions(t *testing.T) {
	sc := &Scenario{
		Name: "asserted",
		Steps: []Step{
			{Ingest: &IngestStep{ID: "ev-1", TurnID: "t1", Source: "user", Stage: "final", Content: "request"}},
			{SubmitFinal: &SubmitFinalStep{TurnID: "t1"}},
			{ApplyPatch: &ApplyPatchStep{PatchID: "p1", Version: 1, Fields: map[string]any{"title": "done", "pages": 3}}},
		},
	}

	result, err := Run(sc)
	require.NoError(t, err)

	passing := []Assertion{
		{Type: "draft_version", Version: 1},
		{Type: "draft_field", Field: "title", Value: "done"},
		{Type: "draft_field", Field: "pages", Value: 3},
		{Type: "turn_status", Turn: "t1", Status: "finalized"},
		{Type: "buffer_count", Buffer: "final", Count: 1},
		{Type: "buffer_count", Buffer: "preview", Count: 0},
		{Type: "event_count", Event: "patch_applied", Count: 1},
		{Type: "active_turn", Turn: ""},
	}
	assert.Empty(t, EvaluateAssertions(result, passing))

	failing := []Assertion{
		{Type: "draft_version", Version: 99},
		{Type: "draft_field", Field: "missing", Value: "x"},
		{Type: "turn_status", Turn: "t1", Status: "open"},
		{Type: "buffer_count", Buffer: "final", Count: 5},
	}
	failures := EvaluateAssertions(result, failing)
	assert.Len(t, failures, 4)
}

func TestRun_StartsAtEpoch(t *testing.T) {
	sc := &Scenario{
		Name: "epoch",
		Steps: []Step{
			{Ingest: &IngestStep{ID: "ev-1", TurnID: "t1", Source: "user", Stage: "preview", Content: "x"}},
		},
	}

	result, err := Run(sc)
	require.NoError(t, err)
	require.Len(t, result.Final.Buffers.Preview, 1)
	assert.Equal(t, testutil.Epoch, result.Final.Buffers.Preview[0].CreatedAt)
}
