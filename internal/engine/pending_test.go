package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-app/draftsync/internal/telemetry"
)

func TestBeginAgentTurn_CreatesAgentTurn(t *testing.T) {
	e, _, _ := newTestEngine(t)

	id := e.BeginAgentTurn("t-agent")
	assert.Equal(t, "t-agent", id)

	state := e.State()
	turn := state.Turn("t-agent")
	require.NotNil(t, turn)
	assert.Equal(t, SourceAgent, turn.Source)
	assert.Equal(t, TurnOpen, turn.Status)
	assert.Equal(t, "t-agent", state.ActiveTurnID)
	require.NotNil(t, state.Pending)
	assert.Equal(t, "t-agent", state.Pending.ID)
	assert.False(t, state.Pending.HasAppliedPatch)
}

func TestBeginAgentTurn_GeneratesID(t *testing.T) {
	e, _, _ := newTestEngine(t)

	id := e.BeginAgentTurn("")
	assert.Equal(t, "gen-1", id)
	assert.NotNil(t, e.State().Turn("gen-1"))
}

func TestBeginAgentTurn_ReopensFinalizedTurn(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.BeginAgentTurn("t-agent")
	e.CompleteAgentTurn("t-agent", time.Time{})
	require.Equal(t, TurnFinalized, e.State().Turn("t-agent").Status)

	e.BeginAgentTurn("t-agent")

	turn := e.State().Turn("t-agent")
	assert.Equal(t, TurnOpen, turn.Status)
	assert.Nil(t, turn.CompletedAt)
}

func TestCompleteAgentTurn_RollsBackWhenNoPatchLanded(t *testing.T) {
	e, _, sink := newTestEngine(t)

	e.IngestInput(userEvent("ev-1", "t-user", "the request", StageFinal))
	before := e.State()

	e.BeginAgentTurn("t-agent")
	e.CompleteAgentTurn("t-agent", time.Time{})

	after := e.State()
	// The buffers and active turn reference are byte-identical to the
	// pre-turn snapshot.
	assert.Equal(t, before.Buffers, after.Buffers)
	assert.Equal(t, before.ActiveTurnID, after.ActiveTurnID)
	assert.Nil(t, after.Pending)
	assert.Equal(t, 1, sink.Count(telemetry.CounterTurnRolledBack))

	// The turn record itself stays, finalized.
	assert.Equal(t, TurnFinalized, after.Turn("t-agent").Status)
}

func TestCompleteAgentTurn_NoRollbackWhenPatchApplied(t *testing.T) {
	e, _, sink := newTestEngine(t)

	e.BeginAgentTurn("t-agent")
	e.ApplyPatch(fieldsPatch("p1", 0, map[string]any{"title": "written"}), seqDelivery("t-agent", 0))
	e.CompleteAgentTurn("t-agent", time.Time{})

	state := e.State()
	assert.Equal(t, int64(1), state.Draft.Version)
	assert.Nil(t, state.Pending)
	assert.Empty(t, state.ActiveTurnID)
	assert.Equal(t, 0, sink.Count(telemetry.CounterTurnRolledBack))
	assert.Equal(t, TurnFinalized, state.Turn("t-agent").Status)
}

func TestCompleteAgentTurn_UnknownTurnIsNoOp(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.IngestInput(userEvent("ev-1", "t1", "text", StagePreview))
	before := e.State()

	e.CompleteAgentTurn("never-begun", time.Time{})

	assert.Equal(t, before, e.State())
}

func TestCompleteAgentTurn_LaterBeginReplacesPending(t *testing.T) {
	e, _, sink := newTestEngine(t)

	e.BeginAgentTurn("t-a")
	e.BeginAgentTurn("t-b")

	// t-a's pending marker was superseded; completing it finalizes the
	// turn but triggers no rollback.
	e.CompleteAgentTurn("t-a", time.Time{})

	state := e.State()
	assert.Equal(t, TurnFinalized, state.Turn("t-a").Status)
	require.NotNil(t, state.Pending)
	assert.Equal(t, "t-b", state.Pending.ID)
	assert.Equal(t, 0, sink.Count(telemetry.CounterTurnRolledBack))
}

func TestReconcileAgentTurnID_RenamesEverywhere(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.BeginAgentTurn("provisional")
	e.IngestInput(InputEvent{ID: "ev-1", TurnID: "provisional", Source: SourceAgent, Stage: StagePreview, Content: "thinking"})
	e.ApplyPatch(fieldsPatch("p5", 0, map[string]any{"a": "1"}), seqDelivery("provisional", 5))

	e.ReconcileAgentTurnID("provisional", "canonical", time.Time{})

	state := e.State()
	assert.Nil(t, state.Turn("provisional"))
	turn := state.Turn("canonical")
	require.NotNil(t, turn)
	require.Len(t, turn.Events, 1)
	assert.Equal(t, "canonical", turn.Events[0].TurnID)

	require.Len(t, state.Buffers.Preview, 1)
	assert.Equal(t, "canonical", state.Buffers.Preview[0].TurnID)

	_, hadOld := state.PatchQueues["provisional"]
	assert.False(t, hadOld)
	q, hasNew := state.PatchQueues["canonical"]
	require.True(t, hasNew)
	require.Len(t, q.Buffer, 1)
	assert.Equal(t, "canonical", q.Buffer[0].TurnID)

	assert.Equal(t, "canonical", state.ActiveTurnID)
	require.NotNil(t, state.Pending)
	assert.Equal(t, "canonical", state.Pending.ID)
}

func TestReconcileAgentTurnID_QueueResumesUnderNewID(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.BeginAgentTurn("provisional")
	e.ApplyPatch(fieldsPatch("p1", 0, map[string]any{"step": "1"}), seqDelivery("provisional", 1))

	e.ReconcileAgentTurnID("provisional", "canonical", time.Time{})

	// seq 0 arrives addressed to the new id and unblocks the buffered seq 1.
	e.ApplyPatch(fieldsPatch("p0", 0, map[string]any{"step": "0"}), seqDelivery("canonical", 0))

	draft := e.Draft()
	assert.Equal(t, int64(2), draft.Version)
	assert.Equal(t, "1", draft.Fields["step"])
}

func TestReconcileAgentTurnID_UnknownPreviousCreatesFreshTurn(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.ReconcileAgentTurnID("never-seen", "canonical", time.Time{})

	turn := e.State().Turn("canonical")
	require.NotNil(t, turn)
	assert.Equal(t, SourceAgent, turn.Source)
	assert.Equal(t, TurnOpen, turn.Status)
}

func TestReconcileAgentTurnID_CollisionLeavesStateUntouched(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.BeginAgentTurn("t-a")
	e.BeginAgentTurn("t-b")
	before := e.State()

	e.ReconcileAgentTurnID("t-a", "t-b", time.Time{})

	assert.Equal(t, before, e.State())
}

func TestReconcileAgentTurnID_EmptyOrSameIDIsNoOp(t *testing.T) {
	e, _, _ := newTestEngine(t)

	e.BeginAgentTurn("t-a")
	before := e.State()

	e.ReconcileAgentTurnID("t-a", "", time.Time{})
	e.ReconcileAgentTurnID("t-a", "t-a", time.Time{})

	assert.Equal(t, before, e.State())
}
