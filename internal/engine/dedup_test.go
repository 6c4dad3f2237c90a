package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-app/draftsync/internal/telemetry"
)

// The race this window exists for: a voice transcript finalizes an utterance,
// then the user's typed echo of the same text arrives on another channel
// moments later.
func TestDedup_TypedEchoOfVoiceFinal(t *testing.T) {
	e, clock, sink := newTestEngine(t)

	e.IngestInput(InputEvent{ID: "ev-voice", TurnID: "t-voice", Source: SourceVoice, Stage: StageFinal, Content: "Build a dashboard"})

	clock.Advance(200 * time.Millisecond)
	e.IngestInput(userEvent("ev-typed", "t-typed", "build a dashboard", StagePreview))
	e.SubmitFinalInput("t-typed", time.Time{})

	state := e.State()
	require.Len(t, state.Buffers.Final, 1)
	assert.Equal(t, "ev-voice", state.Buffers.Final[0].ID)
	assert.Equal(t, TurnFinalized, state.Turn("t-typed").Status)
	assert.Equal(t, 1, sink.Count(telemetry.CounterInputDeduped))
}

func TestDedup_EchoWithinSameTurn(t *testing.T) {
	e, _, sink := newTestEngine(t)

	e.IngestInput(userEvent("ev-final", "x", "Build a dashboard", StageFinal))
	e.IngestInput(userEvent("ev-echo", "x", "build a dashboard", StagePreview))
	e.SubmitFinalInput("x", time.Time{})

	state := e.State()
	require.Len(t, state.Buffers.Final, 1)
	assert.Equal(t, "ev-final", state.Buffers.Final[0].ID)
	assert.Empty(t, state.Buffers.Preview)
	assert.Equal(t, 1, sink.Count(telemetry.CounterInputDeduped))
}

func TestDedup_WindowExpires(t *testing.T) {
	e, clock, sink := newTestEngine(t)

	e.IngestInput(InputEvent{ID: "ev-voice", TurnID: "t-voice", Source: SourceVoice, Stage: StageFinal, Content: "build a dashboard"})

	clock.Advance(DefaultDedupWindow + time.Millisecond)
	e.IngestInput(userEvent("ev-typed", "t-typed", "build a dashboard", StagePreview))
	e.SubmitFinalInput("t-typed", time.Time{})

	state := e.State()
	assert.Len(t, state.Buffers.Final, 2)
	assert.Equal(t, 0, sink.Count(telemetry.CounterInputDeduped))
}

func TestDedup_DifferentContentSurvives(t *testing.T) {
	e, _, sink := newTestEngine(t)

	e.IngestInput(InputEvent{ID: "ev-voice", TurnID: "t-voice", Source: SourceVoice, Stage: StageFinal, Content: "build a dashboard"})
	e.IngestInput(userEvent("ev-typed", "t-typed", "also add charts", StagePreview))
	e.SubmitFinalInput("t-typed", time.Time{})

	state := e.State()
	assert.Len(t, state.Buffers.Final, 2)
	assert.Equal(t, 0, sink.Count(telemetry.CounterInputDeduped))
}

func TestDedup_MatchesOnNormalizedForm(t *testing.T) {
	e, _, sink := newTestEngine(t)

	e.IngestInput(InputEvent{ID: "ev-voice", TurnID: "t-voice", Source: SourceVoice, Stage: StageFinal, Content: "Build   a\tdashboard"})
	e.IngestInput(userEvent("ev-typed", "t-typed", "  build a dashboard ", StagePreview))
	e.SubmitFinalInput("t-typed", time.Time{})

	assert.Equal(t, 1, sink.Count(telemetry.CounterInputDeduped))
}

func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"surrounding whitespace", "  hello world \n", "hello world"},
		{"internal runs collapse", "hello \t\n  world", "hello world"},
		{"case folds", "Build A Dashboard", "build a dashboard"},
		{"empty", "   \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeContent(tt.in))
		})
	}

	// Composed and decomposed Unicode normalize to the same form.
	assert.Equal(t, normalizeContent("café"), normalizeContent("café"))
}
