package scenario

import (
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// runGolden executes a testdata scenario and compares its snapshot against
// the golden file. Regenerate after intentional behavior changes:
//
//	go test ./internal/scenario -run TestGolden -update
func runGolden(t *testing.T, name string) {
	t.Helper()

	sc, err := LoadFile(filepath.Join("testdata", name+".yaml"))
	require.NoError(t, err)

	result, err := Run(sc)
	require.NoError(t, err)
	require.Empty(t, EvaluateAssertions(result, sc.Assertions))

	data, err := BuildSnapshot(result).MarshalIndent()
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

func TestGolden_MinimalTurn(t *testing.T)      { runGolden(t, "minimal_turn") }
func TestGolden_AgentPatchStream(t *testing.T) { runGolden(t, "agent_patch_stream") }
func TestGolden_GapSkip(t *testing.T)          { runGolden(t, "gap_skip") }
func TestGolden_VoiceEchoDedup(t *testing.T)   { runGolden(t, "voice_echo_dedup") }
