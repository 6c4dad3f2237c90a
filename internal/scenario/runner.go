package scenario

import (
	"fmt"
	"time"

	"github.com/inkwell-app/draftsync/internal/engine"
	"github.com/inkwell-app/draftsync/internal/idgen"
	"github.com/inkwell-app/draftsync/internal/telemetry"
	"github.com/inkwell-app/draftsync/internal/testutil"
)

// Result holds the outcome of one scenario execution.
type Result struct {
	Scenario  string
	Final     engine.State
	Telemetry []telemetry.Event
}

// Run executes the scenario against a fresh engine.
//
// The engine runs under a manual clock starting at testutil.Epoch and a
// sequential id generator, so two runs of the same scenario produce
// identical snapshots — that determinism is what the golden tests pin.
func Run(sc *Scenario) (*Result, error) {
	clock := testutil.NewManualClock()
	sink := &telemetry.MemorySink{}

	eng := engine.New(
		engine.WithClock(clock),
		engine.WithSink(sink),
		engine.WithIDs(idgen.NewSequential("gen")),
	)

	if sc.Policy != "" {
		eng.SetPolicy(engine.Policy(sc.Policy), clock.Now())
	}

	for i, step := range sc.Steps {
		if err := runStep(eng, clock, step); err != nil {
			return nil, fmt.Errorf("scenario %s: steps[%d]: %w", sc.Name, i, err)
		}
	}

	return &Result{
		Scenario:  sc.Name,
		Final:     eng.State(),
		Telemetry: sink.Events(),
	}, nil
}

func runStep(eng *engine.Engine, clock *testutil.ManualClock, step Step) error {
	switch {
	case step.Ingest != nil:
		eng.IngestInput(engine.InputEvent{
			ID:       step.Ingest.ID,
			TurnID:   step.Ingest.TurnID,
			Source:   engine.Source(step.Ingest.Source),
			Stage:    engine.Stage(step.Ingest.Stage),
			Content:  step.Ingest.Content,
			Metadata: step.Ingest.Meta,
		})

	case step.SubmitFinal != nil:
		eng.SubmitFinalInput(step.SubmitFinal.TurnID, clock.Now())

	case step.BeginAgentTurn != nil:
		eng.BeginAgentTurn(step.BeginAgentTurn.TurnID)

	case step.ApplyPatch != nil:
		s := step.ApplyPatch
		d := engine.Delivery{TurnID: s.TurnID}
		if s.Seq != nil {
			d.Seq = *s.Seq
			d.Sequenced = true
		}
		eng.ApplyPatch(engine.Patch{
			ID:        s.PatchID,
			Version:   s.Version,
			Fields:    s.Fields,
			AppliedAt: clock.Now(),
		}, d)

	case step.CompleteAgentTurn != nil:
		eng.CompleteAgentTurn(step.CompleteAgentTurn.TurnID, clock.Now())

	case step.ReconcileTurn != nil:
		eng.ReconcileAgentTurnID(step.ReconcileTurn.PreviousID, step.ReconcileTurn.NextID, clock.Now())

	case step.SetPolicy != nil:
		eng.SetPolicy(engine.Policy(step.SetPolicy.Policy), clock.Now())

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("invalid advance duration %q: %w", step.Advance, err)
		}
		clock.Advance(d)

	default:
		return fmt.Errorf("empty step")
	}
	return nil
}
