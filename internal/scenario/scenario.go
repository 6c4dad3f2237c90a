// Package scenario runs YAML-scripted sessions against the sync engine.
//
// A scenario drives the engine's operations step by step under a manual
// clock, then checks assertions on the final snapshot and emitted telemetry.
// Scenarios back the conformance tests (with goldie golden snapshots) and
// the draftsync run/validate commands.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario defines one scripted session.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description,omitempty"`

	// Policy is the starting exclusivity policy. Defaults to concurrent.
	Policy string `yaml:"policy,omitempty"`

	// Steps is the scripted operation sequence.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state and telemetry.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step holds exactly one operation. The zero fields stay nil.
type Step struct {
	Ingest            *IngestStep            `yaml:"ingest,omitempty"`
	SubmitFinal       *SubmitFinalStep       `yaml:"submit_final,omitempty"`
	BeginAgentTurn    *BeginAgentTurnStep    `yaml:"begin_agent_turn,omitempty"`
	ApplyPatch        *ApplyPatchStep        `yaml:"apply_patch,omitempty"`
	CompleteAgentTurn *CompleteAgentTurnStep `yaml:"complete_agent_turn,omitempty"`
	ReconcileTurn     *ReconcileTurnStep     `yaml:"reconcile_turn,omitempty"`
	SetPolicy         *SetPolicyStep         `yaml:"set_policy,omitempty"`

	// Advance moves the manual clock forward, e.g. "250ms" or "1s".
	Advance string `yaml:"advance,omitempty"`
}

// IngestStep records one input event.
type IngestStep struct {
	ID      string            `yaml:"id,omitempty"`
	TurnID  string            `yaml:"turn_id"`
	Source  string            `yaml:"source"`
	Stage   string            `yaml:"stage"`
	Content string            `yaml:"content"`
	Meta    map[string]string `yaml:"meta,omitempty"`
}

// SubmitFinalStep finalizes a turn. An empty turn id targets the most
// recently updated open turn.
type SubmitFinalStep struct {
	TurnID string `yaml:"turn_id,omitempty"`
}

// BeginAgentTurnStep opens an agent turn.
type BeginAgentTurnStep struct {
	TurnID string `yaml:"turn_id,omitempty"`
}

// ApplyPatchStep delivers a document patch.
type ApplyPatchStep struct {
	PatchID string         `yaml:"patch_id"`
	Version int64          `yaml:"version,omitempty"`
	Fields  map[string]any `yaml:"fields"`
	TurnID  string         `yaml:"turn_id,omitempty"`
	Seq     *int64         `yaml:"seq,omitempty"`
}

// CompleteAgentTurnStep finalizes an agent turn.
type CompleteAgentTurnStep struct {
	TurnID string `yaml:"turn_id"`
}

// ReconcileTurnStep renames a turn from a provisional to a canonical id.
type ReconcileTurnStep struct {
	PreviousID string `yaml:"previous_id"`
	NextID     string `yaml:"next_id"`
}

// SetPolicyStep switches the exclusivity policy.
type SetPolicyStep struct {
	Policy string `yaml:"policy"`
}

// Assertion validates the final state or telemetry.
type Assertion struct {
	// Type is one of: draft_field, draft_version, turn_status,
	// buffer_count, event_count, active_turn.
	Type string `yaml:"type"`

	// Field and Value are used by draft_field.
	Field string `yaml:"field,omitempty"`
	Value any    `yaml:"value,omitempty"`

	// Version is used by draft_version.
	Version int64 `yaml:"version,omitempty"`

	// Turn and Status are used by turn_status and active_turn.
	Turn   string `yaml:"turn,omitempty"`
	Status string `yaml:"status,omitempty"`

	// Buffer ("preview" or "final") and Count are used by buffer_count.
	Buffer string `yaml:"buffer,omitempty"`
	Count  int    `yaml:"count"`

	// Event is the telemetry event name for event_count.
	Event string `yaml:"event,omitempty"`
}

// Load parses a scenario from YAML bytes. Unknown fields are rejected.
func Load(data []byte) (*Scenario, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// LoadFile reads and parses a scenario file.
func LoadFile(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	sc, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Validate checks structural invariants: a name, exactly one operation per
// step, parseable durations, and recognized assertion types.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	for i, step := range sc.Steps {
		n := 0
		if step.Ingest != nil {
			n++
		}
		if step.SubmitFinal != nil {
			n++
		}
		if step.BeginAgentTurn != nil {
			n++
		}
		if step.ApplyPatch != nil {
			n++
		}
		if step.CompleteAgentTurn != nil {
			n++
		}
		if step.ReconcileTurn != nil {
			n++
		}
		if step.SetPolicy != nil {
			n++
		}
		if step.Advance != "" {
			if _, err := time.ParseDuration(step.Advance); err != nil {
				return fmt.Errorf("steps[%d]: invalid advance duration %q: %w", i, step.Advance, err)
			}
			n++
		}
		if n != 1 {
			return fmt.Errorf("steps[%d]: exactly one operation per step, got %d", i, n)
		}
	}
	for i, a := range sc.Assertions {
		switch a.Type {
		case "draft_field", "draft_version", "turn_status", "buffer_count", "event_count", "active_turn":
		default:
			return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
		}
	}
	return nil
}
