package engine

import "time"

// Source identifies the input channel an event arrived on.
type Source string

const (
	SourceUser       Source = "user"
	SourceVoice      Source = "voice"
	SourceAttachment Source = "attachment"
	SourceAgent      Source = "agent"
)

// TurnSource returns the turn attribution for an event source.
// Agent events open agent turns; every human channel opens a user turn.
func (s Source) TurnSource() Source {
	if s == SourceAgent {
		return SourceAgent
	}
	return SourceUser
}

// Stage distinguishes content still being composed (live transcription,
// in-progress typing) from content eligible to finalize into the turn.
type Stage string

const (
	StagePreview Stage = "preview"
	StageFinal   Stage = "final"
)

// Policy controls how many input channels may hold an open turn at once.
type Policy string

const (
	// PolicyConcurrent permits simultaneously open turns across sources.
	PolicyConcurrent Policy = "concurrent"
	// PolicyExclusive keeps exactly one input channel live; ingesting from a
	// different source finalizes the other channel's open turn.
	PolicyExclusive Policy = "exclusive"
)

// TurnStatus is the lifecycle state of a turn.
// The only transition is open -> finalized; id reconciliation may splice a
// turn under a new id but never reverses finalization on its own.
type TurnStatus string

const (
	TurnOpen      TurnStatus = "open"
	TurnFinalized TurnStatus = "finalized"
)

// InputEvent is one normalized unit of input from a producer channel.
type InputEvent struct {
	ID        string            `json:"id"`
	TurnID    string            `json:"turn_id"`
	Source    Source            `json:"source"`
	Stage     Stage             `json:"stage"`
	Content   string            `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Turn groups input events attributed to a single source.
type Turn struct {
	ID          string       `json:"id"`
	Source      Source       `json:"source"`
	Events      []InputEvent `json:"events"`
	Status      TurnStatus   `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Buffers holds the session's event accumulation areas: preview is mutable
// scratch, final is append-only history.
type Buffers struct {
	Preview []InputEvent `json:"preview"`
	Final   []InputEvent `json:"final"`
}

// Draft is the shared document mutated only by successfully applied patches.
// Version increases by exactly one per application.
type Draft struct {
	Version   int64          `json:"version"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Patch is an atomic, idempotent set of field-level edits. ID is the
// idempotency key: a patch id present in the oplog is never reapplied,
// regardless of delivery path.
type Patch struct {
	ID        string         `json:"id"`
	Version   int64          `json:"version"`
	Fields    map[string]any `json:"fields"`
	AppliedAt time.Time      `json:"applied_at"`
}

// Delivery carries the routing metadata for ApplyPatch.
// TurnID scopes the patch to an agent turn (empty means the global queue).
// Seq is honored only when Sequenced is true.
type Delivery struct {
	TurnID    string `json:"turn_id,omitempty"`
	Seq       int64  `json:"seq,omitempty"`
	Sequenced bool   `json:"sequenced,omitempty"`
}

// QueuedPatch is a sequenced patch parked until its slot in the stream opens.
type QueuedPatch struct {
	Seq        int64     `json:"seq"`
	ReceivedAt time.Time `json:"received_at"`
	TurnID     string    `json:"turn_id,omitempty"`
	Patch      Patch     `json:"patch"`
}

// PatchQueue tracks one sequenced stream: the next seq it will accept and
// the out-of-order arrivals buffered ahead of it, sorted ascending by seq.
type PatchQueue struct {
	ExpectedSeq int64         `json:"expected_seq"`
	Buffer      []QueuedPatch `json:"buffer,omitempty"`
}

// RecentFinalInput remembers finalized content (in normalized form) for the
// cross-channel dedup window.
type RecentFinalInput struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// PendingTurn marks an in-flight agent turn together with the snapshot
// needed to roll it back if it never produces a patch.
type PendingTurn struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"started_at"`
	HasAppliedPatch bool      `json:"has_applied_patch"`
	Buffers         Buffers   `json:"buffers"`
	ActiveTurnID    string    `json:"active_turn_id,omitempty"`
}

// State is the root snapshot for one conversation session. Every public
// engine operation observes one consistent State and swaps in its successor;
// callers must treat returned snapshots as read-only.
type State struct {
	Policy            Policy                `json:"policy"`
	Draft             Draft                 `json:"draft"`
	Oplog             []Patch               `json:"oplog"`
	Turns             []Turn                `json:"turns"`
	Buffers           Buffers               `json:"buffers"`
	ActiveTurnID      string                `json:"active_turn_id,omitempty"`
	RecentFinalInputs []RecentFinalInput    `json:"recent_final_inputs,omitempty"`
	PatchQueues       map[string]PatchQueue `json:"patch_queues,omitempty"`
	Pending           *PendingTurn          `json:"pending,omitempty"`
}

// Turn returns the turn with the given id, or nil.
// The pointer aliases the snapshot's backing array; treat it as read-only.
func (s State) Turn(id string) *Turn {
	for i := range s.Turns {
		if s.Turns[i].ID == id {
			return &s.Turns[i]
		}
	}
	return nil
}

// AppliedPatch reports whether a patch id is already present in the oplog.
func (s *State) AppliedPatch(id string) bool {
	for i := range s.Oplog {
		if s.Oplog[i].ID == id {
			return true
		}
	}
	return false
}

// mostRecentOpenTurn returns the open turn with the latest UpdatedAt, or nil.
// Ties go to the later entry, matching insertion order for equal timestamps.
func (s *State) mostRecentOpenTurn() *Turn {
	var best *Turn
	for i := range s.Turns {
		t := &s.Turns[i]
		if t.Status != TurnOpen {
			continue
		}
		if best == nil || !t.UpdatedAt.Before(best.UpdatedAt) {
			best = t
		}
	}
	return best
}
