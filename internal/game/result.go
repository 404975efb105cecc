package game

// TurnStatus is the terminal outcome of one turn through the resolution
// pipeline.
type TurnStatus string

const (
	// TurnValidationRejected means a local precondition failed. The raw
	// action was still logged; the version did not advance.
	TurnValidationRejected TurnStatus = "validation_rejected"
	// TurnGenerationFailed means the narrative generator timed out, errored,
	// or returned a malformed response. The raw action was still logged.
	TurnGenerationFailed TurnStatus = "generation_failed"
	// TurnCommitFailed means the durable write failed and the in-memory
	// state was rolled back to its pre-turn value.
	TurnCommitFailed TurnStatus = "commit_failed"
	// TurnUpdated means the turn committed and the version advanced by one.
	TurnUpdated TurnStatus = "updated"
	// TurnConcluded means the turn committed and the session reached its
	// end state. The session is read-only from here on.
	TurnConcluded TurnStatus = "concluded"
)

// TurnResult is what the pipeline hands back to the caller for broadcast.
// A caller observing Version N may assume every member eventually observes
// a broadcast for version N or higher, never lower.
type TurnResult struct {
	Status           TurnStatus     `json:"status"`
	Message          string         `json:"message,omitempty"`
	Version          int64          `json:"version"`
	State            map[string]any `json:"state,omitempty"`
	Log              []LogEntry     `json:"log,omitempty"`
	AvailableActions []string       `json:"available_actions,omitempty"`
	Summary          string         `json:"summary,omitempty"`
	Usage            TokenUsage     `json:"usage,omitempty"`
}

// Committed reports whether this result advanced the session version.
func (r TurnResult) Committed() bool {
	return r.Status == TurnUpdated || r.Status == TurnConcluded
}
