package game

import (
	"errors"
	"strings"
	"time"
)

// LogKind distinguishes who produced a log entry.
type LogKind string

const (
	// LogKindPlayer marks a raw player action, logged verbatim.
	LogKindPlayer LogKind = "player"
	// LogKindNarrative marks generator-produced narrative text.
	LogKindNarrative LogKind = "narrative"
	// LogKindSystem marks engine-produced entries (opening scene, conclusion).
	LogKindSystem LogKind = "system"
)

var (
	// ErrEmptySessionID indicates a missing session ID.
	ErrEmptySessionID = errors.New("session id is required")
	// ErrEmptyMemberID indicates a missing member ID.
	ErrEmptyMemberID = errors.New("member id is required")
)

// LogEntry is one immutable line of a session's append-only log.
// Seq is assigned per session, starting at 1, and never reused.
type LogEntry struct {
	ID        string    `json:"id"`
	Seq       int64     `json:"seq"`
	Kind      LogKind   `json:"kind"`
	MemberID  string    `json:"member_id,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// PlotPoint is a discrete narrative milestone. Required plot points gate
// session conclusion.
type PlotPoint struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// Condition kinds supported by the conclusion evaluator.
const (
	CondStateKeyEquals   = "state_key_equals"
	CondStateKeyExists   = "state_key_exists"
	CondStateKeyContains = "state_key_contains"
	CondLocationVisited  = "location_visited"
)

// VisitedLocationsKey is the state key consulted by location_visited
// conditions. It must hold a list of location names.
const VisitedLocationsKey = "visited_locations"

// Condition is a typed predicate over session state used to decide
// completion. An empty Kind marks a malformed condition.
type Condition struct {
	Kind     string `json:"kind"`
	Key      string `json:"key,omitempty"`
	Value    any    `json:"value,omitempty"`
	Location string `json:"location,omitempty"`
}

// KnownConditionKind reports whether kind is one of the supported
// predicate kinds.
func KnownConditionKind(kind string) bool {
	switch kind {
	case CondStateKeyEquals, CondStateKeyExists, CondStateKeyContains, CondLocationVisited:
		return true
	}
	return false
}

// CampaignDefinition is the immutable narrative blueprint a session is
// created from. It is produced once, before the session exists, and is
// consumed read-only by the turn pipeline.
type CampaignDefinition struct {
	Name                 string         `json:"name"`
	Description          string         `json:"description,omitempty"`
	OpeningScene         string         `json:"opening_scene"`
	OpeningActions       []string       `json:"opening_actions"`
	InitialState         map[string]any `json:"initial_state"`
	PlotPoints           []PlotPoint    `json:"plot_points"`
	ConclusionConditions []Condition    `json:"conclusion_conditions"`
}

// StateSchema returns the set of state keys a session created from this
// campaign may hold. Generator deltas referencing other keys are dropped.
func (c CampaignDefinition) StateSchema() map[string]struct{} {
	schema := make(map[string]struct{}, len(c.InitialState))
	for key := range c.InitialState {
		schema[key] = struct{}{}
	}
	return schema
}

// NextRequiredPlotPoint returns the first required plot point, in declared
// order, whose description is not yet completed. Returns false when every
// required plot point is satisfied.
func NextRequiredPlotPoint(points []PlotPoint, completed []string) (PlotPoint, bool) {
	done := make(map[string]struct{}, len(completed))
	for _, description := range completed {
		done[description] = struct{}{}
	}
	for _, point := range points {
		if !point.Required {
			continue
		}
		if _, ok := done[point.Description]; !ok {
			return point, true
		}
	}
	return PlotPoint{}, false
}

// Session is the authoritative representation of one active multiplayer
// narrative instance. The session cache is its single owner; no other
// component mutates State, Log, Version, or CompletedPlotPoints.
type Session struct {
	ID                  string             `json:"id"`
	OwnerID             string             `json:"owner_id"`
	Campaign            CampaignDefinition `json:"campaign"`
	State               map[string]any     `json:"state"`
	Version             int64              `json:"version"`
	Log                 []LogEntry         `json:"log"`
	AvailableActions    []string           `json:"available_actions"`
	TurnsSinceProgress  int                `json:"turns_since_progress"`
	CompletedPlotPoints []string           `json:"completed_plot_points"`
	Started             bool               `json:"started"`
	Concluded           bool               `json:"concluded"`
	CreatedAt           time.Time          `json:"created_at"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// LastSeq returns the highest log sequence number, or 0 for an empty log.
// The log is append-only and ordered, so this is the final entry's Seq.
func (s *Session) LastSeq() int64 {
	if len(s.Log) == 0 {
		return 0
	}
	return s.Log[len(s.Log)-1].Seq
}

// HasCompleted reports whether a plot point description is already in the
// completed set.
func (s *Session) HasCompleted(description string) bool {
	for _, done := range s.CompletedPlotPoints {
		if done == description {
			return true
		}
	}
	return false
}

// Snapshot is a read-only copy of session state handed to callers. Mutating
// a snapshot never affects the cache.
type Snapshot struct {
	SessionID          string         `json:"session_id"`
	Version            int64          `json:"version"`
	State              map[string]any `json:"state"`
	Log                []LogEntry     `json:"log"`
	AvailableActions   []string       `json:"available_actions"`
	TurnsSinceProgress int            `json:"turns_since_progress"`
	Started            bool           `json:"started"`
	Concluded          bool           `json:"concluded"`
}

// TokenUsage carries raw token counts from one generator call. The engine
// only surfaces them; accounting is an external collaborator's job.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// NormalizeID trims an identifier and reports whether anything remains.
func NormalizeID(id string) (string, bool) {
	id = strings.TrimSpace(id)
	return id, id != ""
}
