package runner

import (
	"time"

	"github.com/jwebster45206/world-engine/pkg/state"
	"github.com/jwebster45206/world-engine/pkg/storage"
)

// Special src values that trigger non-action steps
const (
	ResetWorldSrc = "RESET_WORLD"
)

// TestSuite defines a complete integration test scenario
// Can either be a regular test with Steps, or a suite that references other Cases
type TestSuite struct {
	Name       string              `json:"name"`
	World      string              `json:"world,omitempty"`      // asset directory, relative to the suite file
	Characters []storage.Character `json:"characters,omitempty"` // placed in play before the first step
	Steps      []TestStep          `json:"steps,omitempty"`
	Cases      []string            `json:"cases,omitempty"` // Used for suite tests (list of case files)
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep defines a single action and its expected outcomes
// Use src: "RESET_WORLD" to reseed the world from disk
type TestStep struct {
	Name         string       `json:"name,omitempty"`
	AssetID      string       `json:"asset_id,omitempty"`
	Src          string       `json:"src"`
	Async        bool         `json:"async,omitempty"`
	Expectations Expectations `json:"expect"`
}

// Expectations defines what to check after a test step executes
type Expectations struct {
	// Action result, sync steps only
	ReturnValue   any      `json:"return_value,omitempty"`
	ErrorContains string   `json:"error_contains,omitempty"`
	Recalculated  []string `json:"recalculated,omitempty"` // "asset.key" entries that must appear

	// Persisted values, keyed by asset then key
	State map[string]map[string]any `json:"state,omitempty"`

	// Persisted map caches, keyed by asset then room
	MapVisible map[string]map[string]bool `json:"map_visible,omitempty"`

	// Rendered rooms
	Rooms []RoomExpectation `json:"rooms,omitempty"`
}

// RoomExpectation checks one room as one character sees it
type RoomExpectation struct {
	RoomID              string   `json:"room_id"`
	CharacterID         string   `json:"character_id"`
	Name                *string  `json:"name,omitempty"`
	DescriptionContains []string `json:"description_contains,omitempty"`
	DescriptionExcludes []string `json:"description_excludes,omitempty"`
	Features            []string `json:"features,omitempty"` // exact set, order independent
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName     string
	StepName     string
	Success      bool
	Error        error
	Duration     time.Duration
	RequestID    string
	Recalculated state.ChangeSet // sync steps only
	IsReset      bool            // True if this was a RESET_WORLD step (should not count toward pass/fail metrics)
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job      TestJob
	Results  []TestResult
	Error    error
	Duration time.Duration
	Assets   []string // ids of the assets seeded for this run
}
