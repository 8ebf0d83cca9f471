package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/jwebster45206/world-engine/internal/world"
	"github.com/jwebster45206/world-engine/pkg/perception"
	"github.com/jwebster45206/world-engine/pkg/storage"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running world-engine API. Worlds are
// seeded and inspected directly through Store, which must point at the API's Redis.
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Store             storage.Storage
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
}

// NewRunner creates a new test runner
func NewRunner(baseURL string, store storage.Storage) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 60 * time.Second},
		Store:             store,
		Timeout:           30 * time.Second,
		Logger:            func(string, ...interface{}) {},
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file. A relative world directory is
// resolved against the file's own directory.
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}
	if suite.World != "" && !filepath.IsAbs(suite.World) {
		suite.World = filepath.Join(filepath.Dir(filename), suite.World)
	}

	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
// Returns a list of actual test suites (expanded from the sequence if needed)
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		casePath := filepath.Join(casesDir, caseFile)

		// Recursively load (in case a sequence references another sequence)
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// LoadWorld reads every asset record in dir
func LoadWorld(dir string) ([]*storage.AssetRecord, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no asset files found in %s", dir)
	}

	records := make([]*storage.AssetRecord, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read asset file %s: %w", path, err)
		}
		var rec storage.AssetRecord
		if err := json.Unmarshal(content, &rec); err != nil {
			return nil, fmt.Errorf("failed to parse asset file %s: %w", path, err)
		}
		records = append(records, &rec)
	}
	return records, nil
}

// RunSuite executes a complete test suite
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results: make([]TestResult, 0, len(suite.Steps)),
	}

	assets, err := r.seedWorld(ctx, suite)
	if err != nil {
		result.Error = fmt.Errorf("failed to seed world: %w", err)
		result.Duration = time.Since(start)
		return result, result.Error
	}
	result.Assets = assets

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.runStep(ctx, suite, step)
		stepResult.TestName = suite.Name
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}

		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

// seedWorld writes the suite's assets and characters, overwriting whatever is stored
func (r *Runner) seedWorld(ctx context.Context, suite TestSuite) ([]string, error) {
	if suite.World == "" {
		return nil, fmt.Errorf("suite %s names no world", suite.Name)
	}
	records, err := LoadWorld(suite.World)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if err := r.Store.PutAsset(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to store asset %s: %w", rec.AssetID, err)
		}
		ids = append(ids, rec.AssetID)
	}
	for i := range suite.Characters {
		if err := r.Store.PutCharacter(ctx, &suite.Characters[i]); err != nil {
			return nil, fmt.Errorf("failed to place character %s: %w", suite.Characters[i].ID, err)
		}
	}

	slices.Sort(ids)
	return ids, nil
}

// runStep executes a single test step and checks expectations
// Will retry once on timeout errors without backoff
func (r *Runner) runStep(ctx context.Context, suite TestSuite, step TestStep) TestResult {
	for attempt := 1; attempt <= 2; attempt++ {
		result := r.executeStep(ctx, suite, step)

		if result.Success || result.Error == nil {
			return result
		}

		// Only async steps wait, so only they can time out
		isTimeout := strings.Contains(result.Error.Error(), "timeout waiting for")
		if isTimeout && attempt == 1 {
			r.Logger("    Timeout detected, retrying step: %s", step.Name)
			continue
		}

		return result
	}

	return TestResult{StepName: step.Name, Error: fmt.Errorf("unexpected error in retry logic")}
}

// executeStep performs the actual step execution
func (r *Runner) executeStep(ctx context.Context, suite TestSuite, step TestStep) TestResult {
	start := time.Now()
	result := TestResult{
		StepName: step.Name,
	}
	fail := func(format string, args ...any) TestResult {
		result.Error = fmt.Errorf(format, args...)
		result.Duration = time.Since(start)
		return result
	}

	if step.Src == ResetWorldSrc {
		if _, err := r.seedWorld(ctx, suite); err != nil {
			return fail("failed to reset world: %w", err)
		}
		if err := r.checkPersisted(ctx, step.Expectations); err != nil {
			return fail("reset expectation failed: %w", err)
		}
		result.Success = true
		result.IsReset = true
		result.Duration = time.Since(start)
		return result
	}

	if step.Async {
		requestID, err := PostActionAsync(ctx, r.Client, r.BaseURL, step.AssetID, step.Src)
		if err != nil {
			return fail("failed to post async action: %w", err)
		}
		result.RequestID = requestID

		if err := PollForState(ctx, r.Store, step.Expectations.State, r.Timeout); err != nil {
			return fail("failed to poll for persisted state: %w", err)
		}
	} else {
		action, err := PostAction(ctx, r.Client, r.BaseURL, step.AssetID, step.Src)
		if err != nil {
			return fail("failed to post action: %w", err)
		}
		result.Recalculated = action.Recalculated
		if err := checkAction(step.Expectations, action); err != nil {
			return fail("expectation failed: %w", err)
		}
	}

	if err := r.checkPersisted(ctx, step.Expectations); err != nil {
		return fail("expectation failed: %w", err)
	}
	for _, room := range step.Expectations.Rooms {
		view, err := GetRoom(ctx, r.Client, r.BaseURL, room.RoomID, room.CharacterID)
		if err != nil {
			return fail("failed to render room %s: %w", room.RoomID, err)
		}
		if err := checkRoom(room, view); err != nil {
			return fail("room %s as %s: %w", room.RoomID, room.CharacterID, err)
		}
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// checkAction validates a synchronous action result
func checkAction(exp Expectations, action *world.ActionResult) error {
	if exp.ErrorContains != "" {
		if !strings.Contains(action.Error, exp.ErrorContains) {
			return fmt.Errorf("expected error containing '%s', got '%s'", exp.ErrorContains, action.Error)
		}
	} else if action.Error != "" {
		return fmt.Errorf("action failed: %s", action.Error)
	}

	if exp.ReturnValue != nil && !sameValue(exp.ReturnValue, action.ReturnValue) {
		return fmt.Errorf("expected return value %v, got %v", exp.ReturnValue, action.ReturnValue)
	}

	for _, qualified := range exp.Recalculated {
		asset, key, ok := strings.Cut(qualified, ".")
		if !ok {
			return fmt.Errorf("recalculated entry '%s' is not asset.key", qualified)
		}
		if !slices.Contains(action.Recalculated[asset], key) {
			return fmt.Errorf("expected %s to be recalculated, got %v", qualified, action.Recalculated)
		}
	}

	if len(action.WriteErrors) > 0 {
		return fmt.Errorf("action reported write errors: %v", action.WriteErrors)
	}
	return nil
}

// checkPersisted validates stored values and map caches
func (r *Runner) checkPersisted(ctx context.Context, exp Expectations) error {
	if err := stateMatches(ctx, r.Store, exp.State); err != nil {
		return err
	}

	for assetID, rooms := range exp.MapVisible {
		rec, err := r.Store.GetAsset(ctx, assetID)
		if err != nil {
			return fmt.Errorf("failed to load asset %s: %w", assetID, err)
		}
		if rec.MapCache == nil {
			return fmt.Errorf("asset %s has no map cache", assetID)
		}
		for roomID, visible := range rooms {
			idx := slices.IndexFunc(rec.MapCache.Rooms, func(m perception.MapRoom) bool { return m.RoomID == roomID })
			if idx < 0 {
				return fmt.Errorf("map cache of %s has no room %s", assetID, roomID)
			}
			if rec.MapCache.Rooms[idx].Visible != visible {
				return fmt.Errorf("expected %s in map cache of %s to have visible=%t", roomID, assetID, visible)
			}
		}
	}
	return nil
}

// stateMatches reports the first expected value that differs from what is stored
func stateMatches(ctx context.Context, store storage.Storage, want map[string]map[string]any) error {
	for assetID, values := range want {
		rec, err := store.GetAsset(ctx, assetID)
		if err != nil {
			return fmt.Errorf("failed to load asset %s: %w", assetID, err)
		}
		for key, expected := range values {
			entry, ok := rec.State[key]
			if !ok {
				return fmt.Errorf("expected %s.%s to exist, but it doesn't", assetID, key)
			}
			if !sameValue(expected, entry.Value) {
				return fmt.Errorf("expected %s.%s to be %v, got %v", assetID, key, expected, entry.Value)
			}
		}
	}
	return nil
}

// checkRoom validates a rendered room
func checkRoom(exp RoomExpectation, view *world.RoomView) error {
	if exp.Name != nil && view.Name != *exp.Name {
		return fmt.Errorf("expected name '%s', got '%s'", *exp.Name, view.Name)
	}

	text := perception.Text(view.Description.Description)
	for _, want := range exp.DescriptionContains {
		if !strings.Contains(text, want) {
			return fmt.Errorf("expected description to contain '%s', got '%s'", want, text)
		}
	}
	for _, unwanted := range exp.DescriptionExcludes {
		if strings.Contains(text, unwanted) {
			return fmt.Errorf("expected description to NOT contain '%s', got '%s'", unwanted, text)
		}
	}

	if exp.Features != nil {
		got := slices.Sorted(slices.Values(view.Features))
		want := slices.Sorted(slices.Values(exp.Features))
		if !slices.Equal(got, want) {
			return fmt.Errorf("expected features %v, got %v", want, got)
		}
	}
	return nil
}

// sameValue compares two JSON-shaped values, ignoring numeric representation
func sameValue(a, b any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
