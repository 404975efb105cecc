package harness

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunWithGolden executes a scenario over a temp database and compares the
// transcript against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) {
	t.Helper()

	result, err := Run(scenario, filepath.Join(t.TempDir(), "scenario.db"))
	if err != nil {
		t.Fatalf("scenario failed: %v", err)
	}

	transcript, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		t.Fatalf("marshal transcript: %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, transcript)
}
