package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/pulse/internal/fingerprint"
)

// GoldenDir is where golden traces live, relative to the test's package.
const GoldenDir = "testdata/golden"

// TraceSnapshot captures the deterministic trace of a scenario run.
type TraceSnapshot struct {
	ScenarioName string      `json:"scenario_name"`
	Trace        []StepTrace `json:"trace"`
}

// Snapshot returns the canonical JSON of result's trace. Identical runs
// produce identical bytes.
func Snapshot(scenarioName string, result *Result) ([]byte, error) {
	return fingerprint.Marshal(TraceSnapshot{
		ScenarioName: scenarioName,
		Trace:        result.Trace,
	})
}

// RunWithGolden executes a scenario and compares its trace against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result's trace against a golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := Snapshot(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)
	return nil
}

// GoldenMismatchError reports a trace that differs from its golden file.
type GoldenMismatchError struct {
	Path     string
	Expected []byte
	Actual   []byte
}

func (e *GoldenMismatchError) Error() string {
	return fmt.Sprintf("trace differs from %s\n  expected: %s\n  actual:   %s", e.Path, e.Expected, e.Actual)
}

// CompareGolden checks data against dir/name.golden outside of `go test`.
// With update set, the file is (re)written instead. A missing golden file is
// an error unless updating.
func CompareGolden(dir, name string, data []byte, update bool) error {
	path := filepath.Join(dir, name+".golden")
	if update {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create golden dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return &GoldenMismatchError{Path: path, Expected: want, Actual: data}
	}
	return nil
}
