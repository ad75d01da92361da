package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/grimoire/internal/doc"
)

// StateJSON renders the scenario name and final state as canonical JSON.
func StateJSON(name string, result *Result) ([]byte, error) {
	state := make(doc.Object, len(result.State))
	for coll, docs := range result.State {
		arr := make(doc.Array, len(docs))
		for i, d := range docs {
			arr[i] = d
		}
		state[coll] = arr
	}
	return doc.MarshalCanonical(doc.NewObject(
		doc.O("scenario", doc.String(name)),
		doc.O("state", state),
	))
}

// RunWithGolden runs the scenario, fails t for every failed expectation
// and compares the final state with testdata/golden/{name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}

	data, err := StateJSON(scenario.Name, result)
	if err != nil {
		t.Fatalf("scenario %s: %v", scenario.Name, err)
	}
	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, data)
	return result
}
