package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/recsync/internal/ir"
)

// Snapshot is the canonical JSON of a run: the outcome of each operation
// and the converged records. Keys sort per RFC 8785, so the bytes are
// stable across runs and platforms.
func Snapshot(name string, result *Result) ([]byte, error) {
	outcomes := make(ir.IRArray, len(result.Trace))
	for i, event := range result.Trace {
		outcomes[i] = ir.IRString(event.Outcome)
	}

	recs := make(ir.IRArray, len(result.Records))
	for i, rec := range result.Records {
		recs[i] = ir.IRObject{
			"model":     ir.IRString(rec.Key.Model),
			"record_id": ir.IRString(rec.Key.RecordID.String()),
			"visible":   ir.IRBool(rec.Visible),
			"fields":    rec.Fields,
		}
	}

	return ir.MarshalCanonical(ir.IRObject{
		"name":     ir.IRString(name),
		"orders":   ir.IRInt(result.Orders),
		"outcomes": outcomes,
		"records":  recs,
	})
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	snapshot, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, snapshot)
	return nil
}
