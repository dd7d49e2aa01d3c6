package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/register"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Index    int
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "assertions[%d] failed: %s\n", e.Index, e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion of s against the converged
// records and returns a message per failure.
func EvaluateAssertions(s *Scenario, result *Result) []string {
	var errors []string
	for i, a := range s.Assertions {
		if err := evaluate(s, result, i, a); err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func evaluate(s *Scenario, result *Result, index int, a Assertion) error {
	if a.Type == AssertCount {
		return assertCount(result, index, a)
	}

	id, err := s.resolve(a.Record)
	if err != nil {
		return fmt.Errorf("assertions[%d]: %w", index, err)
	}
	key := register.Key{Model: a.Model, RecordID: id}
	rec, known := result.Find(key)

	var expect ir.IRObject
	if a.Expect != nil {
		v, err := ir.FromGo(a.Expect)
		if err != nil {
			return fmt.Errorf("assertions[%d]: expect: %w", index, err)
		}
		expect = v.(ir.IRObject)
	}

	fail := func(expected, actual string) error {
		return &AssertionError{Index: index, Type: a.Type, Expected: expected, Actual: actual}
	}

	switch a.Type {
	case AssertRecord:
		want := fmt.Sprintf("%s visible with %s", key, ir.MustMarshalCanonical(expect))
		if !known || !rec.Visible {
			return fail(want, describe(key, rec, known))
		}
		if !ir.Equal(rec.Fields, expect) {
			return fail(want, describe(key, rec, known))
		}
	case AssertFields:
		want := fmt.Sprintf("%s with fields including %s", key, ir.MustMarshalCanonical(expect))
		if !known {
			return fail(want, describe(key, rec, known))
		}
		for _, name := range expect.SortedKeys() {
			got, ok := rec.Fields[name]
			if !ok || !ir.Equal(got, expect[name]) {
				return fail(want, describe(key, rec, known))
			}
		}
	case AssertAbsent:
		if known && rec.Visible {
			return fail(fmt.Sprintf("%s not visible", key), describe(key, rec, known))
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func assertCount(result *Result, index int, a Assertion) error {
	n := 0
	for _, rec := range result.Records {
		if rec.Key.Model == a.Model && rec.Visible {
			n++
		}
	}
	if n != a.Count {
		return &AssertionError{
			Index:    index,
			Type:     a.Type,
			Expected: fmt.Sprintf("%d visible %s records", a.Count, a.Model),
			Actual:   fmt.Sprintf("%d visible %s records", n, a.Model),
		}
	}
	return nil
}

func describe(key register.Key, rec RecordState, known bool) string {
	switch {
	case !known:
		return fmt.Sprintf("%s never written", key)
	case !rec.Visible:
		return fmt.Sprintf("%s deleted with %s", key, ir.MustMarshalCanonical(rec.Fields))
	default:
		return fmt.Sprintf("%s visible with %s", key, ir.MustMarshalCanonical(rec.Fields))
	}
}
