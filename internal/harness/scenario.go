package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/recsync/internal/clock"
	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/op"
)

// Scenario is a conformance test case loaded from YAML.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Schemas lists CUE model directories registered on top of the
	// built-in record types. Relative paths resolve against the scenario
	// file.
	Schemas []string `yaml:"schemas,omitempty"`

	// Records maps aliases to record ids.
	Records map[string]string `yaml:"records,omitempty"`

	Operations []Step      `yaml:"operations"`
	Assertions []Assertion `yaml:"assertions"`

	// Shuffles is the number of seeded random orders checked on top of
	// the reverse order and, for short scenarios, every permutation.
	Shuffles int   `yaml:"shuffles,omitempty"`
	Seed     int64 `yaml:"seed,omitempty"`
}

// Step is one stamped operation.
type Step struct {
	Type   string         `yaml:"type"`
	Node   string         `yaml:"node"`
	At     uint64         `yaml:"at"`
	Model  string         `yaml:"model"`
	Record string         `yaml:"record"`
	Data   map[string]any `yaml:"data,omitempty"`
	Field  string         `yaml:"field,omitempty"`
	Value  any            `yaml:"value,omitempty"`

	// Reject marks an operation the registry must refuse.
	Reject bool `yaml:"reject,omitempty"`
}

// Assertion types.
const (
	AssertRecord = "record"
	AssertFields = "fields"
	AssertAbsent = "absent"
	AssertCount  = "count"
)

// Assertion is a check on the converged records.
type Assertion struct {
	Type   string         `yaml:"type"`
	Model  string         `yaml:"model"`
	Record string         `yaml:"record,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
	Count  int            `yaml:"count,omitempty"`
}

// LoadScenario reads and validates a scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i, dir := range s.Schemas {
		if !filepath.IsAbs(dir) {
			s.Schemas[i] = filepath.Join(base, dir)
		}
	}
	return s, nil
}

// ParseScenario decodes a scenario, rejecting unknown keys.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Operations) == 0 {
		return fmt.Errorf("operations list is required and must be non-empty")
	}
	if s.Shuffles < 0 {
		return fmt.Errorf("shuffles must not be negative")
	}

	for i, step := range s.Operations {
		if !op.Kind(step.Type).Valid() {
			return fmt.Errorf("operations[%d]: unknown type %q", i, step.Type)
		}
		if step.Node == "" {
			return fmt.Errorf("operations[%d]: node is required", i)
		}
		if step.At == 0 {
			return fmt.Errorf("operations[%d]: at is required", i)
		}
		if _, err := s.resolve(step.Record); err != nil {
			return fmt.Errorf("operations[%d]: %w", i, err)
		}
	}

	for i, a := range s.Assertions {
		if err := s.validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scenario) validateAssertion(index int, a Assertion) error {
	if a.Model == "" {
		return fmt.Errorf("assertions[%d]: model is required", index)
	}
	switch a.Type {
	case AssertRecord, AssertFields:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
		fallthrough
	case AssertAbsent:
		if _, err := s.resolve(a.Record); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertCount:
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// resolve maps an alias or a literal UUID to a record id.
func (s *Scenario) resolve(name string) (op.RecordID, error) {
	if name == "" {
		return op.RecordID{}, fmt.Errorf("record is required")
	}
	if id, ok := s.Records[name]; ok {
		name = id
	}
	id, err := op.ParseRecordID(name)
	if err != nil {
		return op.RecordID{}, fmt.Errorf("record %q: %w", name, err)
	}
	return id, nil
}

// Build returns the scenario's operations in declared order. Values are
// converted but not validated; validation is the registry's job.
func (s *Scenario) Build() ([]op.Operation, error) {
	ops := make([]op.Operation, 0, len(s.Operations))
	for i, step := range s.Operations {
		o, err := s.buildStep(step)
		if err != nil {
			return nil, fmt.Errorf("operations[%d]: %w", i, err)
		}
		ops = append(ops, o)
	}
	return ops, nil
}

func (s *Scenario) buildStep(step Step) (op.Operation, error) {
	id, err := s.resolve(step.Record)
	if err != nil {
		return op.Operation{}, err
	}
	stamp := clock.Stamp{Time: clock.Timestamp(step.At), Node: clock.NodeID(step.Node)}

	var o op.Operation
	switch op.Kind(step.Type) {
	case op.KindCreate:
		data := ir.IRObject{}
		if step.Data != nil {
			v, err := ir.FromGo(step.Data)
			if err != nil {
				return op.Operation{}, fmt.Errorf("data: %w", err)
			}
			data = v.(ir.IRObject)
		}
		o = op.NewCreate(id, step.Model, data)
	case op.KindUpdate:
		v, err := ir.FromGo(step.Value)
		if err != nil {
			return op.Operation{}, fmt.Errorf("value: %w", err)
		}
		o = op.NewUpdate(id, step.Model, step.Field, v)
	default:
		o = op.NewDelete(id, step.Model)
	}
	return o.WithStamp(stamp), nil
}
