package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// Scenario is one seeded store, a flow of operations and assertions on the
// final state.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Seed maps collection names to documents. A document's _id becomes its
	// identity.
	Seed map[string][]map[string]any `yaml:"seed,omitempty"`

	// Generator configures the fake content generator. Without it,
	// operations needing a generator fail.
	Generator *GeneratorSpec `yaml:"generator,omitempty"`

	Flow       []FlowStep  `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// GeneratorSpec scripts the fake generator.
type GeneratorSpec struct {
	// Batches are returned by successive batch calls, then empty batches.
	Batches [][]string `yaml:"batches,omitempty"`
	// Items are known to single lookups by name.
	Items []string `yaml:"items,omitempty"`
}

// FlowStep runs one operation.
type FlowStep struct {
	Op     string         `yaml:"op"`
	Args   map[string]any `yaml:"args,omitempty"`
	Expect *ExpectClause  `yaml:"expect,omitempty"`
}

// ExpectClause checks a step's outcome. Without one the step must succeed.
type ExpectClause struct {
	// Error is the expected error class (bad_request, not_found,
	// unavailable, failure). Empty means success.
	Error string `yaml:"error,omitempty"`
	// Result is matched as a subset of the step's JSON report. Array
	// elements are addressed by index keys.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion checks the final store state.
type Assertion struct {
	Type       string         `yaml:"type"`
	Collection string         `yaml:"collection"`
	ID         string         `yaml:"id,omitempty"`
	IDs        []string       `yaml:"ids,omitempty"`
	Count      int            `yaml:"count,omitempty"`
	Expect     map[string]any `yaml:"expect,omitempty"`
}

// Operation names.
const (
	OpBackup      = "backup"
	OpRestore     = "restore"
	OpScan        = "scan"
	OpDuplicates  = "duplicates"
	OpNormalize   = "normalize"
	OpReconcile   = "reconcile"
	OpRepairLinks = "repair_links"
	OpStatus      = "status"
)

// Assertion types.
const (
	AssertCount    = "count"    // collection holds Count documents
	AssertIDs      = "ids"      // collection holds exactly IDs
	AssertDocument = "document" // document ID exists and matches Expect
	AssertAbsent   = "absent"   // document ID does not exist
)

var (
	validOps        = []string{OpBackup, OpRestore, OpScan, OpDuplicates, OpNormalize, OpReconcile, OpRepairLinks, OpStatus}
	validAssertions = []string{AssertCount, AssertIDs, AssertDocument, AssertAbsent}
	validClasses    = []string{"", "bad_request", "not_found", "unavailable", "failure"}
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

// Validate checks required fields and names.
func (s *Scenario) Validate() error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, errors.New("scenario name is required"))
	}
	if len(s.Flow) == 0 {
		errs = append(errs, errors.New("flow must have at least one step"))
	}
	for i, step := range s.Flow {
		if !slices.Contains(validOps, step.Op) {
			errs = append(errs, fmt.Errorf("flow[%d]: unknown op %q", i, step.Op))
		}
		if step.Expect != nil && !slices.Contains(validClasses, step.Expect.Error) {
			errs = append(errs, fmt.Errorf("flow[%d]: unknown error class %q", i, step.Expect.Error))
		}
	}
	for i, a := range s.Assertions {
		if !slices.Contains(validAssertions, a.Type) {
			errs = append(errs, fmt.Errorf("assertions[%d]: unknown type %q", i, a.Type))
			continue
		}
		if a.Collection == "" {
			errs = append(errs, fmt.Errorf("assertions[%d]: collection is required", i))
		}
		if (a.Type == AssertDocument || a.Type == AssertAbsent) && a.ID == "" {
			errs = append(errs, fmt.Errorf("assertions[%d]: id is required for %s", i, a.Type))
		}
	}
	return errors.Join(errs...)
}
