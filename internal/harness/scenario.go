package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/flowsim/internal/compiler"
)

// Scenario is a simulation run with assertions over its outcome.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definitions is the directory of CUE definitions to compile. Relative
	// paths resolve against the scenario file's directory.
	Definitions string `yaml:"definitions"`

	// Simulation overrides the definitions' simulation block.
	Simulation Overrides `yaml:"simulation,omitempty"`

	// Assertions are checked against the finished run.
	Assertions []Assertion `yaml:"assertions"`

	// Path is the file the scenario was loaded from.
	Path string `yaml:"-"`
}

// Overrides are simulation settings a scenario pins.
type Overrides struct {
	Start       string  `yaml:"start,omitempty"`
	Duration    string  `yaml:"duration,omitempty"`
	Tick        string  `yaml:"tick,omitempty"`
	Concurrency *int    `yaml:"concurrency,omitempty"`
	Seed        *uint64 `yaml:"seed,omitempty"`
	MaxSteps    *int    `yaml:"max_steps,omitempty"`
}

// Settings returns the set overrides keyed by config key.
func (o Overrides) Settings() map[string]any {
	return compiler.Simulation{
		Start:       o.Start,
		Duration:    o.Duration,
		Tick:        o.Tick,
		Concurrency: o.Concurrency,
		Seed:        o.Seed,
		MaxSteps:    o.MaxSteps,
	}.Settings()
}

// Assertion checks one property of a finished run.
type Assertion struct {
	// Type is one of event_count, entity_state, version_count,
	// termination_count.
	Type string `yaml:"type"`

	// Event filters event_count to one event type. Empty counts all events.
	Event string `yaml:"event,omitempty"`

	// Entity names the entity type (entity_state, version_count).
	Entity string `yaml:"entity,omitempty"`

	// ID selects one entity. Otherwise Where selects by field equality.
	ID    string         `yaml:"id,omitempty"`
	Where map[string]any `yaml:"where,omitempty"`

	// At evaluates entity_state at a simulated time instead of the final
	// state. RFC 3339 or an offset from the run start such as "5m".
	At string `yaml:"at,omitempty"`

	// Expect lists field values the selected entity must hold (subset match).
	Expect map[string]any `yaml:"expect,omitempty"`

	// Status is a termination status name (termination_count).
	Status string `yaml:"status,omitempty"`

	// Count is an exact expected count; Min and Max bound it instead.
	Count *int `yaml:"count,omitempty"`
	Min   *int `yaml:"min,omitempty"`
	Max   *int `yaml:"max,omitempty"`
}

// Assertion type constants.
const (
	AssertEventCount       = "event_count"
	AssertEntityState      = "entity_state"
	AssertVersionCount     = "version_count"
	AssertTerminationCount = "termination_count"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	scenario.Path = path

	if scenario.Definitions != "" && !filepath.IsAbs(scenario.Definitions) {
		scenario.Definitions = filepath.Join(filepath.Dir(path), scenario.Definitions)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Definitions == "" {
		return fmt.Errorf("definitions is required")
	}
	if _, err := os.Stat(s.Definitions); os.IsNotExist(err) {
		return fmt.Errorf("definitions not found: %s", s.Definitions)
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertEventCount:
	case AssertEntityState:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for entity_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for entity_state", index)
		}
		if a.ID != "" && len(a.Where) > 0 {
			return fmt.Errorf("assertions[%d]: use id or where, not both", index)
		}
		return nil
	case AssertVersionCount:
		if a.Entity == "" {
			return fmt.Errorf("assertions[%d]: entity is required for version_count", index)
		}
	case AssertTerminationCount:
		if a.Status == "" {
			return fmt.Errorf("assertions[%d]: status is required for termination_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count == nil && a.Min == nil && a.Max == nil {
		return fmt.Errorf("assertions[%d]: %s needs count, min or max", index, a.Type)
	}
	for _, n := range []*int{a.Count, a.Min, a.Max} {
		if n != nil && *n < 0 {
			return fmt.Errorf("assertions[%d]: counts must be non-negative", index)
		}
	}
	return nil
}
