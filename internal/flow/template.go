package flow

import (
	"fmt"
	"math"

	"github.com/roach88/flowsim/internal/predicate"
)

// Filter restricts a template to instances that can claim a matching
// available entity.
type Filter struct {
	Entity string
	Where  predicate.Predicate
}

// Template is a named behavior with a selection weight and optional
// eligibility filter.
type Template struct {
	Name     string
	Behavior Behavior
	Weight   float64
	Filter   *Filter
}

// Validate checks the template's static fields.
func (t *Template) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("template has no name")
	}
	if t.Behavior == nil {
		return fmt.Errorf("template %s has no behavior", t.Name)
	}
	if !(t.Weight > 0) || math.IsInf(t.Weight, 0) {
		return fmt.Errorf("template %s: weight must be a positive number, got %v", t.Name, t.Weight)
	}
	if t.Filter != nil && t.Filter.Entity == "" {
		return fmt.Errorf("template %s: filter has no entity type", t.Name)
	}
	return nil
}
