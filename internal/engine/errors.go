package engine

import (
	"errors"
	"fmt"
)

// ConfigError reports a scheduler configuration that cannot run. It is
// returned by New before any tick executes.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// FlowErrorCode categorizes instance failures.
type FlowErrorCode string

const (
	// ErrCodeBehavior: the behavior returned an error or panicked.
	ErrCodeBehavior FlowErrorCode = "BEHAVIOR_ERROR"
	// ErrCodeMaterialize: an Emit could not be turned into an event.
	ErrCodeMaterialize FlowErrorCode = "MATERIALIZE_ERROR"
	// ErrCodeMutate: the store rejected an update the flow requested.
	ErrCodeMutate FlowErrorCode = "MUTATE_ERROR"
	// ErrCodeSaveEntity: an Emit could not register its entity.
	ErrCodeSaveEntity FlowErrorCode = "SAVE_ENTITY_ERROR"
	// ErrCodeStepsExceeded: the instance used up its step quota.
	ErrCodeStepsExceeded FlowErrorCode = "STEPS_EXCEEDED"
)

// FlowError ends one flow instance. The run continues.
type FlowError struct {
	Code     FlowErrorCode
	FlowID   string
	Template string
	Err      error
}

func (e *FlowError) Error() string {
	return fmt.Sprintf("%s: %v (flow=%s, template=%s)", e.Code, e.Err, e.FlowID, e.Template)
}

func (e *FlowError) Unwrap() error { return e.Err }

// StepsExceededError is wrapped by a FlowError when an instance takes more
// steps than the quota allows.
type StepsExceededError struct {
	Steps int
	Limit int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("flow exceeded max steps (%d > %d)", e.Steps, e.Limit)
}

// IsConfigError reports whether err wraps a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsFlowError reports whether err wraps a FlowError.
func IsFlowError(err error) bool {
	var fe *FlowError
	return errors.As(err, &fe)
}

// IsQuotaError reports whether err is a step quota failure.
func IsQuotaError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}

func newFlowError(code FlowErrorCode, inst *Instance, err error) *FlowError {
	return &FlowError{Code: code, FlowID: inst.ID, Template: inst.Template.Name, Err: err}
}
