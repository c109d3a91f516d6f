package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/flowsim/internal/compiler"
)

// Error code constants, unified across all CLI commands.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // Scenario or config load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeWriteFailed = "E007" // File write error

	// Definition errors
	ErrCodeInvalidEvent  = "E101" // Event schema
	ErrCodeInvalidEntity = "E102" // Entity type
	ErrCodeInvalidFlow   = "E110" // Flow template
	ErrCodeInvalidWeight = "E111" // Flow weight
	ErrCodeInvalidFilter = "E112" // Flow filter
	ErrCodeInvalidStep   = "E113" // Flow step

	// Run errors
	ErrCodeConfig  = "E120" // Simulation configuration
	ErrCodeOutput  = "E121" // Output sink
	ErrCodeRun     = "E122" // Simulation aborted
	ErrCodeHistory = "E130" // History database
	ErrCodeQuery   = "E131" // History query
)

// LoadError is a definitions load failure with its CLI error code.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Line returns the source line of the error, or 0.
func (e *LoadError) Line() int {
	if e.Pos.IsValid() {
		return e.Pos.Line()
	}
	return 0
}

// LoadDefinitions compiles the CUE package in dir. It returns the number of
// .cue files read; failures are *LoadError.
func LoadDefinitions(dir string) (*compiler.Definitions, int, error) {
	defs, files, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, files, convertLoadError(dir, err)
	}
	return defs, files, nil
}

func convertLoadError(dir string, err error) *LoadError {
	var compileErr *compiler.CompileError
	switch {
	case errors.As(err, &compileErr):
		return &LoadError{
			Code:    MapFieldToErrorCode(compileErr.Field),
			Message: fmt.Sprintf("%s: %s", compileErr.Field, compileErr.Message),
			Pos:     compileErr.Pos,
		}
	case errors.Is(err, fs.ErrNotExist):
		return &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("definitions directory not found: %s", dir)}
	case errors.Is(err, compiler.ErrNotDirectory):
		return &LoadError{Code: ErrCodeNotFound, Message: err.Error()}
	case errors.Is(err, compiler.ErrNoCUEFiles):
		return &LoadError{Code: ErrCodeNoFiles, Message: err.Error()}
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}

// MapFieldToErrorCode maps a compiler error field to an error code.
func MapFieldToErrorCode(field string) string {
	head, rest, _ := strings.Cut(field, ".")
	switch head {
	case "cue":
		return ErrCodeBuildFailed
	case "event":
		return ErrCodeInvalidEvent
	case "entity":
		return ErrCodeInvalidEntity
	case "simulation":
		return ErrCodeConfig
	case "flow":
		switch {
		case strings.Contains(rest, ".steps"):
			return ErrCodeInvalidStep
		case strings.Contains(rest, ".filter"):
			return ErrCodeInvalidFilter
		case strings.HasSuffix(rest, ".weight"):
			return ErrCodeInvalidWeight
		}
		return ErrCodeInvalidFlow
	}
	return ErrCodeGeneric
}
