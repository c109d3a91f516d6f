package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/flowsim/internal/compiler"
	"github.com/roach88/flowsim/internal/config"
	"github.com/roach88/flowsim/internal/engine"
	"github.com/roach88/flowsim/internal/entity"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Files    int               `json:"files"`
	Events   []string          `json:"events,omitempty"`
	Entities []string          `json:"entities,omitempty"`
	Flows    []string          `json:"flows,omitempty"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

// ValidationIssue is one problem found in the definitions.
type ValidationIssue struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <defs-dir>",
		Short: "Check definitions without running a simulation",
		Long: `Compile the CUE definitions and check them the way a run would:
event schemas, entity types, flow templates and the simulation block.
Nothing is emitted.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, defsDir string, cmd *cobra.Command) error {
	f := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	defs, files, err := LoadDefinitions(defsDir)
	if err != nil {
		var loadErr *LoadError
		if !errors.As(err, &loadErr) {
			return f.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
		}
		if loadErr.Code == ErrCodeNotFound || loadErr.Code == ErrCodeNoFiles {
			return f.fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidationErrors(f, files, []ValidationIssue{{
			Code:    loadErr.Code,
			Message: loadErr.Message,
			Line:    loadErr.Line(),
		}})
	}
	f.VerboseLog("Found %d CUE file(s) in %s", files, defsDir)

	if issue := checkEngine(defs); issue != nil {
		return outputValidationErrors(f, files, []ValidationIssue{*issue})
	}

	result := summarize(defs, files)
	if f.JSON() {
		return f.Success(result)
	}
	fmt.Fprintf(f.Writer, "✓ Definitions valid: %d event(s), %d entity type(s), %d flow(s)\n",
		len(result.Events), len(result.Entities), len(result.Flows))
	return nil
}

// checkEngine builds an engine from the definitions without running it, so
// flow templates are checked against the schemas and the simulation block
// against the engine's limits.
func checkEngine(defs *compiler.Definitions) *ValidationIssue {
	loader := config.NewLoader()
	for k, v := range defs.Simulation.Settings() {
		loader.SetDefault(k, v)
	}
	cfg, err := loader.Load()
	if err == nil {
		var ecfg engine.Config
		ecfg, err = cfg.Engine(time.Now)
		if err == nil {
			_, err = engine.New(ecfg, entity.NewStore(), defs.Schemas, defs.Templates)
		}
	}
	if err == nil {
		return nil
	}

	var cfgErr *engine.ConfigError
	if errors.As(err, &cfgErr) {
		return &ValidationIssue{Code: ErrCodeConfig, Field: cfgErr.Field, Message: cfgErr.Message}
	}
	return &ValidationIssue{Code: ErrCodeGeneric, Message: err.Error()}
}

func summarize(defs *compiler.Definitions, files int) ValidationResult {
	result := ValidationResult{Valid: true, Files: files}
	for _, ev := range defs.Schemas.Events() {
		result.Events = append(result.Events, ev.Name)
	}
	for _, et := range defs.Schemas.Entities() {
		result.Entities = append(result.Entities, et.Name)
	}
	for _, t := range defs.Templates {
		result.Flows = append(result.Flows, t.Name)
	}
	return result
}

func outputValidationErrors(f *OutputFormatter, files int, issues []ValidationIssue) error {
	exit := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	if f.JSON() {
		if err := f.Encode(CLIResponse{
			Status: "error",
			Data:   ValidationResult{Files: files, Errors: issues},
			Error:  &CLIError{Code: issues[0].Code, Message: issues[0].Message},
		}); err != nil {
			return err
		}
		return exit
	}

	fmt.Fprintln(f.Writer, "✗ Validation failed")
	fmt.Fprintln(f.Writer)
	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(f.Writer, "line %d\n", issue.Line)
		}
		if issue.Field != "" {
			fmt.Fprintf(f.Writer, "  %s: %s: %s\n\n", issue.Code, issue.Field, issue.Message)
		} else {
			fmt.Fprintf(f.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}
	return exit
}
