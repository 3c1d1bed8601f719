package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/domino/internal/compiler"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Program  string                     `json:"program,omitempty"`
	Hash     string                     `json:"hash,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []compiler.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <program-dir>",
		Short: "Validate a program without running it",
		Long: `Validate a CUE program directory.

Checks the program against the schema, validates handler ops, Lua sources,
interceptors and static effects, and reports dispatch cycles. Cycles are
warnings and do not fail validation.

Exit codes:
  0 - Program is valid
  1 - Validation errors
  2 - Program could not be loaded`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	res, err := compiler.CompileDir(dir)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", res.FileCount, dir)

	if !res.OK() {
		return outputValidationErrors(formatter, res)
	}
	return outputValidateSuccess(formatter, res)
}

// outputLoadError reports a program that could not be built (exit code 2).
func outputLoadError(formatter *OutputFormatter, err error) error {
	code := compiler.ErrCodeGeneric
	var le *compiler.LoadError
	if errors.As(err, &le) {
		code = le.Code
	}
	_ = formatter.Error(code, err.Error(), nil)
	return WrapExitError(ExitCommandError, code, err)
}

func outputValidateSuccess(formatter *OutputFormatter, res *compiler.Result) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{
			Valid:    true,
			Program:  res.Program.Name,
			Hash:     res.Hash,
			Warnings: res.Warnings,
		})
	}

	printCycleWarnings(formatter, res.Warnings)
	fmt.Fprintf(formatter.Writer, "✓ Program %q valid\n", res.Program.Name)
	formatter.VerboseLog("hash %s", res.Hash)
	return nil
}

// outputValidationErrors outputs every validation error.
func outputValidationErrors(formatter *OutputFormatter, res *compiler.Result) error {
	errs := res.Errors
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		err := formatter.Respond(CLIResponse{
			Status: "error",
			Data: ValidationResult{
				Valid:    false,
				Program:  res.Program.Name,
				Errors:   errs,
				Warnings: res.Warnings,
			},
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		})
		if err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	printCycleWarnings(formatter, res.Warnings)
	return exitErr
}

func printCycleWarnings(formatter *OutputFormatter, warnings []compiler.CycleWarning) {
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "! %s: %s\n", w.Level, w.Message)
	}
}
