package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/domino/internal/compiler"
	"github.com/roach88/domino/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationResult is the compiled program with its hash.
type CompilationResult struct {
	Name    string      `json:"name"`
	Hash    string      `json:"hash"`
	Program *ir.Program `json:"program"`
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	EventCount int
	LuaCount   int
	SubCount   int
	InitCount  int
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program-dir>",
		Short: "Compile a CUE program to JSON",
		Long: `Compile a CUE program directory to its JSON form.

The compiler loads the CUE package, checks it against the program schema,
validates it and prints the compiled program with its hash. Programs with
validation errors are not written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	res, err := compiler.CompileDir(dir)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", res.FileCount, dir)

	if !res.OK() {
		return outputValidationErrors(formatter, res)
	}

	result := CompilationResult{Name: res.Program.Name, Hash: res.Hash, Program: res.Program}
	if opts.Output != "" {
		if err := writeProgramToFile(result, opts.Output); err != nil {
			return formatter.Fail(ExitCommandError, compiler.ErrCodeGeneric, "failed to write output", err)
		}
		formatter.VerboseLog("Wrote %s", opts.Output)
	}
	return outputCompileSuccess(formatter, result, calculateStats(res.Program), opts.Output)
}

func calculateStats(p *ir.Program) CompilationStats {
	stats := CompilationStats{
		EventCount: len(p.Events),
		SubCount:   len(p.Subs),
		InitCount:  len(p.Init),
	}
	for _, spec := range p.Events {
		if spec.Lua != "" {
			stats.LuaCount++
		}
	}
	return stats
}

func outputCompileSuccess(formatter *OutputFormatter, result CompilationResult, stats CompilationStats, outputFile string) error {
	if formatter.JSON() {
		if outputFile != "" {
			return formatter.Success(map[string]string{"name": result.Name, "hash": result.Hash, "output": outputFile})
		}
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ Compiled %q\n", result.Name)
	fmt.Fprintf(w, "  events: %d (%d lua)\n", stats.EventCount, stats.LuaCount)
	fmt.Fprintf(w, "  subs:   %d\n", stats.SubCount)
	fmt.Fprintf(w, "  init:   %d\n", stats.InitCount)
	fmt.Fprintf(w, "  hash:   %s\n", result.Hash)
	if outputFile != "" {
		fmt.Fprintf(w, "  output: %s\n", outputFile)
	}
	return nil
}

// writeProgramToFile writes the compiled program as indented JSON.
func writeProgramToFile(result CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal program: %w", err)
	}
	if err := os.WriteFile(filename, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}
