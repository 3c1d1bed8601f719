package compiler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/domino/internal/ir"
)

// Load error codes.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed
	ErrCodeCompile     = "E007" // Program does not match the schema
)

// LoadError is a failure to turn a directory into a program.
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

// Result is a compiled program directory.
type Result struct {
	Program   *ir.Program
	Hash      string            // ir.ProgramHash of Program
	Errors    []ValidationError // semantic errors; the program must not run if any
	Warnings  []CycleWarning
	FileCount int       // Number of CUE files found
	CUEValue  cue.Value // The raw CUE value for additional processing
}

// OK reports whether the program passed validation.
func (r *Result) OK() bool {
	return len(r.Errors) == 0
}

// CompileDir loads the CUE package in dir, compiles it, validates it and
// runs cycle analysis. A returned error means no program could be built;
// validation problems are reported in Result.Errors instead.
func CompileDir(dir string) (*Result, error) {
	value, files, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}

	p, err := CompileProgram(value)
	if err != nil {
		var ce *CompileError
		if errors.As(err, &ce) {
			return nil, &LoadError{Code: ErrCodeCompile, Message: fmt.Sprintf("%s: %s", ce.Field, ce.Message), Pos: ce.Pos}
		}
		return nil, &LoadError{Code: ErrCodeCompile, Message: err.Error()}
	}

	hash, err := ir.ProgramHash(p)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
	}

	return &Result{
		Program:   p,
		Hash:      hash,
		Errors:    ValidateSource(p, value),
		Warnings:  AnalyzeCycles(p),
		FileCount: files,
		CUEValue:  value,
	}, nil
}

// LoadDir builds the CUE package in dir into a single value.
func LoadDir(dir string) (cue.Value, int, error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program directory not found: %s", dir)}
	}
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing program directory: %v", err)}
	}
	if !info.IsDir() {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	if len(cueFiles) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, 0, &LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		le := &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
		var ce *CompileError
		if errors.As(formatCUEError(err), &ce) {
			le.Pos = ce.Pos
		}
		return cue.Value{}, 0, le
	}
	return value, len(cueFiles), nil
}

// FindCUEFiles returns the .cue files directly in dir.
// CUE packages do not span subdirectories, so the walk does not descend.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != dir {
			return filepath.SkipDir
		}
		if !d.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
