// Package compiler turns a directory of CUE files into an ir.Program.
//
// Compilation has three stages:
//   - CompileProgram unifies the value with the embedded #Program schema
//     and converts it; structural errors carry CUE positions.
//   - Validate applies semantic rules (op operands, interceptor names,
//     event references, Lua syntax) and collects every error.
//   - AnalyzeCycles finds static dispatch cycles and reports them as
//     warnings.
//
// CompileDir runs all three.
package compiler
