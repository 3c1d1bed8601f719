package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// checkLua parses src and reports whether it defines a global handle
// function at the top level. Returns the parse error line when known.
func checkLua(name, src string) (int, error) {
	chunk, err := parse.Parse(strings.NewReader(src), name)
	if err != nil {
		var perr *parse.Error
		if errors.As(err, &perr) {
			return perr.Pos.Line, fmt.Errorf("syntax error: %s", strings.TrimSpace(perr.Message))
		}
		return 0, fmt.Errorf("syntax error: %s", strings.TrimSpace(err.Error()))
	}
	for _, stmt := range chunk {
		if definesHandle(stmt) {
			return 0, nil
		}
	}
	return 0, errors.New("script must define a global function handle")
}

func definesHandle(stmt ast.Stmt) bool {
	switch s := stmt.(type) {
	case *ast.FuncDefStmt:
		if s.Name == nil || s.Name.Func == nil {
			return false
		}
		id, ok := s.Name.Func.(*ast.IdentExpr)
		return ok && id.Value == "handle"
	case *ast.AssignStmt:
		for i, lhs := range s.Lhs {
			id, ok := lhs.(*ast.IdentExpr)
			if !ok || id.Value != "handle" || i >= len(s.Rhs) {
				continue
			}
			if _, ok := s.Rhs[i].(*ast.FunctionExpr); ok {
				return true
			}
		}
	}
	return false
}
