package compiler

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
)

//go:embed schema.cue
var schemaCUE string

// programSchema compiles the #Program definition in ctx.
// Values must share a context to be unified, so it is built per context.
func programSchema(ctx *cue.Context) (cue.Value, error) {
	v := ctx.CompileString(schemaCUE, cue.Filename("domino/schema.cue"))
	if err := v.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile program schema: %w", err)
	}
	return v.LookupPath(cue.ParsePath("#Program")), nil
}
