package config

import (
	_ "embed"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaCUE string

// checkSchema validates a decoded document against #Config.
func checkSchema(doc any) []ValidationError {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		// The schema is embedded; a compile failure is a build defect.
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}

	v := ctx.Encode(doc)
	if err := v.Err(); err != nil {
		return schemaErrors(err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return schemaErrors(err)
	}
	return nil
}

// schemaErrors flattens a CUE error into one ValidationError per problem.
func schemaErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		out = append(out, ValidationError{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
			Code:    ErrSchema,
		})
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Field: "config", Message: err.Error(), Code: ErrSchema})
	}
	return out
}
