// Package cueval is the shared CUE-based schema validator used by
// pkg/dispatch (action input/output schemas) and pkg/providerregistry
// (plugin config schemas). Both concerns need the same thing: validate an
// arbitrary JSON value against a schema supplied at runtime by a plugin or
// handler registration, not a schema known at compile time — exactly the
// job cuelang.org/go is built for.
package cueval

import (
	"encoding/json"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Validator compiles and checks arbitrary data against CUE schema text.
type Validator struct {
	ctx *cue.Context
}

// New constructs a Validator with a fresh CUE context.
func New() *Validator {
	return &Validator{ctx: cuecontext.New()}
}

// Schema is a compiled CUE constraint, ready for repeated validation.
type Schema struct {
	value cue.Value
}

// Compile parses schema text (a CUE expression, typically a struct
// literal with field constraints) into a reusable Schema.
func (v *Validator) Compile(schemaText string) (Schema, error) {
	val := v.ctx.CompileString(schemaText)
	if err := val.Err(); err != nil {
		return Schema{}, fmt.Errorf("cueval: compile schema: %w", err)
	}
	return Schema{value: val}, nil
}

// Validate checks data (anything JSON-marshalable, including
// json.RawMessage) against schema. A zero-value Schema (IsZero) always
// passes — callers treat "no schema declared" as "no constraint".
func (v *Validator) Validate(schema Schema, data interface{}) error {
	if schema.IsZero() {
		return nil
	}

	raw, ok := data.(json.RawMessage)
	if !ok {
		b, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("cueval: encode data: %w", err)
		}
		raw = b
	}
	if len(raw) == 0 {
		raw = []byte("null")
	}

	dataVal := v.ctx.CompileBytes(raw)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("cueval: parse data: %w", err)
	}

	unified := schema.value.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("cueval: validation failed: %w", err)
	}
	return nil
}

// IsZero reports whether s carries no compiled constraint.
func (s Schema) IsZero() bool {
	return !s.value.Exists()
}
