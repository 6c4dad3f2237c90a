// Package schema compiles document templates written in CUE and validates a
// draft's field map against them. The sync engine itself never validates
// fields — templates are a downstream collaborator used by the CLI and by
// embedding applications to check a finished draft.
//
// A template is a CUE file of the form:
//
//	name: "project-brief"
//	fields: {
//		title:    string & !=""
//		summary?: string
//		budget?:  int & >=0
//	}
//
// Fields without a "?" are required; a draft missing them fails validation.
package schema

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// Template is a compiled document template.
type Template struct {
	Name   string
	fields cue.Value
}

// Violation describes one field that failed validation.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// Compile parses CUE source into a Template.
func Compile(src string) (*Template, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src)
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile template: %s", cueerrors.Details(err, nil))
	}

	fields := v.LookupPath(cue.ParsePath("fields"))
	if !fields.Exists() {
		return nil, fmt.Errorf("compile template: missing required \"fields\" struct")
	}
	if fields.IncompleteKind() != cue.StructKind {
		return nil, fmt.Errorf("compile template: \"fields\" must be a struct, got %v", fields.IncompleteKind())
	}

	t := &Template{fields: fields}
	nameVal := v.LookupPath(cue.ParsePath("name"))
	if nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, fmt.Errorf("compile template: name must be a string: %w", err)
		}
		t.Name = name
	}
	return t, nil
}

// CompileFile reads and compiles a template file.
func CompileFile(path string) (*Template, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}
	return Compile(string(src))
}

// Validate checks a draft field map against the template.
// Returns all violations found; an empty slice means the draft conforms.
// Unknown draft fields are violations — templates are closed.
func (t *Template) Validate(draftFields map[string]any) []Violation {
	var violations []Violation

	ctx := t.fields.Context()

	// Required fields must be present.
	iter, err := t.fields.Fields(cue.Optional(true))
	if err != nil {
		return []Violation{{Field: "fields", Message: fmt.Sprintf("iterate template: %v", err)}}
	}
	known := make(map[string]cue.Value)
	for iter.Next() {
		name := iter.Selector().Unquoted()
		known[name] = iter.Value()
		if iter.IsOptional() {
			continue
		}
		if _, ok := draftFields[name]; !ok {
			violations = append(violations, Violation{
				Field:   name,
				Message: "required field is missing",
			})
		}
	}

	// Present fields must satisfy their constraints.
	for name, value := range draftFields {
		constraint, ok := known[name]
		if !ok {
			violations = append(violations, Violation{
				Field:   name,
				Message: "field is not declared by the template",
			})
			continue
		}
		unified := constraint.Unify(ctx.Encode(value))
		if err := unified.Validate(cue.Concrete(true)); err != nil {
			violations = append(violations, Violation{
				Field:   name,
				Message: cueerrors.Details(err, nil),
			})
		}
	}

	return violations
}
