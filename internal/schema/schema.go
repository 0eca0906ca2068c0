// Package schema reflects JSON Schemas from Go types and validates raw model
// output against them before it is decoded.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// Reflect builds a strict JSON Schema for T: no additional properties and
// required fields taken from `jsonschema:"required"` tags.
func Reflect[T any]() (map[string]any, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties:  false,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
	}
	var v T
	s := reflector.Reflect(v)

	b, err := s.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	// gojsonschema only knows drafts 4-7 and tool parameter payloads
	// reject meta keys.
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// ValidationError lists every schema violation in a document.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "schema validation: " + strings.Join(e.Problems, "; ")
}

// Validator validates documents against one compiled schema.
type Validator struct {
	raw      map[string]any
	compiled *gojsonschema.Schema
}

func New[T any]() (*Validator, error) {
	raw, err := Reflect[T]()
	if err != nil {
		return nil, err
	}
	return FromMap(raw)
}

// MustNew is for package-level validators built from static types.
func MustNew[T any]() *Validator {
	v, err := New[T]()
	if err != nil {
		panic(err)
	}
	return v
}

func FromMap(raw map[string]any) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{raw: raw, compiled: compiled}, nil
}

// Map returns a deep copy of the schema, safe to hand to a backend as tool
// parameters.
func (v *Validator) Map() map[string]any {
	b, _ := json.Marshal(v.raw)
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	return m
}

// Validate checks doc against the schema. Malformed JSON is reported as an
// error distinct from a *ValidationError.
func (v *Validator) Validate(doc []byte) error {
	result, err := v.compiled.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("parse document: %w", err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return &ValidationError{Problems: problems}
}

// Decode validates doc and then unmarshals it into T.
func Decode[T any](v *Validator, doc []byte) (T, error) {
	var out T
	if err := v.Validate(doc); err != nil {
		return out, err
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		return out, fmt.Errorf("decode document: %w", err)
	}
	return out, nil
}
