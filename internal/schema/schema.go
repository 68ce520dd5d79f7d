// Package schema infers JSON schemas from Go types and validates decoded
// tool arguments against them.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/jsonschema-go/jsonschema"
	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// ValidationError reports the first argument that did not satisfy the schema.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Infer derives an object schema from T. Struct fields follow their json tags;
// `jsonschema:"..."` tags become descriptions.
func Infer[T any]() (map[string]any, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		return nil, fmt.Errorf("infer schema: %w", err)
	}
	return ToMap(s)
}

// ToMap converts any schema value (typed or raw) into its generic JSON form.
func ToMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	return out, nil
}

var (
	compileSeq atomic.Int64
	printer    = message.NewPrinter(language.English)
)

// Validator checks argument objects against a compiled schema.
type Validator struct {
	schema *sjsonschema.Schema
}

// Compile prepares a validator for the given schema map. A nil or empty schema
// accepts every object.
func Compile(schema map[string]any) (*Validator, error) {
	if len(schema) == 0 {
		return &Validator{}, nil
	}

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	url := fmt.Sprintf("mem://schema/%d.json", compileSeq.Add(1))
	c := sjsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	return &Validator{schema: compiled}, nil
}

// Validate checks args. Violations are returned as *ValidationError.
func (v *Validator) Validate(args map[string]any) error {
	if v == nil || v.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}

	err := v.schema.Validate(args)
	if err == nil {
		return nil
	}

	var ve *sjsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Message: err.Error()}
	}

	leaf := deepest(ve)
	field := strings.Join(leaf.InstanceLocation, ".")
	if req, ok := leaf.ErrorKind.(*kind.Required); ok && len(req.Missing) > 0 {
		field = strings.Join(append(append([]string(nil), leaf.InstanceLocation...), req.Missing[0]), ".")
	}

	return &ValidationError{
		Field:   field,
		Message: leaf.ErrorKind.LocalizedString(printer),
	}
}

// Validate compiles schema and checks args in one step.
func Validate(args map[string]any, schema map[string]any) error {
	v, err := Compile(schema)
	if err != nil {
		return err
	}
	return v.Validate(args)
}

func deepest(e *sjsonschema.ValidationError) *sjsonschema.ValidationError {
	for len(e.Causes) > 0 {
		e = e.Causes[0]
	}
	return e
}

