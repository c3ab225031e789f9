// Package schema declares the structured shapes exchanged between pipeline stages and
// validates engine answers against them before they become typed values.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

type Type string

const (
	TypeObject  Type = "object"
	TypeString  Type = "string"
	TypeArray   Type = "array"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
)

// Schema is the subset of JSON Schema every engine adapter can express.
type Schema struct {
	Type        Type               `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Required    []string           `json:"required,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Nullable    bool               `json:"nullable,omitempty"`
	MinItems    int                `json:"minItems,omitempty"`
}

// ValidationError is a single mismatch between a value and a schema.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errors joins validation errors into one error value; nil when empty.
type Errors []ValidationError

func (es Errors) Error() string {
	parts := make([]string, 0, len(es))
	for _, e := range es {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

func (es Errors) Err() error {
	if len(es) == 0 {
		return nil
	}
	return es
}

// Validate checks a decoded JSON value (as produced by encoding/json into any)
// against s. Unknown object properties are rejected.
func Validate(s *Schema, v any) Errors {
	var errs Errors
	validate(s, v, "$", &errs)
	return errs
}

func validate(s *Schema, v any, path string, errs *Errors) {
	if v == nil {
		if !s.Nullable {
			*errs = append(*errs, ValidationError{Field: path, Message: "is required"})
		}
		return
	}
	switch s.Type {
	case TypeObject:
		obj, ok := v.(map[string]any)
		if !ok {
			*errs = append(*errs, ValidationError{Field: path, Message: "must be an object"})
			return
		}
		for _, name := range s.Required {
			if _, ok := obj[name]; !ok {
				*errs = append(*errs, ValidationError{Field: path + "." + name, Message: "is required"})
			}
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			prop, ok := s.Properties[k]
			if !ok {
				*errs = append(*errs, ValidationError{Field: path + "." + k, Message: "is not a declared property"})
				continue
			}
			validate(prop, obj[k], path+"."+k, errs)
		}
	case TypeString:
		str, ok := v.(string)
		if !ok {
			*errs = append(*errs, ValidationError{Field: path, Message: "must be a string"})
			return
		}
		if len(s.Enum) > 0 && !contains(s.Enum, str) {
			*errs = append(*errs, ValidationError{Field: path, Message: fmt.Sprintf("must be one of %s", strings.Join(s.Enum, ", "))})
		}
	case TypeArray:
		arr, ok := v.([]any)
		if !ok {
			*errs = append(*errs, ValidationError{Field: path, Message: "must be an array"})
			return
		}
		if len(arr) < s.MinItems {
			*errs = append(*errs, ValidationError{Field: path, Message: fmt.Sprintf("must have at least %d item(s)", s.MinItems)})
		}
		if s.Items != nil {
			for i, item := range arr {
				validate(s.Items, item, fmt.Sprintf("%s[%d]", path, i), errs)
			}
		}
	case TypeNumber:
		if _, ok := v.(float64); !ok {
			*errs = append(*errs, ValidationError{Field: path, Message: "must be a number"})
		}
	case TypeInteger:
		f, ok := v.(float64)
		if !ok || f != float64(int64(f)) {
			*errs = append(*errs, ValidationError{Field: path, Message: "must be an integer"})
		}
	case TypeBoolean:
		if _, ok := v.(bool); !ok {
			*errs = append(*errs, ValidationError{Field: path, Message: "must be a boolean"})
		}
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// Variant is one named alternative of a closed output set.
type Variant struct {
	Name        string
	Description string
	Schema      *Schema
}

// Set is the closed list of shapes an engine may answer with.
type Set []Variant

// KindField is the discriminator property of an envelope.
const KindField = "kind"

func (set Set) Names() []string {
	out := make([]string, 0, len(set))
	for _, v := range set {
		out = append(out, v.Name)
	}
	return out
}

func (set Set) lookup(name string) (Variant, bool) {
	for _, v := range set {
		if v.Name == name {
			return v, true
		}
	}
	return Variant{}, false
}

// Envelope encodes the set as one object schema: a required "kind" enum naming the
// chosen variant plus one optional property per variant carrying its payload.
func (set Set) Envelope() *Schema {
	props := map[string]*Schema{
		KindField: {Type: TypeString, Enum: set.Names(), Description: "Which of the alternative outputs this answer is."},
	}
	for _, v := range set {
		s := *v.Schema
		s.Description = v.Description
		s.Nullable = true
		props[v.Name] = &s
	}
	return &Schema{Type: TypeObject, Properties: props, Required: []string{KindField}}
}

// Decode picks the variant an answer holds and validates its payload. Accepted forms:
// the envelope ({"kind": "x", "x": {...}}), and a bare payload that validates against
// exactly one variant.
func (set Set) Decode(data []byte) (string, json.RawMessage, error) {
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return "", nil, fmt.Errorf("decode answer: %w", err)
	}
	obj, ok := generic.(map[string]any)
	if !ok {
		return "", nil, Errors{{Field: "$", Message: "must be an object"}}
	}

	if kind, ok := obj[KindField].(string); ok {
		v, found := set.lookup(kind)
		if !found {
			return "", nil, Errors{{Field: "$." + KindField, Message: fmt.Sprintf("must be one of %s", strings.Join(set.Names(), ", "))}}
		}
		for _, other := range set {
			if other.Name != kind && obj[other.Name] != nil {
				return "", nil, Errors{{Field: "$." + other.Name, Message: fmt.Sprintf("must be empty when kind is %q", kind)}}
			}
		}
		payload, present := obj[kind]
		if !present || payload == nil {
			return "", nil, Errors{{Field: "$." + kind, Message: "is required"}}
		}
		if errs := Validate(v.Schema, payload); len(errs) > 0 {
			return "", nil, errs
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return "", nil, err
		}
		return kind, raw, nil
	}

	var matched []string
	var firstErrs Errors
	for _, v := range set {
		errs := Validate(v.Schema, obj)
		if len(errs) == 0 {
			matched = append(matched, v.Name)
		} else if firstErrs == nil {
			firstErrs = errs
		}
	}
	switch len(matched) {
	case 1:
		return matched[0], json.RawMessage(data), nil
	case 0:
		return "", nil, firstErrs
	default:
		return "", nil, Errors{{Field: "$", Message: fmt.Sprintf("matches more than one output shape (%s)", strings.Join(matched, ", "))}}
	}
}

// JSONSchema renders s as a plain JSON Schema document, for engines that take one.
func (s *Schema) JSONSchema() map[string]any {
	out := map[string]any{}
	typ := string(s.Type)
	if s.Nullable {
		out["type"] = []string{typ, "null"}
	} else {
		out["type"] = typ
	}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = s.Items.JSONSchema()
	}
	if s.MinItems > 0 {
		out["minItems"] = s.MinItems
	}
	if s.Type == TypeObject {
		props := map[string]any{}
		for name, p := range s.Properties {
			props[name] = p.JSONSchema()
		}
		out["properties"] = props
		out["additionalProperties"] = false
		if len(s.Required) > 0 {
			out["required"] = s.Required
		}
	}
	return out
}
