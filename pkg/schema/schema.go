// Package schema defines declared parameter and response schemas along with
// validation that classifies each violation precisely. Callbacks and
// structured responses register an explicit schema up front; nothing is
// introspected reflectively at call time.
package schema

import (
	"encoding/json"
	"fmt"
)

// Type enumerates the value types a field can declare.
type Type string

const (
	TypeString Type = "string"
	TypeInt    Type = "integer"
	TypeFloat  Type = "number"
	TypeBool   Type = "boolean"
	TypeObject Type = "object"
	TypeArray  Type = "array"
)

// Field declares a single named field of a schema.
type Field struct {
	Name        string
	Type        Type
	Required    bool
	Description string

	// Items declares the element type for array fields.
	Items *Field

	// Fields declares nested fields for object fields.
	Fields []Field
}

// Schema declares the shape of a structured payload: a callback's
// parameters or a session's expected response.
type Schema struct {
	Name        string
	Description string
	Fields      []Field
}

// field looks up a declared field by name.
func (s *Schema) field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// JSONSchema renders the schema in JSON Schema wire form, suitable for the
// functions parameter of a chat completion request.
func (s *Schema) JSONSchema() json.RawMessage {
	raw, err := json.Marshal(jsonSchemaObject(s.Fields))
	if err != nil {
		// Marshaling a map of strings and nested maps cannot fail.
		panic(fmt.Sprintf("schema: marshal: %v", err))
	}
	return raw
}

func jsonSchemaObject(fields []Field) map[string]any {
	properties := make(map[string]any, len(fields))
	var required []string
	for _, f := range fields {
		properties[f.Name] = jsonSchemaField(f)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	obj := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		obj["required"] = required
	}
	return obj
}

func jsonSchemaField(f Field) map[string]any {
	out := map[string]any{"type": string(f.Type)}
	if f.Description != "" {
		out["description"] = f.Description
	}
	switch f.Type {
	case TypeArray:
		if f.Items != nil {
			out["items"] = jsonSchemaField(*f.Items)
		}
	case TypeObject:
		if len(f.Fields) > 0 {
			nested := jsonSchemaObject(f.Fields)
			for k, v := range nested {
				out[k] = v
			}
		}
	}
	return out
}
