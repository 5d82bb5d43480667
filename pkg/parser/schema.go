// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package parser turns free-form role responses into typed records checked
// against a declared field schema.
package parser

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// FieldType is the semantic type of a schema field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeEnum    FieldType = "enum"
	TypeDate    FieldType = "date"
	// TypeList is a sequence of strings, used for name lists such as
	// pruning decisions.
	TypeList FieldType = "list"
)

// DateLayout is the canonical layout of date fields.
const DateLayout = "2006-01-02"

// Field declares one key of a structured response.
type Field struct {
	Name        string    `koanf:"name" yaml:"name" json:"name"`
	Type        FieldType `koanf:"type" yaml:"type" json:"type"`
	Description string    `koanf:"description" yaml:"description" json:"description"`
	Options     []string  `koanf:"options" yaml:"options,omitempty" json:"options,omitempty"`
	Optional    bool      `koanf:"optional" yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Schema is the declared shape of a role response.
//
// A schema with no fields and Open unset is a plain-text schema: the whole
// response is the content and no block is extracted.
type Schema struct {
	Fields []Field `koanf:"fields" yaml:"fields" json:"fields"`
	// ContentField names the field fed back into the conversation. All
	// other fields are metadata.
	ContentField string `koanf:"content_field" yaml:"content_field,omitempty" json:"content_field,omitempty"`
	// Open keeps undeclared keys in Record.Extra instead of dropping them.
	Open bool `koanf:"open" yaml:"open,omitempty" json:"open,omitempty"`
	// Hint replaces the generated content hint in the format instruction.
	Hint string `koanf:"hint" yaml:"hint,omitempty" json:"hint,omitempty"`
}

// Plain reports whether the schema describes an unstructured text response.
func (s Schema) Plain() bool {
	return len(s.Fields) == 0 && !s.Open
}

// Field returns the declared field with the given name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Validate checks the schema declaration itself.
func (s Schema) Validate() error {
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return fmt.Errorf("field name is required")
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
		switch f.Type {
		case TypeString, TypeNumber, TypeBoolean, TypeDate, TypeList:
		case TypeEnum:
			if len(f.Options) == 0 {
				return fmt.Errorf("enum field %q declares no options", f.Name)
			}
		default:
			return fmt.Errorf("field %q has unknown type %q", f.Name, f.Type)
		}
	}
	if s.ContentField != "" {
		if _, ok := seen[s.ContentField]; !ok {
			return fmt.Errorf("content field %q is not declared", s.ContentField)
		}
	}
	return nil
}

// JSONSchema renders the declaration as a JSON Schema document.
func (s Schema) JSONSchema() *jsonschema.Schema {
	props := jsonschema.NewProperties()
	var required []string
	for _, f := range s.Fields {
		props.Set(f.Name, fieldSchema(f))
		if !f.Optional {
			required = append(required, f.Name)
		}
	}
	out := &jsonschema.Schema{
		Type:       "object",
		Properties: props,
		Required:   required,
	}
	if !s.Open {
		out.AdditionalProperties = jsonschema.FalseSchema
	}
	return out
}

func fieldSchema(f Field) *jsonschema.Schema {
	js := &jsonschema.Schema{Description: f.Description}
	switch f.Type {
	case TypeNumber:
		js.Type = "number"
	case TypeBoolean:
		js.Type = "boolean"
	case TypeEnum:
		js.Type = "string"
		for _, opt := range f.Options {
			js.Enum = append(js.Enum, opt)
		}
	case TypeDate:
		js.Type = "string"
		js.Format = "date"
	case TypeList:
		js.Type = "array"
		js.Items = &jsonschema.Schema{Type: "string"}
	default:
		js.Type = "string"
	}
	return js
}

// FormatInstruction is appended to a role's system instructions so the
// model knows which block to produce.
func FormatInstruction(s Schema) string {
	if s.Plain() {
		return "Return the result directly, without any markdown or YAML wrapping."
	}
	hint := s.Hint
	if hint == "" {
		var b strings.Builder
		for _, f := range s.Fields {
			fmt.Fprintf(&b, "%s: %s\n", f.Name, describe(f))
		}
		hint = strings.TrimRight(b.String(), "\n")
	}

	var b strings.Builder
	b.WriteString("Respond with a YAML dictionary in a markdown fenced code block as follows:\n")
	b.WriteString("```yaml\n")
	b.WriteString(hint)
	b.WriteString("\n```\n")
	if len(s.Fields) > 0 {
		if raw, err := json.MarshalIndent(s.JSONSchema(), "", "  "); err == nil {
			b.WriteString("The generated YAML dictionary MUST follow this schema:\n")
			b.Write(raw)
			b.WriteString("\n")
		}
	}
	b.WriteString("Important: ensure all YAML keys and string values are correctly formatted. " +
		"When a string value contains special characters, enclose it in quotes.\n")
	return b.String()
}

func describe(f Field) string {
	switch f.Type {
	case TypeBoolean:
		return "Boolean value (true/false). " + f.Description
	case TypeNumber:
		return "Number. " + f.Description
	case TypeEnum:
		return fmt.Sprintf("One of [%s]. %s", strings.Join(f.Options, ", "), f.Description)
	case TypeDate:
		return "Date (YYYY-MM-DD). " + f.Description
	case TypeList:
		return "A list of strings. " + f.Description
	default:
		return "String. " + f.Description
	}
}
