// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package artifact holds the accepted outputs of pipeline stages: the
// project definition, the header/label schema and annotated text.
package artifact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// HeaderKind is the data type of a table header.
type HeaderKind string

const (
	KindString  HeaderKind = "string"
	KindNumber  HeaderKind = "number"
	KindBoolean HeaderKind = "boolean"
	KindDate    HeaderKind = "date"
	KindEnum    HeaderKind = "enum"
)

// HeaderType is a header data type, with options for enums.
type HeaderType struct {
	Kind    HeaderKind
	Options []string
}

var enumPattern = regexp.MustCompile(`^enum\s*\[(.*)\]$`)

// ParseHeaderType parses "string", "number", "boolean", "date" or
// "enum[a,b,...]".
func ParseHeaderType(s string) (HeaderType, error) {
	s = strings.TrimSpace(s)
	lower := strings.ToLower(s)
	switch HeaderKind(lower) {
	case KindString, KindNumber, KindBoolean, KindDate:
		return HeaderType{Kind: HeaderKind(lower)}, nil
	}
	m := enumPattern.FindStringSubmatch(s)
	if m == nil {
		if lower == "enum" {
			return HeaderType{}, fmt.Errorf("enum type %q lists no options", s)
		}
		return HeaderType{}, fmt.Errorf("unknown header type %q", s)
	}
	var opts []string
	for _, opt := range strings.Split(m[1], ",") {
		if opt = strings.TrimSpace(opt); opt != "" {
			opts = append(opts, opt)
		}
	}
	if len(opts) == 0 {
		return HeaderType{}, fmt.Errorf("enum type %q lists no options", s)
	}
	return HeaderType{Kind: KindEnum, Options: opts}, nil
}

func (t HeaderType) String() string {
	if t.Kind == KindEnum {
		return "enum[" + strings.Join(t.Options, ",") + "]"
	}
	return string(t.Kind)
}

// MarshalYAML implements yaml.Marshaler.
func (t HeaderType) MarshalYAML() (interface{}, error) {
	return t.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *HeaderType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseHeaderType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// HeaderDef describes one column of the output table.
type HeaderDef struct {
	Type        HeaderType `yaml:"type" json:"type"`
	Description string     `yaml:"description" json:"description"`
}

// LabelDef describes one annotation tag.
type LabelDef struct {
	DisplayName string
	Description string
	Example     string
}

// ParseLabel parses a "displayName|description|example" triplet.
func ParseLabel(s string) (LabelDef, error) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return LabelDef{}, fmt.Errorf("label %q is not a name|description|example triplet", s)
	}
	def := LabelDef{
		DisplayName: strings.TrimSpace(parts[0]),
		Description: strings.TrimSpace(parts[1]),
		Example:     strings.TrimSpace(parts[2]),
	}
	if def.DisplayName == "" {
		return LabelDef{}, fmt.Errorf("label %q has an empty display name", s)
	}
	return def, nil
}

func (l LabelDef) String() string {
	return l.DisplayName + "|" + l.Description + "|" + l.Example
}

// MarshalYAML implements yaml.Marshaler.
func (l LabelDef) MarshalYAML() (interface{}, error) {
	return l.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *LabelDef) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseLabel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

var labelNamePattern = regexp.MustCompile(`^[A-Za-z]{3}(?:[_-][A-Za-z]{3})?$`)

// ValidLabelName reports whether name follows the tag naming convention:
// a three-letter parent category optionally followed by a three-letter
// subcategory ("sym" or "sym_pai").
func ValidLabelName(name string) bool {
	return labelNamePattern.MatchString(name)
}

// Reference maps a tag name to its label definition. It is read-only
// ground truth for the annotation stage.
type Reference map[string]LabelDef

// ParseReference reads a reference document. Both a bare tag mapping and
// a mapping nested under a "tags" key are accepted.
func ParseReference(data []byte) (Reference, error) {
	var wrapped struct {
		Tags Reference `yaml:"tags"`
	}
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Tags) > 0 {
		return wrapped.Tags, nil
	}
	var ref Reference
	if err := yaml.Unmarshal(data, &ref); err != nil {
		return nil, fmt.Errorf("parse annotation reference: %w", err)
	}
	if ref == nil {
		ref = Reference{}
	}
	return ref, nil
}

// Names returns the tag names in sorted order.
func (r Reference) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns an independent copy.
func (r Reference) Clone() Reference {
	out := make(Reference, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// YAML renders the reference as "tag: name|description|example" lines.
func (r Reference) YAML() string {
	return renderYAML(r)
}

// Definition is the accepted project definition.
type Definition struct {
	fields map[string]any
}

// NewDefinition copies fields into an immutable definition.
func NewDefinition(fields map[string]any) Definition {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return Definition{fields: out}
}

// Fields returns a copy of the definition fields.
func (d Definition) Fields() map[string]any {
	out := make(map[string]any, len(d.fields))
	for k, v := range d.fields {
		out[k] = v
	}
	return out
}

// Get returns one field value.
func (d Definition) Get(name string) (any, bool) {
	v, ok := d.fields[name]
	return v, ok
}

// Empty reports whether no definition was accepted yet.
func (d Definition) Empty() bool {
	return len(d.fields) == 0
}

// YAML renders the definition for prompts and export.
func (d Definition) YAML() string {
	if d.Empty() {
		return "{}\n"
	}
	return renderYAML(d.fields)
}

// Schema is the accumulated header and label schema.
type Schema struct {
	Headers map[string]HeaderDef `yaml:"headers" json:"headers"`
	Labels  Reference            `yaml:"labels" json:"labels"`
}

// NewSchema returns an empty schema seeded with the given labels.
func NewSchema(labels Reference) Schema {
	s := Schema{Headers: map[string]HeaderDef{}, Labels: Reference{}}
	for k, v := range labels {
		s.Labels[k] = v
	}
	return s
}

// Clone returns an independent snapshot.
func (s Schema) Clone() Schema {
	out := Schema{Headers: make(map[string]HeaderDef, len(s.Headers)), Labels: s.Labels.Clone()}
	for k, v := range s.Headers {
		v.Type.Options = append([]string(nil), v.Type.Options...)
		out.Headers[k] = v
	}
	return out
}

// HeaderNames returns the header names in sorted order.
func (s Schema) HeaderNames() []string {
	names := make([]string, 0, len(s.Headers))
	for name := range s.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HeadersYAML renders the headers for prompts and export.
func (s Schema) HeadersYAML() string {
	if len(s.Headers) == 0 {
		return "{}\n"
	}
	return renderYAML(s.Headers)
}

// LabelsYAML renders the labels for prompts and export.
func (s Schema) LabelsYAML() string {
	if len(s.Labels) == 0 {
		return "{}\n"
	}
	return renderYAML(s.Labels)
}

func renderYAML(v any) string {
	out, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v\n", v)
	}
	return string(out)
}
