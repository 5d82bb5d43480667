// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package parser

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Record is the typed result of parsing a role response.
type Record struct {
	// Fields holds declared fields coerced to their semantic type:
	// string, float64, bool or []string.
	Fields map[string]any
	// Extra holds undeclared keys of an open schema, decoded as-is.
	Extra map[string]any
	// Content is the value of the content field, or the whole text for a
	// plain schema.
	Content string
	// Raw is the response text the record was parsed from.
	Raw string
}

// String returns a declared string, enum or date field.
func (r *Record) String(name string) string {
	s, _ := r.Fields[name].(string)
	return s
}

// Bool returns a declared boolean field.
func (r *Record) Bool(name string) bool {
	b, _ := r.Fields[name].(bool)
	return b
}

// Number returns a declared number field.
func (r *Record) Number(name string) float64 {
	n, _ := r.Fields[name].(float64)
	return n
}

// List returns a declared list field.
func (r *Record) List(name string) []string {
	l, _ := r.Fields[name].([]string)
	return l
}

// Metadata returns every declared field except the content field.
func (r *Record) Metadata(s Schema) map[string]any {
	out := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		if k == s.ContentField {
			continue
		}
		out[k] = v
	}
	return out
}

// Failure explains why a response could not be parsed. It is a value the
// caller turns into a regeneration request, not an exception.
type Failure struct {
	Reason string
	Field  string
}

func (f *Failure) Error() string {
	if f.Field != "" {
		return fmt.Sprintf("field %q: %s", f.Field, f.Reason)
	}
	return f.Reason
}

func failf(field, format string, args ...any) *Failure {
	return &Failure{Field: field, Reason: fmt.Sprintf(format, args...)}
}

const (
	tagOpen  = "<yaml>"
	tagClose = "</yaml>"
	fence    = "```"
)

// Parse extracts the structured block from raw and coerces it against s.
func Parse(raw string, s Schema) (*Record, *Failure) {
	if strings.TrimSpace(raw) == "" {
		return nil, failf("", "empty response")
	}
	if s.Plain() {
		return &Record{
			Fields:  map[string]any{},
			Content: strings.TrimSpace(raw),
			Raw:     raw,
		}, nil
	}

	block := extractBlock(raw)
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(block), &doc); err != nil {
		return nil, failf("", "content of the block must be a YAML dictionary: %v", err)
	}
	if doc == nil {
		return nil, failf("", "expected a YAML dictionary, found nothing")
	}

	rec := &Record{
		Fields: make(map[string]any, len(s.Fields)),
		Raw:    raw,
	}
	var missing []string
	for _, f := range s.Fields {
		v, ok := doc[f.Name]
		if !ok {
			if !f.Optional {
				missing = append(missing, f.Name)
			}
			continue
		}
		cv, fail := coerce(f, v)
		if fail != nil {
			return nil, fail
		}
		rec.Fields[f.Name] = cv
	}
	if len(missing) > 0 {
		return nil, failf("", "missing required field(s) %s", strings.Join(missing, ", "))
	}

	if s.Open {
		for k, v := range doc {
			if _, declared := s.Field(k); declared {
				continue
			}
			if rec.Extra == nil {
				rec.Extra = make(map[string]any)
			}
			rec.Extra[k] = v
		}
	}

	if s.ContentField != "" {
		rec.Content = stringify(rec.Fields[s.ContentField])
	}
	return rec, nil
}

// extractBlock returns the first delimited block of raw: a <yaml> element
// or a code fence, whichever opens first. A fence closes only on a line of
// its own, so fences nested in indented values stay in the block. A block
// with only one of its delimiters is repaired by assuming the other; a
// response with no delimiter at all is used whole.
func extractBlock(raw string) string {
	tagAt := strings.Index(raw, tagOpen)
	fenceAt := strings.Index(raw, fence)
	switch {
	case tagAt >= 0 && (fenceAt < 0 || tagAt < fenceAt):
		body := raw[tagAt+len(tagOpen):]
		if end := strings.Index(body, tagClose); end >= 0 {
			return body[:end]
		}
		return body
	case fenceAt >= 0:
		body := skipInfoString(raw[fenceAt+len(fence):])
		if end := closingFence(body); end >= 0 {
			return body[:end]
		}
		return body
	}
	// Closing delimiter without an opening one.
	if end := strings.Index(raw, tagClose); end >= 0 {
		return raw[:end]
	}
	return raw
}

// skipInfoString drops the language word after an opening fence.
func skipInfoString(body string) string {
	line, rest, found := strings.Cut(body, "\n")
	info := strings.TrimSpace(line)
	if strings.ContainsAny(info, ": ") {
		// Content on the fence line itself.
		return body
	}
	if !found {
		return ""
	}
	return rest
}

// closingFence returns the offset of the first fence standing on its own
// line. Failing that, a fence trailing the last line is accepted. It
// returns -1 when body has no closing fence.
func closingFence(body string) int {
	if strings.HasPrefix(body, fence) && fenceLineEnds(body[len(fence):]) {
		return 0
	}
	for off := 0; ; {
		i := strings.Index(body[off:], "\n"+fence)
		if i < 0 {
			break
		}
		at := off + i + 1
		if fenceLineEnds(body[at+len(fence):]) {
			return at
		}
		off = at
	}
	if last := strings.LastIndex(body, fence); last >= 0 && !strings.Contains(body[last:], "\n") {
		return last
	}
	return -1
}

// fenceLineEnds reports whether only blanks follow a fence up to the end of
// its line.
func fenceLineEnds(after string) bool {
	line, _, _ := strings.Cut(after, "\n")
	return strings.TrimSpace(line) == ""
}

func coerce(f Field, v any) (any, *Failure) {
	switch f.Type {
	case TypeString:
		switch tv := v.(type) {
		case map[string]any:
			return nil, failf(f.Name, "expected a string, got a dictionary")
		case []any:
			parts := make([]string, 0, len(tv))
			for _, item := range tv {
				parts = append(parts, stringify(item))
			}
			return strings.Join(parts, "\n"), nil
		}
		return stringify(v), nil

	case TypeNumber:
		switch tv := v.(type) {
		case int:
			return float64(tv), nil
		case int64:
			return float64(tv), nil
		case uint64:
			return float64(tv), nil
		case float64:
			return tv, nil
		case string:
			n, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
			if err != nil || math.IsNaN(n) {
				return nil, failf(f.Name, "%q is not a number", tv)
			}
			return n, nil
		}
		return nil, failf(f.Name, "expected a number, got %T", v)

	case TypeBoolean:
		switch tv := v.(type) {
		case bool:
			return tv, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(tv)) {
			case "true", "yes":
				return true, nil
			case "false", "no":
				return false, nil
			}
			return nil, failf(f.Name, "%q is not a boolean", tv)
		}
		return nil, failf(f.Name, "expected a boolean, got %T", v)

	case TypeEnum:
		s := strings.TrimSpace(stringify(v))
		for _, opt := range f.Options {
			if s == opt {
				return opt, nil
			}
		}
		for _, opt := range f.Options {
			if strings.EqualFold(s, opt) {
				return opt, nil
			}
		}
		return nil, failf(f.Name, "%q is not one of [%s]", s, strings.Join(f.Options, ", "))

	case TypeDate:
		switch tv := v.(type) {
		case time.Time:
			return tv.Format(DateLayout), nil
		case string:
			d, err := time.Parse(DateLayout, strings.TrimSpace(tv))
			if err != nil {
				return nil, failf(f.Name, "%q is not a date (YYYY-MM-DD)", tv)
			}
			return d.Format(DateLayout), nil
		}
		return nil, failf(f.Name, "expected a date, got %T", v)

	case TypeList:
		switch tv := v.(type) {
		case nil:
			return []string{}, nil
		case []any:
			out := make([]string, 0, len(tv))
			for _, item := range tv {
				if _, nested := item.(map[string]any); nested {
					return nil, failf(f.Name, "list items must be strings")
				}
				out = append(out, stringify(item))
			}
			return out, nil
		case string:
			if strings.TrimSpace(tv) == "" {
				return []string{}, nil
			}
			return []string{tv}, nil
		}
		return nil, failf(f.Name, "expected a list, got %T", v)
	}
	return nil, failf(f.Name, "unknown field type %q", f.Type)
}

func stringify(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case time.Time:
		return tv.Format(DateLayout)
	case []string:
		return strings.Join(tv, "\n")
	}
	return fmt.Sprint(v)
}

// Serialize renders rec as a fenced YAML block that Parse accepts.
// Declared fields come first in schema order, extra keys follow sorted.
func Serialize(rec *Record, s Schema) string {
	if s.Plain() {
		return rec.Content
	}
	doc := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key string, value any) {
		var vn yaml.Node
		if err := vn.Encode(value); err != nil {
			vn = yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprint(value)}
		}
		doc.Content = append(doc.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: key}, &vn)
	}
	for _, f := range s.Fields {
		if v, ok := rec.Fields[f.Name]; ok {
			add(f.Name, v)
		}
	}
	keys := make([]string, 0, len(rec.Extra))
	for k := range rec.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(k, rec.Extra[k])
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return ""
	}
	return "```yaml\n" + string(out) + "```"
}

// RegenerationPrompt asks a role to reproduce its previous answer in the
// required format after a parse failure.
func RegenerationPrompt(fail *Failure, s Schema) string {
	return fmt.Sprintf("Your previous response could not be parsed (%s). "+
		"Reproduce your previous answer in the required format.\n\n%s", fail.Error(), FormatInstruction(s))
}
