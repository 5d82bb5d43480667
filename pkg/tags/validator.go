// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package tags checks inline annotation markers inserted into free text.
//
// A marker is <name> or </name> where name is made of letters, digits,
// underscores and dashes. Validation is a single left-to-right pass with an
// explicit stack of open tags; it never stops at the first defect.
package tags

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

// DefectKind classifies a structural defect.
type DefectKind string

const (
	DefectUnknownTag     DefectKind = "unknown_tag"
	DefectUnmatchedClose DefectKind = "unmatched_close"
	DefectCrossing       DefectKind = "crossing"
	DefectUnclosed       DefectKind = "unclosed"
	DefectTextMismatch   DefectKind = "text_mismatch"
)

// Defect is one structural problem found in annotated text.
type Defect struct {
	Kind DefectKind `yaml:"kind" json:"kind"`
	Tag  string     `yaml:"tag,omitempty" json:"tag,omitempty"`
	// Offset is a byte offset into the annotated text, or into the
	// stripped text for text mismatches.
	Offset  int    `yaml:"offset" json:"offset"`
	Message string `yaml:"message" json:"message"`
}

func (d Defect) String() string {
	return fmt.Sprintf("%s at %d: %s", d.Kind, d.Offset, d.Message)
}

// Report is the outcome of validating one annotated text.
type Report struct {
	WellFormed bool `yaml:"tags_properly_nested" json:"well_formed"`
	// Fragments maps a tag name to the text each of its instances spans,
	// nested markers removed, in the order the instances were closed.
	Fragments map[string][]string `yaml:"fragments" json:"fragments"`
	Errors    []Defect            `yaml:"errors,omitempty" json:"errors,omitempty"`
	// Stripped is the annotated text with every marker removed.
	Stripped string `yaml:"-" json:"stripped"`
	// Residue is the text left outside any tag instance.
	Residue string `yaml:"-" json:"residue"`
}

// HasKind reports whether the report contains a defect of the given kind.
func (r Report) HasKind(kind DefectKind) bool {
	for _, d := range r.Errors {
		if d.Kind == kind {
			return true
		}
	}
	return false
}

// NestingErrors returns the defects other than text mismatches.
func (r Report) NestingErrors() []Defect {
	var out []Defect
	for _, d := range r.Errors {
		if d.Kind != DefectTextMismatch {
			out = append(out, d)
		}
	}
	return out
}

// Evidence renders the report as the YAML block handed to a reviewer.
func (r Report) Evidence() string {
	out, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Sprintf("tags_properly_nested: %t\n", r.WellFormed)
	}
	return string(out)
}

var markerPattern = regexp.MustCompile(`<(/?)([A-Za-z0-9_-]+)>`)

type openTag struct {
	name     string
	offset   int // byte offset of the marker in the annotated text
	stripped int // byte offset in the stripped text
}

// Check validates the marker structure of annotated against the reference
// tag names, without the text-identity check.
func Check(annotated string, reference []string) Report {
	known := make(map[string]struct{}, len(reference))
	for _, name := range reference {
		known[name] = struct{}{}
	}

	report := Report{WellFormed: true, Fragments: map[string][]string{}}
	var (
		stripped strings.Builder
		residue  strings.Builder
		stack    []openTag
		last     int
	)
	addDefect := func(d Defect) {
		report.WellFormed = false
		report.Errors = append(report.Errors, d)
	}

	for _, loc := range markerPattern.FindAllStringSubmatchIndex(annotated, -1) {
		text := annotated[last:loc[0]]
		stripped.WriteString(text)
		if len(stack) == 0 {
			residue.WriteString(text)
		}
		last = loc[1]

		closing := loc[3] > loc[2]
		name := annotated[loc[4]:loc[5]]
		_, isKnown := known[name]

		if !closing {
			if !isKnown {
				addDefect(Defect{Kind: DefectUnknownTag, Tag: name, Offset: loc[0],
					Message: fmt.Sprintf("tag <%s> is not in the annotation reference", name)})
			}
			stack = append(stack, openTag{name: name, offset: loc[0], stripped: stripped.Len()})
			continue
		}

		idx := -1
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].name == name {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			if !isKnown {
				addDefect(Defect{Kind: DefectUnknownTag, Tag: name, Offset: loc[0],
					Message: fmt.Sprintf("tag </%s> is not in the annotation reference", name)})
			}
			addDefect(Defect{Kind: DefectUnmatchedClose, Tag: name, Offset: loc[0],
				Message: fmt.Sprintf("</%s> closes a tag that is not open", name)})
		case idx != len(stack)-1:
			top := stack[len(stack)-1]
			addDefect(Defect{Kind: DefectCrossing, Tag: name, Offset: loc[0],
				Message: fmt.Sprintf("</%s> closes across the still open <%s>", name, top.name)})
			stack = append(stack[:idx], stack[idx+1:]...)
		default:
			open := stack[idx]
			stack = stack[:idx]
			if isKnown {
				frag := stripped.String()[open.stripped:]
				report.Fragments[name] = append(report.Fragments[name], frag)
			}
		}
	}
	tail := annotated[last:]
	stripped.WriteString(tail)
	if len(stack) == 0 {
		residue.WriteString(tail)
	}

	for _, open := range stack {
		addDefect(Defect{Kind: DefectUnclosed, Tag: open.name, Offset: open.offset,
			Message: fmt.Sprintf("<%s> is never closed", open.name)})
	}

	report.Stripped = stripped.String()
	report.Residue = residue.String()
	return report
}

// Validate checks marker structure and that removing every marker yields
// exactly the source text.
func Validate(annotated, source string, reference []string) Report {
	report := Check(annotated, reference)
	if off, ok := firstDifference(report.Stripped, source); !ok {
		report.WellFormed = false
		report.Errors = append(report.Errors, Defect{
			Kind:   DefectTextMismatch,
			Offset: off,
			Message: fmt.Sprintf("text differs from the source at offset %d: got %q, want %q",
				off, excerpt(report.Stripped, off), excerpt(source, off)),
		})
	}
	return report
}

// firstDifference returns the byte offset of the first differing rune, and
// false, when a and b differ.
func firstDifference(a, b string) (int, bool) {
	if a == b {
		return 0, true
	}
	i := 0
	for i < len(a) && i < len(b) {
		ra, na := utf8.DecodeRuneInString(a[i:])
		rb, nb := utf8.DecodeRuneInString(b[i:])
		if ra != rb || na != nb {
			return i, false
		}
		i += na
	}
	return i, false
}

func excerpt(s string, off int) string {
	const width = 12
	if off >= len(s) {
		return ""
	}
	end := off
	for n := 0; end < len(s) && n < width; n++ {
		_, size := utf8.DecodeRuneInString(s[end:])
		end += size
	}
	return s[off:end]
}
