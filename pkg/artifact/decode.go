// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package artifact

import (
	"fmt"
	"sort"
)

// DecodeHeaders converts a decoded proposer dictionary into header
// definitions. Entries that cannot be decoded are skipped and reported.
func DecodeHeaders(raw map[string]any) (map[string]HeaderDef, []error) {
	out := make(map[string]HeaderDef, len(raw))
	var errs []error
	for _, name := range sortedKeys(raw) {
		entry, ok := raw[name].(map[string]any)
		if !ok {
			errs = append(errs, fmt.Errorf("header %q: expected a type/description mapping", name))
			continue
		}
		typ, _ := entry["type"].(string)
		ht, err := ParseHeaderType(typ)
		if err != nil {
			errs = append(errs, fmt.Errorf("header %q: %w", name, err))
			continue
		}
		desc, _ := entry["description"].(string)
		out[name] = HeaderDef{Type: ht, Description: desc}
	}
	return out, errs
}

// DecodeLabels converts a decoded proposer dictionary into label
// definitions. Names that break the naming convention and values that are
// not triplets are skipped and reported.
func DecodeLabels(raw map[string]any) (Reference, []error) {
	out := make(Reference, len(raw))
	var errs []error
	for _, name := range sortedKeys(raw) {
		if !ValidLabelName(name) {
			errs = append(errs, fmt.Errorf("label %q: name must be xxx or xxx_xxx", name))
			continue
		}
		s, ok := raw[name].(string)
		if !ok {
			errs = append(errs, fmt.Errorf("label %q: expected a name|description|example string", name))
			continue
		}
		def, err := ParseLabel(s)
		if err != nil {
			errs = append(errs, fmt.Errorf("label %q: %w", name, err))
			continue
		}
		out[name] = def
	}
	return out, errs
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
