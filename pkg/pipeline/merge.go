// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package pipeline

import (
	"sort"

	"github.com/jllopis/concord/pkg/artifact"
)

// Candidates are the items proposed in one schema design pass.
type Candidates struct {
	Headers map[string]artifact.HeaderDef
	Labels  artifact.Reference
}

// Deletions are the names a pruner asked to drop.
type Deletions struct {
	Headers []string
	Labels  []string
}

// MergeResult describes what a merge changed.
type MergeResult struct {
	Schema         artifact.Schema
	AddedHeaders   []string
	AddedLabels    []string
	RemovedHeaders []string
	RemovedLabels  []string
	// Duplicates lists candidates rejected because the name already existed.
	Duplicates []string
}

// Changed reports whether the merge added or removed anything.
func (r MergeResult) Changed() bool {
	return len(r.AddedHeaders)+len(r.AddedLabels)+len(r.RemovedHeaders)+len(r.RemovedLabels) > 0
}

// Merge drops deleted candidates, adds the surviving ones whose names are
// new and removes deleted names from the accumulated schema. Existing
// entries are never replaced and deleting an unknown name does nothing.
// acc is not modified.
func Merge(acc artifact.Schema, cand Candidates, del Deletions) MergeResult {
	out := MergeResult{Schema: acc.Clone()}
	delHeaders := toSet(del.Headers)
	delLabels := toSet(del.Labels)

	for _, name := range sortedNames(cand.Headers) {
		if _, drop := delHeaders[name]; drop {
			continue
		}
		if _, exists := out.Schema.Headers[name]; exists {
			out.Duplicates = append(out.Duplicates, name)
			continue
		}
		out.Schema.Headers[name] = cand.Headers[name]
		out.AddedHeaders = append(out.AddedHeaders, name)
	}
	for _, name := range cand.Labels.Names() {
		if _, drop := delLabels[name]; drop {
			continue
		}
		if _, exists := out.Schema.Labels[name]; exists {
			out.Duplicates = append(out.Duplicates, name)
			continue
		}
		out.Schema.Labels[name] = cand.Labels[name]
		out.AddedLabels = append(out.AddedLabels, name)
	}

	for _, name := range sortedKeys(delHeaders) {
		if _, ok := acc.Headers[name]; ok {
			delete(out.Schema.Headers, name)
			out.RemovedHeaders = append(out.RemovedHeaders, name)
		}
	}
	for _, name := range sortedKeys(delLabels) {
		if _, ok := acc.Labels[name]; ok {
			delete(out.Schema.Labels, name)
			out.RemovedLabels = append(out.RemovedLabels, name)
		}
	}
	return out
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedNames(m map[string]artifact.HeaderDef) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
