// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jllopis/concord/pkg/artifact"
	"github.com/jllopis/concord/pkg/pipeline"
)

// unitExt is the extension of source files picked up from a directory.
const unitExt = ".txt"

// loadUnits reads every path as source units. A file is one unit; a
// directory contributes its *.txt files in name order. The unit ID is the
// file name without extension.
func loadUnits(paths []string) ([]pipeline.Unit, error) {
	var units []pipeline.Unit
	seen := map[string]string{}
	add := func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("unit %q read from both %s and %s", id, prev, path)
		}
		seen[id] = path
		units = append(units, pipeline.Unit{ID: id, Text: string(data)})
		return nil
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			if err := add(path); err != nil {
				return nil, err
			}
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		var names []string
		for _, e := range entries {
			if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), unitExt) {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, name := range names {
			if err := add(filepath.Join(path, name)); err != nil {
				return nil, err
			}
		}
	}
	return units, nil
}

// loadRequirement returns text, or the content of file when text is empty.
func loadRequirement(text, file string) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}
	if file == "" {
		return "", fmt.Errorf("one of --requirement or --requirement-file is required")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// loadReference reads an annotation reference file. An empty path yields
// an empty reference.
func loadReference(path string) (artifact.Reference, error) {
	if path == "" {
		return artifact.Reference{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return artifact.ParseReference(data)
}
