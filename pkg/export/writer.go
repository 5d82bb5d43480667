// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package export writes the artifacts of a pipeline run to a directory.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/jllopis/concord/pkg/pipeline"
	"github.com/jllopis/concord/pkg/tags"
)

// File names inside the output directory.
const (
	DefinitionFile = "definition.yaml"
	HeadersFile    = "headers.yaml"
	LabelsFile     = "labels.yaml"
	ReportFile     = "report.json"
	AnnotatedDir   = "annotated"
)

// Report summarises a run in report.json.
type Report struct {
	RunID            string       `json:"run_id"`
	DefinitionRounds int          `json:"definition_rounds"`
	DefinitionForced bool         `json:"definition_forced"`
	SchemaPasses     int          `json:"schema_passes"`
	Headers          int          `json:"headers"`
	Labels           int          `json:"labels"`
	Forced           []string     `json:"forced"`
	Units            []UnitReport `json:"units"`
}

// UnitReport is the validation outcome of one annotated unit.
type UnitReport struct {
	Unit       string              `json:"unit"`
	File       string              `json:"file"`
	Rounds     int                 `json:"rounds"`
	Forced     bool                `json:"forced"`
	WellFormed bool                `json:"well_formed"`
	Fragments  map[string][]string `json:"fragments"`
	Errors     []tags.Defect       `json:"errors,omitempty"`
}

// Writer writes run artifacts under a base directory.
type Writer struct {
	dir string
}

// NewWriter creates a writer for dir. The directory is created on Write.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// Write stores every artifact of res and returns the written paths.
func (w *Writer) Write(res *pipeline.Result) ([]string, error) {
	if res == nil {
		return nil, fmt.Errorf("nothing to export")
	}
	if err := os.MkdirAll(filepath.Join(w.dir, AnnotatedDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	var written []string
	write := func(name string, data []byte) error {
		path := filepath.Join(w.dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}

	if err := write(DefinitionFile, []byte(res.Definition.YAML())); err != nil {
		return written, err
	}
	if err := write(HeadersFile, []byte(res.Schema.HeadersYAML())); err != nil {
		return written, err
	}
	if err := write(LabelsFile, []byte(res.Schema.LabelsYAML())); err != nil {
		return written, err
	}

	report := Report{
		RunID:            res.RunID,
		DefinitionRounds: res.DefinitionRounds,
		DefinitionForced: res.DefinitionForced,
		SchemaPasses:     res.SchemaPasses,
		Headers:          len(res.Schema.Headers),
		Labels:           len(res.Schema.Labels),
		Forced:           res.Forced(),
		Units:            make([]UnitReport, 0, len(res.Annotations)),
	}
	if report.Forced == nil {
		report.Forced = []string{}
	}
	for _, a := range res.Annotations {
		name := filepath.Join(AnnotatedDir, FileName(a.Unit))
		if err := write(name, []byte(a.Text+"\n")); err != nil {
			return written, err
		}
		report.Units = append(report.Units, UnitReport{
			Unit:       a.Unit,
			File:       filepath.ToSlash(name),
			Rounds:     a.Rounds,
			Forced:     a.Forced,
			WellFormed: a.Report.WellFormed,
			Fragments:  a.Report.Fragments,
			Errors:     a.Report.Errors,
		})
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return written, fmt.Errorf("encoding report: %w", err)
	}
	if err := write(ReportFile, append(data, '\n')); err != nil {
		return written, err
	}
	return written, nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName returns the annotated file name for a unit id.
func FileName(unit string) string {
	name := unsafeChars.ReplaceAllString(unit, "_")
	if name == "" || name == "." || name == ".." {
		name = "unit"
	}
	return name + ".txt"
}
