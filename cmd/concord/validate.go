// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jllopis/concord/pkg/tags"
)

// runValidate checks one annotated file against the reference tag names
// and, when --source is given, against the original text.
func runValidate(flags globalFlags, args []string) {
	cmd := flag.NewFlagSet("validate", flag.ContinueOnError)
	referencePath := cmd.String("reference", "", "annotation reference YAML")
	tagList := cmd.String("tags", "", "comma separated tag names (instead of --reference)")
	sourcePath := cmd.String("source", "", "original unannotated text")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() != 1 {
		fatal(fmt.Errorf("validate expects exactly one annotated file"))
	}

	names := splitList(*tagList)
	if len(names) == 0 {
		ref, err := loadReference(*referencePath)
		if err != nil {
			exitWith(NewInputError("reference", err), flags.JSON)
		}
		names = ref.Names()
	}
	if len(names) == 0 {
		fatal(fmt.Errorf("no tags: pass --reference or --tags"))
	}

	annotated, err := os.ReadFile(cmd.Arg(0))
	if err != nil {
		exitWith(NewInputError("annotated text", err), flags.JSON)
	}
	text := strings.TrimSpace(string(annotated))

	var report tags.Report
	if *sourcePath == "" {
		report = tags.Check(text, names)
	} else {
		source, err := os.ReadFile(*sourcePath)
		if err != nil {
			exitWith(NewInputError("source", err), flags.JSON)
		}
		report = tags.Validate(text, strings.TrimSpace(string(source)), names)
	}

	if flags.JSON {
		printJSON(report)
	} else {
		printReport(report)
	}
	if !report.WellFormed {
		os.Exit(1)
	}
}

func printReport(r tags.Report) {
	if r.WellFormed {
		fmt.Println("✓ tags properly nested")
	} else {
		fmt.Printf("✗ %d defect(s)\n", len(r.Errors))
		for _, d := range r.Errors {
			fmt.Printf("  %s\n", d)
		}
	}
	names := make([]string, 0, len(r.Fragments))
	for name := range r.Fragments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  <%s> %s\n", name, strings.Join(r.Fragments[name], " | "))
	}
}
