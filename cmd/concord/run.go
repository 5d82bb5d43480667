// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/jllopis/concord/pkg/config"
	"github.com/jllopis/concord/pkg/export"
	"github.com/jllopis/concord/pkg/pipeline"
)

type runSummary struct {
	RunID            string   `json:"run_id"`
	OutputDir        string   `json:"output_dir"`
	Files            []string `json:"files"`
	DefinitionRounds int      `json:"definition_rounds"`
	SchemaPasses     int      `json:"schema_passes"`
	Headers          int      `json:"headers"`
	Labels           int      `json:"labels"`
	Units            int      `json:"units"`
	Defective        []string `json:"defective,omitempty"`
	Forced           []string `json:"forced,omitempty"`
}

func runPipeline(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	cmd := flag.NewFlagSet("run", flag.ContinueOnError)
	requirement := cmd.String("requirement", "", "user requirement text")
	requirementFile := cmd.String("requirement-file", "", "file holding the user requirement")
	referencePath := cmd.String("reference", "", "annotation reference YAML seeding the labels")
	rolesPath := cmd.String("roles", cfg.Roles.Path, "roles file")
	outDir := cmd.String("out", "out", "output directory")
	runID := cmd.String("run-id", "", "run identifier (generated when empty)")
	var inputs multiFlag
	cmd.Var(&inputs, "input", "source file or directory of *.txt files (repeatable)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	ensureNoArgs(cmd.Args())

	req, err := loadRunRequest(*requirement, *requirementFile, *referencePath, inputs)
	if err != nil {
		exitWith(err, flags.JSON)
	}
	req.RunID = *runID

	a, err := newApp(ctx, cfg, *rolesPath)
	if err != nil {
		exitWith(NewConfigError(err), flags.JSON)
	}
	defer a.close()

	orch := pipeline.New(a.registry, a.roles.Stages,
		pipeline.WithPolicy(pipeline.PolicyFromConfig(cfg)),
		pipeline.WithAudit(a.audit),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.logger),
	)
	res, err := orch.Run(ctx, req)
	if err != nil {
		a.close()
		exitWith(WrapRunError(err), flags.JSON)
	}

	w := export.NewWriter(*outDir)
	files, err := w.Write(res)
	if err != nil {
		a.close()
		exitWith(err, flags.JSON)
	}

	summary := runSummary{
		RunID:            res.RunID,
		OutputDir:        w.Dir(),
		Files:            files,
		DefinitionRounds: res.DefinitionRounds,
		SchemaPasses:     res.SchemaPasses,
		Headers:          len(res.Schema.Headers),
		Labels:           len(res.Schema.Labels),
		Units:            len(res.Annotations),
		Forced:           res.Forced(),
	}
	for _, ann := range res.Annotations {
		if !ann.Report.WellFormed {
			summary.Defective = append(summary.Defective, ann.Unit)
		}
	}
	if flags.JSON {
		printJSON(summary)
		return
	}
	printRunSummary(summary)
}

func loadRunRequest(requirement, requirementFile, referencePath string, inputs []string) (pipeline.Request, error) {
	text, err := loadRequirement(requirement, requirementFile)
	if err != nil {
		return pipeline.Request{}, NewInputError("requirement", err)
	}
	ref, err := loadReference(referencePath)
	if err != nil {
		return pipeline.Request{}, NewInputError("reference", err)
	}
	units, err := loadUnits(inputs)
	if err != nil {
		return pipeline.Request{}, NewInputError("input", err)
	}
	return pipeline.Request{Requirement: text, Reference: ref, Units: units}, nil
}

func printRunSummary(s runSummary) {
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "Run\t%s\n", s.RunID)
	fmt.Fprintf(tw, "Definition rounds\t%d\n", s.DefinitionRounds)
	fmt.Fprintf(tw, "Schema passes\t%d\n", s.SchemaPasses)
	fmt.Fprintf(tw, "Headers / labels\t%d / %d\n", s.Headers, s.Labels)
	fmt.Fprintf(tw, "Units annotated\t%d\n", s.Units)
	for _, unit := range s.Defective {
		fmt.Fprintf(tw, "Defective\t%s\n", unit)
	}
	for _, f := range s.Forced {
		fmt.Fprintf(tw, "Forced\t%s\n", f)
	}
	fmt.Fprintf(tw, "Output\t%s (%d files)\n", s.OutputDir, len(s.Files))
	_ = tw.Flush()
}

func exitWith(err error, asJSON bool) {
	if ce, ok := err.(*CLIError); ok {
		ce.PrintError(asJSON)
		os.Exit(1)
	}
	fatal(err)
}
