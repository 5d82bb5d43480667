// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jllopis/concord/pkg/audit"
	"github.com/jllopis/concord/pkg/config"
)

// runAudit lists events from a persistent audit store.
func runAudit(ctx context.Context, flags globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(fmt.Errorf("usage: concord audit list [--run <id>] [--stage <name>] [--kind <kind>] [--limit N]"))
	}
	cmd := flag.NewFlagSet("audit list", flag.ContinueOnError)
	runID := cmd.String("run", "", "run identifier")
	stage := cmd.String("stage", "", "stage name")
	kind := cmd.String("kind", "", "event kind")
	limit := cmd.Int("limit", 0, "maximum number of events")
	if err := cmd.Parse(args[1:]); err != nil {
		fatal(err)
	}
	ensureNoArgs(cmd.Args())

	if strings.ToLower(cfg.Audit.Driver) != "sqlite" {
		fatal(fmt.Errorf("audit driver %q keeps no events between runs; set audit.driver=sqlite", cfg.Audit.Driver))
	}
	store, err := audit.OpenSQLite(cfg.Audit.DSN)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	events, err := store.List(ctx, audit.Filter{
		RunID: *runID,
		Stage: *stage,
		Kind:  audit.Kind(*kind),
		Limit: *limit,
	})
	if err != nil {
		fatal(err)
	}
	if flags.JSON {
		printJSON(events)
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "AT\tRUN\tSTAGE\tKIND\tUNIT\tROLE\tROUND\tMESSAGE")
	for _, ev := range events {
		round := "-"
		if ev.Round > 0 {
			round = strconv.Itoa(ev.Round)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			ev.At.UTC().Format(time.RFC3339), ev.RunID, ev.Stage, ev.Kind,
			cell(ev.Unit), cell(ev.Role), round, truncate(cell(ev.Message), 60))
	}
	_ = tw.Flush()
}

func cell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func truncate(value string, limit int) string {
	if limit <= 3 || len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}
