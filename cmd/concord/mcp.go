// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/jllopis/concord/pkg/config"
	concordmcp "github.com/jllopis/concord/pkg/mcp"
	"github.com/jllopis/concord/pkg/telemetry"
)

// runMCP serves the tag validator as MCP tools over stdio.
func runMCP(_ context.Context, flags globalFlags, cfg *config.Config, args []string) {
	if len(args) == 0 || args[0] != "serve" {
		fatal(fmt.Errorf("usage: concord mcp serve [--reference <path>]"))
	}
	cmd := flag.NewFlagSet("mcp serve", flag.ContinueOnError)
	referencePath := cmd.String("reference", "", "annotation reference YAML providing the default tags")
	if err := cmd.Parse(args[1:]); err != nil {
		fatal(err)
	}
	ensureNoArgs(cmd.Args())

	ref, err := loadReference(*referencePath)
	if err != nil {
		exitWith(NewInputError("reference", err), flags.JSON)
	}
	// stdout carries the protocol.
	logger := telemetry.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	logger.Info("mcp server starting", "tags", len(ref))
	if err := concordmcp.NewServer(serviceName, version, ref, logger).ServeStdio(); err != nil {
		fatal(err)
	}
}
