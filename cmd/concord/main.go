// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the Concord CLI.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jllopis/concord/pkg/config"
)

var version = "dev"

type globalFlags struct {
	ConfigArgs []string
	JSON       bool
	Help       bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	cmd := args[0]
	switch cmd {
	case "validate":
		// Tag validation needs no configuration.
		runValidate(global, args[1:])
		return
	case "help":
		printUsage()
		return
	case "version":
		printVersion()
		return
	}

	cfg, err := config.LoadWithCLI(global.ConfigArgs)
	if err != nil {
		fatal(NewConfigError(err))
	}

	switch cmd {
	case "run":
		runPipeline(ctx, global, cfg, args[1:])
	case "check":
		runCheck(ctx, global, cfg, args[1:])
	case "audit":
		runAudit(ctx, global, cfg, args[1:])
	case "mcp":
		runMCP(ctx, global, cfg, args[1:])
	default:
		fatal(fmt.Errorf("unknown command %q", cmd))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	var flags globalFlags

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config" || arg == "--set" || arg == "--profile" || arg == "--env":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for %s", arg)
			}
			flags.ConfigArgs = append(flags.ConfigArgs, arg, args[i+1])
			i++
		case strings.HasPrefix(arg, "--config="), strings.HasPrefix(arg, "--set="),
			strings.HasPrefix(arg, "--profile="), strings.HasPrefix(arg, "--env="):
			flags.ConfigArgs = append(flags.ConfigArgs, arg)
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

func printVersion() {
	fmt.Println(version)
}

func printUsage() {
	fmt.Print(`Concord: multi-role consensus annotation of medical text

Usage:
  concord [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml
  --profile <name>     Merge config.<name>.yaml over the config file (alias --env)
  --set key=value      Override config (repeatable)
  --json               JSON output

Commands:
  run --requirement <text>|--requirement-file <path> --input <path> [--input <path>...]
      [--reference <path>] [--roles <path>] [--out <dir>]
  validate --reference <path>|--tags a,b [--source <path>] <annotated file>
  check
  audit list [--run <id>] [--stage <name>] [--kind <kind>] [--limit N]
  mcp serve [--reference <path>]
  version

`)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(fmt.Errorf("unexpected args: %v", args))
	}
}

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func splitList(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
