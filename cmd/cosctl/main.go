// Package main provides the control plane operator CLI.
//
// Usage:
//
//	cosctl doctor    - Check host prerequisites (cpu, memory, docker)
//	cosctl verify    - Assemble a core, boot it, run an end-to-end pass
//	cosctl config    - Render the effective configuration as YAML
//	cosctl status    - Assemble a core and print its status
//	cosctl plugins   - List the assembled plugin fleet
//	cosctl adapters  - List registered chain adapters
//	cosctl help      - Show this help
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/mcp-tool-shop-org/consensusos/infrastructure/config"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// A .env alongside the binary is a development convenience; absence is
	// not an error.
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: logger init: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	ctx := context.Background()
	cfg := config.FromEnv()

	var ok bool
	switch cmd := os.Args[1]; cmd {
	case "doctor":
		ok = cmdDoctor(ctx, sugar)
	case "verify":
		ok = cmdVerify(ctx, sugar, cfg)
	case "config":
		ok = cmdConfig(cfg)
	case "status":
		ok = cmdStatus(ctx, sugar, cfg)
	case "plugins":
		ok = cmdPlugins(ctx, sugar, cfg)
	case "adapters":
		ok = cmdAdapters(ctx, sugar, cfg)
	case "help", "-h", "--help":
		printUsage()
		ok = true
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
	}

	if !ok {
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`ConsensusOS Control Plane CLI

Usage:
  cosctl <command>

Commands:
  doctor     Check host prerequisites (cpu, memory, docker daemon)
  verify     Assemble a core, boot it, and run an end-to-end scheduling pass
  config     Render the effective environment configuration as YAML
  status     Assemble a core and print plugin and governor status
  plugins    List the assembled plugin fleet
  adapters   List registered chain adapters
  help       Show this help

Environment Variables:
  LOG_LEVEL                    Log level (default info)
  LOG_FORMAT                   json or text (default json)
  GOVERNOR_TOTAL_CPU_MILLIS    CPU budget; 0 derives from the host
  GOVERNOR_TOTAL_MEMORY        Memory budget (supports MiB/GiB suffixes)
  GOVERNOR_MAX_CONCURRENT      Concurrent task ceiling (default 4)
  GOVERNOR_MAX_QUEUE_DEPTH     Queue depth ceiling (default 256)
  GOVERNOR_SWEEP_SCHEDULE      Cron spec for the token expiry sweeper
  OPS_ENABLED                  Serve the ops endpoint during verify
  OPS_ADDR                     Ops endpoint address (default :9090)`)
}

func cmdConfig(cfg config.CoreConfig) bool {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode config: %v\n", err)
		return false
	}
	fmt.Print(string(out))
	return true
}
