// Command apibackuper archives paginated REST APIs to durable local
// storage.
//
// Usage:
//
//	apibackuper estimate [-project dir]
//	apibackuper run <full|incremental|update|continue> [-project dir]
//	apibackuper continue [-project dir]
//	apibackuper info [-project dir]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/ruarxive/apibackuper/pkg/config"
	"github.com/ruarxive/apibackuper/pkg/logging"
	"github.com/ruarxive/apibackuper/pkg/runner"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	fs := flag.NewFlagSet(command, flag.ExitOnError)
	project := fs.String("project", ".", "project directory containing the apibackuper config")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	pretty := fs.Bool("pretty", true, "human-readable console logging")

	args := os.Args[2:]
	mode := ""
	if command == "run" {
		var err error
		mode, args, err = splitRunArgs(args)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	fs.Parse(args)

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	logging.Setup(logging.Config{Level: level, Pretty: *pretty})

	cfg, err := config.Load(*project)
	if err != nil {
		log.Error().Err(err).Str("project", *project).Msg("Failed to load project configuration")
		os.Exit(1)
	}

	r, err := runner.New(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch command {
	case "estimate":
		est, err := r.Estimate(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Estimate failed")
			os.Exit(1)
		}
		printJSON(est)

	case "run":
		var state *runner.RunState
		if mode == "continue" {
			state, err = r.Continue(ctx)
		} else {
			var m runner.Mode
			m, err = runner.ParseMode(mode)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(2)
			}
			state, err = r.Run(ctx, m)
		}
		reportRun(state, err)

	case "continue":
		state, err := r.Continue(ctx)
		reportRun(state, err)

	case "info":
		info, err := r.Info()
		if err != nil {
			log.Error().Err(err).Msg("Info failed")
			os.Exit(1)
		}
		printJSON(info)

	default:
		usage()
		os.Exit(2)
	}
}

// reportRun prints the final run state and exits non-zero for anything
// short of completion, so interrupted runs are visible to schedulers
// while their checkpoint stays resumable.
func reportRun(state *runner.RunState, err error) {
	if state != nil {
		printJSON(state)
	}
	if err != nil {
		log.Error().Err(err).Msg("Run did not complete")
		os.Exit(1)
	}
}

// splitRunArgs peels the run mode off the argument list. The mode is
// the first positional argument, before any flags.
func splitRunArgs(args []string) (string, []string, error) {
	if len(args) == 0 || args[0] == "" || args[0][0] == '-' {
		return "", nil, fmt.Errorf("run requires a mode: full, incremental, update, or continue")
	}
	return args[0], args[1:], nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func usage() {
	fmt.Fprintln(os.Stderr, `apibackuper archives paginated REST APIs to durable local storage.

Commands:
  estimate   probe one page and project the work of a full run
  run        start a run: full, incremental, update, or continue
  continue   resume the last checkpointed run
  info       summarize the archive and the last run

Flags (after the command):
  -project dir   project directory (default ".")
  -verbose       enable debug logging
  -pretty        human-readable console logging (default true)`)
}
