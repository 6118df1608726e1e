package control

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/pingsantohq/pathprobe/internal/engine"
)

// Status prints the active run record, if a live process owns one.
func Status(ctx context.Context, args []string, deps Dependencies) error {
	deps.setDefaults()

	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	paths := addPathFlags(fs, false)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := paths.resolve(ctx)
	if err != nil {
		return err
	}

	record, live, err := engine.LiveRun(ctx, cfg.Engine.StateDir)
	if err != nil {
		return fmt.Errorf("inspect run record: %w", err)
	}
	if !live {
		fmt.Fprintln(deps.Out, "No active run")
		return nil
	}

	fmt.Fprintf(deps.Out, "Run ID: %s\n", record.RunID)
	fmt.Fprintf(deps.Out, "PID: %d\n", record.PID)
	fmt.Fprintf(deps.Out, "Started: %s (%s ago)\n", record.StartedAt.Format(time.RFC3339), sinceText(deps.Now(), record.StartedAt))
	fmt.Fprintf(deps.Out, "Streams: %d\n", record.Streams)
	fmt.Fprintf(deps.Out, "Config: %s\n", printable(record.ConfigPath))
	fmt.Fprintf(deps.Out, "Results: %s\n", record.ResultsPath)
	return nil
}

func printable(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
