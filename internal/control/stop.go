package control

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/pingsantohq/pathprobe/internal/config"
	"github.com/pingsantohq/pathprobe/internal/engine"
)

// Stop signals the process that owns the run and waits for it to remove its
// run record. With no active run it only reports so.
func Stop(ctx context.Context, args []string, deps Dependencies) error {
	deps.setDefaults()

	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	paths := addPathFlags(fs, false)
	timeout := fs.Duration("timeout", 10*time.Second, "How long to wait for the run to stop")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := paths.resolve(ctx)
	if err != nil {
		return err
	}
	dir := cfg.Engine.StateDir

	record, live, err := engine.LiveRun(ctx, dir)
	if err != nil {
		return fmt.Errorf("inspect run record: %w", err)
	}
	if !live {
		if record.RunID != "" {
			if err := config.RemoveState(ctx, dir); err != nil {
				return err
			}
			fmt.Fprintf(deps.Out, "No active run (removed stale record of pid %d)\n", record.PID)
			return nil
		}
		fmt.Fprintln(deps.Out, "No active run")
		return nil
	}

	if err := deps.Signal(record.PID); err != nil {
		return err
	}
	fmt.Fprintf(deps.Out, "Stopping run %s (pid %d)\n", record.RunID, record.PID)

	deadline := deps.Now().Add(*timeout)
	ticker := time.NewTicker(deps.PollInterval)
	defer ticker.Stop()
	for {
		current, live, err := engine.LiveRun(ctx, dir)
		if err != nil {
			return fmt.Errorf("inspect run record: %w", err)
		}
		if !live || current.RunID != record.RunID {
			fmt.Fprintln(deps.Out, "Run stopped")
			return nil
		}
		if !deps.Now().Before(deadline) {
			return fmt.Errorf("run %s (pid %d) did not stop within %s", record.RunID, record.PID, *timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
