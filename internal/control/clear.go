package control

import (
	"context"
	"flag"
	"fmt"

	"github.com/pingsantohq/pathprobe/internal/engine"
)

// Clear deletes the result log unless a live run owns it.
func Clear(ctx context.Context, args []string, deps Dependencies) error {
	deps.setDefaults()

	fs := flag.NewFlagSet("clear", flag.ContinueOnError)
	paths := addPathFlags(fs, true)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := paths.resolve(ctx)
	if err != nil {
		return err
	}

	if err := engine.New(cfg, engine.Dependencies{}).Clear(); err != nil {
		return fmt.Errorf("clear %s: %w", cfg.Engine.ResultsPath, err)
	}
	fmt.Fprintf(deps.Out, "Cleared %s\n", cfg.Engine.ResultsPath)
	return nil
}
