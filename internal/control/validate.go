package control

import (
	"context"
	"flag"
	"fmt"

	"github.com/pingsantohq/pathprobe/internal/config"
)

// Validate loads a config and lists the streams it defines.
func Validate(ctx context.Context, args []string, deps Dependencies) error {
	deps.setDefaults()

	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to stream configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return err
	}

	streams := cfg.StreamConfigs()
	fmt.Fprintf(deps.Out, "%s: %d streams\n", cfg.Path, len(streams))
	for _, s := range streams {
		fmt.Fprintf(deps.Out, "  %s  %-20s %s dscp=%d interval=%s timeout=%s\n",
			s.ID, s.Label, s.Destination, s.TrafficClass, s.Interval, s.Timeout)
	}
	return nil
}
