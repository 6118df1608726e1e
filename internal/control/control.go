// Package control implements the operator commands that act on a run from a
// separate process: they meet the running engine only through the run record
// and the result log.
package control

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pingsantohq/pathprobe/internal/config"
	"github.com/pingsantohq/pathprobe/internal/engine"
)

type Dependencies struct {
	Now func() time.Time
	Out io.Writer
	// Signal asks a process to stop; defaults to SIGTERM.
	Signal func(pid int) error
	// PollInterval paces waiting for a run record to disappear.
	PollInterval time.Duration
}

func (d *Dependencies) setDefaults() {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.Signal == nil {
		d.Signal = engine.Terminate
	}
	if d.PollInterval <= 0 {
		d.PollInterval = 100 * time.Millisecond
	}
}

// pathFlags are shared by commands that locate the log or the run record
// either directly or through a config file.
type pathFlags struct {
	config   *string
	results  *string
	stateDir *string
}

func addPathFlags(fs *flag.FlagSet, results bool) pathFlags {
	p := pathFlags{
		config:   fs.String("config", "", "Path to stream configuration file"),
		stateDir: fs.String("state-dir", "", "Directory holding the run record (default "+config.DefaultStateDir+")"),
	}
	if results {
		p.results = fs.String("results", "", "Path to the result log (default "+config.DefaultResultsPath+")")
	}
	return p
}

// resolve loads the config when one was given and lets explicit flags
// override the paths it names.
func (p pathFlags) resolve(ctx context.Context) (config.Config, error) {
	var cfg config.Config
	if path := strings.TrimSpace(*p.config); path != "" {
		loaded, err := config.Load(ctx, path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if p.results != nil {
		if v := strings.TrimSpace(*p.results); v != "" {
			cfg.Engine.ResultsPath = v
		}
	}
	if v := strings.TrimSpace(*p.stateDir); v != "" {
		cfg.Engine.StateDir = v
	}
	if cfg.Engine.ResultsPath == "" {
		cfg.Engine.ResultsPath = config.DefaultResultsPath
	}
	if cfg.Engine.StateDir == "" {
		cfg.Engine.StateDir = config.DefaultStateDir
	}
	return cfg, nil
}
