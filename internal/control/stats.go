package control

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pingsantohq/pathprobe/internal/engine"
	"github.com/pingsantohq/pathprobe/internal/stats"
)

// Stats prints the per-label aggregate of the result log.
func Stats(ctx context.Context, args []string, deps Dependencies) error {
	deps.setDefaults()

	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	paths := addPathFlags(fs, true)
	since := fs.Duration("since", 0, "Only rows newer than this duration")
	last := fs.Int("last", 0, "Only the most recent N rows")
	format := fs.String("format", "table", "Output format (table|yaml|json)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *since < 0 || *last < 0 {
		return fmt.Errorf("--since and --last must not be negative")
	}

	cfg, err := paths.resolve(ctx)
	if err != nil {
		return err
	}

	var opts []stats.Option
	if *since > 0 {
		opts = append(opts, stats.WithSince(deps.Now().Add(-*since)))
	}
	if *last > 0 {
		opts = append(opts, stats.WithLastN(*last))
	}

	summary, err := engine.New(cfg, engine.Dependencies{}).Stats(opts...)
	if err != nil {
		return fmt.Errorf("read stats: %w", err)
	}

	switch *format {
	case "table":
		return writeTable(deps.Out, summary)
	case "yaml":
		enc := yaml.NewEncoder(deps.Out)
		defer enc.Close()
		return enc.Encode(summary)
	case "json":
		enc := json.NewEncoder(deps.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	default:
		return fmt.Errorf("invalid format %q (allowed: table, yaml, json)", *format)
	}
}

func writeTable(out io.Writer, summary stats.Summary) error {
	labels := summary.Labels()
	if len(labels) == 0 {
		fmt.Fprintln(out, "No results")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tSAMPLES\tMIN (ms)\tAVG (ms)\tMAX (ms)\tSUCCESS\tFAILURE\tERROR")
	for _, label := range labels {
		counts := summary.Counts[label]
		lat, ok := summary.Latency[label]
		if ok {
			fmt.Fprintf(tw, "%s\t%d\t%.2f\t%.2f\t%.2f\t%d\t%d\t%d\n",
				label, lat.Samples, lat.Min, lat.Avg, lat.Max, counts.Success, counts.Failure, counts.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t0\t-\t-\t-\t%d\t%d\t%d\n", label, counts.Success, counts.Failure, counts.Error)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if summary.Skipped > 0 {
		fmt.Fprintf(out, "Skipped %d malformed rows\n", summary.Skipped)
	}
	return nil
}

// FormatLatency renders one label's stats the way the table does.
func FormatLatency(label string, lat stats.LatencyStats) string {
	return fmt.Sprintf("%s: min %.2f ms, avg %.2f ms, max %.2f ms over %d samples", label, lat.Min, lat.Avg, lat.Max, lat.Samples)
}

func sinceText(now, t time.Time) string {
	return now.Sub(t).Round(time.Second).String()
}
