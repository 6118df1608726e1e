package diag

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/pingsantohq/pathprobe/internal/config"
	"github.com/pingsantohq/pathprobe/internal/engine"
	"github.com/pingsantohq/pathprobe/internal/resultlog"
	"github.com/pingsantohq/pathprobe/internal/stats"
	"github.com/pingsantohq/pathprobe/pkg/types"
)

const (
	defaultOutputPrefix = "diag_"
	defaultTailRows     = 200
	infoFileName        = "diagnostics/info.json"
	configDirName       = "config"
	stateDirName        = "state"
	logsDirName         = "logs"
	resultsDirName      = "results"
	observabilityDir    = "observability"
)

// Summarized metric families; everything else stays in metrics.prom only.
var summarizedMetrics = []string{
	"pathprobe_run_active",
	"pathprobe_ready",
	"pathprobe_sink_errors_total",
}

type multiValue []string

func (mv *multiValue) String() string {
	return strings.Join(*mv, ",")
}

func (mv *multiValue) Set(value string) error {
	if value == "" {
		return nil
	}
	*mv = append(*mv, value)
	return nil
}

// Dependencies provides optional overrides for testing.
type Dependencies struct {
	Now        func() time.Time
	Out        io.Writer
	HTTPClient *http.Client
	RunCommand func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Run executes the diagnostics workflow, producing a tar.gz bundle.
func Run(ctx context.Context, args []string, deps Dependencies) error {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.RunCommand == nil {
		deps.RunCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			cmd := exec.CommandContext(ctx, name, args...)
			return cmd.CombinedOutput()
		}
	}

	fs := flag.NewFlagSet("diag", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to stream configuration file")
	stateDirFlag := fs.String("state-dir", "", "Override for the run record directory")
	resultsFlag := fs.String("results", "", "Override for the result log path")
	outputPath := fs.String("output", "", "Path for diagnostics tarball (default ./diag_<ts>.tar.gz)")
	logsDir := fs.String("logs", "", "Directory containing pathprobe logs to include (default: directory of logging.file)")
	tailRows := fs.Int("tail", defaultTailRows, "Number of most recent result rows to include")
	includeMetrics := fs.Bool("include-metrics", true, "Include metrics scrape snapshot")
	metricsURL := fs.String("metrics-url", "", "Metrics endpoint URL (default derived from engine.metrics_addr)")
	metricsTimeout := fs.Duration("metrics-timeout", 3*time.Second, "HTTP timeout when scraping metrics")
	var journalUnits multiValue
	fs.Var(&journalUnits, "journal-unit", "Systemd unit to capture via journalctl (repeatable)")
	journalSince := fs.Duration("journal-since", time.Hour, "How far back to collect journalctl logs (e.g., 1h)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	now := deps.Now().UTC()
	outPath := *outputPath
	if outPath == "" {
		outPath = fmt.Sprintf("%s%s.tar.gz", defaultOutputPrefix, now.Format("20060102T150405Z"))
	}
	if dir := filepath.Dir(outPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure output directory %q: %w", dir, err)
		}
	}

	info := bundleInfo{
		GeneratedAt: now.Format(time.RFC3339),
		OutputPath:  outPath,
		Warnings:    make([]string, 0, 4),
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
	}

	var cfg config.Config
	if parsed, err := config.Load(ctx, *configPath); err != nil {
		info.Warnings = append(info.Warnings, fmt.Sprintf("config unavailable (%s): %v", *configPath, err))
	} else {
		cfg = parsed
		info.ConfigPath = *configPath
		info.Streams = len(cfg.Streams)
	}

	stateDir := firstNonEmpty(*stateDirFlag, cfg.Engine.StateDir, config.DefaultStateDir)
	resultsPath := firstNonEmpty(*resultsFlag, cfg.Engine.ResultsPath, config.DefaultResultsPath)
	info.StateDir = stateDir
	info.ResultsPath = resultsPath

	record, live, err := engine.LiveRun(ctx, stateDir)
	if err != nil {
		info.Warnings = append(info.Warnings, err.Error())
	} else if record.RunID != "" {
		info.Run = &runSummary{
			RunID:     record.RunID,
			PID:       record.PID,
			StartedAt: record.StartedAt.Format(time.RFC3339),
			Live:      live,
		}
		if !live {
			info.Warnings = append(info.Warnings, fmt.Sprintf("run record %s belongs to dead pid %d", record.RunID, record.PID))
		}
	}

	outFile, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create diagnostics file %q: %w", outPath, err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	defer gw.Close()

	tw := tar.NewWriter(gw)
	defer tw.Close()

	addOptionalFile(tw, *configPath, filepath.Join(configDirName, filepath.Base(*configPath)), "config", &info)
	addOptionalFile(tw, config.StatePath(stateDir), filepath.Join(stateDirName, config.StateFileName), "run record", &info)

	logs := *logsDir
	if logs == "" && cfg.Logging.File != "" {
		logs = filepath.Dir(cfg.Logging.File)
	}
	if logs != "" {
		if _, err := os.Stat(logs); err == nil {
			if err := addLogsDir(tw, logs, logsDirName); err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include logs dir %q: %v", logs, err))
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			info.Warnings = append(info.Warnings, fmt.Sprintf("unable to stat logs dir %q: %v", logs, err))
		}
	}

	if summary, err := stats.FromLog(resultsPath); err != nil {
		info.Warnings = append(info.Warnings, fmt.Sprintf("stats unavailable: %v", err))
	} else {
		info.Stats = &summary
	}
	if *tailRows > 0 {
		tail, scanned, err := tailResults(resultsPath, *tailRows)
		if err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("result log unavailable: %v", err))
		} else {
			info.ResultRows = scanned.Rows
			info.SkippedRows = scanned.Skipped
			if err := addBytes(tw, tail, filepath.ToSlash(filepath.Join(resultsDirName, "tail.csv"))); err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include result tail: %v", err))
			}
		}
	}

	scrapeURL := *metricsURL
	if scrapeURL == "" {
		if addr := cfg.MetricsListenAddr(); addr != "" {
			scrapeURL = "http://" + addr + "/metrics"
		}
	}
	if *includeMetrics && scrapeURL != "" {
		client := deps.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: *metricsTimeout}
		}
		scrapeCtx, cancel := context.WithTimeout(ctx, *metricsTimeout)
		metricsData, err := scrapeMetrics(scrapeCtx, client, scrapeURL)
		cancel()
		if err != nil {
			info.Warnings = append(info.Warnings, fmt.Sprintf("metrics scrape failed: %v", err))
		} else {
			if err := addBytes(tw, metricsData, filepath.ToSlash(filepath.Join(observabilityDir, "metrics.prom"))); err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include metrics snapshot: %v", err))
			}
			summary, err := summarizeMetrics(metricsData, scrapeURL)
			if err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("parse metrics: %v", err))
			}
			info.Metrics = summary
		}
	}

	if len(journalUnits) > 0 {
		sinceArg := deps.Now().Add(-*journalSince).Format(time.RFC3339)
		info.Journal = &journalSummary{
			Units: append([]string(nil), ([]string)(journalUnits)...),
			Since: sinceArg,
		}
		for _, unit := range journalUnits {
			data, err := deps.RunCommand(ctx, "journalctl", "--unit", unit, "--since", sinceArg, "--no-pager")
			if err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("journalctl for unit %s failed: %v", unit, err))
				continue
			}
			name := filepath.ToSlash(filepath.Join(logsDirName, "journalctl", sanitizeFilename(unit)+".log"))
			if err := addBytes(tw, data, name); err != nil {
				info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include journal for unit %s: %v", unit, err))
			}
		}
	}

	if err := writeInfo(tw, info); err != nil {
		return err
	}
	fmt.Fprintf(deps.Out, "Diagnostics written to %s\n", outPath)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func addOptionalFile(tw *tar.Writer, src, name, what string, info *bundleInfo) {
	fi, err := os.Stat(src)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			info.Warnings = append(info.Warnings, fmt.Sprintf("unable to stat %s %q: %v", what, src, err))
		}
		return
	}
	if !fi.Mode().IsRegular() {
		info.Warnings = append(info.Warnings, fmt.Sprintf("%s path %q is not a regular file", what, src))
		return
	}
	if err := addFile(tw, src, filepath.ToSlash(name)); err != nil {
		info.Warnings = append(info.Warnings, fmt.Sprintf("failed to include %s %q: %v", what, src, err))
	}
}

// tailResults renders the last n well-formed rows of the log as CSV.
func tailResults(path string, n int) ([]byte, resultlog.ScanStats, error) {
	ring := make([]types.ProbeResult, 0, n)
	next := 0
	scanned, err := resultlog.Scan(path, func(r types.ProbeResult) error {
		if len(ring) < n {
			ring = append(ring, r)
			return nil
		}
		ring[next] = r
		next = (next + 1) % n
		return nil
	})
	if err != nil {
		return nil, scanned, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(resultlog.Header); err != nil {
		return nil, scanned, err
	}
	for i := range ring {
		if err := w.Write(resultlog.Row(ring[(next+i)%len(ring)])); err != nil {
			return nil, scanned, err
		}
	}
	w.Flush()
	return buf.Bytes(), scanned, w.Error()
}

func writeInfo(tw *tar.Writer, info bundleInfo) error {
	payload, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal diagnostics info: %w", err)
	}
	return addBytes(tw, payload, infoFileName)
}

func addBytes(tw *tar.Writer, data []byte, name string) error {
	header := &tar.Header{
		Name:    name,
		Mode:    0o600,
		Size:    int64(len(data)),
		ModTime: time.Now(),
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write tar header for %q: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write tar content for %q: %w", name, err)
	}
	return nil
}

func addFile(tw *tar.Writer, src, name string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %q: %w", src, err)
	}
	file, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %q: %w", src, err)
	}
	defer file.Close()

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("header for %q: %w", src, err)
	}
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header for %q: %w", src, err)
	}
	if _, err := io.Copy(tw, file); err != nil {
		return fmt.Errorf("copy %q: %w", src, err)
	}
	return nil
}

// addLogsDir copies the regular files of dir, including rotated and
// compressed backups.
func addLogsDir(tw *tar.Writer, dir, base string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return addFile(tw, path, filepath.ToSlash(filepath.Join(base, rel)))
	})
}

func scrapeMetrics(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/plain")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

func summarizeMetrics(data []byte, url string) (*metricsSummary, error) {
	summary := &metricsSummary{URL: url, Values: make(map[string]float64)}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(bytes.NewReader(data))
	if err != nil {
		return summary, err
	}
	for _, name := range summarizedMetrics {
		mf, ok := families[name]
		if !ok || len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		switch {
		case m.GetGauge() != nil:
			summary.Values[name] = m.GetGauge().GetValue()
		case m.GetCounter() != nil:
			summary.Values[name] = m.GetCounter().GetValue()
		case m.GetUntyped() != nil:
			summary.Values[name] = m.GetUntyped().GetValue()
		}
	}
	if mf, ok := families["pathprobe_probes_total"]; ok {
		summary.ProbesByStatus = make(map[string]float64)
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "status" {
					summary.ProbesByStatus[lp.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	return summary, nil
}

func sanitizeFilename(input string) string {
	safe := strings.ReplaceAll(input, "/", "_")
	safe = strings.ReplaceAll(safe, "..", "_")
	if safe == "" {
		return "unknown"
	}
	return safe
}

type bundleInfo struct {
	GeneratedAt string          `json:"generated_at"`
	OutputPath  string          `json:"output_path"`
	ConfigPath  string          `json:"config_path,omitempty"`
	Streams     int             `json:"streams,omitempty"`
	StateDir    string          `json:"state_dir"`
	ResultsPath string          `json:"results_path"`
	ResultRows  int             `json:"result_rows"`
	SkippedRows int             `json:"skipped_rows"`
	Run         *runSummary     `json:"run,omitempty"`
	Stats       *stats.Summary  `json:"stats,omitempty"`
	Metrics     *metricsSummary `json:"metrics,omitempty"`
	Journal     *journalSummary `json:"journal,omitempty"`
	Warnings    []string        `json:"warnings,omitempty"`
	GoVersion   string          `json:"go_version"`
	Platform    string          `json:"platform"`
}

type runSummary struct {
	RunID     string `json:"run_id"`
	PID       int    `json:"pid"`
	StartedAt string `json:"started_at"`
	Live      bool   `json:"live"`
}

type metricsSummary struct {
	URL            string             `json:"url"`
	Values         map[string]float64 `json:"values,omitempty"`
	ProbesByStatus map[string]float64 `json:"probes_by_status,omitempty"`
}

type journalSummary struct {
	Units []string `json:"units"`
	Since string   `json:"since"`
}
