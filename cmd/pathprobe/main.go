package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/pingsantohq/pathprobe/internal/config"
	"github.com/pingsantohq/pathprobe/internal/control"
	"github.com/pingsantohq/pathprobe/internal/diag"
	"github.com/pingsantohq/pathprobe/internal/engine"
	"github.com/pingsantohq/pathprobe/internal/health"
	"github.com/pingsantohq/pathprobe/internal/logging"
	"github.com/pingsantohq/pathprobe/internal/metrics"
)

func main() {
	ctx := context.Background()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]
	var err error

	switch cmd {
	case "start", "run":
		err = start(ctx, args)
	case "stop":
		err = control.Stop(ctx, args, control.Dependencies{})
	case "clear":
		err = control.Clear(ctx, args, control.Dependencies{})
	case "stats":
		err = control.Stats(ctx, args, control.Dependencies{})
	case "status":
		err = control.Status(ctx, args, control.Dependencies{})
	case "validate":
		err = control.Validate(ctx, args, control.Dependencies{})
	case "diag":
		err = diag.Run(ctx, args, diag.Dependencies{})
	case "-h", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "command %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func start(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to stream configuration file (default $PATHPROBE_CONFIG or "+config.DefaultConfigPath+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		cfg config.Config
		err error
	)
	if path := strings.TrimSpace(*configPath); path != "" {
		cfg, err = config.Load(ctx, path)
	} else {
		cfg, err = config.LoadFromEnv(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(logging.Config{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})

	metricsStore := metrics.NewStore()
	healthChecker := health.NewChecker(metricsStore)
	ctrl := engine.New(cfg, engine.Dependencies{
		Logger:  logger,
		Metrics: metricsStore,
		Checker: healthChecker,
	})

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := ctrl.Start(runCtx, cfg)
	if err != nil {
		return err
	}

	grp, groupCtx := errgroup.WithContext(runCtx)
	monitorCtx, stopMonitor := context.WithCancel(groupCtx)
	defer stopMonitor()

	grp.Go(func() error {
		select {
		case <-handle.Done():
		case <-groupCtx.Done():
		}
		stopMonitor()
		return ctrl.Stop(handle)
	})

	if addr := cfg.MetricsListenAddr(); addr != "" {
		grp.Go(func() error {
			return serveMonitoring(monitorCtx, addr, metricsStore, healthChecker, logger)
		})
	}

	runErr := grp.Wait()
	logSummary(ctrl, logger)
	if runErr != nil {
		return runErr
	}
	logger.Info("pathprobe stopped")
	return nil
}

func logSummary(ctrl *engine.Controller, logger logrus.FieldLogger) {
	summary, err := ctrl.Stats()
	if err != nil {
		logger.WithError(err).Warn("read final stats")
		return
	}
	for _, label := range summary.Labels() {
		counts := summary.Counts[label]
		entry := logger.WithFields(logrus.Fields{
			"success": counts.Success,
			"failure": counts.Failure,
			"error":   counts.Error,
		})
		if lat, ok := summary.Latency[label]; ok {
			entry.Info(control.FormatLatency(label, lat))
			continue
		}
		entry.Infof("%s: no successful probes", label)
	}
}

func printUsage() {
	fmt.Println("pathprobe: DSCP-marked path latency prober")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  pathprobe start [--config configs/streams.yaml]")
	fmt.Println("  pathprobe stop [--state-dir dir | --config path] [--timeout 10s]")
	fmt.Println("  pathprobe clear [--config path | --results file] [--state-dir dir]")
	fmt.Println("  pathprobe stats [--config path | --results file] [--since 1h] [--last N] [--format table|yaml|json]")
	fmt.Println("  pathprobe status [--state-dir dir | --config path]")
	fmt.Println("  pathprobe validate [--config path]")
	fmt.Println("  pathprobe diag [--config path] [--output file] [--tail N] [--logs dir] [--journal-unit unit]")
}
