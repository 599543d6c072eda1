package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"config-checker/internal/config"
	"config-checker/internal/dedup"
	"config-checker/internal/filter"
	"config-checker/internal/geoip"
	"config-checker/internal/logger"
	"config-checker/internal/metrics"
	"config-checker/internal/model"
	"config-checker/internal/pipeline"
	"config-checker/internal/sink"
	"config-checker/internal/source"
	"config-checker/internal/telegram"
	"config-checker/internal/tester"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger.Setup(cfg.LogLevel)

	// Ctrl-C stops new work; in-flight units finish and the partial report is written.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("run_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	startTotal := time.Now()
	m := metrics.New("")
	defer writeMetrics(m, cfg.MetricsPath)

	lines, err := loadLines(ctx, cfg)
	if err != nil {
		return err
	}

	candidates, stats := dedup.Deduplicate(lines)
	m.ObserveIngest(stats.Lines, stats.Malformed, stats.Duplicates)
	slog.Info("candidates_ready",
		"lines", stats.Lines,
		"malformed", stats.Malformed,
		"duplicates", stats.Duplicates,
		"unique", len(candidates),
	)

	if len(candidates) == 0 {
		slog.Warn("no_candidates")
		return sink.WriteReport(cfg.OutputPath, nil, time.Now())
	}

	if _, err := exec.LookPath(cfg.EnginePath); err != nil {
		return fmt.Errorf("engine binary not found at %s: %w", cfg.EnginePath, err)
	}

	prober := filter.NewPipeline(cfg.ProbeTimeout)
	if cfg.ProbeRate > 0 {
		prober.Limiter = rate.NewLimiter(rate.Limit(cfg.ProbeRate), int(cfg.ProbeRate)+1)
	}

	runner := tester.NewRunner(cfg.EnginePath, cfg.CheckTarget, cfg.VerifyTimeout)
	runner.Flavor = tester.Flavor(cfg.EngineFlavor)
	runner.CheckHost = cfg.CheckHost
	runner.Grace = cfg.EngineGrace
	runner.ReadyTimeout = cfg.EngineReadyTimeout
	runner.StopTimeout = cfg.EngineStopTimeout

	bars := newProgressBars()
	p := pipeline.New(pipeline.Options{
		Prober:        prober,
		Verifier:      runner,
		ProbeWorkers:  cfg.ProbeWorkers,
		VerifyWorkers: cfg.VerifyWorkers,
		Progress:      bars.Update,
		Metrics:       m,
	})

	res, runErr := p.Run(ctx, candidates)
	bars.Finish()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	if runErr != nil {
		slog.Warn("run_interrupted", "reachable", len(res.Reachable), "working", len(res.Outcomes))
	}

	slog.Info("probe_phase_done", "total", res.Total, "reachable", len(res.Reachable), "elapsed", res.ProbeDuration)
	if len(res.Reachable) == 0 {
		slog.Warn("no_reachable_candidates")
	} else {
		slog.Info("verify_phase_done", "working", len(res.Outcomes), "elapsed", res.VerifyDuration)
	}

	publish(context.WithoutCancel(ctx), cfg, res.Outcomes)

	printSummary(os.Stdout, res, cfg.OutputPath, time.Since(startTotal))
	return nil
}

func loadLines(ctx context.Context, cfg *config.Config) ([]string, error) {
	var lines []string

	if cfg.InputPath != "" {
		fileLines, err := source.LoadFromFile(cfg.InputPath)
		if err != nil {
			return nil, fmt.Errorf("read input file: %w", err)
		}
		slog.Info("input_file_loaded", "path", cfg.InputPath, "lines", len(fileLines))
		lines = append(lines, fileLines...)
	}

	urls := cfg.Sources
	if len(urls) == 0 && cfg.InputPath == "" {
		urls = source.DefaultSources
	}
	if len(urls) > 0 {
		fetcher, err := source.NewFetcher(cfg.FetchTimeout, cfg.FetchProxy)
		if err != nil {
			return nil, err
		}
		lines = append(lines, fetcher.FetchAll(ctx, urls)...)
	}
	return lines, nil
}

// publish writes every artifact. Only the report is mandatory; the rest
// log their failure and move on.
func publish(ctx context.Context, cfg *config.Config, outcomes []model.Outcome) {
	if cfg.GeoIPPath != "" {
		db, err := geoip.Open(cfg.GeoIPPath)
		if err != nil {
			slog.Warn("geoip_open_failed", "path", cfg.GeoIPPath, "error", err)
		} else {
			db.Enrich(ctx, outcomes)
			db.Close()
		}
	}

	if err := sink.WriteReport(cfg.OutputPath, outcomes, time.Now()); err != nil {
		slog.Error("report_write_failed", "path", cfg.OutputPath, "error", err)
	} else {
		slog.Info("report_written", "path", cfg.OutputPath, "working", len(outcomes))
	}

	if cfg.JSONLPath != "" {
		if err := writeJSONL(cfg.JSONLPath, outcomes); err != nil {
			slog.Error("jsonl_write_failed", "path", cfg.JSONLPath, "error", err)
		}
	}

	if cfg.TelegramEnabled() {
		n := telegram.NewNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)
		if err := n.SendTop(ctx, outcomes, cfg.TelegramTop); err != nil {
			slog.Error("telegram_send_failed", "error", err)
		}
	}
}

func writeJSONL(path string, outcomes []model.Outcome) error {
	w, err := sink.NewJSONL(path)
	if err != nil {
		return err
	}
	if err := w.WriteAll(outcomes); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func writeMetrics(m *metrics.Metrics, path string) {
	if path == "" {
		return
	}
	if err := m.WriteTextfile(path); err != nil {
		slog.Error("metrics_write_failed", "path", path, "error", err)
	}
}

func printSummary(w io.Writer, res *pipeline.Result, outputPath string, elapsed time.Duration) {
	rule := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\n", rule)
	fmt.Fprintf(w, "Total configs tested: %d\n", res.Total)
	fmt.Fprintf(w, "Probe passed: %d\n", len(res.Reachable))
	fmt.Fprintf(w, "Engine verified: %d\n", len(res.Outcomes))
	fmt.Fprintf(w, "Phase 1 time: %.1fs\n", res.ProbeDuration.Seconds())
	fmt.Fprintf(w, "Phase 2 time: %.1fs\n", res.VerifyDuration.Seconds())
	fmt.Fprintf(w, "Total time: %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Results saved to: %s\n", outputPath)
	fmt.Fprintln(w, rule)

	if len(res.Outcomes) == 0 {
		return
	}
	top := res.Outcomes
	if len(top) > 10 {
		top = top[:10]
	}
	fmt.Fprintln(w, "\nTop 10 fastest configs:")
	for i, o := range top {
		fmt.Fprintf(w, "  %d. [%s] %s - %dms\n", i+1, o.Candidate.Type().Label(), truncate(o.Candidate.Name, 40), o.LatencyMs())
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
