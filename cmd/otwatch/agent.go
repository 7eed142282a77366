package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/otwatch/internal/api"
	"github.com/kalambet/otwatch/internal/classifier"
	"github.com/kalambet/otwatch/internal/config"
	"github.com/kalambet/otwatch/internal/engine"
	"github.com/kalambet/otwatch/internal/metrics"
	"github.com/kalambet/otwatch/internal/monitor"
	"github.com/kalambet/otwatch/internal/nvd"
	"github.com/kalambet/otwatch/internal/relevance"
	"github.com/kalambet/otwatch/internal/storage"
	"github.com/kalambet/otwatch/internal/threat"
)

const shutdownTimeout = 5 * time.Second

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the monitoring agent in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		serve, _ := cmd.Flags().GetBool("serve")
		return runAgent(serve)
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single monitoring cycle and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopAgent()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agent, oracle and snapshot status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("serve", false, "also serve the dashboard on server.addr")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "otwatch.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

// runningPID returns the PID recorded in path when that process is alive.
func runningPID(path string) (int, bool) {
	pid, err := readPIDFile(path)
	if err != nil {
		return 0, false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return 0, false
	}
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return 0, false
	}
	return pid, true
}

// agentDeps is everything a monitoring cycle needs. close releases the run
// history database.
type agentDeps struct {
	agent   *monitor.Agent
	threats *threat.Store
	runs    *storage.Store
}

func (d *agentDeps) close() {
	if d.runs == nil {
		return
	}
	if err := d.runs.Close(); err != nil {
		slog.Warn("closing run history", "error", err)
	}
}

func buildAgent(ctx context.Context, cfg config.Config) (*agentDeps, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.Oracle.Provider,
		OpenAIBaseURL: cfg.Oracle.BaseURL,
		OpenAIAPIKey:  cfg.Oracle.APIKey,
		OllamaBaseURL: cfg.Oracle.OllamaURL,
		Temperature:   cfg.Oracle.Temperature,
		Timeout:       cfg.Oracle.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("selecting oracle: %w", err)
	}
	// An unreachable oracle is not fatal: every candidate then takes the
	// fallback path.
	if err := engine.EnsureReady(ctx, eng, cfg.Oracle.Model, os.Stderr); err != nil {
		printWarning("oracle not ready, candidates will be kept unverified: %v", err)
	}

	source, err := nvd.New(nvd.Options{
		BaseURL:      cfg.Feed.BaseURL,
		APIKey:       cfg.Feed.APIKey,
		PageSize:     cfg.Feed.PageSize,
		RequestDelay: cfg.Feed.RequestDelay,
		Timeout:      cfg.Feed.Timeout,
		SeenCapacity: cfg.Feed.SeenCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("creating feed client: %w", err)
	}

	cls := classifier.New(eng, cfg.Oracle.Model, relevance.New(nil),
		classifier.WithTimeout(cfg.Oracle.Timeout),
		classifier.WithObserver(func(o classifier.Outcome) {
			metrics.RecordOracle(o.String())
		}),
	)

	threats, err := threat.Open(cfg.Storage.OutputFile)
	if err != nil {
		return nil, err
	}
	metrics.RecordThreats(0, threats.Len())

	deps := &agentDeps{threats: threats}

	// Run history is optional; the pipeline works without it.
	runs, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		printWarning("run history disabled: %v", err)
	} else {
		deps.runs = runs
	}

	var recorder monitor.RunRecorder
	if deps.runs != nil {
		recorder = deps.runs
	}
	deps.agent = monitor.NewAgent(source, cls, threats, recorder, monitor.Config{
		Interval: cfg.Agent.Interval,
		Lookback: cfg.Agent.Lookback,
	})
	return deps, nil
}

func runAgent(serve bool) error {
	fmt.Fprintf(os.Stderr, "otwatch version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logCloser, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	if pid, ok := runningPID(pidPath); ok {
		return fmt.Errorf("otwatch is already running (PID %d)", pid)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildAgent(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	printStep("Watching %s every %s, snapshot at %s", cfg.Feed.BaseURL, cfg.Agent.Interval, cfg.Storage.OutputFile)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deps.agent.Run(gctx)
		return nil
	})

	if serve {
		var runs api.RunLister
		if deps.runs != nil {
			runs = deps.runs
		}
		handler := api.NewDashboardHandler(api.DashboardDeps{
			ThreatsPath: cfg.Storage.OutputFile,
			Runs:        runs,
		})
		g.Go(func() error {
			return serveHTTP(gctx, cfg.Server.Addr, handler)
		})
	}

	err = g.Wait()
	fmt.Fprintln(os.Stderr, "shutting down...")
	return err
}

func runOnce() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logCloser, err := setupLogging(cfg.Log)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := buildAgent(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	rep := deps.agent.RunCycle(ctx)
	printReport(rep)

	switch {
	case rep.FetchErr != nil:
		return fmt.Errorf("fetching feed: %w", rep.FetchErr)
	case rep.FlushErr != nil:
		return fmt.Errorf("writing snapshot: %w", rep.FlushErr)
	}
	return nil
}

func printReport(rep monitor.Report) {
	printStatus("Status", "%s", rep.Status)
	printStatus("Fetched", "%d", rep.Fetched)
	printStatus("Confirmed", "%d", rep.Confirmed)
	printStatus("Added", "%d", rep.Added)
	printStatus("Stored", "%d", rep.Total)
	printStatus("Duration", "%s", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	if rep.Flushed {
		printSuccess("Snapshot written")
	}
}

// serveHTTP runs an HTTP server until ctx is cancelled, then shuts it down.
func serveHTTP(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "otwatch dashboard listening on http://%s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopAgent() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("otwatch is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop otwatch (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to otwatch (PID %d)", pid)
	return nil
}

// historySummary describes the run history store, e.g.
// "schema v2, 14 runs (12 completed, 2 fetch_failed)".
func historySummary(store *storage.Store) (string, error) {
	version, err := store.SchemaVersion()
	if err != nil {
		return "", err
	}
	counts, err := store.CountRunsByStatus()
	if err != nil {
		return "", err
	}

	total := 0
	var parts []string
	for _, st := range []string{storage.StatusCompleted, storage.StatusEmpty, storage.StatusFetchFailed, storage.StatusFlushFailed} {
		if n := counts[st]; n > 0 {
			total += n
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	if total == 0 {
		return fmt.Sprintf("schema v%d, no runs", version), nil
	}
	return fmt.Sprintf("schema v%d, %d runs (%s)", version, total, strings.Join(parts, ", ")), nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	if pid, ok := runningPID(pidFilePath(cfg.Storage.DataDir)); ok {
		printStatus("Agent", "running (PID %d)", pid)
	} else {
		printStatus("Agent", "stopped")
	}

	client := newAPIClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if client.healthy(ctx) {
		printStatus("Dashboard", "http://%s", cfg.Server.Addr)
	} else {
		printStatus("Dashboard", "not serving")
	}

	printStatus("Oracle", "%s (%s)", cfg.Oracle.Provider, cfg.Oracle.Model)
	if err := cfg.Validate(); err != nil {
		printWarning("%v", err)
	} else if eng, err := engine.Detect(engine.DetectConfig{
		Provider:      cfg.Oracle.Provider,
		OpenAIBaseURL: cfg.Oracle.BaseURL,
		OpenAIAPIKey:  cfg.Oracle.APIKey,
		OllamaBaseURL: cfg.Oracle.OllamaURL,
		Timeout:       2 * time.Second,
	}); err == nil {
		if eng.IsRunning(ctx) {
			printStatus("Oracle reachable", "yes")
		} else {
			printStatus("Oracle reachable", "no")
		}
	}

	threats, err := threat.ReadFile(cfg.Storage.OutputFile)
	if err != nil {
		printStatus("Snapshot", "%s (unreadable: %v)", cfg.Storage.OutputFile, err)
	} else {
		st := threat.Summarize(threats, time.Now())
		printStatus("Snapshot", "%s", cfg.Storage.OutputFile)
		printStatus("Threats", "%d total, %d critical, %d high, %d in the last 24h", st.Total, st.Critical, st.High, st.Last24h)
	}

	if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
		if summary, err := historySummary(store); err == nil {
			printStatus("Run history", "%s", summary)
		}
		if last, err := store.LastRun(); err == nil {
			printStatus("Last cycle", "%s %s (%d fetched, %d added)",
				last.StartedAt.Local().Format(time.DateTime), last.Status, last.Fetched, last.Added)
		}
		store.Close()
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
