package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/otwatch/internal/api"
	"github.com/kalambet/otwatch/internal/config"
	"github.com/kalambet/otwatch/internal/storage"
	"github.com/kalambet/otwatch/internal/threat"
)

// --- threats ---

var threatsCmd = &cobra.Command{
	Use:   "threats",
	Short: "Inspect confirmed threats",
}

var threatsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List confirmed threats, newest first",
	Long: `List confirmed threats, newest first.

Examples:
  otwatch threats list --min-cvss 9
  otwatch threats list --remote --limit 5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		minCVSS, _ := cmd.Flags().GetFloat64("min-cvss")
		limit, _ := cmd.Flags().GetInt("limit")
		remote, _ := cmd.Flags().GetBool("remote")
		asJSON, _ := cmd.Flags().GetBool("json")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var list []threat.Threat
		if remote {
			list, err = fetchRemoteThreats(cmd.Context(), newAPIClient(cfg), minCVSS)
		} else {
			list, err = loadThreats(cfg.Storage.OutputFile, minCVSS)
		}
		if err != nil {
			return err
		}
		if limit > 0 && len(list) > limit {
			list = list[:limit]
		}

		if asJSON {
			return writeJSON(os.Stdout, list)
		}
		if len(list) == 0 {
			fmt.Printf("No threats at or above CVSS %.1f.\n", minCVSS)
			return nil
		}
		writeThreatTable(os.Stdout, list)
		return nil
	},
}

var threatsShowCmd = &cobra.Command{
	Use:   "show <cve-id>",
	Short: "Show one threat with its full analysis",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		threats, err := threat.ReadFile(cfg.Storage.OutputFile)
		if err != nil {
			return err
		}
		t, err := threat.Find(threats, args[0])
		if err != nil {
			return err
		}
		return writeJSON(os.Stdout, t)
	},
}

var threatsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise confirmed threats",
	RunE: func(cmd *cobra.Command, args []string) error {
		minCVSS, _ := cmd.Flags().GetFloat64("min-cvss")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		list, err := loadThreats(cfg.Storage.OutputFile, minCVSS)
		if err != nil {
			return err
		}
		writeStats(os.Stdout, threat.Summarize(list, time.Now()))
		return nil
	},
}

func init() {
	threatsListCmd.Flags().Float64("min-cvss", 0, "minimum CVSS base score")
	threatsListCmd.Flags().Int("limit", 20, "maximum number of threats to list (0 for all)")
	threatsListCmd.Flags().Bool("remote", false, "read from the running dashboard instead of the snapshot file")
	threatsListCmd.Flags().Bool("json", false, "print JSON instead of a table")
	threatsStatsCmd.Flags().Float64("min-cvss", 0, "minimum CVSS base score")

	threatsCmd.AddCommand(threatsListCmd)
	threatsCmd.AddCommand(threatsShowCmd)
	threatsCmd.AddCommand(threatsStatsCmd)
}

func loadThreats(path string, minCVSS float64) ([]threat.Threat, error) {
	threats, err := threat.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return threat.NewestFirst(threat.AtLeast(threats, minCVSS)), nil
}

func fetchRemoteThreats(ctx context.Context, c *apiClient, minCVSS float64) ([]threat.Threat, error) {
	q := url.Values{}
	q.Set("min_cvss", strconv.FormatFloat(minCVSS, 'f', -1, 64))

	resp, err := c.get(ctx, "/api/threats?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var body struct {
		Threats []threat.Threat `json:"threats"`
	}
	if err := decodeJSON(resp, &body); err != nil {
		return nil, err
	}
	return body.Threats, nil
}

func writeThreatTable(w io.Writer, threats []threat.Threat) {
	rows := make([][]string, 0, len(threats))
	for _, t := range threats {
		rows = append(rows, []string{
			t.ID,
			severity(t.Severity),
			t.DetectedAt.Local().Format(time.DateTime),
			truncate(strings.Join(t.Keywords, ", "), 30),
			truncate(t.Insight, 60),
		})
	}
	renderTable(w, []string{"CVE", "CVSS", "Detected", "Keywords", "Insight"}, rows)
}

func writeStats(w io.Writer, st threat.Stats) {
	fmt.Fprintf(w, "%s %d\n", boldColor.Sprint("Total:"), st.Total)
	fmt.Fprintf(w, "%s %d\n", boldColor.Sprint("Critical (>= 9.0):"), st.Critical)
	fmt.Fprintf(w, "%s %d\n", boldColor.Sprint("High (7.0-8.9):"), st.High)
	fmt.Fprintf(w, "%s %d\n", boldColor.Sprint("Last 24h:"), st.Last24h)
	fmt.Fprintf(w, "%s %d\n", boldColor.Sprint("Distinct keywords:"), st.DistinctKeywords)

	if st.Total == 0 {
		return
	}
	fmt.Fprintln(w)
	rows := make([][]string, 0, len(st.Histogram))
	for _, b := range st.Histogram {
		rows = append(rows, []string{fmt.Sprintf("%.0f-%.0f", b.Low, b.High), strconv.Itoa(b.Count), strings.Repeat("#", b.Count)})
	}
	renderTable(w, []string{"CVSS", "Count", ""}, rows)

	if len(st.TopKeywords) == 0 {
		return
	}
	fmt.Fprintln(w)
	rows = make([][]string, 0, len(st.TopKeywords))
	for _, k := range st.TopKeywords {
		rows = append(rows, []string{k.Keyword, strconv.Itoa(k.Count)})
	}
	renderTable(w, []string{"Keyword", "Threats"}, rows)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect monitoring cycle history",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent monitoring cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		defer store.Close()

		runs, err := store.RecentRuns(limit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded.")
			return nil
		}
		writeRunTable(os.Stdout, runs)
		return nil
	},
}

var runsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete run history older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		if olderThan <= 0 {
			return errors.New("--older-than must be positive")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening run history: %w", err)
		}
		defer store.Close()

		n, err := store.PruneRuns(time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		printSuccess("Pruned %d runs", n)
		return nil
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "delete runs started before now minus this duration")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsPruneCmd)
}

func writeRunTable(w io.Writer, runs []storage.Run) {
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		note := r.FetchError
		if note == "" {
			note = r.FlushError
		}
		rows = append(rows, []string{
			r.StartedAt.Local().Format(time.DateTime),
			runStatus(r.Status),
			r.Duration().Round(time.Millisecond).String(),
			strconv.Itoa(r.Fetched),
			strconv.Itoa(r.Confirmed),
			strconv.Itoa(r.Added),
			strconv.Itoa(r.Total),
			truncate(note, 50),
		})
	}
	renderTable(w, []string{"Started", "Status", "Took", "Fetched", "Confirmed", "Added", "Stored", "Error"}, rows)
}

func runStatus(status string) string {
	switch status {
	case storage.StatusCompleted:
		return successColor.Sprint(status)
	case storage.StatusFetchFailed, storage.StatusFlushFailed:
		return errorColor.Sprint(status)
	default:
		return status
	}
}

// --- serve / mcp ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard over the snapshot file",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		deps := api.DashboardDeps{ThreatsPath: cfg.Storage.OutputFile}
		if store, err := storage.Open(cfg.Storage.DataDir); err != nil {
			printWarning("run history unavailable: %v", err)
		} else {
			defer store.Close()
			deps.Runs = store
		}

		return serveHTTP(ctx, cfg.Server.Addr, api.NewDashboardHandler(deps))
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the threat snapshot to MCP clients over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		// stdout carries the protocol; logs go to stderr or the log file.
		logCloser, err := setupLogging(cfg.Log)
		if err != nil {
			return err
		}
		defer logCloser.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		deps := api.MCPDeps{ThreatsPath: cfg.Storage.OutputFile}
		if store, err := storage.Open(cfg.Storage.DataDir); err == nil {
			defer store.Close()
			deps.Runs = store
		}

		stdio := server.NewStdioServer(api.NewMCPServer(deps))
		if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", boldColor.Sprint(k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value, restoring its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store an API key in the secrets file",
	Long: fmt.Sprintf(`Store an API key in the secrets file.

Secret keys: %s`, strings.Join(config.SecretKeys(), ", ")),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.ConfigFilePath())
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configSetSecretCmd)
	configCmd.AddCommand(configPathCmd)
}
