package api

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/otwatch/internal/storage"
	"github.com/kalambet/otwatch/internal/threat"
)

// DefaultDashboardMinCVSS is the severity floor of the HTML dashboard when no
// min_cvss parameter is given.
const DefaultDashboardMinCVSS = threat.HighSeverity

const (
	refreshSeconds  = 30
	defaultRunLimit = 20
	maxRunLimit     = 500
)

//go:embed templates/*.html
var templateFS embed.FS

var dashboardTmpl = template.Must(template.New("dashboard.html").Funcs(template.FuncMap{
	"band":  threat.Band,
	"score": formatScore,
	"join":  func(s []string) string { return strings.Join(s, ", ") },
	"ts":    func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04 UTC") },
}).ParseFS(templateFS, "templates/dashboard.html"))

// RunLister is the slice of run history the dashboard reads.
type RunLister interface {
	RecentRuns(limit int) ([]storage.Run, error)
}

// DashboardDeps holds what the dashboard serves from. The threat snapshot is
// re-read on every request; the dashboard never holds the agent's store.
type DashboardDeps struct {
	ThreatsPath string
	Runs        RunLister // nil when run history is unavailable
	Now         func() time.Time
}

// NewDashboardHandler returns the read-only dashboard: the HTML overview, the
// JSON API and the Prometheus endpoint.
func NewDashboardHandler(deps DashboardDeps) http.Handler {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	d := &dashboard{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/", d.handleIndex)

	r.Route("/api", func(r chi.Router) {
		r.Get("/threats", d.handleThreats)
		r.Get("/threats/{id}", d.handleThreat)
		r.Get("/stats", d.handleStats)
		r.Get("/runs", d.handleRuns)
	})

	return r
}

type dashboard struct {
	deps DashboardDeps
}

type threatList struct {
	Count   int             `json:"count"`
	MinCVSS float64         `json:"min_cvss"`
	Threats []threat.Threat `json:"threats"`
}

type runView struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
	Status     string    `json:"status"`
	Fetched    int       `json:"fetched"`
	Confirmed  int       `json:"confirmed"`
	Added      int       `json:"added"`
	Total      int       `json:"total"`
	Flushed    bool      `json:"flushed"`
	FetchError string    `json:"fetch_error,omitempty"`
	FlushError string    `json:"flush_error,omitempty"`
}

func newRunView(r storage.Run) runView {
	return runView{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		DurationMs: r.Duration().Milliseconds(),
		Status:     r.Status,
		Fetched:    r.Fetched,
		Confirmed:  r.Confirmed,
		Added:      r.Added,
		Total:      r.Total,
		Flushed:    r.Flushed,
		FetchError: r.FetchError,
		FlushError: r.FlushError,
	}
}

func (d *dashboard) handleThreats(w http.ResponseWriter, r *http.Request) {
	minCVSS, err := parseMinCVSS(r, 0)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	threats, ok := d.load(w)
	if !ok {
		return
	}

	list := threat.NewestFirst(threat.AtLeast(threats, minCVSS))
	writeJSON(w, threatList{Count: len(list), MinCVSS: minCVSS, Threats: list})
}

func (d *dashboard) handleThreat(w http.ResponseWriter, r *http.Request) {
	threats, ok := d.load(w)
	if !ok {
		return
	}
	t, err := threat.Find(threats, chi.URLParam(r, "id"))
	if errors.Is(err, threat.ErrNotFound) {
		httpError(w, http.StatusNotFound, "not_found_error", "%v", err)
		return
	}
	writeJSON(w, t)
}

func (d *dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	minCVSS, err := parseMinCVSS(r, 0)
	if err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		return
	}
	threats, ok := d.load(w)
	if !ok {
		return
	}
	writeJSON(w, threat.Summarize(threat.AtLeast(threats, minCVSS), d.deps.Now()))
}

func (d *dashboard) handleRuns(w http.ResponseWriter, r *http.Request) {
	if d.deps.Runs == nil {
		httpError(w, http.StatusNotFound, "not_found_error", "run history is not available")
		return
	}
	limit := defaultRunLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunLimit)
	}

	runs, err := d.deps.Runs.RecentRuns(limit)
	if err != nil {
		slog.Error("dashboard: listing runs", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs")
		return
	}
	views := make([]runView, 0, len(runs))
	for _, run := range runs {
		views = append(views, newRunView(run))
	}
	writeJSON(w, views)
}

type indexData struct {
	MinCVSS     float64
	Refresh     int
	GeneratedAt time.Time
	Stats       threat.Stats
	Threats     []threat.Threat
	LastRun     *runView
	LoadError   string
}

func (d *dashboard) handleIndex(w http.ResponseWriter, r *http.Request) {
	minCVSS, err := parseMinCVSS(r, DefaultDashboardMinCVSS)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data := indexData{MinCVSS: minCVSS, Refresh: refreshSeconds, GeneratedAt: d.deps.Now()}
	threats, err := threat.ReadFile(d.deps.ThreatsPath)
	if err != nil {
		slog.Warn("dashboard: reading snapshot", "path", d.deps.ThreatsPath, "error", err)
		data.LoadError = err.Error()
	}
	filtered := threat.AtLeast(threats, minCVSS)
	data.Stats = threat.Summarize(filtered, data.GeneratedAt)
	data.Threats = threat.NewestFirst(filtered)

	if d.deps.Runs != nil {
		if runs, err := d.deps.Runs.RecentRuns(1); err == nil && len(runs) > 0 {
			v := newRunView(runs[0])
			data.LastRun = &v
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := dashboardTmpl.Execute(w, data); err != nil {
		slog.Error("dashboard: rendering", "error", err)
	}
}

func (d *dashboard) load(w http.ResponseWriter) ([]threat.Threat, bool) {
	threats, err := threat.ReadFile(d.deps.ThreatsPath)
	if err != nil {
		slog.Error("dashboard: reading snapshot", "path", d.deps.ThreatsPath, "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "threat snapshot is unreadable")
		return nil, false
	}
	return threats, true
}

func parseMinCVSS(r *http.Request, def float64) (float64, error) {
	s := r.URL.Query().Get("min_cvss")
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 10 {
		return 0, fmt.Errorf("min_cvss must be a number between 0 and 10, got %q", s)
	}
	return v, nil
}

func formatScore(v float64) string {
	if v <= 0 {
		return "N/A"
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
