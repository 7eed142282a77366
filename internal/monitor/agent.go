// Package monitor runs the fetch, classify and persist cycle on a fixed
// interval.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kalambet/otwatch/internal/metrics"
	"github.com/kalambet/otwatch/internal/nvd"
	"github.com/kalambet/otwatch/internal/storage"
	"github.com/kalambet/otwatch/internal/threat"
)

const (
	DefaultInterval = 10 * time.Minute
	DefaultLookback = 10 * time.Minute
)

// State is the phase the agent is currently in.
type State int32

const (
	Idle State = iota
	Fetching
	Classifying
	Persisting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Classifying:
		return "classifying"
	case Persisting:
		return "persisting"
	}
	return "unknown"
}

// Source delivers records not seen by earlier calls.
type Source interface {
	FetchLatest(ctx context.Context, lookback time.Duration) ([]nvd.Record, error)
}

// Classifier confirms OT threats among records.
type Classifier interface {
	ClassifyBatch(ctx context.Context, recs []nvd.Record) []threat.Threat
}

// ThreatStore is the deduplicating threat list.
type ThreatStore interface {
	Append(t threat.Threat) bool
	Flush() error
	Len() int
}

// RunRecorder persists cycle history.
type RunRecorder interface {
	SaveRun(r storage.Run) (string, error)
}

// Config holds the agent's timing parameters.
type Config struct {
	Interval time.Duration
	Lookback time.Duration
}

// Report describes one finished cycle.
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Fetched    int
	Confirmed  int
	Added      int
	Total      int
	Flushed    bool
	FetchErr   error
	FlushErr   error
	Status     string
}

// Run converts the report to a run history record.
func (r Report) Run() storage.Run {
	run := storage.Run{
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Fetched:    r.Fetched,
		Confirmed:  r.Confirmed,
		Added:      r.Added,
		Total:      r.Total,
		Flushed:    r.Flushed,
		Status:     r.Status,
	}
	if r.FetchErr != nil {
		run.FetchError = r.FetchErr.Error()
	}
	if r.FlushErr != nil {
		run.FlushError = r.FlushErr.Error()
	}
	return run
}

// Agent drives the monitoring cycle.
type Agent struct {
	source     Source
	classifier Classifier
	store      ThreatStore
	runs       RunRecorder
	interval   time.Duration
	lookback   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	state atomic.Int32

	mu   sync.Mutex
	last *Report
}

// NewAgent creates an Agent. runs may be nil to disable run history. Zero
// durations in cfg select the defaults.
func NewAgent(source Source, classifier Classifier, store ThreatStore, runs RunRecorder, cfg Config) *Agent {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	return &Agent{
		source:     source,
		classifier: classifier,
		store:      store,
		runs:       runs,
		interval:   cfg.Interval,
		lookback:   cfg.Lookback,
		logger:     slog.Default(),
		now:        time.Now,
	}
}

// State returns the current phase.
func (a *Agent) State() State { return State(a.state.Load()) }

// LastReport returns the most recent cycle report, if any.
func (a *Agent) LastReport() (Report, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return Report{}, false
	}
	return *a.last, true
}

func (a *Agent) setState(s State) {
	a.state.Store(int32(s))
}

// Run executes one cycle immediately and then one per interval until ctx is
// cancelled. A cycle that has started always runs to completion.
func (a *Agent) Run(ctx context.Context) {
	a.logger.Info("monitor: starting", "interval", a.interval, "lookback", a.lookback)
	for {
		if ctx.Err() != nil {
			a.logger.Info("monitor: shutting down")
			return
		}

		a.RunCycle(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			a.logger.Info("monitor: shutting down")
			return
		case <-time.After(a.interval):
		}
	}
}

// RunCycle performs one fetch, classify and persist pass. The snapshot is
// written only when the fetch returned at least one record.
func (a *Agent) RunCycle(ctx context.Context) Report {
	rep := Report{StartedAt: a.now()}
	defer a.setState(Idle)

	a.setState(Fetching)
	recs, err := a.source.FetchLatest(ctx, a.lookback)
	metrics.RecordFetch(len(recs), err)
	rep.Fetched = len(recs)

	switch {
	case err != nil:
		a.logger.Warn("monitor: fetch failed", "error", err)
		rep.FetchErr = err
		rep.Fetched = 0
		rep.Status = storage.StatusFetchFailed
	case len(recs) == 0:
		rep.Status = storage.StatusEmpty
	default:
		a.setState(Classifying)
		confirmed := a.classifier.ClassifyBatch(ctx, recs)
		rep.Confirmed = len(confirmed)
		for _, t := range confirmed {
			if a.store.Append(t) {
				rep.Added++
			}
		}

		a.setState(Persisting)
		if err := a.store.Flush(); err != nil {
			a.logger.Error("monitor: flushing threats failed", "error", err)
			rep.FlushErr = err
			rep.Status = storage.StatusFlushFailed
		} else {
			rep.Flushed = true
			rep.Status = storage.StatusCompleted
		}
	}

	rep.Total = a.store.Len()
	rep.FinishedAt = a.now()
	a.finish(rep)
	return rep
}

func (a *Agent) finish(rep Report) {
	metrics.RecordCycle(rep.Status, rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	metrics.RecordThreats(rep.Added, rep.Total)

	if a.runs != nil {
		if _, err := a.runs.SaveRun(rep.Run()); err != nil {
			a.logger.Warn("monitor: recording run failed", "error", err)
		}
	}

	a.mu.Lock()
	a.last = &rep
	a.mu.Unlock()

	a.logger.Info("monitor: cycle finished",
		"status", rep.Status,
		"fetched", rep.Fetched,
		"confirmed", rep.Confirmed,
		"added", rep.Added,
		"total", rep.Total,
		"duration", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond),
	)
}
