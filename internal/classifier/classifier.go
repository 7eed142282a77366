// Package classifier confirms keyword-matched vulnerability records as OT
// threats using a reasoning oracle, falling back to the keyword verdict when
// the oracle cannot answer.
package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/otwatch/internal/engine"
	"github.com/kalambet/otwatch/internal/nvd"
	"github.com/kalambet/otwatch/internal/relevance"
	"github.com/kalambet/otwatch/internal/threat"
)

var errEmptyAssessment = errors.New("oracle returned no assessment")

const (
	// FallbackInsight marks threats confirmed by keywords alone.
	FallbackInsight = "Rule-based OT detection (LLM unavailable)"
	// NoInsight is used when the oracle confirms without an explanation.
	NoInsight = "No insight provided"

	maxReferences = 3
)

// Chatter is the oracle interface the classifier needs. engine.Engine
// satisfies it.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, jsonSchema *engine.Schema) (string, error)
}

// Outcome describes how Classify reached its result.
type Outcome int

const (
	Skipped  Outcome = iota // no keyword matched; the oracle was not called
	Rejected                // the oracle said the record is not OT related
	Confirmed               // the oracle confirmed the record
	Fallback                // the oracle failed; keywords decided
)

func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Rejected:
		return "rejected"
	case Confirmed:
		return "confirmed"
	case Fallback:
		return "fallback"
	}
	return "unknown"
}

// assessment is the oracle's JSON answer. IsOT is a pointer so that a missing
// field reads as "not related".
type assessment struct {
	IsOT               *bool    `json:"is_ot_related"`
	RiskExplanation    string   `json:"risk_explanation"`
	AffectedSystems    []string `json:"affected_systems"`
	RecommendedActions []string `json:"recommended_actions"`
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTimeout bounds each oracle call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) { c.timeout = d }
}

// WithObserver registers a callback invoked once per classified record.
func WithObserver(fn func(Outcome)) Option {
	return func(c *Classifier) { c.observe = fn }
}

// WithClock overrides the detection timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// Classifier turns candidate records into confirmed threats.
type Classifier struct {
	oracle  Chatter
	model   string
	filter  *relevance.Filter
	timeout time.Duration
	observe func(Outcome)
	now     func() time.Time
}

// New creates a Classifier. A nil filter uses the default OT vocabulary.
func New(oracle Chatter, model string, filter *relevance.Filter, opts ...Option) *Classifier {
	if filter == nil {
		filter = relevance.New(nil)
	}
	c := &Classifier{
		oracle: oracle,
		model:  model,
		filter: filter,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify decides whether rec is an OT threat. Records without a keyword
// match are rejected without contacting the oracle. When the oracle errors or
// its answer cannot be parsed, the keyword match alone confirms the record.
func (c *Classifier) Classify(ctx context.Context, rec nvd.Record) (*threat.Threat, bool) {
	t, outcome := c.classify(ctx, rec)
	if c.observe != nil {
		c.observe(outcome)
	}
	return t, t != nil
}

func (c *Classifier) classify(ctx context.Context, rec nvd.Record) (*threat.Threat, Outcome) {
	keywords := c.filter.Match(rec.Description)
	if len(keywords) == 0 {
		return nil, Skipped
	}

	a, err := c.ask(ctx, rec)
	if err != nil {
		slog.Warn("classifier: oracle unavailable, using keyword verdict", "cve_id", rec.ID, "error", err)
		return c.newThreat(rec, keywords, FallbackInsight, nil), Fallback
	}

	if a.IsOT == nil || !*a.IsOT {
		slog.Debug("classifier: oracle rejected record", "cve_id", rec.ID)
		return nil, Rejected
	}

	insight := strings.TrimSpace(a.RiskExplanation)
	if insight == "" {
		insight = NoInsight
	}
	return c.newThreat(rec, keywords, insight, a), Confirmed
}

func (c *Classifier) ask(ctx context.Context, rec nvd.Record) (*assessment, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	raw, err := c.oracle.Chat(ctx, c.model, BuildPrompt(rec), assessmentSchema())
	if err != nil {
		return nil, err
	}

	var a *assessment
	if err := json.Unmarshal([]byte(stripFences(raw)), &a); err != nil {
		slog.Warn("classifier: failed to unmarshal oracle response", "cve_id", rec.ID, "error", err, "response", raw)
		return nil, err
	}
	if a == nil {
		slog.Warn("classifier: oracle response is not an object", "cve_id", rec.ID, "response", raw)
		return nil, errEmptyAssessment
	}
	return a, nil
}

func (c *Classifier) newThreat(rec nvd.Record, keywords []string, insight string, a *assessment) *threat.Threat {
	t := &threat.Threat{
		ID:          rec.ID,
		Description: threat.Excerpt(rec.Description),
		Insight:     insight,
		Keywords:    keywords,
		DetectedAt:  c.now().UTC(),
		References:  rec.ReferenceURLs(maxReferences),
	}
	if rec.Severity != nil {
		t.Severity = *rec.Severity
	}
	if a != nil {
		t.AffectedSystems = a.AffectedSystems
		t.RecommendedActions = a.RecommendedActions
	}
	return t
}

// ClassifyBatch classifies recs in order and returns the confirmed threats in
// input order. A failure on one record never affects the others.
func (c *Classifier) ClassifyBatch(ctx context.Context, recs []nvd.Record) []threat.Threat {
	var out []threat.Threat
	for _, rec := range recs {
		t, ok := c.Classify(ctx, rec)
		if !ok {
			continue
		}
		slog.Info("classifier: found OT threat", "cve_id", t.ID, "cvss", t.Severity, "keywords", t.Keywords)
		out = append(out, *t)
	}
	return out
}

// stripFences removes a Markdown code fence wrapped around a JSON answer.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
