package threat

import (
	"cmp"
	"slices"
	"time"
)

// Severity bands used by the dashboard and the CLI.
const (
	CriticalSeverity = 9.0
	HighSeverity     = 7.0
	MediumSeverity   = 4.0

	topKeywords = 10
)

// Stats summarises a set of threats.
type Stats struct {
	Total            int            `json:"total"`
	Critical         int            `json:"critical"`
	High             int            `json:"high"`
	Last24h          int            `json:"last_24h"`
	DistinctKeywords int            `json:"distinct_keywords"`
	Histogram        []Bucket       `json:"cvss_histogram"`
	TopKeywords      []KeywordCount `json:"top_keywords"`
}

// Bucket counts scored threats with Low <= severity < High. The last bucket
// also holds 10.0.
type Bucket struct {
	Low   float64 `json:"low"`
	High  float64 `json:"high"`
	Count int     `json:"count"`
}

// KeywordCount is the number of threats that matched a keyword.
type KeywordCount struct {
	Keyword string `json:"keyword"`
	Count   int    `json:"count"`
}

// Band names the severity band of a score: critical, high, medium, low or
// unknown for an unscored threat.
func Band(score float64) string {
	switch {
	case score >= CriticalSeverity:
		return "critical"
	case score >= HighSeverity:
		return "high"
	case score >= MediumSeverity:
		return "medium"
	case score > 0:
		return "low"
	default:
		return "unknown"
	}
}

// AtLeast returns the threats with severity >= min, keeping order.
func AtLeast(threats []Threat, min float64) []Threat {
	out := make([]Threat, 0, len(threats))
	for _, t := range threats {
		if t.Severity >= min {
			out = append(out, t)
		}
	}
	return out
}

// NewestFirst returns a copy of threats ordered by detection time, most recent
// first. Ties keep their stored order.
func NewestFirst(threats []Threat) []Threat {
	out := slices.Clone(threats)
	slices.SortStableFunc(out, func(a, b Threat) int {
		return b.DetectedAt.Compare(a.DetectedAt)
	})
	return out
}

// Summarize computes dashboard statistics relative to now.
func Summarize(threats []Threat, now time.Time) Stats {
	st := Stats{
		Total:       len(threats),
		Histogram:   make([]Bucket, 10),
		TopKeywords: []KeywordCount{},
	}
	for i := range st.Histogram {
		st.Histogram[i] = Bucket{Low: float64(i), High: float64(i + 1)}
	}

	counts := make(map[string]int)
	cutoff := now.Add(-24 * time.Hour)
	for _, t := range threats {
		switch Band(t.Severity) {
		case "critical":
			st.Critical++
		case "high":
			st.High++
		}
		if !t.DetectedAt.Before(cutoff) {
			st.Last24h++
		}
		if t.Severity > 0 {
			i := min(int(t.Severity), len(st.Histogram)-1)
			st.Histogram[i].Count++
		}
		for _, k := range t.Keywords {
			counts[k]++
		}
	}

	st.DistinctKeywords = len(counts)
	for k, n := range counts {
		st.TopKeywords = append(st.TopKeywords, KeywordCount{Keyword: k, Count: n})
	}
	slices.SortFunc(st.TopKeywords, func(a, b KeywordCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Keyword, b.Keyword)
	})
	if len(st.TopKeywords) > topKeywords {
		st.TopKeywords = st.TopKeywords[:topKeywords]
	}
	return st
}
