// Package threat holds confirmed OT threats and their JSON snapshot file.
package threat

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a threat ID is not in the snapshot.
var ErrNotFound = errors.New("threat not found")

// MaxDescription is the longest description excerpt kept on a Threat, in runes.
const MaxDescription = 500

// Threat is a vulnerability confirmed as relevant to OT environments. The JSON
// keys match the snapshot file layout read by the dashboard.
type Threat struct {
	ID                 string    `json:"cve_id"`
	Severity           float64   `json:"cvss_score"`
	Description        string    `json:"description"`
	Insight            string    `json:"ai_insight"`
	Keywords           []string  `json:"ot_keywords_found"`
	DetectedAt         time.Time `json:"timestamp"`
	AffectedSystems    []string  `json:"affected_systems,omitempty"`
	RecommendedActions []string  `json:"recommended_actions,omitempty"`
	References         []string  `json:"references,omitempty"`
}

// Excerpt truncates s to MaxDescription runes.
func Excerpt(s string) string {
	r := []rune(s)
	if len(r) <= MaxDescription {
		return s
	}
	return string(r[:MaxDescription])
}

// Find returns the threat with the given ID from a decoded snapshot. IDs are
// compared case-insensitively.
func Find(threats []Threat, id string) (Threat, error) {
	for _, t := range threats {
		if strings.EqualFold(t.ID, id) {
			return t, nil
		}
	}
	return Threat{}, fmt.Errorf("%s: %w", id, ErrNotFound)
}

// timestampLayouts are accepted when reading snapshots. Older files carry
// local timestamps without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON accepts zone-less timestamps and a null severity.
func (t *Threat) UnmarshalJSON(data []byte) error {
	type plain Threat
	aux := struct {
		*plain
		Severity  *float64 `json:"cvss_score"`
		Timestamp string   `json:"timestamp"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Severity != nil {
		t.Severity = *aux.Severity
	}
	if aux.Timestamp == "" {
		return nil
	}
	for _, layout := range timestampLayouts {
		ts, err := time.ParseInLocation(layout, aux.Timestamp, time.Local)
		if err == nil {
			t.DetectedAt = ts.UTC()
			return nil
		}
	}
	return fmt.Errorf("threat %s: unrecognised timestamp %q", t.ID, aux.Timestamp)
}
