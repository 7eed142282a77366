package nvd

import "encoding/json"

// Record is one vulnerability as returned by a fetch, reduced to the fields
// the pipeline needs. Raw keeps the full upstream cve object.
type Record struct {
	ID           string
	Description  string
	Severity     *float64
	Published    string
	LastModified string
	References   []Reference
	Raw          json.RawMessage
}

// Reference is an external link attached to a record.
type Reference struct {
	URL  string   `json:"url"`
	Tags []string `json:"tags,omitempty"`
}

// ReferenceURLs returns up to n reference URLs in feed order.
func (r Record) ReferenceURLs(n int) []string {
	var urls []string
	for _, ref := range r.References {
		if len(urls) == n {
			break
		}
		if ref.URL != "" {
			urls = append(urls, ref.URL)
		}
	}
	return urls
}

// cvePage is the CVE API 2.0 response envelope.
type cvePage struct {
	ResultsPerPage  int             `json:"resultsPerPage"`
	StartIndex      int             `json:"startIndex"`
	TotalResults    int             `json:"totalResults"`
	Vulnerabilities []vulnerability `json:"vulnerabilities"`
}

type vulnerability struct {
	CVE json.RawMessage `json:"cve"`
}

type cveItem struct {
	ID           string       `json:"id"`
	Published    string       `json:"published"`
	LastModified string       `json:"lastModified"`
	Descriptions []langString `json:"descriptions"`
	Metrics      metrics      `json:"metrics"`
	References   []Reference  `json:"references"`
}

type langString struct {
	Lang  string `json:"lang"`
	Value string `json:"value"`
}

type metrics struct {
	V40 []cvssMetric `json:"cvssMetricV40"`
	V31 []cvssMetric `json:"cvssMetricV31"`
	V30 []cvssMetric `json:"cvssMetricV30"`
	V2  []cvssMetric `json:"cvssMetricV2"`
}

type cvssMetric struct {
	Source   string   `json:"source"`
	Type     string   `json:"type"`
	CVSSData cvssData `json:"cvssData"`
}

type cvssData struct {
	Version   string  `json:"version"`
	BaseScore float64 `json:"baseScore"`
}

// baseScore returns the first base score found, newest scheme first.
func (m metrics) baseScore() *float64 {
	for _, set := range [][]cvssMetric{m.V40, m.V31, m.V30, m.V2} {
		if len(set) > 0 {
			score := set[0].CVSSData.BaseScore
			return &score
		}
	}
	return nil
}

// description picks the English entry, falling back to the first one.
func description(entries []langString) string {
	for _, d := range entries {
		if d.Lang == "en" {
			return d.Value
		}
	}
	if len(entries) > 0 {
		return entries[0].Value
	}
	return ""
}
