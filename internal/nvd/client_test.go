package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// cveJSON builds a minimal cve object. A negative score omits metrics.
func cveJSON(id, desc string, score float64) map[string]any {
	cve := map[string]any{
		"id":           id,
		"published":    "2024-05-01T10:00:00.000",
		"lastModified": "2024-05-01T10:05:00.000",
		"descriptions": []map[string]string{{"lang": "en", "value": desc}},
		"references":   []map[string]any{{"url": "https://example.com/" + id}},
	}
	if score >= 0 {
		cve["metrics"] = map[string]any{
			"cvssMetricV31": []map[string]any{{"cvssData": map[string]any{"baseScore": score}}},
		}
	}
	return cve
}

func pageJSON(total int, cves ...map[string]any) []byte {
	vulns := make([]map[string]any, len(cves))
	for i, c := range cves {
		vulns[i] = map[string]any{"cve": c}
	}
	b, _ := json.Marshal(map[string]any{
		"resultsPerPage":  len(cves),
		"totalResults":    total,
		"vulnerabilities": vulns,
	})
	return b
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := New(Options{BaseURL: url, RequestDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }
	return c
}

func TestFetchLatest_QueryParameters(t *testing.T) {
	var got map[string]string
	var gotKey string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		got = map[string]string{
			"lastModStartDate": q.Get("lastModStartDate"),
			"lastModEndDate":   q.Get("lastModEndDate"),
			"resultsPerPage":   q.Get("resultsPerPage"),
			"startIndex":       q.Get("startIndex"),
		}
		gotKey = r.Header.Get("apiKey")
		w.Write(pageJSON(0))
	}))
	defer srv.Close()

	c, err := New(Options{BaseURL: srv.URL, APIKey: "nvd-key", RequestDelay: time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	c.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC) }

	records, err := c.FetchLatest(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("got %d records, want 0", len(records))
	}

	want := map[string]string{
		"lastModStartDate": "2024-05-01T12:20:00.000Z",
		"lastModEndDate":   "2024-05-01T12:30:00.000Z",
		"resultsPerPage":   "100",
		"startIndex":       "0",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
	if gotKey != "nvd-key" {
		t.Errorf("apiKey header = %q, want nvd-key", gotKey)
	}
}

func TestFetchLatest_FollowsPages(t *testing.T) {
	var requests atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch r.URL.Query().Get("startIndex") {
		case "0":
			w.Write(pageJSON(3, cveJSON("CVE-2024-0001", "a", 5), cveJSON("CVE-2024-0002", "b", 6)))
		case "2":
			w.Write(pageJSON(3, cveJSON("CVE-2024-0003", "c", 7)))
		default:
			t.Errorf("unexpected startIndex %q", r.URL.Query().Get("startIndex"))
			w.Write(pageJSON(3))
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	records, err := c.FetchLatest(context.Background(), 10*time.Minute)
	if err != nil {
		t.Fatalf("FetchLatest: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3", len(records))
	}
	for i, id := range []string{"CVE-2024-0001", "CVE-2024-0002", "CVE-2024-0003"} {
		if records[i].ID != id {
			t.Errorf("records[%d].ID = %q, want %q", i, records[i].ID, id)
		}
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestFetchLatest_SkipsSeen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pageJSON(1, cveJSON("CVE-2024-0001", "PLC bug", 9.8)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	first, err := c.FetchLatest(context.Background(), time.Hour)
	if err != nil || len(first) != 1 {
		t.Fatalf("first fetch = %d records, err %v", len(first), err)
	}
	if !c.Seen("CVE-2024-0001") {
		t.Error("CVE-2024-0001 not marked seen after successful fetch")
	}

	second, err := c.FetchLatest(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second fetch returned %d records, want 0", len(second))
	}
}

func TestFetchLatest_FailureDoesNotMarkSeen(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Query().Get("startIndex") == "0" {
			w.Write(pageJSON(2, cveJSON("CVE-2024-0001", "x", 1)))
			return
		}
		// The second page fails on the first attempt only.
		if n == 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(pageJSON(2, cveJSON("CVE-2024-0002", "y", 2)))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.FetchLatest(context.Background(), time.Hour); err == nil {
		t.Fatal("expected error when a page fails")
	}
	if c.Seen("CVE-2024-0001") {
		t.Error("records of a failed fetch must not be marked seen")
	}

	records, err := c.FetchLatest(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("retry returned %d records, want 2", len(records))
	}
}

func TestFetchLatest_ErrorsReturnNoRecords(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"forbidden", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusForbidden) }},
		{"malformed body", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"vulnerabilities": [`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			got, err := c.FetchLatest(context.Background(), time.Hour)
			if err == nil {
				t.Fatal("expected error")
			}
			if len(got) != 0 {
				t.Errorf("FetchLatest() = %d records, want 0", len(got))
			}
		})
	}
}

func TestDecodeRecord_SeverityPreference(t *testing.T) {
	metric := func(score float64) []map[string]any {
		return []map[string]any{{"cvssData": map[string]any{"baseScore": score}}}
	}

	tests := []struct {
		name    string
		metrics map[string]any
		want    *float64
	}{
		{"none", map[string]any{}, nil},
		{"v2 only", map[string]any{"cvssMetricV2": metric(5.0)}, ptr(5.0)},
		{"v30 over v2", map[string]any{"cvssMetricV30": metric(7.5), "cvssMetricV2": metric(5.0)}, ptr(7.5)},
		{"v31 over v30", map[string]any{"cvssMetricV31": metric(9.8), "cvssMetricV30": metric(7.5)}, ptr(9.8)},
		{"v40 first", map[string]any{"cvssMetricV40": metric(9.3), "cvssMetricV31": metric(9.8)}, ptr(9.3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _ := json.Marshal(map[string]any{"id": "CVE-1", "metrics": tt.metrics})
			rec, err := decodeRecord(raw)
			if err != nil {
				t.Fatalf("decodeRecord: %v", err)
			}
			switch {
			case tt.want == nil && rec.Severity != nil:
				t.Errorf("Severity = %v, want nil", *rec.Severity)
			case tt.want != nil && (rec.Severity == nil || *rec.Severity != *tt.want):
				t.Errorf("Severity = %v, want %v", rec.Severity, *tt.want)
			}
		})
	}
}

func TestDecodeRecord_Fields(t *testing.T) {
	raw := []byte(`{
		"id": "CVE-2024-1234",
		"published": "2024-05-01T10:00:00.000",
		"lastModified": "2024-05-02T08:00:00.000",
		"descriptions": [
			{"lang": "es", "value": "Desbordamiento en el PLC"},
			{"lang": "en", "value": "Overflow in the <b>PLC</b> firmware"}
		],
		"references": [{"url": "https://a"}, {"url": "https://b", "tags": ["Vendor Advisory"]}]
	}`)

	rec, err := decodeRecord(raw)
	if err != nil {
		t.Fatalf("decodeRecord: %v", err)
	}
	if rec.Description != "Overflow in the PLC firmware" {
		t.Errorf("Description = %q", rec.Description)
	}
	if rec.Published != "2024-05-01T10:00:00.000" || rec.LastModified != "2024-05-02T08:00:00.000" {
		t.Errorf("timestamps = %q / %q", rec.Published, rec.LastModified)
	}
	if len(rec.References) != 2 || rec.References[1].Tags[0] != "Vendor Advisory" {
		t.Errorf("References = %+v", rec.References)
	}
	if string(rec.Raw) != string(raw) {
		t.Error("Raw does not hold the upstream object")
	}
}

func TestDescription_FallsBackToFirst(t *testing.T) {
	got := description([]langString{{Lang: "fr", Value: "premier"}, {Lang: "de", Value: "zweiter"}})
	if got != "premier" {
		t.Errorf("description() = %q, want premier", got)
	}
	if got := description(nil); got != "" {
		t.Errorf("description(nil) = %q, want empty", got)
	}
}

func TestDecodeRecord_KeepsDescriptionVerbatim(t *testing.T) {
	descs := []string{
		"Stored XSS in the HMI allows injection via <script>alert(1)</script> in the name field.",
		"Modbus gateway (<v2.0> firmware) crashes on a crafted frame.",
		"Versions  before 3.1 of the <img src=x onerror=alert(1)> SCADA viewer\nare affected.",
	}
	for _, desc := range descs {
		raw, err := json.Marshal(cveJSON("CVE-2024-0100", desc, 7.5))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			t.Fatalf("decodeRecord: %v", err)
		}
		if rec.Description != desc {
			t.Errorf("Description = %q, want %q", rec.Description, desc)
		}
	}
}

func TestReferenceURLs(t *testing.T) {
	var refs []Reference
	for i := range 5 {
		refs = append(refs, Reference{URL: "https://ref/" + strconv.Itoa(i)})
	}
	got := Record{References: refs}.ReferenceURLs(3)
	want := fmt.Sprint([]string{"https://ref/0", "https://ref/1", "https://ref/2"})
	if fmt.Sprint(got) != want {
		t.Errorf("ReferenceURLs(3) = %v, want %v", got, want)
	}
}

func ptr(f float64) *float64 { return &f }
