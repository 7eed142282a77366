package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/otwatch/internal/storage"
	"github.com/kalambet/otwatch/internal/threat"
)

func newTestDashboard(t *testing.T, runs RunLister) *httptest.Server {
	t.Helper()
	h := NewDashboardHandler(DashboardDeps{
		ThreatsPath: writeSnapshot(t, testThreats()),
		Runs:        runs,
		Now:         func() time.Time { return testNow },
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	srv := newTestDashboard(t, nil)

	resp, body := get(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, `"ok"`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestThreats_NewestFirst(t *testing.T) {
	srv := newTestDashboard(t, nil)

	resp, body := get(t, srv.URL+"/api/threats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}

	var list threatList
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if list.Count != 3 || list.Threats[0].ID != "CVE-2024-0003" || list.Threats[2].ID != "CVE-2024-0001" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestThreats_MinCVSS(t *testing.T) {
	srv := newTestDashboard(t, nil)

	_, body := get(t, srv.URL+"/api/threats?min_cvss=7.5")
	var list threatList
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if list.Count != 2 || list.MinCVSS != 7.5 {
		t.Errorf("expected 2 threats at >= 7.5, got %+v", list)
	}
}

func TestThreats_BadMinCVSS(t *testing.T) {
	srv := newTestDashboard(t, nil)

	for _, q := range []string{"abc", "-1", "11"} {
		resp, _ := get(t, srv.URL+"/api/threats?min_cvss="+q)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("min_cvss=%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestThreats_CorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threats.json")
	os.WriteFile(path, []byte(`{"cve_id":`), 0o644)
	srv := httptest.NewServer(NewDashboardHandler(DashboardDeps{ThreatsPath: path}))
	defer srv.Close()

	resp, body := get(t, srv.URL+"/api/threats")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "api_error") {
		t.Errorf("expected api_error body, got %s", body)
	}
}

func TestThreat_ByID(t *testing.T) {
	srv := newTestDashboard(t, nil)

	resp, body := get(t, srv.URL+"/api/threats/CVE-2024-0002")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got threat.Threat
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if got.Severity != 5.3 || len(got.Keywords) != 1 {
		t.Errorf("unexpected threat %+v", got)
	}

	resp, body = get(t, srv.URL+"/api/threats/CVE-1999-0001")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "not_found_error") {
		t.Errorf("unexpected body %s", body)
	}
}

func TestStats(t *testing.T) {
	srv := newTestDashboard(t, nil)

	_, body := get(t, srv.URL+"/api/stats?min_cvss=7")
	var st threat.Stats
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if st.Total != 2 || st.Critical != 1 || st.High != 1 || st.Last24h != 1 {
		t.Errorf("unexpected stats %+v", st)
	}
	if len(st.Histogram) != 10 || st.Histogram[9].Count != 1 || st.Histogram[7].Count != 1 {
		t.Errorf("unexpected histogram %+v", st.Histogram)
	}
}

func TestRuns(t *testing.T) {
	runs := &mockRuns{runs: []storage.Run{
		{ID: "r1", StartedAt: testNow, FinishedAt: testNow.Add(time.Second), Status: storage.StatusEmpty},
	}}
	srv := newTestDashboard(t, runs)

	resp, body := get(t, srv.URL+"/api/runs?limit=3")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var got []runView
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if len(got) != 1 || got[0].Status != storage.StatusEmpty {
		t.Errorf("unexpected runs %+v", got)
	}
	if runs.lastLimit != 3 {
		t.Errorf("expected limit 3, got %d", runs.lastLimit)
	}

	resp, _ = get(t, srv.URL+"/api/runs?limit=zero")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestRuns_Unavailable(t *testing.T) {
	srv := newTestDashboard(t, nil)

	resp, _ := get(t, srv.URL+"/api/runs")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestRuns_StoreError(t *testing.T) {
	srv := newTestDashboard(t, &mockRuns{err: errors.New("disk I/O error")})

	resp, _ := get(t, srv.URL+"/api/runs")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
}

func TestIndex_DefaultsToHighSeverity(t *testing.T) {
	runs := &mockRuns{runs: []storage.Run{
		{ID: "r1", StartedAt: testNow, FinishedAt: testNow, Status: storage.StatusCompleted, Fetched: 12, Added: 2},
	}}
	srv := newTestDashboard(t, runs)

	resp, body := get(t, srv.URL+"/")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("unexpected content type %s", resp.Header.Get("Content-Type"))
	}
	for _, want := range []string{
		`http-equiv="refresh" content="30"`,
		"CVE-2024-0001",
		"CVE-2024-0003",
		`class="sev critical"`,
		"Minimum CVSS 7.0",
		"12 fetched",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if strings.Contains(body, "CVE-2024-0002") {
		t.Error("dashboard should hide threats below 7.0 by default")
	}
}

func TestIndex_EscapesContent(t *testing.T) {
	path := writeSnapshot(t, []threat.Threat{{
		ID:          "CVE-2024-9999",
		Severity:    9.1,
		Description: "<script>alert(1)</script> in HMI",
		DetectedAt:  testNow,
	}})
	srv := httptest.NewServer(NewDashboardHandler(DashboardDeps{ThreatsPath: path}))
	defer srv.Close()

	_, body := get(t, srv.URL+"/")
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Error("description was not escaped")
	}
}

func TestIndex_EmptySnapshot(t *testing.T) {
	srv := httptest.NewServer(NewDashboardHandler(DashboardDeps{
		ThreatsPath: filepath.Join(t.TempDir(), "missing.json"),
	}))
	defer srv.Close()

	resp, body := get(t, srv.URL+"/?min_cvss=0")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if !strings.Contains(body, "No threats at or above CVSS 0.0") {
		t.Errorf("expected empty-state message")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestDashboard(t, nil)

	resp, _ := get(t, srv.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}
