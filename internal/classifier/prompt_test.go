package classifier

import (
	"strings"
	"testing"

	"github.com/kalambet/otwatch/internal/nvd"
)

func TestBuildPrompt(t *testing.T) {
	msgs := BuildPrompt(nvd.Record{ID: "CVE-2024-1234", Description: "PLC overflow", Severity: score(9.8)})
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Role != "system" || !strings.Contains(msgs[0].Content, "OT cybersecurity expert") {
		t.Errorf("system message = %+v", msgs[0])
	}

	user := msgs[1].Content
	for _, want := range []string{"CVE ID: CVE-2024-1234", "Description: PLC overflow", "CVSS Score: 9.8", `"is_ot_related"`} {
		if !strings.Contains(user, want) {
			t.Errorf("user prompt missing %q", want)
		}
	}
}

func TestBuildPrompt_UnscoredSeverity(t *testing.T) {
	msgs := BuildPrompt(nvd.Record{ID: "CVE-1", Description: "x"})
	if !strings.Contains(msgs[1].Content, "CVSS Score: Not specified") {
		t.Errorf("user prompt = %q", msgs[1].Content)
	}
}

func TestAssessmentSchema(t *testing.T) {
	s := assessmentSchema()
	if s.Properties["is_ot_related"].Type != "boolean" {
		t.Error("is_ot_related should be boolean")
	}
	if s.Properties["affected_systems"].Items == nil {
		t.Error("affected_systems should declare item type")
	}
}
