package classifier

import (
	"fmt"
	"strconv"

	"github.com/kalambet/otwatch/internal/engine"
	"github.com/kalambet/otwatch/internal/nvd"
)

const systemPrompt = "You are an OT cybersecurity expert analyzing vulnerabilities in industrial control systems."

const userPromptTemplate = `Analyze this CVE for Operational Technology (OT/ICS) impact:

CVE ID: %s
Description: %s
CVSS Score: %s

Task:
1. Confirm this is OT/ICS related
2. Explain why this is dangerous for industrial environments/factories
3. Focus on potential impact to: production lines, safety systems, physical processes

Respond in JSON format:
{
    "is_ot_related": true/false,
    "risk_explanation": "Detailed explanation of OT risks",
    "affected_systems": ["PLC", "SCADA", etc.],
    "recommended_actions": ["Immediate actions to take"]
}`

// BuildPrompt constructs the oracle messages for one record.
func BuildPrompt(rec nvd.Record) []engine.Message {
	score := "Not specified"
	if rec.Severity != nil && *rec.Severity != 0 {
		score = strconv.FormatFloat(*rec.Severity, 'f', -1, 64)
	}
	return []engine.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf(userPromptTemplate, rec.ID, rec.Description, score)},
	}
}

// assessmentSchema requests the JSON shape described in the user prompt.
func assessmentSchema() *engine.Schema {
	list := &engine.SchemaProperty{Type: "string"}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"is_ot_related":       {Type: "boolean", Description: "Whether the vulnerability affects OT/ICS environments"},
			"risk_explanation":    {Type: "string", Description: "Why this is dangerous for industrial environments"},
			"affected_systems":    {Type: "array", Description: "Affected OT system types", Items: list},
			"recommended_actions": {Type: "array", Description: "Immediate actions to take", Items: list},
		},
		Required: []string{"is_ot_related", "risk_explanation", "affected_systems", "recommended_actions"},
	}
}
