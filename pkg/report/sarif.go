package report

import (
	"encoding/json"
	"sort"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// SARIF 2.1.0 rendering. Each distinct finding code becomes a rule; each
// finding becomes a result located at the event artifact.

const (
	sarifVersion   = "2.1.0"
	sarifSchemaURI = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"
	toolName       = "shadowgate"
)

type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool    sarifTool     `json:"tool"`
	Results []sarifResult `json:"results"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name           string      `json:"name"`
	InformationURI string      `json:"informationUri,omitempty"`
	Rules          []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID               string            `json:"id"`
	ShortDescription sarifMessage      `json:"shortDescription"`
	Properties       map[string]string `json:"properties,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifResult struct {
	RuleID     string         `json:"ruleId"`
	Level      string         `json:"level"`
	Message    sarifMessage   `json:"message"`
	Properties map[string]any `json:"properties,omitempty"`
}

func guardLevel(sev contracts.GuardSeverity) string {
	if sev == contracts.GuardSeverityBlock {
		return "error"
	}
	return "warning"
}

func shadowLevel(sev contracts.ShadowSeverity) string {
	switch sev {
	case contracts.ShadowSeverityLow:
		return "note"
	case contracts.ShadowSeverityMedium:
		return "warning"
	default:
		return "error"
	}
}

// RenderSARIF serializes the report's findings as a SARIF 2.1.0 log.
func RenderSARIF(r *contracts.Report) ([]byte, error) {
	ruleSet := map[string]sarifRule{}
	var results []sarifResult

	for _, f := range r.Findings {
		ruleSet[f.Code] = sarifRule{
			ID:               f.Code,
			ShortDescription: sarifMessage{Text: f.Code},
			Properties:       map[string]string{"layer": "guard"},
		}
		props := map[string]any{}
		if f.TargetReferenceID != "" {
			props["targetReferenceId"] = f.TargetReferenceID
		}
		results = append(results, sarifResult{
			RuleID:     f.Code,
			Level:      guardLevel(f.Severity),
			Message:    sarifMessage{Text: f.Message},
			Properties: props,
		})
	}

	for _, f := range r.ShadowFindings {
		ruleSet[f.Code] = sarifRule{
			ID:               f.Code,
			ShortDescription: sarifMessage{Text: f.Code},
			Properties:       map[string]string{"layer": "shadow", "domain": string(f.Domain)},
		}
		results = append(results, sarifResult{
			RuleID:  f.Code,
			Level:   shadowLevel(f.Severity),
			Message: sarifMessage{Text: f.Message},
			Properties: map[string]any{
				"domain":      string(f.Domain),
				"remediation": f.Remediation,
			},
		})
	}

	rules := make([]sarifRule, 0, len(ruleSet))
	for _, rule := range ruleSet {
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	if results == nil {
		results = []sarifResult{}
	}

	log := sarifLog{
		Schema:  sarifSchemaURI,
		Version: sarifVersion,
		Runs: []sarifRun{{
			Tool:    sarifTool{Driver: sarifDriver{Name: toolName, Rules: rules}},
			Results: results,
		}},
	}
	return json.MarshalIndent(log, "", "  ")
}
