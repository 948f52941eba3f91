package report

import (
	"fmt"
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// ANSI colors for terminal rendering; plain [PASS]/[WARN]/[BLOCK] tags are
// always present so color is never the only status signal.
const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

func statusTag(d contracts.Decision) string {
	switch d {
	case contracts.DecisionBlock:
		return "[BLOCK]"
	case contracts.DecisionWarn:
		return "[WARN]"
	default:
		return "[PASS]"
	}
}

func statusColor(d contracts.Decision) string {
	switch d {
	case contracts.DecisionBlock:
		return ansiRed
	case contracts.DecisionWarn:
		return ansiYellow
	default:
		return ansiGreen
	}
}

// RenderMarkdown renders the human-readable report. ANSI coloring is
// opt-in for terminal display and off for files.
func RenderMarkdown(r *contracts.Report, ansi bool) string {
	var b strings.Builder

	tag := statusTag(r.Decision)
	if ansi {
		tag = statusColor(r.Decision) + tag + ansiReset
	}
	fmt.Fprintf(&b, "# Review Gate %s\n\n", tag)
	fmt.Fprintf(&b, "%s\n\n", r.AccessibilitySummary.Decision)

	fmt.Fprintf(&b, "- Provider: %s\n", r.Provider)
	fmt.Fprintf(&b, "- Event: %s\n", r.EventName)
	fmt.Fprintf(&b, "- Policy version: %d (enforcement %s)\n", r.PolicyVersion, r.Enforcement)
	if r.EnforcementStage != "" {
		fmt.Fprintf(&b, "- Enforcement stage: %s\n", r.EnforcementStage)
	}
	fmt.Fprintf(&b, "- Targets scanned: %d\n", r.TargetsScanned)
	fmt.Fprintf(&b, "- Highest AI score: %.2f\n", r.HighestAiScore)
	if r.HumanApprovals != nil {
		fmt.Fprintf(&b, "- Human approvals: %d\n", *r.HumanApprovals)
	}
	b.WriteString("\n")

	if len(r.Findings) > 0 {
		b.WriteString("## Findings\n\n")
		for _, f := range r.Findings {
			ref := ""
			if f.TargetReferenceID != "" {
				ref = " (" + f.TargetReferenceID + ")"
			}
			fmt.Fprintf(&b, "- `%s` [%s]%s: %s\n", f.Code, f.Severity, ref, f.Message)
		}
		b.WriteString("\n")
	}

	if len(r.ShadowFindings) > 0 {
		b.WriteString("## Domain Findings\n\n")
		for _, f := range r.ShadowFindings {
			fmt.Fprintf(&b, "- `%s` [%s/%s]: %s\n  - Remediation: %s\n",
				f.Code, f.Domain, f.Severity, f.Message, f.Remediation)
		}
		b.WriteString("\n")
	}

	if len(r.ShadowDecisions) > 0 {
		b.WriteString("## Domain Decisions\n\n")
		for _, d := range r.ShadowDecisions {
			fmt.Fprintf(&b, "- %s: %s (score %.0f)\n", d.Domain, statusTag(d.Decision), d.Score)
		}
		b.WriteString("\n")
	}

	if len(r.ExceptionsApplied) > 0 {
		b.WriteString("## Exceptions Applied\n\n")
		for _, ex := range r.ExceptionsApplied {
			fmt.Fprintf(&b, "- `%s` (%s, until %s): %s\n", ex.Check, ex.Domain, ex.ExpiresAt, ex.Reason)
		}
		b.WriteString("\n")
	}

	return b.String()
}
