package canonical

import (
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// replayKeys is the fixed projection used for drift detection. Timestamp,
// policyPath and generatedReports are deliberately absent: two runs over
// identical inputs must project identically regardless of wall clock or
// output destinations.
func replayProjection(r *contracts.Report) map[string]any {
	var approvals any
	if r.HumanApprovals != nil {
		approvals = *r.HumanApprovals
	}
	return map[string]any{
		"schemaVersion":        r.SchemaVersion,
		"provider":             r.Provider,
		"eventName":            r.EventName,
		"policyVersion":        r.PolicyVersion,
		"enforcement":          r.Enforcement,
		"decision":             r.Decision,
		"targetsScanned":       r.TargetsScanned,
		"highestAiScore":       r.HighestAiScore,
		"humanApprovals":       approvals,
		"findings":             r.Findings,
		"targets":              r.Targets,
		"evidenceHashes":       r.EvidenceHashes,
		"accessibilitySummary": r.AccessibilitySummary,
	}
}

// ReplayComparable returns the canonical stringification of the report's
// replay projection.
func ReplayComparable(r *contracts.Report) (string, error) {
	return Stringify(replayProjection(r))
}

// ReplayDigest returns the SHA-256 of the replay-comparable form.
func ReplayDigest(r *contracts.Report) (string, error) {
	s, err := ReplayComparable(r)
	if err != nil {
		return "", err
	}
	return HashBytes([]byte(s)), nil
}
