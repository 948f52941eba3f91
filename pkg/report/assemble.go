// Package report assembles the machine-readable evaluation artifact and
// renders it as JSON, Markdown and SARIF. Assembly is deterministic: two
// runs over identical inputs differ only in the timestamp, which the
// replay projection excludes.
package report

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/canonical"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/shadow"
)

// Report artifact schema versions. Shadow-enabled policies produce v3
// reports carrying the shadow-engine fields.
const (
	SchemaVersion       = 2
	SchemaVersionShadow = 3
)

// excerptChars bounds bodyExcerpt in includeBodies=excerpt mode.
const excerptChars = 240

// cognitiveLoadThreshold is the finding count above which the
// accessibility summary reports "medium" cognitive load.
const cognitiveLoadThreshold = 5

// Input carries everything the assembler folds into a report.
type Input struct {
	Provider  string
	EventName string
	Policy    *policy.Policy
	// PolicyDoc is the decoded policy document, hashed into evidenceHashes.
	PolicyDoc any
	// EventRaw is the raw event file content, hashed into evidenceHashes.
	EventRaw []byte

	Targets        []contracts.ReviewTarget
	TruncatedRefs  map[string]bool
	GuardFindings  []contracts.GuardFinding
	HighestAiScore float64
	HumanApprovals *int

	// Shadow is nil when the policy does not enable the domain engine.
	Shadow *shadow.Outcome

	Decision  contracts.Decision
	Timestamp time.Time

	PolicyPath string
	Redact     bool
}

// Build assembles the report and stamps its replay digest.
func Build(in Input) (*contracts.Report, error) {
	schemaVersion := SchemaVersion
	if in.Policy.ShadowEnabled() {
		schemaVersion = SchemaVersionShadow
	}
	r := &contracts.Report{
		SchemaVersion:  schemaVersion,
		Timestamp:      in.Timestamp.UTC().Format(time.RFC3339),
		Provider:       in.Provider,
		EventName:      in.EventName,
		PolicyVersion:  in.Policy.Version,
		Enforcement:    in.Policy.Enforcement,
		Decision:       in.Decision,
		TargetsScanned: len(in.Targets),
		HighestAiScore: in.HighestAiScore,
		HumanApprovals: in.HumanApprovals,
		Findings:       in.GuardFindings,
		PolicyPath:     in.PolicyPath,
	}
	if r.Findings == nil {
		r.Findings = []contracts.GuardFinding{}
	}

	if in.Shadow != nil {
		r.EnforcementStage = in.Policy.EnforcementStage
		r.SelectedDomains = in.Shadow.SelectedDomains
		r.ShadowFindings = in.Shadow.Findings
		r.ShadowDecisions = in.Shadow.DomainDecisions
		r.ExceptionsApplied = in.Shadow.ExceptionsApplied
	}

	redact := in.Redact || in.Policy.Report.RedactionMode == policy.RedactHash
	r.Targets, r.BodyHashes = reportTargets(in, redact)

	evidence, err := evidenceHashes(in)
	if err != nil {
		return nil, err
	}
	r.EvidenceHashes = evidence

	r.AccessibilitySummary = accessibilitySummary(r)

	digest, err := canonical.ReplayDigest(r)
	if err != nil {
		return nil, fmt.Errorf("report: replay digest failed: %w", err)
	}
	r.ReplayDigest = digest
	return r, nil
}

func reportTargets(in Input, redact bool) ([]contracts.ReportTarget, map[string]string) {
	targets := make([]contracts.ReportTarget, 0, len(in.Targets))
	var bodyHashes map[string]string
	if redact {
		bodyHashes = map[string]string{}
	}

	for _, t := range in.Targets {
		rt := contracts.ReportTarget{
			Source:      t.Source,
			ReferenceID: t.ReferenceID,
			AuthorLogin: t.AuthorLogin,
			AuthorType:  t.AuthorType,
			Truncated:   in.TruncatedRefs[t.ReferenceID],
		}
		switch {
		case redact:
			bodyHashes[t.ReferenceID] = canonical.HashBytes([]byte(t.Body))
		case rt.Truncated:
			// clipped bodies are withheld from the artifact
		case in.Policy.Report.IncludeBodies == "full":
			rt.Body = t.Body
		case in.Policy.Report.IncludeBodies == "none":
			// neither field
		default:
			rt.BodyExcerpt = excerpt(t.Body)
		}
		targets = append(targets, rt)
	}
	return targets, bodyHashes
}

func excerpt(body string) string {
	runes := []rune(body)
	if len(runes) <= excerptChars {
		return body
	}
	return string(runes[:excerptChars])
}

// evidenceHashes digests the inputs as evaluated: the targets hash covers
// the extracted target list before any redaction shapes the artifact.
func evidenceHashes(in Input) (map[string]string, error) {
	policyHash, err := canonical.HashJSON(in.PolicyDoc)
	if err != nil {
		return nil, fmt.Errorf("report: policy hash failed: %w", err)
	}
	extracted := in.Targets
	if extracted == nil {
		extracted = []contracts.ReviewTarget{}
	}
	targetsHash, err := canonical.HashJSON(extracted)
	if err != nil {
		return nil, fmt.Errorf("report: targets hash failed: %w", err)
	}
	return map[string]string{
		"policy":  policyHash,
		"event":   canonical.HashBytes(in.EventRaw),
		"targets": targetsHash,
	}, nil
}

func accessibilitySummary(r *contracts.Report) contracts.AccessibilitySummary {
	findingCount := len(r.Findings) + len(r.ShadowFindings)

	var sentence string
	switch r.Decision {
	case contracts.DecisionBlock:
		sentence = fmt.Sprintf("Block: %d finding(s) prevent this change from merging.", findingCount)
	case contracts.DecisionWarn:
		sentence = fmt.Sprintf("Warn: %d finding(s) need review, but the change may merge.", findingCount)
	default:
		sentence = "Pass: no policy violations were found."
	}

	load := "low"
	if findingCount > cognitiveLoadThreshold {
		load = "medium"
	}

	return contracts.AccessibilitySummary{
		Decision: sentence,
		StatusWords: map[string]string{
			"pass":  "Pass",
			"warn":  "Warn",
			"block": "Block",
		},
		NonColorStatusSignal: true,
		ScreenReaderFriendly: true,
		CognitiveLoad:        load,
	}
}

// CompareReplay checks the current report against a baseline report's
// bytes. A digest mismatch returns a blocking finding carrying both
// digests; identical digests return nil.
func CompareReplay(current *contracts.Report, baselineJSON []byte) (*contracts.GuardFinding, error) {
	var baseline contracts.Report
	if err := json.Unmarshal(baselineJSON, &baseline); err != nil {
		return nil, fmt.Errorf("report: baseline parse failed: %w", err)
	}

	currentDigest, err := canonical.ReplayDigest(current)
	if err != nil {
		return nil, err
	}
	baselineDigest, err := canonical.ReplayDigest(&baseline)
	if err != nil {
		return nil, err
	}
	if currentDigest == baselineDigest {
		return nil, nil
	}
	return &contracts.GuardFinding{
		Code:     contracts.GuardReplayMismatch,
		Severity: contracts.GuardSeverityBlock,
		Message:  "report drifted from the replay baseline",
		Details: map[string]any{
			"currentDigest":  currentDigest,
			"baselineDigest": baselineDigest,
		},
	}, nil
}
