package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// Defaults returns the baseline policy for a given schema version. Parsing
// unmarshals the document over these so absent fields keep their defaults.
func Defaults(version int) *Policy {
	p := &Policy{
		Version:         version,
		Enforcement:     contracts.EnforcementBlock,
		BlockBotAuthors: false,
		Scan: ScanToggles{
			PullRequestBody: true,
			Reviews:         true,
			ReviewComments:  true,
			IssueComments:   true,
		},
		MaxAiScore:              1.0,
		DisclosureTag:           "[ai-assisted]",
		DisclosureRequiredScore: 1.0,
		Runtime: Runtime{
			MaxBodyChars:           20000,
			MaxTargets:             50,
			MaxEventBytes:          1 << 20,
			FailOnUnsupportedEvent: true,
			FailOnMalformedPayload: true,
		},
		Report: ReportConfig{
			RedactionMode: RedactNone,
			IncludeBodies: "excerpt",
		},
		Approvals: Approvals{
			FetchTimeoutMs: 10000,
			MaxPages:       10,
			Retry: Retry{
				Enabled:              true,
				MaxAttempts:          3,
				BaseDelayMs:          500,
				MaxDelayMs:           8000,
				JitterRatio:          0.2,
				RetryableStatusCodes: []int{429, 500, 502, 503, 504},
			},
		},
	}
	if version >= 3 {
		p.EnforcementStage = contracts.StageOath
	}
	return p
}

// DefaultCoverage applies when a v3 policy omits coveragePolicy.
func DefaultCoverage() *CoveragePolicy {
	return &CoveragePolicy{
		Small:         SizeBand{MaxLinesChanged: 200, MaxFilesChanged: 10},
		Medium:        SizeBand{MaxLinesChanged: 1000, MaxFilesChanged: 40},
		TieBreakOrder: append([]contracts.Domain(nil), contracts.CanonicalDomainOrder...),
	}
}

// DecodeDocument decodes JSON or YAML bytes into a generic JSON-compatible
// value. YAML is detected by file extension; pass "" to force JSON.
func DecodeDocument(data []byte, path string) (any, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("policy: yaml decode failed: %w", err)
		}
		// Round-trip through JSON so downstream canonical hashing sees the
		// same value shapes as native JSON documents.
		jb, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("policy: yaml normalize failed: %w", err)
		}
		data = jb
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("policy: json decode failed: %w", err)
	}
	return v, nil
}

// Parse builds a validated Policy from a decoded document.
func Parse(doc any) (*Policy, error) {
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
			"policy document must be a JSON object")
	}

	version := 1
	if raw, ok := obj["version"]; ok {
		n, err := asInt(raw)
		if err != nil || n < 1 || n > 3 {
			return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
				"policy version must be 1, 2 or 3").WithDetail("version", raw)
		}
		version = n
	}

	p := Defaults(version)
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("policy: re-encode failed: %w", err)
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
			"policy document does not match the policy shape").WithDetail("cause", err.Error())
	}
	p.Version = version

	if p.Version >= 3 && p.Coverage == nil {
		p.Coverage = DefaultCoverage()
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// ParseBytes decodes and parses in one step.
func ParseBytes(data []byte, path string) (*Policy, error) {
	doc, err := DecodeDocument(data, path)
	if err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
			"policy file is not valid JSON/YAML").WithDetail("cause", err.Error())
	}
	return Parse(doc)
}

// Validate enforces the structural invariants of the policy document.
func (p *Policy) Validate() error {
	fail := func(field, msg string) error {
		return contracts.NewGovernanceError(contracts.ErrArgInvalid, "invalid policy: "+msg).
			WithDetail("field", field)
	}

	if p.Enforcement != contracts.EnforcementBlock && p.Enforcement != contracts.EnforcementWarn {
		return fail("enforcement", "enforcement must be block or warn")
	}
	if p.MaxAiScore < 0 || p.MaxAiScore > 1 {
		return fail("maxAiScore", "maxAiScore must be within [0,1]")
	}
	if strings.TrimSpace(p.DisclosureTag) == "" {
		return fail("disclosureTag", "disclosureTag must be non-empty")
	}
	if p.DisclosureRequiredScore < 0 || p.DisclosureRequiredScore > 1 {
		return fail("disclosureRequiredScore", "disclosureRequiredScore must be within [0,1]")
	}
	if p.MinHumanApprovals < 0 {
		return fail("minHumanApprovals", "minHumanApprovals must be >= 0")
	}
	if len(p.Rules) == 0 {
		return fail("rules", "rules must be non-empty")
	}
	for i, r := range p.Rules {
		field := fmt.Sprintf("rules.%d", i)
		if strings.TrimSpace(r.Name) == "" {
			return fail(field+".name", "rule name must be non-empty")
		}
		if r.Pattern == "" {
			return fail(field+".pattern", "rule pattern must be non-empty")
		}
		if r.Action != ActionBlock && r.Action != ActionScore {
			return fail(field+".action", "rule action must be block or score")
		}
		if r.Weight < 0 || r.Weight > 1 {
			return fail(field+".weight", "rule weight must be within [0,1]")
		}
	}

	if p.Version >= 2 {
		if p.Runtime.MaxBodyChars <= 0 || p.Runtime.MaxTargets <= 0 || p.Runtime.MaxEventBytes <= 0 {
			return fail("runtime", "runtime limits must be positive")
		}
		if p.Report.RedactionMode != RedactNone && p.Report.RedactionMode != RedactHash {
			return fail("report.redactionMode", "redactionMode must be none or hash")
		}
		r := p.Approvals.Retry
		if r.JitterRatio < 0 || r.JitterRatio > 1 {
			return fail("approvals.retry.jitterRatio", "jitterRatio must be within [0,1]")
		}
		if r.MaxAttempts < 1 {
			return fail("approvals.retry.maxAttempts", "maxAttempts must be >= 1")
		}
	}

	if p.Version >= 3 {
		if !contracts.ValidStage(p.EnforcementStage) {
			return fail("enforcementStage", "enforcementStage must be whisper, oath or throne")
		}
		for d := range p.Thresholds {
			if !contracts.ValidDomain(d) {
				return fail("thresholds."+string(d), "unknown domain")
			}
		}
		for d, dr := range p.DomainRules {
			if !contracts.ValidDomain(d) {
				return fail("domainRules."+string(d), "unknown domain")
			}
			for code, sev := range dr.CheckSeverities {
				if !contracts.ValidShadowSeverity(sev) {
					return fail("domainRules."+string(d)+".checkSeverities."+code,
						"severity must be low, medium, high or critical")
				}
			}
		}
		if p.Coverage != nil {
			seen := map[contracts.Domain]bool{}
			for _, d := range p.Coverage.TieBreakOrder {
				if !contracts.ValidDomain(d) {
					return fail("coveragePolicy.tieBreakOrder", "unknown domain "+string(d))
				}
				if seen[d] {
					return fail("coveragePolicy.tieBreakOrder", "duplicate domain "+string(d))
				}
				seen[d] = true
			}
		}
	}
	return nil
}

// TieBreakOrder returns the configured order completed with any missing
// domains appended in canonical order.
func (p *Policy) TieBreakOrder() []contracts.Domain {
	var configured []contracts.Domain
	if p.Coverage != nil {
		configured = p.Coverage.TieBreakOrder
	}
	seen := map[contracts.Domain]bool{}
	out := make([]contracts.Domain, 0, len(contracts.CanonicalDomainOrder))
	for _, d := range configured {
		if !seen[d] {
			out = append(out, d)
			seen[d] = true
		}
	}
	for _, d := range contracts.CanonicalDomainOrder {
		if !seen[d] {
			out = append(out, d)
		}
	}
	return out
}

func asInt(v any) (int, error) {
	switch t := v.(type) {
	case json.Number:
		n, err := t.Int64()
		return int(n), err
	case float64:
		return int(t), nil
	case int:
		return t, nil
	default:
		return 0, fmt.Errorf("not a number: %v", v)
	}
}
