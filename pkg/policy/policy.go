// Package policy models the governance policy document (schema v1/v2/v3),
// its parsing, validation, and defaulting. The document is immutable once
// parsed; merges and overrides construct new values.
package policy

import (
	"encoding/json"
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// RuleAction is what a matching rule does.
type RuleAction string

// Rule actions.
const (
	ActionBlock RuleAction = "block"
	ActionScore RuleAction = "score"
)

// DefaultRuleWeight applies when a score rule omits its weight.
const DefaultRuleWeight = 0.25

// Rule is a case-insensitive regex probe over target bodies.
type Rule struct {
	Name    string     `json:"name"`
	Pattern string     `json:"pattern"`
	Action  RuleAction `json:"action"`
	Weight  float64    `json:"weight"`
}

// UnmarshalJSON defaults the weight only when the document omits it, so an
// explicit "weight": 0 survives parsing.
func (r *Rule) UnmarshalJSON(data []byte) error {
	type plain Rule
	aux := struct {
		Weight *float64 `json:"weight"`
		*plain
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Weight == nil {
		r.Weight = DefaultRuleWeight
	} else {
		r.Weight = *aux.Weight
	}
	return nil
}

// ScanToggles controls which target sources are extracted.
type ScanToggles struct {
	PullRequestBody bool `json:"pullRequestBody"`
	Reviews         bool `json:"reviews"`
	ReviewComments  bool `json:"reviewComments"`
	IssueComments   bool `json:"issueComments"`
}

// Runtime bounds the evaluation of a single event (v2+).
type Runtime struct {
	MaxBodyChars           int  `json:"maxBodyChars"`
	MaxTargets             int  `json:"maxTargets"`
	MaxEventBytes          int  `json:"maxEventBytes"`
	FailOnUnsupportedEvent bool `json:"failOnUnsupportedEvent"`
	FailOnMalformedPayload bool `json:"failOnMalformedPayload"`
}

// RedactionMode controls how target bodies appear in reports.
type RedactionMode string

// Redaction modes.
const (
	RedactNone RedactionMode = "none"
	RedactHash RedactionMode = "hash"
)

// ReportConfig holds report shaping knobs (v2+).
type ReportConfig struct {
	RedactionMode RedactionMode `json:"redactionMode"`
	IncludeBodies string        `json:"includeBodies"` // "excerpt" | "full" | "none"
}

// Retry configures the approval-fetch retry loop.
type Retry struct {
	Enabled              bool    `json:"enabled"`
	MaxAttempts          int     `json:"maxAttempts"`
	BaseDelayMs          int     `json:"baseDelayMs"`
	MaxDelayMs           int     `json:"maxDelayMs"`
	JitterRatio          float64 `json:"jitterRatio"`
	RetryableStatusCodes []int   `json:"retryableStatusCodes"`
}

// Approvals configures the networked approval-verification stage (v2+).
type Approvals struct {
	FetchTimeoutMs int   `json:"fetchTimeoutMs"`
	MaxPages       int   `json:"maxPages"`
	Retry          Retry `json:"retry"`
}

// Thresholds holds a domain's warn/block score cutoffs (v3).
type Thresholds struct {
	WarnAt  float64 `json:"warnAt"`
	BlockAt float64 `json:"blockAt"`
}

// DomainRules enables/disables a domain and overrides finding severities (v3).
type DomainRules struct {
	Enabled         *bool                               `json:"enabled,omitempty"`
	CheckSeverities map[string]contracts.ShadowSeverity `json:"checkSeverities,omitempty"`
}

// IsEnabled treats an absent flag as enabled.
func (d DomainRules) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// SizeBand bounds a pull request size class.
type SizeBand struct {
	MaxLinesChanged int `json:"maxLinesChanged"`
	MaxFilesChanged int `json:"maxFilesChanged"`
}

// CoveragePolicy drives risk-ranked domain selection (v3).
type CoveragePolicy struct {
	Small         SizeBand           `json:"small"`
	Medium        SizeBand           `json:"medium"`
	TieBreakOrder []contracts.Domain `json:"tieBreakOrder,omitempty"`
}

// Policy is the effective governance policy for one invocation.
type Policy struct {
	Version                 int                   `json:"version"`
	Enforcement             contracts.Enforcement `json:"enforcement"`
	BlockBotAuthors         bool                  `json:"blockBotAuthors"`
	BlockedAuthors          []string              `json:"blockedAuthors,omitempty"`
	AllowedAuthors          []string              `json:"allowedAuthors,omitempty"`
	Scan                    ScanToggles           `json:"scan"`
	MaxAiScore              float64               `json:"maxAiScore"`
	DisclosureTag           string                `json:"disclosureTag"`
	DisclosureRequiredScore float64               `json:"disclosureRequiredScore"`
	MinHumanApprovals       int                   `json:"minHumanApprovals"`
	Rules                   []Rule                `json:"rules"`

	// v2
	Runtime   Runtime      `json:"runtime"`
	Report    ReportConfig `json:"report"`
	Approvals Approvals    `json:"approvals"`

	// v3
	EnforcementStage contracts.Stage                  `json:"enforcementStage,omitempty"`
	Coverage         *CoveragePolicy                  `json:"coveragePolicy,omitempty"`
	Thresholds       map[contracts.Domain]Thresholds  `json:"thresholds,omitempty"`
	DomainRules      map[contracts.Domain]DomainRules `json:"domainRules,omitempty"`
}

// ShadowEnabled reports whether the seven-domain engine runs for this policy.
func (p *Policy) ShadowEnabled() bool {
	return p.Version >= 3
}

// NormalizeLogin lowercases and trims a login for comparison.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

// ContainsLogin reports whether list contains login, compared normalized.
func ContainsLogin(list []string, login string) bool {
	norm := NormalizeLogin(login)
	for _, entry := range list {
		if NormalizeLogin(entry) == norm {
			return true
		}
	}
	return false
}
