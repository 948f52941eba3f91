package contracts

// GuardSeverity is the severity of a policy-level guard finding.
type GuardSeverity string

// Guard severities.
const (
	GuardSeverityBlock GuardSeverity = "block"
	GuardSeverityWarn  GuardSeverity = "warn"
)

// Guard finding codes are part of the wire contract.
const (
	GuardBlockedAuthor         = "GUARD_BLOCKED_AUTHOR"
	GuardBotBlocked            = "GUARD_BOT_BLOCKED"
	GuardRuleBlock             = "GUARD_RULE_BLOCK"
	GuardDisclosureRequired    = "GUARD_DISCLOSURE_REQUIRED"
	GuardAiScoreExceeded       = "GUARD_AI_SCORE_EXCEEDED"
	GuardHumanApprovals        = "GUARD_HUMAN_APPROVALS"
	GuardPullContextMissing    = "GUARD_PULL_CONTEXT_MISSING"
	GuardApprovalsUnverified   = "GUARD_APPROVALS_UNVERIFIED"
	GuardApprovalsTimeout      = "GUARD_APPROVALS_TIMEOUT"
	GuardApprovalsRateLimited  = "GUARD_APPROVALS_RATE_LIMITED"
	GuardApprovalsRetryExhaust = "GUARD_APPROVALS_RETRY_EXHAUSTED"
	GuardApprovalsFetchError   = "GUARD_APPROVALS_FETCH_ERROR"
	GuardEventTooLarge         = "GUARD_EVENT_TOO_LARGE"
	GuardUnsupportedEvent      = "GUARD_UNSUPPORTED_EVENT"
	GuardMalformedEvent        = "GUARD_MALFORMED_EVENT"
	GuardBodyTruncated         = "GUARD_BODY_TRUNCATED"
	GuardReplayMismatch        = "GUARD_REPLAY_MISMATCH"
)

// GuardFinding is a policy-level finding with block/warn severity.
type GuardFinding struct {
	Code              string         `json:"code"`
	Severity          GuardSeverity  `json:"severity"`
	Message           string         `json:"message"`
	TargetReferenceID string         `json:"targetReferenceId,omitempty"`
	Details           map[string]any `json:"details,omitempty"`
}

// ShadowSeverity is the four-level severity of a domain finding.
type ShadowSeverity string

// Shadow severities.
const (
	ShadowSeverityLow      ShadowSeverity = "low"
	ShadowSeverityMedium   ShadowSeverity = "medium"
	ShadowSeverityHigh     ShadowSeverity = "high"
	ShadowSeverityCritical ShadowSeverity = "critical"
)

// ValidShadowSeverity reports whether s is a known shadow severity.
func ValidShadowSeverity(s ShadowSeverity) bool {
	switch s {
	case ShadowSeverityLow, ShadowSeverityMedium, ShadowSeverityHigh, ShadowSeverityCritical:
		return true
	}
	return false
}

// ShadowFinding is a domain-level finding. Remediation is always non-empty.
type ShadowFinding struct {
	Code        string         `json:"code"`
	Domain      Domain         `json:"domain"`
	Severity    ShadowSeverity `json:"severity"`
	Message     string         `json:"message"`
	Remediation string         `json:"remediation"`
	Details     map[string]any `json:"details,omitempty"`
}

// DomainEvaluation is the per-domain output of the shadow engine.
type DomainEvaluation struct {
	Domain    Domain          `json:"domain"`
	Score     float64         `json:"score"` // 0..100
	Rationale string          `json:"rationale"`
	Findings  []ShadowFinding `json:"findings"`
}

// DomainDecision is a domain's effective decision after stage mapping.
type DomainDecision struct {
	Domain   Domain   `json:"domain"`
	Score    float64  `json:"score"`
	Decision Decision `json:"decision"`
}

// ExceptionRecord suppresses findings by code until it expires.
// Active iff expiresAt >= now.
type ExceptionRecord struct {
	Check     string `json:"check"`
	Reason    string `json:"reason"`
	ExpiresAt string `json:"expiresAt"` // ISO-8601
}

// AppliedException records a suppression that actually removed a finding.
type AppliedException struct {
	Check     string `json:"check"`
	Reason    string `json:"reason"`
	ExpiresAt string `json:"expiresAt"`
	Domain    Domain `json:"domain"`
}
