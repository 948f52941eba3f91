package contracts

// ReportTarget is a target as serialized into the report. Exactly one of
// Body / BodyExcerpt is populated in plain mode; both are empty when the
// report redaction mode is "hash" (bodies move to Report.BodyHashes).
type ReportTarget struct {
	Source      TargetSource `json:"source"`
	ReferenceID string       `json:"referenceId"`
	AuthorLogin string       `json:"authorLogin"`
	AuthorType  AuthorType   `json:"authorType"`
	Body        string       `json:"body,omitempty"`
	BodyExcerpt string       `json:"bodyExcerpt,omitempty"`
	Truncated   bool         `json:"truncated,omitempty"`
}

// AccessibilitySummary is the constant-shaped plain-language block of the
// report. The decision sentence always starts with "Pass:", "Warn:" or
// "Block:".
type AccessibilitySummary struct {
	Decision             string            `json:"decision"`
	StatusWords          map[string]string `json:"statusWords"`
	NonColorStatusSignal bool              `json:"nonColorStatusSignals"`
	ScreenReaderFriendly bool              `json:"screenReaderFriendly"`
	CognitiveLoad        string            `json:"cognitiveLoad"` // "low" | "medium"
}

// Report is the machine-readable evaluation artifact (schema v2/v3).
type Report struct {
	SchemaVersion     int                `json:"schemaVersion"`
	Timestamp         string             `json:"timestamp"`
	Provider          string             `json:"provider"`
	EventName         string             `json:"eventName"`
	PolicyVersion     int                `json:"policyVersion"`
	Enforcement       Enforcement        `json:"enforcement"`
	EnforcementStage  Stage              `json:"enforcementStage,omitempty"`
	Decision          Decision           `json:"decision"`
	SelectedDomains   []Domain           `json:"selectedDomains,omitempty"`
	TargetsScanned    int                `json:"targetsScanned"`
	HighestAiScore    float64            `json:"highestAiScore"`
	HumanApprovals    *int               `json:"humanApprovals,omitempty"`
	Findings          []GuardFinding     `json:"findings"`
	ShadowFindings    []ShadowFinding    `json:"shadowFindings,omitempty"`
	ShadowDecisions   []DomainDecision   `json:"shadowDecisions,omitempty"`
	ExceptionsApplied []AppliedException `json:"exceptionsApplied,omitempty"`
	Targets           []ReportTarget     `json:"targets"`
	BodyHashes        map[string]string  `json:"bodyHashes,omitempty"`
	EvidenceHashes    map[string]string  `json:"evidenceHashes"`

	AccessibilitySummary AccessibilitySummary `json:"accessibilitySummary"`

	// Not part of the replay projection.
	ReplayDigest     string   `json:"replayDigest,omitempty"`
	PolicyPath       string   `json:"policyPath,omitempty"`
	GeneratedReports []string `json:"generatedReports,omitempty"`
}
