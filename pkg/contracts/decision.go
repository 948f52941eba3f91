// Package contracts holds the shared wire types of the review gate:
// decisions, findings, exception records, the report envelope, and the
// coded governance error. Every other package consumes these; contracts
// itself depends on nothing.
package contracts

// Decision is the tri-state outcome of an evaluation.
type Decision string

// Decision constants.
const (
	DecisionPass  Decision = "pass"
	DecisionWarn  Decision = "warn"
	DecisionBlock Decision = "block"
)

// Worse returns the more severe of two decisions (block > warn > pass).
func (d Decision) Worse(other Decision) Decision {
	if d == DecisionBlock || other == DecisionBlock {
		return DecisionBlock
	}
	if d == DecisionWarn || other == DecisionWarn {
		return DecisionWarn
	}
	return DecisionPass
}

// Enforcement is the policy-level enforcement mode.
type Enforcement string

// Enforcement constants.
const (
	EnforcementBlock Enforcement = "block"
	EnforcementWarn  Enforcement = "warn"
)

// Stage is the v3 enforcement stage dial. Each stage maps shadow-finding
// severities to effective decisions with increasing strictness.
type Stage string

// Stage constants.
const (
	StageWhisper Stage = "whisper"
	StageOath    Stage = "oath"
	StageThrone  Stage = "throne"
)

// ValidStage reports whether s is one of the three known stages.
func ValidStage(s Stage) bool {
	return s == StageWhisper || s == StageOath || s == StageThrone
}
