package shadow

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
)

// Ranking boosts applied to domain scores before coverage selection.
const (
	boostPerBlockingGuard  = 6
	boostPerApprovalsGuard = 8
	boostScalesCap         = 20
	boostScalesDivisor     = 150
	boostTestingLargeLines = 300
	boostTestingLarge      = 10
)

// Band names the pull request size class.
type Band string

// Size bands and their selected-domain counts.
const (
	BandSmall  Band = "small"
	BandMedium Band = "medium"
	BandLarge  Band = "large"
)

func (b Band) domainCount() int {
	switch b {
	case BandSmall:
		return 1
	case BandMedium:
		return 2
	default:
		return 3
	}
}

// Outcome is the shadow engine's output for one event.
type Outcome struct {
	Band              Band                          `json:"band"`
	SelectedDomains   []contracts.Domain            `json:"selectedDomains"`
	Evaluations       []contracts.DomainEvaluation  `json:"evaluations"`
	DomainDecisions   []contracts.DomainDecision    `json:"domainDecisions"`
	Findings          []contracts.ShadowFinding     `json:"findings"`
	ExceptionsApplied []contracts.AppliedException  `json:"exceptionsApplied"`
	Decision          contracts.Decision            `json:"decision"`
}

// Evaluate runs the full engine: evaluate all seven domains, augment
// scores with ranking boosts, select the covered domains by size band,
// attach threshold findings, apply severity overrides and exceptions, and
// map findings to decisions through the enforcement stage.
func Evaluate(ctx *EvaluationContext, pol *policy.Policy, now time.Time, exceptions []contracts.ExceptionRecord) *Outcome {
	evaluations := map[contracts.Domain]contracts.DomainEvaluation{}
	for _, domain := range contracts.CanonicalDomainOrder {
		evaluations[domain] = evaluateDomain(domain, ctx)
	}
	applyRankingBoosts(ctx, evaluations)

	band := sizeBand(ctx, pol)
	tieBreak := pol.TieBreakOrder()
	selected := selectDomains(evaluations, pol, tieBreak, band.domainCount())

	out := &Outcome{Band: band, SelectedDomains: selected}

	var findings []contracts.ShadowFinding
	for _, domain := range selected {
		eval := evaluations[domain]
		eval.Findings = append(eval.Findings, thresholdFinding(domain, eval.Score, pol)...)
		applySeverityOverrides(domain, eval.Findings, pol)
		out.Evaluations = append(out.Evaluations, eval)
		findings = append(findings, eval.Findings...)
	}

	findings, out.ExceptionsApplied = ApplyExceptions(findings, exceptions, now)
	sortFindings(findings, tieBreak)
	out.Findings = findings

	stage := pol.EnforcementStage
	for _, domain := range selected {
		domainFindings := findingsForDomain(findings, domain)
		out.DomainDecisions = append(out.DomainDecisions, contracts.DomainDecision{
			Domain:   domain,
			Score:    evaluations[domain].Score,
			Decision: decideFindings(stage, domainFindings),
		})
	}
	out.Decision = decideFindings(stage, findings)
	return out
}

func applyRankingBoosts(ctx *EvaluationContext, evaluations map[contracts.Domain]contracts.DomainEvaluation) {
	blocking := ctx.guardCount(func(f contracts.GuardFinding) bool {
		return f.Severity == contracts.GuardSeverityBlock
	})
	approvals := ctx.guardCount(func(f contracts.GuardFinding) bool {
		return strings.HasPrefix(f.Code, "GUARD_APPROVALS_")
	})

	boost := func(domain contracts.Domain, delta float64) {
		eval := evaluations[domain]
		eval.Score = clampScore(eval.Score + delta)
		evaluations[domain] = eval
	}

	boost(contracts.DomainSecurity, float64(boostPerBlockingGuard*blocking))
	boost(contracts.DomainExecution, float64(boostPerApprovalsGuard*approvals))
	boost(contracts.DomainScales, math.Min(boostScalesCap, math.Round(float64(ctx.LinesChanged)/boostScalesDivisor)))
	if ctx.LinesChanged >= boostTestingLargeLines {
		boost(contracts.DomainTesting, boostTestingLarge)
	}
}

func sizeBand(ctx *EvaluationContext, pol *policy.Policy) Band {
	coverage := pol.Coverage
	if coverage == nil {
		coverage = policy.DefaultCoverage()
	}
	if ctx.LinesChanged <= coverage.Small.MaxLinesChanged && ctx.ChangedFiles <= coverage.Small.MaxFilesChanged {
		return BandSmall
	}
	if ctx.LinesChanged <= coverage.Medium.MaxLinesChanged && ctx.ChangedFiles <= coverage.Medium.MaxFilesChanged {
		return BandMedium
	}
	return BandLarge
}

// selectDomains filters disabled domains and picks the top-N by
// descending score, ties broken by the configured domain order.
func selectDomains(evaluations map[contracts.Domain]contracts.DomainEvaluation, pol *policy.Policy, tieBreak []contracts.Domain, n int) []contracts.Domain {
	order := map[contracts.Domain]int{}
	for i, d := range tieBreak {
		order[d] = i
	}

	var candidates []contracts.Domain
	for _, d := range contracts.CanonicalDomainOrder {
		if rules, ok := pol.DomainRules[d]; ok && !rules.IsEnabled() {
			continue
		}
		candidates = append(candidates, d)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := evaluations[candidates[i]].Score, evaluations[candidates[j]].Score
		if si != sj {
			return si > sj
		}
		return order[candidates[i]] < order[candidates[j]]
	})

	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

func thresholdFinding(domain contracts.Domain, score float64, pol *policy.Policy) []contracts.ShadowFinding {
	thresholds, ok := pol.Thresholds[domain]
	if !ok {
		return nil
	}
	token := domain.CodeToken()
	switch {
	case score >= thresholds.BlockAt:
		return []contracts.ShadowFinding{{
			Code:        fmt.Sprintf("SHADOW_%s_RISK_BLOCK_THRESHOLD", token),
			Domain:      domain,
			Severity:    contracts.ShadowSeverityHigh,
			Message:     fmt.Sprintf("%s risk score %.0f reached the block threshold %.0f", domain, score, thresholds.BlockAt),
			Remediation: "reduce the flagged risk or raise the threshold deliberately",
			Details:     map[string]any{"score": score, "blockAt": thresholds.BlockAt},
		}}
	case score >= thresholds.WarnAt:
		return []contracts.ShadowFinding{{
			Code:        fmt.Sprintf("SHADOW_%s_RISK_WARN_THRESHOLD", token),
			Domain:      domain,
			Severity:    contracts.ShadowSeverityMedium,
			Message:     fmt.Sprintf("%s risk score %.0f reached the warn threshold %.0f", domain, score, thresholds.WarnAt),
			Remediation: "review the flagged risk before merging",
			Details:     map[string]any{"score": score, "warnAt": thresholds.WarnAt},
		}}
	}
	return nil
}

func applySeverityOverrides(domain contracts.Domain, findings []contracts.ShadowFinding, pol *policy.Policy) {
	rules, ok := pol.DomainRules[domain]
	if !ok || len(rules.CheckSeverities) == 0 {
		return
	}
	for i := range findings {
		if sev, ok := rules.CheckSeverities[findings[i].Code]; ok {
			findings[i].Severity = sev
		}
	}
}

// effectiveDecision maps one finding through the enforcement stage.
func effectiveDecision(stage contracts.Stage, f contracts.ShadowFinding) contracts.Decision {
	switch stage {
	case contracts.StageWhisper:
		if f.Severity == contracts.ShadowSeverityCritical &&
			(f.Domain == contracts.DomainSecurity || strings.HasPrefix(f.Code, "SHADOW_RUNTIME_")) {
			return contracts.DecisionBlock
		}
		return contracts.DecisionWarn
	case contracts.StageThrone:
		if f.Severity != contracts.ShadowSeverityLow {
			return contracts.DecisionBlock
		}
		return contracts.DecisionWarn
	default: // oath
		if f.Severity == contracts.ShadowSeverityHigh || f.Severity == contracts.ShadowSeverityCritical {
			return contracts.DecisionBlock
		}
		return contracts.DecisionWarn
	}
}

func decideFindings(stage contracts.Stage, findings []contracts.ShadowFinding) contracts.Decision {
	if len(findings) == 0 {
		return contracts.DecisionPass
	}
	decision := contracts.DecisionWarn
	for _, f := range findings {
		decision = decision.Worse(effectiveDecision(stage, f))
	}
	return decision
}

func findingsForDomain(findings []contracts.ShadowFinding, domain contracts.Domain) []contracts.ShadowFinding {
	var out []contracts.ShadowFinding
	for _, f := range findings {
		if f.Domain == domain {
			out = append(out, f)
		}
	}
	return out
}

// sortFindings orders findings by (domain order index, code), stable.
func sortFindings(findings []contracts.ShadowFinding, tieBreak []contracts.Domain) {
	order := map[contracts.Domain]int{}
	for i, d := range tieBreak {
		order[d] = i
	}
	sort.SliceStable(findings, func(i, j int) bool {
		if order[findings[i].Domain] != order[findings[j].Domain] {
			return order[findings[i].Domain] < order[findings[j].Domain]
		}
		return findings[i].Code < findings[j].Code
	})
}
