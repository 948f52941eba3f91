// Package guard runs the policy-level checks over extracted review
// targets: author lists, bot blocking, rule probes, disclosure and score
// ceilings. Domain scoring lives in pkg/shadow; guard findings are the
// binary block/warn layer beneath it.
package guard

import (
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
)

// CompiledRule pairs a policy rule with its case-insensitive regex.
type CompiledRule struct {
	Rule policy.Rule
	re   *regexp.Regexp
}

// Matches reports whether the rule matches the body.
func (c CompiledRule) Matches(body string) bool {
	return c.re.MatchString(body)
}

// CompileRules compiles every rule pattern once, ahead of evaluation.
// Invalid patterns fail with E_INVALID_RULE_REGEX; patterns with nested
// unbounded quantifiers are rejected with E_UNSAFE_RULE_REGEX even though
// the engine itself is linear-time, because the pattern is part of the
// policy contract and may be evaluated by backtracking engines elsewhere.
func CompileRules(rules []policy.Rule) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(rules))
	for _, rule := range rules {
		if err := checkPatternSafety(rule.Pattern); err != nil {
			return nil, contracts.NewGovernanceError(contracts.ErrUnsafeRuleRegex,
				"rule pattern is prone to catastrophic backtracking").
				WithDetail("rule", rule.Name).
				WithDetail("pattern", rule.Pattern)
		}
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, contracts.NewGovernanceError(contracts.ErrInvalidRuleRegex,
				"rule pattern does not compile").
				WithDetail("rule", rule.Name).
				WithDetail("cause", contracts.TruncateDetail(err.Error()))
		}
		compiled = append(compiled, CompiledRule{Rule: rule, re: re})
	}
	return compiled, nil
}

// checkPatternSafety rejects nested unbounded quantifiers ((a+)+, (a*)* and
// friends).
func checkPatternSafety(pattern string) error {
	tree, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		// Let CompileRules report the compile error with the right code.
		return nil
	}
	if hasNestedUnboundedQuantifier(tree, false) {
		return fmt.Errorf("nested unbounded quantifier")
	}
	return nil
}

func hasNestedUnboundedQuantifier(re *syntax.Regexp, inUnbounded bool) bool {
	unbounded := re.Op == syntax.OpStar || re.Op == syntax.OpPlus ||
		(re.Op == syntax.OpRepeat && re.Max < 0)
	if unbounded && inUnbounded {
		return true
	}
	for _, sub := range re.Sub {
		if hasNestedUnboundedQuantifier(sub, inUnbounded || unbounded) {
			return true
		}
	}
	return false
}

// TargetEvaluation is the per-target guard output.
type TargetEvaluation struct {
	ReferenceID string                   `json:"referenceId"`
	AuthorLogin string                   `json:"authorLogin"`
	AiScore     float64                  `json:"aiScore"`
	Findings    []contracts.GuardFinding `json:"findings"`
}

// Result is the guard stage output for one event.
type Result struct {
	TargetEvaluations []TargetEvaluation       `json:"targetEvaluations"`
	Findings          []contracts.GuardFinding `json:"findings"`
	HighestScore      float64                  `json:"highestScore"`
}

// Evaluate runs the guard checks over every target. Rules compile once per
// call; compile failures abort before any target is inspected.
func Evaluate(pol *policy.Policy, targets []contracts.ReviewTarget) (*Result, error) {
	compiled, err := CompileRules(pol.Rules)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, target := range targets {
		eval := evaluateTarget(pol, compiled, target)
		res.TargetEvaluations = append(res.TargetEvaluations, eval)
		res.Findings = append(res.Findings, eval.Findings...)
		if eval.AiScore > res.HighestScore {
			res.HighestScore = eval.AiScore
		}
	}
	return res, nil
}

func evaluateTarget(pol *policy.Policy, rules []CompiledRule, target contracts.ReviewTarget) TargetEvaluation {
	eval := TargetEvaluation{
		ReferenceID: target.ReferenceID,
		AuthorLogin: policy.NormalizeLogin(target.AuthorLogin),
	}

	if policy.ContainsLogin(pol.AllowedAuthors, target.AuthorLogin) {
		return eval
	}

	emit := func(code, message string, details map[string]any) {
		eval.Findings = append(eval.Findings, contracts.GuardFinding{
			Code:              code,
			Severity:          contracts.GuardSeverityBlock,
			Message:           message,
			TargetReferenceID: target.ReferenceID,
			Details:           details,
		})
	}

	if policy.ContainsLogin(pol.BlockedAuthors, target.AuthorLogin) {
		emit(contracts.GuardBlockedAuthor,
			fmt.Sprintf("author %q is on the blocked list", eval.AuthorLogin), nil)
	}
	if pol.BlockBotAuthors && target.AuthorType == contracts.AuthorBot {
		emit(contracts.GuardBotBlocked,
			fmt.Sprintf("bot author %q is not permitted", eval.AuthorLogin), nil)
	}

	for _, rule := range rules {
		if !rule.Matches(target.Body) {
			continue
		}
		switch rule.Rule.Action {
		case policy.ActionBlock:
			emit(contracts.GuardRuleBlock,
				fmt.Sprintf("rule %q matched", rule.Rule.Name),
				map[string]any{"rule": rule.Rule.Name})
		case policy.ActionScore:
			eval.AiScore += rule.Rule.Weight
		}
	}
	if eval.AiScore > 1 {
		eval.AiScore = 1
	}

	if pol.DisclosureTag != "" && eval.AiScore >= pol.DisclosureRequiredScore {
		if !strings.Contains(strings.ToLower(target.Body), strings.ToLower(pol.DisclosureTag)) {
			emit(contracts.GuardDisclosureRequired,
				fmt.Sprintf("disclosure tag %q required at score %.2f", pol.DisclosureTag, eval.AiScore),
				map[string]any{"requiredTag": pol.DisclosureTag, "aiScore": eval.AiScore})
		}
	}

	if eval.AiScore > pol.MaxAiScore {
		emit(contracts.GuardAiScoreExceeded,
			fmt.Sprintf("ai score %.2f exceeds the policy ceiling %.2f", eval.AiScore, pol.MaxAiScore),
			map[string]any{"aiScore": eval.AiScore, "maxAiScore": pol.MaxAiScore})
	}

	return eval
}

// Outcome folds guard findings into the policy-level decision.
func Outcome(enforcement contracts.Enforcement, findings []contracts.GuardFinding) contracts.Decision {
	anyBlock := false
	for _, f := range findings {
		if f.Severity == contracts.GuardSeverityBlock {
			anyBlock = true
			break
		}
	}
	if anyBlock && enforcement == contracts.EnforcementBlock {
		return contracts.DecisionBlock
	}
	if len(findings) > 0 {
		return contracts.DecisionWarn
	}
	return contracts.DecisionPass
}
