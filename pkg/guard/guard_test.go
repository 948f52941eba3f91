package guard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
)

func guardPolicy() *policy.Policy {
	pol := policy.Defaults(1)
	pol.Enforcement = contracts.EnforcementBlock
	pol.MaxAiScore = 0.5
	pol.DisclosureTag = "[ai-assisted]"
	pol.DisclosureRequiredScore = 0.3
	return pol
}

func target(ref, login string, typ contracts.AuthorType, body string) contracts.ReviewTarget {
	return contracts.ReviewTarget{
		Source:      contracts.SourcePRBody,
		ReferenceID: ref,
		AuthorLogin: login,
		AuthorType:  typ,
		Body:        body,
	}
}

func codes(findings []contracts.GuardFinding) []string {
	out := make([]string, 0, len(findings))
	for _, f := range findings {
		out = append(out, f.Code)
	}
	return out
}

func TestCompileRulesRejectsInvalidPattern(t *testing.T) {
	_, err := CompileRules([]policy.Rule{{Name: "bad", Pattern: "([unclosed", Action: policy.ActionBlock}})
	var ge *contracts.GovernanceError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, contracts.ErrInvalidRuleRegex, ge.Code)
	assert.Equal(t, "bad", ge.Details["rule"])
}

func TestCompileRulesRejectsUnsafePatterns(t *testing.T) {
	for _, pattern := range []string{`(a+)+$`, `(\w*)*x`, `(a+){2,}`} {
		_, err := CompileRules([]policy.Rule{{Name: "unsafe", Pattern: pattern, Action: policy.ActionScore}})
		var ge *contracts.GovernanceError
		require.True(t, errors.As(err, &ge), "pattern %s", pattern)
		assert.Equal(t, contracts.ErrUnsafeRuleRegex, ge.Code, "pattern %s", pattern)
	}
}

func TestCompileRulesAcceptsBoundedNesting(t *testing.T) {
	_, err := CompileRules([]policy.Rule{
		{Name: "ok-literal", Pattern: `generated by (chatgpt|copilot)`, Action: policy.ActionScore},
		{Name: "ok-bounded", Pattern: `(a{1,3}){2,4}`, Action: policy.ActionScore},
		{Name: "ok-single", Pattern: `ai+ generated`, Action: policy.ActionScore},
	})
	assert.NoError(t, err)
}

func TestRulesAreCaseInsensitive(t *testing.T) {
	compiled, err := CompileRules([]policy.Rule{{Name: "r", Pattern: "Generated By AI", Action: policy.ActionBlock}})
	require.NoError(t, err)
	assert.True(t, compiled[0].Matches("this was GENERATED by ai"))
}

func TestAllowedAuthorSkipsAllChecks(t *testing.T) {
	pol := guardPolicy()
	pol.AllowedAuthors = []string{"Trusted-Dev"}
	pol.BlockedAuthors = []string{"trusted-dev"}
	pol.Rules = []policy.Rule{{Name: "r", Pattern: ".", Action: policy.ActionBlock}}

	res, err := Evaluate(pol, []contracts.ReviewTarget{
		target("pr:1", "trusted-dev", contracts.AuthorUser, "anything"),
	})
	require.NoError(t, err)
	assert.Empty(t, res.Findings)
	assert.Zero(t, res.HighestScore)
}

func TestBlockedAuthor(t *testing.T) {
	pol := guardPolicy()
	pol.BlockedAuthors = []string{"Mallory"}

	res, err := Evaluate(pol, []contracts.ReviewTarget{
		target("pr:1", "mallory", contracts.AuthorUser, "hello"),
	})
	require.NoError(t, err)
	assert.Contains(t, codes(res.Findings), contracts.GuardBlockedAuthor)
	assert.Equal(t, "pr:1", res.Findings[0].TargetReferenceID)
}

func TestBotBlocked(t *testing.T) {
	pol := guardPolicy()
	pol.BlockBotAuthors = true

	res, err := Evaluate(pol, []contracts.ReviewTarget{
		target("comment:2", "renovate[bot]", contracts.AuthorBot, "bump deps"),
	})
	require.NoError(t, err)
	assert.Contains(t, codes(res.Findings), contracts.GuardBotBlocked)
}

func TestRuleBlockAndScoreAccumulation(t *testing.T) {
	pol := guardPolicy()
	pol.MaxAiScore = 1
	pol.DisclosureTag = ""
	pol.Rules = []policy.Rule{
		{Name: "no-secrets", Pattern: "BEGIN RSA PRIVATE KEY", Action: policy.ActionBlock},
		{Name: "llm-a", Pattern: "as an ai", Action: policy.ActionScore, Weight: 0.4},
		{Name: "llm-b", Pattern: "language model", Action: policy.ActionScore, Weight: 0.4},
		{Name: "llm-c", Pattern: "i cannot", Action: policy.ActionScore, Weight: 0.4},
	}

	res, err := Evaluate(pol, []contracts.ReviewTarget{
		target("pr:1", "dev", contracts.AuthorUser,
			"As an AI language model I cannot include BEGIN RSA PRIVATE KEY"),
	})
	require.NoError(t, err)
	assert.Contains(t, codes(res.Findings), contracts.GuardRuleBlock)
	// Three score rules at 0.4 clamp to 1.
	assert.Equal(t, 1.0, res.HighestScore)
}

func TestDisclosureRequired(t *testing.T) {
	pol := guardPolicy()
	pol.MaxAiScore = 1
	pol.Rules = []policy.Rule{{Name: "llm", Pattern: "as an ai", Action: policy.ActionScore, Weight: 0.4}}

	res, err := Evaluate(pol, []contracts.ReviewTarget{
		target("pr:1", "dev", contracts.AuthorUser, "written as an AI helper"),
	})
	require.NoError(t, err)
	assert.Contains(t, codes(res.Findings), contracts.GuardDisclosureRequired)

	res, err = Evaluate(pol, []contracts.ReviewTarget{
		target("pr:1", "dev", contracts.AuthorUser, "written as an AI helper [AI-Assisted]"),
	})
	require.NoError(t, err)
	assert.NotContains(t, codes(res.Findings), contracts.GuardDisclosureRequired)
}

func TestAiScoreExceeded(t *testing.T) {
	pol := guardPolicy()
	pol.DisclosureTag = ""
	pol.MaxAiScore = 0.3
	pol.Rules = []policy.Rule{{Name: "llm", Pattern: "as an ai", Action: policy.ActionScore, Weight: 0.5}}

	res, err := Evaluate(pol, []contracts.ReviewTarget{
		target("pr:1", "dev", contracts.AuthorUser, "as an ai"),
	})
	require.NoError(t, err)
	assert.Contains(t, codes(res.Findings), contracts.GuardAiScoreExceeded)
	assert.Equal(t, 0.5, res.HighestScore)
}

func TestDefaultWeightAppliedByParser(t *testing.T) {
	pol, err := policy.ParseBytes([]byte(`{
	  "version": 1,
	  "enforcement": "block",
	  "rules": [{"name": "r", "pattern": "x", "action": "score"}]
	}`), "policy.json")
	require.NoError(t, err)
	assert.Equal(t, policy.DefaultRuleWeight, pol.Rules[0].Weight)
}

func TestOutcome(t *testing.T) {
	block := []contracts.GuardFinding{{Code: contracts.GuardBlockedAuthor, Severity: contracts.GuardSeverityBlock}}
	warn := []contracts.GuardFinding{{Code: contracts.GuardBodyTruncated, Severity: contracts.GuardSeverityWarn}}

	assert.Equal(t, contracts.DecisionBlock, Outcome(contracts.EnforcementBlock, block))
	assert.Equal(t, contracts.DecisionWarn, Outcome(contracts.EnforcementWarn, block))
	assert.Equal(t, contracts.DecisionWarn, Outcome(contracts.EnforcementBlock, warn))
	assert.Equal(t, contracts.DecisionPass, Outcome(contracts.EnforcementBlock, nil))
}

func TestMultipleTargetsHighestScore(t *testing.T) {
	pol := guardPolicy()
	pol.DisclosureTag = ""
	pol.MaxAiScore = 1
	pol.Rules = []policy.Rule{{Name: "llm", Pattern: "as an ai", Action: policy.ActionScore, Weight: 0.6}}

	res, err := Evaluate(pol, []contracts.ReviewTarget{
		target("pr:1", "dev", contracts.AuthorUser, "plain"),
		target("comment:2", "dev", contracts.AuthorUser, "as an ai"),
	})
	require.NoError(t, err)
	require.Len(t, res.TargetEvaluations, 2)
	assert.Zero(t, res.TargetEvaluations[0].AiScore)
	assert.Equal(t, 0.6, res.HighestScore)
}
