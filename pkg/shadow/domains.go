package shadow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// probe is one keyword/regex check over the corpus. Score contribution is
// weight per hit, capped at maxHits occurrences.
type probe struct {
	code        string
	severity    contracts.ShadowSeverity
	pattern     *regexp.Regexp
	weight      float64
	message     string
	remediation string
}

const probeMaxHits = 3

func (p probe) run(corpus string) (contracts.ShadowFinding, float64, bool) {
	hits := len(p.pattern.FindAllStringIndex(corpus, probeMaxHits))
	if hits == 0 {
		return contracts.ShadowFinding{}, 0, false
	}
	return contracts.ShadowFinding{
		Code:        p.code,
		Severity:    p.severity,
		Message:     p.message,
		Remediation: p.remediation,
		Details:     map[string]any{"matches": hits},
	}, p.weight * float64(hits), true
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Probes match the lowercased corpus, so patterns are written lowercase.
var (
	securityProbes = []probe{
		{
			code: "SHADOW_SECURITY_SECRET_MATERIAL", severity: contracts.ShadowSeverityCritical,
			pattern: regexp.MustCompile(`begin [a-z ]*private key|aws_secret_access_key|ghp_[a-z0-9]{20,}`),
			weight:  35,
			message: "secret material appears in review-visible text",
			remediation: "remove the credential from the pull request and rotate it",
		},
		{
			code: "SHADOW_SECURITY_CREDENTIAL_ASSIGNMENT", severity: contracts.ShadowSeverityHigh,
			pattern: regexp.MustCompile(`(password|passwd|api[_-]?key|secret|token)\s*[:=]\s*['"][^'"]+['"]`),
			weight:  20,
			message: "hardcoded credential assignment detected",
			remediation: "move the value into a secret store or environment configuration",
		},
		{
			code: "SHADOW_SECURITY_REMOTE_EXECUTION", severity: contracts.ShadowSeverityHigh,
			pattern: regexp.MustCompile(`curl[^\n]*\|\s*(ba|z)?sh|wget[^\n]*\|\s*(ba|z)?sh`),
			weight:  20,
			message: "piping remote content into a shell",
			remediation: "download, inspect and checksum-verify scripts before executing them",
		},
		{
			code: "SHADOW_SECURITY_VERIFICATION_DISABLED", severity: contracts.ShadowSeverityMedium,
			pattern: regexp.MustCompile(`insecureskipverify|verify\s*=\s*false|disable[sd]?\s+(tls|ssl|certificate)`),
			weight:  15,
			message: "transport verification appears disabled",
			remediation: "keep certificate verification enabled outside of tests",
		},
	}

	accessProbes = []probe{
		{
			code: "SHADOW_ACCESS_WORLD_WRITABLE", severity: contracts.ShadowSeverityHigh,
			pattern: regexp.MustCompile(`chmod\s+(-r\s+)?0?777`),
			weight:  25,
			message: "world-writable permissions requested",
			remediation: "grant the narrowest file mode that works",
		},
		{
			code: "SHADOW_ACCESS_PRIVILEGE_ESCALATION", severity: contracts.ShadowSeverityMedium,
			pattern: regexp.MustCompile(`sudo\s|runas|--privileged`),
			weight:  15,
			message: "privilege escalation referenced",
			remediation: "document why elevated privileges are required",
		},
		{
			code: "SHADOW_ACCESS_AUTH_BYPASS", severity: contracts.ShadowSeverityHigh,
			pattern: regexp.MustCompile(`bypass[^\n]{0,20}(auth|login|permission)|skip[^\n]{0,20}auth`),
			weight:  25,
			message: "authentication or permission bypass referenced",
			remediation: "route every code path through the authorization layer",
		},
	}

	testingProbes = []probe{
		{
			code: "SHADOW_TESTING_SKIPPED_TESTS", severity: contracts.ShadowSeverityMedium,
			pattern: regexp.MustCompile(`t\.skip|@skip|xit\(|x?describe\.skip|disabled?\s+test`),
			weight:  20,
			message: "tests are skipped or disabled",
			remediation: "re-enable the tests or explain the gap in the pull request",
		},
		{
			code: "SHADOW_TESTING_NO_TESTS_DECLARED", severity: contracts.ShadowSeverityMedium,
			pattern: regexp.MustCompile(`no tests?\b|tests? (to follow|later|pending)|untested`),
			weight:  20,
			message: "change is declared untested",
			remediation: "add coverage for the changed behavior before merging",
		},
	}

	executionProbes = []probe{
		{
			code: "SHADOW_EXECUTION_HARD_EXIT", severity: contracts.ShadowSeverityMedium,
			pattern: regexp.MustCompile(`os\.exit|process\.exit|sys\.exit|panic\(`),
			weight:  15,
			message: "hard process exit or panic in the change narrative",
			remediation: "return errors to the caller instead of exiting",
		},
		{
			code: "SHADOW_EXECUTION_UNBOUNDED_LOOP", severity: contracts.ShadowSeverityMedium,
			pattern: regexp.MustCompile(`while\s*\(\s*true\s*\)|for\s*\(\s*;;\s*\)|while true`),
			weight:  15,
			message: "unbounded loop referenced",
			remediation: "bound the loop or add a cancellation path",
		},
	}

	valueProbes = []probe{
		{
			code: "SHADOW_VALUE_WORK_IN_PROGRESS", severity: contracts.ShadowSeverityLow,
			pattern: regexp.MustCompile(`\bwip\b|work in progress|do not merge`),
			weight:  15,
			message: "change is marked as unfinished",
			remediation: "land the change once it is complete, or mark the PR as draft",
		},
		{
			code: "SHADOW_VALUE_DEAD_CODE", severity: contracts.ShadowSeverityLow,
			pattern: regexp.MustCompile(`dead code|commented[- ]out code|unused (code|function|variable)`),
			weight:  10,
			message: "dead or commented-out code referenced",
			remediation: "delete unused code; version control preserves history",
		},
		{
			code: "SHADOW_VALUE_TEMPORARY_HACK", severity: contracts.ShadowSeverityMedium,
			pattern: regexp.MustCompile(`temporary (hack|fix|workaround)|quick fix|hack around`),
			weight:  15,
			message: "temporary workaround declared",
			remediation: "file a follow-up and link it from the code",
		},
	}

	aestheticsProbes = []probe{
		{
			code: "SHADOW_AESTHETICS_FORMATTER_SKIPPED", severity: contracts.ShadowSeverityLow,
			pattern: regexp.MustCompile(`gofmt|prettier|rustfmt|not formatted|formatting (broken|skipped)`),
			weight:  10,
			message: "formatter concerns referenced",
			remediation: "run the project formatter before review",
		},
		{
			code: "SHADOW_AESTHETICS_DEFERRED_WORK_MARKERS", severity: contracts.ShadowSeverityLow,
			pattern: regexp.MustCompile(`\btodo\b|\bfixme\b|\bxxx\b|\bhack\b`),
			weight:  5,
			message: "deferred-work markers in review-visible text",
			remediation: "convert markers into tracked issues",
		},
	}
)

// Size heuristics for the scales and testing domains.
const (
	scalesLargeLines   = 800
	scalesLargeFiles   = 30
	scalesMediumLines  = 400
	testingLargeChange = 300
)

func runProbes(probes []probe, corpus string) ([]contracts.ShadowFinding, float64) {
	var findings []contracts.ShadowFinding
	score := 0.0
	for _, p := range probes {
		if f, contribution, hit := p.run(corpus); hit {
			findings = append(findings, f)
			score += contribution
		}
	}
	return findings, score
}

// evaluateDomain runs one domain's probes plus its guard-finding mappings
// and size heuristics.
func evaluateDomain(domain contracts.Domain, ctx *EvaluationContext) contracts.DomainEvaluation {
	var findings []contracts.ShadowFinding
	score := 0.0

	switch domain {
	case contracts.DomainSecurity:
		findings, score = runProbes(securityProbes, ctx.corpusLower)
		if ctx.hasGuard(contracts.GuardMalformedEvent) {
			findings = append(findings, contracts.ShadowFinding{
				Code:        "SHADOW_SECURITY_MALFORMED_EVENT",
				Severity:    contracts.ShadowSeverityCritical,
				Message:     "event payload is missing required objects",
				Remediation: "investigate the webhook source; malformed events can mask tampering",
			})
			score += 40
		}

	case contracts.DomainAccess:
		findings, score = runProbes(accessProbes, ctx.corpusLower)
		if ctx.hasGuard(contracts.GuardBlockedAuthor) || ctx.hasGuard(contracts.GuardBotBlocked) {
			findings = append(findings, contracts.ShadowFinding{
				Code:        "SHADOW_ACCESS_UNTRUSTED_AUTHOR",
				Severity:    contracts.ShadowSeverityMedium,
				Message:     "a guarded author contributed to this change",
				Remediation: "review the author policy and the contribution history",
			})
			score += 20
		}

	case contracts.DomainTesting:
		findings, score = runProbes(testingProbes, ctx.corpusLower)
		if ctx.LinesChanged >= testingLargeChange && !strings.Contains(ctx.corpusLower, "test") {
			findings = append(findings, contracts.ShadowFinding{
				Code:        "SHADOW_TESTING_COVERAGE_GAP",
				Severity:    contracts.ShadowSeverityMedium,
				Message:     fmt.Sprintf("%d changed lines with no testing narrative", ctx.LinesChanged),
				Remediation: "describe how the change is tested in the pull request",
			})
			score += 20
		}

	case contracts.DomainExecution:
		findings, score = runProbes(executionProbes, ctx.corpusLower)
		approvals := ctx.guardCount(func(f contracts.GuardFinding) bool {
			return strings.HasPrefix(f.Code, "GUARD_APPROVALS_")
		})
		if approvals > 0 {
			findings = append(findings, contracts.ShadowFinding{
				Code:        "SHADOW_EXECUTION_APPROVALS_UNVERIFIED",
				Severity:    contracts.ShadowSeverityHigh,
				Message:     "human approval state could not be verified",
				Remediation: "restore approval verification before relying on the gate",
			})
			score += 30
		}

	case contracts.DomainScales:
		switch {
		case ctx.LinesChanged > scalesLargeLines || ctx.ChangedFiles > scalesLargeFiles:
			findings = append(findings, contracts.ShadowFinding{
				Code:        "SHADOW_SCALES_LARGE_CHANGE",
				Severity:    contracts.ShadowSeverityMedium,
				Message:     fmt.Sprintf("change spans %d lines across %d files", ctx.LinesChanged, ctx.ChangedFiles),
				Remediation: "split the change into independently reviewable pieces",
			})
		case ctx.LinesChanged > scalesMediumLines:
			findings = append(findings, contracts.ShadowFinding{
				Code:        "SHADOW_SCALES_MODERATE_CHANGE",
				Severity:    contracts.ShadowSeverityLow,
				Message:     fmt.Sprintf("change spans %d lines", ctx.LinesChanged),
				Remediation: "consider splitting if review quality suffers",
			})
		}
		score = float64(ctx.LinesChanged)/15 + float64(ctx.ChangedFiles)

	case contracts.DomainValue:
		findings, score = runProbes(valueProbes, ctx.corpusLower)

	case contracts.DomainAesthetics:
		findings, score = runProbes(aestheticsProbes, ctx.corpusLower)
	}

	for i := range findings {
		findings[i].Domain = domain
	}
	return contracts.DomainEvaluation{
		Domain:    domain,
		Score:     clampScore(score),
		Rationale: rationale(domain, findings),
		Findings:  findings,
	}
}

func rationale(domain contracts.Domain, findings []contracts.ShadowFinding) string {
	if len(findings) == 0 {
		return fmt.Sprintf("no %s probes matched", domain)
	}
	return fmt.Sprintf("%d %s probe(s) matched", len(findings), domain)
}
