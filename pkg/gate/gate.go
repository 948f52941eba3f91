// Package gate drives one end-to-end evaluation: resolve the policy, load
// the webhook event, extract review targets, run the guard and shadow
// layers, and emit the report. It owns the option surface of the CLI's
// default command.
package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/guard"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy/bundle"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/provider"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/report"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/shadow"
)

var tracer = otel.Tracer("shadowgate/gate")

// Runner evaluates gate invocations. The zero value reads the process
// environment and wall clock; tests inject Env, HTTPClient, APIBaseURL
// and Clock.
type Runner struct {
	// Env overrides the process environment when non-nil.
	Env map[string]string

	Logger *slog.Logger

	// HTTPClient and APIBaseURL override the approval-fetch transport.
	HTTPClient *http.Client
	APIBaseURL string

	// Sigstore resolves keyless bundle signatures.
	Sigstore bundle.SigstoreAdapter

	// Clock supplies evaluation time; nil means time.Now.
	Clock func() time.Time
}

// Result is one completed evaluation.
type Result struct {
	Report   *contracts.Report
	Decision contracts.Decision
	Written  []string
}

func (g *Runner) getenv(key string) string {
	if g.Env != nil {
		return g.Env[key]
	}
	return os.Getenv(key)
}

func (g *Runner) logger() *slog.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return slog.Default()
}

func (g *Runner) now() time.Time {
	if g.Clock != nil {
		return g.Clock()
	}
	return time.Now()
}

// Run executes the full pipeline. A non-nil error is a fatal coded
// governance failure; policy-level problems surface as findings inside
// the returned report instead.
func (g *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	ctx, span := tracer.Start(ctx, "gate.Run")
	defer span.End()

	runID := uuid.NewString()
	log := g.logger().With(slog.String("run_id", runID))

	format, err := opts.normalize(map[string]string{
		envEventPath: g.getenv(envEventPath),
		envEventName: g.getenv(envEventName),
	})
	if err != nil {
		return nil, err
	}

	resolved, err := g.resolvePolicy(&opts)
	if err != nil {
		return nil, err
	}
	pol := resolved.Policy

	adapter, err := provider.ForName(opts.ProviderName)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("gate.provider", adapter.Name()),
		attribute.String("gate.event", opts.EventName),
	)

	eventRaw, err := readInput(opts.EventPath, "event file")
	if err != nil {
		return nil, err
	}

	now := g.now()
	if !opts.Now.IsZero() {
		now = opts.Now
	}

	var findings []contracts.GuardFinding
	var payload map[string]any
	var targets []contracts.ReviewTarget

	runtimeSeverity := func(fail bool) contracts.GuardSeverity {
		if fail {
			return contracts.GuardSeverityBlock
		}
		return contracts.GuardSeverityWarn
	}

	switch {
	case pol.Runtime.MaxEventBytes > 0 && len(eventRaw) > pol.Runtime.MaxEventBytes:
		findings = append(findings, contracts.GuardFinding{
			Code:     contracts.GuardEventTooLarge,
			Severity: contracts.GuardSeverityBlock,
			Message: fmt.Sprintf("event payload is %d bytes, limit is %d",
				len(eventRaw), pol.Runtime.MaxEventBytes),
			Details: map[string]any{"eventBytes": len(eventRaw), "maxEventBytes": pol.Runtime.MaxEventBytes},
		})
	case !provider.Supports(adapter, opts.EventName):
		findings = append(findings, contracts.GuardFinding{
			Code:     contracts.GuardUnsupportedEvent,
			Severity: runtimeSeverity(pol.Runtime.FailOnUnsupportedEvent),
			Message:  fmt.Sprintf("event %q is not supported by provider %s", opts.EventName, adapter.Name()),
			Details:  map[string]any{"eventName": opts.EventName},
		})
	case json.Unmarshal(eventRaw, &payload) != nil || payload == nil:
		findings = append(findings, contracts.GuardFinding{
			Code:     contracts.GuardMalformedEvent,
			Severity: runtimeSeverity(pol.Runtime.FailOnMalformedPayload),
			Message:  "event payload is not a JSON object",
		})
	default:
		extracted := adapter.ExtractTargets(opts.EventName, payload, pol)
		targets = extracted.Targets
		if len(extracted.MalformedReasons) > 0 {
			findings = append(findings, contracts.GuardFinding{
				Code:     contracts.GuardMalformedEvent,
				Severity: runtimeSeverity(pol.Runtime.FailOnMalformedPayload),
				Message:  "event payload is missing required fields",
				Details:  map[string]any{"reasons": extracted.MalformedReasons},
			})
		}
	}

	if pol.Runtime.MaxTargets > 0 && len(targets) > pol.Runtime.MaxTargets {
		targets = targets[:pol.Runtime.MaxTargets]
	}
	targets, truncatedRefs, truncFindings := truncateBodies(targets, pol.Runtime.MaxBodyChars)
	findings = append(findings, truncFindings...)

	guardResult, err := guard.Evaluate(pol, targets)
	if err != nil {
		return nil, err
	}
	findings = append(findings, guardResult.Findings...)

	var humanApprovals *int
	if pol.MinHumanApprovals > 0 {
		count, approvalFindings := g.verifyApprovals(ctx, adapter, opts.EventName, payload, pol, log)
		humanApprovals = count
		findings = append(findings, approvalFindings...)
	}

	var shadowOut *shadow.Outcome
	if pol.ShadowEnabled() {
		exceptions, err := loadExceptions(opts.ExceptionsPath)
		if err != nil {
			return nil, err
		}
		evalCtx := shadow.BuildContext(payload, targets, findings)
		shadowOut = shadow.Evaluate(evalCtx, pol, now, exceptions)
	}

	decision := overallDecision(pol, findings, shadowOut)

	buildReport := func() (*contracts.Report, error) {
		return report.Build(report.Input{
			Provider:       adapter.Name(),
			EventName:      opts.EventName,
			Policy:         pol,
			PolicyDoc:      resolved.Doc,
			EventRaw:       eventRaw,
			Targets:        targets,
			TruncatedRefs:  truncatedRefs,
			GuardFindings:  findings,
			HighestAiScore: guardResult.HighestScore,
			HumanApprovals: humanApprovals,
			Shadow:         shadowOut,
			Decision:       decision,
			Timestamp:      now,
			PolicyPath:     resolved.Path,
			Redact:         opts.Redact,
		})
	}

	r, err := buildReport()
	if err != nil {
		return nil, err
	}

	if opts.ReplayReportPath != "" {
		baseline, err := readInput(opts.ReplayReportPath, "replay baseline report")
		if err != nil {
			return nil, err
		}
		mismatch, err := report.CompareReplay(r, baseline)
		if err != nil {
			return nil, err
		}
		if mismatch != nil {
			findings = append(findings, *mismatch)
			decision = overallDecision(pol, findings, shadowOut)
			if r, err = buildReport(); err != nil {
				return nil, err
			}
			log.Warn("replay digest mismatch",
				slog.Any("currentDigest", mismatch.Details["currentDigest"]),
				slog.Any("baselineDigest", mismatch.Details["baselineDigest"]))
		}
	}

	var written []string
	if opts.ReportPath != "" {
		r.GeneratedReports = report.PlannedPaths(opts.ReportPath, format)
		if written, err = report.Write(r, opts.ReportPath, format); err != nil {
			return nil, err
		}
	}

	log.Info("evaluation complete",
		slog.String("provider", adapter.Name()),
		slog.String("event", opts.EventName),
		slog.String("decision", string(decision)),
		slog.Int("targets", len(targets)),
		slog.Int("findings", len(findings)))
	span.SetAttributes(attribute.String("gate.decision", string(decision)))

	return &Result{Report: r, Decision: decision, Written: written}, nil
}

// truncateBodies clips target bodies to the policy bound and records a
// blocking finding per clipped target. The report assembler withholds
// clipped bodies from the artifact.
func truncateBodies(targets []contracts.ReviewTarget, maxChars int) ([]contracts.ReviewTarget, map[string]bool, []contracts.GuardFinding) {
	if maxChars <= 0 {
		return targets, nil, nil
	}
	var refs map[string]bool
	var findings []contracts.GuardFinding
	for i, t := range targets {
		runes := []rune(t.Body)
		if len(runes) <= maxChars {
			continue
		}
		targets[i].Body = string(runes[:maxChars])
		if refs == nil {
			refs = make(map[string]bool)
		}
		refs[t.ReferenceID] = true
		findings = append(findings, contracts.GuardFinding{
			Code:              contracts.GuardBodyTruncated,
			Severity:          contracts.GuardSeverityBlock,
			Message:           fmt.Sprintf("body truncated to %d characters", maxChars),
			TargetReferenceID: t.ReferenceID,
			Details:           map[string]any{"originalChars": len(runes), "maxBodyChars": maxChars},
		})
	}
	return targets, refs, findings
}

// verifyApprovals runs the networked approval stage. It never fails the
// invocation; unavailable credentials and fetch errors become blocking
// findings so the decision degrades safe.
func (g *Runner) verifyApprovals(ctx context.Context, adapter provider.Adapter, eventName string, payload map[string]any, pol *policy.Policy, log *slog.Logger) (*int, []contracts.GuardFinding) {
	pull := adapter.ExtractPullContext(eventName, payload)
	if pull == nil {
		return nil, []contracts.GuardFinding{{
			Code:     contracts.GuardPullContextMissing,
			Severity: contracts.GuardSeverityBlock,
			Message:  "cannot locate the pull request for approval verification",
		}}
	}

	envVar := adapter.ApprovalTokenEnvVar()
	token := g.getenv(envVar)
	if token == "" {
		return nil, []contracts.GuardFinding{{
			Code:     contracts.GuardApprovalsUnverified,
			Severity: contracts.GuardSeverityBlock,
			Message:  envVar + " unavailable, cannot verify human approvals",
			Details:  map[string]any{"tokenEnvVar": envVar},
		}}
	}

	count, err := adapter.FetchHumanApprovalCount(ctx, *pull, provider.ApprovalOptions{
		Token:          token,
		BaseURL:        g.APIBaseURL,
		FetchTimeoutMs: pol.Approvals.FetchTimeoutMs,
		MaxPages:       pol.Approvals.MaxPages,
		Retry:          pol.Approvals.Retry,
		AllowedAuthors: pol.AllowedAuthors,
		HTTPClient:     g.HTTPClient,
	})
	if err != nil {
		log.Warn("approval fetch failed", slog.String("error", err.Error()))
		return nil, []contracts.GuardFinding{approvalFinding(err)}
	}

	if count < pol.MinHumanApprovals {
		return &count, []contracts.GuardFinding{{
			Code:     contracts.GuardHumanApprovals,
			Severity: contracts.GuardSeverityBlock,
			Message: fmt.Sprintf("%d human approvals, %d required",
				count, pol.MinHumanApprovals),
			Details: map[string]any{"actual": count, "required": pol.MinHumanApprovals},
		}}
	}
	return &count, nil
}

// approvalFinding maps a fetch failure onto its stable finding code.
func approvalFinding(err error) contracts.GuardFinding {
	code := contracts.GuardApprovalsFetchError
	details := map[string]any{}
	var apErr *provider.ApprovalError
	if errors.As(err, &apErr) {
		switch apErr.Kind {
		case provider.ErrKindTimeout:
			code = contracts.GuardApprovalsTimeout
		case provider.ErrKindRateLimited:
			code = contracts.GuardApprovalsRateLimited
		case provider.ErrKindRetryExhausted:
			code = contracts.GuardApprovalsRetryExhaust
		}
		details["kind"] = string(apErr.Kind)
		if len(apErr.Attempts) > 0 {
			details["attempts"] = apErr.Attempts
		}
	}
	return contracts.GuardFinding{
		Code:     code,
		Severity: contracts.GuardSeverityBlock,
		Message:  contracts.TruncateDetail(err.Error()),
		Details:  details,
	}
}

// overallDecision combines the guard outcome with the shadow engine's.
func overallDecision(pol *policy.Policy, findings []contracts.GuardFinding, shadowOut *shadow.Outcome) contracts.Decision {
	decision := guard.Outcome(pol.Enforcement, findings)
	if shadowOut != nil {
		decision = decision.Worse(shadowOut.Decision)
	}
	return decision
}

func loadExceptions(path string) ([]contracts.ExceptionRecord, error) {
	if path == "" {
		return nil, nil
	}
	data, err := readInput(path, "exceptions file")
	if err != nil {
		return nil, err
	}
	var records []contracts.ExceptionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
			"exceptions file must be a JSON array of exception records").
			WithDetail("path", path).
			WithDetail("cause", err.Error())
	}
	return records, nil
}
