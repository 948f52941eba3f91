package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/gate"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy/keyless"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/report"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func runGateCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("gate", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var opts gate.Options
	var publicKeys stringList
	var nowFlag string
	var color, verbose bool

	cmd.StringVar(&opts.PolicyPath, "policy", "", "Path to the policy file (JSON or YAML)")
	cmd.StringVar(&opts.BundlePath, "policy-bundle", "", "Path to a signed policy bundle")
	cmd.StringVar(&opts.SchemaPath, "policy-schema", "", "Path to the policy JSON schema (with --policy-bundle)")
	cmd.Var(&publicKeys, "policy-public-key", "Trusted RSA key as keyId=path (repeatable)")
	cmd.StringVar(&opts.TrustStorePath, "policy-trust-store", "", "Path to the signer trust store")
	cmd.StringVar(&opts.OrgPolicyPath, "org-policy", "", "Path to the organization base policy")
	cmd.StringVar(&opts.LocalPolicyPath, "local-policy", "", "Path to the repository override policy")
	cmd.StringVar(&opts.ConstraintsPath, "override-constraints", "", "Path to override constraints (with --org-policy)")
	cmd.StringVar(&opts.EventPath, "event", "", "Path to the webhook event payload (default $GITHUB_EVENT_PATH)")
	cmd.StringVar(&opts.EventName, "event-name", "", "Webhook event name (default $GITHUB_EVENT_NAME)")
	cmd.StringVar(&opts.ProviderName, "provider", "", "Event provider: github, gitlab or bitbucket (default github)")
	cmd.StringVar(&opts.ReportPath, "report", "", "Write the report to this path")
	cmd.StringVar(&opts.ReportFormat, "report-format", "", "Report format: json, md, sarif or all (default json)")
	cmd.StringVar(&opts.ReplayReportPath, "replay-report", "", "Compare against a baseline report's replay digest")
	cmd.StringVar(&opts.ExceptionsPath, "exceptions", "", "Path to a JSON array of exception records")
	cmd.BoolVar(&opts.Redact, "redact", false, "Replace target bodies with hashes in the report")
	cmd.StringVar(&nowFlag, "now", "", "Evaluation time, RFC3339 (default wall clock)")
	cmd.BoolVar(&color, "color", false, "Colorize the summary output")
	cmd.BoolVar(&verbose, "verbose", false, "Enable debug logging")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	opts.PublicKeys = publicKeys
	if nowFlag != "" {
		parsed, err := time.Parse(time.RFC3339, nowFlag)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: --now must be RFC3339, got %q\n", nowFlag)
			return 2
		}
		opts.Now = parsed
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	runner := &gate.Runner{
		Logger:   slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})),
		Sigstore: keyless.New(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := runner.Run(ctx, opts)
	if err != nil {
		printGovernanceError(stderr, err)
		return 1
	}

	_, _ = fmt.Fprint(stdout, report.RenderMarkdown(res.Report, color))
	if res.Decision == contracts.DecisionBlock {
		return 1
	}
	return 0
}

// printGovernanceError surfaces coded errors as CODE: message plus their
// detail fields, one per line.
func printGovernanceError(w io.Writer, err error) {
	var ge *contracts.GovernanceError
	if !errors.As(err, &ge) {
		_, _ = fmt.Fprintf(w, "Error: %v\n", err)
		return
	}
	_, _ = fmt.Fprintf(w, "%s: %s\n", ge.Code, ge.Message)
	for key, value := range ge.Details {
		_, _ = fmt.Fprintf(w, "  %s: %v\n", key, value)
	}
}
