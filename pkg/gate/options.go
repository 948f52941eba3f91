package gate

import (
	"strings"
	"time"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/report"
)

// Options is one gate invocation. Exactly one policy source group must be
// populated: a plain policy file, a signed bundle with its schema and a
// verification anchor, or an org+local pair for override merge.
type Options struct {
	// Plain policy source.
	PolicyPath string

	// Bundle policy source.
	BundlePath     string
	SchemaPath     string
	PublicKeys     []string // repeatable keyId=path entries
	TrustStorePath string

	// Org+local policy source.
	OrgPolicyPath   string
	LocalPolicyPath string
	ConstraintsPath string

	EventPath    string
	EventName    string
	ProviderName string

	ReportPath       string
	ReportFormat     string
	ReplayReportPath string
	ExceptionsPath   string
	Redact           bool

	// Now fixes the evaluation clock; zero means wall clock.
	Now time.Time
}

// Environment fallbacks for the event flags.
const (
	envEventPath = "GITHUB_EVENT_PATH"
	envEventName = "GITHUB_EVENT_NAME"
)

func argErr(code, message, flag string) error {
	return contracts.NewGovernanceError(code, message).WithDetail("flag", flag)
}

// normalize applies environment fallbacks and validates the option set.
func (o *Options) normalize(env map[string]string) (report.Format, error) {
	if o.EventPath == "" {
		o.EventPath = env[envEventPath]
	}
	if o.EventName == "" {
		o.EventName = env[envEventName]
	}
	if o.EventPath == "" {
		return "", contracts.NewGovernanceError(contracts.ErrEventPathRequired,
			"an event file is required (--event or "+envEventPath+")")
	}
	if o.EventName == "" {
		return "", argErr(contracts.ErrArgRequired,
			"an event name is required (--event-name or "+envEventName+")", "event-name")
	}

	sources := 0
	if o.PolicyPath != "" {
		sources++
	}
	if o.BundlePath != "" {
		sources++
	}
	if o.OrgPolicyPath != "" || o.LocalPolicyPath != "" {
		sources++
	}
	switch {
	case sources == 0:
		return "", argErr(contracts.ErrArgRequired,
			"a policy source is required (--policy, --policy-bundle or --org-policy/--local-policy)", "policy")
	case sources > 1:
		return "", argErr(contracts.ErrArgConflict,
			"policy sources are mutually exclusive", "policy")
	}

	if o.PolicyPath != "" {
		if o.SchemaPath != "" || len(o.PublicKeys) > 0 || o.TrustStorePath != "" {
			return "", argErr(contracts.ErrArgConflict,
				"bundle verification flags require --policy-bundle", "policy-schema")
		}
	}
	if o.BundlePath != "" {
		if o.SchemaPath == "" {
			return "", argErr(contracts.ErrArgRequired,
				"--policy-bundle requires --policy-schema", "policy-schema")
		}
		if len(o.PublicKeys) > 0 && o.TrustStorePath != "" {
			return "", argErr(contracts.ErrArgConflict,
				"--policy-public-key and --policy-trust-store are mutually exclusive", "policy-trust-store")
		}
		if len(o.PublicKeys) == 0 && o.TrustStorePath == "" {
			return "", argErr(contracts.ErrArgRequired,
				"--policy-bundle requires --policy-public-key or --policy-trust-store", "policy-public-key")
		}
	}
	if o.OrgPolicyPath != "" || o.LocalPolicyPath != "" {
		if o.OrgPolicyPath == "" || o.LocalPolicyPath == "" {
			return "", argErr(contracts.ErrArgRequired,
				"--org-policy and --local-policy must be supplied together", "org-policy")
		}
	} else if o.ConstraintsPath != "" {
		return "", argErr(contracts.ErrArgConflict,
			"--override-constraints requires --org-policy/--local-policy", "override-constraints")
	}

	format, err := report.ParseFormat(o.ReportFormat)
	if err != nil {
		return "", err
	}
	return format, nil
}

// parseKeyFlags splits repeatable keyId=path entries.
func parseKeyFlags(entries []string) (map[string]string, error) {
	keys := make(map[string]string, len(entries))
	for _, entry := range entries {
		keyID, path, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(keyID) == "" || strings.TrimSpace(path) == "" {
			return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
				"--policy-public-key expects keyId=path").WithDetail("value", entry)
		}
		keys[strings.TrimSpace(keyID)] = strings.TrimSpace(path)
	}
	return keys, nil
}
