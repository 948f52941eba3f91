package gate

import (
	"os"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/canonical"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy/bundle"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy/override"
)

// resolvedPolicy is the effective policy plus the decoded document behind
// it (hashed into the report's evidence) and a display path.
type resolvedPolicy struct {
	Policy *policy.Policy
	Doc    any
	Path   string
}

func readInput(path, what string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
			what+" is not readable").
			WithDetail("path", path).
			WithDetail("cause", err.Error())
	}
	return data, nil
}

// resolvePolicy loads and validates the policy from whichever source group
// the options selected. Bundle sources verify signatures and validate the
// policy against its schema before parsing.
func (g *Runner) resolvePolicy(opts *Options) (*resolvedPolicy, error) {
	switch {
	case opts.PolicyPath != "":
		return resolvePlainPolicy(opts.PolicyPath)
	case opts.BundlePath != "":
		return g.resolveBundlePolicy(opts)
	default:
		return resolveMergedPolicy(opts)
	}
}

func resolvePlainPolicy(path string) (*resolvedPolicy, error) {
	data, err := readInput(path, "policy file")
	if err != nil {
		return nil, err
	}
	doc, err := policy.DecodeDocument(data, path)
	if err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
			"policy file is not valid JSON/YAML").
			WithDetail("path", path).
			WithDetail("cause", err.Error())
	}
	pol, err := policy.Parse(doc)
	if err != nil {
		return nil, err
	}
	return &resolvedPolicy{Policy: pol, Doc: doc, Path: path}, nil
}

func (g *Runner) resolveBundlePolicy(opts *Options) (*resolvedPolicy, error) {
	bundleData, err := readInput(opts.BundlePath, "policy bundle")
	if err != nil {
		return nil, err
	}
	b, err := bundle.Parse(bundleData)
	if err != nil {
		return nil, err
	}

	schemaData, err := readInput(opts.SchemaPath, "policy schema")
	if err != nil {
		return nil, err
	}
	schemaSha := canonical.HashBytes(schemaData)

	if opts.TrustStorePath != "" {
		storeData, err := readInput(opts.TrustStorePath, "trust store")
		if err != nil {
			return nil, err
		}
		store, err := bundle.ParseTrustStore(storeData)
		if err != nil {
			return nil, err
		}
		if _, err := bundle.VerifyWithTrustStore(b, store, schemaSha, g.Sigstore); err != nil {
			return nil, err
		}
	} else {
		keyPaths, err := parseKeyFlags(opts.PublicKeys)
		if err != nil {
			return nil, err
		}
		trustedKeys := make(map[string]string, len(keyPaths))
		for keyID, path := range keyPaths {
			pemData, err := readInput(path, "public key file")
			if err != nil {
				return nil, err
			}
			trustedKeys[keyID] = string(pemData)
		}
		if _, err := bundle.Verify(b, trustedKeys, schemaSha); err != nil {
			return nil, err
		}
	}

	if err := policy.ValidateAgainstSchema(schemaData, opts.SchemaPath, b.Policy); err != nil {
		return nil, err
	}
	pol, err := policy.Parse(b.Policy)
	if err != nil {
		return nil, err
	}
	return &resolvedPolicy{Policy: pol, Doc: b.Policy, Path: opts.BundlePath}, nil
}

func resolveMergedPolicy(opts *Options) (*resolvedPolicy, error) {
	orgData, err := readInput(opts.OrgPolicyPath, "org policy file")
	if err != nil {
		return nil, err
	}
	localData, err := readInput(opts.LocalPolicyPath, "local policy file")
	if err != nil {
		return nil, err
	}

	orgDoc, err := decodeObject(orgData, opts.OrgPolicyPath, "org policy")
	if err != nil {
		return nil, err
	}
	localDoc, err := decodeObject(localData, opts.LocalPolicyPath, "local policy")
	if err != nil {
		return nil, err
	}

	var constraints *override.Constraints
	if opts.ConstraintsPath != "" {
		constraintsData, err := readInput(opts.ConstraintsPath, "override constraints file")
		if err != nil {
			return nil, err
		}
		constraints, err = override.ParseConstraints(constraintsData)
		if err != nil {
			return nil, err
		}
	}

	merged, err := override.MergePoliciesWithConstraints(orgDoc, localDoc, constraints)
	if err != nil {
		return nil, err
	}
	pol, err := policy.Parse(merged)
	if err != nil {
		return nil, err
	}
	return &resolvedPolicy{Policy: pol, Doc: merged, Path: opts.LocalPolicyPath}, nil
}

func decodeObject(data []byte, path, what string) (map[string]any, error) {
	doc, err := policy.DecodeDocument(data, path)
	if err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
			what+" is not valid JSON/YAML").
			WithDetail("path", path).
			WithDetail("cause", err.Error())
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, contracts.NewGovernanceError(contracts.ErrArgInvalid,
			what+" must be a JSON object").WithDetail("path", path)
	}
	return obj, nil
}
