package policy

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// ValidateAgainstSchema compiles the given JSON schema bytes and validates
// the decoded policy document against it. Violations surface as a single
// E_POLICY_BUNDLE_INVALID error listing the offending instance pointers.
func ValidateAgainstSchema(schemaBytes []byte, schemaPath string, doc any) error {
	compiler := jsonschema.NewCompiler()
	url := schemaPath
	if url == "" {
		url = "policy.schema.json"
	}
	if err := compiler.AddResource(url, bytes.NewReader(schemaBytes)); err != nil {
		return contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"policy schema is not a valid JSON schema").WithDetail("cause", err.Error())
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"policy schema failed to compile").WithDetail("cause", err.Error())
	}

	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			ve = verr
		}
		ge := contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"policy document violates the policy schema")
		if ve != nil {
			ge.WithDetail("violations", flattenPointers(ve))
		} else {
			ge.WithDetail("cause", contracts.TruncateDetail(err.Error()))
		}
		return ge
	}
	return nil
}

// flattenPointers collects the leaf instance locations of a validation
// error tree, sorted and deduplicated.
func flattenPointers(ve *jsonschema.ValidationError) []string {
	set := map[string]bool{}
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			set[fmt.Sprintf("%s: %s", loc, strings.TrimSpace(e.Message))] = true
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)

	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
