// Package override merges an organization policy with a local overlay
// under path-scoped constraints. Every differing path must be allowed and
// not forbidden; the merge itself is a deep merge where override leaves
// win, objects recurse, and arrays replace wholesale.
package override

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// RootPath marks a divergence at the document root. Policy files must be
// objects, so root divergences are filtered out of the constraint check.
const RootPath = "<root>"

// Constraints lists the allowed and forbidden override path patterns.
type Constraints struct {
	AllowedOverridePaths   []string `json:"allowedOverridePaths"`
	ForbiddenOverridePaths []string `json:"forbiddenOverridePaths"`
}

// DefaultConstraints permit author lists, scan toggles, runtime limits,
// report knobs, approvals settings and rules; they forbid the identity and
// enforcement surface of the policy.
func DefaultConstraints() *Constraints {
	return &Constraints{
		AllowedOverridePaths: []string{
			"blockedAuthors",
			"allowedAuthors",
			"scan",
			"runtime.maxBodyChars",
			"runtime.maxTargets",
			"runtime.maxEventBytes",
			"report",
			"approvals",
			"rules",
		},
		ForbiddenOverridePaths: []string{
			"version",
			"enforcement",
			"blockBotAuthors",
			"maxAiScore",
			"disclosureTag",
			"disclosureRequiredScore",
			"runtime.failOnUnsupportedEvent",
			"runtime.failOnMalformedPayload",
		},
	}
}

// ParseConstraints decodes a constraints document.
func ParseConstraints(data []byte) (*Constraints, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrOverrideConstraintsInvalid,
			"override constraints must be a JSON object").WithDetail("cause", err.Error())
	}
	var c Constraints
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrOverrideConstraintsInvalid,
			"override constraints must carry string path arrays").WithDetail("cause", err.Error())
	}
	for _, p := range append(append([]string{}, c.AllowedOverridePaths...), c.ForbiddenOverridePaths...) {
		if strings.TrimSpace(p) == "" {
			return nil, contracts.NewGovernanceError(contracts.ErrOverrideConstraintsInvalid,
				"override constraint paths must be non-empty")
		}
	}
	return &c, nil
}

var arrayIndex = regexp.MustCompile(`\[(\d+)\]`)

// NormalizePath rewrites array indices [n] into dot segments .n.
func NormalizePath(path string) string {
	return arrayIndex.ReplaceAllString(path, ".$1")
}

// IsPathMatch reports whether path falls under pattern. A plain pattern
// matches itself and anything nested beneath it; a pattern with a ".*"
// suffix matches its prefix and anything nested beneath the prefix.
func IsPathMatch(pattern, path string) bool {
	pattern = NormalizePath(pattern)
	path = NormalizePath(path)
	if base, ok := strings.CutSuffix(pattern, ".*"); ok {
		return path == base || strings.HasPrefix(path, base+".")
	}
	return path == pattern || strings.HasPrefix(path, pattern+".")
}

// CollectDiffPaths returns the normalized set of paths where org and
// local differ, in document order.
func CollectDiffPaths(org, local any) []string {
	var out []string
	collectDiff(org, local, "", &out)
	return out
}

func collectDiff(org, local any, prefix string, out *[]string) {
	if reflect.DeepEqual(org, local) {
		return
	}

	orgObj, orgIsObj := org.(map[string]any)
	localObj, localIsObj := local.(map[string]any)
	if orgIsObj && localIsObj {
		keys := make([]string, 0, len(orgObj)+len(localObj))
		seen := map[string]bool{}
		for k := range orgObj {
			keys = append(keys, k)
			seen[k] = true
		}
		for k := range localObj {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			childPath := k
			if prefix != "" {
				childPath = prefix + "." + k
			}
			ov, inOrg := orgObj[k]
			lv, inLocal := localObj[k]
			switch {
			case inOrg && inLocal:
				collectDiff(ov, lv, childPath, out)
			default:
				*out = append(*out, childPath)
			}
		}
		return
	}

	orgArr, orgIsArr := org.([]any)
	localArr, localIsArr := local.([]any)
	if orgIsArr && localIsArr {
		n := len(orgArr)
		if len(localArr) > n {
			n = len(localArr)
		}
		for i := 0; i < n; i++ {
			childPath := fmt.Sprintf("%s.%d", prefix, i)
			if prefix == "" {
				childPath = fmt.Sprintf("%d", i)
			}
			switch {
			case i >= len(orgArr) || i >= len(localArr):
				*out = append(*out, childPath)
			default:
				collectDiff(orgArr[i], localArr[i], childPath, out)
			}
		}
		return
	}

	if prefix == "" {
		*out = append(*out, RootPath)
		return
	}
	*out = append(*out, prefix)
}

// MergePoliciesWithConstraints validates that every differing path is an
// allowed override and returns the deep merge of local over org. A nil
// constraints argument applies DefaultConstraints.
func MergePoliciesWithConstraints(org, local map[string]any, constraints *Constraints) (map[string]any, error) {
	if constraints == nil {
		constraints = DefaultConstraints()
	}

	diffs := CollectDiffPaths(org, local)
	violations := map[string]bool{}

	for _, raw := range diffs {
		if raw == RootPath {
			continue
		}
		path := NormalizePath(raw)

		forbidden := false
		for _, pattern := range constraints.ForbiddenOverridePaths {
			if IsPathMatch(pattern, path) {
				forbidden = true
				break
			}
		}
		if forbidden {
			violations[path] = true
			continue
		}

		allowed := false
		for _, pattern := range constraints.AllowedOverridePaths {
			if IsPathMatch(pattern, path) {
				allowed = true
				break
			}
		}
		if !allowed {
			violations[path] = true
		}
	}

	if len(violations) > 0 {
		sorted := make([]string, 0, len(violations))
		for p := range violations {
			sorted = append(sorted, p)
		}
		sort.Strings(sorted)
		return nil, contracts.NewGovernanceError(contracts.ErrPolicyOverrideForbidden,
			"local policy overrides paths outside the allowed set").
			WithDetail("paths", sorted)
	}

	merged, _ := deepMerge(org, local).(map[string]any)
	return merged, nil
}

// deepMerge merges override into base: objects recurse, everything else
// (including arrays) is replaced by the override value.
func deepMerge(base, override any) any {
	baseObj, baseIsObj := base.(map[string]any)
	overrideObj, overrideIsObj := override.(map[string]any)
	if !baseIsObj || !overrideIsObj {
		return override
	}

	out := make(map[string]any, len(baseObj))
	for k, v := range baseObj {
		out[k] = v
	}
	for k, v := range overrideObj {
		if existing, ok := out[k]; ok {
			out[k] = deepMerge(existing, v)
			continue
		}
		out[k] = v
	}
	return out
}
