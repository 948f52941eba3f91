package contracts

import "fmt"

// Stable governance error codes. These indicate the invocation itself is
// invalid; the driver surfaces them without writing a report.
const (
	ErrArgRequired                  = "E_ARG_REQUIRED"
	ErrArgInvalid                   = "E_ARG_INVALID"
	ErrArgConflict                  = "E_ARG_CONFLICT"
	ErrArgUnknown                   = "E_ARG_UNKNOWN"
	ErrEventPathRequired            = "E_EVENT_PATH_REQUIRED"
	ErrPolicyBundleInvalid          = "E_POLICY_BUNDLE_INVALID"
	ErrPolicyBundlePolicyHash       = "E_POLICY_BUNDLE_POLICY_HASH_MISMATCH"
	ErrPolicyBundleSchemaHash       = "E_POLICY_BUNDLE_SCHEMA_HASH_MISMATCH"
	ErrPolicyBundleSignatures       = "E_POLICY_BUNDLE_SIGNATURES_INVALID"
	ErrPolicyTrustStoreInvalid      = "E_POLICY_TRUST_STORE_INVALID"
	ErrPolicyTrustSignerRevoked     = "E_POLICY_TRUST_SIGNER_REVOKED"
	ErrPolicyTrustSignerOutsideWin  = "E_POLICY_TRUST_SIGNER_OUTSIDE_VALIDITY"
	ErrPolicyOverrideForbidden      = "E_POLICY_OVERRIDE_FORBIDDEN"
	ErrOverrideConstraintsInvalid   = "E_OVERRIDE_CONSTRAINTS_INVALID"
	ErrUnsafeRuleRegex              = "E_UNSAFE_RULE_REGEX"
	ErrInvalidRuleRegex             = "E_INVALID_RULE_REGEX"
)

// GovernanceError is a fatal, coded configuration/integrity error.
// The code is stable wire contract; Details carries the failing fields.
type GovernanceError struct {
	Code    string
	Message string
	Details map[string]any
}

// Error implements error.
func (e *GovernanceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewGovernanceError builds a coded error.
func NewGovernanceError(code, message string) *GovernanceError {
	return &GovernanceError{Code: code, Message: message}
}

// WithDetail attaches a detail field and returns the error for chaining.
func (e *GovernanceError) WithDetail(key string, value any) *GovernanceError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// MaxDetailChars bounds free-text detail fields (HTTP bodies and the like).
const MaxDetailChars = 220

// TruncateDetail clips free-text to MaxDetailChars.
func TruncateDetail(s string) string {
	if len(s) <= MaxDetailChars {
		return s
	}
	return s[:MaxDetailChars]
}
