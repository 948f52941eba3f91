// Package bundle implements the signed policy envelope: construction,
// RSA and keyless signing, direct verification against trusted keys, and
// verification against a versioned trust store with signer lifecycle.
//
// The signing payload covers the envelope fields only; the policy content
// is bound through its canonical digest (policySha256).
package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/canonical"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// SignatureTypeKeyless tags the v2 keyless signature shape.
const SignatureTypeKeyless = "sigstore-keyless"

// AlgorithmRSASHA256 is the only supported RSA signature algorithm.
const AlgorithmRSASHA256 = "rsa-sha256"

// Signature is one detached signature slot. Exactly one of the two shapes
// is populated: RSA (keyId/algorithm/signature) or keyless
// (signatureType/signerId/bundle).
type Signature struct {
	// RSA shape.
	KeyID     string `json:"keyId,omitempty"`
	Algorithm string `json:"algorithm,omitempty"`
	Signature string `json:"signature,omitempty"`

	// Keyless shape (schemaVersion >= 2).
	SignatureType string         `json:"signatureType,omitempty"`
	SignerID      string         `json:"signerId,omitempty"`
	Bundle        map[string]any `json:"bundle,omitempty"`
}

// IsKeyless reports whether this slot holds a keyless signature.
func (s Signature) IsKeyless() bool { return s.SignatureType == SignatureTypeKeyless }

// SlotID returns the identifier a signer occupies: keyId for RSA,
// signerId for keyless.
func (s Signature) SlotID() string {
	if s.IsKeyless() {
		return s.SignerID
	}
	return s.KeyID
}

// Bundle is the signed policy envelope (schemaVersion 1 or 2).
type Bundle struct {
	SchemaVersion      int         `json:"schemaVersion"`
	CreatedAt          string      `json:"createdAt"`
	PolicySchemaPath   string      `json:"policySchemaPath"`
	PolicySchemaSha256 string      `json:"policySchemaSha256"`
	PolicySha256       string      `json:"policySha256"`
	RequiredSignatures int         `json:"requiredSignatures"`
	Policy             any         `json:"policy"`
	Signatures         []Signature `json:"signatures"`
}

var hexDigest = regexp.MustCompile(`^[0-9a-f]{64}$`)

// BuildTemplate computes the policy digest and returns an unsigned bundle.
// An empty createdAt defaults to the current UTC time.
func BuildTemplate(policy any, schemaPath, schemaSha string, requiredSigs int, createdAt string) (*Bundle, error) {
	if requiredSigs < 1 {
		return nil, contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"requiredSignatures must be >= 1").WithDetail("requiredSignatures", requiredSigs)
	}
	if !hexDigest.MatchString(schemaSha) {
		return nil, contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"policySchemaSha256 must be 64 lowercase hex characters").WithDetail("policySchemaSha256", schemaSha)
	}
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	} else if _, err := time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"createdAt must be ISO-8601").WithDetail("createdAt", createdAt)
	}

	digest, err := canonical.HashJSON(policy)
	if err != nil {
		return nil, fmt.Errorf("bundle: policy hash failed: %w", err)
	}

	return &Bundle{
		SchemaVersion:      1,
		CreatedAt:          createdAt,
		PolicySchemaPath:   schemaPath,
		PolicySchemaSha256: schemaSha,
		PolicySha256:       digest,
		RequiredSignatures: requiredSigs,
		Signatures:         []Signature{},
		Policy:             policy,
	}, nil
}

// SigningPayload is the canonical stringification of the envelope fields.
// Policy content participates only through policySha256.
func (b *Bundle) SigningPayload() (string, error) {
	return canonical.Stringify(map[string]any{
		"schemaVersion":      b.SchemaVersion,
		"createdAt":          b.CreatedAt,
		"policySchemaPath":   b.PolicySchemaPath,
		"policySchemaSha256": b.PolicySchemaSha256,
		"policySha256":       b.PolicySha256,
		"requiredSignatures": b.RequiredSignatures,
	})
}

// Parse decodes and shape-checks a bundle document.
func Parse(data []byte) (*Bundle, error) {
	var b Bundle
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	// Decode in two passes: once generically for the policy subtree (to keep
	// json.Number semantics for hashing), once typed for the envelope.
	var generic map[string]any
	if err := dec.Decode(&generic); err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"bundle is not valid JSON").WithDetail("cause", err.Error())
	}
	envelope, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("bundle: re-encode failed: %w", err)
	}
	if err := json.Unmarshal(envelope, &b); err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"bundle does not match the envelope shape").WithDetail("cause", err.Error())
	}
	b.Policy = generic["policy"]

	if err := b.validateShape(); err != nil {
		return nil, err
	}
	return &b, nil
}

func (b *Bundle) validateShape() error {
	fail := func(field, msg string) error {
		return contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid, msg).
			WithDetail("field", field)
	}
	if b.SchemaVersion != 1 && b.SchemaVersion != 2 {
		return fail("schemaVersion", "bundle schemaVersion must be 1 or 2")
	}
	if _, err := time.Parse(time.RFC3339, b.CreatedAt); err != nil {
		return fail("createdAt", "bundle createdAt must be ISO-8601")
	}
	if !hexDigest.MatchString(b.PolicySchemaSha256) {
		return fail("policySchemaSha256", "policySchemaSha256 must be 64 lowercase hex characters")
	}
	if !hexDigest.MatchString(b.PolicySha256) {
		return fail("policySha256", "policySha256 must be 64 lowercase hex characters")
	}
	if b.RequiredSignatures < 1 {
		return fail("requiredSignatures", "requiredSignatures must be >= 1")
	}
	if b.Policy == nil {
		return fail("policy", "bundle policy must be present")
	}
	for i, sig := range b.Signatures {
		field := fmt.Sprintf("signatures.%d", i)
		if sig.IsKeyless() {
			if b.SchemaVersion < 2 {
				return fail(field, "keyless signatures require bundle schemaVersion 2")
			}
			if sig.SignerID == "" {
				return fail(field+".signerId", "keyless signature must carry signerId")
			}
			if sig.Bundle == nil {
				return fail(field+".bundle", "keyless signature must carry a bundle object")
			}
			continue
		}
		if sig.KeyID == "" {
			return fail(field+".keyId", "signature must carry keyId")
		}
		if sig.Algorithm != AlgorithmRSASHA256 {
			return fail(field+".algorithm", "signature algorithm must be "+AlgorithmRSASHA256)
		}
		if sig.Signature == "" {
			return fail(field+".signature", "signature value must be non-empty")
		}
	}
	return nil
}

// upsertSignature replaces any existing slot with the same slot id so a
// signer can only occupy one slot.
func (b *Bundle) upsertSignature(sig Signature) {
	for i := range b.Signatures {
		if b.Signatures[i].SlotID() == sig.SlotID() && b.Signatures[i].IsKeyless() == sig.IsKeyless() {
			b.Signatures[i] = sig
			return
		}
	}
	b.Signatures = append(b.Signatures, sig)
}
