package bundle

import (
	"sort"
	"time"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/canonical"
	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// VerifyResult reports which distinct signers verified successfully.
type VerifyResult struct {
	ValidSignatures []string `json:"validSignatures"`
}

// checkDigests recomputes the policy hash and compares the schema digest.
func checkDigests(b *Bundle, expectedSchemaSha string) error {
	recomputed, err := canonical.HashJSON(b.Policy)
	if err != nil {
		return contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"bundle policy cannot be canonically hashed").WithDetail("cause", err.Error())
	}
	if recomputed != b.PolicySha256 {
		return contracts.NewGovernanceError(contracts.ErrPolicyBundlePolicyHash,
			"bundle policySha256 does not match the policy content").
			WithDetail("expected", b.PolicySha256).
			WithDetail("actual", recomputed)
	}
	if b.PolicySchemaSha256 != expectedSchemaSha {
		return contracts.NewGovernanceError(contracts.ErrPolicyBundleSchemaHash,
			"bundle policySchemaSha256 does not match the expected schema digest").
			WithDetail("expected", expectedSchemaSha).
			WithDetail("actual", b.PolicySchemaSha256)
	}
	return nil
}

func quorum(valid map[string]bool, required int) (*VerifyResult, error) {
	ids := make([]string, 0, len(valid))
	for id := range valid {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) < required {
		return nil, contracts.NewGovernanceError(contracts.ErrPolicyBundleSignatures,
			"bundle does not carry enough valid signatures").
			WithDetail("required", required).
			WithDetail("valid", ids)
	}
	return &VerifyResult{ValidSignatures: ids}, nil
}

// Verify checks the bundle directly against a keyId -> RSA public key PEM
// map. Signatures whose keyId is not in trustedKeys are ignored; the
// distinct valid keyIds must reach requiredSignatures.
func Verify(b *Bundle, trustedKeys map[string]string, expectedSchemaSha string) (*VerifyResult, error) {
	if err := checkDigests(b, expectedSchemaSha); err != nil {
		return nil, err
	}

	payload, err := b.SigningPayload()
	if err != nil {
		return nil, err
	}

	valid := map[string]bool{}
	for _, sig := range b.Signatures {
		if sig.IsKeyless() {
			continue // direct verification handles RSA keys only
		}
		pemData, ok := trustedKeys[sig.KeyID]
		if !ok {
			continue
		}
		pub, err := ParseRSAPublicKeyPEM([]byte(pemData))
		if err != nil {
			return nil, contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
				"trusted public key is not a valid RSA PEM").WithDetail("keyId", sig.KeyID)
		}
		if verifyRSASignature(pub, payload, sig.Signature) {
			valid[sig.KeyID] = true
		}
	}
	return quorum(valid, b.RequiredSignatures)
}

// VerifyWithTrustStore resolves each signature to a trust-store signer by
// natural key and verifies it subject to the signer's lifecycle.
//
// Unresolvable signatures are ignored. A resolved revoked signer rejects
// the bundle fatally even when other valid signatures exist. A resolved
// signer whose validity window excludes the bundle's createdAt rejects
// fatally as well.
func VerifyWithTrustStore(b *Bundle, store *TrustStore, expectedSchemaSha string, adapter SigstoreAdapter) (*VerifyResult, error) {
	if err := checkDigests(b, expectedSchemaSha); err != nil {
		return nil, err
	}
	payload, err := b.SigningPayload()
	if err != nil {
		return nil, err
	}

	createdAt, err := time.Parse(time.RFC3339, b.CreatedAt)
	if err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"bundle createdAt must be ISO-8601").WithDetail("createdAt", b.CreatedAt)
	}

	lifecycleChecked := store.SchemaVersion >= 2

	checkLifecycle := func(s *TrustSigner) error {
		if !lifecycleChecked {
			return nil
		}
		if s.EffectiveState() == SignerRevoked {
			return contracts.NewGovernanceError(contracts.ErrPolicyTrustSignerRevoked,
				"bundle is signed by a revoked signer").WithDetail("signerId", s.ID)
		}
		if s.ValidFrom != "" {
			if from, err := time.Parse(time.RFC3339, s.ValidFrom); err == nil && createdAt.Before(from) {
				return contracts.NewGovernanceError(contracts.ErrPolicyTrustSignerOutsideWin,
					"bundle createdAt precedes the signer's validity window").
					WithDetail("signerId", s.ID).WithDetail("validFrom", s.ValidFrom)
			}
		}
		if s.ValidUntil != "" {
			if until, err := time.Parse(time.RFC3339, s.ValidUntil); err == nil && createdAt.After(until) {
				return contracts.NewGovernanceError(contracts.ErrPolicyTrustSignerOutsideWin,
					"bundle createdAt falls after the signer's validity window").
					WithDetail("signerId", s.ID).WithDetail("validUntil", s.ValidUntil)
			}
		}
		return nil
	}

	valid := map[string]bool{}
	for _, sig := range b.Signatures {
		if sig.IsKeyless() {
			// The opaque bundle stays opaque: resolution tries each keyless
			// signer's (issuer, identityURI) constraint through the adapter.
			if adapter == nil {
				continue
			}
			for _, signer := range store.keylessSigners() {
				verr := adapter.Verify(sig.Bundle, []byte(payload), SigstoreVerifyOptions{
					CertificateIssuer:      signer.CertificateIssuer,
					CertificateIdentityURI: signer.CertificateIdentityURI,
				})
				if verr != nil {
					continue
				}
				if err := checkLifecycle(signer); err != nil {
					return nil, err
				}
				valid[signer.ID] = true
				break
			}
			continue
		}

		signer := store.findRSASigner(sig.KeyID)
		if signer == nil {
			continue
		}
		if err := checkLifecycle(signer); err != nil {
			return nil, err
		}
		pub, perr := ParseRSAPublicKeyPEM([]byte(signer.PublicKeyPem))
		if perr != nil {
			return nil, contracts.NewGovernanceError(contracts.ErrPolicyTrustStoreInvalid,
				"trust-store signer carries an invalid RSA PEM").WithDetail("signerId", signer.ID)
		}
		if verifyRSASignature(pub, payload, sig.Signature) {
			valid[signer.ID] = true
		}
	}
	return quorum(valid, b.RequiredSignatures)
}
