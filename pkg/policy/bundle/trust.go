package bundle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// Signer types.
const (
	SignerTypeRSA     = "rsa-key"
	SignerTypeKeyless = "sigstore-keyless"
)

// SignerState is the v2 lifecycle state of a trust-store signer.
type SignerState string

// Signer lifecycle states. An empty state means active.
const (
	SignerActive  SignerState = "active"
	SignerRetired SignerState = "retired"
	SignerRevoked SignerState = "revoked"
)

// TrustSigner describes one signer, RSA or keyless, with optional v2
// lifecycle metadata.
type TrustSigner struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// RSA natural key.
	KeyID        string `json:"keyId,omitempty"`
	PublicKeyPem string `json:"publicKeyPem,omitempty"`

	// Keyless natural key.
	CertificateIssuer      string `json:"certificateIssuer,omitempty"`
	CertificateIdentityURI string `json:"certificateIdentityURI,omitempty"`

	// v2 lifecycle.
	State      SignerState `json:"state,omitempty"`
	ValidFrom  string      `json:"validFrom,omitempty"`
	ValidUntil string      `json:"validUntil,omitempty"`
	Replaces   string      `json:"replaces,omitempty"`
	ReplacedBy string      `json:"replacedBy,omitempty"`
}

// EffectiveState defaults an empty state to active.
func (s *TrustSigner) EffectiveState() SignerState {
	if s.State == "" {
		return SignerActive
	}
	return s.State
}

// TrustStore is the versioned signer set (schemaVersion 1 or 2).
// Lifecycle fields are ignored for v1 stores.
type TrustStore struct {
	SchemaVersion int           `json:"schemaVersion"`
	Signers       []TrustSigner `json:"signers"`
}

// ParseTrustStore decodes and validates a trust-store document.
func ParseTrustStore(data []byte) (*TrustStore, error) {
	var store TrustStore
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, contracts.NewGovernanceError(contracts.ErrPolicyTrustStoreInvalid,
			"trust store is not valid JSON").WithDetail("cause", err.Error())
	}
	if err := store.Validate(); err != nil {
		return nil, err
	}
	return &store, nil
}

// Validate enforces the trust-store invariants: unique ids, unique natural
// keys per type, consistent replacement links, ordered validity windows.
func (ts *TrustStore) Validate() error {
	fail := func(msg string, details map[string]any) error {
		ge := contracts.NewGovernanceError(contracts.ErrPolicyTrustStoreInvalid, msg)
		for k, v := range details {
			ge.WithDetail(k, v)
		}
		return ge
	}

	if ts.SchemaVersion != 1 && ts.SchemaVersion != 2 {
		return fail("trust store schemaVersion must be 1 or 2",
			map[string]any{"schemaVersion": ts.SchemaVersion})
	}

	byID := make(map[string]*TrustSigner, len(ts.Signers))
	rsaKeys := map[string]string{}
	keylessKeys := map[string]string{}

	for i := range ts.Signers {
		s := &ts.Signers[i]
		field := fmt.Sprintf("signers.%d", i)

		if s.ID == "" {
			return fail("signer id must be non-empty", map[string]any{"field": field})
		}
		if _, dup := byID[s.ID]; dup {
			return fail("signer ids must be unique", map[string]any{"id": s.ID})
		}
		byID[s.ID] = s

		switch s.Type {
		case SignerTypeRSA:
			if s.KeyID == "" || s.PublicKeyPem == "" {
				return fail("rsa signer must carry keyId and publicKeyPem",
					map[string]any{"id": s.ID})
			}
			if prev, dup := rsaKeys[s.KeyID]; dup {
				return fail("rsa keyId must be unique",
					map[string]any{"keyId": s.KeyID, "ids": []string{prev, s.ID}})
			}
			rsaKeys[s.KeyID] = s.ID
		case SignerTypeKeyless:
			if s.CertificateIssuer == "" || s.CertificateIdentityURI == "" {
				return fail("keyless signer must carry certificateIssuer and certificateIdentityURI",
					map[string]any{"id": s.ID})
			}
			natural := s.CertificateIssuer + "|" + s.CertificateIdentityURI
			if prev, dup := keylessKeys[natural]; dup {
				return fail("keyless (issuer, identityURI) must be unique",
					map[string]any{"issuer": s.CertificateIssuer, "identityURI": s.CertificateIdentityURI, "ids": []string{prev, s.ID}})
			}
			keylessKeys[natural] = s.ID
		default:
			return fail("signer type must be rsa-key or sigstore-keyless",
				map[string]any{"id": s.ID, "type": s.Type})
		}

		if ts.SchemaVersion >= 2 {
			switch s.EffectiveState() {
			case SignerActive, SignerRetired, SignerRevoked:
			default:
				return fail("signer state must be active, retired or revoked",
					map[string]any{"id": s.ID, "state": s.State})
			}
			var from, until time.Time
			var err error
			if s.ValidFrom != "" {
				if from, err = time.Parse(time.RFC3339, s.ValidFrom); err != nil {
					return fail("signer validFrom must be ISO-8601", map[string]any{"id": s.ID})
				}
			}
			if s.ValidUntil != "" {
				if until, err = time.Parse(time.RFC3339, s.ValidUntil); err != nil {
					return fail("signer validUntil must be ISO-8601", map[string]any{"id": s.ID})
				}
			}
			if s.ValidFrom != "" && s.ValidUntil != "" && until.Before(from) {
				return fail("signer validUntil must not precede validFrom",
					map[string]any{"id": s.ID, "validFrom": s.ValidFrom, "validUntil": s.ValidUntil})
			}
		}
	}

	if ts.SchemaVersion >= 2 {
		for i := range ts.Signers {
			s := &ts.Signers[i]
			for _, link := range []struct{ field, id string }{
				{"replaces", s.Replaces},
				{"replacedBy", s.ReplacedBy},
			} {
				if link.id == "" {
					continue
				}
				other, ok := byID[link.id]
				if !ok {
					return fail("signer "+link.field+" must point to an existing signer",
						map[string]any{"id": s.ID, link.field: link.id})
				}
				if other.Type != s.Type {
					return fail("signer "+link.field+" must point to a signer of the same type",
						map[string]any{"id": s.ID, link.field: link.id})
				}
			}
		}
	}
	return nil
}

// findRSASigner resolves an RSA signer by its natural key.
func (ts *TrustStore) findRSASigner(keyID string) *TrustSigner {
	for i := range ts.Signers {
		if ts.Signers[i].Type == SignerTypeRSA && ts.Signers[i].KeyID == keyID {
			return &ts.Signers[i]
		}
	}
	return nil
}

// keylessSigners returns all keyless signers in store order.
func (ts *TrustStore) keylessSigners() []*TrustSigner {
	var out []*TrustSigner
	for i := range ts.Signers {
		if ts.Signers[i].Type == SignerTypeKeyless {
			out = append(out, &ts.Signers[i])
		}
	}
	return out
}
