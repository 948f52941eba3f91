package bundle

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/contracts"
)

// SigstoreSignOptions parameterize a keyless signing flow.
type SigstoreSignOptions struct {
	FulcioURL     string
	RekorURL      string
	TSAServerURL  string
	TlogUpload    bool
	IdentityToken string
}

// SigstoreVerifyOptions constrain keyless verification to one signer
// identity. Both fields are exact-match.
type SigstoreVerifyOptions struct {
	CertificateIssuer      string
	CertificateIdentityURI string
}

// SigstoreAdapter is the injected keyless signing backend. The returned
// bundle is opaque to the core; Verify returns nil only when the signature
// binds payload to the exact issuer+identity in opts.
type SigstoreAdapter interface {
	Sign(payload []byte, opts SigstoreSignOptions) (map[string]any, error)
	Verify(sigBundle map[string]any, payload []byte, opts SigstoreVerifyOptions) error
}

// SignRSA signs the bundle's signing payload with RSASSA-PKCS1-v1_5 over
// SHA-256 and stores the base64 signature, replacing any existing slot for
// keyID.
func SignRSA(b *Bundle, keyID string, privateKey *rsa.PrivateKey) error {
	payload, err := b.SigningPayload()
	if err != nil {
		return err
	}
	digest := sha256.Sum256([]byte(payload))
	raw, err := rsa.SignPKCS1v15(rand.Reader, privateKey, crypto.SHA256, digest[:])
	if err != nil {
		return fmt.Errorf("bundle: rsa sign failed: %w", err)
	}
	b.upsertSignature(Signature{
		KeyID:     keyID,
		Algorithm: AlgorithmRSASHA256,
		Signature: base64.StdEncoding.EncodeToString(raw),
	})
	return nil
}

// SignKeyless defers to the adapter and stores the opaque bundle under the
// signer id. Fails closed when the adapter returns a malformed bundle.
func SignKeyless(b *Bundle, signerID string, adapter SigstoreAdapter, opts SigstoreSignOptions) error {
	if b.SchemaVersion < 2 {
		return contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"keyless signatures require bundle schemaVersion 2").
			WithDetail("schemaVersion", b.SchemaVersion)
	}
	if adapter == nil {
		return contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"keyless signing requires a sigstore adapter")
	}
	payload, err := b.SigningPayload()
	if err != nil {
		return err
	}
	opaque, err := adapter.Sign([]byte(payload), opts)
	if err != nil {
		return fmt.Errorf("bundle: keyless sign failed: %w", err)
	}
	if len(opaque) == 0 {
		return contracts.NewGovernanceError(contracts.ErrPolicyBundleInvalid,
			"keyless adapter returned a malformed bundle").WithDetail("signerId", signerID)
	}
	b.upsertSignature(Signature{
		SignatureType: SignatureTypeKeyless,
		SignerID:      signerID,
		Bundle:        opaque,
	})
	return nil
}

// verifyRSASignature checks one base64 RSA signature over the payload.
func verifyRSASignature(publicKey *rsa.PublicKey, payload string, sigB64 string) bool {
	raw, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(payload))
	return rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], raw) == nil
}

// ParseRSAPrivateKeyPEM accepts PKCS#1 and PKCS#8 encodings.
func ParseRSAPrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("bundle: no PEM block in private key")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("bundle: unsupported private key encoding: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("bundle: private key is not RSA")
	}
	return key, nil
}

// ParseRSAPublicKeyPEM accepts PKIX and PKCS#1 encodings.
func ParseRSAPublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("bundle: no PEM block in public key")
	}
	if parsed, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if key, ok := parsed.(*rsa.PublicKey); ok {
			return key, nil
		}
		return nil, fmt.Errorf("bundle: public key is not RSA")
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("bundle: unsupported public key encoding: %w", err)
	}
	return key, nil
}

// MarshalRSAPrivateKeyPEM encodes a private key as PKCS#1 PEM.
func MarshalRSAPrivateKeyPEM(key *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
}

// MarshalRSAPublicKeyPEM encodes a public key as PKIX PEM.
func MarshalRSAPublicKeyPEM(key *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("bundle: marshal public key failed: %w", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
