// Package keyless provides the reference implementation of the injected
// SigstoreAdapter. Signing mints an ephemeral ECDSA P-256 key and a
// short-lived certificate binding the identity-token subject; verification
// matches the certificate's issuer extension and identity SAN exactly and
// then checks the ECDSA signature over the payload.
package keyless

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sigstore/sigstore/pkg/signature"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy/bundle"
)

// MediaType tags the opaque signature bundle this adapter emits.
const MediaType = "application/vnd.shadowgate.keyless.v1+json"

// oidFulcioIssuer is the Fulcio certificate extension carrying the OIDC
// issuer of the signing identity.
var oidFulcioIssuer = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 57264, 1, 1}

// defaultIssuer applies when the identity token carries no iss claim.
const defaultIssuer = "https://oauth2.sigstore.dev/auth"

// certTTL bounds the ephemeral signing certificate's lifetime.
const certTTL = 10 * time.Minute

// Adapter implements bundle.SigstoreAdapter.
type Adapter struct {
	clock func() time.Time
}

// New returns an adapter using the wall clock.
func New() *Adapter {
	return &Adapter{clock: time.Now}
}

// NewWithClock returns an adapter with an injected clock (tests).
func NewWithClock(clock func() time.Time) *Adapter {
	return &Adapter{clock: clock}
}

// identityFromToken extracts (identity, issuer) from the unverified claims
// of the OIDC identity token. Trust in the token is the certificate
// authority's concern; the adapter only needs the subject for the SAN.
func identityFromToken(raw string) (string, string, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", "", fmt.Errorf("keyless: identity token is not a JWT: %w", err)
	}
	identity, _ := claims["email"].(string)
	if identity == "" {
		identity, _ = claims["sub"].(string)
	}
	if identity == "" {
		return "", "", fmt.Errorf("keyless: identity token carries neither email nor sub")
	}
	issuer, _ := claims["iss"].(string)
	if issuer == "" {
		issuer = defaultIssuer
	}
	return identity, issuer, nil
}

// Sign implements bundle.SigstoreAdapter. Fails closed without an identity
// token.
func (a *Adapter) Sign(payload []byte, opts bundle.SigstoreSignOptions) (map[string]any, error) {
	if opts.IdentityToken == "" {
		return nil, fmt.Errorf("keyless: identity token required for keyless signing")
	}
	identity, issuer, err := identityFromToken(opts.IdentityToken)
	if err != nil {
		return nil, err
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("keyless: key generation failed: %w", err)
	}

	now := a.clock().UTC()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(now.UnixNano()),
		Subject:      pkix.Name{CommonName: identity},
		NotBefore:    now.Add(-time.Minute),
		NotAfter:     now.Add(certTTL),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtraExtensions: []pkix.Extension{
			{Id: oidFulcioIssuer, Value: []byte(issuer)},
		},
	}
	if u, perr := url.Parse(identity); perr == nil && u.Scheme != "" {
		template.URIs = []*url.URL{u}
	} else {
		template.EmailAddresses = []string{identity}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("keyless: certificate issuance failed: %w", err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	signer, err := signature.LoadECDSASignerVerifier(key, crypto.SHA256)
	if err != nil {
		return nil, fmt.Errorf("keyless: signer load failed: %w", err)
	}
	sig, err := signer.SignMessage(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("keyless: sign failed: %w", err)
	}

	out := map[string]any{
		"mediaType":       MediaType,
		"base64Signature": base64.StdEncoding.EncodeToString(sig),
		"certificate":     string(certPEM),
		"signerIdentity":  identity,
	}
	if opts.FulcioURL != "" {
		out["fulcioURL"] = opts.FulcioURL
	}
	if opts.RekorURL != "" && opts.TlogUpload {
		out["rekorURL"] = opts.RekorURL
	}
	if opts.TSAServerURL != "" {
		out["tsaServerURL"] = opts.TSAServerURL
	}
	return out, nil
}

// Verify implements bundle.SigstoreAdapter with exact-match identity
// constraints.
func (a *Adapter) Verify(sigBundle map[string]any, payload []byte, opts bundle.SigstoreVerifyOptions) error {
	certPEM, _ := sigBundle["certificate"].(string)
	sigB64, _ := sigBundle["base64Signature"].(string)
	if certPEM == "" || sigB64 == "" {
		return fmt.Errorf("keyless: signature bundle is missing certificate or signature")
	}

	block, _ := pem.Decode([]byte(certPEM))
	if block == nil {
		return fmt.Errorf("keyless: certificate is not PEM")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("keyless: certificate parse failed: %w", err)
	}

	issuer := ""
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidFulcioIssuer) {
			issuer = string(ext.Value)
			break
		}
	}
	if issuer != opts.CertificateIssuer {
		return fmt.Errorf("keyless: certificate issuer %q does not match %q", issuer, opts.CertificateIssuer)
	}

	identity := ""
	if len(cert.URIs) > 0 {
		identity = cert.URIs[0].String()
	} else if len(cert.EmailAddresses) > 0 {
		identity = cert.EmailAddresses[0]
	}
	if identity != opts.CertificateIdentityURI {
		return fmt.Errorf("keyless: certificate identity %q does not match %q", identity, opts.CertificateIdentityURI)
	}

	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return fmt.Errorf("keyless: certificate key is not ECDSA")
	}
	verifier, err := signature.LoadECDSAVerifier(pub, crypto.SHA256)
	if err != nil {
		return fmt.Errorf("keyless: verifier load failed: %w", err)
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return fmt.Errorf("keyless: signature is not base64: %w", err)
	}
	if err := verifier.VerifySignature(bytes.NewReader(sig), bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("keyless: signature does not verify: %w", err)
	}
	return nil
}
