package keyless

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy/bundle"
)

func identityToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

func TestSignAndVerify(t *testing.T) {
	adapter := New()
	token := identityToken(t, jwt.MapClaims{
		"email": "release@example.com",
		"iss":   "https://issuer.example",
	})

	payload := []byte(`{"policySha256":"abc"}`)
	sigBundle, err := adapter.Sign(payload, bundle.SigstoreSignOptions{IdentityToken: token})
	require.NoError(t, err)
	assert.Equal(t, MediaType, sigBundle["mediaType"])
	assert.Equal(t, "release@example.com", sigBundle["signerIdentity"])

	err = adapter.Verify(sigBundle, payload, bundle.SigstoreVerifyOptions{
		CertificateIssuer:      "https://issuer.example",
		CertificateIdentityURI: "release@example.com",
	})
	assert.NoError(t, err)
}

func TestVerifyRejectsIssuerMismatch(t *testing.T) {
	adapter := New()
	token := identityToken(t, jwt.MapClaims{"email": "release@example.com", "iss": "https://issuer.example"})
	payload := []byte("payload")
	sigBundle, err := adapter.Sign(payload, bundle.SigstoreSignOptions{IdentityToken: token})
	require.NoError(t, err)

	err = adapter.Verify(sigBundle, payload, bundle.SigstoreVerifyOptions{
		CertificateIssuer:      "https://other-issuer.example",
		CertificateIdentityURI: "release@example.com",
	})
	assert.Error(t, err)
}

func TestVerifyRejectsIdentityMismatch(t *testing.T) {
	adapter := New()
	token := identityToken(t, jwt.MapClaims{"email": "release@example.com", "iss": "https://issuer.example"})
	payload := []byte("payload")
	sigBundle, err := adapter.Sign(payload, bundle.SigstoreSignOptions{IdentityToken: token})
	require.NoError(t, err)

	err = adapter.Verify(sigBundle, payload, bundle.SigstoreVerifyOptions{
		CertificateIssuer:      "https://issuer.example",
		CertificateIdentityURI: "someone-else@example.com",
	})
	assert.Error(t, err)
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	adapter := New()
	token := identityToken(t, jwt.MapClaims{"email": "release@example.com"})
	sigBundle, err := adapter.Sign([]byte("original"), bundle.SigstoreSignOptions{IdentityToken: token})
	require.NoError(t, err)

	err = adapter.Verify(sigBundle, []byte("tampered"), bundle.SigstoreVerifyOptions{
		CertificateIssuer:      defaultIssuer,
		CertificateIdentityURI: "release@example.com",
	})
	assert.Error(t, err)
}

func TestSignRequiresIdentityToken(t *testing.T) {
	_, err := New().Sign([]byte("p"), bundle.SigstoreSignOptions{})
	assert.Error(t, err)
}

func TestSignURISubject(t *testing.T) {
	adapter := New()
	token := identityToken(t, jwt.MapClaims{
		"sub": "https://github.com/acme/release-workflow",
		"iss": "https://token.actions.githubusercontent.com",
	})
	payload := []byte("p")
	sigBundle, err := adapter.Sign(payload, bundle.SigstoreSignOptions{IdentityToken: token})
	require.NoError(t, err)

	err = adapter.Verify(sigBundle, payload, bundle.SigstoreVerifyOptions{
		CertificateIssuer:      "https://token.actions.githubusercontent.com",
		CertificateIdentityURI: "https://github.com/acme/release-workflow",
	})
	assert.NoError(t, err)
}

func TestVerifyRejectsMalformedBundle(t *testing.T) {
	err := New().Verify(map[string]any{}, []byte("p"), bundle.SigstoreVerifyOptions{})
	assert.Error(t, err)
}
