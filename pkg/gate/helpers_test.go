package gate

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy/bundle"
)

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func testRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// stubSigstore signs by recording the payload digest alongside a fixed
// issuer/identity pair; verification demands an exact identity match.
type stubSigstore struct {
	issuer   string
	identity string
}

func (s *stubSigstore) Sign(payload []byte, _ bundle.SigstoreSignOptions) (map[string]any, error) {
	return map[string]any{
		"issuer":        s.issuer,
		"identity":      s.identity,
		"payloadDigest": base64.StdEncoding.EncodeToString(digest(payload)),
	}, nil
}

func (s *stubSigstore) Verify(sigBundle map[string]any, payload []byte, opts bundle.SigstoreVerifyOptions) error {
	issuer, _ := sigBundle["issuer"].(string)
	identity, _ := sigBundle["identity"].(string)
	stored, _ := sigBundle["payloadDigest"].(string)
	if issuer != opts.CertificateIssuer || identity != opts.CertificateIdentityURI {
		return errors.New("certificate identity does not match")
	}
	if stored != base64.StdEncoding.EncodeToString(digest(payload)) {
		return errors.New("payload digest mismatch")
	}
	return nil
}

func digest(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return sum[:]
}
