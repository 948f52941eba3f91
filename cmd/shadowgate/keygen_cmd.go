package main

import (
	"crypto/rand"
	"crypto/rsa"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/VontaJamal/seven-shadow-system-sub000/pkg/policy/bundle"
)

func runKeygenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("keygen", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		bits    int
		outBase string
	)
	cmd.IntVar(&bits, "bits", 3072, "RSA key size in bits")
	cmd.StringVar(&outBase, "out", "", "Output base path; writes <out>.pem and <out>.pub.pem (REQUIRED)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if outBase == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --out is required")
		cmd.Usage()
		return 2
	}
	if bits < 2048 {
		_, _ = fmt.Fprintln(stderr, "Error: --bits must be at least 2048")
		return 2
	}

	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error generating key: %v\n", err)
		return 1
	}

	privPath := outBase + ".pem"
	pubPath := outBase + ".pub.pem"
	if err := os.WriteFile(privPath, bundle.MarshalRSAPrivateKeyPEM(key), 0o600); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error writing private key: %v\n", err)
		return 1
	}
	pubPEM, err := bundle.MarshalRSAPublicKeyPEM(&key.PublicKey)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error writing public key: %v\n", err)
		return 1
	}

	_, _ = fmt.Fprintf(stdout, "Private key: %s\n", privPath)
	_, _ = fmt.Fprintf(stdout, "Public key:  %s\n", pubPath)
	return 0
}
